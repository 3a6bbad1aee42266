package main

import (
	"context"

	"github.com/sells-group/query-router/internal/model"
	"github.com/sells-group/query-router/internal/pipeline"
)

// initPipeline builds the pipeline from the loaded config. Callers should
// defer Close.
func initPipeline(ctx context.Context, opts ...pipeline.Option) (*pipeline.Pipeline, error) {
	return pipeline.NewFromConfig(ctx, cfg, opts...)
}

// fileRefs turns --file arguments into references. declared, when set,
// applies to every file.
func fileRefs(paths []string, declared string) []model.FileRef {
	refs := make([]model.FileRef, 0, len(paths))
	for _, p := range paths {
		refs = append(refs, model.FileRef{Path: p, DeclaredType: declared})
	}
	return refs
}
