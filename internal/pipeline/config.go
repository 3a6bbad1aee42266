package pipeline

import (
	"context"

	"github.com/sells-group/query-router/internal/classify"
	"github.com/sells-group/query-router/internal/config"
	"github.com/sells-group/query-router/internal/reqlog"
	"github.com/sells-group/query-router/internal/retrieve"
	"github.com/sells-group/query-router/internal/search"
	"github.com/sells-group/query-router/internal/synth"
)

// NewFromConfig wires every component from configuration. Clients are built
// once here and shared by all requests.
func NewFromConfig(ctx context.Context, cfg *config.Config, opts ...Option) (*Pipeline, error) {
	c, err := classify.NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	s, err := search.NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	r, err := retrieve.NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	sink, err := reqlog.NewFromConfig(ctx, cfg.ReqLog)
	if err != nil {
		return nil, err
	}

	base := []Option{
		WithSink(sink),
		WithLimits(cfg.Search.MaxResults, cfg.Retrieve.TopK),
	}
	return New(c, s, r, synth.NewFromConfig(cfg), append(base, opts...)...), nil
}
