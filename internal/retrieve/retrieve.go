// Package retrieve answers questions from attached files: it extracts,
// chunks, embeds and indexes them for one request, then returns the chunks
// most similar to the query.
package retrieve

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/query-router/internal/extract"
	"github.com/sells-group/query-router/internal/model"
	"github.com/sells-group/query-router/internal/resilience"
)

// Stage is a step of the retrieval state machine.
type Stage string

// Retrieval stages. A run ends in RESULTS or EMPTY.
const (
	StageExtract Stage = "EXTRACT"
	StageChunk   Stage = "CHUNK"
	StageEmbed   Stage = "EMBED"
	StageIndex   Stage = "INDEX"
	StageQuery   Stage = "QUERY"
	StageResults Stage = "RESULTS"
	StageEmpty   Stage = "EMPTY"
)

// DefaultTopK is used when a caller passes a non-positive k.
const DefaultTopK = 3

// Result is the handler's output. Degraded is set when every file failed
// or embedding was unavailable.
type Result struct {
	Records  []model.EvidenceRecord `json:"records"`
	Reports  []model.FileReport     `json:"reports"`
	Stages   []Stage                `json:"stages"`
	Degraded bool                   `json:"degraded"`
}

// Outcome returns the terminal stage.
func (r Result) Outcome() Stage {
	if len(r.Stages) == 0 {
		return StageEmpty
	}
	return r.Stages[len(r.Stages)-1]
}

// FileExtractor reads one attachment.
type FileExtractor interface {
	Extract(ctx context.Context, ref model.FileRef) (*extract.Document, error)
}

// Handler runs retrieval over a request's attachments.
type Handler struct {
	extractor     FileExtractor
	chunker       *Chunker
	embedder      Embedder
	policy        resilience.Policy
	maxConcurrent int
	now           func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithPolicy sets the timeout and retry policy for extraction and embedding calls.
func WithPolicy(p resilience.Policy) Option {
	return func(h *Handler) { h.policy = p }
}

// WithMaxConcurrent bounds how many files are extracted at once.
func WithMaxConcurrent(n int) Option {
	return func(h *Handler) { h.maxConcurrent = n }
}

// NewHandler creates a retrieval handler.
func NewHandler(extractor FileExtractor, chunker *Chunker, embedder Embedder, opts ...Option) *Handler {
	h := &Handler{
		extractor:     extractor,
		chunker:       chunker,
		embedder:      embedder,
		policy:        resilience.DefaultPolicy(30 * time.Second),
		maxConcurrent: 4,
		now:           time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Analyze never fails: rejected or broken files are reported per file and
// the rest of the batch continues. Zero chunks ends in EMPTY without
// embedding anything.
func (h *Handler) Analyze(ctx context.Context, files []model.FileRef, query string, topK int) Result {
	if topK <= 0 {
		topK = DefaultTopK
	}
	res := Result{Stages: []Stage{StageExtract}}

	docs, reports := h.extractAll(ctx, files)
	res.Reports = reports

	succeeded := 0
	for _, r := range reports {
		if r.Success {
			succeeded++
		}
	}
	if len(files) > 0 && succeeded == 0 {
		res.Degraded = true
	}

	res.Stages = append(res.Stages, StageChunk)
	var chunks []Chunk
	for i, doc := range docs {
		if doc == nil {
			continue
		}
		cs, err := h.chunker.Split(doc)
		if err != nil {
			res.Reports[i].Success = false
			res.Reports[i].Error = err.Error()
			continue
		}
		for j := range cs {
			cs[j].Seq = len(chunks) + j
		}
		res.Reports[i].Chunks = len(cs)
		chunks = append(chunks, cs...)
	}

	if len(chunks) == 0 {
		res.Stages = append(res.Stages, StageEmpty)
		zap.L().Info("retrieve: no chunks extracted",
			zap.Int("files", len(files)),
			zap.Int("succeeded", succeeded),
		)
		return res
	}

	res.Stages = append(res.Stages, StageEmbed)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := resilience.DoVal(ctx, h.embedPolicy("embed_documents"), func(ctx context.Context) ([][]float32, error) {
		return h.embedder.EmbedDocuments(ctx, texts)
	})
	if err != nil {
		return h.fail(res, "embedding failed", err)
	}

	res.Stages = append(res.Stages, StageIndex)
	index, err := NewIndex(chunks, vectors)
	if err != nil {
		return h.fail(res, "index build failed", err)
	}

	res.Stages = append(res.Stages, StageQuery)
	qvec, err := resilience.DoVal(ctx, h.embedPolicy("embed_query"), func(ctx context.Context) ([]float32, error) {
		return h.embedder.EmbedQuery(ctx, query)
	})
	if err != nil {
		return h.fail(res, "query embedding failed", err)
	}

	matches := index.Query(qvec, topK)
	retrievedAt := h.now()
	for _, m := range matches {
		res.Records = append(res.Records, model.EvidenceRecord{
			Origin:  model.OriginRetrieve,
			Title:   m.Chunk.File,
			Content: m.Chunk.Text,
			Provenance: model.Provenance{
				File:       m.Chunk.File,
				Page:       m.Chunk.Page,
				Row:        m.Chunk.Row,
				ChunkIndex: m.Chunk.Index,
			},
			Score:       m.Score,
			RetrievedAt: retrievedAt,
		})
	}

	if len(res.Records) == 0 {
		res.Stages = append(res.Stages, StageEmpty)
	} else {
		res.Stages = append(res.Stages, StageResults)
	}
	zap.L().Debug("retrieve: query complete",
		zap.Int("chunks", index.Len()),
		zap.Int("matches", len(res.Records)),
	)
	return res
}

// extractAll extracts files concurrently; results keep input order.
func (h *Handler) extractAll(ctx context.Context, files []model.FileRef) ([]*extract.Document, []model.FileReport) {
	docs := make([]*extract.Document, len(files))
	reports := make([]model.FileReport, len(files))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	if h.maxConcurrent > 0 {
		g.SetLimit(h.maxConcurrent)
	}
	for i, f := range files {
		g.Go(func() error {
			doc, err := resilience.WithTimeout(gctx, h.policy.AttemptTimeout, func(ctx context.Context) (*extract.Document, error) {
				return h.extractor.Extract(ctx, f)
			})

			report := model.FileReport{Name: f.DisplayName()}
			if err != nil {
				report.Error = err.Error()
				zap.L().Warn("retrieve: file rejected",
					zap.String("file", report.Name),
					zap.Error(err),
				)
			} else {
				report.Success = true
				report.Format = string(doc.Format)
				report.Units = len(doc.Units)
			}

			mu.Lock()
			docs[i] = doc
			reports[i] = report
			mu.Unlock()
			// Per-file failures never cancel siblings.
			return nil
		})
	}
	_ = g.Wait()
	return docs, reports
}

func (h *Handler) embedPolicy(op string) resilience.Policy {
	p := h.policy
	p.OnRetry = resilience.RetryLogger("embedder", op)
	return p
}

func (h *Handler) fail(res Result, msg string, err error) Result {
	zap.L().Warn("retrieve: "+msg, zap.Error(err))
	res.Degraded = true
	res.Records = nil
	res.Stages = append(res.Stages, StageEmpty)
	return res
}
