package retrieve

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/query-router/internal/config"
	"github.com/sells-group/query-router/internal/extract"
	"github.com/sells-group/query-router/internal/ocr"
	"github.com/sells-group/query-router/internal/resilience"
)

// Embedder names accepted in retrieve.embedder.
const (
	EmbedderHash   = "hash"
	EmbedderOpenAI = "openai"
)

// NewEmbedder builds the configured embedder. A remote embedder is wrapped in
// an LRU cache when retrieve.embed_cache_size is positive; the hash embedder is
// deterministic and cheaper to recompute than to look up, so it never is.
func NewEmbedder(cfg *config.Config) (Embedder, error) {
	var e Embedder
	switch cfg.Retrieve.Embedder {
	case EmbedderHash, "":
		e = NewHashEmbedder(cfg.Retrieve.EmbedDimension)
	case EmbedderOpenAI:
		if cfg.OpenAI.Key == "" {
			return nil, eris.New("retrieve: openai embedder requires openai.key")
		}
		e = NewOpenAIEmbedder(cfg.OpenAI.Key, cfg.OpenAI.BaseURL, cfg.OpenAI.EmbeddingModel, cfg.Retrieve.EmbedDimension)
	default:
		return nil, eris.Errorf("retrieve: unknown embedder %q", cfg.Retrieve.Embedder)
	}

	if _, local := e.(*HashEmbedder); !local && cfg.Retrieve.EmbedCacheSize > 0 {
		cached, err := NewCachedEmbedder(e, cfg.Retrieve.EmbedCacheSize)
		if err != nil {
			return nil, err
		}
		return cached, nil
	}
	return e, nil
}

// NewExtractor builds the file extractor with the configured OCR provider.
func NewExtractor(cfg *config.Config) (*extract.Extractor, error) {
	o, err := ocr.NewExtractor(cfg.OCR)
	if err != nil {
		return nil, err
	}
	return extract.New(cfg.Retrieve.FileSizeCeiling,
		extract.WithOCR(o),
		extract.WithTextLayer(ocr.NewPdfToText(cfg.OCR.PdfToTextPath)),
	), nil
}

// NewFromConfig wires a Handler from configuration.
func NewFromConfig(cfg *config.Config) (*Handler, error) {
	ex, err := NewExtractor(cfg)
	if err != nil {
		return nil, err
	}
	chunker, err := NewChunker(cfg.Retrieve.ChunkSize, cfg.Retrieve.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	emb, err := NewEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	return NewHandler(ex, chunker, emb,
		WithPolicy(resilience.FromConfig(cfg)),
		WithMaxConcurrent(cfg.Retrieve.MaxConcurrent),
	), nil
}
