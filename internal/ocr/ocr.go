// Package ocr turns scanned documents and images into text.
package ocr

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/query-router/internal/config"
)

// Extractor recognizes text in images and PDFs.
type Extractor interface {
	// ExtractText returns all text in the file.
	ExtractText(ctx context.Context, path string) (string, error)
	// ExtractPages returns one string per PDF page, in page order.
	ExtractPages(ctx context.Context, path string) ([]string, error)
}

// Provider names accepted in ocr.provider.
const (
	ProviderLocal   = "local"
	ProviderMistral = "mistral"
	ProviderNone    = "none"
)

// NewExtractor creates an OCR Extractor based on config. Provider "none"
// returns a nil Extractor and no error.
func NewExtractor(cfg config.OCRConfig) (Extractor, error) {
	switch cfg.Provider {
	case ProviderLocal, "":
		return NewTesseract(cfg.TesseractPath, rasterizerFor(cfg.PdfToTextPath)), nil
	case ProviderMistral:
		if cfg.MistralKey == "" {
			return nil, eris.New("ocr: mistral provider requires mistral_api_key")
		}
		return NewMistralOCR(cfg.MistralKey, cfg.MistralModel), nil
	case ProviderNone:
		return nil, nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
}
