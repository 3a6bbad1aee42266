package extract

import (
	"context"
	"strings"

	"github.com/sells-group/query-router/internal/ocr"
)

// Image recognizes text in pictures through OCR.
type Image struct {
	OCR ocr.Extractor
}

// Extract implements FormatExtractor.
func (i *Image) Extract(ctx context.Context, path string) (*Document, error) {
	if i.OCR == nil {
		return nil, ErrNoOCR
	}
	text, err := i.OCR.ExtractText(ctx, path)
	if err != nil {
		return nil, err
	}
	doc := &Document{Method: "ocr"}
	if strings.TrimSpace(text) != "" {
		doc.Units = []Unit{{Text: text}}
	}
	return doc, nil
}
