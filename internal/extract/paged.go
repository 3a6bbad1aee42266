package extract

import (
	"context"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/query-router/internal/ocr"
)

// Paged extracts PDFs page by page. The native parser runs first; TextLayer
// covers files it cannot open; OCR covers documents with no text layer.
type Paged struct {
	OCR       ocr.Extractor
	TextLayer *ocr.PdfToText
}

// Extract implements FormatExtractor.
func (p *Paged) Extract(ctx context.Context, path string) (*Document, error) {
	method := "pdf_text"
	pages, err := readPDFPages(ctx, path)
	if err != nil {
		if p.TextLayer == nil {
			return nil, err
		}
		zap.L().Debug("extract: native pdf parse failed, trying pdftotext", zap.Error(err))
		pages, err = p.TextLayer.ExtractPages(ctx, path)
		if err != nil {
			return nil, err
		}
		method = "pdftotext"
	}

	if !anyText(pages) && p.OCR != nil {
		zap.L().Info("extract: pdf has no text layer, running OCR", zap.Int("pages", len(pages)))
		pages, err = p.OCR.ExtractPages(ctx, path)
		if err != nil {
			return nil, eris.Wrap(err, "ocr fallback")
		}
		method = "ocr"
	}

	doc := &Document{Method: method}
	for i, text := range pages {
		if strings.TrimSpace(text) == "" {
			continue
		}
		doc.Units = append(doc.Units, Unit{Text: text, Page: i + 1})
	}
	return doc, nil
}

func readPDFPages(ctx context.Context, path string) (pages []string, err error) {
	// The parser panics on some malformed input.
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = eris.Errorf("parse pdf: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "open pdf")
	}
	defer f.Close() //nolint:errcheck

	n := r.NumPage()
	fonts := make(map[string]*pdf.Font)
	pages = make([]string, 0, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "read pdf")
		}
		page := r.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		for _, name := range page.Fonts() {
			if _, ok := fonts[name]; !ok {
				font := page.Font(name)
				fonts[name] = &font
			}
		}
		text, err := page.GetPlainText(fonts)
		if err != nil {
			return nil, eris.Wrapf(err, "read pdf page %d", i)
		}
		pages = append(pages, text)
	}
	return pages, nil
}

func anyText(pages []string) bool {
	for _, p := range pages {
		if strings.TrimSpace(p) != "" {
			return true
		}
	}
	return false
}
