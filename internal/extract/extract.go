// Package extract turns attached files into located units of text.
package extract

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/query-router/internal/model"
	"github.com/sells-group/query-router/internal/ocr"
)

// DefaultSizeCeiling is used when no ceiling is configured.
const DefaultSizeCeiling int64 = 10 << 20

// Sentinel errors for rejected files.
var (
	ErrFileTooLarge      = eris.New("extract: file exceeds size ceiling")
	ErrUnsupportedFormat = eris.New("extract: unsupported format")
	ErrNoOCR             = eris.New("extract: no OCR provider configured")
)

// Unit is one located piece of extracted text: a page of a paged document,
// a row of a table, or a whole plain file. Page and Row are 1-based; zero
// means not applicable.
type Unit struct {
	Text string
	Page int
	Row  int
}

// Document is the extraction result for one file.
type Document struct {
	Name   string
	Format Format
	Units  []Unit
	// Method names the extraction path taken, e.g. "pdf_text" or "ocr".
	Method string
	Bytes  int64
}

// FormatExtractor extracts one format.
type FormatExtractor interface {
	Extract(ctx context.Context, path string) (*Document, error)
}

// Extractor checks the size ceiling, detects the format and dispatches to
// the matching FormatExtractor.
type Extractor struct {
	ceiling  int64
	byFormat map[Format]FormatExtractor
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithOCR enables image extraction and the scanned-PDF fallback.
func WithOCR(o ocr.Extractor) Option {
	return func(e *Extractor) {
		if o == nil {
			return
		}
		e.byFormat[FormatImage] = &Image{OCR: o}
		if p, ok := e.byFormat[FormatPaged].(*Paged); ok {
			p.OCR = o
		}
	}
}

// WithTextLayer sets a secondary text-layer reader for PDFs the native
// parser cannot open.
func WithTextLayer(t *ocr.PdfToText) Option {
	return func(e *Extractor) {
		if p, ok := e.byFormat[FormatPaged].(*Paged); ok && t != nil {
			p.TextLayer = t
		}
	}
}

// WithFormat overrides the extractor for one format.
func WithFormat(f Format, fe FormatExtractor) Option {
	return func(e *Extractor) { e.byFormat[f] = fe }
}

// New creates an Extractor enforcing the given size ceiling in bytes.
func New(ceiling int64, opts ...Option) *Extractor {
	if ceiling <= 0 {
		ceiling = DefaultSizeCeiling
	}
	e := &Extractor{
		ceiling: ceiling,
		byFormat: map[Format]FormatExtractor{
			FormatPlaintext: &Plaintext{},
			FormatPaged:     &Paged{},
			FormatImage:     &Image{},
			FormatTabular:   &Tabular{},
		},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract reads one attachment. Oversized files are rejected before any
// parsing.
func (e *Extractor) Extract(ctx context.Context, ref model.FileRef) (*Document, error) {
	name := ref.DisplayName()

	info, err := os.Stat(ref.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: stat %s", name)
	}
	if info.IsDir() {
		return nil, eris.Errorf("extract: %s is a directory", name)
	}
	if info.Size() > e.ceiling {
		return nil, eris.Wrapf(ErrFileTooLarge, "%s: %d bytes (max %d)", name, info.Size(), e.ceiling)
	}

	format, err := DetectFormat(ref.Path, ref.DeclaredType)
	if err != nil {
		return nil, err
	}
	fe, ok := e.byFormat[format]
	if !ok {
		return nil, eris.Wrapf(ErrUnsupportedFormat, "%s (%s)", name, format)
	}

	doc, err := fe.Extract(ctx, ref.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: %s", name)
	}
	doc.Name = name
	doc.Format = format
	doc.Bytes = info.Size()

	zap.L().Debug("extract: file extracted",
		zap.String("file", name),
		zap.String("format", string(format)),
		zap.String("method", doc.Method),
		zap.Int("units", len(doc.Units)),
	)
	return doc, nil
}
