package ocr

import (
	"bytes"
	"context"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// PdfToText reads a PDF's text layer with the pdftotext CLI tool. It does
// not recognize scanned pages.
type PdfToText struct {
	binPath string
}

// NewPdfToText creates a PdfToText extractor. If binPath is empty, "pdftotext" is used.
func NewPdfToText(binPath string) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath}
}

// ExtractText runs pdftotext -layout on the given PDF and returns stdout.
func (p *PdfToText) ExtractText(ctx context.Context, pdfPath string) (string, error) {
	cmd := exec.CommandContext(ctx, p.binPath, "-layout", pdfPath, "-")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", eris.Wrapf(err, "ocr: pdftotext failed for %s: %s", pdfPath, stderr.String())
	}

	return stdout.String(), nil
}

// ExtractPages splits pdftotext output on form feeds, which it emits after
// every page.
func (p *PdfToText) ExtractPages(ctx context.Context, pdfPath string) ([]string, error) {
	text, err := p.ExtractText(ctx, pdfPath)
	if err != nil {
		return nil, err
	}
	pages := strings.Split(text, "\f")
	if n := len(pages); n > 1 && strings.TrimSpace(pages[n-1]) == "" {
		pages = pages[:n-1]
	}
	return pages, nil
}

// rasterizerFor locates pdftoppm next to the configured pdftotext binary.
func rasterizerFor(pdftotextPath string) string {
	if pdftotextPath == "" || !strings.ContainsRune(pdftotextPath, filepath.Separator) {
		return "pdftoppm"
	}
	return filepath.Join(filepath.Dir(pdftotextPath), "pdftoppm")
}
