package ocr

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Tesseract recognizes text locally. PDFs are rasterized with pdftoppm
// first, one image per page.
type Tesseract struct {
	binPath    string
	rasterizer string
}

// NewTesseract creates a local OCR extractor. Empty paths fall back to
// "tesseract" and "pdftoppm" on PATH.
func NewTesseract(binPath, rasterizer string) *Tesseract {
	if binPath == "" {
		binPath = "tesseract"
	}
	if rasterizer == "" {
		rasterizer = "pdftoppm"
	}
	return &Tesseract{binPath: binPath, rasterizer: rasterizer}
}

// ExtractText recognizes an image, or every page of a PDF joined by blank lines.
func (t *Tesseract) ExtractText(ctx context.Context, path string) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		pages, err := t.ExtractPages(ctx, path)
		if err != nil {
			return "", err
		}
		return strings.Join(pages, "\n\n"), nil
	}
	return t.recognize(ctx, path)
}

// ExtractPages rasterizes a PDF and recognizes each page image.
func (t *Tesseract) ExtractPages(ctx context.Context, pdfPath string) ([]string, error) {
	dir, err := os.MkdirTemp("", "ocr-pages-*")
	if err != nil {
		return nil, eris.Wrap(err, "ocr: create page dir")
	}
	defer os.RemoveAll(dir) //nolint:errcheck

	if err := run(ctx, t.rasterizer, "-r", "300", "-png", pdfPath, filepath.Join(dir, "page")); err != nil {
		return nil, eris.Wrapf(err, "ocr: rasterize %s", pdfPath)
	}

	images, err := filepath.Glob(filepath.Join(dir, "page*.png"))
	if err != nil {
		return nil, eris.Wrap(err, "ocr: list page images")
	}
	// pdftoppm zero-pads page numbers to a fixed width per document.
	sort.Strings(images)

	pages := make([]string, 0, len(images))
	for _, img := range images {
		text, err := t.recognize(ctx, img)
		if err != nil {
			return nil, err
		}
		pages = append(pages, text)
	}
	zap.L().Debug("ocr: recognized pdf pages",
		zap.String("file", filepath.Base(pdfPath)),
		zap.Int("pages", len(pages)),
	)
	return pages, nil
}

func (t *Tesseract) recognize(ctx context.Context, imagePath string) (string, error) {
	cmd := exec.CommandContext(ctx, t.binPath, imagePath, "stdout")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", eris.Wrapf(err, "ocr: tesseract failed for %s: %s", imagePath, stderr.String())
	}
	return stdout.String(), nil
}

func run(ctx context.Context, bin string, args ...string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return eris.Wrapf(err, "%s: %s", filepath.Base(bin), strings.TrimSpace(stderr.String()))
	}
	return nil
}
