package extract

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rotisserie/eris"
)

// Format is the closed set of attachment kinds the extractor understands.
type Format string

// Supported formats.
const (
	FormatPlaintext Format = "PLAINTEXT"
	FormatPaged     Format = "PAGED_DOCUMENT"
	FormatImage     Format = "IMAGE"
	FormatTabular   Format = "TABULAR"
)

const xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var extFormats = map[string]Format{
	".txt":  FormatPlaintext,
	".md":   FormatPlaintext,
	".pdf":  FormatPaged,
	".csv":  FormatTabular,
	".xlsx": FormatTabular,
	".png":  FormatImage,
	".jpg":  FormatImage,
	".jpeg": FormatImage,
	".gif":  FormatImage,
	".bmp":  FormatImage,
	".tif":  FormatImage,
	".tiff": FormatImage,
}

var mimeFormats = map[string]Format{
	"text/plain":      FormatPlaintext,
	"text/markdown":   FormatPlaintext,
	"application/pdf": FormatPaged,
	"text/csv":        FormatTabular,
	xlsxMIME:          FormatTabular,
	"image/png":       FormatImage,
	"image/jpeg":      FormatImage,
	"image/gif":       FormatImage,
	"image/bmp":       FormatImage,
	"image/tiff":      FormatImage,
}

// DetectFormat resolves a file's format. A recognized declared type (format
// name, extension or MIME type) wins; otherwise the path's extension is
// used; otherwise the content is sniffed.
func DetectFormat(path, declared string) (Format, error) {
	if f, ok := parseDeclared(declared); ok {
		return f, nil
	}
	if f, ok := extFormats[strings.ToLower(filepath.Ext(path))]; ok {
		return f, nil
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", eris.Wrapf(err, "extract: sniff %s", filepath.Base(path))
	}
	for m := mt; m != nil; m = m.Parent() {
		if f, ok := mimeFormats[baseMIME(m.String())]; ok {
			return f, nil
		}
	}
	return "", eris.Wrapf(ErrUnsupportedFormat, "%s (%s)", filepath.Base(path), mt.String())
}

func parseDeclared(declared string) (Format, bool) {
	d := strings.ToLower(strings.TrimSpace(declared))
	if d == "" {
		return "", false
	}
	switch Format(strings.ToUpper(d)) {
	case FormatPlaintext, FormatPaged, FormatImage, FormatTabular:
		return Format(strings.ToUpper(d)), true
	}
	if f, ok := mimeFormats[baseMIME(d)]; ok {
		return f, true
	}
	if !strings.HasPrefix(d, ".") {
		d = "." + d
	}
	f, ok := extFormats[d]
	return f, ok
}

func baseMIME(s string) string {
	base, _, _ := strings.Cut(s, ";")
	return strings.TrimSpace(base)
}
