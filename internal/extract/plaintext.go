package extract

import (
	"bytes"
	"context"
	"os"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/charmap"
)

var utf8BOM = []byte("\xef\xbb\xbf")

// Plaintext passes text files through. Files that are not valid UTF-8 are
// decoded as Latin-1.
type Plaintext struct{}

// Extract implements FormatExtractor.
func (Plaintext) Extract(_ context.Context, path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "read text file")
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	method := "text"
	if !utf8.Valid(data) {
		decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
		if err != nil {
			return nil, eris.Wrap(err, "decode latin-1")
		}
		data = decoded
		method = "text_latin1"
	}

	doc := &Document{Method: method}
	if len(bytes.TrimSpace(data)) > 0 {
		doc.Units = []Unit{{Text: string(data)}}
	}
	return doc, nil
}
