package model

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrEmptyQuery is returned when a request carries neither text nor files.
var ErrEmptyQuery = eris.New("query: empty text and no files")

// FileRef points at an attached file on local disk.
type FileRef struct {
	Path string `json:"path"`
	// Name is the display name used in provenance; defaults to the path's base name.
	Name string `json:"name,omitempty"`
	// DeclaredType is an optional caller-supplied extension or MIME type.
	DeclaredType string `json:"declared_type,omitempty"`
}

// DisplayName returns the name used when citing this file.
func (f FileRef) DisplayName() string {
	if f.Name != "" {
		return f.Name
	}
	return filepath.Base(f.Path)
}

// Query is one user request. It is never modified after construction.
type Query struct {
	Text  string    `json:"text"`
	Files []FileRef `json:"files,omitempty"`
}

// HasFiles reports whether the query has attachments.
func (q Query) HasFiles() bool {
	return len(q.Files) > 0
}

// Validate rejects malformed input. This is the only hard failure of a request.
func (q Query) Validate() error {
	if strings.TrimSpace(q.Text) == "" && !q.HasFiles() {
		return ErrEmptyQuery
	}
	return nil
}
