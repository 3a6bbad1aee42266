package model

import (
	"fmt"
	"strings"
	"time"
)

// Origin identifies the handler that produced a piece of evidence.
type Origin string

const (
	OriginSearch   Origin = "SEARCH"
	OriginRetrieve Origin = "RETRIEVE"
)

// Provenance locates the source of an evidence record. Search records set
// URL; retrieval records set File, ChunkIndex and optionally Page or Row.
type Provenance struct {
	URL    string `json:"url,omitempty"`
	Source string `json:"source,omitempty"` // search backend name
	Rank   int    `json:"rank,omitempty"`   // 1-based rank within the backend response

	File       string `json:"file,omitempty"`
	Page       int    `json:"page,omitempty"` // 1-based, 0 when not paged
	Row        int    `json:"row,omitempty"`  // 1-based first data row, 0 when not tabular
	ChunkIndex int    `json:"chunk_index"`
}

// Ref renders a short human-readable reference.
func (p Provenance) Ref() string {
	if p.URL != "" {
		return p.URL
	}
	var parts []string
	if p.Page > 0 {
		parts = append(parts, fmt.Sprintf("page %d", p.Page))
	}
	if p.Row > 0 {
		parts = append(parts, fmt.Sprintf("row %d", p.Row))
	}
	parts = append(parts, fmt.Sprintf("chunk %d", p.ChunkIndex))
	return fmt.Sprintf("%s (%s)", p.File, strings.Join(parts, ", "))
}

// EvidenceRecord is the unit passed from handlers to the synthesizer.
type EvidenceRecord struct {
	Origin      Origin     `json:"origin"`
	Title       string     `json:"title,omitempty"`
	Content     string     `json:"content"`
	Provenance  Provenance `json:"provenance"`
	Score       float64    `json:"score"`
	RetrievedAt time.Time  `json:"retrieved_at"`
}

// CountByOrigin returns the number of search and retrieval records.
func CountByOrigin(evidence []EvidenceRecord) (search, retrieve int) {
	for _, e := range evidence {
		switch e.Origin {
		case OriginSearch:
			search++
		case OriginRetrieve:
			retrieve++
		}
	}
	return search, retrieve
}
