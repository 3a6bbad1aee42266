package retrieve

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
)

// Match is one chunk returned by a similarity query.
type Match struct {
	Chunk Chunk
	Score float64
}

// Index is an exact nearest-neighbour index over one request's chunks. It
// is built, queried and discarded within a single retrieval.
type Index struct {
	chunks  []Chunk
	vectors [][]float32
}

// NewIndex pairs chunks with their vectors.
func NewIndex(chunks []Chunk, vectors [][]float32) (*Index, error) {
	if len(chunks) != len(vectors) {
		return nil, eris.Errorf("retrieve: %d chunks but %d vectors", len(chunks), len(vectors))
	}
	return &Index{chunks: chunks, vectors: vectors}, nil
}

// Len returns the number of indexed chunks.
func (ix *Index) Len() int { return len(ix.chunks) }

// Query returns the k most similar chunks by cosine similarity, highest
// first. Equal scores keep original chunk order.
func (ix *Index) Query(q []float32, k int) []Match {
	if k <= 0 || len(ix.chunks) == 0 {
		return nil
	}
	matches := make([]Match, len(ix.chunks))
	for i, c := range ix.chunks {
		matches[i] = Match{Chunk: c, Score: Cosine(q, ix.vectors[i])}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Chunk.Seq < matches[j].Chunk.Seq
	})
	if k < len(matches) {
		matches = matches[:k]
	}
	return matches
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
