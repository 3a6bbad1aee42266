package retrieve

import (
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/tmc/langchaingo/textsplitter"

	"github.com/sells-group/query-router/internal/extract"
)

// Chunk is one indexed window of a file's text.
type Chunk struct {
	Text string
	File string
	Page int
	Row  int
	// Index is the chunk's position within its file.
	Index int
	// Seq is the chunk's position across the whole request and breaks
	// similarity ties.
	Seq int
}

// Chunker splits extracted documents into overlapping windows.
type Chunker struct {
	size     int
	overlap  int
	splitter textsplitter.RecursiveCharacter
}

// NewChunker validates 0 <= overlap < size.
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, eris.Errorf("retrieve: chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, eris.Errorf("retrieve: chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return &Chunker{
		size:    size,
		overlap: overlap,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
		),
	}, nil
}

// Split chunks one document. Pages and plain files are split unit by unit;
// table rows are packed into windows so small rows do not each become a
// chunk, and the chunk keeps the first row it holds as its locator.
func (c *Chunker) Split(doc *extract.Document) ([]Chunk, error) {
	var out []Chunk
	add := func(text string, page, row int) {
		if strings.TrimSpace(text) == "" {
			return
		}
		out = append(out, Chunk{Text: text, File: doc.Name, Page: page, Row: row, Index: len(out)})
	}

	if doc.Format == extract.FormatTabular {
		for _, group := range c.packRows(doc.Units) {
			texts, err := c.split(group.text)
			if err != nil {
				return nil, err
			}
			for _, t := range texts {
				add(t, 0, group.row)
			}
		}
		return out, nil
	}

	for _, u := range doc.Units {
		texts, err := c.split(u.Text)
		if err != nil {
			return nil, err
		}
		for _, t := range texts {
			add(t, u.Page, u.Row)
		}
	}
	return out, nil
}

func (c *Chunker) split(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	texts, err := c.splitter.SplitText(text)
	if err != nil {
		return nil, eris.Wrap(err, "retrieve: split text")
	}
	return texts, nil
}

type rowGroup struct {
	text string
	row  int
}

// packRows groups rows into windows of at most size runes. Each window after
// the first starts with the trailing rows of the previous one, up to overlap
// runes, so a row near a boundary is seen with its neighbours.
func (c *Chunker) packRows(units []extract.Unit) []rowGroup {
	var (
		groups []rowGroup
		cur    []extract.Unit
		length int // runes in cur, newline separators included
		fresh  int // rows in cur not carried from the previous window
	)
	joined := func(us []extract.Unit) int {
		n := 0
		for i, u := range us {
			if i > 0 {
				n++
			}
			n += utf8.RuneCountInString(u.Text)
		}
		return n
	}
	flush := func() {
		if fresh == 0 {
			return
		}
		texts := make([]string, len(cur))
		for i, u := range cur {
			texts[i] = u.Text
		}
		groups = append(groups, rowGroup{text: strings.Join(texts, "\n"), row: cur[0].Row})

		// Never carry the whole window, or the next one would not advance.
		keep := len(cur)
		for i := len(cur) - 1; i > 0; i-- {
			if joined(cur[i:]) > c.overlap {
				break
			}
			keep = i
		}
		if keep == len(cur) {
			cur = nil
		} else {
			cur = append([]extract.Unit(nil), cur[keep:]...)
		}
		length = joined(cur)
		fresh = 0
	}

	for _, u := range units {
		n := utf8.RuneCountInString(u.Text)
		if fresh > 0 && length+1+n > c.size {
			flush()
		}
		for len(cur) > 0 && length+1+n > c.size {
			cur = cur[1:]
			length = joined(cur)
		}
		cur = append(cur, u)
		length = joined(cur)
		fresh++
	}
	flush()
	return groups
}
