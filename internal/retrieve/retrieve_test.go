package retrieve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/query-router/internal/config"
	"github.com/sells-group/query-router/internal/extract"
	"github.com/sells-group/query-router/internal/model"
	"github.com/sells-group/query-router/internal/resilience"
)

func writeFile(t *testing.T, dir, name, content string) model.FileRef {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return model.FileRef{Path: p}
}

func newTestHandler(t *testing.T, ex FileExtractor, emb Embedder) *Handler {
	t.Helper()
	chunker, err := NewChunker(200, 40)
	require.NoError(t, err)
	if ex == nil {
		ex = extract.New(1 << 20)
	}
	if emb == nil {
		emb = NewHashEmbedder(256)
	}
	p := resilience.DefaultPolicy(time.Second)
	p.InitialBackoff = time.Millisecond
	return NewHandler(ex, chunker, emb, WithPolicy(p))
}

// countingEmbedder records calls and can fail.
type countingEmbedder struct {
	inner   Embedder
	docs    atomic.Int32
	queries atomic.Int32
	err     error
}

func (c *countingEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	c.docs.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.inner.EmbedDocuments(ctx, texts)
}

func (c *countingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	c.queries.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.inner.EmbedQuery(ctx, text)
}

func TestNewChunker_Validation(t *testing.T) {
	_, err := NewChunker(0, 0)
	assert.Error(t, err)
	_, err = NewChunker(100, 100)
	assert.Error(t, err)
	_, err = NewChunker(100, -1)
	assert.Error(t, err)
	_, err = NewChunker(100, 99)
	assert.NoError(t, err)
}

func TestChunker_OverlappingWindows(t *testing.T) {
	c, err := NewChunker(50, 20)
	require.NoError(t, err)

	words := make([]string, 60)
	for i := range words {
		words[i] = "w" + string(rune('a'+i%26))
	}
	doc := &extract.Document{Name: "a.txt", Format: extract.FormatPlaintext, Units: []extract.Unit{{Text: strings.Join(words, " ")}}}

	chunks, err := c.Split(doc)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 2)

	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.Equal(t, "a.txt", ch.File)
		assert.LessOrEqual(t, len([]rune(ch.Text)), 50)
	}
	for i := 1; i < len(chunks); i++ {
		prevWords := strings.Fields(chunks[i-1].Text)
		first := strings.Fields(chunks[i].Text)[0]
		assert.Contains(t, prevWords, first, "chunk %d should start inside chunk %d", i, i-1)
	}
}

func TestChunker_KeepsPageLocators(t *testing.T) {
	c, err := NewChunker(100, 10)
	require.NoError(t, err)
	doc := &extract.Document{Name: "r.pdf", Format: extract.FormatPaged, Units: []extract.Unit{
		{Text: "page one text", Page: 1},
		{Text: "   ", Page: 2},
		{Text: "page three text", Page: 3},
	}}

	chunks, err := c.Split(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 1, chunks[0].Page)
	assert.Equal(t, 3, chunks[1].Page)
	assert.Equal(t, 1, chunks[1].Index)
}

func TestChunker_PacksRows(t *testing.T) {
	c, err := NewChunker(40, 0)
	require.NoError(t, err)
	doc := &extract.Document{Name: "t.csv", Format: extract.FormatTabular, Units: []extract.Unit{
		{Text: "row 1: a=1", Row: 1},
		{Text: "row 2: a=2", Row: 2},
		{Text: "row 3: a=3", Row: 3},
		{Text: "row 4: a=4", Row: 4},
	}}

	chunks, err := c.Split(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "row 1: a=1\nrow 2: a=2\nrow 3: a=3", chunks[0].Text)
	assert.Equal(t, 1, chunks[0].Row)
	assert.Equal(t, 4, chunks[1].Row)
}

func TestChunker_PacksRowsWithOverlap(t *testing.T) {
	c, err := NewChunker(40, 15)
	require.NoError(t, err)
	var units []extract.Unit
	for i := 1; i <= 6; i++ {
		units = append(units, extract.Unit{Text: fmt.Sprintf("row %d: a=%d", i, i), Row: i})
	}
	doc := &extract.Document{Name: "t.csv", Format: extract.FormatTabular, Units: units}

	chunks, err := c.Split(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "row 1: a=1\nrow 2: a=2\nrow 3: a=3", chunks[0].Text)
	assert.Equal(t, "row 3: a=3\nrow 4: a=4\nrow 5: a=5", chunks[1].Text)
	assert.Equal(t, "row 5: a=5\nrow 6: a=6", chunks[2].Text)
	assert.Equal(t, []int{1, 3, 5}, []int{chunks[0].Row, chunks[1].Row, chunks[2].Row})

	for i := 1; i < len(chunks); i++ {
		prev := strings.Split(chunks[i-1].Text, "\n")
		first := strings.Split(chunks[i].Text, "\n")[0]
		assert.Contains(t, prev, first, "chunk %d should repeat the last row of chunk %d", i, i-1)
		assert.LessOrEqual(t, utf8.RuneCountInString(chunks[i].Text), 40)
	}
}

func TestChunker_OverlapNeverStallsOnWideRows(t *testing.T) {
	c, err := NewChunker(30, 25)
	require.NoError(t, err)
	doc := &extract.Document{Name: "w.csv", Format: extract.FormatTabular, Units: []extract.Unit{
		{Text: "row 1: name=ééééééééé", Row: 1},
		{Text: "row 2: name=ëëëëëëëëë", Row: 2},
		{Text: "row 3: name=ïïïïïïïïï", Row: 3},
	}}

	chunks, err := c.Split(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for i, ch := range chunks {
		assert.Equal(t, i+1, ch.Row)
	}
}

func TestHashEmbedder_Deterministic(t *testing.T) {
	e := NewHashEmbedder(64)
	a, err := e.EmbedQuery(context.Background(), "Revenue grew in Q3")
	require.NoError(t, err)
	b, err := e.EmbedDocuments(context.Background(), []string{"revenue grew in q3"})
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.Equal(t, a, b[0])
	assert.InDelta(t, 1.0, Cosine(a, b[0]), 1e-6)

	zero, err := e.EmbedQuery(context.Background(), "  ...  ")
	require.NoError(t, err)
	assert.Zero(t, Cosine(a, zero))
}

func TestHashEmbedder_SimilarTextScoresHigher(t *testing.T) {
	e := NewHashEmbedder(512)
	ctx := context.Background()
	q, _ := e.EmbedQuery(ctx, "python programming experience")
	near, _ := e.EmbedQuery(ctx, "Five years of Python programming experience at Acme")
	far, _ := e.EmbedQuery(ctx, "Quarterly weather patterns over the Atlantic")

	assert.Greater(t, Cosine(q, near), Cosine(q, far))
}

func TestCachedEmbedder(t *testing.T) {
	inner := &countingEmbedder{inner: NewHashEmbedder(32)}
	c, err := NewCachedEmbedder(inner, 16)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := c.EmbedDocuments(ctx, []string{"a", "b", "a"})
	require.NoError(t, err)
	assert.Equal(t, first[0], first[2])
	assert.Equal(t, 2, c.Len())

	second, err := c.EmbedDocuments(ctx, []string{"b", "a"})
	require.NoError(t, err)
	assert.Equal(t, first[1], second[0])
	assert.Equal(t, int32(1), inner.docs.Load())

	_, err = c.EmbedQuery(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int32(0), inner.queries.Load())

	_, err = NewCachedEmbedder(inner, 0)
	assert.Error(t, err)
}

func TestIndex_TopKAndTieBreak(t *testing.T) {
	chunks := []Chunk{{Text: "x", Seq: 0}, {Text: "y", Seq: 1}, {Text: "z", Seq: 2}, {Text: "w", Seq: 3}}
	vectors := [][]float32{{0, 1}, {1, 0}, {1, 0}, {0.9, 0.1}}
	ix, err := NewIndex(chunks, vectors)
	require.NoError(t, err)

	got := ix.Query([]float32{1, 0}, 3)
	require.Len(t, got, 3)
	assert.Equal(t, "y", got[0].Chunk.Text)
	assert.Equal(t, "z", got[1].Chunk.Text)
	assert.Equal(t, "w", got[2].Chunk.Text)
	assert.GreaterOrEqual(t, got[0].Score, got[2].Score)

	assert.Len(t, ix.Query([]float32{1, 0}, 10), 4)
	assert.Nil(t, ix.Query([]float32{1, 0}, 0))

	_, err = NewIndex(chunks, vectors[:2])
	assert.Error(t, err)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, Cosine([]float32{1}, []float32{1, 2}))
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 2}))
}

func TestAnalyze_ReturnsRelevantChunks(t *testing.T) {
	dir := t.TempDir()
	resume := writeFile(t, dir, "resume.txt",
		"Jane Doe\n\nSkills: Python, Go, SQL. Five years of Python programming at Acme.\n\nEducation: BSc Computer Science.")
	notes := writeFile(t, dir, "notes.txt", "Grocery list: apples, bread, milk.")

	h := newTestHandler(t, nil, nil)
	res := h.Analyze(context.Background(), []model.FileRef{resume, notes}, "What Python skills does Jane have?", 2)

	assert.Equal(t, StageResults, res.Outcome())
	assert.Equal(t, []Stage{StageExtract, StageChunk, StageEmbed, StageIndex, StageQuery, StageResults}, res.Stages)
	assert.False(t, res.Degraded)
	require.NotEmpty(t, res.Records)
	assert.LessOrEqual(t, len(res.Records), 2)

	top := res.Records[0]
	assert.Equal(t, model.OriginRetrieve, top.Origin)
	assert.Equal(t, "resume.txt", top.Provenance.File)
	assert.Contains(t, top.Content, "Python")

	require.Len(t, res.Reports, 2)
	assert.True(t, res.Reports[0].Success)
	assert.Equal(t, "PLAINTEXT", res.Reports[0].Format)
	assert.Positive(t, res.Reports[0].Chunks)
}

func TestAnalyze_Idempotent(t *testing.T) {
	dir := t.TempDir()
	f := writeFile(t, dir, "doc.txt", strings.Repeat("The quick brown fox jumps over the lazy dog. ", 30))
	h := newTestHandler(t, nil, nil)

	a := h.Analyze(context.Background(), []model.FileRef{f}, "lazy dog", 3)
	b := h.Analyze(context.Background(), []model.FileRef{f}, "lazy dog", 3)

	require.Equal(t, len(a.Records), len(b.Records))
	for i := range a.Records {
		assert.Equal(t, a.Records[i].Content, b.Records[i].Content)
		assert.Equal(t, a.Records[i].Provenance, b.Records[i].Provenance)
		assert.Equal(t, a.Records[i].Score, b.Records[i].Score)
	}
}

func TestAnalyze_ZeroChunksIsEmptyWithoutEmbedding(t *testing.T) {
	dir := t.TempDir()
	f := writeFile(t, dir, "blank.txt", "   \n  ")
	emb := &countingEmbedder{inner: NewHashEmbedder(16)}
	h := newTestHandler(t, nil, emb)

	res := h.Analyze(context.Background(), []model.FileRef{f}, "anything", 3)

	assert.Equal(t, StageEmpty, res.Outcome())
	assert.Empty(t, res.Records)
	assert.False(t, res.Degraded)
	assert.Zero(t, emb.docs.Load())
	assert.Zero(t, emb.queries.Load())
	assert.True(t, res.Reports[0].Success)
	assert.Zero(t, res.Reports[0].Chunks)
}

func TestAnalyze_OversizedFileRejectedBatchContinues(t *testing.T) {
	dir := t.TempDir()
	big := writeFile(t, dir, "big.txt", strings.Repeat("x", 2048))
	small := writeFile(t, dir, "small.txt", "budget approved for Q4")

	chunker, err := NewChunker(200, 0)
	require.NoError(t, err)
	h := NewHandler(extract.New(1024), chunker, NewHashEmbedder(64))

	res := h.Analyze(context.Background(), []model.FileRef{big, small}, "budget", 3)

	require.Len(t, res.Reports, 2)
	assert.False(t, res.Reports[0].Success)
	assert.Contains(t, res.Reports[0].Error, "size ceiling")
	assert.True(t, res.Reports[1].Success)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "small.txt", res.Records[0].Provenance.File)
	assert.False(t, res.Degraded)
}

func TestAnalyze_AllFilesFailIsDegraded(t *testing.T) {
	h := newTestHandler(t, nil, nil)
	res := h.Analyze(context.Background(), []model.FileRef{{Path: "/nonexistent/a.txt"}}, "q", 3)

	assert.True(t, res.Degraded)
	assert.Equal(t, StageEmpty, res.Outcome())
	assert.Empty(t, res.Records)
}

func TestAnalyze_EmbeddingFailureDegrades(t *testing.T) {
	dir := t.TempDir()
	f := writeFile(t, dir, "doc.txt", "some content")
	emb := &countingEmbedder{inner: NewHashEmbedder(16), err: errors.New("embedding service down")}
	h := newTestHandler(t, nil, emb)

	res := h.Analyze(context.Background(), []model.FileRef{f}, "content", 3)

	assert.True(t, res.Degraded)
	assert.Empty(t, res.Records)
	assert.Equal(t, StageEmpty, res.Outcome())
}

type slowExtractor struct{}

func (slowExtractor) Extract(ctx context.Context, _ model.FileRef) (*extract.Document, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestAnalyze_ExtractionTimeout(t *testing.T) {
	chunker, err := NewChunker(100, 0)
	require.NoError(t, err)
	h := NewHandler(slowExtractor{}, chunker, NewHashEmbedder(16), WithPolicy(resilience.DefaultPolicy(50*time.Millisecond)))

	res := h.Analyze(context.Background(), []model.FileRef{{Path: "/tmp/scan.png"}}, "q", 3)

	require.Len(t, res.Reports, 1)
	assert.Contains(t, res.Reports[0].Error, "timed out")
	assert.True(t, res.Degraded)
}

func TestOpenAIEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		var body struct {
			Input      []string `json:"input"`
			Model      string   `json:"model"`
			Dimensions int      `json:"dimensions"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "text-embedding-3-small", body.Model)
		assert.Equal(t, 3, body.Dimensions)

		data := make([]map[string]any, len(body.Input))
		for i := range body.Input {
			// Reverse order to check index mapping.
			j := len(body.Input) - 1 - i
			data[i] = map[string]any{"object": "embedding", "index": j, "embedding": []float64{float64(j), 1, 0}}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  body.Model,
			"data":   data,
			"usage":  map[string]any{"prompt_tokens": 2, "total_tokens": 2},
		})
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder("k", srv.URL, "text-embedding-3-small", 3)
	vecs, err := e.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{0, 1, 0}, vecs[0])
	assert.Equal(t, []float32{1, 1, 0}, vecs[1])
}

func TestOpenAIEmbedder_TransientStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded"}}`))
	}))
	defer srv.Close()

	_, err := NewOpenAIEmbedder("k", srv.URL, "m", 0).EmbedQuery(context.Background(), "q")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestNewEmbedder(t *testing.T) {
	cfg := &config.Config{}
	cfg.Retrieve.Embedder = "hash"
	cfg.Retrieve.EmbedDimension = 8
	e, err := NewEmbedder(cfg)
	require.NoError(t, err)
	assert.IsType(t, &HashEmbedder{}, e)

	cfg.Retrieve.EmbedCacheSize = 10
	e, err = NewEmbedder(cfg)
	require.NoError(t, err)
	assert.IsType(t, &HashEmbedder{}, e, "hash embedder is never cached")

	cfg.Retrieve.Embedder = "openai"
	_, err = NewEmbedder(cfg)
	assert.ErrorContains(t, err, "openai.key")

	cfg.OpenAI.Key = "sk-test"
	e, err = NewEmbedder(cfg)
	require.NoError(t, err)
	assert.IsType(t, &CachedEmbedder{}, e)

	cfg.Retrieve.EmbedCacheSize = 0
	e, err = NewEmbedder(cfg)
	require.NoError(t, err)
	assert.IsType(t, &OpenAIEmbedder{}, e)

	cfg.Retrieve.Embedder = "bert"
	_, err = NewEmbedder(cfg)
	assert.ErrorContains(t, err, "bert")
}
