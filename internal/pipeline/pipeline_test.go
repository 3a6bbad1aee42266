package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/query-router/internal/classify"
	"github.com/sells-group/query-router/internal/extract"
	"github.com/sells-group/query-router/internal/llm"
	"github.com/sells-group/query-router/internal/model"
	"github.com/sells-group/query-router/internal/resilience"
	"github.com/sells-group/query-router/internal/retrieve"
	"github.com/sells-group/query-router/internal/search"
	"github.com/sells-group/query-router/internal/synth"
)

func testPolicy() resilience.Policy {
	return resilience.Policy{MaxAttempts: 1, AttemptTimeout: time.Second}
}

func rulesOnly() *classify.Classifier {
	return classify.New(nil, classify.DefaultRules(), testPolicy())
}

func parisBackend() *stubBackend {
	return &stubBackend{name: "wikipedia", hits: []search.Hit{
		{Title: "Paris", Snippet: "Paris is the capital and most populous city of France.", URL: "https://en.wikipedia.org/wiki/Paris"},
		{Title: "France", Snippet: "France is a country in Western Europe.", URL: "https://en.wikipedia.org/wiki/France"},
	}}
}

func newRetriever(t *testing.T, opts ...extract.Option) *retrieve.Handler {
	t.Helper()
	chunker, err := retrieve.NewChunker(500, 50)
	require.NoError(t, err)
	return retrieve.NewHandler(extract.New(0, opts...), chunker, retrieve.NewHashEmbedder(128),
		retrieve.WithPolicy(testPolicy()))
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func answering(answer string) *mockCompleter {
	mc := new(mockCompleter)
	mc.On("Complete", mock.Anything, mock.Anything).Return(answer, nil)
	return mc
}

func states(resp *model.Response) []model.State {
	out := []model.State{resp.Transitions[0].From}
	for _, t := range resp.Transitions {
		out = append(out, t.To)
	}
	return out
}

func assertWellFormed(t *testing.T, resp *model.Response) {
	t.Helper()
	assert.NotEmpty(t, resp.RequestID)
	assert.NotEmpty(t, resp.Decision.Route.Handlers())
	assert.GreaterOrEqual(t, resp.Result.Confidence, 0.0)
	assert.LessOrEqual(t, resp.Result.Confidence, 1.0)
	require.NotEmpty(t, resp.Transitions)
	assert.Equal(t, model.StateStart, resp.Transitions[0].From)
	assert.Equal(t, model.StateDone, resp.Transitions[len(resp.Transitions)-1].To)
	for _, tr := range resp.Transitions {
		require.NotNil(t, tr.Decision)
	}
}

func TestRun_FactualQuestionSearches(t *testing.T) {
	sink := &recordingSink{}
	p := New(rulesOnly(),
		search.NewHandler([]search.Backend{parisBackend()}, search.WithPolicy(testPolicy())),
		newRetriever(t),
		synth.New(answering("The capital of France is Paris [1]."), synth.WithPolicy(testPolicy())),
		WithSink(sink),
	)

	resp, err := p.Run(context.Background(), model.Query{Text: "What is the capital of France?"})
	require.NoError(t, err)
	assertWellFormed(t, resp)

	assert.Equal(t, model.RouteSearch, resp.Decision.Route)
	assert.Equal(t, model.SourceRuleFallback, resp.Decision.Source)
	assert.Contains(t, resp.Result.Answer, "Paris")
	assert.False(t, resp.Result.Degraded)
	require.NotEmpty(t, resp.Result.Citations)
	assert.Equal(t, model.OriginSearch, resp.Result.Citations[0].Origin)
	assert.Equal(t, []model.State{
		model.StateStart, model.StateClassified, model.StateSearching, model.StateSynthesizing, model.StateDone,
	}, states(resp))

	require.Len(t, sink.entries, 1)
	assert.Equal(t, resp.RequestID, sink.entries[0].RequestID)
	assert.Equal(t, 2, sink.entries[0].SearchCount)
	assert.Contains(t, sink.entries[0].Timings, "total")
}

func TestRun_ResumeRetrieves(t *testing.T) {
	path := writeFile(t, "resume.pdf", "%PDF-1.4 placeholder")
	pages := &fakePaged{pages: []string{
		"Experience: senior Go engineer at Acme for six years, building payment systems.",
		"Education: BSc in Computer Science.",
	}}

	p := New(rulesOnly(), nil,
		newRetriever(t, extract.WithFormat(extract.FormatPaged, pages)),
		synth.New(answering("Six years as a senior Go engineer at Acme [1]."), synth.WithPolicy(testPolicy())),
	)

	resp, err := p.Run(context.Background(), model.Query{
		Text:  "Summarize the candidate's experience",
		Files: []model.FileRef{{Path: path}},
	})
	require.NoError(t, err)
	assertWellFormed(t, resp)

	assert.Equal(t, model.RouteRetrieve, resp.Decision.Route)
	require.NotEmpty(t, resp.Result.Citations)
	assert.Equal(t, model.OriginRetrieve, resp.Result.Citations[0].Origin)
	assert.Equal(t, "resume.pdf", resp.Result.Citations[0].Provenance.File)
	require.Len(t, resp.FileReports, 1)
	assert.True(t, resp.FileReports[0].Success)
	assert.Contains(t, states(resp), model.StateRetrieving)
}

func TestRun_ScannedPDFWithoutTextIsEmpty(t *testing.T) {
	path := writeFile(t, "scan.pdf", "%PDF-1.4 placeholder")
	mc := new(mockCompleter)

	p := New(rulesOnly(), nil,
		newRetriever(t, extract.WithFormat(extract.FormatPaged, &fakePaged{pages: []string{"", ""}})),
		synth.New(mc, synth.WithPolicy(testPolicy())),
	)

	resp, err := p.Run(context.Background(), model.Query{
		Text:  "What does this document say?",
		Files: []model.FileRef{{Path: path}},
	})
	require.NoError(t, err)
	assertWellFormed(t, resp)

	assert.Empty(t, resp.Evidence)
	assert.True(t, resp.Result.Degraded)
	assert.Zero(t, resp.Result.Confidence)
	assert.Equal(t, synth.NoInformationAnswer, resp.Result.Answer)
	mc.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestRun_CompareReportWithNewsRunsBoth(t *testing.T) {
	path := writeFile(t, "report.txt", "Quarterly report: revenue grew 12 percent on strong demand for exports.")

	p := New(rulesOnly(),
		search.NewHandler([]search.Backend{&stubBackend{name: "brave", hits: []search.Hit{
			{Title: "Exports surge", Snippet: "Exports rose sharply this quarter.", URL: "https://news.example/exports"},
		}}}, search.WithPolicy(testPolicy())),
		newRetriever(t),
		synth.New(answering("News confirms the export surge [1], matching the report [2]."), synth.WithPolicy(testPolicy())),
	)

	resp, err := p.Run(context.Background(), model.Query{
		Text:  "Compare this report with the latest news",
		Files: []model.FileRef{{Path: path}},
	})
	require.NoError(t, err)
	assertWellFormed(t, resp)

	assert.Equal(t, model.RouteBoth, resp.Decision.Route)
	assert.Contains(t, states(resp), model.StateSearchingAndRetrieving)
	require.Len(t, resp.Evidence, 2)
	assert.Equal(t, model.OriginSearch, resp.Evidence[0].Origin)
	assert.Equal(t, model.OriginRetrieve, resp.Evidence[1].Origin)
	require.Len(t, resp.Result.Citations, 2)
	assert.Equal(t, "report.txt", resp.Result.Citations[1].Provenance.File)
}

func TestRun_AllSearchBackendsFail(t *testing.T) {
	mc := new(mockCompleter)
	p := New(rulesOnly(),
		search.NewHandler([]search.Backend{
			&stubBackend{name: "jina", err: errors.New("connection refused")},
			&stubBackend{name: "wikipedia", err: errors.New("503")},
		}, search.WithPolicy(testPolicy())),
		nil,
		synth.New(mc, synth.WithPolicy(testPolicy())),
	)

	resp, err := p.Run(context.Background(), model.Query{Text: "latest exchange rates"})
	require.NoError(t, err)
	assertWellFormed(t, resp)

	assert.Empty(t, resp.Evidence)
	assert.True(t, resp.Result.Degraded)
	assert.Zero(t, resp.Result.Confidence)
	mc.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestRun_EmptyQueryIsTheOnlyError(t *testing.T) {
	p := New(rulesOnly(), nil, nil, synth.New(nil))

	_, err := p.Run(context.Background(), model.Query{Text: "  "})
	assert.True(t, errors.Is(err, model.ErrEmptyQuery))
}

func TestRun_ModelFailureUsesRuleFallback(t *testing.T) {
	router := new(mockCompleter)
	router.On("Complete", mock.Anything, mock.MatchedBy(func(r llm.Request) bool {
		return r.Stage == "classify"
	})).Return("", errors.New("model overloaded"))

	p := New(classify.New(router, classify.DefaultRules(), testPolicy()),
		search.NewHandler([]search.Backend{parisBackend()}, search.WithPolicy(testPolicy())),
		nil,
		synth.New(answering("Paris [1]."), synth.WithPolicy(testPolicy())),
	)

	resp, err := p.Run(context.Background(), model.Query{Text: "What is the capital of France?"})
	require.NoError(t, err)
	assert.Equal(t, model.SourceRuleFallback, resp.Decision.Source)
	assert.Equal(t, model.RouteSearch, resp.Decision.Route)
	router.AssertExpectations(t)
}

func TestRun_MergeOrderIsSearchFirst(t *testing.T) {
	srec := []model.EvidenceRecord{
		{Origin: model.OriginSearch, Content: "s1", Provenance: model.Provenance{URL: "u1"}},
		{Origin: model.OriginSearch, Content: "s2", Provenance: model.Provenance{URL: "u2"}},
	}
	rrec := []model.EvidenceRecord{
		{Origin: model.OriginRetrieve, Content: "r1", Provenance: model.Provenance{File: "f", ChunkIndex: 0}},
		{Origin: model.OriginRetrieve, Content: "r2", Provenance: model.Provenance{File: "f", ChunkIndex: 1}},
	}

	// Retrieval finishes first; order must not depend on completion order.
	p := New(rulesOnly(),
		&delayedSearcher{delay: 30 * time.Millisecond, records: srec},
		&delayedRetriever{records: rrec},
		synth.New(answering("ok [1]"), synth.WithPolicy(testPolicy())),
	)

	resp, err := p.Run(context.Background(), model.Query{
		Text:  "Compare this with the latest news",
		Files: []model.FileRef{{Path: "f"}},
	})
	require.NoError(t, err)
	require.Equal(t, model.RouteBoth, resp.Decision.Route)

	want := append(append([]model.EvidenceRecord{}, srec...), rrec...)
	assert.Equal(t, want, resp.Evidence)
}

func TestRun_AlwaysReachesDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(rulesOnly(),
		&delayedSearcher{delay: time.Second},
		&delayedRetriever{delay: time.Second},
		synth.New(answering("never used"), synth.WithPolicy(testPolicy())),
	)

	resp, err := p.Run(ctx, model.Query{
		Text:  "Compare this with the latest news",
		Files: []model.FileRef{{Path: "f"}},
	})
	require.NoError(t, err)
	assertWellFormed(t, resp)
	assert.True(t, resp.Result.Degraded)
}

func TestRun_MissingHandlersDegrade(t *testing.T) {
	p := New(rulesOnly(), nil, nil, synth.New(nil))

	resp, err := p.Run(context.Background(), model.Query{Text: "who won the match today"})
	require.NoError(t, err)
	assertWellFormed(t, resp)
	assert.True(t, resp.Result.Degraded)
}

func TestRun_FilesWithoutTextSkipSearch(t *testing.T) {
	path := writeFile(t, "notes.txt", "Meeting notes: ship the release on Friday.")
	s := &delayedSearcher{}

	p := New(rulesOnly(), s, newRetriever(t), synth.New(answering("Ship Friday [1].")))
	resp, err := p.Run(context.Background(), model.Query{Files: []model.FileRef{{Path: path}}})
	require.NoError(t, err)
	assert.Equal(t, model.RouteRetrieve, resp.Decision.Route)
	assert.NotContains(t, states(resp), model.StateSearching)
}

func TestRun_ObserverSeesEveryTransition(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []model.Transition
	)
	p := New(rulesOnly(),
		search.NewHandler([]search.Backend{parisBackend()}, search.WithPolicy(testPolicy())),
		nil,
		synth.New(answering("Paris [1].")),
		WithObserver(func(_ string, tr model.Transition) {
			mu.Lock()
			seen = append(seen, tr)
			mu.Unlock()
		}),
	)

	resp, err := p.Run(context.Background(), model.Query{Text: "What is the capital of France?"})
	require.NoError(t, err)
	assert.Equal(t, resp.Transitions, seen)

	last := seen[len(seen)-1]
	assert.Equal(t, model.StateDone, last.To)
	assert.Equal(t, 2, last.SearchCount)
}

func TestNext(t *testing.T) {
	tests := []struct {
		from  model.State
		route model.Route
		want  model.State
	}{
		{model.StateStart, "", model.StateClassified},
		{model.StateClassified, model.RouteSearch, model.StateSearching},
		{model.StateClassified, model.RouteRetrieve, model.StateRetrieving},
		{model.StateClassified, model.RouteBoth, model.StateSearchingAndRetrieving},
		{model.StateSearching, model.RouteSearch, model.StateSynthesizing},
		{model.StateRetrieving, model.RouteRetrieve, model.StateSynthesizing},
		{model.StateSearchingAndRetrieving, model.RouteBoth, model.StateSynthesizing},
		{model.StateSynthesizing, model.RouteBoth, model.StateDone},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.route), func(t *testing.T) {
			got, err := Next(tt.from, tt.route)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Next(model.StateDone, model.RouteSearch)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	_, err = Next(model.StateClassified, "NONE")
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}
