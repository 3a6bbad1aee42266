package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/query-router/internal/extract"
	"github.com/sells-group/query-router/internal/llm"
	"github.com/sells-group/query-router/internal/model"
	"github.com/sells-group/query-router/internal/retrieve"
	"github.com/sells-group/query-router/internal/search"
)

type mockCompleter struct {
	mock.Mock
}

func (m *mockCompleter) Complete(ctx context.Context, req llm.Request) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// stubBackend is a search backend with canned hits.
type stubBackend struct {
	name string
	hits []search.Hit
	err  error
}

func (s *stubBackend) Name() string { return s.name }

func (s *stubBackend) Search(context.Context, string, int) ([]search.Hit, error) {
	return s.hits, s.err
}

// fakePaged stands in for the PDF reader.
type fakePaged struct {
	pages []string
}

func (f *fakePaged) Extract(context.Context, string) (*extract.Document, error) {
	doc := &extract.Document{Method: "fake"}
	for i, p := range f.pages {
		if p == "" {
			continue
		}
		doc.Units = append(doc.Units, extract.Unit{Text: p, Page: i + 1})
	}
	return doc, nil
}

// delayedSearcher and delayedRetriever return fixed records after a delay.
type delayedSearcher struct {
	delay   time.Duration
	records []model.EvidenceRecord
}

func (d *delayedSearcher) Search(ctx context.Context, _ string, _ int) search.Result {
	select {
	case <-time.After(d.delay):
	case <-ctx.Done():
		return search.Result{Degraded: true}
	}
	return search.Result{Records: d.records}
}

type delayedRetriever struct {
	delay   time.Duration
	records []model.EvidenceRecord
}

func (d *delayedRetriever) Analyze(ctx context.Context, _ []model.FileRef, _ string, _ int) retrieve.Result {
	select {
	case <-time.After(d.delay):
	case <-ctx.Done():
		return retrieve.Result{Degraded: true}
	}
	return retrieve.Result{Records: d.records}
}

type recordingSink struct {
	mu      sync.Mutex
	entries []model.RequestLog
}

func (r *recordingSink) Write(_ context.Context, e model.RequestLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *recordingSink) Close() error { return nil }
