package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sells-group/query-router/internal/resilience"
	"github.com/sells-group/query-router/pkg/brave"
	"github.com/sells-group/query-router/pkg/duckduckgo"
	"github.com/sells-group/query-router/pkg/jina"
	"github.com/sells-group/query-router/pkg/perplexity"
	"github.com/sells-group/query-router/pkg/wikipedia"
)

// Backend names accepted in search.backends.
const (
	BackendJina       = "jina"
	BackendWikipedia  = "wikipedia"
	BackendDuckDuckGo = "duckduckgo"
	BackendBrave      = "brave"
	BackendPerplexity = "perplexity"
)

// snippetLimit bounds page content carried as a snippet.
const snippetLimit = 1200

type statusError interface {
	HTTPStatus() int
}

// asTransient marks API errors with retryable statuses so the retry policy
// and breaker treat them as transient.
func asTransient(err error) error {
	var se statusError
	if errors.As(err, &se) && resilience.IsTransientHTTPStatus(se.HTTPStatus()) {
		return resilience.NewTransientError(err, se.HTTPStatus())
	}
	return err
}

// JinaBackend searches through s.jina.ai. A non-empty Site restricts results
// to that domain.
type JinaBackend struct {
	Client jina.Client
	Site   string
}

func (b *JinaBackend) Name() string { return BackendJina }

func (b *JinaBackend) Search(ctx context.Context, query string, maxResults int) ([]Hit, error) {
	opts := []jina.SearchOption{jina.WithCount(maxResults)}
	if b.Site != "" {
		opts = append(opts, jina.WithSiteFilter(b.Site))
	}
	resp, err := b.Client.Search(ctx, query, opts...)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(resp.Data))
	for _, r := range resp.Data {
		snippet := r.Description
		if snippet == "" {
			snippet = r.Content
		}
		hits = append(hits, Hit{Title: r.Title, Snippet: clip(snippet, snippetLimit), URL: r.URL})
	}
	return hits, nil
}

// WikipediaBackend searches encyclopedia articles.
type WikipediaBackend struct {
	Client wikipedia.Client
}

func (b *WikipediaBackend) Name() string { return BackendWikipedia }

func (b *WikipediaBackend) Search(ctx context.Context, query string, maxResults int) ([]Hit, error) {
	pages, err := b.Client.Search(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(pages))
	for _, p := range pages {
		hits = append(hits, Hit{Title: p.Title, Snippet: clip(p.Extract, snippetLimit), URL: p.FullURL})
	}
	return hits, nil
}

// DuckDuckGoBackend uses the Instant Answer API. The abstract comes first,
// then the definition, then related topics.
type DuckDuckGoBackend struct {
	Client duckduckgo.Client
}

func (b *DuckDuckGoBackend) Name() string { return BackendDuckDuckGo }

func (b *DuckDuckGoBackend) Search(ctx context.Context, query string, maxResults int) ([]Hit, error) {
	a, err := b.Client.Query(ctx, query)
	if err != nil {
		return nil, err
	}

	var hits []Hit
	if a.AbstractText != "" && a.AbstractURL != "" {
		title := a.Heading
		if a.AbstractSource != "" {
			title = fmt.Sprintf("%s (%s)", a.Heading, a.AbstractSource)
		}
		hits = append(hits, Hit{Title: title, Snippet: a.AbstractText, URL: a.AbstractURL})
	}
	if a.Definition != "" && a.DefinitionURL != "" {
		hits = append(hits, Hit{Title: a.Heading + " (definition)", Snippet: a.Definition, URL: a.DefinitionURL})
	}
	for _, t := range a.FlatTopics() {
		if maxResults > 0 && len(hits) >= maxResults {
			break
		}
		if t.FirstURL == "" || t.Text == "" {
			continue
		}
		title, _, _ := strings.Cut(t.Text, " - ")
		hits = append(hits, Hit{Title: title, Snippet: t.Text, URL: t.FirstURL})
	}
	return hits, nil
}

// BraveBackend uses the Brave web search API.
type BraveBackend struct {
	Client brave.Client
}

func (b *BraveBackend) Name() string { return BackendBrave }

func (b *BraveBackend) Search(ctx context.Context, query string, maxResults int) ([]Hit, error) {
	results, err := b.Client.Search(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{Title: r.Title, Snippet: r.Description, URL: r.URL})
	}
	return hits, nil
}

// PerplexityBackend asks a web-grounded model. The answer text becomes the
// first hit, attributed to the first cited source; remaining sources follow
// as plain hits.
type PerplexityBackend struct {
	Client perplexity.Client
	Model  string
}

func (b *PerplexityBackend) Name() string { return BackendPerplexity }

func (b *PerplexityBackend) Search(ctx context.Context, query string, _ int) ([]Hit, error) {
	resp, err := b.Client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Model: b.Model,
		Messages: []perplexity.Message{
			{Role: "system", Content: "Answer concisely with current, factual information."},
			{Role: "user", Content: query},
		},
	})
	if err != nil {
		return nil, err
	}

	sources := resp.SearchResults
	if len(sources) == 0 {
		for _, c := range resp.Citations {
			sources = append(sources, perplexity.SearchResult{Title: c, URL: c})
		}
	}
	if len(sources) == 0 {
		return nil, nil
	}

	answer := ""
	if len(resp.Choices) > 0 {
		answer = strings.TrimSpace(resp.Choices[0].Message.Content)
	}

	hits := make([]Hit, 0, len(sources))
	for i, s := range sources {
		snippet := s.Title
		if i == 0 && answer != "" {
			snippet = answer
		}
		hits = append(hits, Hit{Title: s.Title, Snippet: clip(snippet, snippetLimit), URL: s.URL})
	}
	return hits, nil
}

func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return strings.TrimSpace(s[:n]) + "..."
}
