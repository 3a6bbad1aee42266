// Package duckduckgo provides a client for the DuckDuckGo Instant Answer API.
package duckduckgo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

// Client defines the instant answer lookup.
type Client interface {
	Query(ctx context.Context, query string) (*Answer, error)
}

// Answer is the subset of the Instant Answer response we use.
type Answer struct {
	Heading        string  `json:"Heading"`
	AbstractText   string  `json:"AbstractText"`
	AbstractSource string  `json:"AbstractSource"`
	AbstractURL    string  `json:"AbstractURL"`
	Answer         string  `json:"Answer"`
	Definition     string  `json:"Definition"`
	DefinitionURL  string  `json:"DefinitionURL"`
	RelatedTopics  []Topic `json:"RelatedTopics"`
}

// Topic is a related topic. Grouped topics carry Name and nested Topics
// instead of Text and FirstURL.
type Topic struct {
	Text     string  `json:"Text"`
	FirstURL string  `json:"FirstURL"`
	Name     string  `json:"Name,omitempty"`
	Topics   []Topic `json:"Topics,omitempty"`
}

// FlatTopics returns related topics with groups expanded in order.
func (a *Answer) FlatTopics() []Topic {
	var out []Topic
	var walk func([]Topic)
	walk = func(ts []Topic) {
		for _, t := range ts {
			if len(t.Topics) > 0 {
				walk(t.Topics)
				continue
			}
			out = append(out, t)
		}
	}
	walk(a.RelatedTopics)
	return out
}

// APIError is returned for unexpected HTTP statuses.
type APIError struct {
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("duckduckgo: unexpected status %d", e.StatusCode)
}

// HTTPStatus returns the response status code.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets a custom endpoint (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a DuckDuckGo client. The API needs no key.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: "https://api.duckduckgo.com",
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Query(ctx context.Context, query string) (*Answer, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("no_html", "1")
	params.Set("skip_disambig", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "duckduckgo: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "duckduckgo: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "duckduckgo: read response")
	}

	var a Answer
	if err := json.Unmarshal(body, &a); err != nil {
		return nil, eris.Wrap(err, "duckduckgo: unmarshal response")
	}
	return &a, nil
}
