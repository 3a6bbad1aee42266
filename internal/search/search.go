// Package search answers requests from the web through an ordered list of
// interchangeable backends.
package search

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/query-router/internal/model"
	"github.com/sells-group/query-router/internal/resilience"
)

// DefaultMaxResults is used when a caller passes a non-positive limit.
const DefaultMaxResults = 5

// Hit is one backend result before normalization.
type Hit struct {
	Title   string
	Snippet string
	URL     string
}

// Backend is one search provider.
type Backend interface {
	Name() string
	Search(ctx context.Context, query string, maxResults int) ([]Hit, error)
}

// Attempt records how one backend fared for a request.
type Attempt struct {
	Backend  string        `json:"backend"`
	Hits     int           `json:"hits"`
	Err      string        `json:"error,omitempty"`
	TimedOut bool          `json:"timed_out,omitempty"`
	Elapsed  time.Duration `json:"elapsed_ns"`
}

// Result is the handler's output. Degraded is set when no backend answered;
// Breakers then holds each guarded backend's circuit state.
type Result struct {
	Records  []model.EvidenceRecord `json:"records"`
	Degraded bool                   `json:"degraded"`
	Attempts []Attempt              `json:"attempts"`
	Breakers map[string]string      `json:"breakers,omitempty"`
}

// Handler runs backends in preference order.
type Handler struct {
	backends []Backend
	policy   resilience.Policy
	breakers *resilience.ServiceBreakers
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithPolicy sets the per-backend call policy (timeout and retries).
func WithPolicy(p resilience.Policy) Option {
	return func(h *Handler) { h.policy = p }
}

// WithBreakers guards every backend with its own circuit breaker.
func WithBreakers(sb *resilience.ServiceBreakers) Option {
	return func(h *Handler) { h.breakers = sb }
}

// WithRateLimit caps calls per second to each backend.
func WithRateLimit(perSec float64) Option {
	return func(h *Handler) {
		if perSec <= 0 {
			return
		}
		burst := int(perSec)
		if burst < 1 {
			burst = 1
		}
		for _, b := range h.backends {
			h.limiters[b.Name()] = rate.NewLimiter(rate.Limit(perSec), burst)
		}
	}
}

// NewHandler creates a handler over backends, tried in the given order.
func NewHandler(backends []Backend, opts ...Option) *Handler {
	h := &Handler{
		backends: backends,
		policy:   resilience.DefaultPolicy(10 * time.Second),
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Backends returns the configured backend names in order.
func (h *Handler) Backends() []string {
	names := make([]string, len(h.backends))
	for i, b := range h.backends {
		names[i] = b.Name()
	}
	return names
}

// Search never fails. Backends are tried in order until maxResults unique
// URLs are collected; a failing backend is skipped. Records keep backend
// order and then backend-native rank; the first occurrence of a URL wins.
func (h *Handler) Search(ctx context.Context, query string, maxResults int) Result {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	var (
		res       Result
		seen      = make(map[string]bool)
		succeeded int
	)

	for _, b := range h.backends {
		if len(res.Records) >= maxResults || ctx.Err() != nil {
			break
		}

		start := h.now()
		hits, err := h.call(ctx, b, query, maxResults)
		attempt := Attempt{Backend: b.Name(), Hits: len(hits), Elapsed: time.Since(start)}

		if err != nil {
			attempt.Err = err.Error()
			attempt.TimedOut = resilience.IsTimeout(err)
			res.Attempts = append(res.Attempts, attempt)
			zap.L().Debug("search: backend failed, trying next",
				zap.String("backend", b.Name()),
				zap.Bool("timed_out", attempt.TimedOut),
				zap.Error(err),
			)
			continue
		}
		succeeded++
		res.Attempts = append(res.Attempts, attempt)

		retrievedAt := h.now()
		for i, hit := range hits {
			u := strings.TrimSpace(hit.URL)
			if u == "" || seen[u] {
				continue
			}
			if len(res.Records) >= maxResults {
				break
			}
			seen[u] = true
			res.Records = append(res.Records, model.EvidenceRecord{
				Origin:  model.OriginSearch,
				Title:   strings.TrimSpace(hit.Title),
				Content: strings.TrimSpace(hit.Snippet),
				Provenance: model.Provenance{
					URL:    u,
					Source: b.Name(),
					Rank:   i + 1,
				},
				Score:       rankScore(i, len(hits)),
				RetrievedAt: retrievedAt,
			})
		}
	}

	res.Degraded = succeeded == 0
	if res.Degraded {
		res.Breakers = h.breakerStates()
		zap.L().Warn("search: all backends failed",
			zap.Int("backends", len(h.backends)),
			zap.Any("breakers", res.Breakers),
		)
	}
	return res
}

// breakerStates names each breaker's state, or nil without breakers.
func (h *Handler) breakerStates() map[string]string {
	states := h.breakers.States()
	if len(states) == 0 {
		return nil
	}
	out := make(map[string]string, len(states))
	for name, s := range states {
		out[name] = s.String()
	}
	return out
}

func (h *Handler) call(ctx context.Context, b Backend, query string, maxResults int) ([]Hit, error) {
	cb := h.breakers.Get(b.Name())
	p := h.policy
	p.OnRetry = resilience.RetryLogger(b.Name(), "search")

	return resilience.ExecuteVal(ctx, cb, func(ctx context.Context) ([]Hit, error) {
		return resilience.DoVal(ctx, p, func(ctx context.Context) ([]Hit, error) {
			if lim, ok := h.limiters[b.Name()]; ok {
				if err := lim.Wait(ctx); err != nil {
					return nil, eris.Wrapf(err, "search: %s rate limit wait", b.Name())
				}
			}
			hits, err := b.Search(ctx, query, maxResults)
			if err != nil {
				return nil, asTransient(err)
			}
			return hits, nil
		})
	})
}

// rankScore maps a 0-based rank to (0, 1], first result highest.
func rankScore(i, n int) float64 {
	if n <= 0 {
		return 0
	}
	return 1 - float64(i)/float64(n+1)
}
