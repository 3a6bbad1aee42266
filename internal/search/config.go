package search

import (
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/query-router/internal/config"
	"github.com/sells-group/query-router/internal/resilience"
	"github.com/sells-group/query-router/pkg/brave"
	"github.com/sells-group/query-router/pkg/duckduckgo"
	"github.com/sells-group/query-router/pkg/jina"
	"github.com/sells-group/query-router/pkg/perplexity"
	"github.com/sells-group/query-router/pkg/wikipedia"
)

// BuildBackends constructs the configured backends in preference order.
// Keyed backends without a key are skipped with a log line; unknown names
// are an error.
func BuildBackends(cfg *config.Config) ([]Backend, error) {
	var out []Backend
	for _, raw := range cfg.Search.Backends {
		name := strings.ToLower(strings.TrimSpace(raw))
		switch name {
		case BackendJina:
			if cfg.Jina.Key == "" {
				skipped(name, "jina.key")
				continue
			}
			var opts []jina.Option
			if cfg.Jina.SearchBaseURL != "" {
				opts = append(opts, jina.WithSearchBaseURL(cfg.Jina.SearchBaseURL))
			}
			out = append(out, &JinaBackend{
				Client: jina.NewClient(cfg.Jina.Key, opts...),
				Site:   cfg.Jina.Site,
			})

		case BackendWikipedia:
			var opts []wikipedia.Option
			if cfg.Wikipedia.BaseURL != "" {
				opts = append(opts, wikipedia.WithBaseURL(cfg.Wikipedia.BaseURL))
			}
			if cfg.Wikipedia.UserAgent != "" {
				opts = append(opts, wikipedia.WithUserAgent(cfg.Wikipedia.UserAgent))
			}
			out = append(out, &WikipediaBackend{Client: wikipedia.NewClient(opts...)})

		case BackendDuckDuckGo:
			var opts []duckduckgo.Option
			if cfg.DuckDuckGo.BaseURL != "" {
				opts = append(opts, duckduckgo.WithBaseURL(cfg.DuckDuckGo.BaseURL))
			}
			out = append(out, &DuckDuckGoBackend{Client: duckduckgo.NewClient(opts...)})

		case BackendBrave:
			if cfg.Brave.Key == "" {
				skipped(name, "brave.key")
				continue
			}
			var opts []brave.Option
			if cfg.Brave.BaseURL != "" {
				opts = append(opts, brave.WithBaseURL(cfg.Brave.BaseURL))
			}
			out = append(out, &BraveBackend{Client: brave.NewClient(cfg.Brave.Key, opts...)})

		case BackendPerplexity:
			if cfg.Perplexity.Key == "" {
				skipped(name, "perplexity.key")
				continue
			}
			var opts []perplexity.Option
			if cfg.Perplexity.BaseURL != "" {
				opts = append(opts, perplexity.WithBaseURL(cfg.Perplexity.BaseURL))
			}
			if cfg.Perplexity.Model != "" {
				opts = append(opts, perplexity.WithModel(cfg.Perplexity.Model))
			}
			out = append(out, &PerplexityBackend{
				Client: perplexity.NewClient(cfg.Perplexity.Key, opts...),
				Model:  cfg.Perplexity.Model,
			})

		default:
			return nil, eris.Errorf("search: unknown backend %q", raw)
		}
	}
	return out, nil
}

// NewFromConfig builds a handler with the configured backends, policy, rate
// limit and breakers.
func NewFromConfig(cfg *config.Config) (*Handler, error) {
	backends, err := BuildBackends(cfg)
	if err != nil {
		return nil, err
	}
	opts := []Option{
		WithPolicy(resilience.FromConfig(cfg)),
		WithRateLimit(cfg.Search.RatePerSec),
	}
	if cfg.Search.BreakerEnabled {
		opts = append(opts, WithBreakers(resilience.NewServiceBreakers(resilience.BreakerConfig{})))
	}
	h := NewHandler(backends, opts...)
	if len(backends) == 0 {
		zap.L().Warn("search: no backends configured, every search will be degraded")
	} else {
		zap.L().Info("search: backends configured", zap.Strings("backends", h.Backends()))
	}
	return h, nil
}

func skipped(name, key string) {
	zap.L().Debug("search: backend skipped, no key configured",
		zap.String("backend", name),
		zap.String("key", key),
	)
}
