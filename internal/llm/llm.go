// Package llm adapts chat-completion providers to one narrow contract used by
// the classifier and the synthesizer.
package llm

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/query-router/internal/config"
	"github.com/sells-group/query-router/internal/resilience"
	"github.com/sells-group/query-router/pkg/anthropic"
)

// ErrEmptyCompletion is returned when a provider answers with no text.
var ErrEmptyCompletion = eris.New("llm: empty completion")

// Request is one single-turn prompt.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int64
	Temperature float64
	// Stage labels the caller for cost attribution ("classify", "synthesize").
	Stage string
}

// Completer turns a prompt into free text.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Role selects which configured model a completer uses.
type Role int

const (
	RoleRouter Role = iota
	RoleAnswer
)

// FromConfig builds the completer for role, or nil when the provider is "none"
// or no key is configured. Callers treat a nil Completer as an unavailable model.
func FromConfig(cfg *config.Config, role Role) Completer {
	switch cfg.LLM.Provider {
	case "anthropic":
		if cfg.Anthropic.Key == "" {
			return nil
		}
		model := cfg.Anthropic.RouterModel
		if role == RoleAnswer {
			model = cfg.Anthropic.AnswerModel
		}
		return NewAnthropic(anthropic.NewClient(cfg.Anthropic.Key), model)
	case "openai":
		if cfg.OpenAI.Key == "" {
			return nil
		}
		model := cfg.OpenAI.RouterModel
		if role == RoleAnswer {
			model = cfg.OpenAI.AnswerModel
		}
		return NewOpenAI(cfg.OpenAI.Key, cfg.OpenAI.BaseURL, model)
	}
	return nil
}

// markTransient wraps provider errors whose status code is retryable.
func markTransient(err error, status int) error {
	if resilience.IsTransientHTTPStatus(status) {
		return resilience.NewTransientError(err, status)
	}
	return err
}
