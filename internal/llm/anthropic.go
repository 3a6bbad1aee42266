package llm

import (
	"context"
	"strings"

	"github.com/sells-group/query-router/pkg/anthropic"
)

// Anthropic is a Completer backed by the Messages API.
type Anthropic struct {
	client anthropic.Client
	model  string
}

// NewAnthropic wraps client for the given model.
func NewAnthropic(client anthropic.Client, model string) *Anthropic {
	return &Anthropic{client: client, model: model}
}

// Complete sends one user turn and returns the concatenated text reply.
func (a *Anthropic) Complete(ctx context.Context, req Request) (string, error) {
	temp := req.Temperature
	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       a.model,
		MaxTokens:   req.MaxTokens,
		System:      req.System,
		Temperature: &temp,
		Messages:    []anthropic.Message{{Role: "user", Content: req.Prompt}},
	})
	if err != nil {
		return "", markTransient(err, anthropic.StatusCode(err))
	}

	resp.Usage.LogCost(a.model, req.Stage)

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}
