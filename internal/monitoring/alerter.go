package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/query-router/internal/config"
	"github.com/sells-group/query-router/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertDegradedRate AlertType = "degraded_rate"
	AlertFallbackRate AlertType = "rule_fallback_rate"
)

// minRequests is the sample below which rates are not alerted on.
const minRequests = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	policy resilience.Policy
}

// AlerterOption configures an Alerter.
type AlerterOption func(*Alerter)

// WithDeliveryPolicy sets the timeout and retry policy for webhook posts.
func WithDeliveryPolicy(p resilience.Policy) AlerterOption {
	return func(a *Alerter) { a.policy = p }
}

// NewAlerter creates a new Alerter with the given monitoring config. Webhook
// posts are retried on 429 and 5xx responses.
func NewAlerter(cfg config.MonitoringConfig, opts ...AlerterOption) *Alerter {
	p := resilience.DefaultPolicy(10 * time.Second)
	p.MaxAttempts = 3
	a := &Alerter{
		cfg:    cfg,
		client: &http.Client{},
		policy: p,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	if snap.Total < minRequests {
		return nil
	}

	var alerts []Alert
	now := time.Now().UTC()

	// Most answers missing evidence: backends or model are down.
	if a.cfg.DegradedRateThreshold > 0 && snap.DegradedRate > a.cfg.DegradedRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertDegradedRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Degraded answer rate %.1f%% exceeds threshold %.1f%% (%d of %d requests in last %dh)",
				snap.DegradedRate*100, a.cfg.DegradedRateThreshold*100,
				snap.Degraded, snap.Total, snap.LookbackHours,
			),
			Details: map[string]any{
				"degraded_rate": snap.DegradedRate,
				"threshold":     a.cfg.DegradedRateThreshold,
				"degraded":      snap.Degraded,
				"total":         snap.Total,
			},
			Timestamp: now,
		})
	}

	// The router model is failing and rules are doing the work.
	if a.cfg.FallbackRateThreshold > 0 && snap.FallbackRate > a.cfg.FallbackRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFallbackRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Rule fallback rate %.1f%% exceeds threshold %.1f%% in last %dh",
				snap.FallbackRate*100, a.cfg.FallbackRateThreshold*100, snap.LookbackHours,
			),
			Details: map[string]any{
				"fallback_rate": snap.FallbackRate,
				"threshold":     a.cfg.FallbackRateThreshold,
				"rule_fallback": snap.RuleFallback,
				"total":         snap.Total,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL under the delivery
// policy.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	p := a.policy
	p.OnRetry = resilience.RetryLogger("webhook", string(alert.Type))
	return resilience.Do(ctx, p, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
		if err != nil {
			return eris.Wrap(err, "monitoring: create webhook request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.client.Do(req)
		if err != nil {
			return eris.Wrap(err, "monitoring: webhook request")
		}
		defer resp.Body.Close() //nolint:errcheck

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resilience.CheckStatus("monitoring: webhook", resp.StatusCode, body)
	})
}
