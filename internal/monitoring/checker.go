package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/query-router/internal/config"
)

// Checker evaluates request health on a fixed interval and posts an alert
// when a condition starts firing. A condition that stays above its threshold
// is not re-sent until it has cleared once.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig

	mu     sync.Mutex
	firing map[AlertType]bool
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		firing:    make(map[AlertType]bool),
	}
}

// Run checks request health every check_interval_secs until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("monitoring: request health checker started",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
		zap.Int("sample_size", c.cfg.SampleSize),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("monitoring: request health checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check collects one snapshot and returns every alert whose condition holds.
// Windows with fewer than minRequests requests are skipped. Only alerts that
// were not already firing on the previous check are delivered.
func (c *Checker) Check(ctx context.Context) []Alert {
	log := zap.L().With(zap.String("component", "monitoring.checker"))

	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("monitoring: failed to read request log", zap.Error(err))
		return nil
	}
	if snap.Total < minRequests {
		log.Debug("monitoring: too few requests to judge health",
			zap.Int("requests", snap.Total),
			zap.Int("min_requests", minRequests),
		)
		return nil
	}

	log.Debug("monitoring: request health",
		zap.Int("requests", snap.Total),
		zap.Float64("degraded_rate", snap.DegradedRate),
		zap.Float64("fallback_rate", snap.FallbackRate),
		zap.Any("by_route", snap.ByRoute),
		zap.Int("files_failed", snap.FilesFailed),
	)

	alerts := c.alerter.Evaluate(snap)
	fresh := c.transition(alerts)
	if len(alerts) == 0 {
		return nil
	}

	for _, a := range alerts {
		log.Warn("monitoring: alert condition holds",
			zap.String("type", string(a.Type)),
			zap.String("message", a.Message),
			zap.Bool("new", containsType(fresh, a.Type)),
		)
	}
	if len(fresh) == 0 {
		return alerts
	}
	sent := c.alerter.SendAlerts(ctx, fresh)
	log.Info("monitoring: alerts delivered",
		zap.Int("alerts_new", len(fresh)),
		zap.Int("alerts_sent", sent),
	)
	return alerts
}

// transition records which alert types are firing now and returns the alerts
// that were not firing on the previous check.
func (c *Checker) transition(alerts []Alert) []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := make(map[AlertType]bool, len(alerts))
	var fresh []Alert
	for _, a := range alerts {
		now[a.Type] = true
		if !c.firing[a.Type] {
			fresh = append(fresh, a)
		}
	}
	c.firing = now
	return fresh
}

func containsType(alerts []Alert, t AlertType) bool {
	for _, a := range alerts {
		if a.Type == t {
			return true
		}
	}
	return false
}
