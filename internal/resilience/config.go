package resilience

import (
	"time"

	"github.com/sells-group/query-router/internal/config"
)

// FromConfig builds the call policy shared by every external collaborator.
func FromConfig(cfg *config.Config) Policy {
	p := DefaultPolicy(cfg.Timeouts.Call())
	if cfg.Retry.MaxAttempts > 0 {
		p.MaxAttempts = cfg.Retry.MaxAttempts
	}
	if cfg.Retry.InitialMS > 0 {
		p.InitialBackoff = time.Duration(cfg.Retry.InitialMS) * time.Millisecond
	}
	if cfg.Retry.MaxBackoffMS > 0 {
		p.MaxBackoff = time.Duration(cfg.Retry.MaxBackoffMS) * time.Millisecond
	}
	return p
}
