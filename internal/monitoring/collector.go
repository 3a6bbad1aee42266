// Package monitoring summarizes recent requests and raises alerts when the
// service degrades.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/query-router/internal/model"
	"github.com/sells-group/query-router/internal/reqlog"
)

// MetricsSnapshot holds a point-in-time view of request health.
type MetricsSnapshot struct {
	Total         int            `json:"total"`
	Degraded      int            `json:"degraded"`
	DegradedRate  float64        `json:"degraded_rate"`
	RuleFallback  int            `json:"rule_fallback"`
	FallbackRate  float64        `json:"fallback_rate"`
	ByRoute       map[string]int `json:"by_route"`
	AvgConfidence float64        `json:"avg_confidence"`
	AvgLatencyMS  int64          `json:"avg_latency_ms"`
	FilesFailed   int            `json:"files_failed"`
	FilesTotal    int            `json:"files_total"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector reads the request log.
type Collector struct {
	reader reqlog.Reader
	sample int
	now    func() time.Time
}

// NewCollector creates a collector that looks at most sample entries back.
func NewCollector(reader reqlog.Reader, sample int) *Collector {
	if sample <= 0 {
		sample = 1000
	}
	return &Collector{reader: reader, sample: sample, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window. A
// non-positive window covers the whole sample.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		ByRoute:       make(map[string]int),
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	entries, err := c.reader.Recent(ctx, c.sample)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list requests")
	}

	var cutoff time.Time
	if lookbackHours > 0 {
		cutoff = now.Add(-time.Duration(lookbackHours) * time.Hour)
	}

	var totalConfidence float64
	var totalLatency int64
	for _, e := range entries {
		if !cutoff.IsZero() && e.CreatedAt.Before(cutoff) {
			continue
		}
		snap.Total++
		snap.ByRoute[string(e.Decision.Route)]++
		if e.Result.Degraded {
			snap.Degraded++
		}
		if e.Decision.Source == model.SourceRuleFallback {
			snap.RuleFallback++
		}
		totalConfidence += e.Result.Confidence
		totalLatency += e.Timings["total"]
		for _, f := range e.FileReports {
			snap.FilesTotal++
			if !f.Success {
				snap.FilesFailed++
			}
		}
	}

	if snap.Total > 0 {
		snap.DegradedRate = float64(snap.Degraded) / float64(snap.Total)
		snap.FallbackRate = float64(snap.RuleFallback) / float64(snap.Total)
		snap.AvgConfidence = totalConfidence / float64(snap.Total)
		snap.AvgLatencyMS = totalLatency / int64(snap.Total)
	}
	return snap, nil
}
