// Package reqlog records one structured entry per completed request.
package reqlog

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/query-router/internal/config"
	"github.com/sells-group/query-router/internal/model"
)

// Sink names accepted in reqlog.sink.
const (
	SinkLog    = "log"
	SinkJSONL  = "jsonl"
	SinkSQLite = "sqlite"
	SinkNone   = "none"
)

// Sink persists request logs. Callers treat a Write error as non-fatal.
type Sink interface {
	Write(ctx context.Context, entry model.RequestLog) error
	Close() error
}

// DefaultRecentLimit is the number of entries Recent returns for a
// non-positive limit.
const DefaultRecentLimit = 50

// Reader is implemented by sinks that can list what they stored. Recent
// returns at most limit entries, newest first, or DefaultRecentLimit when
// limit is not positive.
type Reader interface {
	Recent(ctx context.Context, limit int) ([]model.RequestLog, error)
}

// ZapSink writes each entry as one structured log line.
type ZapSink struct {
	log *zap.Logger
}

// NewZapSink logs through l, or the global logger when l is nil.
func NewZapSink(l *zap.Logger) *ZapSink {
	if l == nil {
		l = zap.L()
	}
	return &ZapSink{log: l}
}

func (s *ZapSink) Write(_ context.Context, e model.RequestLog) error {
	s.log.Info("reqlog: request completed",
		zap.String("request_id", e.RequestID),
		zap.String("query", e.Query),
		zap.Strings("files", e.Files),
		zap.String("route", string(e.Decision.Route)),
		zap.String("decision_source", string(e.Decision.Source)),
		zap.Int("search_count", e.SearchCount),
		zap.Int("retrieve_count", e.RetrieveCount),
		zap.Float64("confidence", e.Result.Confidence),
		zap.Bool("degraded", e.Result.Degraded),
		zap.Any("timings_ms", e.Timings),
	)
	return nil
}

func (s *ZapSink) Close() error { return nil }

// Nop discards entries.
type Nop struct{}

func (Nop) Write(context.Context, model.RequestLog) error { return nil }
func (Nop) Close() error                                  { return nil }

// NewFromConfig opens the configured sink.
func NewFromConfig(ctx context.Context, cfg config.ReqLogConfig) (Sink, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Sink)) {
	case "", SinkLog:
		return NewZapSink(nil), nil
	case SinkNone:
		return Nop{}, nil
	case SinkJSONL:
		return NewJSONL(cfg.Path)
	case SinkSQLite:
		s, err := NewSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close() //nolint:errcheck
			return nil, err
		}
		return s, nil
	}
	return nil, eris.Errorf("reqlog: unknown sink %q", cfg.Sink)
}
