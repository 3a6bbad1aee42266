package reqlog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/query-router/internal/config"
	"github.com/sells-group/query-router/internal/model"
)

func entry(id string, at time.Time) model.RequestLog {
	return model.RequestLog{
		RequestID: id,
		Query:     "what is the capital of France?",
		Decision: model.RoutingDecision{
			Route:      model.RouteSearch,
			Confidence: 0.9,
			Source:     model.SourceModel,
		},
		SearchCount: 3,
		Timings:     map[string]int64{"classify": 12, "search": 340},
		Result:      model.SynthesisResult{Answer: "Paris [1].", Confidence: 0.7},
		CreatedAt:   at,
	}
}

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "requests.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestSQLite_WriteAndRecent(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Write(ctx, entry("a", base)))
	require.NoError(t, s.Write(ctx, entry("b", base.Add(time.Minute))))
	require.NoError(t, s.Write(ctx, entry("c", base.Add(2*time.Minute))))

	got, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].RequestID)
	assert.Equal(t, "b", got[1].RequestID)
	assert.Equal(t, model.RouteSearch, got[0].Decision.Route)
	assert.Equal(t, int64(340), got[0].Timings["search"])
}

func TestSQLite_WriteSameIDReplaces(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	e := entry("a", time.Now())
	require.NoError(t, s.Write(ctx, e))
	e.Result.Answer = "updated"
	require.NoError(t, s.Write(ctx, e))

	got, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "updated", got[0].Result.Answer)
}

func TestJSONL_AppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "requests.jsonl")
	s, err := NewJSONL(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Write(ctx, entry("a", time.Now())))
	require.NoError(t, s.Write(ctx, entry("b", time.Now())))

	got, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].RequestID)
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"request_id":"a"`)
}

func TestRecent_NonPositiveLimitIsConsistent(t *testing.T) {
	jsonl, err := NewJSONL(filepath.Join(t.TempDir(), "requests.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { jsonl.Close() }) //nolint:errcheck

	sinks := map[string]interface {
		Sink
		Reader
	}{
		"jsonl":  jsonl,
		"sqlite": newTestSQLite(t),
	}

	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	total := DefaultRecentLimit + 5

	for name, s := range sinks {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < total; i++ {
				require.NoError(t, s.Write(ctx, entry(fmt.Sprintf("r%02d", i), base.Add(time.Duration(i)*time.Second))))
			}
			for _, limit := range []int{0, -1} {
				got, err := s.Recent(ctx, limit)
				require.NoError(t, err)
				require.Len(t, got, DefaultRecentLimit, "limit=%d", limit)
				assert.Equal(t, fmt.Sprintf("r%02d", total-1), got[0].RequestID)
			}

			got, err := s.Recent(ctx, total+10)
			require.NoError(t, err)
			assert.Len(t, got, total)
		})
	}
}

func TestZapSink(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := NewZapSink(zap.New(core))

	require.NoError(t, s.Write(context.Background(), entry("a", time.Now())))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "a", fields["request_id"])
	assert.Equal(t, "SEARCH", fields["route"])
}

func TestNewFromConfig(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewFromConfig(ctx, config.ReqLogConfig{Sink: "log"})
	require.NoError(t, err)
	assert.IsType(t, &ZapSink{}, s)

	s, err = NewFromConfig(ctx, config.ReqLogConfig{Sink: "none"})
	require.NoError(t, err)
	assert.IsType(t, Nop{}, s)

	s, err = NewFromConfig(ctx, config.ReqLogConfig{Sink: "sqlite", Path: filepath.Join(dir, "r.db")})
	require.NoError(t, err)
	_, ok := s.(Reader)
	assert.True(t, ok)
	require.NoError(t, s.Close())

	_, err = NewFromConfig(ctx, config.ReqLogConfig{Sink: "jsonl"})
	assert.Error(t, err)

	_, err = NewFromConfig(ctx, config.ReqLogConfig{Sink: "kafka"})
	assert.ErrorContains(t, err, "kafka")
}
