package reqlog

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/query-router/internal/model"
)

// JSONL appends one JSON object per line to a file.
type JSONL struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// NewJSONL opens path for appending, creating parent directories.
func NewJSONL(path string) (*JSONL, error) {
	if path == "" {
		return nil, eris.New("reqlog: jsonl sink needs reqlog.path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, eris.Wrapf(err, "reqlog: create dir for %s", path)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, eris.Wrapf(err, "reqlog: open %s", path)
	}
	return &JSONL{path: path, f: f}, nil
}

func (s *JSONL) Write(_ context.Context, e model.RequestLog) error {
	line, err := json.Marshal(e)
	if err != nil {
		return eris.Wrap(err, "reqlog: marshal entry")
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.Write(line); err != nil {
		return eris.Wrapf(err, "reqlog: write %s", s.path)
	}
	return nil
}

// Recent reads the file back and returns the last limit entries, newest
// first. Malformed lines are skipped.
func (s *JSONL) Recent(_ context.Context, limit int) ([]model.RequestLog, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		return nil, eris.Wrapf(err, "reqlog: open %s", s.path)
	}
	defer f.Close() //nolint:errcheck

	var all []model.RequestLog
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for sc.Scan() {
		var e model.RequestLog
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		all = append(all, e)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrapf(err, "reqlog: scan %s", s.path)
	}

	out := make([]model.RequestLog, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if len(out) >= limit {
			break
		}
		out = append(out, all[i])
	}
	return out, nil
}

func (s *JSONL) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
