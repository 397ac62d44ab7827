package eventlog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"QuantSim/internal/domain/models"
)

// jsonlEvent pins the timestamp to RFC 3339 in UTC.
type jsonlEvent struct {
	models.TradeEvent
	Timestamp string `json:"timestamp"`
}

// JSONLSink appends events as JSON lines. The file is opened on first write.
type JSONLSink struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *bufio.Writer
	enc  *json.Encoder
}

func NewJSONLSink(path string) *JSONLSink {
	return &JSONLSink{path: path}
}

func (s *JSONLSink) Name() string { return "jsonl" }

func (s *JSONLSink) Path() string { return s.path }

func (s *JSONLSink) open() error {
	if s.file != nil {
		return nil
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create event log dir: %w", err)
		}
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	s.file = f
	s.w = bufio.NewWriter(f)
	s.enc = json.NewEncoder(s.w)
	return nil
}

func (s *JSONLSink) WriteEvents(_ context.Context, events []models.TradeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.open(); err != nil {
		return err
	}
	for _, ev := range events {
		rec := jsonlEvent{TradeEvent: ev, Timestamp: ev.Timestamp.UTC().Format(time.RFC3339)}
		if err := s.enc.Encode(rec); err != nil {
			return fmt.Errorf("encode event %d: %w", ev.Seq, err)
		}
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("flush event log: %w", err)
	}
	return nil
}

func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	flushErr := s.w.Flush()
	err := s.file.Close()
	s.file = nil
	if flushErr != nil {
		return flushErr
	}
	return err
}

// ReadJSONL decodes a file written by JSONLSink.
func ReadJSONL(path string) ([]models.TradeEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []models.TradeEvent
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		var rec jsonlEvent
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("decode event line: %w", err)
		}
		ev := rec.TradeEvent
		ts, err := time.Parse(time.RFC3339, rec.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("decode event timestamp: %w", err)
		}
		ev.Timestamp = ts
		out = append(out, ev)
	}
	return out, sc.Err()
}
