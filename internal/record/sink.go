package record

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// Sink appends records to a JSONL file, one line per record. Appends
// are serialized so records from concurrent probe workers interleave at
// record granularity, never within a line.
type Sink struct {
	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer
}

// NewSink opens (creating parent directories if needed) the log file
// for appending.
func NewSink(path string) (*Sink, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &Sink{file: file, w: bufio.NewWriter(file)}, nil
}

// Append writes one record and flushes, so a crash loses at most the
// record being written.
func (s *Sink) Append(rec BurstRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(data); err != nil {
		return err
	}
	return s.w.Flush()
}

// Close flushes and closes the underlying file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		_ = s.file.Close()
		return err
	}
	return s.file.Close()
}
