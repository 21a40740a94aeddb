package output

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gaurav-prasanna/pagecaption/core"
)

// DefaultPath is the caption file written by a run.
const DefaultPath = "captions.txt"

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("sink closed")

// Sink is the append-only caption file. Each run truncates it once at open,
// and every Append is synced to disk before it returns, so an interrupted run
// keeps all lines recorded so far.
type Sink struct {
	mu    sync.Mutex
	f     *os.File
	path  string
	count int
}

// OpenSink creates or truncates the caption file at path.
func OpenSink(path string) (*Sink, error) {
	if path == "" {
		path = DefaultPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return &Sink{f: f, path: path}, nil
}

// Append writes one "<url>: <caption>" line and syncs it.
func (s *Sink) Append(rec core.CaptionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return ErrClosed
	}
	if _, err := s.f.WriteString(rec.Line()); err != nil {
		return fmt.Errorf("writing %s: %w", s.path, err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", s.path, err)
	}
	s.count++
	return nil
}

// Count returns the number of lines appended.
func (s *Sink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Path returns the file path of the sink.
func (s *Sink) Path() string {
	return s.path
}

// Close closes the file. It is safe to call more than once.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
