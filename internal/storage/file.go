package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "briefbot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Layout: a single <prefix>.events.jsonl file, append-only. Deletions are
// logical (a cutoff tracked in memory and applied on load) until enough
// writes accumulate, then the file is compacted in place via tmp+rename.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	path string
	f    *os.File

	// cutoff is the highest DeleteEventsBefore() watermark seen.
	// Records older than it are invisible even before compaction runs.
	cutoff time.Time

	writes int
}

const compactEvery = 512

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	eventsPath := filepath.Join(dir, base+".events.jsonl")

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(eventsPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{log: log, path: eventsPath, f: f}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) AppendEvent(ctx context.Context, e EventRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("events file closed")
	}
	if err := json.NewEncoder(s.f).Encode(e); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 && !s.cutoff.IsZero() {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("events compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) LoadEventsSince(ctx context.Context, since time.Time) ([]EventRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cutoff.IsZero() && s.cutoff.After(since) {
		since = s.cutoff
	}
	return s.readSinceLocked(since)
}

func (s *fileStore) DeleteEventsBefore(ctx context.Context, cutoff time.Time) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if cutoff.After(s.cutoff) {
		s.cutoff = cutoff
	}
	return nil
}

func (s *fileStore) readSinceLocked(since time.Time) ([]EventRecord, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []EventRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e EventRecord
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			// A torn tail write is tolerable; skip the line.
			continue
		}
		if e.ReceivedAt.Before(since) {
			continue
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

func (s *fileStore) compactLocked() error {
	kept, err := s.readSinceLocked(s.cutoff)
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, e := range kept {
		if err := enc.Encode(e); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}

	// Reopen the live handle on the compacted file.
	if s.f != nil {
		_ = s.f.Close()
	}
	nf, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		s.f = nil
		return err
	}
	s.f = nf
	return nil
}
