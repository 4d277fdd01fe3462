// Package buffer holds the sliding-window retention buffer of channel events.
//
// One buffer instance is owned by the app and shared between the gateway
// session (ingest) and the trigger (window selection). Both sides are real
// goroutines, so mutation and reads are mutex-guarded.
package buffer

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"briefbot/internal/storage"
	logx "briefbot/pkg/logx"
)

// Event is one accepted inbound message. Immutable once stored.
type Event struct {
	ID         string
	AuthorID   string
	AuthorName string
	Content    string
	ReceivedAt time.Time
	ChannelID  string
}

type Config struct {
	// SourceChannelID is the only channel whose messages are retained.
	SourceChannelID string
	// Window is the retention duration; events older than now-Window are pruned.
	Window time.Duration
}

type Buffer struct {
	mu     sync.Mutex
	cfg    Config
	events []Event

	store storage.Store // may be nil (memory-only)
	log   logx.Logger
}

func New(cfg Config, store storage.Store, log logx.Logger) *Buffer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Buffer{cfg: cfg, store: store, log: log}
}

// WindowDuration returns the configured retention window.
func (b *Buffer) WindowDuration() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg.Window
}

// Record appends ev in arrival order. Events from other channels and events
// authored by bots are rejected here, not filtered later. Returns whether the
// event was accepted. Pruning runs opportunistically on every accepted record.
func (b *Buffer) Record(ev Event, authorIsBot bool) bool {
	if authorIsBot {
		return false
	}
	if strings.TrimSpace(ev.ID) == "" {
		return false
	}

	b.mu.Lock()
	if ev.ChannelID != b.cfg.SourceChannelID {
		b.mu.Unlock()
		return false
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}
	b.events = append(b.events, ev)
	b.pruneLocked(time.Now(), b.cfg.Window)
	store := b.store
	b.mu.Unlock()

	if store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := store.AppendEvent(ctx, toRecord(ev)); err != nil {
			b.log.Warn("event persist failed", logx.String("id", ev.ID), logx.Err(err))
		}
		cancel()
	}
	return true
}

// Window returns all events with ReceivedAt >= now-d, oldest first.
// The result is re-sorted by ReceivedAt so replayed or out-of-order ingests
// still come back chronological.
func (b *Buffer) Window(now time.Time, d time.Duration) []Event {
	cutoff := now.Add(-d)

	b.mu.Lock()
	out := make([]Event, 0, len(b.events))
	for _, ev := range b.events {
		if !ev.ReceivedAt.Before(cutoff) {
			out = append(out, ev)
		}
	}
	b.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ReceivedAt.Before(out[j].ReceivedAt)
	})
	return out
}

// Prune drops events strictly older than now-d. Idempotent.
func (b *Buffer) Prune(now time.Time, d time.Duration) {
	b.mu.Lock()
	b.pruneLocked(now, d)
	store := b.store
	b.mu.Unlock()

	if store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := store.DeleteEventsBefore(ctx, now.Add(-d)); err != nil {
			b.log.Warn("event prune persist failed", logx.Err(err))
		}
		cancel()
	}
}

func (b *Buffer) pruneLocked(now time.Time, d time.Duration) {
	cutoff := now.Add(-d)
	kept := b.events[:0]
	for _, ev := range b.events {
		if !ev.ReceivedAt.Before(cutoff) {
			kept = append(kept, ev)
		}
	}
	// Zero the tail so dropped events do not pin memory.
	for i := len(kept); i < len(b.events); i++ {
		b.events[i] = Event{}
	}
	b.events = kept
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Rehydrate loads the in-window tail from the store after a restart.
// It replaces the in-memory slice; call before the session starts ingesting.
func (b *Buffer) Rehydrate(ctx context.Context, now time.Time) error {
	b.mu.Lock()
	store := b.store
	window := b.cfg.Window
	b.mu.Unlock()
	if store == nil {
		return nil
	}

	recs, err := store.LoadEventsSince(ctx, now.Add(-window))
	if err != nil {
		return err
	}
	events := make([]Event, 0, len(recs))
	for _, r := range recs {
		events = append(events, fromRecord(r))
	}

	b.mu.Lock()
	b.events = events
	b.pruneLocked(now, window)
	n := len(b.events)
	b.mu.Unlock()

	b.log.Info("buffer rehydrated", logx.Int("events", n))
	return nil
}

func toRecord(ev Event) storage.EventRecord {
	return storage.EventRecord{
		ID:         ev.ID,
		ChannelID:  ev.ChannelID,
		AuthorID:   ev.AuthorID,
		AuthorName: ev.AuthorName,
		Content:    ev.Content,
		ReceivedAt: ev.ReceivedAt,
	}
}

func fromRecord(r storage.EventRecord) Event {
	return Event{
		ID:         r.ID,
		ChannelID:  r.ChannelID,
		AuthorID:   r.AuthorID,
		AuthorName: r.AuthorName,
		Content:    r.Content,
		ReceivedAt: r.ReceivedAt,
	}
}
