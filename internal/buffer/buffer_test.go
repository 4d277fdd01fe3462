package buffer

import (
	"context"
	"sync"
	"testing"
	"time"

	"briefbot/internal/storage"
	logx "briefbot/pkg/logx"
)

const testChannel = "123456"

func newTestBuffer(window time.Duration) *Buffer {
	return New(Config{SourceChannelID: testChannel, Window: window}, nil, logx.Nop())
}

func ev(id string, at time.Time) Event {
	return Event{
		ID:         id,
		AuthorID:   "42",
		AuthorName: "alice",
		Content:    "hello",
		ReceivedAt: at,
		ChannelID:  testChannel,
	}
}

func TestRecordFilters(t *testing.T) {
	t.Parallel()
	b := newTestBuffer(24 * time.Hour)
	now := time.Now()

	tests := []struct {
		name   string
		event  Event
		bot    bool
		accept bool
	}{
		{name: "ok", event: ev("1", now), accept: true},
		{name: "bot author", event: ev("2", now), bot: true, accept: false},
		{name: "wrong channel", event: func() Event {
			e := ev("3", now)
			e.ChannelID = "999"
			return e
		}(), accept: false},
		{name: "missing id", event: func() Event {
			e := ev("", now)
			return e
		}(), accept: false},
	}

	for _, tt := range tests {
		if got := b.Record(tt.event, tt.bot); got != tt.accept {
			t.Fatalf("%s: Record = %v, want %v", tt.name, got, tt.accept)
		}
	}
	if n := b.Len(); n != 1 {
		t.Fatalf("Len = %d, want 1", n)
	}
}

func TestWindowSelectsExactRange(t *testing.T) {
	t.Parallel()
	b := newTestBuffer(24 * time.Hour)
	now := time.Now()

	b.Record(ev("old", now.Add(-30*time.Hour)), false) // pruned on record
	b.Record(ev("a", now.Add(-3*time.Hour)), false)
	b.Record(ev("b", now.Add(-time.Hour)), false)
	b.Record(ev("c", now.Add(-10*time.Minute)), false)

	got := b.Window(now, 24*time.Hour)
	if len(got) != 3 {
		t.Fatalf("window(24h) = %d events, want 3", len(got))
	}
	for i, want := range []string{"a", "b", "c"} {
		if got[i].ID != want {
			t.Fatalf("window(24h)[%d] = %s, want %s", i, got[i].ID, want)
		}
	}

	got = b.Window(now, 2*time.Hour)
	if len(got) != 2 {
		t.Fatalf("window(2h) = %d events, want 2", len(got))
	}
	if got[0].ID != "b" || got[1].ID != "c" {
		t.Fatalf("window(2h) = %s,%s, want b,c", got[0].ID, got[1].ID)
	}
}

func TestWindowResortsOutOfOrderIngest(t *testing.T) {
	t.Parallel()
	b := newTestBuffer(24 * time.Hour)
	now := time.Now()

	// Replayed history may arrive newest-first.
	b.Record(ev("late", now.Add(-time.Minute)), false)
	b.Record(ev("early", now.Add(-time.Hour)), false)

	got := b.Window(now, 24*time.Hour)
	if len(got) != 2 || got[0].ID != "early" || got[1].ID != "late" {
		t.Fatalf("window not chronological: %+v", got)
	}
}

func TestPruneIdempotent(t *testing.T) {
	t.Parallel()
	b := newTestBuffer(24 * time.Hour)
	now := time.Now()

	b.Record(ev("a", now.Add(-3*time.Hour)), false)
	b.Record(ev("b", now.Add(-10*time.Minute)), false)

	b.Prune(now, time.Hour)
	first := b.Len()
	b.Prune(now, time.Hour)
	second := b.Len()

	if first != 1 || second != 1 {
		t.Fatalf("prune counts = %d,%d, want 1,1", first, second)
	}
}

// memStore is an in-memory storage.Store for rehydration tests.
type memStore struct {
	mu   sync.Mutex
	recs []storage.EventRecord
}

func (m *memStore) AppendEvent(_ context.Context, e storage.EventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, e)
	return nil
}

func (m *memStore) LoadEventsSince(_ context.Context, since time.Time) ([]storage.EventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.EventRecord
	for _, r := range m.recs {
		if !r.ReceivedAt.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) DeleteEventsBefore(_ context.Context, cutoff time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.recs[:0]
	for _, r := range m.recs {
		if !r.ReceivedAt.Before(cutoff) {
			kept = append(kept, r)
		}
	}
	m.recs = kept
	return nil
}

func (m *memStore) Close() error { return nil }

func TestRehydrateRestoresWindow(t *testing.T) {
	t.Parallel()
	store := &memStore{}
	now := time.Now()

	first := New(Config{SourceChannelID: testChannel, Window: 24 * time.Hour}, store, logx.Nop())
	first.Record(ev("a", now.Add(-2*time.Hour)), false)
	first.Record(ev("b", now.Add(-time.Minute)), false)

	// Simulated restart: a fresh buffer over the same store.
	second := New(Config{SourceChannelID: testChannel, Window: 24 * time.Hour}, store, logx.Nop())
	if err := second.Rehydrate(context.Background(), now); err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}
	if n := second.Len(); n != 2 {
		t.Fatalf("Len after rehydrate = %d, want 2", n)
	}
}
