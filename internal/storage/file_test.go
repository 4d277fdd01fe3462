package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "briefbot/pkg/logx"
)

func openTestFileStore(t *testing.T) (Store, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "briefbot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, filepath.Join(dir, "briefbot.events.jsonl")
}

func rec(id string, at time.Time) EventRecord {
	return EventRecord{
		ID:         id,
		ChannelID:  "chan-1",
		AuthorID:   "7",
		AuthorName: "alice",
		Content:    "hello",
		ReceivedAt: at,
	}
}

func TestOpenDisabled(t *testing.T) {
	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", driver, st, err)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver must error")
	}
}

func TestFileAppendAndLoad(t *testing.T) {
	st, eventsPath := openTestFileStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		if err := st.AppendEvent(ctx, rec(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	got, err := st.LoadEventsSince(ctx, base.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("LoadEventsSince: %v", err)
	}
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "c" {
		t.Fatalf("unexpected records: %+v", got)
	}
	if got[0].AuthorName != "alice" || got[0].ChannelID != "chan-1" {
		t.Fatalf("fields lost in round trip: %+v", got[0])
	}

	if _, err := os.Stat(eventsPath); err != nil {
		t.Fatalf("events file missing: %v", err)
	}
}

func TestFileDeleteBeforeIsLogical(t *testing.T) {
	st, _ := openTestFileStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	if err := st.AppendEvent(ctx, rec("old", base)); err != nil {
		t.Fatal(err)
	}
	if err := st.AppendEvent(ctx, rec("new", base.Add(2*time.Hour))); err != nil {
		t.Fatal(err)
	}
	if err := st.DeleteEventsBefore(ctx, base.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	// Loading from before the cutoff must not resurrect deleted records.
	got, err := st.LoadEventsSince(ctx, base.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "new" {
		t.Fatalf("cutoff not applied: %+v", got)
	}
}

func TestFileToleratesTornTailLine(t *testing.T) {
	st, eventsPath := openTestFileStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	if err := st.AppendEvent(ctx, rec("good", base)); err != nil {
		t.Fatal(err)
	}
	// Simulate a crash mid-append.
	f, err := os.OpenFile(eventsPath, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(`{"id":"torn","received`); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()

	got, err := st.LoadEventsSince(ctx, base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("LoadEventsSince: %v", err)
	}
	if len(got) != 1 || got[0].ID != "good" {
		t.Fatalf("torn line not skipped: %+v", got)
	}
}

func TestFileSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Driver: "file", Path: filepath.Join(dir, "briefbot.db")}
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := st.AppendEvent(ctx, rec("persisted", base)); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	st2, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st2.Close()
	got, err := st2.LoadEventsSince(ctx, base.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "persisted" {
		t.Fatalf("records lost across reopen: %+v", got)
	}
}

func TestFileAppendAfterCloseFails(t *testing.T) {
	st, _ := openTestFileStore(t)
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}
	if err := st.AppendEvent(context.Background(), rec("x", time.Now())); err == nil {
		t.Fatal("append after close must fail")
	}
}
