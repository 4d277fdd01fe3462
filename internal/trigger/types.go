package trigger

import (
	"context"
	"time"

	"briefbot/internal/buffer"
)

type Mode string

const (
	// ModeHour fires at the next occurrence of a configured hour-of-day (UTC).
	ModeHour Mode = "hour"
	// ModeCron fires per a cron schedule expression.
	ModeCron Mode = "cron"
)

// EmptyWindowBehavior selects what a firing does over an empty window.
type EmptyWindowBehavior string

const (
	EmptySkip   EmptyWindowBehavior = "skip"
	EmptyNotify EmptyWindowBehavior = "notify"
)

type Config struct {
	Enabled  bool
	Mode     Mode
	Hour     int    // ModeHour: target hour-of-day, UTC
	Schedule string // ModeCron: cron spec ("0 9 * * *", "@every 6h", ...)

	EmptyWindow EmptyWindowBehavior // defaults to EmptySkip

	// KeepaliveInterval > 0 runs a recurring tick calling
	// Keepalive.EnsureConnected (the deferred reconnect strategy).
	KeepaliveInterval time.Duration
}

// WindowSource is the retention buffer surface the trigger reads.
type WindowSource interface {
	Window(now time.Time, d time.Duration) []buffer.Event
	Prune(now time.Time, d time.Duration)
	WindowDuration() time.Duration
}

// Renderer turns the selected window into digest text.
type Renderer interface {
	Render(events []buffer.Event, window time.Duration) string
	RenderEmpty(window time.Duration) string
}

// Delivery sends a rendered digest's chunks. One error covers the whole digest.
type Delivery interface {
	Deliver(ctx context.Context, chunks []string) error
}

// Keepalive is the session surface the deferred reconnect tick drives.
type Keepalive interface {
	EnsureConnected(ctx context.Context) error
}

// Result records the outcome of the most recent firing (for status).
type Result struct {
	RunID    string
	At       time.Time
	Events   int
	Chunks   int
	Skipped  bool
	Error    string
	Duration time.Duration
}
