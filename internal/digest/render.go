// Package digest renders a window of retained events into delivery-ready text.
package digest

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"briefbot/internal/buffer"
)

const (
	// maxLineContent caps the rendered content of a single event line.
	maxLineContent = 100

	// emptyContentPlaceholder stands in for messages whose content trims to
	// nothing (attachments, embeds, stickers).
	emptyContentPlaceholder = "[attachment or embed]"
)

// Renderer turns a window of events into the digest text.
// A Renderer is stateless; every call computes the digest fresh.
type Renderer struct {
	loc *time.Location
}

func NewRenderer(loc *time.Location) *Renderer {
	if loc == nil {
		loc = time.Local
	}
	return &Renderer{loc: loc}
}

// Render produces the digest over events for the given window duration.
// Events are re-sorted oldest→newest before rendering, so callers may pass
// them in any order.
func (r *Renderer) Render(events []buffer.Event, window time.Duration) string {
	sorted := make([]buffer.Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ReceivedAt.Before(sorted[j].ReceivedAt)
	})

	var b strings.Builder
	b.WriteString(header(window))
	b.WriteString("\n")
	for _, ev := range sorted {
		b.WriteString(renderLine(ev, r.loc))
		b.WriteString("\n")
	}
	b.WriteString(footer(len(sorted)))
	return b.String()
}

// RenderEmpty is the degenerate "no activity" digest, used only when the
// trigger is configured to notify on an empty window.
func (r *Renderer) RenderEmpty(window time.Duration) string {
	return fmt.Sprintf("No activity in the last %s.", formatWindow(window))
}

func header(window time.Duration) string {
	return fmt.Sprintf("Digest of the last %s:", formatWindow(window))
}

func footer(n int) string {
	if n == 1 {
		return "1 message"
	}
	return fmt.Sprintf("%d messages", n)
}

func renderLine(ev buffer.Event, loc *time.Location) string {
	content := strings.TrimSpace(ev.Content)
	if content == "" {
		content = emptyContentPlaceholder
	} else {
		content = TruncRunes(content, maxLineContent)
	}
	ts := ev.ReceivedAt.In(loc).Format("15:04")
	return fmt.Sprintf("%s %s: %s", ts, ev.AuthorName, content)
}

// formatWindow prints whole hours as "24h" and everything else via
// Duration.String (tests use sub-hour windows).
func formatWindow(window time.Duration) string {
	if window >= time.Hour && window%time.Hour == 0 {
		return fmt.Sprintf("%dh", int(window/time.Hour))
	}
	return window.String()
}

// TruncRunes returns s truncated to at most n runes.
// It appends an ellipsis "…" when truncated.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	// Single-pass implementation:
	//  - remember the byte index after the n-th rune
	//  - if there is an (n+1)-th rune, truncate + ellipsis
	count := 0
	cut := 0
	for i, r := range s {
		count++
		if count == n {
			cut = i + utf8.RuneLen(r)
			continue
		}
		if count > n {
			if cut <= 0 {
				cut = i
			}
			return s[:cut] + "…"
		}
	}
	return s
}
