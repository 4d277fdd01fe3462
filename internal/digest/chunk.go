package digest

import "strings"

// MaxChunkLen is the outbound message size ceiling (Discord's message limit).
const MaxChunkLen = 2000

// Split breaks text into chunks of at most max runes, splitting on line
// boundaries. A single line longer than max is hard-truncated to max-3 runes
// plus "..." and emitted as its own chunk. Concatenating the chunks (with
// their newlines restored) reproduces the input up to that truncation.
func Split(text string, max int) []string {
	if max <= 0 {
		max = MaxChunkLen
	}
	if text == "" {
		return nil
	}

	lines := strings.Split(text, "\n")
	var (
		chunks []string
		cur    strings.Builder
		curLen int
	)
	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, line := range lines {
		n := runeLen(line)
		if n > max {
			// Oversized line: own chunk, hard-truncated.
			flush()
			chunks = append(chunks, hardTrunc(line, max))
			continue
		}
		// +1 for the joining newline when the chunk is non-empty.
		need := n
		if curLen > 0 {
			need++
		}
		if curLen+need > max {
			flush()
		}
		if curLen > 0 {
			cur.WriteString("\n")
			curLen++
		}
		cur.WriteString(line)
		curLen += n
	}
	flush()
	return chunks
}

func runeLen(s string) int {
	n := 0
	for range s {
		n++
	}
	return n
}

// hardTrunc cuts s to max-3 runes and appends "...".
func hardTrunc(s string, max int) string {
	keep := max - 3
	if keep <= 0 {
		return strings.Repeat(".", max)
	}
	count := 0
	for i := range s {
		if count == keep {
			return s[:i] + "..."
		}
		count++
	}
	return s
}
