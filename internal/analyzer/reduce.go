package analyzer

import (
	"strings"
	"unicode/utf8"

	"github.com/felixgeelhaar/rewind/internal/buffer"
)

// Reduce flattens a window into a transcript of at most maxChars runes.
//
// Screens rarely change between frames, so a line seen earlier in the
// window is not repeated. It is moved to the position of its latest
// sighting instead, which keeps text that is still on screen inside the
// newest part of the transcript. Lines that contain, or are contained in,
// an earlier line count as the same line and the longer variant is kept.
// When the result is too long the oldest text is cut, preferring a line
// boundary.
func Reduce(w buffer.Window, maxChars int) string {
	var lines []string

	for _, e := range w.Entries {
		for _, line := range e.Lines() {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if i, longer := overlap(line, lines); i >= 0 {
				if !longer {
					line = lines[i]
				}
				lines = append(lines[:i], lines[i+1:]...)
			}
			lines = append(lines, line)
		}
	}

	return truncateOldest(strings.Join(lines, "\n"), maxChars)
}

// overlap finds the latest line in seen that is a near duplicate of line.
// longer is true when line strictly extends that match.
func overlap(line string, seen []string) (idx int, longer bool) {
	k := lineKey(line)
	for i := len(seen) - 1; i >= 0; i-- {
		pk := lineKey(seen[i])
		switch {
		case pk == k:
			return i, false
		case len(pk) >= 8 && strings.Contains(k, pk):
			return i, true
		case len(k) >= 8 && strings.Contains(pk, k):
			return i, false
		}
	}
	return -1, false
}

func lineKey(s string) string {
	return strings.Join(strings.Fields(foldCase(s)), " ")
}

// truncateOldest keeps the most recent suffix of s within maxChars runes.
func truncateOldest(s string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s
	}

	runes := []rune(s)
	tail := string(runes[len(runes)-maxChars:])
	if i := strings.IndexByte(tail, '\n'); i >= 0 && i < len(tail)/2 {
		return tail[i+1:]
	}
	return tail
}
