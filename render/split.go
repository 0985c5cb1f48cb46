// ABOUTME: Locates safe Markdown split points so streamed text can be flushed in complete blocks.
// ABOUTME: Tracks fenced code blocks so a split never lands inside an unterminated fence.
package render

import "strings"

// LastSafeSplitPoint returns the length of the longest prefix of text that
// ends on a blank line outside any fenced code block. Splitting there keeps
// the prefix renderable on its own while the remainder continues to stream.
// It returns 0 when text contains no such boundary.
func LastSafeSplitPoint(text string) int {
	var (
		last      int
		inFence   bool
		fenceChar byte
		fenceLen  int
	)

	pos := 0
	for pos < len(text) {
		rel := strings.IndexByte(text[pos:], '\n')
		line := text[pos:]
		next := len(text)
		if rel >= 0 {
			line = text[pos : pos+rel]
			next = pos + rel + 1
		}

		if inFence {
			if closesFence(line, fenceChar, fenceLen) {
				inFence = false
			}
		} else if ch, n, ok := opensFence(line); ok {
			inFence, fenceChar, fenceLen = true, ch, n
		} else if rel >= 0 && strings.TrimSpace(line) == "" {
			last = next
		}

		pos = next
	}
	return last
}

// opensFence reports whether line opens a fenced code block, returning the
// fence character and run length when it does.
func opensFence(line string) (byte, int, bool) {
	s := trimFenceIndent(line)
	if len(s) == 0 || (s[0] != '`' && s[0] != '~') {
		return 0, 0, false
	}
	ch := s[0]
	n := runLength(s, ch)
	if n < 3 {
		return 0, 0, false
	}
	// Backtick fences cannot carry backticks in the info string.
	if ch == '`' && strings.IndexByte(s[n:], '`') >= 0 {
		return 0, 0, false
	}
	return ch, n, true
}

// closesFence reports whether line closes a fence opened with minLen
// repetitions of ch. The closing run must be at least as long as the opener
// and carry nothing but trailing whitespace.
func closesFence(line string, ch byte, minLen int) bool {
	s := trimFenceIndent(line)
	n := runLength(s, ch)
	return n >= minLen && strings.TrimSpace(s[n:]) == ""
}

// trimFenceIndent strips up to three leading spaces, the most indentation a
// fence marker may carry.
func trimFenceIndent(line string) string {
	for i := 0; i < 3 && len(line) > 0 && line[0] == ' '; i++ {
		line = line[1:]
	}
	return line
}

func runLength(s string, ch byte) int {
	n := 0
	for n < len(s) && s[n] == ch {
		n++
	}
	return n
}
