package git

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// ContextLines is the number of unchanged lines kept around each change.
const ContextLines = 3

// Line origins.
const (
	OriginContext = " "
	OriginAdded   = "+"
	OriginDeleted = "-"
)

// DiffLine is one line of a patch. OldLine and NewLine are 1-based; zero
// means the line has no number on that side.
type DiffLine struct {
	OldLine int    `json:"old_lineno,omitempty"`
	NewLine int    `json:"new_lineno,omitempty"`
	Content string `json:"content"`
	Origin  string `json:"origin"`
}

// Hunk is a contiguous block of changes with its surrounding context. A side
// with zero lines uses the number of the line before the hunk as its start.
type Hunk struct {
	OldStart, OldLines int
	NewStart, NewLines int
	Lines              []DiffLine
}

// newSpan returns the hunk's new-side lines as an inclusive interval. Pure
// deletions collapse to the single line they sit after.
func (h Hunk) newSpan() (lo, hi int) {
	if h.NewLines == 0 {
		lo = max(h.NewStart, 1)
		return lo, lo
	}
	return h.NewStart, h.NewStart + h.NewLines - 1
}

// splitLines breaks text into lines without their terminators.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// lineContent drops the carriage return of a CRLF terminator. Everything
// else, trailing blanks included, is content.
func lineContent(s string) string {
	return strings.TrimSuffix(s, "\r")
}

// computeHunks diffs two texts line by line and groups the changes into
// hunks with the given amount of context.
func computeHunks(oldText, newText string, context int) []Hunk {
	if oldText == newText {
		return nil
	}
	a, b := splitLines(oldText), splitLines(newText)
	m := difflib.NewMatcherWithJunk(a, b, false, nil)

	var hunks []Hunk
	for _, group := range m.GetGroupedOpCodes(context) {
		changed := false
		for _, op := range group {
			if op.Tag != 'e' {
				changed = true
				break
			}
		}
		if !changed {
			continue
		}

		first, last := group[0], group[len(group)-1]
		h := Hunk{
			OldStart: first.I1 + 1,
			OldLines: last.I2 - first.I1,
			NewStart: first.J1 + 1,
			NewLines: last.J2 - first.J1,
		}
		if h.OldLines == 0 {
			h.OldStart = first.I1
		}
		if h.NewLines == 0 {
			h.NewStart = first.J1
		}

		for _, op := range group {
			switch op.Tag {
			case 'e':
				for i, j := op.I1, op.J1; i < op.I2; i, j = i+1, j+1 {
					h.Lines = append(h.Lines, DiffLine{OldLine: i + 1, NewLine: j + 1, Content: lineContent(a[i]), Origin: OriginContext})
				}
			case 'd', 'r', 'i':
				for i := op.I1; i < op.I2; i++ {
					h.Lines = append(h.Lines, DiffLine{OldLine: i + 1, Content: lineContent(a[i]), Origin: OriginDeleted})
				}
				for j := op.J1; j < op.J2; j++ {
					h.Lines = append(h.Lines, DiffLine{NewLine: j + 1, Content: lineContent(b[j]), Origin: OriginAdded})
				}
			}
		}
		hunks = append(hunks, h)
	}
	return hunks
}

// patchLines flattens hunks into one ordered line list.
func patchLines(hunks []Hunk) []DiffLine {
	var out []DiffLine
	for _, h := range hunks {
		out = append(out, h.Lines...)
	}
	return out
}
