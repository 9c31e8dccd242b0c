// Package diffgen computes unified diffs between two versions of a
// scripted object using the sergi/go-diff engine, with line-level
// reduction to avoid newline boundary artifacts.
package diffgen

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// LineKind tags one line of a hunk.
type LineKind int

const (
	LineContext LineKind = iota
	LineAdd
	LineDelete
)

// Line is a single tagged line with its 1-based position on each side.
// OldNum is 0 for additions; NewNum is 0 for deletions.
type Line struct {
	Kind    LineKind
	Content string
	OldNum  int
	NewNum  int
}

// Hunk is one contiguous group of changes plus surrounding context.
type Hunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	Lines    []Line
}

// Header renders the standard @@ hunk header.
func (h Hunk) Header() string {
	return fmt.Sprintf("@@ -%d,%d +%d,%d @@", h.OldStart, h.OldCount, h.NewStart, h.NewCount)
}

// Result holds the hunks and total add/delete counts for one comparison.
type Result struct {
	Hunks     []Hunk
	Additions int
	Deletions int
}

// DefaultContext is the number of context lines around each change.
const DefaultContext = 3

// Compute diffs two code strings. contextLines <= 0 uses DefaultContext.
// Empty inputs on both sides produce an empty result.
func Compute(oldContent, newContent string, contextLines int) Result {
	if contextLines <= 0 {
		contextLines = DefaultContext
	}
	if oldContent == newContent {
		return Result{}
	}

	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	a, b, lineArray := dmp.DiffLinesToChars(oldContent, newContent)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	ops := toLines(diffs)
	res := Result{Hunks: groupHunks(ops, contextLines)}
	for _, op := range ops {
		switch op.Kind {
		case LineAdd:
			res.Additions++
		case LineDelete:
			res.Deletions++
		}
	}
	return res
}

// Unified renders the full unified-diff text with ---/+++ labels.
func (r Result) Unified(oldLabel, newLabel string) string {
	if len(r.Hunks) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "--- %s\n", oldLabel)
	fmt.Fprintf(&b, "+++ %s\n", newLabel)
	for _, h := range r.Hunks {
		b.WriteString(h.Header())
		b.WriteByte('\n')
		for _, line := range h.Lines {
			switch line.Kind {
			case LineAdd:
				b.WriteByte('+')
			case LineDelete:
				b.WriteByte('-')
			default:
				b.WriteByte(' ')
			}
			b.WriteString(line.Content)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// toLines flattens diffmatchpatch output into tagged lines with running
// line numbers on both sides.
func toLines(diffs []diffmatchpatch.Diff) []Line {
	var out []Line
	oldNum, newNum := 0, 0

	for _, d := range diffs {
		for _, content := range splitLines(d.Text) {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				oldNum++
				newNum++
				out = append(out, Line{Kind: LineContext, Content: content, OldNum: oldNum, NewNum: newNum})
			case diffmatchpatch.DiffDelete:
				oldNum++
				out = append(out, Line{Kind: LineDelete, Content: content, OldNum: oldNum})
			case diffmatchpatch.DiffInsert:
				newNum++
				out = append(out, Line{Kind: LineAdd, Content: content, NewNum: newNum})
			}
		}
	}
	return out
}

// splitLines splits diff text into lines, dropping the phantom element a
// trailing newline produces. Empty text yields no lines.
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

// groupHunks clusters changed lines into hunks, merging changes whose
// context windows touch.
func groupHunks(lines []Line, contextLines int) []Hunk {
	var changeIdx []int
	for i, l := range lines {
		if l.Kind != LineContext {
			changeIdx = append(changeIdx, i)
		}
	}
	if len(changeIdx) == 0 {
		return nil
	}

	var hunks []Hunk
	start := changeIdx[0]
	end := changeIdx[0]

	flush := func(first, last int) {
		lo := first - contextLines
		if lo < 0 {
			lo = 0
		}
		hi := last + contextLines
		if hi > len(lines)-1 {
			hi = len(lines) - 1
		}
		hunks = append(hunks, makeHunk(lines[lo:hi+1]))
	}

	for _, idx := range changeIdx[1:] {
		if idx-end <= 2*contextLines {
			end = idx
			continue
		}
		flush(start, end)
		start, end = idx, idx
	}
	flush(start, end)

	return hunks
}

// makeHunk computes the header positions and counts for one hunk slice.
func makeHunk(lines []Line) Hunk {
	h := Hunk{Lines: append([]Line(nil), lines...)}
	for _, l := range lines {
		if l.Kind != LineAdd {
			h.OldCount++
			if h.OldStart == 0 {
				h.OldStart = l.OldNum
			}
		}
		if l.Kind != LineDelete {
			h.NewCount++
			if h.NewStart == 0 {
				h.NewStart = l.NewNum
			}
		}
	}
	// Unified convention: a side with no lines anchors to the line before
	// the change on the other side.
	if h.OldCount == 0 {
		h.OldStart = anchorBefore(lines, true)
	}
	if h.NewCount == 0 {
		h.NewStart = anchorBefore(lines, false)
	}
	return h
}

func anchorBefore(lines []Line, oldSide bool) int {
	for _, l := range lines {
		if oldSide && l.NewNum > 0 {
			return l.NewNum - 1
		}
		if !oldSide && l.OldNum > 0 {
			return l.OldNum - 1
		}
	}
	return 0
}
