package patch

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// diffLine is one row of a computed line diff.
type diffLine struct {
	op   byte // ' ', '+' or '-'
	text string
}

// RenderUnifiedDiff renders a unified diff between old and new content with
// the given number of context lines, suitable for showing a pending file
// change to the user. Headers use the conventional a/ and b/ prefixes.
func RenderUnifiedDiff(path, oldContent, newContent string, context int) string {
	if oldContent == newContent {
		return ""
	}
	if context < 0 {
		context = 0
	}

	dmp := diffmatchpatch.New()
	a, b, lineArr := dmp.DiffLinesToChars(oldContent, newContent)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lineArr)

	var rows []diffLine
	for _, d := range diffs {
		op := byte(' ')
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			op = '+'
		case diffmatchpatch.DiffDelete:
			op = '-'
		}
		for _, line := range splitDiffLines(d.Text) {
			rows = append(rows, diffLine{op: op, text: line})
		}
	}

	var body strings.Builder
	fmt.Fprintf(&body, "--- a/%s\n+++ b/%s\n", path, path)
	renderHunks(&body, rows, context)
	return body.String()
}

// splitDiffLines splits a diff fragment into lines, dropping the empty
// remainder after a trailing newline.
func splitDiffLines(s string) []string {
	lines := strings.Split(s, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// renderHunks walks rows and emits @@ hunks, keeping at most context
// unchanged lines around each changed region and merging regions whose
// context overlaps.
func renderHunks(out *strings.Builder, rows []diffLine, context int) {
	oldNo, newNo := 1, 1
	i := 0
	for i < len(rows) {
		if rows[i].op == ' ' {
			oldNo++
			newNo++
			i++
			continue
		}

		// Found a change; extend the hunk to cover nearby changes.
		start := i - context
		if start < 0 {
			start = 0
		}
		// Line numbers at hunk start.
		hunkOld := oldNo - (i - start)
		hunkNew := newNo - (i - start)

		end := i
		gap := 0
		for j := i; j < len(rows); j++ {
			if rows[j].op == ' ' {
				gap++
				if gap > 2*context {
					break
				}
			} else {
				gap = 0
				end = j
			}
		}
		stop := end + 1 + context
		if stop > len(rows) {
			stop = len(rows)
		}

		var oldCount, newCount int
		var lines strings.Builder
		for j := start; j < stop; j++ {
			switch rows[j].op {
			case ' ':
				oldCount++
				newCount++
			case '-':
				oldCount++
			case '+':
				newCount++
			}
			lines.WriteByte(rows[j].op)
			lines.WriteString(rows[j].text)
			lines.WriteByte('\n')
		}
		fmt.Fprintf(out, "@@ -%d,%d +%d,%d @@\n", hunkOld, oldCount, hunkNew, newCount)
		out.WriteString(lines.String())

		// Advance the running line counters over the consumed rows.
		for j := i; j < stop; j++ {
			switch rows[j].op {
			case ' ':
				oldNo++
				newNo++
			case '-':
				oldNo++
			case '+':
				newNo++
			}
		}
		i = stop
	}
}
