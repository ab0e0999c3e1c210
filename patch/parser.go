package patch

import (
	"fmt"
	"strings"
)

// Patch text markers. The dialect is line-oriented: every marker must start
// its own line.
const (
	beginMarker      = "*** Begin Patch"
	endMarker        = "*** End Patch"
	addFileMarker    = "*** Add File: "
	deleteFileMarker = "*** Delete File: "
	updateFileMarker = "*** Update File: "
	moveToMarker     = "*** Move to: "
	eofMarker        = "*** End of File"
	contextMarker    = "@@ "
	emptyContext     = "@@"
)

// Normalize trims surrounding noise from model-produced patch text: leading
// and trailing whitespace, plus anything before the begin marker or after
// the end marker (models occasionally wrap the patch in prose or code
// fences).
func Normalize(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, beginMarker); i > 0 {
		text = text[i:]
	}
	if i := strings.Index(text, endMarker); i >= 0 {
		text = text[:i+len(endMarker)]
	}
	return text
}

// Parse parses patch text into a Patch. The text must begin with
// "*** Begin Patch" and end with "*** End Patch"; errors are *DiffError
// values naming the offending line so they can be relayed to the model.
func Parse(text string) (*Patch, error) {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) == 0 || strings.TrimRight(lines[0], " \t\r") != beginMarker {
		return nil, &DiffError{Line: 1, Reason: "the first line of the patch must be '*** Begin Patch'"}
	}
	last := len(lines) - 1
	if strings.TrimRight(lines[last], " \t\r") != endMarker {
		return nil, &DiffError{Line: last + 1, Reason: "the last line of the patch must be '*** End Patch'"}
	}

	var p Patch
	rest := lines[1:last]
	lineNo := 2 // 1-based line of rest[0] within the patch text
	for len(rest) > 0 {
		op, consumed, err := parseSection(rest, lineNo)
		if err != nil {
			return nil, err
		}
		p.Ops = append(p.Ops, *op)
		rest = rest[consumed:]
		lineNo += consumed
	}
	if len(p.Ops) == 0 {
		return nil, &DiffError{Reason: "patch contains no file sections"}
	}
	return &p, nil
}

// parseSection parses one file section starting at lines[0], returning the
// section and the number of lines consumed.
func parseSection(lines []string, lineNo int) (*Op, int, error) {
	first := strings.TrimSpace(lines[0])

	if path, ok := strings.CutPrefix(first, addFileMarker); ok {
		if path == "" {
			return nil, 0, &DiffError{Line: lineNo, Reason: "'*** Add File:' requires a path"}
		}
		var content strings.Builder
		consumed := 1
		for _, l := range lines[1:] {
			body, ok := strings.CutPrefix(l, "+")
			if !ok {
				break
			}
			content.WriteString(body)
			content.WriteByte('\n')
			consumed++
		}
		return &Op{Kind: OpAdd, Path: path, Content: content.String()}, consumed, nil
	}

	if path, ok := strings.CutPrefix(first, deleteFileMarker); ok {
		if path == "" {
			return nil, 0, &DiffError{Line: lineNo, Reason: "'*** Delete File:' requires a path"}
		}
		return &Op{Kind: OpDelete, Path: path}, 1, nil
	}

	if path, ok := strings.CutPrefix(first, updateFileMarker); ok {
		if path == "" {
			return nil, 0, &DiffError{Line: lineNo, Reason: "'*** Update File:' requires a path"}
		}
		return parseUpdate(lines, path, lineNo)
	}

	return nil, 0, &DiffError{
		Line: lineNo,
		Reason: fmt.Sprintf("%q is not a valid section header; expected '*** Add File: <path>', "+
			"'*** Delete File: <path>' or '*** Update File: <path>'", first),
	}
}

// parseUpdate parses an update section: an optional move line followed by
// one or more hunks. It stops at the next "***" section header.
func parseUpdate(lines []string, path string, lineNo int) (*Op, int, error) {
	op := &Op{Kind: OpUpdate, Path: path}
	consumed := 1
	rest := lines[1:]

	if len(rest) > 0 {
		if dest, ok := strings.CutPrefix(rest[0], moveToMarker); ok {
			op.MoveTo = dest
			rest = rest[1:]
			consumed++
		}
	}

	for len(rest) > 0 {
		// Blank separator lines between hunks are tolerated.
		if strings.TrimSpace(rest[0]) == "" {
			rest = rest[1:]
			consumed++
			continue
		}
		if strings.HasPrefix(rest[0], "***") {
			break
		}
		hunk, n, err := parseHunk(rest, path, lineNo+consumed, len(op.Hunks) == 0)
		if err != nil {
			return nil, 0, err
		}
		op.Hunks = append(op.Hunks, *hunk)
		rest = rest[n:]
		consumed += n
	}

	if len(op.Hunks) == 0 {
		return nil, 0, &DiffError{Path: path, Line: lineNo, Reason: "update section contains no hunks"}
	}
	return op, consumed, nil
}

// parseHunk parses one "@@" hunk. The first hunk of a section may omit the
// "@@" marker entirely; later hunks require it. A line carrying none of the
// ' ', '+', '-' prefixes inside the body is tolerated as a context line
// whose leading space was dropped.
func parseHunk(lines []string, path string, lineNo int, first bool) (*Hunk, int, error) {
	var h Hunk
	start := 0
	switch {
	case lines[0] == emptyContext:
		start = 1
	case strings.HasPrefix(lines[0], contextMarker):
		h.Context = strings.TrimPrefix(lines[0], contextMarker)
		start = 1
	default:
		if !first {
			return nil, 0, &DiffError{
				Path:   path,
				Line:   lineNo,
				Reason: fmt.Sprintf("expected hunk to start with a '@@' context marker, got %q", lines[0]),
			}
		}
	}
	if start >= len(lines) {
		return nil, 0, &DiffError{Path: path, Line: lineNo, Reason: "hunk contains no lines"}
	}

	body := 0
	for _, l := range lines[start:] {
		if l == eofMarker {
			if body == 0 {
				return nil, 0, &DiffError{Path: path, Line: lineNo, Reason: "hunk contains no lines"}
			}
			h.EndOfFile = true
			body++
			return &h, start + body, nil
		}
		if strings.HasPrefix(l, "***") || strings.HasPrefix(l, "@@") {
			break
		}
		switch {
		case l == "":
			h.OldLines = append(h.OldLines, "")
			h.NewLines = append(h.NewLines, "")
		case l[0] == ' ':
			h.OldLines = append(h.OldLines, l[1:])
			h.NewLines = append(h.NewLines, l[1:])
		case l[0] == '+':
			h.NewLines = append(h.NewLines, l[1:])
		case l[0] == '-':
			h.OldLines = append(h.OldLines, l[1:])
		default:
			// Context line with its leading space dropped.
			h.OldLines = append(h.OldLines, l)
			h.NewLines = append(h.NewLines, l)
		}
		body++
	}
	if body == 0 {
		return nil, 0, &DiffError{Path: path, Line: lineNo, Reason: "hunk contains no lines"}
	}
	return &h, start + body, nil
}
