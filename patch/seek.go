package patch

import "strings"

// seekSequence locates pattern as a contiguous run within lines, scanning
// from start. Matching relaxes in passes: exact, ignoring trailing
// whitespace, ignoring surrounding whitespace, and finally after
// canonicalizing Unicode punctuation look-alikes on both sides. Model
// output and on-disk files frequently disagree on exactly these details
// (editors rewrite "--" into an en dash, straight quotes into curly ones)
// and the patch should still land.
//
// When eof is set the tail position is tried first, since an
// end-of-file hunk almost always means "the last N lines"; a scan from
// start remains as fallback for files with trailing garbage.
//
// Returns the index of the first matched line, or -1.
func seekSequence(lines, pattern []string, start int, eof bool) int {
	if len(pattern) == 0 {
		return start
	}
	if eof && len(lines) >= len(pattern) {
		if idx := matchAt(lines, pattern, len(lines)-len(pattern)); idx >= 0 {
			return idx
		}
	}
	return matchAt(lines, pattern, start)
}

// matchAt scans for pattern from index from, trying each relaxation pass in
// turn. A stricter pass anywhere in the file wins over a looser pass at an
// earlier position.
func matchAt(lines, pattern []string, from int) int {
	type equal func(a, b string) bool
	passes := []equal{
		func(a, b string) bool { return a == b },
		func(a, b string) bool { return strings.TrimRight(a, " \t") == strings.TrimRight(b, " \t") },
		func(a, b string) bool { return strings.TrimSpace(a) == strings.TrimSpace(b) },
		func(a, b string) bool { return canonicalize(strings.TrimSpace(a)) == canonicalize(strings.TrimSpace(b)) },
	}
	for _, eq := range passes {
		for i := from; i+len(pattern) <= len(lines); i++ {
			ok := true
			for j := range pattern {
				if !eq(lines[i+j], pattern[j]) {
					ok = false
					break
				}
			}
			if ok {
				return i
			}
		}
	}
	return -1
}

// canonicalize maps Unicode punctuation look-alikes to their ASCII
// counterparts: the hyphen and dash family to '-', curly single and double
// quotes to their straight forms, and non-breaking space variants to ' '.
func canonicalize(s string) string {
	if !strings.ContainsFunc(s, isLookAlike) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '‐', '‑', '‒', '–', '—', '―', '−':
			b.WriteByte('-')
		case '‘', '’', '‚', '‛':
			b.WriteByte('\'')
		case '“', '”', '„', '‟', '«', '»':
			b.WriteByte('"')
		case ' ', ' ', ' ':
			b.WriteByte(' ')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isLookAlike(r rune) bool {
	switch r {
	case '‐', '‑', '‒', '–', '—', '―', '−',
		'‘', '’', '‚', '‛',
		'“', '”', '„', '‟', '«', '»',
		' ', ' ', ' ':
		return true
	}
	return false
}
