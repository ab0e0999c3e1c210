package patch

import "testing"

func TestSeekSequenceExact(t *testing.T) {
	lines := []string{"a", "b", "c", "b", "c"}
	if got := seekSequence(lines, []string{"b", "c"}, 0, false); got != 1 {
		t.Errorf("got %d, want 1", got)
	}
	// Starting past the first occurrence finds the second.
	if got := seekSequence(lines, []string{"b", "c"}, 2, false); got != 3 {
		t.Errorf("got %d, want 3", got)
	}
}

func TestSeekSequenceNotFound(t *testing.T) {
	lines := []string{"a", "b"}
	if got := seekSequence(lines, []string{"z"}, 0, false); got != -1 {
		t.Errorf("got %d, want -1", got)
	}
}

func TestSeekSequenceEmptyPattern(t *testing.T) {
	if got := seekSequence([]string{"a"}, nil, 0, false); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
}

func TestSeekSequenceTrailingWhitespace(t *testing.T) {
	lines := []string{"value = 1  ", "next"}
	if got := seekSequence(lines, []string{"value = 1"}, 0, false); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
}

func TestSeekSequenceSurroundingWhitespace(t *testing.T) {
	lines := []string{"    indented", "next"}
	if got := seekSequence(lines, []string{"indented"}, 0, false); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
}

func TestSeekSequenceStricterPassWins(t *testing.T) {
	// An exact match later in the file beats a whitespace-relaxed match
	// earlier in it.
	lines := []string{"  x", "x"}
	if got := seekSequence(lines, []string{"x"}, 0, false); got != 1 {
		t.Errorf("got %d, want 1", got)
	}
}

func TestSeekSequenceUnicodeLookAlikes(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		pattern string
	}{
		{"en dash in file", "import foo – bar", "import foo - bar"},
		{"em dash in file", "a — b", "a - b"},
		{"non-breaking hyphen", "well‑known", "well-known"},
		{"smart double quotes", "say “hi”", `say "hi"`},
		{"smart single quote", "it’s", "it's"},
		{"non-breaking space", "a b", "a b"},
		{"ascii in file, unicode in pattern", "plain - dash", "plain – dash"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines := []string{"first", tt.line, "last"}
			if got := seekSequence(lines, []string{tt.pattern}, 0, false); got != 1 {
				t.Errorf("got %d, want 1", got)
			}
		})
	}
}

func TestSeekSequenceEOFPreferred(t *testing.T) {
	// The pattern appears twice; with eof set the tail match wins.
	lines := []string{"x", "mid", "x"}
	if got := seekSequence(lines, []string{"x"}, 0, true); got != 2 {
		t.Errorf("got %d, want 2", got)
	}
	// Without eof the first occurrence wins.
	if got := seekSequence(lines, []string{"x"}, 0, false); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
}

func TestSeekSequenceEOFFallsBack(t *testing.T) {
	// Tail position does not match; scanning from start still finds it.
	lines := []string{"a", "target", "b"}
	if got := seekSequence(lines, []string{"target"}, 0, true); got != 1 {
		t.Errorf("got %d, want 1", got)
	}
}

func TestCanonicalizeUnchanged(t *testing.T) {
	s := "plain ascii text"
	if got := canonicalize(s); got != s {
		t.Errorf("got %q, want input unchanged", got)
	}
}
