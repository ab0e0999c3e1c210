package safety

import "unicode"

// safeScriptOperators are the only shell operators tolerated in a script
// considered for auto-approval. Anything else (redirects, background jobs,
// subshells) disqualifies the whole script.
var safeScriptOperators = map[string]bool{
	"&&": true,
	"||": true,
	";":  true,
	"|":  true,
}

// scriptKnownSafe reports whether a bash -lc script is a sequence of plain
// word-only commands joined solely by the safe operators, in which every
// command is itself a known-safe shape. A single-command script reports the
// matched shape; a multi-command script reports a generic sequence shape.
func scriptKnownSafe(script string) (shape, bool) {
	commands, ok := parseWordOnlyScript(script)
	if !ok || len(commands) == 0 {
		return shape{}, false
	}
	var first shape
	for i, argv := range commands {
		sh, ok := matchShape(argv)
		if !ok {
			return shape{}, false
		}
		if i == 0 {
			first = sh
		}
	}
	if len(commands) > 1 {
		return shape{
			name:   "safe-sequence",
			reason: "Sequence of safe commands",
			group:  "Running commands",
		}, true
	}
	return first, true
}

// parseWordOnlyScript splits a script into one argv per command, accepting
// only plain words, whole-token quoted literals, and the safe operators.
// It returns false for anything it does not fully understand, including
// empty command segments and trailing operators.
func parseWordOnlyScript(script string) ([][]string, bool) {
	tokens, ok := lexWords(script)
	if !ok {
		return nil, false
	}
	var commands [][]string
	var cur []string
	for _, tok := range tokens {
		if tok.op {
			if !safeScriptOperators[tok.text] || len(cur) == 0 {
				return nil, false
			}
			commands = append(commands, cur)
			cur = nil
			continue
		}
		cur = append(cur, tok.text)
	}
	if len(cur) == 0 {
		return nil, false
	}
	commands = append(commands, cur)
	return commands, true
}

// scriptToken is a single lexed word or operator.
type scriptToken struct {
	text string
	op   bool
}

// lexWords tokenizes a script into words and operators. It fails on any
// construct beyond plain words, quoted literals, and the recognized
// operator characters; notably $ expansions, backquotes, redirects,
// parentheses, and newlines all cause failure.
func lexWords(script string) ([]scriptToken, bool) {
	var tokens []scriptToken
	rs := []rune(script)
	i := 0
	for i < len(rs) {
		r := rs[i]
		switch {
		case r == ' ' || r == '\t':
			i++
		case r == '&':
			// Lone & would background the job.
			if i+1 < len(rs) && rs[i+1] == '&' {
				tokens = append(tokens, scriptToken{text: "&&", op: true})
				i += 2
			} else {
				return nil, false
			}
		case r == '|':
			if i+1 < len(rs) && rs[i+1] == '|' {
				tokens = append(tokens, scriptToken{text: "||", op: true})
				i += 2
			} else {
				tokens = append(tokens, scriptToken{text: "|", op: true})
				i++
			}
		case r == ';':
			tokens = append(tokens, scriptToken{text: ";", op: true})
			i++
		case r == '\'' || r == '"':
			word, next, ok := lexQuoted(rs, i)
			if !ok {
				return nil, false
			}
			tokens = append(tokens, scriptToken{text: word})
			i = next
		case isWordRune(r):
			start := i
			for i < len(rs) && isWordRune(rs[i]) {
				i++
			}
			// A quote glued to a word is a concatenation; too clever to
			// trust.
			if i < len(rs) && (rs[i] == '\'' || rs[i] == '"') {
				return nil, false
			}
			tokens = append(tokens, scriptToken{text: string(rs[start:i])})
		default:
			return nil, false
		}
	}
	return tokens, true
}

// lexQuoted reads a quoted literal starting at rs[i] and returns its text
// with the quotes stripped. Double-quoted text must be free of expansion
// characters, and the literal must form a whole token on its own.
func lexQuoted(rs []rune, i int) (string, int, bool) {
	quote := rs[i]
	j := i + 1
	for j < len(rs) && rs[j] != quote {
		if quote == '"' && (rs[j] == '$' || rs[j] == '`' || rs[j] == '\\') {
			return "", 0, false
		}
		j++
	}
	if j >= len(rs) {
		return "", 0, false
	}
	if j+1 < len(rs) && (isWordRune(rs[j+1]) || rs[j+1] == '\'' || rs[j+1] == '"') {
		return "", 0, false
	}
	return string(rs[i+1 : j]), j + 1, true
}

// isWordRune reports whether r may appear in an unquoted word. Glob
// characters are included: expansion happens in the spawned shell, and the
// commands the shape table admits are read-only.
func isWordRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '-', '_', '.', '/', ':', '=', '+', '@', '%', ',', '^', '~',
		'*', '?', '[', ']', '{', '}':
		return true
	}
	return false
}
