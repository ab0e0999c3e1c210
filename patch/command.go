package patch

import (
	"errors"
	"strings"
)

// CommandBody inspects an argv for the two shapes that carry a patch:
//
//	["apply_patch", "<body>"]
//	["bash", "-lc", "apply_patch <<'EOF' ... EOF"]
//
// ok reports whether argv is an apply_patch invocation at all; err is
// non-nil when it is one but the body could not be extracted. Callers fall
// back to ordinary execution only when ok is false.
func CommandBody(argv []string) (body string, ok bool, err error) {
	switch {
	case len(argv) == 2 && argv[0] == "apply_patch":
		return argv[1], true, nil
	case len(argv) == 3 && argv[0] == "bash" && argv[1] == "-lc" &&
		strings.HasPrefix(strings.TrimSpace(argv[2]), "apply_patch"):
		body, err := heredocBody(argv[2])
		return body, true, err
	default:
		return "", false, nil
	}
}

// heredocBody extracts the body of the single heredoc in a script of the
// form "apply_patch <<'MARKER'\n...\nMARKER". Quoting of the marker is
// optional; anything fancier than one plain heredoc is rejected.
func heredocBody(script string) (string, error) {
	idx := strings.Index(script, "<<")
	if idx < 0 {
		return "", errors.New("patch: apply_patch command has no heredoc body")
	}
	rest := script[idx+2:]
	nl := strings.IndexByte(rest, '\n')
	if nl < 0 {
		return "", errors.New("patch: apply_patch heredoc has no body")
	}
	marker := strings.TrimSpace(rest[:nl])
	marker = strings.Trim(marker, `'"`)
	if marker == "" {
		return "", errors.New("patch: apply_patch heredoc has no delimiter")
	}

	bodyLines := strings.Split(rest[nl+1:], "\n")
	var b strings.Builder
	for _, line := range bodyLines {
		if strings.TrimSpace(line) == marker {
			return strings.TrimSuffix(b.String(), "\n"), nil
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return "", errors.New("patch: apply_patch heredoc is not terminated")
}
