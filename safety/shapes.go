package safety

import "strings"

// shape is one entry in the known-safe command table: a pattern over a full
// argv plus the reason and group shown to the user when it matches.
type shape struct {
	// name identifies the shape (e.g. "git-status") so tests can pin down
	// which pattern matched.
	name string

	// reason is the human-readable explanation displayed when the shape
	// auto-approves a command.
	reason string

	// group buckets related shapes for display.
	group string

	// match reports whether argv fits this shape. argv is never empty.
	match func(argv []string) bool
}

// safeShapes is the fixed table of command shapes that run without
// confirmation in AutoEdit and FullAuto. Matching is on the exact program
// name; path-qualified programs like /bin/ls deliberately do not match.
var safeShapes = buildSafeShapes()

func buildSafeShapes() []shape {
	shapes := []shape{
		program("cd", "Change directory", "Navigating"),
		program("ls", "List directory", "Searching"),
		program("pwd", "Print working directory", "Navigating"),
		program("true", "No-op (true)", "Utility"),
		program("echo", "Echo string", "Printing"),
		program("cat", "View file contents", "Reading files"),
		program("head", "Show file head", "Reading files"),
		program("tail", "Show file tail", "Reading files"),
		program("wc", "Word count", "Reading files"),
		program("which", "Locate command", "Searching"),
		program("grep", "Text search", "Searching"),
		program("rg", "Ripgrep search", "Searching"),
		findShape(),
	}
	shapes = append(shapes, gitShapes()...)
	shapes = append(shapes, cargoCheckShape(), sedPrintShape())
	return shapes
}

// matchShape returns the first shape in the table matching argv.
func matchShape(argv []string) (shape, bool) {
	if len(argv) == 0 {
		return shape{}, false
	}
	for _, sh := range safeShapes {
		if sh.match(argv) {
			return sh, true
		}
	}
	return shape{}, false
}

// program builds a shape matching any invocation of the named program.
func program(name, reason, group string) shape {
	return shape{
		name:   name,
		reason: reason,
		group:  group,
		match:  func(argv []string) bool { return argv[0] == name },
	}
}

// unsafeFindOptions are find(1) options that delete files, write to files,
// or execute arbitrary commands.
var unsafeFindOptions = map[string]bool{
	"-exec": true, "-execdir": true, "-ok": true, "-okdir": true,
	"-delete": true,
	"-fls": true, "-fprint": true, "-fprint0": true, "-fprintf": true,
}

// findShape matches find invocations that carry none of the options capable
// of deleting files, writing files, or running commands.
func findShape() shape {
	return shape{
		name:   "find",
		reason: "Find files",
		group:  "Searching",
		match: func(argv []string) bool {
			if argv[0] != "find" {
				return false
			}
			for _, a := range argv[1:] {
				if unsafeFindOptions[a] {
					return false
				}
			}
			return true
		},
	}
}

// gitShapes covers the read-only git subcommands.
func gitShapes() []shape {
	subs := []struct{ sub, reason string }{
		{"status", "Git status"},
		{"branch", "List Git branches"},
		{"log", "Git log"},
		{"diff", "Git diff"},
		{"show", "Git show"},
	}
	shapes := make([]shape, 0, len(subs))
	for _, s := range subs {
		s := s
		shapes = append(shapes, shape{
			name:   "git-" + s.sub,
			reason: s.reason,
			group:  "Versioning",
			match: func(argv []string) bool {
				return argv[0] == "git" && len(argv) >= 2 && argv[1] == s.sub
			},
		})
	}
	return shapes
}

func cargoCheckShape() shape {
	return shape{
		name:   "cargo-check",
		reason: "Cargo check",
		group:  "Running commands",
		match: func(argv []string) bool {
			return argv[0] == "cargo" && len(argv) >= 2 && argv[1] == "check"
		},
	}
}

// sedPrintShape matches the read-only form `sed -n {N|N,M}p FILE`.
func sedPrintShape() shape {
	return shape{
		name:   "sed-print",
		reason: "Sed print subset",
		group:  "Reading files",
		match: func(argv []string) bool {
			return len(argv) == 4 && argv[0] == "sed" && argv[1] == "-n" &&
				isSedPrintRange(argv[2]) && argv[3] != ""
		},
	}
}

// isSedPrintRange reports whether s has the form "Np" or "N,Mp" with
// numeric N and M, e.g. "10p" or "1,5p".
func isSedPrintRange(s string) bool {
	core, ok := strings.CutSuffix(s, "p")
	if !ok {
		return false
	}
	parts := strings.Split(core, ",")
	if len(parts) > 2 {
		return false
	}
	for _, part := range parts {
		if part == "" {
			return false
		}
		for _, c := range part {
			if c < '0' || c > '9' {
				return false
			}
		}
	}
	return true
}
