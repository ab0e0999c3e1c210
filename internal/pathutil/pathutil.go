// Package pathutil normalizes the filesystem paths the runtime hands to
// sandbox backends and patch targets.
package pathutil

import (
	"path/filepath"
	"strings"
)

// ContainsNullByte reports whether s contains a NUL byte. Such paths are
// rejected during validation: the kernel truncates at the NUL, so the
// enforced path would differ from the configured one.
func ContainsNullByte(s string) bool {
	return strings.IndexByte(s, 0) >= 0
}

// Canonicalize resolves symlinks in path so a writable root names the
// directory the kernel will actually see. On macOS /tmp and /var are
// symlinks into /private; a sandbox rule for the symlink would never
// match the real paths commands operate on. When resolution fails (the
// path does not exist yet, or a component is unreadable) the cleaned
// input is returned, since refusing would only prevent a root from being
// granted at all.
func Canonicalize(path string) string {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return resolved
}

// WithinRoot reports whether path equals root or sits beneath it. The
// comparison is lexical; callers canonicalize both sides first.
func WithinRoot(path, root string) bool {
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}
