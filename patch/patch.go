package patch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrPatch is the sentinel all patch failures wrap. Callers can use
// errors.Is(err, ErrPatch) without caring whether parsing or application
// failed.
var ErrPatch = errors.New("patch: invalid patch")

// DiffError describes a malformed patch or a hunk that could not be applied.
// Path and Hunk identify the offending section when known; Line is the
// 1-based line within the patch text for parse failures (0 when not
// applicable).
type DiffError struct {
	// Path is the file the failing section refers to, if any.
	Path string

	// Hunk is the 1-based index of the failing hunk within its update
	// section, or 0 for section-level and parse errors.
	Hunk int

	// Line is the 1-based line number in the patch text, or 0.
	Line int

	// Reason is a human-readable description, written to be sent back to
	// the model so it can correct the patch.
	Reason string
}

func (e *DiffError) Error() string {
	var b strings.Builder
	b.WriteString("patch: ")
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	if e.Hunk > 0 {
		fmt.Fprintf(&b, "hunk %d: ", e.Hunk)
	}
	if e.Line > 0 {
		fmt.Fprintf(&b, "line %d: ", e.Line)
	}
	b.WriteString(e.Reason)
	return b.String()
}

func (e *DiffError) Unwrap() error {
	return ErrPatch
}

// OpKind identifies the kind of a file section within a patch.
type OpKind int

const (
	// OpAdd creates a new file with the section's content.
	OpAdd OpKind = iota

	// OpDelete removes an existing file.
	OpDelete

	// OpUpdate edits an existing file in place, optionally moving it.
	OpUpdate
)

// String returns the string representation of an OpKind.
func (k OpKind) String() string {
	switch k {
	case OpAdd:
		return "add"
	case OpDelete:
		return "delete"
	case OpUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// Hunk is one "@@" block inside an update section. OldLines holds the
// context and removed lines in order; NewLines holds the context and added
// lines. EndOfFile pins the match to the tail of the file.
type Hunk struct {
	// Context is the optional label following "@@ ", e.g. a function name.
	Context string

	// OldLines must be located in the current file content, exactly or via
	// the whitespace and punctuation fallbacks.
	OldLines []string

	// NewLines replace the located span.
	NewLines []string

	// EndOfFile marks a hunk terminated by "*** End of File".
	EndOfFile bool
}

// Op is one file section of a parsed patch.
type Op struct {
	Kind OpKind

	// Path is the file the section operates on.
	Path string

	// MoveTo is the destination path for an update with "*** Move to:",
	// empty otherwise.
	MoveTo string

	// Content is the full content for OpAdd sections.
	Content string

	// Hunks holds the edit blocks for OpUpdate sections.
	Hunks []Hunk
}

// Patch is a fully parsed patch document.
type Patch struct {
	Ops []Op
}

// Targets returns every path the patch touches, including move
// destinations, in section order without duplicates.
func (p *Patch) Targets() []string {
	seen := make(map[string]struct{}, len(p.Ops))
	var out []string
	add := func(path string) {
		if path == "" {
			return
		}
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		out = append(out, path)
	}
	for _, op := range p.Ops {
		add(op.Path)
		add(op.MoveTo)
	}
	return out
}

// ChangeKind classifies a FileChange.
type ChangeKind int

const (
	// ChangeAdd introduces a file that did not exist before.
	ChangeAdd ChangeKind = iota

	// ChangeUpdate rewrites an existing file, optionally moving it.
	ChangeUpdate

	// ChangeDelete removes an existing file.
	ChangeDelete
)

// String returns the string representation of a ChangeKind.
func (k ChangeKind) String() string {
	switch k {
	case ChangeAdd:
		return "add"
	case ChangeUpdate:
		return "update"
	case ChangeDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// FileChange records the before/after state of one path in a Commit.
type FileChange struct {
	Kind ChangeKind

	// OldContent is the content before the patch (updates and deletes).
	OldContent string

	// NewContent is the content after the patch (adds and updates).
	NewContent string

	// MoveTo is the new path when an update also moves the file.
	MoveTo string
}

// Commit maps each touched path to its FileChange. It is the unit handed to
// ApplyCommit and to approval UIs for display.
type Commit struct {
	Changes map[string]FileChange
}

// Paths returns the commit's touched paths in sorted order.
func (c *Commit) Paths() []string {
	out := make([]string, 0, len(c.Changes))
	for p := range c.Changes {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// FileSystem supplies the I/O callbacks the engine applies changes through.
// Implementations must return an error from Open for missing files; Write
// is expected to create any missing parent directories.
type FileSystem interface {
	// Open returns the current content of path.
	Open(path string) (string, error)

	// Write replaces the content of path, creating it if needed.
	Write(path string, content string) error

	// Remove deletes path.
	Remove(path string) error
}

// DirFS returns a FileSystem rooted at dir. Relative paths resolve against
// dir; absolute paths are used as-is. Writes create missing parent
// directories.
func DirFS(dir string) FileSystem {
	return &dirFS{dir: dir}
}

type dirFS struct {
	dir string
}

func (fs *dirFS) resolve(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(fs.dir, path)
}

func (fs *dirFS) Open(path string) (string, error) {
	b, err := os.ReadFile(fs.resolve(path))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (fs *dirFS) Write(path string, content string) error {
	full := fs.resolve(path)
	if parent := filepath.Dir(full); parent != "." {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(full, []byte(content), 0o644)
}

func (fs *dirFS) Remove(path string) error {
	return os.Remove(fs.resolve(path))
}

// MapFS is an in-memory FileSystem over a plain map, convenient for tests
// and for computing a commit without touching the disk.
type MapFS map[string]string

func (m MapFS) Open(path string) (string, error) {
	content, ok := m[path]
	if !ok {
		return "", &os.PathError{Op: "open", Path: path, Err: os.ErrNotExist}
	}
	return content, nil
}

func (m MapFS) Write(path string, content string) error {
	m[path] = content
	return nil
}

func (m MapFS) Remove(path string) error {
	if _, ok := m[path]; !ok {
		return &os.PathError{Op: "remove", Path: path, Err: os.ErrNotExist}
	}
	delete(m, path)
	return nil
}
