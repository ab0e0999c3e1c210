package patch

import (
	"fmt"
	"strings"
)

// replacement schedules the lines [Start, Start+OldLen) to be replaced by
// NewLines.
type replacement struct {
	Start    int
	OldLen   int
	NewLines []string
}

// deriveNewContents applies an update section's hunks to content and
// returns the resulting file content. Hunks are located in order; each
// successful match advances the search cursor so later hunks cannot match
// earlier regions.
func deriveNewContents(path, content string, hunks []Hunk) (string, error) {
	lines := strings.Split(content, "\n")
	// Drop the empty element produced by the trailing newline so line
	// counts match standard diff behavior.
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	repls, err := computeReplacements(lines, path, hunks)
	if err != nil {
		return "", err
	}
	out := applyReplacements(lines, repls)
	if len(out) == 0 || out[len(out)-1] != "" {
		out = append(out, "")
	}
	return strings.Join(out, "\n"), nil
}

// computeReplacements locates every hunk of an update section within lines
// and returns the replacements to perform. It fails with a *DiffError when
// a context label or hunk body cannot be found.
func computeReplacements(lines []string, path string, hunks []Hunk) ([]replacement, error) {
	var repls []replacement
	cursor := 0

	for i, h := range hunks {
		if h.Context != "" {
			idx := seekSequence(lines, []string{h.Context}, cursor, false)
			if idx < 0 {
				return nil, &DiffError{
					Path:   path,
					Hunk:   i + 1,
					Reason: fmt.Sprintf("failed to find context %q", h.Context),
				}
			}
			cursor = idx + 1
		}

		if len(h.OldLines) == 0 {
			// Pure addition: insert at the end of the file, before a
			// trailing blank line if one exists.
			at := len(lines)
			if at > 0 && lines[at-1] == "" {
				at--
			}
			repls = append(repls, replacement{Start: at, OldLen: 0, NewLines: h.NewLines})
			continue
		}

		// A trailing empty element in OldLines stands for the file's final
		// newline, which the split above already removed. If the direct
		// search misses, retry without it.
		pattern := h.OldLines
		newLines := h.NewLines
		idx := seekSequence(lines, pattern, cursor, h.EndOfFile)
		if idx < 0 && pattern[len(pattern)-1] == "" {
			pattern = pattern[:len(pattern)-1]
			if len(newLines) > 0 && newLines[len(newLines)-1] == "" {
				newLines = newLines[:len(newLines)-1]
			}
			idx = seekSequence(lines, pattern, cursor, h.EndOfFile)
		}
		if idx < 0 {
			return nil, &DiffError{
				Path:   path,
				Hunk:   i + 1,
				Reason: fmt.Sprintf("failed to find expected lines %q", h.OldLines),
			}
		}
		repls = append(repls, replacement{Start: idx, OldLen: len(pattern), NewLines: newLines})
		cursor = idx + len(pattern)
	}

	return repls, nil
}

// applyReplacements rewrites lines according to repls. Replacements are
// applied back to front so earlier ones do not shift later indices.
func applyReplacements(lines []string, repls []replacement) []string {
	out := append([]string(nil), lines...)
	for i := len(repls) - 1; i >= 0; i-- {
		r := repls[i]
		end := r.Start + r.OldLen
		if end > len(out) {
			end = len(out)
		}
		rest := append([]string(nil), out[end:]...)
		out = append(out[:r.Start], r.NewLines...)
		out = append(out, rest...)
	}
	return out
}

// ComputeCommit loads every file the patch references through fs, derives
// the post-patch contents, and returns the resulting Commit without
// applying it. A missing file or an unmatchable hunk yields a *DiffError;
// no partial state is ever produced.
func ComputeCommit(p *Patch, fs FileSystem) (*Commit, error) {
	commit := &Commit{Changes: make(map[string]FileChange, len(p.Ops))}
	for _, op := range p.Ops {
		switch op.Kind {
		case OpAdd:
			commit.Changes[op.Path] = FileChange{Kind: ChangeAdd, NewContent: op.Content}
		case OpDelete:
			old, err := fs.Open(op.Path)
			if err != nil {
				return nil, &DiffError{Path: op.Path, Reason: fmt.Sprintf("cannot delete: %v", err)}
			}
			commit.Changes[op.Path] = FileChange{Kind: ChangeDelete, OldContent: old}
		case OpUpdate:
			old, err := fs.Open(op.Path)
			if err != nil {
				return nil, &DiffError{Path: op.Path, Reason: fmt.Sprintf("cannot update: %v", err)}
			}
			updated, err := deriveNewContents(op.Path, old, op.Hunks)
			if err != nil {
				return nil, err
			}
			commit.Changes[op.Path] = FileChange{
				Kind:       ChangeUpdate,
				OldContent: old,
				NewContent: updated,
				MoveTo:     op.MoveTo,
			}
		}
	}
	return commit, nil
}

// AssembleChanges diffs two file snapshots and produces the Commit that
// turns orig into updated. Paths present only in updated become adds, paths
// present only in orig become deletes, and differing contents become
// updates. Identical contents produce no change.
func AssembleChanges(orig, updated map[string]string) *Commit {
	commit := &Commit{Changes: make(map[string]FileChange)}
	for path, newContent := range updated {
		oldContent, existed := orig[path]
		switch {
		case !existed:
			commit.Changes[path] = FileChange{Kind: ChangeAdd, NewContent: newContent}
		case oldContent != newContent:
			commit.Changes[path] = FileChange{
				Kind:       ChangeUpdate,
				OldContent: oldContent,
				NewContent: newContent,
			}
		}
	}
	for path, oldContent := range orig {
		if _, ok := updated[path]; !ok {
			commit.Changes[path] = FileChange{Kind: ChangeDelete, OldContent: oldContent}
		}
	}
	return commit
}

// ApplyCommit realizes a Commit through fs. An update carrying MoveTo is
// written to the new path and removed from the old one.
func ApplyCommit(c *Commit, fs FileSystem) error {
	for _, path := range c.Paths() {
		change := c.Changes[path]
		switch change.Kind {
		case ChangeAdd:
			if err := fs.Write(path, change.NewContent); err != nil {
				return &DiffError{Path: path, Reason: fmt.Sprintf("write failed: %v", err)}
			}
		case ChangeDelete:
			if err := fs.Remove(path); err != nil {
				return &DiffError{Path: path, Reason: fmt.Sprintf("remove failed: %v", err)}
			}
		case ChangeUpdate:
			dest := path
			if change.MoveTo != "" {
				dest = change.MoveTo
			}
			if err := fs.Write(dest, change.NewContent); err != nil {
				return &DiffError{Path: dest, Reason: fmt.Sprintf("write failed: %v", err)}
			}
			if change.MoveTo != "" && change.MoveTo != path {
				if err := fs.Remove(path); err != nil {
					return &DiffError{Path: path, Reason: fmt.Sprintf("remove after move failed: %v", err)}
				}
			}
		}
	}
	return nil
}

// Apply parses, computes and applies patch text through fs in one step,
// returning the realized Commit.
func Apply(text string, fs FileSystem) (*Commit, error) {
	p, err := Parse(Normalize(text))
	if err != nil {
		return nil, err
	}
	commit, err := ComputeCommit(p, fs)
	if err != nil {
		return nil, err
	}
	if err := ApplyCommit(commit, fs); err != nil {
		return nil, err
	}
	return commit, nil
}

// FormatSummary renders the post-apply report sent back to the model: one
// line per touched path prefixed A/M/D, grouped in that order, under a
// fixed success header. A moved file is reported as M of its destination.
func FormatSummary(c *Commit) string {
	var added, modified, deleted []string
	for _, path := range c.Paths() {
		change := c.Changes[path]
		switch change.Kind {
		case ChangeAdd:
			added = append(added, path)
		case ChangeUpdate:
			if change.MoveTo != "" {
				modified = append(modified, change.MoveTo)
			} else {
				modified = append(modified, path)
			}
		case ChangeDelete:
			deleted = append(deleted, path)
		}
	}

	var b strings.Builder
	b.WriteString("Success. Updated the following files:\n")
	for _, p := range added {
		fmt.Fprintf(&b, "A %s\n", p)
	}
	for _, p := range modified {
		fmt.Fprintf(&b, "M %s\n", p)
	}
	for _, p := range deleted {
		fmt.Fprintf(&b, "D %s\n", p)
	}
	return b.String()
}
