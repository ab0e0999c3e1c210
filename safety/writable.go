package safety

import (
	"path/filepath"
	"strings"

	"github.com/zhangyunhao116/agentrun/patch"
)

// AssessPatch classifies a parsed patch by the paths it touches. In
// AutoEdit and FullAuto a patch whose every target (including move
// destinations) falls under one of the writable roots is auto-approved;
// one touching anything outside the roots asks the user. Suggest always
// asks. An empty patch is rejected outright.
//
// Roots should be absolute; relative patch targets resolve against the
// first root, which callers set to the session working directory.
func AssessPatch(p *patch.Patch, policy ApprovalPolicy, writableRoots []string) Assessment {
	if p == nil || len(p.Ops) == 0 {
		return Assessment{Verdict: Reject, Reason: "empty patch"}
	}
	if policy == Suggest {
		return Assessment{Verdict: AskUser}
	}
	if patchWithinRoots(p, writableRoots) {
		return Assessment{Verdict: AutoApprove, Reason: "Apply patch", Group: "Editing"}
	}
	return Assessment{Verdict: AskUser}
}

// patchWithinRoots reports whether every path the patch touches falls under
// one of the writable roots. Comparison is lexical: paths are resolved
// against the first root and normalized without consulting the filesystem,
// so ".." components are collapsed before the prefix check.
func patchWithinRoots(p *patch.Patch, roots []string) bool {
	if len(roots) == 0 {
		return false
	}
	base := roots[0]
	abs := make([]string, 0, len(roots))
	for _, root := range roots {
		abs = append(abs, resolveAgainst(base, root))
	}
	for _, target := range p.Targets() {
		if !underAny(resolveAgainst(base, target), abs) {
			return false
		}
	}
	return true
}

// resolveAgainst joins path to base when relative and lexically normalizes
// the result.
func resolveAgainst(base, path string) string {
	if !filepath.IsAbs(path) {
		path = filepath.Join(base, path)
	}
	return filepath.Clean(path)
}

// underAny reports whether path equals one of the roots or sits beneath
// one.
func underAny(path string, roots []string) bool {
	for _, root := range roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
