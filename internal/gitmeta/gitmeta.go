// Package gitmeta collects git metadata (commit, branch, origin URL) for a
// working directory. Every lookup is best effort: a missing repository, a
// missing remote, or a slow filesystem degrades to empty fields rather than
// an error.
package gitmeta

import (
	"context"
	"time"

	git "github.com/go-git/go-git/v5"
)

// collectTimeout bounds the whole collection so a huge repository cannot
// stall session startup.
const collectTimeout = 5 * time.Second

// Info describes the state of a git repository. Empty fields are omitted
// from JSON output.
type Info struct {
	// CommitHash is the full hash of HEAD.
	CommitHash string `json:"commit_hash,omitempty"`

	// Branch is the short branch name. Empty when HEAD is detached.
	Branch string `json:"branch,omitempty"`

	// RepositoryURL is the first fetch URL of the "origin" remote.
	RepositoryURL string `json:"repository_url,omitempty"`
}

// Collect gathers metadata for the repository containing dir. It returns nil
// when dir is not inside a git repository. The individual lookups run
// concurrently under a shared time ceiling, so a partially filled Info is
// possible on slow repositories.
func Collect(ctx context.Context, dir string) *Info {
	ctx, cancel := context.WithTimeout(ctx, collectTimeout)
	defer cancel()

	repo := openRepo(ctx, dir)
	if repo == nil {
		return nil
	}

	type field struct {
		idx int
		val string
	}
	lookups := []func(*git.Repository) string{headHash, branchName, originURL}
	results := make(chan field, len(lookups))
	for i, lookup := range lookups {
		go func(i int, lookup func(*git.Repository) string) {
			results <- field{i, lookup(repo)}
		}(i, lookup)
	}

	info := &Info{}
	for range lookups {
		select {
		case f := <-results:
			switch f.idx {
			case 0:
				info.CommitHash = f.val
			case 1:
				info.Branch = f.val
			case 2:
				info.RepositoryURL = f.val
			}
		case <-ctx.Done():
			return info
		}
	}
	return info
}

// openRepo opens the repository containing dir, searching parent directories
// the way git itself does. Returns nil on any failure or when the ceiling
// expires first.
func openRepo(ctx context.Context, dir string) *git.Repository {
	opened := make(chan *git.Repository, 1)
	go func() {
		repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{
			DetectDotGit:          true,
			EnableDotGitCommonDir: true,
		})
		if err != nil {
			opened <- nil
			return
		}
		opened <- repo
	}()
	select {
	case repo := <-opened:
		return repo
	case <-ctx.Done():
		return nil
	}
}

func headHash(repo *git.Repository) string {
	head, err := repo.Head()
	if err != nil {
		return ""
	}
	return head.Hash().String()
}

// branchName returns the short branch name, or "" when HEAD is detached.
func branchName(repo *git.Repository) string {
	head, err := repo.Head()
	if err != nil {
		return ""
	}
	if !head.Name().IsBranch() {
		return ""
	}
	return head.Name().Short()
}

func originURL(repo *git.Repository) string {
	remote, err := repo.Remote("origin")
	if err != nil {
		return ""
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return ""
	}
	return urls[0]
}
