// Package vcs reads version control state of the source tree.
package vcs

import (
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Head describes the checked out commit of a repository.
type Head struct {
	Commit string
	// Branch is empty for a detached HEAD.
	Branch string
}

// Short returns the abbreviated commit hash.
func (h Head) Short() string {
	if len(h.Commit) > 12 {
		return h.Commit[:12]
	}
	return h.Commit
}

// ReadHead returns the HEAD of the git repository containing dir. It returns
// a zero Head and no error when dir is not inside a repository or the
// repository has no commits yet.
func ReadHead(dir string) (Head, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return Head{}, nil
		}
		return Head{}, fmt.Errorf("open repository: %w", err)
	}
	ref, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return Head{}, nil
		}
		return Head{}, fmt.Errorf("resolve HEAD: %w", err)
	}
	h := Head{Commit: ref.Hash().String()}
	if ref.Name().IsBranch() {
		h.Branch = ref.Name().Short()
	}
	return h, nil
}
