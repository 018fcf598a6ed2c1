package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/odvcencio/gotd/pkg/object"
)

// RevertResult reports a branch pointer reset.
type RevertResult struct {
	Branch   string
	Previous object.Hash
	Target   *CommitInfo
}

// Revert moves branch (the current branch when empty) directly to target.
// No objects are removed: commits the branch no longer reaches stay
// readable by hash, but the branch stops listing them. There is no undo
// beyond another Revert.
func (r *Repo) Revert(ctx context.Context, branch, target string) (*RevertResult, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if branch == "" {
		branch = r.CurrentBranch()
	}
	prev, err := r.Tip(branch)
	if err != nil {
		return nil, fmt.Errorf("revert: %w", err)
	}
	if strings.TrimSpace(target) == "" {
		return nil, fmt.Errorf("revert: %w: target required", ErrCommitNotFound)
	}
	h, err := r.ResolveRevision(target)
	if errors.Is(err, ErrBranchNotFound) {
		err = fmt.Errorf("%w: %q", ErrCommitNotFound, target)
	}
	if err != nil {
		return nil, fmt.Errorf("revert: %w", err)
	}
	info, err := r.Commit(string(h))
	if err != nil {
		return nil, fmt.Errorf("revert: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("revert: %w", err)
	}
	if h != prev {
		if err := r.advance(branch, prev, h, "revert"); err != nil {
			return nil, fmt.Errorf("revert: %w", err)
		}
		r.logger.Warn("branch reverted", "repository", r.Name, "branch", branch,
			"from", prev.Short(), "to", h.Short())
	}
	return &RevertResult{Branch: branch, Previous: prev, Target: info}, nil
}
