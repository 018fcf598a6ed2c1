package repo

import (
	"context"
	"fmt"
)

// BranchResult reports what CreateOrSwitchBranch or Checkout did.
type BranchResult struct {
	Name     string
	Commit   *CommitInfo
	Created  bool
	Switched bool
	Current  string
}

// CreateOrSwitchBranch creates name at the commit from resolves to, leaving
// the current branch alone. If name already exists it becomes the current
// branch instead and its commit is left untouched. An empty from means the
// current branch tip.
func (r *Repo) CreateOrSwitchBranch(ctx context.Context, name, from string) (*BranchResult, error) {
	if err := ValidateBranchName(name); err != nil {
		return nil, fmt.Errorf("branch: %w", err)
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if r.hasBranch(name) {
		return r.switchTo(ctx, name)
	}

	target, err := r.ResolveRevision(from)
	if err != nil {
		return nil, fmt.Errorf("branch %q: %w", name, err)
	}
	info, err := r.Commit(string(target))
	if err != nil {
		return nil, fmt.Errorf("branch %q: %w", name, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("branch %q: %w", name, err)
	}
	reason := "branch: created from " + from
	if from == "" {
		reason = "branch: created from HEAD"
	}
	if err := r.advance(name, "", target, reason); err != nil {
		return nil, fmt.Errorf("branch %q: %w", name, err)
	}
	return &BranchResult{Name: name, Commit: info, Created: true, Current: r.CurrentBranch()}, nil
}

// Checkout makes an existing branch the current branch.
func (r *Repo) Checkout(ctx context.Context, name string) (*BranchResult, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if !r.hasBranch(name) {
		return nil, fmt.Errorf("checkout: %w: %q", ErrBranchNotFound, name)
	}
	return r.switchTo(ctx, name)
}

// switchTo requires writeMu.
func (r *Repo) switchTo(ctx context.Context, name string) (*BranchResult, error) {
	tip, err := r.Tip(name)
	if err != nil {
		return nil, fmt.Errorf("checkout: %w", err)
	}
	info, err := r.Commit(string(tip))
	if err != nil {
		return nil, fmt.Errorf("checkout: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("checkout: %w", err)
	}
	switched := r.CurrentBranch() != name
	if switched {
		if err := r.setCurrent(name); err != nil {
			return nil, fmt.Errorf("checkout: %w", err)
		}
	}
	return &BranchResult{Name: name, Commit: info, Switched: switched, Current: name}, nil
}
