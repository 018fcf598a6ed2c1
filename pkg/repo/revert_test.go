package repo

import (
	"errors"
	"testing"
)

func TestRevert(t *testing.T) {
	r := newTestRepo(t, Options{})
	x := mustCommit(t, r, "", "x", "f.txt", "x")
	y := mustCommit(t, r, "", "y", "f.txt", "y")
	mustCommit(t, r, "", "z", "f.txt", "z")

	res, err := r.Revert(ctx, "master", string(x.Hash))
	if err != nil {
		t.Fatalf("Revert: %v", err)
	}
	if res.Target.Hash != x.Hash || res.Branch != "master" {
		t.Errorf("result: %+v", res)
	}

	hist, err := r.History("master", 0, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if hist.Commits[0].Hash != x.Hash || hist.Total != 2 {
		t.Errorf("after revert: first=%s total=%d", hist.Commits[0].Hash.Short(), hist.Total)
	}
	if got := readString(t, r, "master", "f.txt"); got != "x" {
		t.Errorf("content after revert: %q", got)
	}

	// Abandoned commits stay readable by hash.
	if got := readString(t, r, string(y.Hash), "f.txt"); got != "y" {
		t.Errorf("abandoned commit content: %q", got)
	}

	next := mustCommit(t, r, "master", "after revert", "f.txt", "w")
	if len(next.Parents) != 1 || next.Parents[0] != x.Hash {
		t.Errorf("next commit parents: %v, want [%s]", next.Parents, x.Hash.Short())
	}
}

func TestRevert_Errors(t *testing.T) {
	r := newTestRepo(t, Options{})
	mustCommit(t, r, "", "x", "f.txt", "x")

	if _, err := r.Revert(ctx, "master", ""); !errors.Is(err, ErrCommitNotFound) {
		t.Errorf("empty target: got %v", err)
	}
	if _, err := r.Revert(ctx, "master", "not-a-commit"); !errors.Is(err, ErrCommitNotFound) {
		t.Errorf("bogus target: got %v", err)
	}
	if _, err := r.Revert(ctx, "ghost", "HEAD"); !errors.Is(err, ErrBranchNotFound) {
		t.Errorf("missing branch: got %v", err)
	}
}

func TestRevert_ToCommitFromAnotherBranch(t *testing.T) {
	r := newTestRepo(t, Options{})
	if _, err := r.CreateOrSwitchBranch(ctx, "side", ""); err != nil {
		t.Fatalf("CreateOrSwitchBranch: %v", err)
	}
	s := mustCommit(t, r, "side", "side", "s.txt", "s")
	if _, err := r.Revert(ctx, "master", "side"); err != nil {
		t.Fatalf("Revert: %v", err)
	}
	if tip, _ := r.Tip("master"); tip != s.Hash {
		t.Errorf("master tip: %s, want %s", tip.Short(), s.Hash.Short())
	}
}
