package repo

import (
	"errors"
	"testing"
)

func TestCreateOrSwitchBranch(t *testing.T) {
	r := newTestRepo(t, Options{})
	c1 := mustCommit(t, r, "", "one", "a", "1")

	res, err := r.CreateOrSwitchBranch(ctx, "feature", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !res.Created || res.Switched || res.Commit.Hash != c1.Hash || res.Current != "master" {
		t.Errorf("create result: %+v", res)
	}
	if r.CurrentBranch() != "master" {
		t.Errorf("creating a branch switched to it")
	}

	res, err = r.CreateOrSwitchBranch(ctx, "feature", "")
	if err != nil {
		t.Fatalf("switch: %v", err)
	}
	if res.Created || !res.Switched || res.Current != "feature" {
		t.Errorf("switch result: %+v", res)
	}
	if r.CurrentBranch() != "feature" {
		t.Errorf("current: %q", r.CurrentBranch())
	}

	// Commits without a branch name go to the current branch.
	c2 := mustCommit(t, r, "", "on feature", "b", "2")
	if tip, _ := r.Tip("feature"); tip != c2.Hash {
		t.Errorf("feature tip: %s", tip.Short())
	}
	if tip, _ := r.Tip("master"); tip != c1.Hash {
		t.Errorf("master moved: %s", tip.Short())
	}

	names := []string{}
	for _, b := range r.Branches() {
		names = append(names, b.Name)
	}
	if len(names) != 2 || names[0] != "feature" || names[1] != "master" {
		t.Errorf("branches: %v", names)
	}
}

func TestCreateOrSwitchBranch_FromRevision(t *testing.T) {
	r := newTestRepo(t, Options{})
	c1 := mustCommit(t, r, "", "one", "a", "1")
	mustCommit(t, r, "", "two", "a", "2")

	res, err := r.CreateOrSwitchBranch(ctx, "hotfix", string(c1.Hash[:8]))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Commit.Hash != c1.Hash {
		t.Errorf("hotfix at %s, want %s", res.Commit.Hash.Short(), c1.Hash.Short())
	}
	if _, err := r.CreateOrSwitchBranch(ctx, "other", "ghost"); !errors.Is(err, ErrBranchNotFound) {
		t.Errorf("bad source: got %v", err)
	}
}

func TestCreateOrSwitchBranch_InvalidNames(t *testing.T) {
	r := newTestRepo(t, Options{})
	for _, name := range []string{"", "HEAD", "-x", "a..b", "a b", "x.lock", "trailing/", "a//b"} {
		if _, err := r.CreateOrSwitchBranch(ctx, name, ""); !errors.Is(err, ErrInvalidBranchName) {
			t.Errorf("%q: got %v, want ErrInvalidBranchName", name, err)
		}
	}
	for _, name := range []string{"feature/login", "release-1.2", "v2_fix"} {
		if err := ValidateBranchName(name); err != nil {
			t.Errorf("%q rejected: %v", name, err)
		}
	}
}

func TestCheckout(t *testing.T) {
	r := newTestRepo(t, Options{})
	if _, err := r.Checkout(ctx, "ghost"); !errors.Is(err, ErrBranchNotFound) {
		t.Fatalf("missing: got %v", err)
	}
	res, err := r.Checkout(ctx, "master")
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if res.Switched {
		t.Error("checking out the current branch reported a switch")
	}
}
