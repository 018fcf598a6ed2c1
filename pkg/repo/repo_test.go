package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/odvcencio/gotd/pkg/diff"
	"github.com/odvcencio/gotd/pkg/object"
)

var ctx = context.Background()

// fixedClock returns the same instant for every commit so ordering falls
// back to the creation sequence.
func fixedClock() func() time.Time {
	return func() time.Time { return time.Unix(1700000000, 0) }
}

// newTestRepo creates an in-memory repository with an empty root commit.
func newTestRepo(t *testing.T, opts Options) *Repo {
	t.Helper()
	if opts.Now == nil {
		opts.Now = fixedClock()
	}
	r := New("demo", object.NewMemoryStore(), opts)
	if _, err := r.Init(ctx, CommitRequest{Message: "Initial commit", Author: "tester"}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return r
}

// mustCommit commits path/content pairs to branch.
func mustCommit(t *testing.T, r *Repo, branch, message string, pathContent ...string) *CommitInfo {
	t.Helper()
	if len(pathContent)%2 != 0 {
		t.Fatalf("mustCommit: odd path/content list")
	}
	var files []FileChange
	for i := 0; i < len(pathContent); i += 2 {
		files = append(files, FileChange{Path: pathContent[i], Content: []byte(pathContent[i+1])})
	}
	info, err := r.CreateCommit(ctx, branch, CommitRequest{
		Message: message,
		Author:  "tester",
		Email:   "tester@example.com",
		Files:   files,
	})
	if err != nil {
		t.Fatalf("CreateCommit(%q): %v", message, err)
	}
	return info
}

func readString(t *testing.T, r *Repo, rev, p string) string {
	t.Helper()
	fc, err := r.ReadFile(rev, p)
	if err != nil {
		t.Fatalf("ReadFile(%s, %s): %v", rev, p, err)
	}
	return string(fc.Data)
}

// The end-to-end walkthrough: create with README v1, commit v2, diff the
// two and read the old version back.
func TestDemoScenario(t *testing.T) {
	r := New("demo", object.NewMemoryStore(), Options{Now: fixedClock()})
	c1, err := r.Init(ctx, CommitRequest{
		Message: "Add README\n\nfirst version",
		Author:  "Ada",
		Email:   "ada@example.com",
		Files:   []FileChange{{Path: "README.md", Content: []byte("v1")}},
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if r.CurrentBranch() != "master" {
		t.Fatalf("current branch: %q", r.CurrentBranch())
	}

	hist, err := r.History("master", 0, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if hist.Total != 1 || len(hist.Commits) != 1 {
		t.Fatalf("history: total=%d len=%d", hist.Total, len(hist.Commits))
	}
	if got := hist.Commits[0]; got.Hash != c1.Hash || got.MessageShort() != "Add README" || len(got.Parents) != 0 {
		t.Fatalf("history[0]: %+v", got)
	}

	c2 := mustCommit(t, r, "master", "Update README", "README.md", "v2")
	if len(c2.Parents) != 1 || c2.Parents[0] != c1.Hash {
		t.Fatalf("C2 parents: %v, want [%s]", c2.Parents, c1.Hash)
	}

	d, err := r.Diff(string(c1.Hash), string(c2.Hash))
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(d.Entries) != 1 {
		t.Fatalf("diff entries: %+v", d.Entries)
	}
	e := d.Entries[0]
	if e.Status != diff.Modified || e.NewPath != "README.md" || e.LinesAdded != 1 || e.LinesDeleted != 1 {
		t.Errorf("diff entry: %+v", e)
	}

	if got := readString(t, r, string(c1.Hash), "README.md"); got != "v1" {
		t.Errorf("README at C1: %q, want v1", got)
	}
	if got := readString(t, r, "", "README.md"); got != "v2" {
		t.Errorf("README at HEAD: %q, want v2", got)
	}
}

func TestInit_EmptyRootCommit(t *testing.T) {
	r := newTestRepo(t, Options{})
	tip, err := r.Tip("master")
	if err != nil {
		t.Fatalf("Tip: %v", err)
	}
	info, err := r.Commit(string(tip))
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if info.TreeHash != object.EmptyTreeHash || len(info.Parents) != 0 {
		t.Errorf("root commit: %+v", info)
	}
	if _, err := r.Init(ctx, CommitRequest{}); err == nil {
		t.Error("second Init should fail")
	}
}

func TestInit_CustomDefaultBranch(t *testing.T) {
	r := newTestRepo(t, Options{DefaultBranch: "main"})
	if r.CurrentBranch() != "main" || r.DefaultBranch() != "main" {
		t.Fatalf("branches: current=%q default=%q", r.CurrentBranch(), r.DefaultBranch())
	}
	if _, err := r.Tip("master"); !errors.Is(err, ErrBranchNotFound) {
		t.Errorf("Tip(master): got %v, want ErrBranchNotFound", err)
	}
}

func TestResolveRevision(t *testing.T) {
	r := newTestRepo(t, Options{})
	c := mustCommit(t, r, "", "one", "a.txt", "a")

	for _, rev := range []string{"", "HEAD", "master", string(c.Hash), string(c.Hash[:10]), string(c.Hash[:8])} {
		h, err := r.ResolveRevision(rev)
		if err != nil {
			t.Fatalf("ResolveRevision(%q): %v", rev, err)
		}
		if h != c.Hash {
			t.Errorf("ResolveRevision(%q) = %s, want %s", rev, h.Short(), c.Hash.Short())
		}
	}

	if _, err := r.ResolveRevision("nope"); !errors.Is(err, ErrBranchNotFound) {
		t.Errorf("unknown name: got %v, want ErrBranchNotFound", err)
	}
	if _, err := r.ResolveRevision("abc"); !errors.Is(err, ErrBranchNotFound) {
		t.Errorf("short prefix: got %v, want ErrBranchNotFound", err)
	}
	missing := string(object.HashBytes([]byte("missing")))
	if _, err := r.ResolveRevision(missing); !errors.Is(err, ErrCommitNotFound) {
		t.Errorf("missing full hash: got %v, want ErrCommitNotFound", err)
	}
	if _, err := r.ResolveRevision(missing[:12]); !errors.Is(err, ErrCommitNotFound) {
		t.Errorf("missing prefix: got %v, want ErrCommitNotFound", err)
	}

	// A blob hash is not a commit.
	fc, err := r.ReadFile("", "a.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if _, err := r.ResolveRevision(string(fc.Hash)); !errors.Is(err, ErrCommitNotFound) {
		t.Errorf("blob hash: got %v, want ErrCommitNotFound", err)
	}
}

func TestResolveRevision_BranchNameWinsOverPrefix(t *testing.T) {
	r := newTestRepo(t, Options{})
	root, _ := r.Tip("")
	c := mustCommit(t, r, "", "one", "a.txt", "a")
	name := string(c.Hash[:6])
	if _, err := r.CreateOrSwitchBranch(ctx, name, string(root)); err != nil {
		t.Fatalf("CreateOrSwitchBranch: %v", err)
	}
	h, err := r.ResolveRevision(name)
	if err != nil {
		t.Fatalf("ResolveRevision: %v", err)
	}
	if h != root {
		t.Errorf("branch %q resolved to %s, want branch tip %s", name, h.Short(), root.Short())
	}
}

func TestRestore(t *testing.T) {
	r := newTestRepo(t, Options{})
	c := mustCommit(t, r, "", "one", "a.txt", "a")
	if _, err := r.CreateOrSwitchBranch(ctx, "feature", ""); err != nil {
		t.Fatalf("CreateOrSwitchBranch: %v", err)
	}

	seq := map[object.Hash]uint64{}
	hist, err := r.History("", 0, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	for i, ci := range hist.Commits {
		seq[ci.Hash] = uint64(len(hist.Commits) - i)
	}

	r2 := New("demo", r.Store, Options{Now: fixedClock()})
	err = r2.Restore(State{
		Branches: map[string]object.Hash{"master": c.Hash, "feature": c.Hash},
		Current:  "feature",
		Commits:  seq,
	})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if r2.CurrentBranch() != "feature" || len(r2.Branches()) != 2 {
		t.Fatalf("restored: current=%q branches=%v", r2.CurrentBranch(), r2.Branches())
	}
	next := mustCommit(t, r2, "master", "two", "b.txt", "b")
	hist, err = r2.History("master", 0, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if hist.Commits[0].Hash != next.Hash || hist.Total != 3 {
		t.Errorf("restored history: total=%d first=%s", hist.Total, hist.Commits[0].Hash.Short())
	}

	bad := New("demo", r.Store, Options{})
	err = bad.Restore(State{Branches: map[string]object.Hash{"master": object.HashBytes([]byte("x"))}})
	if err == nil {
		t.Error("Restore with dangling tip should fail")
	}
}

func TestVerify(t *testing.T) {
	r := newTestRepo(t, Options{})
	mustCommit(t, r, "", "one", "dir/a.txt", "a", "b.txt", "b")
	n, err := r.Verify()
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	// 2 commits, empty tree, root tree, dir tree, 2 blobs.
	if n != 7 {
		t.Errorf("verified objects: %d, want 7", n)
	}
}

type recordingJournal struct {
	commits []object.Hash
	moves   []string
	current []string
	fail    error
}

func (j *recordingJournal) RecordCommit(_ string, h object.Hash, _ uint64) error {
	j.commits = append(j.commits, h)
	return nil
}

func (j *recordingJournal) UpdateBranch(_, branch string, _, _ object.Hash, reason string) error {
	if j.fail != nil {
		return j.fail
	}
	j.moves = append(j.moves, branch+":"+reason)
	return nil
}

func (j *recordingJournal) SetCurrentBranch(_, branch string) error {
	j.current = append(j.current, branch)
	return nil
}

func TestJournal_WrittenBeforePointerMoves(t *testing.T) {
	j := &recordingJournal{}
	r := newTestRepo(t, Options{Journal: j})
	mustCommit(t, r, "", "one", "a.txt", "a")
	if len(j.commits) != 2 || len(j.moves) != 2 || j.moves[0] != "master:init" {
		t.Fatalf("journal: commits=%d moves=%v", len(j.commits), j.moves)
	}

	before, _ := r.Tip("")
	j.fail = errors.New("disk full")
	_, err := r.CreateCommit(ctx, "", CommitRequest{Message: "two"})
	if err == nil {
		t.Fatal("commit should fail when the journal fails")
	}
	after, _ := r.Tip("")
	if before != after {
		t.Errorf("branch moved despite journal failure: %s → %s", before.Short(), after.Short())
	}
}
