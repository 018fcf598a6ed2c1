// Package repo implements a single repository: its commit graph, branch
// table, merges, rollbacks and file lookups over a content-addressed store.
package repo

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/odvcencio/gotd/pkg/diff"
	"github.com/odvcencio/gotd/pkg/object"
)

// DefaultBranch is used when a repository is created without naming one.
const DefaultBranch = "master"

// Journal persists branch pointer moves and commit sequence numbers. Every
// call happens before the in-memory state changes, so a failing journal
// leaves the repository untouched.
type Journal interface {
	RecordCommit(repo string, h object.Hash, seq uint64) error
	// UpdateBranch moves branch from old to new. An empty old hash means
	// the branch is being created.
	UpdateBranch(repo, branch string, old, new object.Hash, reason string) error
	SetCurrentBranch(repo, branch string) error
}

type nopJournal struct{}

func (nopJournal) RecordCommit(string, object.Hash, uint64) error                      { return nil }
func (nopJournal) UpdateBranch(string, string, object.Hash, object.Hash, string) error { return nil }
func (nopJournal) SetCurrentBranch(string, string) error                               { return nil }

// Options configures a Repo.
type Options struct {
	DefaultBranch string
	Journal       Journal
	Logger        *slog.Logger
	// Now supplies commit timestamps. Defaults to time.Now.
	Now func() time.Time
	// LineMerge lets merges resolve files both sides modified when their
	// line-level changes do not overlap.
	LineMerge bool
	Diff      diff.Options
}

// Repo is one named repository. Mutating operations are serialized by
// writeMu for their whole read-tip, compute, move-pointer sequence; reads
// only take refMu briefly to snapshot a tip.
type Repo struct {
	Name  string
	Store *object.Store

	writeMu sync.Mutex

	refMu    sync.RWMutex
	branches map[string]object.Hash
	current  string
	seq      map[object.Hash]uint64
	nextSeq  uint64

	defaultBranch string
	journal       Journal
	logger        *slog.Logger
	now           func() time.Time
	lineMerge     bool
	diffOpts      diff.Options

	graph *graphCache
}

// New creates an empty repository over store. It has no branches until
// Init or Restore runs.
func New(name string, store *object.Store, opts Options) *Repo {
	r := &Repo{
		Name:          name,
		Store:         store,
		branches:      make(map[string]object.Hash),
		seq:           make(map[object.Hash]uint64),
		defaultBranch: opts.DefaultBranch,
		journal:       opts.Journal,
		logger:        opts.Logger,
		now:           opts.Now,
		lineMerge:     opts.LineMerge,
		diffOpts:      opts.Diff,
		graph:         newGraphCache(),
	}
	if r.defaultBranch == "" {
		r.defaultBranch = DefaultBranch
	}
	if r.journal == nil {
		r.journal = nopJournal{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// State is the mutable part of a repository as persisted by a Journal.
type State struct {
	Branches map[string]object.Hash
	Current  string
	Commits  map[object.Hash]uint64
}

// Restore replaces the branch table and commit sequence with st. Every
// branch tip must exist in the store.
func (r *Repo) Restore(st State) error {
	for name, tip := range st.Branches {
		if _, err := r.Store.ReadCommit(tip); err != nil {
			return fmt.Errorf("restore %s: branch %q: %w", r.Name, name, err)
		}
	}
	r.refMu.Lock()
	defer r.refMu.Unlock()
	r.branches = make(map[string]object.Hash, len(st.Branches))
	for name, tip := range st.Branches {
		r.branches[name] = tip
	}
	r.seq = make(map[object.Hash]uint64, len(st.Commits))
	r.nextSeq = 0
	for h, n := range st.Commits {
		r.seq[h] = n
		if n > r.nextSeq {
			r.nextSeq = n
		}
	}
	r.current = st.Current
	if _, ok := r.branches[r.current]; !ok {
		r.current = r.defaultBranch
	}
	return nil
}

// DefaultBranch returns the branch Init created.
func (r *Repo) DefaultBranch() string { return r.defaultBranch }

// CurrentBranch returns the branch used when a caller names none.
func (r *Repo) CurrentBranch() string {
	r.refMu.RLock()
	defer r.refMu.RUnlock()
	return r.current
}

// Branch is a branch name with its tip.
type Branch struct {
	Name string
	Tip  object.Hash
}

// Branches returns every branch sorted by name.
func (r *Repo) Branches() []Branch {
	r.refMu.RLock()
	out := make([]Branch, 0, len(r.branches))
	for name, tip := range r.branches {
		out = append(out, Branch{Name: name, Tip: tip})
	}
	r.refMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CommitCount returns how many commits this repository has created.
func (r *Repo) CommitCount() int {
	r.refMu.RLock()
	defer r.refMu.RUnlock()
	return len(r.seq)
}

// Verify walks every object reachable from the branch tips and returns how
// many were checked. Missing or corrupt objects are reported as errors.
func (r *Repo) Verify() (int, error) {
	var roots []object.Hash
	for _, b := range r.Branches() {
		roots = append(roots, b.Tip)
	}
	set, err := r.Store.ReachableSet(roots)
	if err != nil {
		return 0, fmt.Errorf("verify %s: %w", r.Name, err)
	}
	return len(set), nil
}
