package repo

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/odvcencio/gotd/pkg/object"
)

// minPrefixLen is the shortest hash prefix accepted as a revision.
const minPrefixLen = 4

// ValidateBranchName reports whether name can be used as a branch.
func ValidateBranchName(name string) error {
	bad := func(reason string) error {
		return fmt.Errorf("%w %q: %s", ErrInvalidBranchName, name, reason)
	}
	switch {
	case name == "":
		return bad("empty")
	case len(name) > 255:
		return bad("too long")
	case name == "HEAD":
		return bad("reserved")
	case strings.HasPrefix(name, "-"), strings.HasPrefix(name, "/"), strings.HasSuffix(name, "/"):
		return bad("bad leading or trailing character")
	case strings.HasSuffix(name, ".lock"), strings.HasSuffix(name, "."):
		return bad("bad suffix")
	case strings.Contains(name, ".."), strings.Contains(name, "//"):
		return bad("bad sequence")
	}
	for _, c := range name {
		ok := c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
			c == '-' || c == '_' || c == '.' || c == '/'
		if !ok {
			return bad(fmt.Sprintf("character %q not allowed", c))
		}
	}
	return nil
}

// Tip returns the commit branch points at. An empty name means the current
// branch.
func (r *Repo) Tip(branch string) (object.Hash, error) {
	r.refMu.RLock()
	defer r.refMu.RUnlock()
	if branch == "" {
		branch = r.current
	}
	tip, ok := r.branches[branch]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrBranchNotFound, branch)
	}
	return tip, nil
}

func (r *Repo) hasBranch(name string) bool {
	r.refMu.RLock()
	_, ok := r.branches[name]
	r.refMu.RUnlock()
	return ok
}

// ResolveRevision resolves rev to a commit hash. Accepted forms are HEAD
// (or empty) for the current branch tip, a branch name, a full commit hash
// and a unique hash prefix of at least four characters. Branch names take
// precedence over hash prefixes.
func (r *Repo) ResolveRevision(rev string) (object.Hash, error) {
	rev = strings.TrimSpace(rev)
	if rev == "" || rev == "HEAD" {
		return r.Tip("")
	}
	if r.hasBranch(rev) {
		return r.Tip(rev)
	}

	lower := strings.ToLower(rev)
	if len(lower) < minPrefixLen || !object.IsHexPrefix(lower) {
		return "", fmt.Errorf("%w: %q", ErrBranchNotFound, rev)
	}
	if len(lower) == object.HashSize {
		h := object.Hash(lower)
		if err := r.requireCommit(h); err != nil {
			return "", err
		}
		return h, nil
	}

	r.refMu.RLock()
	var matches []object.Hash
	for h := range r.seq {
		if strings.HasPrefix(string(h), lower) {
			matches = append(matches, h)
		}
	}
	r.refMu.RUnlock()

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %q", ErrCommitNotFound, rev)
	case 1:
		return matches[0], nil
	default:
		sort.Slice(matches, func(i, j int) bool { return matches[i] < matches[j] })
		return "", fmt.Errorf("%w: %q matches %s and %s", ErrAmbiguousRevision, rev, matches[0].Short(), matches[1].Short())
	}
}

// requireCommit checks that h names a commit in this repository.
func (r *Repo) requireCommit(h object.Hash) error {
	typ, err := r.Store.Type(h)
	if errors.Is(err, object.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrCommitNotFound, h)
	}
	if err != nil {
		return err
	}
	if typ != object.TypeCommit {
		return fmt.Errorf("%w: %s is a %s", ErrCommitNotFound, h.Short(), typ)
	}
	return nil
}

// recordCommit assigns the next creation sequence number to h.
func (r *Repo) recordCommit(h object.Hash) error {
	r.refMu.Lock()
	if _, ok := r.seq[h]; ok {
		r.refMu.Unlock()
		return nil
	}
	n := r.nextSeq + 1
	r.refMu.Unlock()

	if err := r.journal.RecordCommit(r.Name, h, n); err != nil {
		return fmt.Errorf("record commit %s: %w", h.Short(), err)
	}

	r.refMu.Lock()
	r.seq[h] = n
	r.nextSeq = n
	r.refMu.Unlock()
	return nil
}

func (r *Repo) sequence(h object.Hash) uint64 {
	r.refMu.RLock()
	defer r.refMu.RUnlock()
	return r.seq[h]
}

// advance moves branch from old to new. Callers hold writeMu. The journal
// is written first; the in-memory pointer move is the commit point.
func (r *Repo) advance(branch string, old, new object.Hash, reason string) error {
	r.refMu.RLock()
	cur, exists := r.branches[branch]
	r.refMu.RUnlock()
	if exists && cur != old || !exists && old != "" {
		return fmt.Errorf("update branch %q: %w (expected %s, found %s)", branch, ErrBranchMoved, old.Short(), cur.Short())
	}

	if err := r.journal.UpdateBranch(r.Name, branch, old, new, reason); err != nil {
		return fmt.Errorf("update branch %q: %w", branch, err)
	}

	r.refMu.Lock()
	r.branches[branch] = new
	r.refMu.Unlock()

	r.logger.Debug("branch updated", "repository", r.Name, "branch", branch,
		"old", old.Short(), "new", new.Short(), "reason", reason)
	return nil
}

// setCurrent switches the current branch. Callers hold writeMu.
func (r *Repo) setCurrent(branch string) error {
	if err := r.journal.SetCurrentBranch(r.Name, branch); err != nil {
		return fmt.Errorf("set current branch %q: %w", branch, err)
	}
	r.refMu.Lock()
	r.current = branch
	r.refMu.Unlock()
	return nil
}
