package repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/odvcencio/gotd/pkg/object"
)

// FileChange is one file write or delete requested by a commit.
type FileChange struct {
	Path    string
	Content []byte
	Delete  bool
}

// CommitRequest carries everything a new commit needs besides its parent.
type CommitRequest struct {
	Message string
	Author  string
	Email   string
	Files   []FileChange
}

// CommitInfo describes a stored commit.
type CommitInfo struct {
	Hash        object.Hash
	TreeHash    object.Hash
	Parents     []object.Hash
	Author      string
	AuthorEmail string
	Timestamp   time.Time
	Message     string
}

// MessageShort returns the first line of the commit message.
func (c *CommitInfo) MessageShort() string {
	line, _, _ := strings.Cut(strings.TrimSpace(c.Message), "\n")
	return strings.TrimSpace(line)
}

func commitInfo(h object.Hash, c *object.CommitObj) *CommitInfo {
	parents := make([]object.Hash, len(c.Parents))
	copy(parents, c.Parents)
	return &CommitInfo{
		Hash:        h,
		TreeHash:    c.TreeHash,
		Parents:     parents,
		Author:      c.Author,
		AuthorEmail: c.AuthorEmail,
		Timestamp:   time.Unix(c.Timestamp, 0).UTC(),
		Message:     c.Message,
	}
}

// Commit reads the commit named by rev.
func (r *Repo) Commit(rev string) (*CommitInfo, error) {
	h, err := r.ResolveRevision(rev)
	if err != nil {
		return nil, err
	}
	c, err := r.graph.readCommit(r, h)
	if err != nil {
		return nil, err
	}
	return commitInfo(h, c), nil
}

// prepareChanges validates paths and stores file contents as blobs. Blobs
// are immutable, so this runs before any lock is taken.
func (r *Repo) prepareChanges(files []FileChange) ([]pathChange, error) {
	seen := make(map[string]bool, len(files))
	out := make([]pathChange, 0, len(files))
	for _, f := range files {
		p, err := CleanPath(f.Path)
		if err != nil {
			return nil, err
		}
		if seen[p] {
			return nil, pathError(p, fmt.Errorf("%w: duplicate", ErrInvalidPath))
		}
		seen[p] = true

		c := pathChange{path: p, segs: strings.Split(p, "/"), delete: f.Delete}
		if !f.Delete {
			h, err := r.Store.WriteBlob(&object.Blob{Data: f.Content})
			if err != nil {
				return nil, fmt.Errorf("write blob %q: %w", p, err)
			}
			c.blob = h
		}
		out = append(out, c)
	}
	// A file and a directory cannot share a name within one request.
	for p := range seen {
		for dir := parentDir(p); dir != ""; dir = parentDir(dir) {
			if seen[dir] {
				return nil, pathError(dir, fmt.Errorf("%w: also used as a directory", ErrInvalidPath))
			}
		}
	}
	return out, nil
}

// parentDir returns the parent directory of p, or "" at the top level.
func parentDir(p string) string {
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return ""
	}
	return p[:i]
}

// writeCommit stores a commit whose timestamp never precedes any of its
// parents', keeping creation order and timestamp order aligned.
func (r *Repo) writeCommit(tree object.Hash, parents []object.Hash, req CommitRequest) (object.Hash, *object.CommitObj, error) {
	ts := r.now().Unix()
	for _, ph := range parents {
		p, err := r.graph.readCommit(r, ph)
		if err != nil {
			return "", nil, err
		}
		if p.Timestamp > ts {
			ts = p.Timestamp
		}
	}
	c := &object.CommitObj{
		TreeHash:    tree,
		Parents:     parents,
		Author:      req.Author,
		AuthorEmail: req.Email,
		Timestamp:   ts,
		Message:     req.Message,
	}
	h, err := r.Store.WriteCommit(c)
	if err != nil {
		return "", nil, fmt.Errorf("write commit: %w", err)
	}
	if err := r.recordCommit(h); err != nil {
		return "", nil, err
	}
	return h, c, nil
}

// Init writes the root commit on the default branch. The tree holds the
// requested files, or nothing.
func (r *Repo) Init(ctx context.Context, req CommitRequest) (*CommitInfo, error) {
	changes, err := r.prepareChanges(req.Files)
	if err != nil {
		return nil, fmt.Errorf("init %s: %w", r.Name, err)
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if r.hasBranch(r.defaultBranch) {
		return nil, fmt.Errorf("init %s: branch %q already exists", r.Name, r.defaultBranch)
	}
	tree, err := r.applyChanges(object.EmptyTreeHash, changes)
	if err != nil {
		return nil, fmt.Errorf("init %s: %w", r.Name, err)
	}
	h, c, err := r.writeCommit(tree, nil, req)
	if err != nil {
		return nil, fmt.Errorf("init %s: %w", r.Name, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("init %s: %w", r.Name, err)
	}
	if err := r.advance(r.defaultBranch, "", h, "init"); err != nil {
		return nil, fmt.Errorf("init %s: %w", r.Name, err)
	}
	if err := r.setCurrent(r.defaultBranch); err != nil {
		return nil, fmt.Errorf("init %s: %w", r.Name, err)
	}
	return commitInfo(h, c), nil
}

// CreateCommit applies req.Files on top of branch's tip and advances the
// branch to a new commit whose sole parent is that tip. An empty branch
// name means the current branch. An empty change set still commits.
//
// The commit becomes visible only when the branch pointer moves; if ctx is
// done before then, the branch is left unchanged.
func (r *Repo) CreateCommit(ctx context.Context, branch string, req CommitRequest) (*CommitInfo, error) {
	changes, err := r.prepareChanges(req.Files)
	if err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if branch == "" {
		branch = r.CurrentBranch()
	}
	tip, err := r.Tip(branch)
	if err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	parent, err := r.graph.readCommit(r, tip)
	if err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	tree, err := r.applyChanges(parent.TreeHash, changes)
	if err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	h, c, err := r.writeCommit(tree, []object.Hash{tip}, req)
	if err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	if err := r.advance(branch, tip, h, "commit: "+commitInfo(h, c).MessageShort()); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return commitInfo(h, c), nil
}
