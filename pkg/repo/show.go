package repo

import (
	"fmt"
	"unicode/utf8"

	"github.com/odvcencio/gotd/pkg/diff"
	"github.com/odvcencio/gotd/pkg/object"
)

// ShowResult is a commit together with the changes it introduced.
type ShowResult struct {
	Commit  *CommitInfo
	Changes *diff.Result
}

// Show describes the commit named by rev and diffs it against its first
// parent, or against the empty tree for a root commit.
func (r *Repo) Show(rev string) (*ShowResult, error) {
	info, err := r.Commit(rev)
	if err != nil {
		return nil, fmt.Errorf("show: %w", err)
	}
	parentTree := object.EmptyTreeHash
	if len(info.Parents) > 0 {
		parent, err := r.graph.readCommit(r, info.Parents[0])
		if err != nil {
			return nil, fmt.Errorf("show: %w", err)
		}
		parentTree = parent.TreeHash
	}
	changes, err := diff.Trees(r.Store, parentTree, info.TreeHash, r.diffOpts)
	if err != nil {
		return nil, fmt.Errorf("show %s: %w", info.Hash.Short(), err)
	}
	return &ShowResult{Commit: info, Changes: changes}, nil
}

// DiffResult is the comparison of two resolved commits.
type DiffResult struct {
	From object.Hash
	To   object.Hash
	*diff.Result
}

// Diff compares the trees of from and to. An empty to means the current
// branch tip. Both revisions are resolved once; everything read afterwards
// is immutable.
func (r *Repo) Diff(from, to string) (*DiffResult, error) {
	fromInfo, err := r.Commit(from)
	if err != nil {
		return nil, fmt.Errorf("diff: %w", err)
	}
	toInfo, err := r.Commit(to)
	if err != nil {
		return nil, fmt.Errorf("diff: %w", err)
	}
	res, err := diff.Trees(r.Store, fromInfo.TreeHash, toInfo.TreeHash, r.diffOpts)
	if err != nil {
		return nil, fmt.Errorf("diff %s..%s: %w", fromInfo.Hash.Short(), toInfo.Hash.Short(), err)
	}
	return &DiffResult{From: fromInfo.Hash, To: toInfo.Hash, Result: res}, nil
}

// FileContent is a file read at a specific commit.
type FileContent struct {
	Path   string
	Commit object.Hash
	Hash   object.Hash
	Data   []byte
}

// IsText reports whether the content is valid UTF-8.
func (f *FileContent) IsText() bool { return utf8.Valid(f.Data) }

// ReadFile returns the bytes stored at filePath in the commit named by rev.
func (r *Repo) ReadFile(rev, filePath string) (*FileContent, error) {
	p, err := CleanPath(filePath)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	info, err := r.Commit(rev)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	entry, found, err := r.fileEntryAtPath(info.TreeHash, p)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", p, err)
	}
	if !found {
		return nil, fmt.Errorf("read: %w", pathError(p, ErrFileNotFound))
	}
	blob, err := r.Store.ReadBlob(entry.Hash)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", p, err)
	}
	return &FileContent{Path: p, Commit: info.Hash, Hash: entry.Hash, Data: blob.Data}, nil
}
