package repo

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/odvcencio/gotd/pkg/lines"
	"github.com/odvcencio/gotd/pkg/object"
)

// MergeRequest names the branches to merge and the merge commit metadata.
type MergeRequest struct {
	// Target is the branch that moves; empty means the current branch.
	Target string
	// Source is a branch name or any revision.
	Source  string
	Message string
	Author  string
	Email   string
}

// MergeResult reports the outcome of a successful merge.
type MergeResult struct {
	Target      string
	Source      string
	Base        object.Hash
	Commit      *CommitInfo // new target tip
	FastForward bool
	UpToDate    bool
	// AutoMerged lists files whose line-level changes were combined.
	AutoMerged []string
}

// Merge brings Source into Target.
//
//  1. Source already reachable from Target: nothing to do.
//  2. Target reachable from Source: fast-forward Target to Source.
//  3. Otherwise: three-way merge of the trees against the merge base,
//     committed with parents [Target tip, Source tip].
//
// Paths changed differently on both sides are conflicts. On conflict a
// *MergeConflictError names every such path and nothing is written to the
// branch table.
func (r *Repo) Merge(ctx context.Context, req MergeRequest) (*MergeResult, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	target := req.Target
	if target == "" {
		target = r.CurrentBranch()
	}
	ours, err := r.Tip(target)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	theirs, err := r.ResolveRevision(req.Source)
	if err != nil {
		return nil, fmt.Errorf("merge: source: %w", err)
	}

	base, err := r.MergeBase(ours, theirs)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	res := &MergeResult{Target: target, Source: req.Source, Base: base}

	if base == theirs {
		res.UpToDate = true
		res.Commit, err = r.Commit(string(ours))
		if err != nil {
			return nil, fmt.Errorf("merge: %w", err)
		}
		return res, nil
	}

	if base == ours {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("merge: %w", err)
		}
		if err := r.advance(target, ours, theirs, "merge "+req.Source+": fast-forward"); err != nil {
			return nil, fmt.Errorf("merge: %w", err)
		}
		res.FastForward = true
		res.Commit, err = r.Commit(string(theirs))
		if err != nil {
			return nil, fmt.Errorf("merge: %w", err)
		}
		return res, nil
	}

	merged, autoMerged, conflicts, err := r.mergeTrees(base, ours, theirs)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	if len(conflicts) > 0 {
		return nil, &MergeConflictError{Target: target, Source: req.Source, Paths: conflicts}
	}

	tree, err := r.buildTree(merged)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	msg := req.Message
	if strings.TrimSpace(msg) == "" {
		msg = fmt.Sprintf("Merge branch '%s' into %s", req.Source, target)
	}
	h, c, err := r.writeCommit(tree, []object.Hash{ours, theirs}, CommitRequest{
		Message: msg,
		Author:  req.Author,
		Email:   req.Email,
	})
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	if err := r.advance(target, ours, h, "merge "+req.Source); err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	res.Commit = commitInfo(h, c)
	res.AutoMerged = autoMerged
	return res, nil
}

func (r *Repo) commitFiles(h object.Hash) (map[string]TreeFileEntry, error) {
	if h == "" {
		return map[string]TreeFileEntry{}, nil
	}
	c, err := r.graph.readCommit(r, h)
	if err != nil {
		return nil, err
	}
	return r.flattenMap(c.TreeHash)
}

// mergeTrees combines the file sets of ours and theirs relative to base.
// It returns the merged path → entry map, the paths resolved by line
// merging and the conflicting paths, both sorted.
func (r *Repo) mergeTrees(base, ours, theirs object.Hash) (map[string]TreeFileEntry, []string, []string, error) {
	baseMap, err := r.commitFiles(base)
	if err != nil {
		return nil, nil, nil, err
	}
	oursMap, err := r.commitFiles(ours)
	if err != nil {
		return nil, nil, nil, err
	}
	theirsMap, err := r.commitFiles(theirs)
	if err != nil {
		return nil, nil, nil, err
	}

	merged := make(map[string]TreeFileEntry)
	var autoMerged, conflicts []string
	for _, p := range collectAllPaths(baseMap, oursMap, theirsMap) {
		b, inBase := baseMap[p]
		o, inOurs := oursMap[p]
		t, inTheirs := theirsMap[p]

		switch {
		case sameEntry(o, inOurs, t, inTheirs):
			if inOurs {
				merged[p] = o
			}
		case sameEntry(b, inBase, o, inOurs):
			if inTheirs {
				merged[p] = t
			}
		case sameEntry(b, inBase, t, inTheirs):
			if inOurs {
				merged[p] = o
			}
		case r.lineMerge && inBase && inOurs && inTheirs:
			e, ok, err := r.mergeFileLines(b, o, t)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("merge %q: %w", p, err)
			}
			if !ok {
				conflicts = append(conflicts, p)
				continue
			}
			e.Path = p
			merged[p] = e
			autoMerged = append(autoMerged, p)
		default:
			conflicts = append(conflicts, p)
		}
	}

	// One side may have added a file where the other added a directory.
	for p := range merged {
		for dir := parentDir(p); dir != ""; dir = parentDir(dir) {
			if _, clash := merged[dir]; clash {
				conflicts = append(conflicts, dir)
			}
		}
	}
	conflicts = uniqueSorted(conflicts)
	return merged, autoMerged, conflicts, nil
}

func sameEntry(a TreeFileEntry, aOK bool, b TreeFileEntry, bOK bool) bool {
	if aOK != bOK {
		return false
	}
	return !aOK || a.Hash == b.Hash && a.Mode == b.Mode
}

// mergeFileLines runs a line-level three-way merge on text files. It
// reports false when the files are binary or hunks conflict.
func (r *Repo) mergeFileLines(base, ours, theirs TreeFileEntry) (TreeFileEntry, bool, error) {
	var data [3][]byte
	for i, e := range []TreeFileEntry{base, ours, theirs} {
		blob, err := r.Store.ReadBlob(e.Hash)
		if err != nil {
			return TreeFileEntry{}, false, err
		}
		if bytes.IndexByte(blob.Data, 0) >= 0 {
			return TreeFileEntry{}, false, nil
		}
		data[i] = blob.Data
	}
	res := lines.Merge(data[0], data[1], data[2])
	if !res.Clean() {
		return TreeFileEntry{}, false, nil
	}
	h, err := r.Store.WriteBlob(&object.Blob{Data: res.Merged})
	if err != nil {
		return TreeFileEntry{}, false, err
	}
	return TreeFileEntry{Hash: h, Mode: ours.Mode}, true, nil
}

func collectAllPaths(maps ...map[string]TreeFileEntry) []string {
	seen := make(map[string]struct{})
	for _, m := range maps {
		for p := range m {
			seen[p] = struct{}{}
		}
	}
	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func uniqueSorted(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	sort.Strings(in)
	out := in[:1]
	for _, s := range in[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}
