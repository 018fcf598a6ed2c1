package repo

import (
	"fmt"
	"sort"

	"github.com/odvcencio/gotd/pkg/object"
)

// HistoryPage is one page of commits plus the size of the full listing.
type HistoryPage struct {
	Commits []*CommitInfo
	Total   int
}

type reachableCommit struct {
	hash   object.Hash
	commit *object.CommitObj
	seq    uint64
}

// reachable collects every commit reachable from tip through any parent,
// newest first: timestamp descending, then creation sequence descending.
func (r *Repo) reachable(tip object.Hash) ([]reachableCommit, error) {
	limit := stepLimit()
	seen := map[object.Hash]struct{}{tip: {}}
	stack := []object.Hash{tip}
	var out []reachableCommit

	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if len(out) >= limit {
			return nil, stepLimitError("history", limit)
		}

		c, err := r.graph.readCommit(r, h)
		if err != nil {
			return nil, err
		}
		out = append(out, reachableCommit{hash: h, commit: c, seq: r.sequence(h)})
		for _, p := range c.Parents {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			stack = append(stack, p)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.commit.Timestamp != b.commit.Timestamp {
			return a.commit.Timestamp > b.commit.Timestamp
		}
		if a.seq != b.seq {
			return a.seq > b.seq
		}
		return a.hash < b.hash
	})
	return out, nil
}

func page(all []reachableCommit, skip, take int) []*CommitInfo {
	if skip < 0 {
		skip = 0
	}
	if skip >= len(all) || take <= 0 {
		return []*CommitInfo{}
	}
	end := min(len(all), skip+take)
	out := make([]*CommitInfo, 0, end-skip)
	for _, rc := range all[skip:end] {
		out = append(out, commitInfo(rc.hash, rc.commit))
	}
	return out
}

// History lists the commits reachable from rev, newest first, skipping
// skip entries and returning at most take. Total counts every reachable
// commit.
func (r *Repo) History(rev string, skip, take int) (*HistoryPage, error) {
	tip, err := r.ResolveRevision(rev)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	all, err := r.reachable(tip)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return &HistoryPage{Commits: page(all, skip, take), Total: len(all)}, nil
}

// FileHistory is History restricted to commits whose blob at filePath
// differs from the blob at filePath in every parent. Appearing and
// disappearing count as differences.
func (r *Repo) FileHistory(filePath, rev string, skip, take int) (*HistoryPage, error) {
	p, err := CleanPath(filePath)
	if err != nil {
		return nil, fmt.Errorf("file history: %w", err)
	}
	tip, err := r.ResolveRevision(rev)
	if err != nil {
		return nil, fmt.Errorf("file history: %w", err)
	}
	all, err := r.reachable(tip)
	if err != nil {
		return nil, fmt.Errorf("file history: %w", err)
	}

	blobAt := make(map[object.Hash]object.Hash)
	lookup := func(h object.Hash, c *object.CommitObj) (object.Hash, error) {
		if v, ok := blobAt[h]; ok {
			return v, nil
		}
		e, found, err := r.fileEntryAtPath(c.TreeHash, p)
		if err != nil {
			return "", err
		}
		var v object.Hash
		if found {
			v = e.Hash
		}
		blobAt[h] = v
		return v, nil
	}

	var touched []reachableCommit
	for _, rc := range all {
		mine, err := lookup(rc.hash, rc.commit)
		if err != nil {
			return nil, fmt.Errorf("file history: %w", err)
		}
		changed := true
		if len(rc.commit.Parents) == 0 {
			changed = mine != ""
		}
		for _, ph := range rc.commit.Parents {
			pc, err := r.graph.readCommit(r, ph)
			if err != nil {
				return nil, fmt.Errorf("file history: %w", err)
			}
			theirs, err := lookup(ph, pc)
			if err != nil {
				return nil, fmt.Errorf("file history: %w", err)
			}
			if theirs == mine {
				changed = false
				break
			}
		}
		if changed {
			touched = append(touched, rc)
		}
	}
	return &HistoryPage{Commits: page(touched, skip, take), Total: len(touched)}, nil
}
