package repo

import (
	"fmt"
	"sync"

	"github.com/odvcencio/gotd/pkg/object"
)

type basePairKey struct {
	left  object.Hash
	right object.Hash
}

type basePairEntry struct {
	base  object.Hash
	found bool
}

// graphCache memoizes decoded commits, generation numbers and merge bases.
// Commits are immutable, so entries never go stale.
type graphCache struct {
	mu sync.RWMutex

	commits     map[object.Hash]*object.CommitObj
	generations map[object.Hash]uint64
	bases       map[basePairKey]basePairEntry
}

func newGraphCache() *graphCache {
	return &graphCache{
		commits:     make(map[object.Hash]*object.CommitObj),
		generations: make(map[object.Hash]uint64),
		bases:       make(map[basePairKey]basePairEntry),
	}
}

func canonicalPair(a, b object.Hash) basePairKey {
	if a <= b {
		return basePairKey{left: a, right: b}
	}
	return basePairKey{left: b, right: a}
}

func (g *graphCache) loadBase(a, b object.Hash) (basePairEntry, bool) {
	g.mu.RLock()
	entry, ok := g.bases[canonicalPair(a, b)]
	g.mu.RUnlock()
	return entry, ok
}

func (g *graphCache) storeBase(a, b, base object.Hash, found bool) {
	g.mu.Lock()
	g.bases[canonicalPair(a, b)] = basePairEntry{base: base, found: found}
	g.mu.Unlock()
}

func (g *graphCache) readCommit(r *Repo, h object.Hash) (*object.CommitObj, error) {
	g.mu.RLock()
	cached, ok := g.commits[h]
	g.mu.RUnlock()
	if ok {
		return cached, nil
	}

	commit, err := r.Store.ReadCommit(h)
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", h.Short(), err)
	}

	g.mu.Lock()
	if existing, exists := g.commits[h]; exists {
		g.mu.Unlock()
		return existing, nil
	}
	g.commits[h] = commit
	g.mu.Unlock()
	return commit, nil
}

func (g *graphCache) loadGeneration(h object.Hash) (uint64, bool) {
	g.mu.RLock()
	n, ok := g.generations[h]
	g.mu.RUnlock()
	return n, ok
}

// generation returns 1 + the highest parent generation; root commits are 1.
// It walks iteratively so deep histories cannot exhaust the stack.
func (g *graphCache) generation(r *Repo, h object.Hash) (uint64, error) {
	if n, ok := g.loadGeneration(h); ok {
		return n, nil
	}

	// expanding holds commits whose parents are still being resolved; an
	// edge back into it is a cycle.
	expanding := make(map[object.Hash]bool)
	stack := []object.Hash{h}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if _, ok := g.loadGeneration(top); ok {
			stack = stack[:len(stack)-1]
			continue
		}
		commit, err := g.readCommit(r, top)
		if err != nil {
			return 0, err
		}
		if !expanding[top] {
			expanding[top] = true
			for _, p := range commit.Parents {
				if _, ok := g.loadGeneration(p); ok {
					continue
				}
				if expanding[p] {
					return 0, fmt.Errorf("commit graph cycle detected at %s", p.Short())
				}
				stack = append(stack, p)
			}
			continue
		}

		var maxParent uint64
		for _, p := range commit.Parents {
			pg, ok := g.loadGeneration(p)
			if !ok {
				return 0, fmt.Errorf("generation of %s unresolved", p.Short())
			}
			maxParent = max(maxParent, pg)
		}
		g.mu.Lock()
		g.generations[top] = maxParent + 1
		g.mu.Unlock()
		delete(expanding, top)
		stack = stack[:len(stack)-1]
	}

	n, _ := g.loadGeneration(h)
	return n, nil
}
