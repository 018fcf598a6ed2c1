package repo

import (
	"container/heap"
	"fmt"

	"github.com/odvcencio/gotd/pkg/object"
)

const maxGraphSteps = 1_000_000

// graphStepLimit bounds every ancestry walk. Tests may tighten it.
var graphStepLimit = maxGraphSteps

func stepLimit() int {
	if graphStepLimit <= 0 || graphStepLimit > maxGraphSteps {
		return maxGraphSteps
	}
	return graphStepLimit
}

func stepLimitError(op string, limit int) error {
	return fmt.Errorf("%s: traversal exceeded maximum steps (%d)", op, limit)
}

// MergeBase finds the lowest common ancestor of two commits, returning ""
// when their histories are disjoint. Generation numbers prune the search,
// ancestor checks short-circuit linear histories and answers are memoized
// per unordered pair.
func (r *Repo) MergeBase(a, b object.Hash) (object.Hash, error) {
	if a == "" || b == "" {
		return "", nil
	}
	if a == b {
		return a, nil
	}
	if cached, ok := r.graph.loadBase(a, b); ok {
		return cached.base, nil
	}

	genA, err := r.graph.generation(r, a)
	if err != nil {
		return "", fmt.Errorf("merge base: %w", err)
	}
	genB, err := r.graph.generation(r, b)
	if err != nil {
		return "", fmt.Errorf("merge base: %w", err)
	}

	// Linear history: one side already contains the other. Only the
	// lower-generation side can be the ancestor, so one of these is free.
	if ok, err := r.isAncestorGen(a, b, genA, genB); err != nil {
		return "", err
	} else if ok {
		r.graph.storeBase(a, b, a, true)
		return a, nil
	}
	if ok, err := r.isAncestorGen(b, a, genB, genA); err != nil {
		return "", err
	} else if ok {
		r.graph.storeBase(a, b, b, true)
		return b, nil
	}

	base, found, err := r.searchMergeBase(a, b, genA, genB)
	if err != nil {
		return "", err
	}
	r.graph.storeBase(a, b, base, found)
	return base, nil
}

// IsAncestor reports whether ancestor is reachable from descendant by
// following parents. A commit is its own ancestor.
func (r *Repo) IsAncestor(ancestor, descendant object.Hash) (bool, error) {
	if ancestor == descendant {
		return true, nil
	}
	ga, err := r.graph.generation(r, ancestor)
	if err != nil {
		return false, err
	}
	gd, err := r.graph.generation(r, descendant)
	if err != nil {
		return false, err
	}
	return r.isAncestorGen(ancestor, descendant, ga, gd)
}

func (r *Repo) isAncestorGen(ancestor, descendant object.Hash, ancestorGen, descendantGen uint64) (bool, error) {
	if ancestor == descendant {
		return true, nil
	}
	if ancestorGen >= descendantGen {
		return false, nil
	}

	limit := stepLimit()
	visited := map[object.Hash]struct{}{descendant: {}}
	queue := []object.Hash{descendant}
	steps := 0

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		steps++
		if steps > limit {
			return false, stepLimitError("ancestor check", limit)
		}
		if cur == ancestor {
			return true, nil
		}

		commit, err := r.graph.readCommit(r, cur)
		if err != nil {
			return false, err
		}
		for _, p := range commit.Parents {
			if _, seen := visited[p]; seen {
				continue
			}
			pg, err := r.graph.generation(r, p)
			if err != nil {
				return false, err
			}
			// Parents below the ancestor's generation cannot reach it.
			if pg < ancestorGen {
				continue
			}
			visited[p] = struct{}{}
			queue = append(queue, p)
		}
	}
	return false, nil
}

// searchMergeBase walks both histories in descending generation order and
// keeps the highest-generation commit seen from both sides. The walk stops
// once neither frontier can produce a higher candidate.
func (r *Repo) searchMergeBase(a, b object.Hash, genA, genB uint64) (object.Hash, bool, error) {
	limit := stepLimit()

	visited := [2]map[object.Hash]struct{}{{a: {}}, {b: {}}}
	queues := [2]*generationHeap{
		{{hash: a, generation: genA}},
		{{hash: b, generation: genB}},
	}
	heap.Init(queues[0])
	heap.Init(queues[1])

	var best object.Hash
	var bestGen uint64
	consider := func(h object.Hash, g uint64) {
		switch {
		case best == "", g > bestGen, g == bestGen && h < best:
			best, bestGen = h, g
		}
	}

	steps := 0
	for queues[0].Len() > 0 || queues[1].Len() > 0 {
		topA, okA := queues[0].peek()
		topB, okB := queues[1].peek()
		if best != "" && (!okA || topA.generation < bestGen) && (!okB || topB.generation < bestGen) {
			break
		}

		side := 0
		switch {
		case !okA:
			side = 1
		case !okB:
			side = 0
		case topA.generation < topB.generation,
			topA.generation == topB.generation && topA.hash > topB.hash:
			side = 1
		}
		other := 1 - side
		item := heap.Pop(queues[side]).(generationItem)

		steps++
		if steps > limit {
			return "", false, stepLimitError("merge base", limit)
		}
		if best != "" && item.generation < bestGen {
			continue
		}
		if _, seen := visited[other][item.hash]; seen {
			consider(item.hash, item.generation)
		}

		commit, err := r.graph.readCommit(r, item.hash)
		if err != nil {
			return "", false, fmt.Errorf("merge base: %w", err)
		}
		for _, p := range commit.Parents {
			if _, seen := visited[side][p]; seen {
				continue
			}
			pg, err := r.graph.generation(r, p)
			if err != nil {
				return "", false, fmt.Errorf("merge base: %w", err)
			}
			if best != "" && pg < bestGen {
				continue
			}
			visited[side][p] = struct{}{}
			heap.Push(queues[side], generationItem{hash: p, generation: pg})
			if _, seen := visited[other][p]; seen {
				consider(p, pg)
			}
		}
	}

	return best, best != "", nil
}
