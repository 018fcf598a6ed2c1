package diff

import (
	"sort"

	"github.com/odvcencio/gotd/pkg/lines"
)

type renamePair struct {
	from       fileChange
	to         fileChange
	similarity int
}

// detectRenames pairs deleted files with added files. Exact content matches
// pair first; the remaining files are scored by line similarity and paired
// greedily from the highest score, ties broken by path. Unpaired files are
// returned as the new deleted and added lists.
func detectRenames(blobs *blobCache, deleted, added []fileChange, threshold int) ([]renamePair, []fileChange, []fileChange, error) {
	var pairs []renamePair
	usedDel := make([]bool, len(deleted))
	usedAdd := make([]bool, len(added))

	byHash := make(map[string][]int, len(deleted))
	for i, d := range deleted {
		byHash[string(d.oldHash)] = append(byHash[string(d.oldHash)], i)
	}
	for j, a := range added {
		cands := byHash[string(a.newHash)]
		for k, i := range cands {
			if usedDel[i] {
				continue
			}
			usedDel[i], usedAdd[j] = true, true
			pairs = append(pairs, renamePair{from: deleted[i], to: a, similarity: 100})
			byHash[string(a.newHash)] = cands[k+1:]
			break
		}
	}

	var restDel, restAdd []int
	for i := range deleted {
		if !usedDel[i] {
			restDel = append(restDel, i)
		}
	}
	for j := range added {
		if !usedAdd[j] {
			restAdd = append(restAdd, j)
		}
	}

	if len(restDel) > 0 && len(restAdd) > 0 && len(restDel)*len(restAdd) <= maxRenamePairs {
		var scored []renamePair
		for _, i := range restDel {
			oldData, err := blobs.get(deleted[i].oldHash)
			if err != nil {
				return nil, nil, nil, err
			}
			if isBinary(oldData) {
				continue
			}
			for _, j := range restAdd {
				newData, err := blobs.get(added[j].newHash)
				if err != nil {
					return nil, nil, nil, err
				}
				if isBinary(newData) {
					continue
				}
				if sim := lines.Similarity(oldData, newData); sim >= threshold {
					scored = append(scored, renamePair{from: deleted[i], to: added[j], similarity: sim})
				}
			}
		}
		sort.SliceStable(scored, func(a, b int) bool {
			if scored[a].similarity != scored[b].similarity {
				return scored[a].similarity > scored[b].similarity
			}
			if scored[a].from.path != scored[b].from.path {
				return scored[a].from.path < scored[b].from.path
			}
			return scored[a].to.path < scored[b].to.path
		})

		takenDel := make(map[string]bool)
		takenAdd := make(map[string]bool)
		for _, p := range scored {
			if takenDel[p.from.path] || takenAdd[p.to.path] {
				continue
			}
			takenDel[p.from.path], takenAdd[p.to.path] = true, true
			pairs = append(pairs, p)
		}
		for _, i := range restDel {
			if takenDel[deleted[i].path] {
				usedDel[i] = true
			}
		}
		for _, j := range restAdd {
			if takenAdd[added[j].path] {
				usedAdd[j] = true
			}
		}
	}

	var outDel, outAdd []fileChange
	for i, d := range deleted {
		if !usedDel[i] {
			outDel = append(outDel, d)
		}
	}
	for j, a := range added {
		if !usedAdd[j] {
			outAdd = append(outAdd, a)
		}
	}
	return pairs, outDel, outAdd, nil
}
