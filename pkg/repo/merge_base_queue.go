package repo

import "github.com/odvcencio/gotd/pkg/object"

type generationItem struct {
	hash       object.Hash
	generation uint64
}

// generationHeap pops the highest generation first, ties by hash.
type generationHeap []generationItem

func (h generationHeap) Len() int { return len(h) }

func (h generationHeap) Less(i, j int) bool {
	if h[i].generation == h[j].generation {
		return h[i].hash < h[j].hash
	}
	return h[i].generation > h[j].generation
}

func (h generationHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *generationHeap) Push(x any) { *h = append(*h, x.(generationItem)) }

func (h *generationHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func (h generationHeap) peek() (generationItem, bool) {
	if len(h) == 0 {
		return generationItem{}, false
	}
	return h[0], true
}
