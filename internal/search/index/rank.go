package index

import (
	"cmp"
	"container/heap"
	"slices"
)

// Compare orders results for presentation: higher score first, then
// ascending ID. It is a total order, so the outcome does not depend on the
// stability of the sort that uses it.
func Compare[ID cmp.Ordered](a, b Result[ID]) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Rank sorts results in place by Compare.
func Rank[ID cmp.Ordered](results []Result[ID]) {
	slices.SortFunc(results, Compare[ID])
}

// Top returns the k best results by Compare without sorting the whole
// slice. The input is left untouched. k <= 0 returns every result ranked.
func Top[ID cmp.Ordered](results []Result[ID], k int) []Result[ID] {
	if k <= 0 || k >= len(results) {
		out := slices.Clone(results)
		Rank(out)
		return out
	}
	h := &resultHeap[ID]{}
	for _, r := range results {
		heap.Push(h, r)
		if h.Len() > k {
			heap.Pop(h)
		}
	}
	out := make([]Result[ID], h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(Result[ID])
	}
	return out
}

// resultHeap keeps the worst-ranked result at the root.
type resultHeap[ID cmp.Ordered] []Result[ID]

func (h resultHeap[ID]) Len() int { return len(h) }

func (h resultHeap[ID]) Less(i, j int) bool { return Compare(h[i], h[j]) > 0 }

func (h resultHeap[ID]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *resultHeap[ID]) Push(x any) {
	*h = append(*h, x.(Result[ID]))
}

func (h *resultHeap[ID]) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
