// Package parsort implements a stable sort that runs partitions on a
// workpool.Pool and merges them. Its output is identical, element for element,
// to sort.SliceStable with the same comparator, independent of the number of
// partitions.
package parsort

import (
	"sort"

	"github.com/biogo/store/llrb"
	"github.com/grailbio/dedup/workpool"
	"v.io/x/lib/vlog"
)

// DefaultMinPartitionSize is the smallest partition Stable creates by
// default. Inputs smaller than two partitions are sorted on the caller's
// goroutine.
const DefaultMinPartitionSize = 1 << 14

// LessFunc reports whether element i sorts before element j.
type LessFunc func(i, j int) bool

// Opts controls Stable.
type Opts struct {
	// Partitions is the number of partitions to sort concurrently. If <= 0, the
	// number of pool workers is used.
	Partitions int

	// MinPartitionSize bounds the partition size from below. If <= 0,
	// DefaultMinPartitionSize is used.
	MinPartitionSize int
}

// Stable returns the permutation that stably sorts the n elements described
// by less: perm[k] is the index of the element that belongs at position k.
//
// If pool is nil, or n is too small to split, the sort runs sequentially on
// the caller's goroutine. less may be called concurrently from several pool
// workers, so it must not mutate shared state.
func Stable(pool *workpool.Pool, n int, less LessFunc, optList ...Opts) []int {
	opts := Opts{}
	if len(optList) > 1 {
		vlog.Fatalf("parsort: more than one option specified: %v", optList)
	}
	if len(optList) == 1 {
		opts = optList[0]
	}
	if opts.MinPartitionSize <= 0 {
		opts.MinPartitionSize = DefaultMinPartitionSize
	}

	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	nParts := 1
	if pool != nil {
		nParts = opts.Partitions
		if nParts <= 0 {
			nParts = pool.NumWorkers()
		}
		if max := n / opts.MinPartitionSize; nParts > max {
			nParts = max
		}
	}
	if nParts <= 1 {
		sortRange(perm, less)
		return perm
	}

	vlog.VI(1).Infof("parsort: sorting %d elements in %d partitions", n, nParts)
	parts := make([][]int, nParts)
	jobs := make([]*workpool.Job, nParts)
	for i := 0; i < nParts; i++ {
		part := perm[i*n/nParts : (i+1)*n/nParts]
		parts[i] = part
		jobs[i] = pool.Submit(func() { sortRange(part, less) })
	}
	for _, job := range jobs {
		job.Wait()
	}
	return merge(parts, n, less)
}

func sortRange(idx []int, less LessFunc) {
	sort.SliceStable(idx, func(a, b int) bool { return less(idx[a], idx[b]) })
}

// mergeLeaf is one sorted partition taking part in the k-way merge.
type mergeLeaf struct {
	seq  int // Partition number. Lower partitions hold earlier input elements.
	idx  []int
	less LessFunc
}

func (l *mergeLeaf) head() int { return l.idx[0] }

// Compare implements llrb.Comparable. Elements that compare equal are ordered
// by partition, which keeps the merge stable.
func (l *mergeLeaf) Compare(c llrb.Comparable) int {
	other := c.(*mergeLeaf)
	a, b := l.head(), other.head()
	if l.less(a, b) {
		return -1
	}
	if l.less(b, a) {
		return 1
	}
	return l.seq - other.seq
}

func merge(parts [][]int, n int, less LessFunc) []int {
	leafs := llrb.Tree{}
	for i, part := range parts {
		if len(part) > 0 {
			leafs.Insert(&mergeLeaf{seq: i, idx: part, less: less})
		}
	}
	out := make([]int, 0, n)
	for leafs.Len() > 0 {
		top := leafs.Min().(*mergeLeaf)
		leafs.DeleteMin()
		// Drain top while it stays ahead of the runner-up. The tree is only
		// touched again when another partition takes the lead.
		var next *mergeLeaf
		if leafs.Len() > 0 {
			next = leafs.Min().(*mergeLeaf)
		}
		for {
			out = append(out, top.head())
			top.idx = top.idx[1:]
			if len(top.idx) == 0 || (next != nil && next.Compare(top) < 0) {
				break
			}
		}
		if len(top.idx) > 0 {
			leafs.Insert(top)
		}
	}
	if len(out) != n {
		vlog.Fatalf("parsort: merged %d elements, expected %d", len(out), n)
	}
	return out
}
