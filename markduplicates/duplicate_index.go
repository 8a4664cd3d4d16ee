package markduplicates

import (
	"sort"

	"github.com/grailbio/dedup/parsort"
	"github.com/grailbio/dedup/workpool"
)

// duplicateIndexSet is the set of file indexes, in input stream order,
// of the records to flag as duplicates. It is built once after
// classification and only read afterwards.
type duplicateIndexSet struct {
	indexes []int64 // Sorted, no repeats.
	next    int     // Cursor for contains.
}

// newDuplicateIndexSet sorts and dedups indexes, which it takes over.
// The sort runs on pool when it is non-nil.
func newDuplicateIndexSet(pool *workpool.Pool, indexes []int64) *duplicateIndexSet {
	if pool != nil {
		perm := parsort.Stable(pool, len(indexes), func(i, j int) bool { return indexes[i] < indexes[j] })
		sorted := make([]int64, len(indexes))
		for i, p := range perm {
			sorted[i] = indexes[p]
		}
		indexes = sorted
	} else {
		sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })
	}
	n := 0
	for i, idx := range indexes {
		if i > 0 && idx == indexes[n-1] {
			continue
		}
		indexes[n] = idx
		n++
	}
	return &duplicateIndexSet{indexes: indexes[:n]}
}

// Len returns the number of distinct indexes in the set.
func (s *duplicateIndexSet) Len() int { return len(s.indexes) }

// Contains reports whether idx is in the set.
func (s *duplicateIndexSet) Contains(idx int64) bool {
	i := sort.Search(len(s.indexes), func(i int) bool { return s.indexes[i] >= idx })
	return i < len(s.indexes) && s.indexes[i] == idx
}

// contains reports whether idx is in the set. The argument must not
// decrease from one call to the next; this is how the rewrite pass
// walks the input.
func (s *duplicateIndexSet) contains(idx int64) bool {
	for s.next < len(s.indexes) && s.indexes[s.next] < idx {
		s.next++
	}
	return s.next < len(s.indexes) && s.indexes[s.next] == idx
}
