package markduplicates

import (
	"github.com/grailbio/base/log"
)

// chunkScanner splits a sorted ReadEnds list into maximal runs of
// comparable entries.
type chunkScanner struct {
	list         []ReadEnds
	compareRead2 bool
	start, end   int
}

// scan advances to the next chunk and returns false at the end of the
// list.
func (s *chunkScanner) scan() bool {
	s.start = s.end
	if s.start >= len(s.list) {
		return false
	}
	s.end = s.start + 1
	for s.end < len(s.list) && areComparable(&s.list[s.start], &s.list[s.end], s.compareRead2) {
		s.end++
	}
	return true
}

func (s *chunkScanner) chunk() []ReadEnds { return s.list[s.start:s.end] }

// bestEnd returns the index in chunk of the entry with the highest
// score. The earliest entry wins a tie.
func bestEnd(chunk []ReadEnds) int {
	best := 0
	for i := 1; i < len(chunk); i++ {
		if chunk[i].Score > chunk[best].Score {
			best = i
		}
	}
	return best
}

// markDuplicatePairs appends the file indexes of both ends of every
// pair in chunk but the best one.
func markDuplicatePairs(chunk []ReadEnds, dups []int64) []int64 {
	best := bestEnd(chunk)
	for i := range chunk {
		if i != best {
			dups = append(dups, chunk[i].Read1FileIndex, chunk[i].Read2FileIndex)
		}
	}
	return dups
}

// markDuplicateFragments appends the file indexes of the duplicate
// fragments in chunk. If the chunk contains an end of a mapped pair,
// every unpaired fragment is a duplicate. Otherwise all fragments but
// the best one are.
func markDuplicateFragments(chunk []ReadEnds, containsPairs bool, dups []int64) []int64 {
	if containsPairs {
		for i := range chunk {
			if !chunk[i].IsPaired() {
				dups = append(dups, chunk[i].Read1FileIndex)
			}
		}
		return dups
	}
	best := bestEnd(chunk)
	for i := range chunk {
		if i != best {
			dups = append(dups, chunk[i].Read1FileIndex)
		}
	}
	return dups
}

// generateDuplicateIndexes walks the sorted pair and fragment lists and
// returns the unsorted file indexes of the duplicates.
func generateDuplicateIndexes(pairs, frags []ReadEnds) []int64 {
	var dups []int64

	pairScanner := chunkScanner{list: pairs, compareRead2: true}
	nPairChunks := 0
	for pairScanner.scan() {
		if chunk := pairScanner.chunk(); len(chunk) > 1 {
			dups = markDuplicatePairs(chunk, dups)
			nPairChunks++
		}
	}
	nPairDups := len(dups)

	fragScanner := chunkScanner{list: frags, compareRead2: false}
	nFragChunks := 0
	for fragScanner.scan() {
		chunk := fragScanner.chunk()
		if len(chunk) < 2 {
			continue
		}
		containsPairs, containsFrags := false, false
		for i := range chunk {
			if chunk[i].IsPaired() {
				containsPairs = true
			} else {
				containsFrags = true
			}
		}
		if containsFrags {
			dups = markDuplicateFragments(chunk, containsPairs, dups)
			nFragChunks++
		}
	}
	log.Debug.Printf("%d duplicate pair ends in %d chunks, %d duplicate fragments in %d chunks",
		nPairDups, nPairChunks, len(dups)-nPairDups, nFragChunks)
	return dups
}
