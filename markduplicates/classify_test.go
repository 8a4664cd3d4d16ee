package markduplicates

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/grailbio/testutil/expect"
)

func pair(lib int16, ref1, coord1 int32, ref2, coord2 int32, o Orientation, idx1, idx2 int64, score int) ReadEnds {
	return ReadEnds{
		LibraryID:       lib,
		Read1RefID:      ref1,
		Read1Coordinate: coord1,
		Read2RefID:      ref2,
		Read2Coordinate: coord2,
		Orientation:     o,
		Read1FileIndex:  idx1,
		Read2FileIndex:  idx2,
		Score:           score,
	}
}

func scoredFragment(ref, coord int32, o Orientation, index int64, score int, mateRef int32) ReadEnds {
	e := fragment(1, ref, coord, o, index)
	e.Score = score
	e.Read2RefID = mateRef
	return e
}

func sortedIndexes(dups []int64) []int64 {
	sort.Slice(dups, func(i, j int) bool { return dups[i] < dups[j] })
	return dups
}

func TestChunkScanner(t *testing.T) {
	list := []ReadEnds{
		fragment(1, 0, 10, f, 0),
		fragment(1, 0, 10, f, 1),
		fragment(1, 0, 10, r, 2),
		fragment(1, 0, 20, r, 3),
		fragment(1, 0, 20, r, 4),
		fragment(1, 0, 20, r, 5),
	}
	s := chunkScanner{list: list}
	var sizes []int
	for s.scan() {
		sizes = append(sizes, len(s.chunk()))
	}
	expect.EQ(t, sizes, []int{2, 1, 3})

	s = chunkScanner{}
	expect.False(t, s.scan())
}

func TestBestEnd(t *testing.T) {
	chunk := []ReadEnds{{Score: 5}, {Score: 9}, {Score: 9}, {Score: 2}}
	expect.EQ(t, bestEnd(chunk), 1)
	expect.EQ(t, bestEnd(chunk[2:]), 0)
	expect.EQ(t, bestEnd(chunk[:1]), 0)
}

func TestMarkDuplicatePairs(t *testing.T) {
	pairs := []ReadEnds{
		pair(1, 0, 100, 0, 300, fr, 0, 5, 95),
		pair(1, 0, 100, 0, 300, fr, 1, 6, 180),
		pair(1, 0, 100, 0, 300, fr, 2, 7, 180),
		// Differs in orientation.
		pair(1, 0, 100, 0, 300, rf, 3, 8, 10),
		// Differs in read2.
		pair(1, 0, 100, 0, 301, rf, 4, 9, 10),
	}
	dups := generateDuplicateIndexes(pairs, nil)
	expect.EQ(t, sortedIndexes(dups), []int64{0, 2, 5, 7})
}

func TestMarkDuplicateFragments(t *testing.T) {
	tests := []struct {
		frags    []ReadEnds
		expected []int64
	}{
		{
			// Fragments only: the best score survives.
			[]ReadEnds{
				scoredFragment(0, 10, f, 0, 20, noRead2),
				scoredFragment(0, 10, f, 1, 50, noRead2),
				scoredFragment(0, 10, f, 2, 50, noRead2),
			},
			[]int64{0, 2},
		},
		{
			// An end of a mapped pair beats any fragment, whatever the scores.
			[]ReadEnds{
				scoredFragment(0, 10, f, 0, 20, 0),
				scoredFragment(0, 10, f, 1, 500, noRead2),
				scoredFragment(0, 10, f, 2, 50, noRead2),
				scoredFragment(0, 10, f, 3, 10, 3),
			},
			[]int64{1, 2},
		},
		{
			// Pair ends only: left to the pair pass.
			[]ReadEnds{
				scoredFragment(0, 10, f, 0, 20, 0),
				scoredFragment(0, 10, f, 1, 50, 0),
			},
			nil,
		},
		{
			// A single fragment is never a duplicate.
			[]ReadEnds{scoredFragment(0, 10, f, 0, 20, noRead2)},
			nil,
		},
	}
	for i, test := range tests {
		sort.SliceStable(test.frags, func(i, j int) bool {
			return compareReadEnds(&test.frags[i], &test.frags[j]) < 0
		})
		dups := generateDuplicateIndexes(nil, test.frags)
		expect.EQ(t, sortedIndexes(dups), test.expected, "test %d", i)
	}
}

func TestOneSurvivorPerChunk(t *testing.T) {
	rnd := rand.New(rand.NewSource(0))
	for iter := 0; iter < 50; iter++ {
		n := 1 + rnd.Intn(40)
		var frags []ReadEnds
		for i := 0; i < n; i++ {
			e := fragment(int16(1+rnd.Intn(2)), 0, int32(rnd.Intn(4)), Orientation(rnd.Intn(2)), int64(i))
			e.Score = rnd.Intn(5)
			frags = append(frags, e)
		}
		sort.SliceStable(frags, func(i, j int) bool { return compareReadEnds(&frags[i], &frags[j]) < 0 })
		dups := map[int64]bool{}
		for _, idx := range generateDuplicateIndexes(nil, frags) {
			expect.False(t, dups[idx], "index %d reported twice", idx)
			dups[idx] = true
		}

		s := chunkScanner{list: frags}
		for s.scan() {
			chunk := s.chunk()
			survivors := 0
			maxScore := -1
			for _, e := range chunk {
				if e.Score > maxScore {
					maxScore = e.Score
				}
			}
			for _, e := range chunk {
				if !dups[e.Read1FileIndex] {
					survivors++
					expect.EQ(t, e.Score, maxScore)
				}
			}
			expect.EQ(t, survivors, 1)
		}
	}
}
