package markduplicates

import (
	"fmt"
)

// Orientation encodes the strands of a fragment, or of both ends of a
// pair in (read1, read2) order.
type Orientation uint8

const (
	f  Orientation = iota // Forward (single fragment)
	r                     // Reverse (single fragment)
	ff                    // Forward, Forward
	fr                    // Forward, Reverse
	rf                    // Reverse, Forward
	rr                    // Reverse, Reverse
)

func (o Orientation) String() string {
	switch o {
	case f:
		return "F"
	case r:
		return "R"
	case ff:
		return "FF"
	case fr:
		return "FR"
	case rf:
		return "RF"
	case rr:
		return "RR"
	}
	return fmt.Sprintf("Orientation(%d)", uint8(o))
}

func orientationByteSingle(reversed bool) Orientation {
	if reversed {
		return r
	}
	return f
}

func orientationBytePair(leftReversed, rightReversed bool) Orientation {
	if leftReversed {
		if rightReversed {
			return rr
		}
		return rf
	}
	if rightReversed {
		return fr
	}
	return ff
}

// noRead2 marks the read2 fields of a ReadEnds that summarizes one end.
const noRead2 = -1

// ReadEnds summarizes the 5' ends of a template for duplicate
// comparison. A fragment has its read2 coordinate and file index set to
// noRead2. A fragment whose mate is mapped keeps the mate's reference
// in Read2RefID, which is how it is known to be part of a pair.
//
// For a completed pair, (Read1RefID, Read1Coordinate) <=
// (Read2RefID, Read2Coordinate), and Orientation lists the strand of
// read1 first.
type ReadEnds struct {
	LibraryID       int16
	Orientation     Orientation
	Read1RefID      int32
	Read1Coordinate int32
	Read2RefID      int32
	Read2Coordinate int32
	Score           int
	Read1FileIndex  int64
	Read2FileIndex  int64
}

func (e *ReadEnds) String() string {
	return fmt.Sprintf("{lib:%d %d:%d %v %d:%d score:%d idx:%d,%d}", e.LibraryID,
		e.Read1RefID, e.Read1Coordinate, e.Orientation, e.Read2RefID, e.Read2Coordinate,
		e.Score, e.Read1FileIndex, e.Read2FileIndex)
}

// IsPaired returns true if e belongs to a template whose mate is mapped.
func (e *ReadEnds) IsPaired() bool {
	return e.Read2RefID != noRead2
}

// compareReadEnds orders a and b by (library, read1 position,
// orientation, read2 position, file indexes). It returns a negative
// number, zero or a positive number. Zero means a and b have the same
// file indexes, which never happens for two distinct entries of a
// list.
func compareReadEnds(a, b *ReadEnds) int {
	if c := int(a.LibraryID) - int(b.LibraryID); c != 0 {
		return c
	}
	if c := cmpInt32(a.Read1RefID, b.Read1RefID); c != 0 {
		return c
	}
	if c := cmpInt32(a.Read1Coordinate, b.Read1Coordinate); c != 0 {
		return c
	}
	if c := int(a.Orientation) - int(b.Orientation); c != 0 {
		return c
	}
	if c := cmpInt32(a.Read2RefID, b.Read2RefID); c != 0 {
		return c
	}
	if c := cmpInt32(a.Read2Coordinate, b.Read2Coordinate); c != 0 {
		return c
	}
	if c := cmpInt64(a.Read1FileIndex, b.Read1FileIndex); c != 0 {
		return c
	}
	return cmpInt64(a.Read2FileIndex, b.Read2FileIndex)
}

func cmpInt32(a, b int32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// areComparable returns true if a and b fall in the same duplicate
// chunk. Read2 positions are compared only if compareRead2 is set.
func areComparable(a, b *ReadEnds, compareRead2 bool) bool {
	same := a.LibraryID == b.LibraryID &&
		a.Read1RefID == b.Read1RefID &&
		a.Read1Coordinate == b.Read1Coordinate &&
		a.Orientation == b.Orientation
	if same && compareRead2 {
		same = a.Read2RefID == b.Read2RefID && a.Read2Coordinate == b.Read2Coordinate
	}
	return same
}

// mergeMate completes the pending end p with its mate e, which was
// seen later in the stream. The end with the smaller (ref, coordinate)
// becomes read1; on a tie the pending end stays read1.
func mergeMate(p, e ReadEnds) ReadEnds {
	pending := ReadEnds{
		LibraryID:       p.LibraryID,
		Read1RefID:      p.Read1RefID,
		Read1Coordinate: p.Read1Coordinate,
		Read1FileIndex:  p.Read1FileIndex,
		Score:           p.Score + e.Score,
	}
	pendingRev := p.Orientation == r
	mateRev := e.Orientation == r
	if e.Read1RefID > p.Read1RefID ||
		(e.Read1RefID == p.Read1RefID && e.Read1Coordinate >= p.Read1Coordinate) {
		pending.Read2RefID = e.Read1RefID
		pending.Read2Coordinate = e.Read1Coordinate
		pending.Read2FileIndex = e.Read1FileIndex
		pending.Orientation = orientationBytePair(pendingRev, mateRev)
		return pending
	}
	pending.Read2RefID = p.Read1RefID
	pending.Read2Coordinate = p.Read1Coordinate
	pending.Read2FileIndex = p.Read1FileIndex
	pending.Read1RefID = e.Read1RefID
	pending.Read1Coordinate = e.Read1Coordinate
	pending.Read1FileIndex = e.Read1FileIndex
	pending.Orientation = orientationBytePair(mateRev, pendingRev)
	return pending
}

// pendingKey identifies a template end that waits for its mate.
type pendingKey struct {
	refID int32
	name  string // "<read group>:<read name>"
}

// pendingPairs holds at most one waiting ReadEnds per key.
type pendingPairs map[pendingKey]ReadEnds

// take removes and returns the entry for k, if any.
func (p pendingPairs) take(k pendingKey) (ReadEnds, bool) {
	e, ok := p[k]
	if ok {
		delete(p, k)
	}
	return e, ok
}
