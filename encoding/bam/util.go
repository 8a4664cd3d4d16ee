package bam

import (
	"sync/atomic"

	"github.com/grailbio/hts/sam"
	"v.io/x/lib/vlog"
)

// IsPaired returns true if the record is part of a pair.
func IsPaired(r *sam.Record) bool { return r.Flags&sam.Paired != 0 }

// IsProperPair returns true if the record's template is aligned as a proper pair.
func IsProperPair(r *sam.Record) bool { return r.Flags&sam.ProperPair != 0 }

// IsUnmapped returns true if the record is unmapped.
func IsUnmapped(r *sam.Record) bool { return r.Flags&sam.Unmapped != 0 }

// IsMateUnmapped returns true if the record's mate is unmapped.
func IsMateUnmapped(r *sam.Record) bool { return r.Flags&sam.MateUnmapped != 0 }

// IsReverse returns true if the record is on the reverse strand.
func IsReverse(r *sam.Record) bool { return r.Flags&sam.Reverse != 0 }

// IsMateReverse returns true if the record's mate is on the reverse strand.
func IsMateReverse(r *sam.Record) bool { return r.Flags&sam.MateReverse != 0 }

// IsRead1 returns true if the record is the first read of its template.
func IsRead1(r *sam.Record) bool { return r.Flags&sam.Read1 != 0 }

// IsRead2 returns true if the record is the last read of its template.
func IsRead2(r *sam.Record) bool { return r.Flags&sam.Read2 != 0 }

// IsSecondary returns true if the record is a secondary alignment.
func IsSecondary(r *sam.Record) bool { return r.Flags&sam.Secondary != 0 }

// IsQCFail returns true if the record failed quality checks.
func IsQCFail(r *sam.Record) bool { return r.Flags&sam.QCFail != 0 }

// IsDuplicate returns true if the record is flagged as a duplicate.
func IsDuplicate(r *sam.Record) bool { return r.Flags&sam.Duplicate != 0 }

// IsSupplementary returns true if the record is a supplementary alignment.
func IsSupplementary(r *sam.Record) bool { return r.Flags&sam.Supplementary != 0 }

// IsPrimary returns true if the record is neither secondary nor supplementary.
func IsPrimary(r *sam.Record) bool { return r.Flags&(sam.Secondary|sam.Supplementary) == 0 }

// HasNoMappedMate returns true if record is unpaired or has an unmapped mate.
func HasNoMappedMate(r *sam.Record) bool {
	return (r.Flags&sam.Paired) == 0 || (r.Flags&sam.MateUnmapped) != 0
}

type opKind int

const (
	opUnknown opKind = iota
	// opRef advances the reference cursor: M, D, N, =, X.
	opRef
	// opClip is a soft or hard clip. Clips never consume the reference but
	// move the unclipped ends.
	opClip
	// opNone consumes neither the reference nor clipped bases: I, P.
	opNone
)

const maxUnknownCigarWarnings = 10

var unknownCigarOps int64

// UnknownCigarOps returns the number of CIGAR operations with an unrecognized
// type seen by the functions of this package since process start.
func UnknownCigarOps() int64 { return atomic.LoadInt64(&unknownCigarOps) }

func kindOf(r *sam.Record, op sam.CigarOp) opKind {
	switch op.Type() {
	case sam.CigarMatch, sam.CigarDeletion, sam.CigarSkipped, sam.CigarEqual, sam.CigarMismatch:
		return opRef
	case sam.CigarSoftClipped, sam.CigarHardClipped:
		return opClip
	case sam.CigarInsertion, sam.CigarPadded:
		return opNone
	}
	if n := atomic.AddInt64(&unknownCigarOps, 1); n <= maxUnknownCigarWarnings {
		vlog.Errorf("bam: record %s: skipping unknown cigar op type %d (len %d)", r.Name, op.Type(), op.Len())
		if n == maxUnknownCigarWarnings {
			vlog.Errorf("bam: further unknown cigar op warnings suppressed")
		}
	}
	return opUnknown
}

// ReferenceLength returns the number of reference bases covered by the
// alignment. Unknown CIGAR operations are reported and skipped.
func ReferenceLength(r *sam.Record) int {
	n := 0
	for _, op := range r.Cigar {
		if kindOf(r, op) == opRef {
			n += op.Len()
		}
	}
	return n
}

// AlignmentEnd returns the 0-based position of the last reference base covered
// by the alignment.
func AlignmentEnd(r *sam.Record) int {
	return r.Pos + ReferenceLength(r) - 1
}

// LeftClipDistance returns the total length of the soft and hard clips at the
// start of the CIGAR.
func LeftClipDistance(r *sam.Record) int {
	n := 0
	for _, op := range r.Cigar {
		switch kindOf(r, op) {
		case opClip:
			n += op.Len()
		case opUnknown:
		default:
			return n
		}
	}
	return n
}

// RightClipDistance returns the total length of the soft and hard clips at the
// end of the CIGAR.
func RightClipDistance(r *sam.Record) int {
	n := 0
	for i := len(r.Cigar) - 1; i >= 0; i-- {
		op := r.Cigar[i]
		switch kindOf(r, op) {
		case opClip:
			n += op.Len()
		case opUnknown:
		default:
			return n
		}
	}
	return n
}

// FivePrimeClipDistance returns the clip length at the 5' end of the read.
func FivePrimeClipDistance(r *sam.Record) int {
	if IsReverse(r) {
		return RightClipDistance(r)
	}
	return LeftClipDistance(r)
}

// UnclippedStart returns the alignment start, moved left over leading clips.
func UnclippedStart(r *sam.Record) int {
	return r.Pos - LeftClipDistance(r)
}

// UnclippedEnd returns the alignment end, moved right over trailing clips.
func UnclippedEnd(r *sam.Record) int {
	return AlignmentEnd(r) + RightClipDistance(r)
}

// UnclippedFivePrimePosition returns the unclipped position of the 5' end of
// the read: UnclippedStart for forward reads, UnclippedEnd for reverse reads.
func UnclippedFivePrimePosition(r *sam.Record) int {
	if IsReverse(r) {
		return UnclippedEnd(r)
	}
	return UnclippedStart(r)
}
