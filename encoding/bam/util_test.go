package bam

import (
	"regexp"
	"strconv"
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/stretchr/testify/assert"
)

var cigarRE = regexp.MustCompile(`^(\d+)([MIDNSHP=X])`)

// parseCigar converts a CIGAR string such as "1H2S6M" to ops.
func parseCigar(t *testing.T, cigar string) []sam.CigarOp {
	types := map[string]sam.CigarOpType{
		"M": sam.CigarMatch, "I": sam.CigarInsertion, "D": sam.CigarDeletion,
		"N": sam.CigarSkipped, "S": sam.CigarSoftClipped, "H": sam.CigarHardClipped,
		"P": sam.CigarPadded, "=": sam.CigarEqual, "X": sam.CigarMismatch,
	}
	var ops []sam.CigarOp
	for cigar != "" {
		m := cigarRE.FindStringSubmatch(cigar)
		if m == nil {
			t.Fatalf("bad cigar %q", cigar)
		}
		n, err := strconv.Atoi(m[1])
		assert.NoError(t, err)
		ops = append(ops, sam.NewCigarOp(types[m[2]], n))
		cigar = cigar[len(m[0]):]
	}
	return ops
}

func TestFlagParser(t *testing.T) {
	tests := []struct {
		name string
		flag sam.Flags
		f    func(record *sam.Record) bool
		want bool
	}{
		{"IsPaired", sam.Paired, IsPaired, true},
		{"IsProperPair", sam.ProperPair, IsProperPair, true},
		{"IsUnmapped", sam.Unmapped, IsUnmapped, true},
		{"IsMateUnmapped", sam.MateUnmapped, IsMateUnmapped, true},
		{"IsReverse", sam.Reverse, IsReverse, true},
		{"IsMateReverse", sam.MateReverse, IsMateReverse, true},
		{"IsRead1", sam.Read1, IsRead1, true},
		{"IsRead2", sam.Read2, IsRead2, true},
		{"IsSecondary", sam.Secondary, IsSecondary, true},
		{"IsQCFail", sam.QCFail, IsQCFail, true},
		{"IsDuplicate", sam.Duplicate, IsDuplicate, true},
		{"IsSupplementary", sam.Supplementary, IsSupplementary, true},
		{"IsPrimary", sam.Paired, IsPrimary, true},
		{"IsPrimary", sam.Secondary, IsPrimary, false},
		{"IsPrimary", sam.Supplementary, IsPrimary, false},
		{"IsPaired", sam.Supplementary, IsPaired, false},
		{"IsUnmapped", sam.MateUnmapped, IsUnmapped, false},
		{"IsReverse", sam.MateReverse, IsReverse, false},
		{"IsDuplicate", sam.QCFail, IsDuplicate, false},
		{"HasNoMappedMate", 0, HasNoMappedMate, true},
		{"HasNoMappedMate", sam.Paired | sam.MateUnmapped, HasNoMappedMate, true},
		{"HasNoMappedMate", sam.Paired, HasNoMappedMate, false},
		{"HasNoMappedMate", sam.Paired | sam.Unmapped, HasNoMappedMate, false},
	}
	for _, test := range tests {
		r := sam.Record{Name: "TestRead", Flags: test.flag}
		assert.Equalf(t, test.want, test.f(&r), "%s(%v)", test.name, test.flag)
	}
}

func TestClippingDistance(t *testing.T) {
	chr1, err := sam.NewReference("chr1", "", "", 1000, nil, nil)
	assert.NoError(t, err)
	fwd := sam.Paired | sam.Read1
	rev := sam.Paired | sam.Read1 | sam.Reverse

	tests := []struct {
		flags                       sam.Flags
		cigar                       string
		fivePrime, start, end       int
		leftClip, rightClip, fpClip int
	}{
		{fwd, "10M", 0, 0, 9, 0, 0, 0},
		{fwd, "1S8M1S", -1, -1, 8, 1, 1, 1},
		{fwd, "1H8M1H", -1, -1, 8, 1, 1, 1},
		{fwd, "1H1S6M1S1H", -2, -2, 7, 2, 2, 2},
		{fwd, "1S1H1S4M1S1H1S", -3, -3, 6, 3, 3, 3},
		{fwd, "2S7M1S", -2, -2, 7, 2, 1, 2},
		{fwd, "2S3M2I3M", -2, -2, 5, 2, 0, 2},
		{rev, "10M", 9, 0, 9, 0, 0, 0},
		{rev, "1S8M1S", 8, -1, 8, 1, 1, 1},
		{rev, "1H1S6M1S1H", 7, -2, 7, 2, 2, 2},
		{rev, "1S1H1S4M1S1H1S", 6, -3, 6, 3, 3, 3},
		{rev, "2S7M1S", 7, -2, 7, 2, 1, 1},
		{rev, "3M2D3M4S", 11, 0, 11, 0, 4, 4},
	}
	for i, test := range tests {
		r := &sam.Record{Name: "A", Ref: chr1, Pos: 0, Flags: test.flags, Cigar: parseCigar(t, test.cigar)}
		assert.Equalf(t, test.fivePrime, UnclippedFivePrimePosition(r), "test %d: %s", i, test.cigar)
		assert.Equalf(t, test.start, UnclippedStart(r), "test %d: %s", i, test.cigar)
		assert.Equalf(t, test.end, UnclippedEnd(r), "test %d: %s", i, test.cigar)
		assert.Equalf(t, test.leftClip, LeftClipDistance(r), "test %d: %s", i, test.cigar)
		assert.Equalf(t, test.rightClip, RightClipDistance(r), "test %d: %s", i, test.cigar)
		assert.Equalf(t, test.fpClip, FivePrimeClipDistance(r), "test %d: %s", i, test.cigar)
	}
}

func TestReferenceLength(t *testing.T) {
	chr1, err := sam.NewReference("chr1", "", "", 1000, nil, nil)
	assert.NoError(t, err)
	op := sam.NewCigarOp
	tests := []struct {
		cigar  []sam.CigarOp
		refLen int
		end    int
	}{
		{[]sam.CigarOp{op(sam.CigarMatch, 10)}, 10, 109},
		{[]sam.CigarOp{op(sam.CigarMatch, 3), op(sam.CigarInsertion, 2), op(sam.CigarMatch, 5)}, 8, 107},
		{[]sam.CigarOp{op(sam.CigarMatch, 3), op(sam.CigarDeletion, 2), op(sam.CigarMatch, 5)}, 10, 109},
		{[]sam.CigarOp{op(sam.CigarMatch, 3), op(sam.CigarSkipped, 100), op(sam.CigarMatch, 5)}, 108, 207},
		{[]sam.CigarOp{op(sam.CigarEqual, 3), op(sam.CigarMismatch, 1), op(sam.CigarPadded, 4), op(sam.CigarEqual, 2)}, 6, 105},
		{[]sam.CigarOp{op(sam.CigarSoftClipped, 3), op(sam.CigarMatch, 5), op(sam.CigarHardClipped, 4)}, 5, 104},
	}
	for i, test := range tests {
		r := &sam.Record{Name: "A", Ref: chr1, Pos: 100, Cigar: test.cigar}
		assert.Equalf(t, test.refLen, ReferenceLength(r), "test %d", i)
		assert.Equalf(t, test.end, AlignmentEnd(r), "test %d", i)
	}
}

func TestUnknownCigarOpIsSkipped(t *testing.T) {
	chr1, err := sam.NewReference("chr1", "", "", 1000, nil, nil)
	assert.NoError(t, err)
	// Type 12 is outside the set of SAM cigar operations.
	unknown := sam.CigarOp(uint32(7)<<4 | 12)
	r := &sam.Record{
		Name:  "A",
		Ref:   chr1,
		Pos:   100,
		Flags: sam.Paired | sam.Read1 | sam.Reverse,
		Cigar: []sam.CigarOp{
			sam.NewCigarOp(sam.CigarSoftClipped, 2),
			unknown,
			sam.NewCigarOp(sam.CigarSoftClipped, 1),
			sam.NewCigarOp(sam.CigarMatch, 10),
			unknown,
			sam.NewCigarOp(sam.CigarHardClipped, 4),
		},
	}
	before := UnknownCigarOps()
	assert.Equal(t, 10, ReferenceLength(r))
	assert.Equal(t, 3, LeftClipDistance(r))
	assert.Equal(t, 4, RightClipDistance(r))
	assert.Equal(t, 97, UnclippedStart(r))
	assert.Equal(t, 113, UnclippedFivePrimePosition(r))
	assert.True(t, UnknownCigarOps() > before)
}

func TestHasNoMappedMate(t *testing.T) {
	assert.True(t, HasNoMappedMate(&sam.Record{Flags: sam.Read1}))
	assert.True(t, HasNoMappedMate(&sam.Record{Flags: sam.Paired | sam.MateUnmapped}))
	assert.False(t, HasNoMappedMate(&sam.Record{Flags: sam.Paired}))
}
