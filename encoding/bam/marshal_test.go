// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bam_test

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	grailbam "github.com/grailbio/dedup/encoding/bam"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecords(t *testing.T) (*sam.Header, []*sam.Record) {
	chr1, err := sam.NewReference("chr1", "", "", 1000, nil, nil)
	require.NoError(t, err)
	chr2, err := sam.NewReference("chr2", "", "", 2000, nil, nil)
	require.NoError(t, err)
	header, err := sam.NewHeader(nil, []*sam.Reference{chr1, chr2})
	require.NoError(t, err)

	rg, err := sam.NewAux(sam.NewTag("RG"), "rg1")
	require.NoError(t, err)
	nm, err := sam.NewAux(sam.NewTag("NM"), 3)
	require.NoError(t, err)

	cigar := []sam.CigarOp{
		sam.NewCigarOp(sam.CigarSoftClipped, 2),
		sam.NewCigarOp(sam.CigarMatch, 5),
		sam.NewCigarOp(sam.CigarDeletion, 1),
		sam.NewCigarOp(sam.CigarMatch, 3),
	}
	newRecord := func(name string, ref, mateRef *sam.Reference, pos, matePos int, flags sam.Flags, seq string, qual []byte, aux []sam.Aux) *sam.Record {
		r, err := sam.NewRecord(name, ref, mateRef, pos, matePos, 0, 60, cigar, []byte(seq), qual, aux)
		require.NoError(t, err)
		r.Flags = flags
		return r
	}
	records := []*sam.Record{
		newRecord("A:1", chr1, chr2, 10, 100, sam.Paired|sam.Read1, "ACGTACGTAC",
			[]byte{30, 30, 20, 10, 40, 40, 2, 15, 14, 16}, []sam.Aux{rg, nm}),
		newRecord("B:2", chr2, chr2, 500, 400, sam.Paired|sam.Read2|sam.Reverse, "TTTTTGGGGC",
			[]byte{20, 21, 22, 23, 24, 25, 26, 27, 28, 29}, []sam.Aux{nm}),
		newRecord("C:3", chr1, nil, 7, -1, 0, "ACGTACGTAC",
			[]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, nil),
	}
	unmapped, err := sam.NewRecord("D:4", nil, nil, -1, -1, 0, 0, nil, []byte("ACG"), []byte{20, 20, 20}, []sam.Aux{rg})
	require.NoError(t, err)
	unmapped.Flags = sam.Unmapped
	records = append(records, unmapped)
	return header, records
}

func TestMarshal(t *testing.T) {
	header, records := testRecords(t)
	for _, rec := range records {
		buf := bytes.NewBuffer(nil)
		require.NoError(t, grailbam.Marshal(rec, buf))
		serialized := buf.Bytes()
		serializedLen := int(binary.LittleEndian.Uint32(serialized[:4]))
		require.Equal(t, serializedLen, len(serialized)-4)

		rec2, err := grailbam.Unmarshal(serialized[4:], header)
		require.NoError(t, err, "rec=", rec.String())
		require.Equal(t, rec.String(), rec2.String())
		assert.Equal(t, rec.Flags, rec2.Flags)
		assert.Equal(t, len(rec.AuxFields), len(rec2.AuxFields))
	}
}

func TestMarshalErrors(t *testing.T) {
	rec := &sam.Record{Name: ""}
	assert.Error(t, grailbam.Marshal(rec, &bytes.Buffer{}))

	header, records := testRecords(t)
	_, err := grailbam.Unmarshal([]byte{1, 2, 3}, header)
	assert.Error(t, err)

	buf := bytes.NewBuffer(nil)
	require.NoError(t, grailbam.Marshal(records[0], buf))
	// Drop the trailing NUL of the RG:Z aux field.
	truncated := buf.Bytes()[4 : buf.Len()-len("NMC")-1-1]
	_, err = grailbam.Unmarshal(truncated, header)
	assert.Error(t, err)
}

func TestMarshalHeader(t *testing.T) {
	header, _ := testRecords(t)
	b, err := grailbam.MarshalHeader(header)
	require.NoError(t, err)
	h2, err := grailbam.UnmarshalHeader(b)
	require.NoError(t, err)
	require.Equal(t, len(header.Refs()), len(h2.Refs()))
	for i, ref := range header.Refs() {
		assert.Equal(t, ref.Name(), h2.Refs()[i].Name())
		assert.Equal(t, ref.Len(), h2.Refs()[i].Len())
	}
}

func TestWriterReadBack(t *testing.T) {
	header, records := testRecords(t)
	var out bytes.Buffer
	w, err := grailbam.NewWriter(&out, header, gzip.DefaultCompression)
	require.NoError(t, err)
	for _, rec := range records {
		require.NoError(t, w.Write(rec))
	}
	require.NoError(t, w.Close())
	assert.Equal(t, int64(len(records)), w.Records())

	r, err := bam.NewReader(&out, 1)
	require.NoError(t, err)
	var got []*sam.Record
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, rec)
	}
	require.NoError(t, r.Close())
	require.Equal(t, len(records), len(got))
	for i := range records {
		assert.Equal(t, records[i].String(), got[i].String())
	}
}
