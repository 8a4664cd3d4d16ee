package bam

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/grailbio/hts/sam"
)

var jumps = [256]int{
	'A': 1,
	'c': 1, 'C': 1,
	's': 2, 'S': 2,
	'i': 4, 'I': 4,
	'f': 4,
	'Z': -1,
	'H': -1,
	'B': -1,
}

var (
	errCorruptAuxField = errors.New("bam: corrupt aux field")
	errRecordTooShort  = errors.New("bam: record too short")
)

// parseAux splits the OPT section of a BAM record into sam.Aux values that
// share aux's storage.
func parseAux(aux []byte) ([]sam.Aux, error) {
	var aa []sam.Aux
	for i := 0; i+2 < len(aux); {
		t := aux[i+2]
		switch j := jumps[t]; {
		case j > 0:
			j += 3
			if i+j > len(aux) {
				return nil, errCorruptAuxField
			}
			aa = append(aa, sam.Aux(aux[i:i+j:i+j]))
			i += j
		case t == 'Z' || t == 'H':
			end := bytes.IndexByte(aux[i+3:], 0)
			if end < 0 {
				return nil, errCorruptAuxField
			}
			j := 3 + end
			// The terminating NUL is not part of the sam.Aux.
			aa = append(aa, sam.Aux(aux[i:i+j:i+j]))
			i += j + 1
		case t == 'B':
			if len(aux) < i+8 || jumps[aux[i+3]] <= 0 {
				return nil, errCorruptAuxField
			}
			length := binary.LittleEndian.Uint32(aux[i+4 : i+8])
			j := int(length)*jumps[aux[i+3]] + 8
			if i+j > len(aux) {
				return nil, errCorruptAuxField
			}
			aa = append(aa, sam.Aux(aux[i:i+j:i+j]))
			i += j
		default:
			return nil, fmt.Errorf("bam: unrecognised optional field type: %q", t)
		}
	}
	return aa, nil
}

// Unmarshal parses one serialized BAM record. b must start right after the
// block_size field. The returned record does not share storage with b.
func Unmarshal(b []byte, header *sam.Header) (*sam.Record, error) {
	if len(b) < bamFixedBytes {
		return nil, errRecordTooShort
	}
	rec := &sam.Record{}
	// int(int32(uint32)) keeps the sign of -1.
	refID := int(int32(binary.LittleEndian.Uint32(b)))
	rec.Pos = int(int32(binary.LittleEndian.Uint32(b[4:])))
	nLen := int(b[8])
	rec.MapQ = b[9]
	nCigar := int(binary.LittleEndian.Uint16(b[12:]))
	rec.Flags = sam.Flags(binary.LittleEndian.Uint16(b[14:]))
	lSeq := int(binary.LittleEndian.Uint32(b[16:]))
	nextRefID := int(int32(binary.LittleEndian.Uint32(b[20:])))
	rec.MatePos = int(int32(binary.LittleEndian.Uint32(b[24:])))
	rec.TempLen = int(int32(binary.LittleEndian.Uint32(b[28:])))

	nDoubletBytes := (lSeq + 1) >> 1
	auxOffset := bamFixedBytes + nLen + nCigar*4 + nDoubletBytes + lSeq
	if nLen < 1 || len(b) < auxOffset {
		return nil, fmt.Errorf("bam: corrupt record: len=%d, aux offset=%d", len(b), auxOffset)
	}
	// Copy the variable part once; Qual and AuxFields are slices of it.
	data := append([]byte(nil), b[bamFixedBytes:]...)
	off := 0
	rec.Name = string(data[:nLen-1])
	off += nLen

	if nCigar > 0 {
		rec.Cigar = make(sam.Cigar, nCigar)
		for i := range rec.Cigar {
			rec.Cigar[i] = sam.CigarOp(binary.LittleEndian.Uint32(data[off:]))
			off += 4
		}
	}

	rec.Seq.Length = lSeq
	rec.Seq.Seq = make([]sam.Doublet, nDoubletBytes)
	for i := range rec.Seq.Seq {
		rec.Seq.Seq[i] = sam.Doublet(data[off+i])
	}
	off += nDoubletBytes

	rec.Qual = data[off : off+lSeq : off+lSeq]
	off += lSeq

	var err error
	if rec.AuxFields, err = parseAux(data[off:]); err != nil {
		return nil, err
	}

	refs := header.Refs()
	if refID != -1 {
		if refID < -1 || refID >= len(refs) {
			return nil, fmt.Errorf("bam: reference id %v out of range", refID)
		}
		rec.Ref = refs[refID]
	}
	if nextRefID != -1 {
		if nextRefID < -1 || nextRefID >= len(refs) {
			return nil, fmt.Errorf("bam: mate reference id %v out of range", nextRefID)
		}
		rec.MateRef = refs[nextRefID]
	}
	return rec, nil
}

// UnmarshalHeader parses a sam.Header encoded in BAM binary format.
func UnmarshalHeader(buf []byte) (*sam.Header, error) {
	header, err := sam.NewHeader(nil, nil)
	if err != nil {
		return nil, err
	}
	hr := bytes.NewReader(buf)
	if err := header.DecodeBinary(hr); err != nil {
		return nil, err
	}
	if hr.Len() > 0 {
		return nil, fmt.Errorf("%d byte junk at the end of SAM header", hr.Len())
	}
	return header, nil
}
