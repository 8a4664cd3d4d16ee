package markduplicates

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/dedup/encoding/bamprovider"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type TestRecord struct {
	R       *sam.Record
	DupFlag bool
}

type TestCase struct {
	TRecords []TestRecord
	Opts     Opts
}

func NewRecord(name string, ref *sam.Reference, pos int, flags sam.Flags, matePos int, mateRef *sam.Reference, cigar sam.Cigar) *sam.Record {
	r := sam.GetFromFreePool()
	r.Name = name
	r.Ref = ref
	r.Pos = pos
	r.MatePos = matePos
	r.MateRef = mateRef
	r.Flags = flags
	r.Cigar = cigar
	r.AuxFields = nil
	r.Seq = sam.Seq{}
	r.Qual = nil
	return r
}

func NewRecordSeq(name string, ref *sam.Reference, pos int, flags sam.Flags, matePos int, mateRef *sam.Reference,
	cigar sam.Cigar, seq, qual string) *sam.Record {
	if len(seq) != len(qual) {
		panic("seq and qual must be equal length")
	}
	r := NewRecord(name, ref, pos, flags, matePos, mateRef, cigar)
	r.Seq = sam.NewSeq([]byte(seq))
	r.Qual = []byte(qual)
	return r
}

func NewRecordAux(name string, ref *sam.Reference, pos int, flags sam.Flags, matePos int, mateRef *sam.Reference,
	cigar sam.Cigar, aux sam.Aux) *sam.Record {
	r := NewRecord(name, ref, pos, flags, matePos, mateRef, cigar)
	r.AuxFields = append(r.AuxFields, aux)
	return r
}

func NewAux(name string, val interface{}) sam.Aux {
	aux, err := sam.NewAux(sam.NewTag(name), val)
	if err != nil {
		panic(fmt.Sprintf("error creating %s %v tag: %v", name, val, err))
	}
	return aux
}

// testOutputFormats lists the output and buffer layouts that
// RunTestCases exercises for every case.
var testOutputFormats = []struct {
	format, bufferFormat, bufferCompression string
}{
	{"bam", "recordio", "snappy"},
	{"bam", "recordio", "zstd"},
	{"bam", "bam", ""},
	{"sam", "recordio", "none"},
}

// RunTestCases runs Mark on the records of each case, in every output
// format, and checks the duplicate flag of each output record.
func RunTestCases(t *testing.T, header *sam.Header, cases []TestCase) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	for testIdx, test := range cases {
		for _, f := range testOutputFormats {
			t.Logf("---- starting TestCase[%d] %+v ----", testIdx, f)
			testrecords := make([]*sam.Record, 0, len(test.TRecords))
			for _, tr := range test.TRecords {
				testrecords = append(testrecords, tr.R)
			}
			provider := bamprovider.NewFakeProvider(header, testrecords)

			outputPath := NewTestOutput(tempDir, testIdx, f.format)

			opts := test.Opts
			opts.OutputPath = outputPath
			opts.Format = f.format
			opts.ScratchDir = tempDir
			opts.BufferFormat = f.bufferFormat
			opts.BufferCompression = f.bufferCompression
			markDuplicates := &MarkDuplicates{
				Provider: provider,
				Opts:     &opts,
			}

			_, err := markDuplicates.Mark(vcontext.Background())
			require.NoError(t, err)
			for i, r := range testrecords {
				t.Logf("input[%v]: %v begin %d end %d", i, r, r.Start(), r.End())
			}

			actualRecords := ReadRecords(t, outputPath)
			expected := make([]TestRecord, 0, len(test.TRecords))
			for _, tr := range test.TRecords {
				if !(opts.RemoveDups && tr.DupFlag) {
					expected = append(expected, tr)
				}
			}
			require.Equal(t, len(expected), len(actualRecords))
			for i, r := range actualRecords {
				t.Logf("output[%v]: %v", i, r)
				assert.Equal(t, expected[i].R.Name, r.Name, "record order changed")
				assert.Equal(t, expected[i].R.Flags&sam.Read1, r.Flags&sam.Read1, "record order changed")
				assert.Equal(t, expected[i].DupFlag, r.Flags&sam.Duplicate != 0,
					"duplicate flag is wrong for %s", r.Name)
			}
		}
	}
}

// NewTestOutput returns different string filename for the different output formats.
func NewTestOutput(dir string, index int, format string) string {
	switch format {
	case "bam":
		return filepath.Join(dir, fmt.Sprintf("%d.bam", index))
	case "sam":
		return filepath.Join(dir, fmt.Sprintf("%d.sam", index))
	}
	panic(format)
}

// ReadRecords reads the records from path and returns them as a slice, in order.
func ReadRecords(t *testing.T, path string) []*sam.Record {
	records := make([]*sam.Record, 0)
	p := bamprovider.NewProvider(path)
	if !strings.HasSuffix(path, ".bam") && !strings.HasSuffix(path, ".sam") {
		t.Fatalf("unknown file type: %s", path)
	}
	_, err := p.GetHeader()
	assert.NoError(t, err)
	iter := p.NewIterator()
	for iter.Scan() {
		records = append(records, iter.Record())
	}
	assert.NoError(t, iter.Close())
	assert.NoError(t, p.Close())
	return records
}
