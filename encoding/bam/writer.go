package bam

import (
	"bytes"
	"io"

	"github.com/grailbio/dedup/encoding/bgzf"
	"github.com/grailbio/hts/sam"
)

// Writer writes sam.Records sequentially as a BAM stream. It marshals every
// record with Marshal and compresses the stream with encoding/bgzf.
//
// Example:
//   w, err := bam.NewWriter(out, header, gzip.DefaultCompression)
//   for ... {
//     err = w.Write(rec)
//   }
//   err = w.Close()
type Writer struct {
	bgzf *bgzf.Writer
	buf  bytes.Buffer
	n    int64
}

// NewWriter writes the BAM header to w and returns a Writer that appends
// records after it. level is a klauspost/compress/gzip compression level.
func NewWriter(w io.Writer, header *sam.Header, level int) (*Writer, error) {
	bw, err := bgzf.NewWriter(w, level)
	if err != nil {
		return nil, err
	}
	if err := header.EncodeBinary(bw); err != nil {
		return nil, err
	}
	return &Writer{bgzf: bw}, nil
}

// Write appends r to the stream.
func (w *Writer) Write(r *sam.Record) error {
	w.buf.Reset()
	if err := Marshal(r, &w.buf); err != nil {
		return err
	}
	w.n++
	_, err := w.bgzf.Write(w.buf.Bytes())
	return err
}

// Records returns the number of records written so far.
func (w *Writer) Records() int64 { return w.n }

// Close flushes the last block and writes the BGZF terminator. It does not
// close the underlying io.Writer.
func (w *Writer) Close() error {
	return w.bgzf.Close()
}
