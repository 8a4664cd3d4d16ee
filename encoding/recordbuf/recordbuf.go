// Package recordbuf implements the scratch file that stores a copy of every
// input record while duplicates are being identified. The file is written
// once, in input order, then read back once, in the same order, and removed.
//
// Two formats are supported. "recordio" (the default) stores blocks of
// BAM-serialized records in a grailbio recordio file, compressed with snappy,
// zstd, or not at all. "bam" stores a regular BGZF-compressed BAM file.
package recordbuf

import (
	"context"
	"fmt"

	"github.com/grailbio/base/file"
	"github.com/grailbio/dedup/encoding/bamprovider"
	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"
)

// Format is the on-disk layout of the buffer.
type Format int

const (
	// FormatRecordio stores blocks of BAM-serialized records in recordio.
	FormatRecordio Format = iota
	// FormatBAM stores a plain BAM file.
	FormatBAM
)

// ParseFormat parses "recordio" or "bam".
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "recordio":
		return FormatRecordio, nil
	case "bam":
		return FormatBAM, nil
	}
	return FormatRecordio, fmt.Errorf("recordbuf: unknown format %q", s)
}

func (f Format) String() string {
	if f == FormatBAM {
		return "bam"
	}
	return "recordio"
}

// Compression selects the block compression of FormatRecordio.
type Compression int

const (
	// Snappy compresses each block with github.com/golang/snappy.
	Snappy Compression = iota
	// Zstd compresses each block with the recordio zstd transformer.
	Zstd
	// None stores blocks uncompressed.
	None
)

// ParseCompression parses "snappy", "zstd" or "none".
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "snappy":
		return Snappy, nil
	case "zstd":
		return Zstd, nil
	case "none":
		return None, nil
	}
	return Snappy, fmt.Errorf("recordbuf: unknown compression %q", s)
}

func (c Compression) String() string {
	switch c {
	case Zstd:
		return "zstd"
	case None:
		return "none"
	}
	return "snappy"
}

// DefaultBlockSize is the default uncompressed size of one recordio block.
const DefaultBlockSize = 1 << 20

// Opts configures a buffer.
type Opts struct {
	Format      Format
	Compression Compression
	// BlockSize is the target uncompressed block size for FormatRecordio. If
	// <= 0, DefaultBlockSize is used.
	BlockSize int
}

// Writer appends records to a buffer file.
type Writer interface {
	// Write appends one record.
	Write(r *sam.Record) error
	// Records returns the number of records written.
	Records() int64
	// Close flushes the file. It must be called exactly once.
	Close(ctx context.Context) error
}

// NewWriter creates the buffer file at path. The header is stored with the
// data so that NewReader can decode the records.
func NewWriter(ctx context.Context, path string, header *sam.Header, opts Opts) (Writer, error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return nil, errors.Wrapf(err, "recordbuf: create %s", path)
	}
	var w Writer
	switch opts.Format {
	case FormatBAM:
		w, err = newBAMWriter(ctx, out, header)
	default:
		w, err = newRecordioWriter(ctx, out, header, opts)
	}
	if err != nil {
		out.Close(ctx) // nolint: errcheck
		return nil, errors.Wrapf(err, "recordbuf: %s", path)
	}
	return w, nil
}

// NewReader opens a buffer file written by NewWriter with the same format.
// The iterator yields the records in the order they were written.
func NewReader(ctx context.Context, path string, opts Opts) (bamprovider.Iterator, error) {
	switch opts.Format {
	case FormatBAM:
		return newBAMReader(path)
	default:
		return newRecordioReader(ctx, path)
	}
}

// Remove deletes the buffer file.
func Remove(ctx context.Context, path string) error {
	if err := file.Remove(ctx, path); err != nil {
		return errors.Wrapf(err, "recordbuf: remove %s", path)
	}
	return nil
}
