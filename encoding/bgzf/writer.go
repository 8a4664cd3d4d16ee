// Package bgzf includes a Writer for the .bgzf (block gzipped) file
// format.  A .bgzf file consists of one or more complete gzip blocks
// concatenated together.  Each of the gzip blocks must represent at
// most 64KB of uncompressed data, and the compressed size of the
// block must be at most 64KB.  A valid .bgzf file ends with the 28
// byte .bgzf terminator; the terminator is a valid gzip block
// containing an empty payload.
//
// BAM output files and the "bam" flavor of the dedup scratch buffer
// are written through this package.
//
// For more information about the .bgzf file format, see the SAM/BAM
// spec here: https://samtools.github.io/hts-specs/SAMv1.pdf
//
// Example:
//   var bgzfFile bytes.Buffer
//   w, err := NewWriter(&bgzfFile, gzip.DefaultCompression)
//   n, err := w.Write([]byte("Foo bar"))
//   err = w.Close()
package bgzf

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"v.io/x/lib/vlog"
)

const (
	// DefaultUncompressedBlockSize is the default bgzf
	// uncompressedBlockSize chosen by both sambamba and biogo.  See
	// the SAM/BAM specification for details.
	DefaultUncompressedBlockSize = 0x0ff00

	// MaxUncompressedBlockSize is the largest legal value for
	// uncompressedBlockSize.
	MaxUncompressedBlockSize = 0x10000

	// compressedBlockSize is the maximum size of the compressed data
	// for a Bgzf block.  See the SAM/BAM specification for details.
	compressedBlockSize = 0x10000

	// Offsets into the gzip member header.
	xflOffset   = 8
	extraOffset = 12
)

var (
	// bgzfExtra goes into the gzip's Extra subfield, with subfield
	// ids: 66, 67, and length 2.  See the SAM/BAM spec.
	bgzfExtra       = [...]byte{66, 67, 2, 0, 0, 0}
	bgzfExtraPrefix = [...]byte{66, 67, 2, 0}

	// terminator is the Bgzf EOF terminator.  It belongs at the end
	// of a valid Bgzf file.
	terminator = []byte{
		0x1f, 0x8b, 0x08, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0xff, 0x06, 0x00, 0x42, 0x43,
		0x02, 0x00, 0x1b, 0x00, 0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
)

// Writer compresses data into .bgzf format.  Each gzip member holds
// at most uncompressedSize payload bytes, and carries the BC Extra
// subfield with the compressed member size - 1.  Not thread safe.
type Writer struct {
	level            int
	uncompressedSize int
	xfl              int
	w                io.Writer
	original         bytes.Buffer
	compressed       bytes.Buffer
	gz               *gzip.Writer // reused across blocks through Reset.
	coffset          uint64       // starting file position of the current gzip block
	blocks           int
}

// NewWriter returns a new .bgzf writer with the given compression
// level, one of the klauspost/compress/gzip levels.
func NewWriter(w io.Writer, level int) (*Writer, error) {
	return NewWriterParams(w, level, DefaultUncompressedBlockSize, -1)
}

// NewWriterParams returns a new .bgzf writer.  uncompressedBlockSize
// is the largest number of bytes to put into each .bgzf block.
// gzipXFL is written to the XFL gzip header field of every data
// block; -1 keeps the value chosen by the compressor.
func NewWriterParams(w io.Writer, level, uncompressedBlockSize, gzipXFL int) (*Writer, error) {
	if uncompressedBlockSize <= 0 || uncompressedBlockSize > MaxUncompressedBlockSize {
		return nil, fmt.Errorf("bgzf: uncompressedBlockSize %d must be in (0, %d]",
			uncompressedBlockSize, MaxUncompressedBlockSize)
	}
	if gzipXFL != -1 && (gzipXFL < 0 || gzipXFL > 255) {
		return nil, fmt.Errorf("bgzf: gzipXFL must be -1 or in [0:255] not %d", gzipXFL)
	}
	gz, err := gzip.NewWriterLevel(nil, level)
	if err != nil {
		return nil, err
	}
	return &Writer{
		level:            level,
		uncompressedSize: uncompressedBlockSize,
		xfl:              gzipXFL,
		w:                w,
		gz:               gz,
	}, nil
}

// Write appends buf to the .bgzf payload.  Full blocks are compressed
// and written to the underlying writer as they fill up.
func (w *Writer) Write(buf []byte) (int, error) {
	for i := 0; i < len(buf); {
		end := len(buf)
		if limit := i + w.uncompressedSize - w.original.Len(); limit < end {
			end = limit
		}
		n, _ := w.original.Write(buf[i:end])
		i += n
		if err := w.flushBlocks(false); err != nil {
			return i, err
		}
	}
	return len(buf), nil
}

// CloseWithoutTerminator flushes the pending partial block, but does
// not append the .bgzf terminator.
func (w *Writer) CloseWithoutTerminator() error {
	return w.flushBlocks(true)
}

// Close flushes the pending partial block and appends the .bgzf
// terminator.  It does not close the underlying writer.
func (w *Writer) Close() error {
	if err := w.CloseWithoutTerminator(); err != nil {
		return err
	}
	_, err := w.w.Write(terminator)
	return err
}

// Blocks returns the number of data blocks written so far.
func (w *Writer) Blocks() int { return w.blocks }

// VOffset returns the virtual-offset of the next byte to be written.
func (w *Writer) VOffset() uint64 {
	return w.coffset<<16 | uint64(w.original.Len())
}

func (w *Writer) flushBlocks(remainder bool) error {
	for w.original.Len() >= w.uncompressedSize || (remainder && w.original.Len() > 0) {
		if err := w.compressBlock(w.original.Next(w.uncompressedSize)); err != nil {
			return err
		}
	}
	return nil
}

// compressBlock writes one gzip member holding payload to w.w.
func (w *Writer) compressBlock(payload []byte) error {
	w.compressed.Reset()
	w.gz.Reset(&w.compressed)
	w.gz.Header.Extra = append(w.gz.Header.Extra[:0], bgzfExtra[:]...)
	w.gz.Header.OS = 0xff // Unknown OS value
	if _, err := w.gz.Write(payload); err != nil {
		return err
	}
	if err := w.gz.Close(); err != nil {
		return err
	}

	b := w.compressed.Bytes()
	if len(b) < extraOffset+len(bgzfExtra) {
		vlog.Fatalf("bgzf: compressed length is too short: %d < %d", len(b), extraOffset+len(bgzfExtra))
	}
	if !bytes.Equal(b[extraOffset:extraOffset+len(bgzfExtraPrefix)], bgzfExtraPrefix[:]) {
		vlog.Fatalf("bgzf: could not find bgzf extra prefix")
	}
	if w.xfl >= 0 {
		b[xflOffset] = byte(w.xfl)
	}
	bsize := len(b) - 1
	if bsize >= compressedBlockSize {
		return fmt.Errorf("bgzf: compressed block is too big: %d > %d", bsize, compressedBlockSize)
	}
	b[extraOffset+4] = byte(bsize)
	b[extraOffset+5] = byte(bsize >> 8)

	if _, err := w.w.Write(b); err != nil {
		return err
	}
	w.coffset += uint64(len(b))
	w.blocks++
	return nil
}
