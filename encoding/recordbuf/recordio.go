package recordbuf

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/golang/snappy"
	grailerrors "github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
	"github.com/grailbio/base/vcontext"
	gbam "github.com/grailbio/dedup/encoding/bam"
	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"
	"v.io/x/lib/vlog"
)

func init() {
	recordiozstd.Init()
}

// The recordio file stores one item per block. An item is a sequence of
// records, each serialized by encoding/bam.Marshal:
//
//   bytes uint32      // Size of the record, in bytes.
//   data [bytes]byte  // sam.Record serialized in BAM format
//
// There is no padding between records. With Snappy compression the whole item
// is snappy-encoded; Zstd is applied by the recordio transformer. The BAM
// header is stored in the recordio trailer.
const compressionKey = "recordbuf.compression"

type recordioWriter struct {
	out         file.File
	rio         recordio.Writer
	compression Compression
	blockSize   int
	trailer     []byte
	buf         bytes.Buffer
	nRecords    int64
	nBlocks     int
}

func newRecordioWriter(ctx context.Context, out file.File, header *sam.Header, opts Opts) (*recordioWriter, error) {
	trailer, err := gbam.MarshalHeader(header)
	if err != nil {
		return nil, err
	}
	w := &recordioWriter{
		out:         out,
		compression: opts.Compression,
		blockSize:   opts.BlockSize,
		trailer:     trailer,
	}
	if w.blockSize <= 0 {
		w.blockSize = DefaultBlockSize
	}
	rioOpts := recordio.WriterOpts{
		Marshal: func(scratch []byte, v interface{}) ([]byte, error) {
			return v.([]byte), nil
		},
	}
	if w.compression == Zstd {
		rioOpts.Transformers = []string{recordiozstd.Name}
	}
	w.rio = recordio.NewWriter(out.Writer(ctx), rioOpts)
	w.rio.AddHeader(compressionKey, w.compression.String())
	w.rio.AddHeader(recordio.KeyTrailer, true)
	return w, nil
}

func (w *recordioWriter) Write(r *sam.Record) error {
	if err := gbam.Marshal(r, &w.buf); err != nil {
		return errors.Wrapf(err, "recordbuf: record %d (%s)", w.nRecords, r.Name)
	}
	w.nRecords++
	if w.buf.Len() >= w.blockSize {
		w.flush()
	}
	return nil
}

func (w *recordioWriter) Records() int64 { return w.nRecords }

// flush hands the current block to recordio. recordio may compress and write
// it asynchronously, so the block gets its own storage.
func (w *recordioWriter) flush() {
	if w.buf.Len() == 0 {
		return
	}
	block := append([]byte(nil), w.buf.Bytes()...)
	w.buf.Reset()
	if w.compression == Snappy {
		block = snappy.Encode(nil, block)
	}
	w.rio.Append(block)
	w.rio.Flush()
	w.nBlocks++
}

func (w *recordioWriter) Close(ctx context.Context) (err error) {
	defer file.CloseAndReport(ctx, w.out, &err)
	w.flush()
	w.rio.Wait()
	w.rio.SetTrailer(w.trailer)
	if err = w.rio.Finish(); err != nil {
		err = errors.Wrapf(err, "recordbuf: finish %s", w.out.Name())
		return
	}
	vlog.VI(1).Infof("recordbuf: %s: wrote %d records in %d blocks (%v)", w.out.Name(), w.nRecords, w.nBlocks, w.compression)
	return
}

type recordioReader struct {
	path   string
	in     file.File
	rio    recordio.Scanner
	header *sam.Header
	snappy bool
	err    grailerrors.Once

	block []byte // Records of the current block not yet parsed.
	rec   *sam.Record
	n     int64
}

func newRecordioReader(ctx context.Context, path string) (*recordioReader, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.Wrapf(err, "recordbuf: open %s", path)
	}
	r := &recordioReader{path: path, in: in}
	// Unmarshal runs only from Scan, after the header has been parsed.
	r.rio = recordio.NewScanner(in.Reader(ctx), recordio.ScannerOpts{
		Unmarshal: func(b []byte) (interface{}, error) {
			if r.snappy {
				return snappy.Decode(nil, b)
			}
			return b, nil
		},
	})
	cleanup := func(err error) (*recordioReader, error) {
		r.rio.Finish() // nolint: errcheck
		in.Close(ctx)  // nolint: errcheck
		return nil, errors.Wrapf(err, "recordbuf: %s", path)
	}
	if err := r.rio.Err(); err != nil {
		return cleanup(err)
	}
	header := r.rio.Header()
	if !header.HasTrailer() {
		return cleanup(fmt.Errorf("no trailer found (header: %+v)", header))
	}
	if r.header, err = gbam.UnmarshalHeader(r.rio.Trailer()); err != nil {
		return cleanup(err)
	}
	found := false
	for _, kv := range header {
		if kv.Key != compressionKey {
			continue
		}
		s, _ := kv.Value.(string)
		compression, err := ParseCompression(s)
		if err != nil {
			return cleanup(err)
		}
		r.snappy = compression == Snappy
		found = true
	}
	if !found {
		return cleanup(fmt.Errorf("header key %s not found", compressionKey))
	}
	return r, nil
}

// Scan implements bamprovider.Iterator.
func (r *recordioReader) Scan() bool {
	if r.err.Err() != nil {
		return false
	}
	for len(r.block) == 0 {
		if !r.rio.Scan() {
			r.err.Set(r.rio.Err())
			return false
		}
		r.block = r.rio.Get().([]byte)
	}
	if len(r.block) < 4 {
		r.err.Set(fmt.Errorf("recordbuf: %s: truncated record %d", r.path, r.n))
		return false
	}
	size := int(binary.LittleEndian.Uint32(r.block))
	if len(r.block) < 4+size {
		r.err.Set(fmt.Errorf("recordbuf: %s: record %d: size %d exceeds block", r.path, r.n, size))
		return false
	}
	rec, err := gbam.Unmarshal(r.block[4:4+size], r.header)
	if err != nil {
		r.err.Set(errors.Wrapf(err, "recordbuf: %s: record %d", r.path, r.n))
		return false
	}
	r.block = r.block[4+size:]
	r.rec = rec
	r.n++
	return true
}

// Record implements bamprovider.Iterator.
func (r *recordioReader) Record() *sam.Record { return r.rec }

// Err implements bamprovider.Iterator.
func (r *recordioReader) Err() error { return r.err.Err() }

// Close implements bamprovider.Iterator.
func (r *recordioReader) Close() error {
	r.err.Set(r.rio.Finish())
	r.err.Set(r.in.Close(vcontext.Background()))
	return r.err.Err()
}
