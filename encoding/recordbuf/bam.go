package recordbuf

import (
	"context"

	"github.com/grailbio/base/file"
	gbam "github.com/grailbio/dedup/encoding/bam"
	"github.com/grailbio/dedup/encoding/bamprovider"
	"github.com/grailbio/hts/sam"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// bamWriter implements FormatBAM. Buffer files are short lived, so they are
// written at the fastest compression level.
type bamWriter struct {
	out file.File
	w   *gbam.Writer
}

func newBAMWriter(ctx context.Context, out file.File, header *sam.Header) (*bamWriter, error) {
	w, err := gbam.NewWriter(out.Writer(ctx), header, gzip.BestSpeed)
	if err != nil {
		return nil, err
	}
	return &bamWriter{out: out, w: w}, nil
}

func (w *bamWriter) Write(r *sam.Record) error { return w.w.Write(r) }

func (w *bamWriter) Records() int64 { return w.w.Records() }

func (w *bamWriter) Close(ctx context.Context) (err error) {
	defer file.CloseAndReport(ctx, w.out, &err)
	if err = w.w.Close(); err != nil {
		err = errors.Wrapf(err, "recordbuf: close %s", w.out.Name())
	}
	return
}

// bamReader reads FormatBAM through a BAMProvider. Closing the iterator also
// closes the provider.
type bamReader struct {
	bamprovider.Iterator
	provider bamprovider.Provider
}

func newBAMReader(path string) (*bamReader, error) {
	p := &bamprovider.BAMProvider{Path: path}
	if _, err := p.GetHeader(); err != nil {
		p.Close() // nolint: errcheck
		return nil, errors.Wrapf(err, "recordbuf: open %s", path)
	}
	return &bamReader{Iterator: p.NewIterator(), provider: p}, nil
}

func (r *bamReader) Close() error {
	err := r.Iterator.Close()
	if perr := r.provider.Close(); err == nil {
		err = perr
	}
	return err
}
