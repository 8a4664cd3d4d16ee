package bamprovider

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"github.com/klauspost/compress/gzip"
	"v.io/x/lib/vlog"
)

// BAMProvider implements Provider for BAM files. Path may be any pathname
// supported by grailbio/base/file, including S3 URLs.
type BAMProvider struct {
	// Path of the *.bam file. Must be nonempty.
	Path  string
	state providerState
}

// SAMProvider implements Provider for SAM text files. A ".gz" suffix makes
// the provider decompress the file with gzip.
type SAMProvider struct {
	// Path of the *.sam or *.sam.gz file. Must be nonempty.
	Path  string
	state providerState
}

// recordReader is the part of hts bam.Reader and sam.Reader the providers use.
type recordReader interface {
	Header() *sam.Header
	Read() (*sam.Record, error)
}

// opener creates a recordReader on top of an open file. The returned func
// releases the resources owned by the reader, not the file itself.
type opener func(in io.Reader) (recordReader, func() error, error)

func openBAM(in io.Reader) (recordReader, func() error, error) {
	r, err := bam.NewReader(in, 1)
	if err != nil {
		return nil, nil, err
	}
	return r, r.Close, nil
}

func openSAM(gzipped bool) opener {
	return func(in io.Reader) (recordReader, func() error, error) {
		closer := func() error { return nil }
		if gzipped {
			gz, err := gzip.NewReader(in)
			if err != nil {
				return nil, nil, err
			}
			in, closer = gz, gz.Close
		}
		r, err := sam.NewReader(in)
		if err != nil {
			closer() // nolint: errcheck
			return nil, nil, err
		}
		return r, closer, nil
	}
}

// GetHeader implements the Provider interface.
func (b *BAMProvider) GetHeader() (*sam.Header, error) {
	return b.state.getHeader(b.Path, openBAM)
}

// NewIterator implements the Provider interface.
func (b *BAMProvider) NewIterator() Iterator {
	return b.state.newIterator(b.Path, openBAM)
}

// Close implements the Provider interface.
func (b *BAMProvider) Close() error {
	return b.state.close(b.Path)
}

func (s *SAMProvider) open() opener {
	return openSAM(strings.HasSuffix(s.Path, ".gz"))
}

// GetHeader implements the Provider interface.
func (s *SAMProvider) GetHeader() (*sam.Header, error) {
	return s.state.getHeader(s.Path, s.open())
}

// NewIterator implements the Provider interface.
func (s *SAMProvider) NewIterator() Iterator {
	return s.state.newIterator(s.Path, s.open())
}

// Close implements the Provider interface.
func (s *SAMProvider) Close() error {
	return s.state.close(s.Path)
}

// providerState is the bookkeeping shared by the file-backed providers.
type providerState struct {
	err errors.Once

	mu      sync.Mutex
	nActive int
	header  *sam.Header
}

func (s *providerState) getHeader(path string, open opener) (*sam.Header, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.header != nil {
		return s.header, nil
	}
	ctx := vcontext.Background()
	in, err := file.Open(ctx, path)
	if err != nil {
		s.err.Set(err)
		return nil, err
	}
	defer in.Close(ctx) // nolint: errcheck
	r, closeReader, err := open(in.Reader(ctx))
	if err != nil {
		err = errors.E(err, fmt.Sprintf("read header of %s", path))
		s.err.Set(err)
		return nil, err
	}
	s.header = r.Header()
	if err := closeReader(); err != nil {
		s.err.Set(err)
		return nil, err
	}
	return s.header, nil
}

func (s *providerState) newIterator(path string, open opener) Iterator {
	ctx := vcontext.Background()
	in, err := file.Open(ctx, path)
	if err != nil {
		s.err.Set(err)
		return NewErrorIterator(err)
	}
	r, closeReader, err := open(in.Reader(ctx))
	if err != nil {
		in.Close(ctx) // nolint: errcheck
		err = errors.E(err, fmt.Sprintf("open %s", path))
		s.err.Set(err)
		return NewErrorIterator(err)
	}
	s.mu.Lock()
	s.nActive++
	if s.header == nil {
		s.header = r.Header()
	}
	s.mu.Unlock()
	return &fileIterator{
		state:       s,
		path:        path,
		in:          in,
		reader:      r,
		closeReader: closeReader,
	}
}

func (s *providerState) release(err error) {
	s.err.Set(err)
	s.mu.Lock()
	s.nActive--
	if s.nActive < 0 {
		vlog.Fatalf("bamprovider: negative active iterator count")
	}
	s.mu.Unlock()
}

func (s *providerState) close(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nActive > 0 {
		vlog.Fatalf("bamprovider: %d iterators still active for %s", s.nActive, path)
	}
	return s.err.Err()
}

// fileIterator reads the records of one open file, in order.
type fileIterator struct {
	state       *providerState
	path        string
	in          file.File
	reader      recordReader
	closeReader func() error

	rec  *sam.Record
	err  error
	nRec int64
}

func (i *fileIterator) Scan() bool {
	if i.err != nil {
		return false
	}
	i.rec, i.err = i.reader.Read()
	if i.err != nil {
		if i.err != io.EOF {
			i.err = errors.E(i.err, fmt.Sprintf("%s: record %d", i.path, i.nRec))
		}
		return false
	}
	i.nRec++
	return true
}

func (i *fileIterator) Record() *sam.Record { return i.rec }

func (i *fileIterator) Err() error {
	if i.err == io.EOF {
		return nil
	}
	return i.err
}

func (i *fileIterator) Close() error {
	if i.in == nil {
		vlog.Fatalf("bamprovider: %s: iterator closed twice", i.path)
	}
	if err := i.closeReader(); err != nil && i.Err() == nil {
		i.err = err
	}
	if err := i.in.Close(vcontext.Background()); err != nil && i.Err() == nil {
		i.err = err
	}
	i.in = nil
	err := i.Err()
	i.state.release(err)
	return err
}
