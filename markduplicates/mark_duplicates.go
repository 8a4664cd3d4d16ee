package markduplicates

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/dedup/encoding/bam"
	"github.com/grailbio/dedup/encoding/bamprovider"
	"github.com/grailbio/dedup/encoding/recordbuf"
	"github.com/grailbio/dedup/parsort"
	"github.com/grailbio/dedup/workpool"
	"github.com/grailbio/hts/sam"
	"github.com/klauspost/compress/gzip"
)

// progressInterval is the number of records between two progress
// reports in verbose mode.
const progressInterval = 100000

// Opts for mark-duplicates.
type Opts struct {
	// Commandline options.
	BamFile     string
	OutputPath  string
	Format      string
	MetricsFile string
	ScratchDir  string
	RemoveDups  bool
	Verbose     bool
	Parallelism int

	// Prefetch reads the input ahead of phase 1 on the worker pool, with
	// the given queue watermarks. Zero watermarks select the defaults of
	// bamprovider.NewPrefetchIterator.
	Prefetch  bool
	LowWater  int
	HighWater int

	// BufferFormat and BufferCompression select the layout of the
	// temporary copy of the input, see recordbuf.ParseFormat and
	// recordbuf.ParseCompression.
	BufferFormat      string
	BufferCompression string
}

// RecordWriter consumes the records forwarded by MarkTo.
type RecordWriter interface {
	Write(r *sam.Record) error
}

// MarkDuplicates implements duplicate marking.
type MarkDuplicates struct {
	Provider bamprovider.Provider
	Opts     *Opts
	// Pool runs prefetch and sort jobs. If nil, workpool.Shared() is used.
	Pool *workpool.Pool
	// SortOpts is passed to parsort.Stable when Opts.Parallelism > 1.
	SortOpts parsort.Opts

	header     *sam.Header
	libraries  *libraryRegistry
	metrics    *MetricsCollection
	bufferOpts recordbuf.Opts
}

func (m *MarkDuplicates) pool() *workpool.Pool {
	if m.Pool != nil {
		return m.Pool
	}
	return workpool.Shared()
}

// Mark marks the duplicates, writes the records to Opts.OutputPath (or
// stdout) in Opts.Format, and returns metrics, and an error if
// encountered.
func (m *MarkDuplicates) Mark(ctx context.Context) (mc *MetricsCollection, err error) {
	if err = validateMarkOpts(m.Opts); err != nil {
		return nil, err
	}
	header, err := m.Provider.GetHeader()
	if err != nil {
		return nil, err
	}

	var outputStream io.Writer
	if m.Opts.OutputPath == "" {
		outputStream = os.Stdout
	} else {
		var out file.File
		if out, err = file.Create(ctx, m.Opts.OutputPath); err != nil {
			return nil, errors.E(err, "couldn't create output file", m.Opts.OutputPath)
		}
		defer file.CloseAndReport(ctx, out, &err)
		outputStream = out.Writer(ctx)
	}

	if bamprovider.ParseFileType(m.Opts.Format) == bamprovider.SAM {
		samWriter, err2 := sam.NewWriter(outputStream, header, sam.FlagDecimal)
		if err2 != nil {
			return nil, errors.E(err2, "couldn't create sam writer for", m.Opts.OutputPath)
		}
		return m.MarkTo(ctx, samWriter)
	}
	bamWriter, err2 := bam.NewWriter(outputStream, header, gzip.DefaultCompression)
	if err2 != nil {
		return nil, errors.E(err2, "couldn't create bam writer for", m.Opts.OutputPath)
	}
	mc, err = m.MarkTo(ctx, bamWriter)
	if closeErr := bamWriter.Close(); err == nil && closeErr != nil {
		err = errors.E(closeErr, "error while closing bam", m.Opts.OutputPath)
	}
	return mc, err
}

// MarkTo runs the three passes of duplicate marking and forwards every
// record to out, in input order, with its duplicate flag updated.
// Duplicates are dropped if Opts.RemoveDups is set.
//
// The first pass reads the input once. It copies every record into a
// temporary buffer under Opts.ScratchDir and collects a ReadEnds for
// each fragment and each completed pair. The second pass sorts and
// scans these lists to find the file indexes of the duplicates. The
// third pass replays the buffer and sets or clears the duplicate flag
// of the primary alignments.
func (m *MarkDuplicates) MarkTo(ctx context.Context, out RecordWriter) (mc *MetricsCollection, err error) {
	if err = validateMarkOpts(m.Opts); err != nil {
		return nil, err
	}
	if m.header, err = m.Provider.GetHeader(); err != nil {
		return nil, err
	}
	if m.bufferOpts.Format, err = recordbuf.ParseFormat(m.Opts.BufferFormat); err != nil {
		return nil, err
	}
	if m.bufferOpts.Compression, err = recordbuf.ParseCompression(m.Opts.BufferCompression); err != nil {
		return nil, err
	}
	m.libraries = newLibraryRegistry(m.header)
	m.metrics = newMetricsCollection()

	tempDir, err := ioutil.TempDir(m.Opts.ScratchDir, "dedup")
	if err != nil {
		return nil, errors.E(err, "could not create tmp dir in", m.Opts.ScratchDir)
	}
	bufferPath := filepath.Join(tempDir, "buffer."+m.bufferOpts.Format.String())
	defer func() {
		var e errors.Once
		e.Set(err)
		e.Set(recordbuf.Remove(ctx, bufferPath))
		e.Set(os.RemoveAll(tempDir))
		err = e.Err()
	}()

	t0 := time.Now()
	buffer, err := recordbuf.NewWriter(ctx, bufferPath, m.header, m.bufferOpts)
	if err != nil {
		return nil, err
	}
	pairs, frags, err := m.buildReadEnds(buffer)
	if closeErr := buffer.Close(ctx); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, err
	}
	nRecords := buffer.Records()
	if pairs, frags, err = m.sortReadEnds(pairs, frags); err != nil {
		return nil, err
	}
	t1 := time.Now()
	log.Debug.Printf("read %d records, %d pairs, %d fragments, %d libraries in %v",
		nRecords, len(pairs), len(frags), m.libraries.size(), t1.Sub(t0))

	var setPool *workpool.Pool
	if m.Opts.Parallelism > 1 {
		setPool = m.pool()
	}
	dups := newDuplicateIndexSet(setPool, generateDuplicateIndexes(pairs, frags))
	pairs, frags = nil, nil
	m.metrics.DuplicateIndexes = dups.Len()
	t2 := time.Now()
	log.Debug.Printf("found %d duplicate records in %v", dups.Len(), t2.Sub(t1))
	if m.Opts.Verbose {
		log.Printf("Marking %d records as duplicates.", dups.Len())
	}

	if err = m.rewrite(ctx, bufferPath, nRecords, dups, out); err != nil {
		return nil, err
	}
	log.Debug.Printf("rewrote %d records in %v", nRecords, time.Since(t2))
	return m.metrics, nil
}

// newIterator returns the input iterator, wrapped in a prefetcher if
// requested.
func (m *MarkDuplicates) newIterator() (bamprovider.Iterator, error) {
	iter := m.Provider.NewIterator()
	if !m.Opts.Prefetch {
		return iter, nil
	}
	prefetch, err := bamprovider.NewPrefetchIterator(iter, bamprovider.PrefetchOpts{
		LowWater:  m.Opts.LowWater,
		HighWater: m.Opts.HighWater,
		Pool:      m.pool(),
	})
	if err != nil {
		iter.Close() // nolint: errcheck
		return nil, err
	}
	return prefetch, nil
}

// readEnds summarizes the primary alignment r, found at position index
// of the input.
func (m *MarkDuplicates) readEnds(r *sam.Record, index int64) ReadEnds {
	e := ReadEnds{
		LibraryID:       m.libraries.id(r),
		Read1RefID:      int32(r.Ref.ID()),
		Read1Coordinate: int32(bam.UnclippedFivePrimePosition(r)),
		Orientation:     orientationByteSingle(bam.IsReverse(r)),
		Read2RefID:      noRead2,
		Read2Coordinate: noRead2,
		Score:           baseQScore(r),
		Read1FileIndex:  index,
		Read2FileIndex:  noRead2,
	}
	if !bam.HasNoMappedMate(r) {
		e.Read2RefID = int32(r.MateRef.ID())
	}
	return e
}

// buildReadEnds reads the whole input, copying it to buffer. It returns
// the unsorted pair and fragment lists.
func (m *MarkDuplicates) buildReadEnds(buffer recordbuf.Writer) (pairs, frags []ReadEnds, err error) {
	iter, err := m.newIterator()
	if err != nil {
		return nil, nil, err
	}
	pending := pendingPairs{}
	var index int64
	for iter.Scan() {
		rec := iter.Record()
		m.updateMetrics(rec)
		if !bam.IsUnmapped(rec) && rec.Ref != nil && bam.IsPrimary(rec) {
			frag := m.readEnds(rec, index)
			frags = append(frags, frag)

			if bam.IsPaired(rec) && !bam.IsMateUnmapped(rec) {
				name := templateKey(rec)
				if mate, ok := pending.take(pendingKey{refID: frag.Read1RefID, name: name}); ok {
					pairs = append(pairs, mergeMate(mate, frag))
				} else {
					// Ends on different references never meet: such pairs
					// stay pending and are dropped at the end of the input.
					pending[pendingKey{refID: frag.Read1RefID, name: name}] = frag
				}
			}
		}
		if err = buffer.Write(rec); err != nil {
			iter.Close() // nolint: errcheck
			return nil, nil, err
		}
		index++
		if m.Opts.Verbose && index%progressInterval == 0 {
			log.Printf("Read %d records. Tracking %d as yet unmatched pairs. Last position: %d",
				index, len(pending), rec.Pos)
		}
	}
	if err = iter.Close(); err != nil {
		return nil, nil, errors.E(err, "error while reading input")
	}
	m.metrics.UnmatchedMates = len(pending)
	if m.Opts.Verbose {
		log.Printf("Read %d records. %d pairs never matched.", index, len(pending))
	}
	return pairs, frags, nil
}

// sortReadEnds sorts both lists concurrently. With Opts.Parallelism > 1
// each list is sorted by parsort on the worker pool, otherwise by
// sort.SliceStable. Both give the same order.
func (m *MarkDuplicates) sortReadEnds(pairs, frags []ReadEnds) ([]ReadEnds, []ReadEnds, error) {
	lists := [][]ReadEnds{pairs, frags}
	err := traverse.Each(len(lists), func(i int) error {
		lists[i] = m.sortList(lists[i])
		return nil
	})
	if err != nil {
		return nil, nil, errors.E(err, "sorting read ends")
	}
	return lists[0], lists[1], nil
}

func (m *MarkDuplicates) sortList(list []ReadEnds) []ReadEnds {
	less := func(i, j int) bool { return compareReadEnds(&list[i], &list[j]) < 0 }
	if m.Opts.Parallelism <= 1 {
		sort.SliceStable(list, less)
		return list
	}
	perm := parsort.Stable(m.pool(), len(list), less, m.SortOpts)
	sorted := make([]ReadEnds, len(list))
	for i, p := range perm {
		sorted[i] = list[p]
	}
	return sorted
}

// rewrite replays the buffer, updates the duplicate flag of the primary
// alignments and forwards the records to out.
func (m *MarkDuplicates) rewrite(ctx context.Context, bufferPath string, nRecords int64,
	dups *duplicateIndexSet, out RecordWriter) (err error) {
	in, err := recordbuf.NewReader(ctx, bufferPath, m.bufferOpts)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := in.Close(); err == nil && closeErr != nil {
			err = errors.E(closeErr, "error while reading", bufferPath)
		}
	}()

	var index, written int64
	for in.Scan() {
		rec := in.Record()
		if bam.IsPrimary(rec) {
			if dups.contains(index) {
				rec.Flags |= sam.Duplicate
				m.countDuplicate(rec)
			} else {
				rec.Flags &^= sam.Duplicate
			}
		}
		index++
		if m.Opts.RemoveDups && bam.IsDuplicate(rec) {
			continue
		}
		if err = out.Write(rec); err != nil {
			return errors.E(err, "error writing record", rec.Name)
		}
		written++
		if m.Opts.Verbose && nRecords > 0 && written%progressInterval == 0 {
			log.Printf("Written %d records (%d%%).", written, written*100/nRecords)
		}
	}
	if m.Opts.Verbose && nRecords > 0 {
		log.Printf("Written %d records (%d%%).", written, written*100/nRecords)
	}
	if index != nRecords {
		return fmt.Errorf("buffer %s holds %d records, expected %d", bufferPath, index, nRecords)
	}
	return nil
}

// updateMetrics accounts for r in the per-library counters of the
// first pass.
func (m *MarkDuplicates) updateMetrics(record *sam.Record) {
	metrics := m.metrics.Get(m.libraries.library(record))

	if bam.IsUnmapped(record) {
		metrics.UnmappedReads++
	} else if bam.HasNoMappedMate(record) && bam.IsPrimary(record) {
		metrics.UnpairedReads++
	}

	if bam.IsPaired(record) && !bam.IsUnmapped(record) && !bam.IsMateUnmapped(record) && bam.IsPrimary(record) {
		metrics.ReadPairsExamined++
	}
	if !bam.IsPrimary(record) {
		metrics.SecondarySupplementary++
	}
}

// countDuplicate accounts for the primary alignment r that has been
// flagged as a duplicate.
func (m *MarkDuplicates) countDuplicate(r *sam.Record) {
	metrics := m.metrics.Get(m.libraries.library(r))
	if bam.HasNoMappedMate(r) || bam.IsUnmapped(r) {
		metrics.UnpairedDups++
	} else {
		metrics.ReadPairDups++
	}
}

// SetupAndMark does some minimal setup for validating opts, and
// then runs Mark and writes the metrics file.
func SetupAndMark(ctx context.Context, provider bamprovider.Provider, opts *Opts) error {
	if err := validate(opts); err != nil {
		return err
	}

	// Mark/remove those duplicates.
	markDuplicates := &MarkDuplicates{
		Provider: provider,
		Opts:     opts,
	}
	globalMetrics, err := markDuplicates.Mark(ctx)
	if err != nil {
		log.Debug.Printf("Error marking duplicates: %v", err)
		return err
	}
	log.Printf("marked %d records as duplicates", globalMetrics.DuplicateIndexes)

	if opts.MetricsFile != "" {
		if err := writeMetrics(ctx, opts, globalMetrics); err != nil {
			return err
		}
	}
	return nil
}
