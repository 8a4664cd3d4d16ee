package markduplicates

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
)

// Metrics contains metrics from mark duplicates.
type Metrics struct {
	// Implement the metrics reported by picard

	// UnpairedReads is the number of mapped reads examined which did
	// not have a mapped mate pair, either because the read is
	// unpaired, or the read is paired to an unmapped mate.
	UnpairedReads int

	// ReadPairsExamined is the number of mapped reads examined whose
	// mate is also mapped. (Primary, non-supplemental). Each pair
	// counts twice.
	ReadPairsExamined int

	// SecondarySupplementary is the number of reads that were either
	// secondary or supplementary.
	SecondarySupplementary int

	// UnmappedReads is the total number of unmapped reads
	// examined.
	UnmappedReads int

	// UnpairedDups is the number of fragments that were marked as duplicates.
	UnpairedDups int

	// ReadPairDups is the number of reads of mapped pairs that were
	// marked as duplicates. Each pair counts twice.
	ReadPairDups int
}

// PercentDuplication returns the percentage of examined reads that are
// duplicates.
func (m *Metrics) PercentDuplication() float64 {
	examined := m.UnpairedReads + m.ReadPairsExamined
	if examined == 0 {
		return 0
	}
	return 100 * float64(m.UnpairedDups+m.ReadPairDups) / float64(examined)
}

// EstimatedLibrarySize returns the number of distinct molecules in the
// library, estimated from the pair duplication rate. It returns 0 when
// there are no duplicate pairs.
func (m *Metrics) EstimatedLibrarySize() uint64 {
	a := uint64(m.ReadPairsExamined / 2)
	b := uint64((m.ReadPairsExamined / 2) - (m.ReadPairDups / 2))
	librarySize, err := estimateLibrarySize(a, b)
	if err == errNoDuplicates {
		return 0
	}
	if err != nil {
		log.Error.Printf("error in estimateLibrarySize(%v, %v): %v, ", a, b, err)
		return 0
	}
	return librarySize
}

// String returns a string representation of the metrics contained in
// m, in the column order of the metrics file.
func (m *Metrics) String() string {
	return fmt.Sprintf("%d\t%d\t%d\t%d\t%d\t%d\t%0.6f\t%v", m.UnpairedReads, m.ReadPairsExamined/2,
		m.SecondarySupplementary, m.UnmappedReads, m.UnpairedDups,
		m.ReadPairDups/2, m.PercentDuplication(), m.EstimatedLibrarySize())
}

// Add adds the metrics in other to m.
func (m *Metrics) Add(other *Metrics) {
	m.UnpairedReads += other.UnpairedReads
	m.ReadPairsExamined += other.ReadPairsExamined
	m.SecondarySupplementary += other.SecondarySupplementary
	m.UnmappedReads += other.UnmappedReads
	m.UnpairedDups += other.UnpairedDups
	m.ReadPairDups += other.ReadPairDups
}

// MetricsCollection contains metrics computed by Mark.
type MetricsCollection struct {
	// DuplicateIndexes is the number of records that were flagged as
	// duplicates.
	DuplicateIndexes int

	// UnmatchedMates is the number of paired reads with a mapped mate
	// whose mate was never seen.
	UnmatchedMates int

	// LibraryMetrics contains per-library metrics.
	LibraryMetrics map[string]*Metrics

	mutex sync.Mutex
}

func newMetricsCollection() *MetricsCollection {
	return &MetricsCollection{
		LibraryMetrics: make(map[string]*Metrics),
	}
}

// Get returns Metrics for the given library. If there is no Metrics
// for library yet, create one and return it.
func (mc *MetricsCollection) Get(library string) *Metrics {
	m, found := mc.LibraryMetrics[library]
	if found {
		return m
	}
	m = &Metrics{}
	mc.LibraryMetrics[library] = m
	return m
}

// Merge per-library and global metrics from other into mc.
func (mc *MetricsCollection) Merge(other *MetricsCollection) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	mc.DuplicateIndexes += other.DuplicateIndexes
	mc.UnmatchedMates += other.UnmatchedMates
	for library, otherMetrics := range other.LibraryMetrics {
		existing, found := mc.LibraryMetrics[library]
		if found {
			existing.Add(otherMetrics)
		} else {
			// Make a copy to be owned by m.
			new := *otherMetrics
			mc.LibraryMetrics[library] = &new
		}
	}
}

// Libraries returns the library names in mc, sorted.
func (mc *MetricsCollection) Libraries() []string {
	libraries := make([]string, 0, len(mc.LibraryMetrics))
	for library := range mc.LibraryMetrics {
		libraries = append(libraries, library)
	}
	sort.Strings(libraries)
	return libraries
}

const metricsHeader = "LIBRARY\tUNPAIRED_READS_EXAMINED\tREAD_PAIRS_EXAMINED\t" +
	"SECONDARY_OR_SUPPLEMENTARY_RDS\tUNMAPPED_READS\tUNPAIRED_READ_DUPLICATES\t" +
	"READ_PAIR_DUPLICATES\tPERCENT_DUPLICATION\tESTIMATED_LIBRARY_SIZE"

func writeMetrics(ctx context.Context, opts *Opts, globalMetrics *MetricsCollection) (err error) {
	f, err := file.Create(ctx, opts.MetricsFile)
	if err != nil {
		return errors.E(err, "Couldn't create metrics file:", opts.MetricsFile)
	}
	defer file.CloseAndReport(ctx, f, &err)

	w := tsv.NewWriter(f.Writer(ctx))
	w.WriteString("# bio-dedup")
	if err = w.EndLine(); err != nil {
		return errors.E(err, "error writing to metrics file:", opts.MetricsFile)
	}
	w.WriteString(fmt.Sprintf("# duplicate records: %d", globalMetrics.DuplicateIndexes))
	if err = w.EndLine(); err != nil {
		return errors.E(err, "error writing to metrics file:", opts.MetricsFile)
	}
	w.WriteString(fmt.Sprintf("# unmatched mates: %d", globalMetrics.UnmatchedMates))
	if err = w.EndLine(); err != nil {
		return errors.E(err, "error writing to metrics file:", opts.MetricsFile)
	}
	w.WriteString(metricsHeader)
	if err = w.EndLine(); err != nil {
		return errors.E(err, "error writing to metrics file:", opts.MetricsFile)
	}
	for _, library := range globalMetrics.Libraries() {
		m := globalMetrics.LibraryMetrics[library]
		w.WriteString(library)
		w.WriteInt64(int64(m.UnpairedReads))
		w.WriteInt64(int64(m.ReadPairsExamined / 2))
		w.WriteInt64(int64(m.SecondarySupplementary))
		w.WriteInt64(int64(m.UnmappedReads))
		w.WriteInt64(int64(m.UnpairedDups))
		w.WriteInt64(int64(m.ReadPairDups / 2))
		w.WriteString(fmt.Sprintf("%0.6f", m.PercentDuplication()))
		w.WriteString(fmt.Sprintf("%d", m.EstimatedLibrarySize()))
		if err = w.EndLine(); err != nil {
			return errors.E(err, "error writing to metrics file:", opts.MetricsFile)
		}
	}
	if err = w.Flush(); err != nil {
		return errors.E(err, "error writing to metrics file:", opts.MetricsFile)
	}
	return nil
}
