package main

/*
  bio-dedup marks or removes PCR duplicates in a BAM or SAM file,
  keeping the records in input order. For more information, see
  github.com/grailbio/dedup/markduplicates/doc.go
*/

import (
	"flag"
	"runtime"
	"strings"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/dedup/encoding/bamprovider"
	md "github.com/grailbio/dedup/markduplicates"
)

var (
	bamFile           = flag.String("bam", "", "Input BAM or SAM filename")
	outputPath        = flag.String("output", "", "Output filename. By default, records are written to stdout")
	format            = flag.String("format", "bam", "Output format. Value is either 'bam' or 'sam'.")
	metricsFile       = flag.String("metrics", "", "Output metrics file")
	scratchDir        = flag.String("scratch-dir", "/tmp", "Directory to put scratch files")
	removeDups        = flag.Bool("remove-dups", false, "remove duplicates instead of flagging them")
	verbose           = flag.Bool("verbose", false, "report progress while reading and writing")
	parallelism       = flag.Int("parallelism", runtime.NumCPU(), "Number of parallel sort jobs. Values <= 1 sort sequentially")
	prefetch          = flag.Bool("prefetch", false, "read the input ahead on the worker pool")
	lowWater          = flag.Int("low-water", bamprovider.DefaultLowWater, "prefetch queue depth below which reading resumes")
	highWater         = flag.Int("high-water", bamprovider.DefaultHighWater, "prefetch queue depth at which reading pauses")
	bufferFormat      = flag.String("buffer-format", "recordio", "format of the scratch copy of the input, 'recordio' or 'bam'")
	bufferCompression = flag.String("buffer-compression", "snappy", "compression of a recordio scratch copy: 'snappy', 'zstd' or 'none'")
)

func main() {
	shutdown := grail.Init()
	defer shutdown()

	if flag.NArg() > 0 {
		a := flag.Args()
		log.Fatalf("unparsed flags, please check flag syntax: '%s'", strings.Join(a[len(a)-flag.NArg():], " "))
	}

	opts := md.Opts{
		BamFile:           *bamFile,
		OutputPath:        *outputPath,
		Format:            *format,
		MetricsFile:       *metricsFile,
		ScratchDir:        *scratchDir,
		RemoveDups:        *removeDups,
		Verbose:           *verbose,
		Parallelism:       *parallelism,
		Prefetch:          *prefetch,
		LowWater:          *lowWater,
		HighWater:         *highWater,
		BufferFormat:      *bufferFormat,
		BufferCompression: *bufferCompression,
	}

	provider := bamprovider.NewProvider(*bamFile)
	ctx := vcontext.Background()
	err := md.SetupAndMark(ctx, provider, &opts)
	if closeErr := provider.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		log.Fatalf(err.Error())
	}
	log.Debug.Printf("exiting")
}
