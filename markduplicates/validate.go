package markduplicates

import (
	"fmt"

	"github.com/grailbio/dedup/encoding/bamprovider"
	"github.com/grailbio/dedup/encoding/recordbuf"
)

func validate(opts *Opts) error {
	if opts.BamFile == "" {
		return fmt.Errorf("you must specify a bam file with --bam")
	}
	if err := validateMarkOpts(opts); err != nil {
		return err
	}
	return nil
}

// validateMarkOpts checks the options that Mark uses, and fills in
// defaults.
func validateMarkOpts(opts *Opts) error {
	if opts.Format == "" {
		opts.Format = "bam"
	}
	if t := bamprovider.ParseFileType(opts.Format); t != bamprovider.BAM && t != bamprovider.SAM {
		return fmt.Errorf("unknown output format %s", opts.Format)
	}
	if opts.Parallelism < 0 {
		return fmt.Errorf("parallelism must be non-negative")
	}
	if opts.LowWater < 0 || opts.HighWater < 0 {
		return fmt.Errorf("prefetch watermarks must be non-negative")
	}
	if opts.LowWater > 0 && opts.HighWater > 0 && opts.LowWater > opts.HighWater {
		return fmt.Errorf("low-water (%d) must not exceed high-water (%d)", opts.LowWater, opts.HighWater)
	}
	if _, err := recordbuf.ParseFormat(opts.BufferFormat); err != nil {
		return err
	}
	if _, err := recordbuf.ParseCompression(opts.BufferCompression); err != nil {
		return err
	}
	return nil
}
