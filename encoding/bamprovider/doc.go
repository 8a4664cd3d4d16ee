// Package bamprovider provides sequential access to BAM and SAM files.
//
// A Provider opens a file and yields its header; NewIterator returns an
// Iterator that visits the records in file order. NewPrefetchIterator wraps any
// Iterator so that records are read ahead on a workpool.Pool while the caller
// consumes them.
package bamprovider
