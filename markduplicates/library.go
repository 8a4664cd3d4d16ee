package markduplicates

import (
	"github.com/grailbio/hts/sam"
)

// unknownLibrary is the library of records without a read group, or
// whose read group has no library.
const unknownLibrary = "Unknown Library"

// libraryRegistry assigns dense ids, starting at 1, to library names
// in the order they are first seen. It is owned by one MarkDuplicates
// run and is not safe for concurrent use.
type libraryRegistry struct {
	readGroupLibrary map[string]string
	ids              map[string]int16
	names            []string // names[id-1] is the library with the given id.
}

func newLibraryRegistry(header *sam.Header) *libraryRegistry {
	reg := &libraryRegistry{
		readGroupLibrary: make(map[string]string),
		ids:              make(map[string]int16),
	}
	if header != nil {
		for _, readGroup := range header.RGs() {
			reg.readGroupLibrary[readGroup.Name()] = readGroup.Library()
		}
	}
	return reg
}

// library returns the library name of r.
func (reg *libraryRegistry) library(r *sam.Record) string {
	return GetLibrary(reg.readGroupLibrary, r)
}

// id returns the id of the library of r, registering the library if
// needed.
func (reg *libraryRegistry) id(r *sam.Record) int16 {
	return reg.idOf(reg.library(r))
}

func (reg *libraryRegistry) idOf(library string) int16 {
	if id, ok := reg.ids[library]; ok {
		return id
	}
	reg.names = append(reg.names, library)
	id := int16(len(reg.names))
	reg.ids[library] = id
	return id
}

// name returns the library registered under id, or "" if there is none.
func (reg *libraryRegistry) name(id int16) string {
	if id < 1 || int(id) > len(reg.names) {
		return ""
	}
	return reg.names[id-1]
}

func (reg *libraryRegistry) size() int { return len(reg.names) }
