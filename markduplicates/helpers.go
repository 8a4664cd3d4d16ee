package markduplicates

import (
	"github.com/grailbio/base/simd"
	"github.com/grailbio/hts/sam"
)

var rgTag = sam.Tag{'R', 'G'}

// minScoringQual is the smallest base quality that contributes to a
// read's score.
const minScoringQual = 15

// baseQScore returns the sum of the base qualities >= 15. A record
// without qualities (stored as 0xff) scores 0.
func baseQScore(r *sam.Record) int {
	if len(r.Qual) == 0 || r.Qual[0] == 0xff {
		return 0
	}
	return simd.Accumulate8Greater(r.Qual, minScoringQual-1)
}

func getReadGroup(r *sam.Record) (string, bool) {
	aux := r.AuxFields.Get(rgTag)
	if aux == nil {
		return "", false
	}
	rg, ok := aux.Value().(string)
	return rg, ok
}

// GetLibrary returns the library for the given record's read group.
// If the library is not defined in readGroupLibrary, returns "Unknown
// Library".
func GetLibrary(readGroupLibrary map[string]string, record *sam.Record) string {
	readGroup, found := getReadGroup(record)
	if !found {
		return unknownLibrary
	}

	library := readGroupLibrary[readGroup]
	if library == "" {
		return unknownLibrary
	}
	return library
}

// templateKey returns "<read group>:<name>", the name under which the
// two ends of a template meet. A missing read group gives ":<name>".
func templateKey(r *sam.Record) string {
	readGroup, _ := getReadGroup(r)
	return readGroup + ":" + r.Name
}
