package filter

import "github.com/mimongo/mimongo/internal/document"

// ResolveKey returns the first candidate value at a dotted path, mirroring
// the resolution used by distinct and sort.
func ResolveKey(key string, doc *document.Doc) (any, bool) {
	vals, found := Candidates(key, doc)
	if !found || len(vals) == 0 {
		return nil, false
	}
	return vals[0], true
}

// SortRank is the comparable form of a sort key: documents missing the key
// sort before documents that have it, whatever its value.
type SortRank struct {
	Present bool
	Value   any
}

// SortKeyOf resolves the sort rank of key in doc.
func SortKeyOf(key string, doc *document.Doc) SortRank {
	v, ok := ResolveKey(key, doc)
	if !ok {
		return SortRank{}
	}
	return SortRank{Present: true, Value: v}
}

// CompareRanks orders two sort ranks.
func CompareRanks(a, b SortRank) int {
	switch {
	case !a.Present && !b.Present:
		return 0
	case !a.Present:
		return -1
	case !b.Present:
		return 1
	}
	return document.Compare(a.Value, b.Value)
}
