package mimongo

import (
	"math"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mimongo/mimongo/internal/document"
	"github.com/mimongo/mimongo/internal/filter"
	"github.com/mimongo/mimongo/internal/projection"
	"github.com/mimongo/mimongo/merr"
)

type sortPair struct {
	key string
	dir int
}

// Cursor is a lazy iterator over the documents matching a query. Results
// are computed on first use against the collection state at that moment,
// then memoized; rebinding the sort or projection invalidates the memo.
type Cursor struct {
	coll       *Collection
	query      *document.Doc
	projSpec   *document.Doc
	hasProj    bool
	sortKeys   []sortPair
	skipCount  int
	limitCount int

	err      error
	results  []*document.Doc
	computed bool
	emitted  int
}

func newCursor(coll *Collection, query *document.Doc, err error) *Cursor {
	return &Cursor{coll: coll, query: query, err: err}
}

// Sort orders the results by the given specification: a field name string
// or a bson.D of field/direction pairs. The special key $natural sorts in
// insertion order. Sorting rebinds the cursor's factory, discarding any
// memoized results.
func (cur *Cursor) Sort(spec any) *Cursor {
	if cur.err != nil {
		return cur
	}
	pairs, err := sortPairs(spec)
	if err != nil {
		cur.err = err
		return cur
	}
	cur.sortKeys = pairs
	cur.invalidate()
	return cur
}

// Project applies a projection specification to every result.
func (cur *Cursor) Project(spec any) *Cursor {
	if cur.err != nil || spec == nil {
		return cur
	}
	proj, err := document.FromAny(spec)
	if err != nil {
		cur.err = err
		return cur
	}
	cur.projSpec = proj
	cur.hasProj = true
	cur.invalidate()
	return cur
}

// Skip discards the first n results.
func (cur *Cursor) Skip(n int) *Cursor {
	cur.skipCount = n
	return cur
}

// Limit caps the number of results; zero means unlimited.
func (cur *Cursor) Limit(n int) *Cursor {
	cur.limitCount = n
	return cur
}

// BatchSize is accepted for compatibility and does nothing.
func (cur *Cursor) BatchSize(n int) *Cursor {
	return cur
}

// Clone returns a cursor with the same query, sort, projection and bounds,
// with its emitted counter reset. Results are recomputed on first use.
func (cur *Cursor) Clone() *Cursor {
	clone := *cur
	clone.emitted = 0
	clone.results = nil
	clone.computed = false
	return &clone
}

// Rewind resets iteration without discarding memoized results.
func (cur *Cursor) Rewind() {
	cur.emitted = 0
}

// Close is accepted for compatibility and does nothing.
func (cur *Cursor) Close() {}

func (cur *Cursor) invalidate() {
	cur.results = nil
	cur.computed = false
}

// compute materializes the matching documents, sorted and projected, against
// the collection's current state.
func (cur *Cursor) compute() error {
	if cur.err != nil {
		return cur.err
	}
	if cur.computed {
		return nil
	}

	matches, err := cur.coll.matchingLocked(cur.query)
	if err != nil {
		cur.err = err
		return err
	}

	docs := make([]*document.Doc, len(matches))
	copy(docs, matches)
	for i := len(cur.sortKeys) - 1; i >= 0; i-- {
		pair := cur.sortKeys[i]
		if pair.key == "$natural" {
			if pair.dir < 0 {
				for a, b := 0, len(docs)-1; a < b; a, b = a+1, b-1 {
					docs[a], docs[b] = docs[b], docs[a]
				}
			}
			continue
		}
		stableSortBy(docs, pair)
	}

	out := make([]*document.Doc, 0, len(docs))
	for _, doc := range docs {
		var projected *document.Doc
		if cur.hasProj {
			projected, err = projection.Apply(doc, cur.projSpec)
		} else {
			projected, err = projection.Apply(doc, nil)
		}
		if err != nil {
			cur.err = err
			return err
		}
		out = append(out, projected)
	}
	cur.results = out
	cur.computed = true
	return nil
}

func stableSortBy(docs []*document.Doc, pair sortPair) {
	ranks := make([]filter.SortRank, len(docs))
	for i, doc := range docs {
		ranks[i] = filter.SortKeyOf(pair.key, doc)
	}
	// Insertion sort keeps the multi-key sort stable without allocating a
	// keyed wrapper per pass.
	for i := 1; i < len(docs); i++ {
		doc, rank := docs[i], ranks[i]
		j := i - 1
		for j >= 0 && wrongOrder(ranks[j], rank, pair.dir) {
			docs[j+1], ranks[j+1] = docs[j], ranks[j]
			j--
		}
		docs[j+1], ranks[j+1] = doc, rank
	}
}

func wrongOrder(a, b filter.SortRank, dir int) bool {
	c := filter.CompareRanks(a, b)
	if dir < 0 {
		return c < 0
	}
	return c > 0
}

// view returns the memoized results with skip and limit applied.
func (cur *Cursor) view() []*document.Doc {
	results := cur.results
	if cur.skipCount > 0 {
		if cur.skipCount >= len(results) {
			return nil
		}
		results = results[cur.skipCount:]
	}
	if cur.limitCount > 0 && cur.limitCount < len(results) {
		results = results[:cur.limitCount]
	}
	return results
}

// Next returns the next document, or false once the cursor is exhausted or
// has failed; check Err in that case.
func (cur *Cursor) Next() (bson.D, bool) {
	if err := cur.compute(); err != nil {
		return nil, false
	}
	v := cur.view()
	if cur.emitted >= len(v) {
		return nil, false
	}
	doc := v[cur.emitted]
	cur.emitted++
	return doc.ToBSON(), true
}

// Err returns the first error the cursor hit.
func (cur *Cursor) Err() error {
	return cur.err
}

// All returns every result.
func (cur *Cursor) All() ([]bson.D, error) {
	if err := cur.compute(); err != nil {
		return nil, err
	}
	v := cur.view()
	out := make([]bson.D, 0, len(v))
	for _, doc := range v {
		out = append(out, doc.ToBSON())
	}
	return out, nil
}

// One returns the first result, or nil when there is none.
func (cur *Cursor) One() (bson.D, error) {
	if err := cur.compute(); err != nil {
		return nil, err
	}
	v := cur.view()
	if len(v) == 0 {
		return nil, nil
	}
	return v[0].ToBSON(), nil
}

// ToList returns at most n results.
func (cur *Cursor) ToList(n int) ([]bson.D, error) {
	all, err := cur.All()
	if err != nil {
		return nil, err
	}
	if n >= 0 && n < len(all) {
		return all[:n], nil
	}
	return all, nil
}

// Count returns the number of results, optionally after skip and limit.
func (cur *Cursor) Count(withLimitAndSkip bool) (int, error) {
	if err := cur.compute(); err != nil {
		return 0, err
	}
	if withLimitAndSkip {
		return len(cur.view()), nil
	}
	return len(cur.results), nil
}

// At returns the result at index i. Negative indices are not supported.
func (cur *Cursor) At(i int) (bson.D, error) {
	if i < 0 {
		return nil, merr.OperationFailuref("cursor instances do not support negative indices")
	}
	if err := cur.compute(); err != nil {
		return nil, err
	}
	v := cur.view()
	if i >= len(v) {
		return nil, merr.OperationFailuref("no such item for cursor instance")
	}
	return v[i].ToBSON(), nil
}

// Slice bounds the cursor to the half-open interval [start, stop), the way
// cursor slicing behaves on the wire client. Negative bounds fail.
func (cur *Cursor) Slice(start, stop int) error {
	if start < 0 || stop < 0 {
		return merr.OperationFailuref("cursor instances do not support negative indices")
	}
	if stop < start {
		return merr.OperationFailuref("stop index must be greater than start index")
	}
	cur.skipCount = start
	cur.limitCount = stop - start
	if stop == start {
		// A zero limit means no limit, so an empty interval skips everything.
		cur.skipCount = math.MaxInt
	}
	return nil
}

// Alive reports whether iteration has more to emit.
func (cur *Cursor) Alive() bool {
	if err := cur.compute(); err != nil {
		return false
	}
	return cur.emitted != len(cur.view())
}

// Distinct returns the distinct values at a dotted key across the results.
// Array values contribute their elements. Scalar values come first, in
// first-seen order, followed by document values in first-seen order.
func (cur *Cursor) Distinct(key string) ([]any, error) {
	if err := cur.compute(); err != nil {
		return nil, err
	}
	var out []any
	seen := map[string]bool{}
	var docValues []any
	for _, doc := range cur.results {
		value, ok := filter.ResolveKey(key, doc)
		if !ok {
			continue
		}
		values := []any{value}
		if arr, isArr := value.([]any); isArr {
			values = arr
		}
		for _, v := range values {
			if _, isDoc := v.(*document.Doc); isDoc {
				if !document.ArrayContains(docValues, v) {
					docValues = append(docValues, v)
				}
				continue
			}
			canon := document.CanonicalKey(v)
			if seen[canon] {
				continue
			}
			seen[canon] = true
			out = append(out, document.Externalize(v))
		}
	}
	for _, v := range docValues {
		out = append(out, document.Externalize(v))
	}
	return out, nil
}

func sortPairs(spec any) ([]sortPair, error) {
	switch t := spec.(type) {
	case nil:
		return nil, nil
	case string:
		return []sortPair{{key: t, dir: 1}}, nil
	case bson.D:
		out := make([]sortPair, 0, len(t))
		for _, e := range t {
			dir, ok := document.AsFloat(document.Internalize(e.Value))
			if !ok || (dir != 1 && dir != -1) {
				return nil, merr.Validationf("sort direction for %s must be 1 or -1", e.Key)
			}
			out = append(out, sortPair{key: e.Key, dir: int(dir)})
		}
		return out, nil
	case []string:
		out := make([]sortPair, 0, len(t))
		for _, k := range t {
			out = append(out, sortPair{key: k, dir: 1})
		}
		return out, nil
	default:
		return nil, merr.Validationf("sort specification must be a string or a bson.D, got %T", spec)
	}
}
