package aggregate

import (
	"math"
	"sort"

	"github.com/mimongo/mimongo/internal/document"
	"github.com/mimongo/mimongo/internal/expr"
	"github.com/mimongo/mimongo/merr"
)

func runGroup(buffer []*document.Doc, arg any) ([]*document.Doc, error) {
	spec, ok := arg.(*document.Doc)
	if !ok {
		return nil, merr.OperationFailuref("a group's fields must be specified in an object")
	}
	idExpr, hasID := spec.Get("_id")
	if !hasID {
		return nil, merr.OperationFailuref("a group specification must include an _id")
	}

	if idExpr == nil {
		if len(buffer) == 0 {
			return nil, nil
		}
		out, err := accumulateGroup(spec, buffer)
		if err != nil {
			return nil, err
		}
		out.Set("_id", nil)
		return []*document.Doc{reorderID(out)}, nil
	}

	type keyed struct {
		key any
		doc *document.Doc
	}
	entries := make([]keyed, 0, len(buffer))
	for _, doc := range buffer {
		key, err := expr.Evaluate(idExpr, doc)
		if err == expr.ErrMissing {
			key = nil
		} else if err != nil {
			return nil, err
		}
		entries = append(entries, keyed{key: key, doc: doc})
	}

	// Group does not promise an output order; a stable sort by key makes
	// grouping contiguous and keeps results deterministic.
	sort.SliceStable(entries, func(a, b int) bool {
		return document.Compare(entries[a].key, entries[b].key) < 0
	})

	var out []*document.Doc
	for i := 0; i < len(entries); {
		j := i
		var group []*document.Doc
		for j < len(entries) && document.Equal(entries[j].key, entries[i].key) {
			group = append(group, entries[j].doc)
			j++
		}
		result, err := accumulateGroup(spec, group)
		if err != nil {
			return nil, err
		}
		result.Set("_id", entries[i].key)
		out = append(out, reorderID(result))
		i = j
	}
	return out, nil
}

// reorderID moves _id to the front of a group output document.
func reorderID(doc *document.Doc) *document.Doc {
	id, _ := doc.Get("_id")
	out := document.New()
	out.Set("_id", id)
	for _, k := range doc.Keys() {
		if k == "_id" {
			continue
		}
		v, _ := doc.Get(k)
		out.Set(k, v)
	}
	return out
}

// accumulateGroup computes the output fields of one group.
func accumulateGroup(outputFields *document.Doc, group []*document.Doc) (*document.Doc, error) {
	result := document.New()
	for _, field := range outputFields.Keys() {
		if field == "_id" {
			continue
		}
		accAny, _ := outputFields.Get(field)
		acc, ok := accAny.(*document.Doc)
		if !ok || acc.Len() != 1 {
			return nil, merr.OperationFailuref("the field '%s' must be an accumulator object", field)
		}
		operator := acc.Keys()[0]
		keyExpr, _ := acc.Get(operator)

		values := make([]any, 0, len(group))
		for _, doc := range group {
			v, err := expr.Evaluate(keyExpr, doc)
			if err == expr.ErrMissing {
				v = nil
			} else if err != nil {
				return nil, err
			}
			values = append(values, v)
		}

		switch operator {
		case "$sum":
			var total any = int64(0)
			for _, v := range values {
				if v == nil || !document.IsNumber(v) {
					continue
				}
				total = document.AddNumbers(total, v)
			}
			result.Set(field, total)
		case "$avg":
			var total float64
			for _, v := range values {
				f, ok := document.AsFloat(v)
				if !ok {
					continue
				}
				total += f
			}
			n := len(values)
			if n == 0 {
				n = 1
			}
			result.Set(field, total/float64(n))
		case "$min":
			var best any = int64(math.MaxInt64)
			for _, v := range values {
				if v == nil {
					continue
				}
				if document.Compare(v, best) < 0 {
					best = v
				}
			}
			result.Set(field, best)
		case "$max":
			var best any = int64(math.MinInt64)
			for _, v := range values {
				if v == nil {
					continue
				}
				if document.Compare(v, best) > 0 {
					best = v
				}
			}
			result.Set(field, best)
		case "$first":
			result.Set(field, values[0])
		case "$last":
			result.Set(field, values[len(values)-1])
		case "$addToSet":
			unique := []any{}
			for _, v := range values {
				if !document.ArrayContains(unique, v) {
					unique = append(unique, v)
				}
			}
			result.Set(field, unique)
		case "$push":
			result.Set(field, append([]any{}, values...))
		default:
			if recognizedAccumulators[operator] {
				return nil, merr.NotImplemented("the " + operator + " group accumulator")
			}
			return nil, merr.OperationFailuref("%s is not a valid group operator for the aggregation pipeline", operator)
		}
	}
	return result, nil
}

func runBucket(buffer []*document.Doc, arg any) ([]*document.Doc, error) {
	spec, ok := arg.(*document.Doc)
	if !ok {
		return nil, merr.OperationFailuref("the $bucket stage specification must be an object")
	}
	for _, opt := range spec.Keys() {
		switch opt {
		case "groupBy", "boundaries", "output", "default":
		default:
			return nil, merr.OperationFailuref("unrecognized option to $bucket: %s", opt)
		}
	}
	groupBy, hasGroupBy := spec.Get("groupBy")
	boundariesAny, hasBoundaries := spec.Get("boundaries")
	if !hasGroupBy || !hasBoundaries {
		return nil, merr.OperationFailuref("$bucket requires 'groupBy' and 'boundaries' to be specified")
	}
	boundaries, isArr := boundariesAny.([]any)
	if !isArr {
		return nil, merr.OperationFailuref("the $bucket 'boundaries' field must be an array, but found type: %T", boundariesAny)
	}
	if len(boundaries) < 2 {
		return nil, merr.OperationFailuref("the $bucket 'boundaries' field must have at least 2 values, but found %d value(s)", len(boundaries))
	}
	for i := 1; i < len(boundaries); i++ {
		if document.Compare(boundaries[i-1], boundaries[i]) >= 0 {
			return nil, merr.OperationFailuref("the 'boundaries' option to $bucket must be sorted in ascending order")
		}
	}

	outputFields, hasOutput := spec.Get("output")
	output, _ := outputFields.(*document.Doc)
	if !hasOutput || output == nil {
		output = document.New()
		count := document.New()
		count.Set("$sum", int32(1))
		output.Set("count", count)
	}

	defaultID, hasDefault := spec.Get("default")
	// The default bucket sorts after the numeric buckets unless its id is
	// comparable with, and lower than, the upper boundary.
	defaultLast := true
	if hasDefault && document.SameBracket(defaultID, boundaries[len(boundaries)-1]) {
		defaultLast = document.Compare(defaultID, boundaries[len(boundaries)-1]) >= 0
	}

	type bucketed struct {
		isDefault bool
		id        any
		doc       *document.Doc
	}
	entries := make([]bucketed, 0, len(buffer))
	for _, doc := range buffer {
		value, err := expr.Evaluate(groupBy, doc)
		isDefault := false
		var id any
		if err == expr.ErrMissing {
			isDefault = true
		} else if err != nil {
			return nil, err
		} else {
			idx := len(boundaries)
			for i, b := range boundaries {
				if document.Compare(value, b) < 0 {
					idx = i
					break
				}
			}
			if idx > 0 && idx < len(boundaries) {
				id = boundaries[idx-1]
			} else {
				isDefault = true
			}
		}
		if isDefault {
			if !hasDefault {
				return nil, merr.OperationFailuref("$bucket could not find a matching branch for an input, and no default was specified")
			}
			id = defaultID
		}
		entries = append(entries, bucketed{isDefault: isDefault, id: id, doc: doc})
	}

	sort.SliceStable(entries, func(a, b int) bool {
		ra := rankOfBucket(entries[a].isDefault, defaultLast)
		rb := rankOfBucket(entries[b].isDefault, defaultLast)
		if ra != rb {
			return ra < rb
		}
		return document.Compare(entries[a].id, entries[b].id) < 0
	})

	var out []*document.Doc
	for i := 0; i < len(entries); {
		j := i
		var group []*document.Doc
		for j < len(entries) && entries[j].isDefault == entries[i].isDefault && document.Equal(entries[j].id, entries[i].id) {
			group = append(group, entries[j].doc)
			j++
		}
		result, err := accumulateGroup(output, group)
		if err != nil {
			return nil, err
		}
		result.Set("_id", entries[i].id)
		out = append(out, reorderID(result))
		i = j
	}
	return out, nil
}

// rankOfBucket orders the default bucket after the numeric buckets when its
// id sorts above the upper boundary; otherwise it competes by id.
func rankOfBucket(isDefault, defaultLast bool) int {
	if isDefault && defaultLast {
		return 1
	}
	return 0
}
