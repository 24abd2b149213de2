package filter

import (
	"math"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mimongo/mimongo/internal/document"
	"github.com/mimongo/mimongo/merr"
)

// applyOperator evaluates a single {$op: arg} condition against the
// candidate values of one field. spec is the whole operator document, so
// companions like $options can be read.
func applyOperator(op string, arg any, spec *document.Doc, vals []any, found bool) (bool, error) {
	switch op {
	case "$eq":
		if !found {
			return arg == nil, nil
		}
		return anyCandidate(vals, found, func(v any) bool { return equalityMatch(arg, v) }), nil
	case "$ne":
		if !found {
			return arg != nil, nil
		}
		for _, v := range vals {
			if equalityMatch(arg, v) {
				return false, nil
			}
		}
		return true, nil
	case "$gt", "$gte", "$lt", "$lte":
		return anyCandidate(vals, found, func(v any) bool { return orderMatch(op, arg, v) }), nil
	case "$in":
		values, ok := arg.([]any)
		if !ok {
			return false, merr.OperationFailuref("$in needs an array")
		}
		if !found {
			return document.ArrayContains(values, nil), nil
		}
		return anyCandidate(vals, found, func(v any) bool {
			for _, want := range values {
				if equalityMatch(want, v) {
					return true
				}
			}
			return false
		}), nil
	case "$nin":
		values, ok := arg.([]any)
		if !ok {
			return false, merr.OperationFailuref("$nin needs an array")
		}
		matched, err := applyOperator("$in", values, spec, vals, found)
		if err != nil {
			return false, err
		}
		return !matched, nil
	case "$exists":
		if truthy(arg) {
			return found, nil
		}
		return !found, nil
	case "$not":
		return applyNot(arg, vals, found)
	case "$regex":
		rx, err := regexArg(arg, spec)
		if err != nil {
			return false, err
		}
		return anyCandidate(vals, found, func(v any) bool { return regexMatch(rx, v) }), nil
	case "$options":
		// Companion to $regex, consumed there.
		return true, nil
	case "$elemMatch":
		sub, ok := arg.(*document.Doc)
		if !ok {
			return false, merr.OperationFailuref("$elemMatch needs a document")
		}
		return applyElemMatch(sub, vals)
	case "$size":
		want, ok := intArg(arg)
		if !ok {
			return false, merr.OperationFailuref("$size needs a number")
		}
		return anyCandidate(vals, found, func(v any) bool {
			arr, isArr := v.([]any)
			return isArr && len(arr) == want
		}), nil
	case "$all":
		wanted, ok := arg.([]any)
		if !ok {
			return false, merr.OperationFailuref("$all needs an array")
		}
		return anyCandidate(vals, found, func(v any) bool {
			arr, isArr := v.([]any)
			if !isArr {
				arr = []any{v}
			}
			for _, want := range wanted {
				if !document.ArrayContains(arr, want) {
					return false
				}
			}
			return true
		}), nil
	case "$mod":
		parts, ok := arg.([]any)
		if !ok || len(parts) != 2 {
			return false, merr.OperationFailuref("malformed mod, needs to be an array of 2 numbers")
		}
		div, okDiv := document.AsFloat(parts[0])
		rem, okRem := document.AsFloat(parts[1])
		if !okDiv || !okRem || div == 0 {
			return false, merr.OperationFailuref("malformed mod, divisor and remainder must be numbers")
		}
		return anyCandidate(vals, found, func(v any) bool {
			f, isNum := document.AsFloat(v)
			return isNum && math.Mod(f, div) == rem
		}), nil
	case "$type":
		return anyCandidate(vals, found, func(v any) bool { return typeMatches(arg, v) }), nil
	default:
		if notImplementedOps[op] {
			return false, merr.NotImplemented("the " + op + " operator")
		}
		return false, merr.OperationFailuref("unknown operator: %s", op)
	}
}

func anyCandidate(vals []any, found bool, pred func(any) bool) bool {
	if !found {
		return false
	}
	for _, v := range vals {
		if pred(v) {
			return true
		}
	}
	return false
}

// orderMatch applies a comparison operator. Values only compare inside the
// same type bracket; arrays match when any element does.
func orderMatch(op string, arg, v any) bool {
	if arr, ok := v.([]any); ok {
		for _, e := range arr {
			if orderMatch(op, arg, e) {
				return true
			}
		}
		return false
	}
	if !document.SameBracket(arg, v) {
		return false
	}
	c := document.Compare(v, arg)
	switch op {
	case "$gt":
		return c > 0
	case "$gte":
		return c >= 0
	case "$lt":
		return c < 0
	default:
		return c <= 0
	}
}

func applyNot(arg any, vals []any, found bool) (bool, error) {
	if rx, ok := condRegex(arg); ok {
		return !anyCandidate(vals, found, func(v any) bool { return regexMatch(rx, v) }), nil
	}
	spec, ok := operatorSpec(arg)
	if !ok {
		return false, merr.OperationFailuref("$not needs a regex or a document of operators")
	}
	for _, opKey := range spec.Keys() {
		opArg, _ := spec.Get(opKey)
		matched, err := applyOperator(opKey, opArg, spec, vals, found)
		if err != nil {
			return false, err
		}
		if matched {
			return false, nil
		}
	}
	return true, nil
}

func applyElemMatch(sub *document.Doc, vals []any) (bool, error) {
	for _, v := range vals {
		arr, ok := v.([]any)
		if !ok {
			continue
		}
		for _, elem := range arr {
			matched, err := ElemMatches(sub, elem)
			if err != nil {
				return false, err
			}
			if matched {
				return true, nil
			}
		}
	}
	return false, nil
}

// ElemMatches evaluates an $elemMatch body against one array element. A body
// made of operators applies to the element itself; otherwise the element
// must be a document matching the body as a filter.
func ElemMatches(sub *document.Doc, elem any) (bool, error) {
	if spec, ok := operatorSpec(sub); ok {
		for _, opKey := range spec.Keys() {
			opArg, _ := spec.Get(opKey)
			matched, err := applyOperator(opKey, opArg, spec, []any{elem}, true)
			if err != nil {
				return false, err
			}
			if !matched {
				return false, nil
			}
		}
		return true, nil
	}
	elemDoc, ok := elem.(*document.Doc)
	if !ok {
		return false, nil
	}
	return Applies(sub, elemDoc)
}

func regexArg(arg any, spec *document.Doc) (bson.Regex, error) {
	options := ""
	if opt, ok := spec.Get("$options"); ok {
		s, isStr := opt.(string)
		if !isStr {
			return bson.Regex{}, merr.OperationFailuref("$options has to be a string")
		}
		options = s
	}
	switch t := arg.(type) {
	case string:
		return bson.Regex{Pattern: t, Options: options}, nil
	case bson.Regex:
		if options != "" {
			t.Options = options
		}
		return t, nil
	default:
		return bson.Regex{}, merr.OperationFailuref("$regex has to be a string or a regular expression")
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case nil:
		return false
	default:
		if f, ok := document.AsFloat(v); ok {
			return f != 0
		}
		return true
	}
}

func intArg(v any) (int, bool) {
	f, ok := document.AsFloat(v)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

var typeAliases = map[string]func(any) bool{
	"double":    func(v any) bool { _, ok := v.(float64); return ok },
	"string":    func(v any) bool { _, ok := v.(string); return ok },
	"object":    func(v any) bool { _, ok := v.(*document.Doc); return ok },
	"array":     func(v any) bool { _, ok := v.([]any); return ok },
	"binData":   func(v any) bool { _, ok := v.(bson.Binary); return ok },
	"objectId":  func(v any) bool { _, ok := v.(bson.ObjectID); return ok },
	"bool":      func(v any) bool { _, ok := v.(bool); return ok },
	"date":      func(v any) bool { _, ok := v.(bson.DateTime); return ok },
	"null":      func(v any) bool { return v == nil },
	"regex":     func(v any) bool { _, ok := v.(bson.Regex); return ok },
	"int":       func(v any) bool { _, ok := v.(int32); return ok },
	"timestamp": func(v any) bool { _, ok := v.(bson.Timestamp); return ok },
	"long":      func(v any) bool { _, ok := v.(int64); return ok },
	"decimal":   func(v any) bool { _, ok := v.(bson.Decimal128); return ok },
	"number":    document.IsNumber,
}

var typeNumbers = map[int]string{
	1: "double", 2: "string", 3: "object", 4: "array", 5: "binData",
	7: "objectId", 8: "bool", 9: "date", 10: "null", 11: "regex",
	16: "int", 17: "timestamp", 18: "long", 19: "decimal",
}

func typeMatches(arg, v any) bool {
	switch t := arg.(type) {
	case string:
		if pred, ok := typeAliases[t]; ok {
			return pred(v)
		}
		return false
	default:
		n, ok := intArg(arg)
		if !ok {
			return false
		}
		alias, known := typeNumbers[n]
		if !known {
			return false
		}
		return typeAliases[alias](v)
	}
}
