// Package filter evaluates query documents against stored documents. It
// backs find, update targeting, $pull, $elemMatch and the $match stage.
package filter

import (
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mimongo/mimongo/internal/document"
	"github.com/mimongo/mimongo/merr"
)

// Operators that are valid MongoDB but that this engine does not evaluate.
var notImplementedOps = map[string]bool{
	"$where": true, "$text": true, "$expr": true, "$jsonSchema": true,
	"$near": true, "$nearSphere": true, "$geoWithin": true, "$geoIntersects": true,
	"$bitsAllClear": true, "$bitsAllSet": true, "$bitsAnyClear": true, "$bitsAnySet": true,
}

// Applies reports whether doc satisfies the query. A nil query matches
// everything.
func Applies(query *document.Doc, doc *document.Doc) (bool, error) {
	if query == nil {
		return true, nil
	}
	for _, key := range query.Keys() {
		cond, _ := query.Get(key)
		ok, err := applyClause(key, cond, doc)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func applyClause(key string, cond any, doc *document.Doc) (bool, error) {
	if strings.HasPrefix(key, "$") {
		switch key {
		case "$and", "$or", "$nor":
			return applyLogical(key, cond, doc)
		case "$comment":
			return true, nil
		default:
			if notImplementedOps[key] {
				return false, merr.NotImplemented("the " + key + " operator")
			}
			return false, merr.OperationFailuref("unknown top level operator: %s", key)
		}
	}
	return matchField(key, cond, doc)
}

func applyLogical(op string, cond any, doc *document.Doc) (bool, error) {
	clauses, ok := cond.([]any)
	if !ok || len(clauses) == 0 {
		return false, merr.OperationFailuref("%s must be a nonempty array", op)
	}
	anyMatched := false
	for _, clause := range clauses {
		sub, ok := clause.(*document.Doc)
		if !ok {
			return false, merr.OperationFailuref("%s entries must be documents", op)
		}
		matched, err := Applies(sub, doc)
		if err != nil {
			return false, err
		}
		switch {
		case op == "$and" && !matched:
			return false, nil
		case matched:
			anyMatched = true
		}
	}
	switch op {
	case "$and":
		return true, nil
	case "$or":
		return anyMatched, nil
	default: // $nor
		return !anyMatched, nil
	}
}

// Candidates enumerates the values reachable at a dotted path, fanning out
// through arrays of documents. found is false when the path resolves
// nowhere.
func Candidates(key string, v any) (vals []any, found bool) {
	return resolve(strings.Split(key, "."), v)
}

func resolve(parts []string, v any) ([]any, bool) {
	if len(parts) == 0 {
		return []any{v}, true
	}
	switch node := v.(type) {
	case *document.Doc:
		child, ok := node.Get(parts[0])
		if !ok {
			return nil, false
		}
		return resolve(parts[1:], child)
	case []any:
		var out []any
		anyFound := false
		if idx, err := parseIndex(parts[0]); err == nil && idx < len(node) {
			if vals, ok := resolve(parts[1:], node[idx]); ok {
				out = append(out, vals...)
				anyFound = true
			}
		}
		for _, elem := range node {
			if _, isDoc := elem.(*document.Doc); !isDoc {
				continue
			}
			if vals, ok := resolve(parts, elem); ok {
				out = append(out, vals...)
				anyFound = true
			}
		}
		return out, anyFound
	default:
		return nil, false
	}
}

func parseIndex(s string) (int, error) {
	idx := 0
	if s == "" {
		return 0, merr.Validationf("empty path component")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, merr.Validationf("not an index")
		}
		idx = idx*10 + int(r-'0')
	}
	return idx, nil
}

func matchField(key string, cond any, doc *document.Doc) (bool, error) {
	vals, found := Candidates(key, doc)

	if opSpec, ok := operatorSpec(cond); ok {
		for _, opKey := range opSpec.Keys() {
			arg, _ := opSpec.Get(opKey)
			matched, err := applyOperator(opKey, arg, opSpec, vals, found)
			if err != nil {
				return false, err
			}
			if !matched {
				return false, nil
			}
		}
		return true, nil
	}

	if !found {
		return cond == nil, nil
	}
	for _, v := range vals {
		if equalityMatch(cond, v) {
			return true, nil
		}
	}
	return false, nil
}

// operatorSpec reports whether cond is a {$op: …} document rather than a
// literal document to compare against.
func operatorSpec(cond any) (*document.Doc, bool) {
	d, ok := cond.(*document.Doc)
	if !ok || d.Len() == 0 {
		return nil, false
	}
	first := d.Keys()[0]
	if !strings.HasPrefix(first, "$") {
		return nil, false
	}
	return d, true
}

// equalityMatch implements implicit equality: direct deep equality, array
// membership, and regular-expression conditions against strings.
func equalityMatch(cond, v any) bool {
	if rx, ok := condRegex(cond); ok {
		return regexMatch(rx, v)
	}
	if document.Equal(cond, v) {
		return true
	}
	if arr, ok := v.([]any); ok {
		return document.ArrayContains(arr, cond)
	}
	return false
}

func condRegex(cond any) (bson.Regex, bool) {
	rx, ok := cond.(bson.Regex)
	return rx, ok
}

func regexMatch(rx bson.Regex, v any) bool {
	s, ok := v.(string)
	if !ok {
		if arr, isArr := v.([]any); isArr {
			for _, e := range arr {
				if regexMatch(rx, e) {
					return true
				}
			}
		}
		return false
	}
	re, err := compileRegex(rx.Pattern, rx.Options)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

func compileRegex(pattern, options string) (*regexp.Regexp, error) {
	var flags string
	for _, opt := range options {
		switch opt {
		case 'i':
			flags += "i"
		case 'm':
			flags += "m"
		case 's':
			flags += "s"
		}
	}
	if flags != "" {
		pattern = "(?" + flags + ")" + pattern
	}
	return regexp.Compile(pattern)
}
