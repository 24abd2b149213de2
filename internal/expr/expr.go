// Package expr evaluates aggregation expressions against a document: field
// paths, literals, and a core operator set. It backs $group, $bucket and
// computed $project fields.
package expr

import (
	"math"
	"strings"

	"github.com/mimongo/mimongo/internal/document"
	"github.com/mimongo/mimongo/merr"
)

// ErrMissing reports that an expression resolved to a field absent from the
// document. Stages decide how to coerce it: $group treats it as null,
// $bucket routes the document to the default bucket.
var ErrMissing = document.ErrNoSuchKey

// Operators that are valid aggregation expressions this engine does not
// evaluate.
var notImplementedOps = map[string]bool{
	"$map": true, "$filter": true, "$reduce": true, "$switch": true,
	"$let": true, "$dateToString": true, "$arrayElemAt": true,
	"$objectToArray": true, "$arrayToObject": true, "$mergeObjects": true,
	"$range": true, "$zip": true, "$split": true, "$substr": true,
	"$dateFromString": true, "$regexMatch": true,
}

// Evaluate resolves an aggregation expression against doc.
func Evaluate(e any, doc *document.Doc) (any, error) {
	switch t := e.(type) {
	case string:
		if strings.HasPrefix(t, "$") {
			return document.GetPath(doc, strings.TrimPrefix(t, "$"))
		}
		return t, nil
	case *document.Doc:
		if t.Len() > 0 && strings.HasPrefix(t.Keys()[0], "$") {
			op := t.Keys()[0]
			arg, _ := t.Get(op)
			return evaluateOperator(op, arg, doc)
		}
		out := document.New()
		for _, k := range t.Keys() {
			sub, _ := t.Get(k)
			v, err := Evaluate(sub, doc)
			if err == ErrMissing {
				continue
			}
			if err != nil {
				return nil, err
			}
			out.Set(k, v)
		}
		return out, nil
	case []any:
		out := make([]any, 0, len(t))
		for _, sub := range t {
			v, err := Evaluate(sub, doc)
			if err == ErrMissing {
				v = nil
			} else if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	default:
		return e, nil
	}
}

func evaluateOperator(op string, arg any, doc *document.Doc) (any, error) {
	switch op {
	case "$literal":
		return arg, nil
	case "$add", "$multiply":
		return arithmeticFold(op, arg, doc)
	case "$subtract", "$divide", "$mod":
		return arithmeticPair(op, arg, doc)
	case "$abs":
		v, err := evalOperand(arg, doc)
		if err != nil || v == nil {
			return nil, err
		}
		f, ok := document.AsFloat(v)
		if !ok {
			return nil, merr.OperationFailuref("$abs only supports numeric types")
		}
		if i, isInt := v.(int64); isInt {
			if i < 0 {
				return -i, nil
			}
			return i, nil
		}
		if i, isInt := v.(int32); isInt {
			if i < 0 {
				return -i, nil
			}
			return i, nil
		}
		return math.Abs(f), nil
	case "$concat":
		return concat(arg, doc)
	case "$toLower", "$toUpper":
		v, err := evalOperand(arg, doc)
		if err != nil {
			return nil, err
		}
		s, _ := v.(string)
		if op == "$toLower" {
			return strings.ToLower(s), nil
		}
		return strings.ToUpper(s), nil
	case "$eq", "$ne", "$gt", "$gte", "$lt", "$lte", "$cmp":
		return comparison(op, arg, doc)
	case "$cond":
		return cond(arg, doc)
	case "$ifNull":
		return ifNull(arg, doc)
	case "$size":
		v, err := evalOperand(arg, doc)
		if err != nil {
			return nil, err
		}
		arr, ok := v.([]any)
		if !ok {
			return nil, merr.OperationFailuref("the argument to $size must be an array")
		}
		return int32(len(arr)), nil
	default:
		if notImplementedOps[op] {
			return nil, merr.NotImplemented("the " + op + " aggregation expression")
		}
		return nil, merr.OperationFailuref("unknown aggregation expression operator: %s", op)
	}
}

// evalOperand evaluates a single operand, unwrapping the one-element array
// form many operators accept.
func evalOperand(arg any, doc *document.Doc) (any, error) {
	if arr, ok := arg.([]any); ok && len(arr) == 1 {
		arg = arr[0]
	}
	v, err := Evaluate(arg, doc)
	if err == ErrMissing {
		return nil, nil
	}
	return v, err
}

func evalArgs(arg any, doc *document.Doc) ([]any, error) {
	items, ok := arg.([]any)
	if !ok {
		items = []any{arg}
	}
	out := make([]any, 0, len(items))
	for _, item := range items {
		v, err := Evaluate(item, doc)
		if err == ErrMissing {
			v = nil
		} else if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func arithmeticFold(op string, arg any, doc *document.Doc) (any, error) {
	args, err := evalArgs(arg, doc)
	if err != nil {
		return nil, err
	}
	var acc any
	if op == "$multiply" {
		acc = int64(1)
	} else {
		acc = int64(0)
	}
	for _, v := range args {
		if v == nil {
			return nil, nil
		}
		if !document.IsNumber(v) {
			return nil, merr.OperationFailuref("%s only supports numeric types", op)
		}
		if op == "$multiply" {
			af, _ := document.AsFloat(acc)
			vf, _ := document.AsFloat(v)
			ai, aOK := acc.(int64)
			vi, vOK := toInt64(v)
			if aOK && vOK {
				acc = ai * vi
			} else {
				acc = af * vf
			}
		} else {
			acc = document.AddNumbers(acc, v)
		}
	}
	return acc, nil
}

func arithmeticPair(op string, arg any, doc *document.Doc) (any, error) {
	args, err := evalArgs(arg, doc)
	if err != nil {
		return nil, err
	}
	if len(args) != 2 {
		return nil, merr.OperationFailuref("expression %s takes exactly 2 arguments", op)
	}
	if args[0] == nil || args[1] == nil {
		return nil, nil
	}
	a, aOK := document.AsFloat(args[0])
	b, bOK := document.AsFloat(args[1])
	if !aOK || !bOK {
		return nil, merr.OperationFailuref("%s only supports numeric types", op)
	}
	switch op {
	case "$subtract":
		ai, iA := toInt64(args[0])
		bi, iB := toInt64(args[1])
		if iA && iB {
			return ai - bi, nil
		}
		return a - b, nil
	case "$divide":
		if b == 0 {
			return nil, merr.OperationFailuref("can't $divide by zero")
		}
		return a / b, nil
	default: // $mod
		if b == 0 {
			return nil, merr.OperationFailuref("can't $mod by zero")
		}
		return math.Mod(a, b), nil
	}
}

func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int32:
		return int64(t), true
	case int64:
		return t, true
	default:
		return 0, false
	}
}

func concat(arg any, doc *document.Doc) (any, error) {
	args, err := evalArgs(arg, doc)
	if err != nil {
		return nil, err
	}
	var sb strings.Builder
	for _, v := range args {
		if v == nil {
			return nil, nil
		}
		s, ok := v.(string)
		if !ok {
			return nil, merr.OperationFailuref("$concat only supports strings")
		}
		sb.WriteString(s)
	}
	return sb.String(), nil
}

func comparison(op string, arg any, doc *document.Doc) (any, error) {
	args, err := evalArgs(arg, doc)
	if err != nil {
		return nil, err
	}
	if len(args) != 2 {
		return nil, merr.OperationFailuref("expression %s takes exactly 2 arguments", op)
	}
	c := document.Compare(args[0], args[1])
	switch op {
	case "$cmp":
		return int32(c), nil
	case "$eq":
		return c == 0, nil
	case "$ne":
		return c != 0, nil
	case "$gt":
		return c > 0, nil
	case "$gte":
		return c >= 0, nil
	case "$lt":
		return c < 0, nil
	default:
		return c <= 0, nil
	}
}

func cond(arg any, doc *document.Doc) (any, error) {
	var ifExpr, thenExpr, elseExpr any
	switch t := arg.(type) {
	case []any:
		if len(t) != 3 {
			return nil, merr.OperationFailuref("$cond requires if, then and else")
		}
		ifExpr, thenExpr, elseExpr = t[0], t[1], t[2]
	case *document.Doc:
		var okIf, okThen, okElse bool
		ifExpr, okIf = t.Get("if")
		thenExpr, okThen = t.Get("then")
		elseExpr, okElse = t.Get("else")
		if !okIf || !okThen || !okElse {
			return nil, merr.OperationFailuref("$cond requires if, then and else")
		}
	default:
		return nil, merr.OperationFailuref("$cond requires if, then and else")
	}
	c, err := Evaluate(ifExpr, doc)
	if err == ErrMissing {
		c = nil
	} else if err != nil {
		return nil, err
	}
	if isTruthy(c) {
		return evalOperand(thenExpr, doc)
	}
	return evalOperand(elseExpr, doc)
}

func ifNull(arg any, doc *document.Doc) (any, error) {
	args, ok := arg.([]any)
	if !ok || len(args) != 2 {
		return nil, merr.OperationFailuref("$ifNull takes exactly 2 arguments")
	}
	v, err := Evaluate(args[0], doc)
	if err == ErrMissing {
		v = nil
	} else if err != nil {
		return nil, err
	}
	if v != nil {
		return v, nil
	}
	return evalOperand(args[1], doc)
}

func isTruthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	default:
		if f, ok := document.AsFloat(v); ok {
			return f != 0
		}
		return true
	}
}
