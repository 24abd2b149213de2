// Package aggregate executes aggregation pipelines over a snapshot of
// collection documents, stage by stage.
package aggregate

import (
	"math"
	"math/rand"
	"sort"
	"strings"

	"github.com/mimongo/mimongo/internal/document"
	"github.com/mimongo/mimongo/internal/expr"
	"github.com/mimongo/mimongo/internal/filter"
	"github.com/mimongo/mimongo/merr"
)

// Source is the view of a sibling collection needed by $lookup and $out.
type Source interface {
	Snapshot() []*document.Doc
	Count() int
	Drop()
	InsertDocs(docs []*document.Doc) error
}

// Env carries the collaborators a pipeline run needs: a resolver for sibling
// collections and the store's seeded random source for $sample.
type Env struct {
	Lookup func(name string) Source
	Rand   *rand.Rand
}

// Stages that are valid aggregation pipeline operators but are not built
// into this engine.
var recognizedStages = map[string]bool{
	"$addFields": true, "$bucketAuto": true, "$collStats": true, "$count": true,
	"$currentOp": true, "$facet": true, "$geoNear": true, "$graphLookup": true,
	"$indexStats": true, "$listLocalSessions": true, "$listSessions": true,
	"$redact": true, "$replaceRoot": true, "$replaceWith": true,
	"$sortByCount": true, "$unionWith": true, "$set": true, "$unset": true,
	"$merge": true, "$densify": true, "$fill": true, "$setWindowFields": true,
}

// Group accumulators that are recognized but not built.
var recognizedAccumulators = map[string]bool{
	"$stdDevPop": true, "$stdDevSamp": true, "$mergeObjects": true,
	"$top": true, "$bottom": true, "$topN": true, "$bottomN": true,
	"$firstN": true, "$lastN": true, "$maxN": true, "$minN": true,
	"$count": true, "$median": true, "$percentile": true,
}

// Run applies the pipeline to the snapshot buffer and returns the resulting
// documents.
func Run(buffer []*document.Doc, pipeline []any, env *Env) ([]*document.Doc, error) {
	for _, stageAny := range pipeline {
		stage, ok := stageAny.(*document.Doc)
		if !ok || stage.Len() != 1 {
			return nil, merr.OperationFailuref("a pipeline stage specification object must contain exactly one field")
		}
		name := stage.Keys()[0]
		arg, _ := stage.Get(name)

		var err error
		switch name {
		case "$match":
			buffer, err = runMatch(buffer, arg)
		case "$project":
			buffer, err = runProject(buffer, arg)
		case "$group":
			buffer, err = runGroup(buffer, arg)
		case "$bucket":
			buffer, err = runBucket(buffer, arg)
		case "$sort":
			buffer, err = runSort(buffer, arg)
		case "$skip":
			buffer, err = runSkip(buffer, arg)
		case "$limit":
			buffer, err = runLimit(buffer, arg)
		case "$unwind":
			buffer, err = runUnwind(buffer, arg)
		case "$lookup":
			buffer, err = runLookup(buffer, arg, env)
		case "$sample":
			buffer, err = runSample(buffer, arg, env)
		case "$out":
			buffer, err = runOut(buffer, arg, env)
		default:
			if recognizedStages[name] {
				err = merr.NotImplemented("the " + name + " pipeline stage")
			} else {
				err = merr.OperationFailuref("%s is not a valid operator for the aggregation pipeline", name)
			}
		}
		if err != nil {
			return nil, err
		}
	}
	return buffer, nil
}

func runMatch(buffer []*document.Doc, arg any) ([]*document.Doc, error) {
	query, ok := arg.(*document.Doc)
	if !ok {
		return nil, merr.OperationFailuref("the $match stage specification must be an object")
	}
	out := buffer[:0:0]
	for _, doc := range buffer {
		matched, err := filter.Applies(query, doc)
		if err != nil {
			return nil, err
		}
		if matched {
			out = append(out, doc)
		}
	}
	return out, nil
}

func runSort(buffer []*document.Doc, arg any) ([]*document.Doc, error) {
	spec, ok := arg.(*document.Doc)
	if !ok || spec.Len() == 0 {
		return nil, merr.OperationFailuref("the $sort key specification must be an object")
	}
	keys := spec.Keys()
	for i := len(keys) - 1; i >= 0; i-- {
		key := keys[i]
		dirAny, _ := spec.Get(key)
		dir, ok := document.AsFloat(dirAny)
		if !ok || (dir != 1 && dir != -1) {
			return nil, merr.OperationFailuref("the $sort key ordering must be 1 (for ascending) or -1 (for descending)")
		}
		sort.SliceStable(buffer, func(a, b int) bool {
			c := filter.CompareRanks(filter.SortKeyOf(key, buffer[a]), filter.SortKeyOf(key, buffer[b]))
			if dir < 0 {
				return c > 0
			}
			return c < 0
		})
	}
	return buffer, nil
}

func runSkip(buffer []*document.Doc, arg any) ([]*document.Doc, error) {
	n, ok := intStageArg(arg)
	if !ok {
		return nil, merr.OperationFailuref("the $skip stage must specify a number")
	}
	if n >= len(buffer) {
		return nil, nil
	}
	if n < 0 {
		n = 0
	}
	return buffer[n:], nil
}

func runLimit(buffer []*document.Doc, arg any) ([]*document.Doc, error) {
	n, ok := intStageArg(arg)
	if !ok {
		return nil, merr.OperationFailuref("the $limit stage must specify a number")
	}
	if n < len(buffer) && n >= 0 {
		return buffer[:n], nil
	}
	return buffer, nil
}

func intStageArg(arg any) (int, bool) {
	f, ok := document.AsFloat(arg)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

func runSample(buffer []*document.Doc, arg any, env *Env) ([]*document.Doc, error) {
	spec, ok := arg.(*document.Doc)
	if !ok {
		return nil, merr.OperationFailuref("the $sample stage specification must be an object")
	}
	sizeAny, has := spec.Get("size")
	if !has {
		return nil, merr.OperationFailuref("$sample stage must specify a size")
	}
	for _, k := range spec.Keys() {
		if k != "size" {
			return nil, merr.OperationFailuref("unrecognized option to $sample: %s", k)
		}
	}
	size, ok := intStageArg(sizeAny)
	if !ok || size < 0 {
		return nil, merr.OperationFailuref("size argument to $sample must be a non-negative number")
	}
	if len(buffer) == 0 {
		return nil, nil
	}
	out := make([]*document.Doc, 0, size)
	for i := 0; i < size; i++ {
		out = append(out, buffer[env.Rand.Intn(len(buffer))])
	}
	return out, nil
}

func runOut(buffer []*document.Doc, arg any, env *Env) ([]*document.Doc, error) {
	name, ok := arg.(string)
	if !ok {
		return nil, merr.OperationFailuref("the $out stage must specify a collection name string")
	}
	target := env.Lookup(name)
	if target.Count() > 0 {
		target.Drop()
	}
	if err := target.InsertDocs(buffer); err != nil {
		return nil, err
	}
	return buffer, nil
}

func runUnwind(buffer []*document.Doc, arg any) ([]*document.Doc, error) {
	spec, isDoc := arg.(*document.Doc)
	if !isDoc {
		spec = document.New()
		spec.Set("path", arg)
	}
	pathAny, _ := spec.Get("path")
	path, isStr := pathAny.(string)
	if !isStr || !strings.HasPrefix(path, "$") {
		return nil, merr.OperationFailuref("$unwind failed: field path references must be prefixed with a '$': %v", pathAny)
	}
	path = strings.TrimPrefix(path, "$")
	preserve := truthy(spec.GetOr("preserveNullAndEmptyArrays", false))
	indexField, _ := spec.GetOr("includeArrayIndex", "").(string)

	var out []*document.Doc
	for _, doc := range buffer {
		value, err := document.GetPath(doc, path)
		if err != nil {
			if preserve {
				out = append(out, doc)
			}
			continue
		}
		if value == nil {
			if preserve {
				out = append(out, doc)
			}
			continue
		}
		arr, isArr := value.([]any)
		if isArr && len(arr) == 0 {
			if preserve {
				clone := doc.Clone()
				_ = document.DeletePath(clone, path)
				out = append(out, clone)
			}
			continue
		}
		if !isArr {
			clone := doc.Clone()
			if indexField != "" {
				_ = document.SetPath(clone, indexField, nil)
			}
			out = append(out, clone)
			continue
		}
		for i, item := range arr {
			clone := doc.Clone()
			if err := document.SetPath(clone, path, document.CloneValue(item)); err != nil {
				return nil, err
			}
			if indexField != "" {
				if err := document.SetPath(clone, indexField, int64(i)); err != nil {
					return nil, err
				}
			}
			out = append(out, clone)
		}
	}
	return out, nil
}

func runLookup(buffer []*document.Doc, arg any, env *Env) ([]*document.Doc, error) {
	spec, ok := arg.(*document.Doc)
	if !ok {
		return nil, merr.OperationFailuref("the $lookup stage specification must be an object")
	}
	for _, opt := range []string{"let", "pipeline"} {
		if spec.Has(opt) {
			return nil, merr.NotImplemented("the '" + opt + "' option of $lookup")
		}
	}
	args := map[string]string{}
	for _, opt := range []string{"from", "localField", "foreignField", "as"} {
		v, has := spec.Get(opt)
		if !has {
			return nil, merr.OperationFailuref("must specify '%s' field for a $lookup", opt)
		}
		s, isStr := v.(string)
		if !isStr {
			return nil, merr.OperationFailuref("arguments to $lookup must be strings")
		}
		if opt != "from" && strings.HasPrefix(s, "$") {
			return nil, merr.OperationFailuref("FieldPath field names may not start with '$'")
		}
		if (opt == "localField" || opt == "as") && strings.Contains(s, ".") {
			return nil, merr.NotImplemented("dotted localField and as parameters of $lookup")
		}
		args[opt] = s
	}

	foreign := env.Lookup(args["from"]).Snapshot()
	for _, doc := range buffer {
		local, _ := doc.Get(args["localField"])
		cond := document.New()
		if arr, isArr := local.([]any); isArr {
			in := document.New()
			in.Set("$in", arr)
			cond.Set(args["foreignField"], in)
		} else {
			cond.Set(args["foreignField"], local)
		}
		var matches []any
		for _, fdoc := range foreign {
			matched, err := filter.Applies(cond, fdoc)
			if err != nil {
				return nil, err
			}
			if matched {
				matches = append(matches, fdoc)
			}
		}
		if matches == nil {
			matches = []any{}
		}
		doc.Set(args["as"], matches)
	}
	return buffer, nil
}

func runProject(buffer []*document.Doc, arg any) ([]*document.Doc, error) {
	spec, ok := arg.(*document.Doc)
	if !ok || spec.Len() == 0 {
		return nil, merr.OperationFailuref("$project specification must be a non-empty object")
	}

	includeID := truthy(spec.GetOr("_id", true))
	mode := ""
	var includes []string
	type computed struct {
		field string
		e     any
	}
	var computes []computed

	for _, field := range spec.Keys() {
		value, _ := spec.Get(field)
		if strings.Contains(field, ".") {
			return nil, merr.NotImplemented("subfield projection in $project")
		}
		isExpr := isExpression(value)
		including := truthy(value) || isExpr
		if field != "_id" || including {
			switch {
			case mode == "":
				if including {
					mode = "include"
				} else {
					mode = "exclude"
				}
			case mode == "include" && !including && field != "_id":
				return nil, merr.OperationFailuref("bad projection specification, cannot exclude fields other than '_id' in an inclusion projection")
			case mode == "exclude" && including:
				return nil, merr.OperationFailuref("bad projection specification, cannot include fields or add computed fields during an exclusion projection")
			}
		}
		if field == "_id" {
			continue
		}
		includes = append(includes, field)
		if isExpr {
			computes = append(computes, computed{field: field, e: value})
		}
	}

	included := map[string]bool{}
	for _, f := range includes {
		included[f] = true
	}
	included["_id"] = (mode == "include") == includeID

	out := make([]*document.Doc, 0, len(buffer))
	for _, doc := range buffer {
		values := map[string]any{}
		for _, c := range computes {
			v, err := expr.Evaluate(c.e, doc)
			if err == expr.ErrMissing {
				continue
			}
			if err != nil {
				return nil, err
			}
			values[c.field] = v
		}
		projected := document.New()
		for _, k := range doc.Keys() {
			if (mode == "include") != included[k] {
				continue
			}
			if v, isComputed := values[k]; isComputed {
				projected.Set(k, v)
				delete(values, k)
				continue
			}
			v, _ := doc.Get(k)
			projected.Set(k, v)
		}
		if mode == "include" {
			for _, c := range computes {
				if v, pending := values[c.field]; pending {
					projected.Set(c.field, v)
				}
			}
		}
		out = append(out, projected)
	}
	return out, nil
}

// isExpression reports whether a $project value computes a new field rather
// than toggling an existing one.
func isExpression(v any) bool {
	switch t := v.(type) {
	case string:
		return strings.HasPrefix(t, "$")
	case *document.Doc:
		return true
	case bool, nil, int32, int64, float64:
		return false
	default:
		return false
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
