package update

import (
	"strings"

	"github.com/mimongo/mimongo/internal/document"
	"github.com/mimongo/mimongo/internal/filter"
	"github.com/mimongo/mimongo/merr"
)

var setUpdater = updater{
	write: func(doc *document.Doc, field string, value any) error {
		doc.Set(field, document.CloneValue(document.Internalize(value)))
		return nil
	},
}

var unsetUpdater = updater{
	unset: true,
	write: func(doc *document.Doc, field string, _ any) error {
		doc.Delete(field)
		return nil
	},
}

var incUpdater = updater{
	write: func(doc *document.Doc, field string, value any) error {
		if !document.IsNumber(value) {
			return &merr.WriteError{Message: "cannot increment with non-numeric argument"}
		}
		current := doc.GetOr(field, int64(0))
		if !document.IsNumber(current) {
			return &merr.WriteError{Message: "cannot apply $inc to a value of non-numeric type"}
		}
		doc.Set(field, document.AddNumbers(current, value))
		return nil
	},
}

var maxUpdater = updater{
	write: func(doc *document.Doc, field string, value any) error {
		current, ok := doc.Get(field)
		if !ok || document.Compare(value, current) > 0 {
			doc.Set(field, document.CloneValue(document.Internalize(value)))
		}
		return nil
	},
}

var minUpdater = updater{
	write: func(doc *document.Doc, field string, value any) error {
		current, ok := doc.Get(field)
		if !ok || document.Compare(value, current) < 0 {
			doc.Set(field, document.CloneValue(document.Internalize(value)))
		}
		return nil
	},
}

var currentDateUpdater = updater{
	write: func(doc *document.Doc, field string, _ any) error {
		doc.Set(field, now())
		return nil
	},
}

func applyCurrentDate(existing *document.Doc, fields *document.Doc, res *Resolver) error {
	for _, k := range fields.Keys() {
		v, _ := fields.Get(k)
		if spec, ok := v.(*document.Doc); ok {
			if t, hasType := spec.Get("$type"); hasType && t == "timestamp" {
				return merr.NotImplemented("$currentDate with the timestamp type")
			}
		}
	}
	return applyFields(existing, fields, res, currentDateUpdater)
}

func applyRename(existing *document.Doc, fields *document.Doc) error {
	for _, src := range fields.Keys() {
		dstAny, _ := fields.Get(src)
		dst, ok := dstAny.(string)
		if !ok {
			return &merr.WriteError{Message: "the 'to' field for $rename must be a string"}
		}
		if strings.Contains(src, ".") || strings.Contains(dst, ".") {
			return merr.NotImplemented("the $rename operator with dotted fields")
		}
		v, present := existing.Get(src)
		if !present {
			continue
		}
		existing.Delete(src)
		existing.Set(dst, v)
	}
	return nil
}

func applyAddToSet(existing *document.Doc, fields *document.Doc) error {
	for _, field := range fields.Keys() {
		value, _ := fields.Get(field)
		parts := strings.Split(field, ".")

		target := existing
		if len(parts) > 1 {
			// Create the missing intermediate documents, then add to the
			// leaf array.
			var node any = existing
			for _, part := range parts[:len(parts)-1] {
				nodeDoc, ok := node.(*document.Doc)
				if !ok {
					return &merr.WriteError{Message: "cannot apply $addToSet to a non-document path " + field}
				}
				child, has := nodeDoc.Get(part)
				if !has {
					child = document.New()
					nodeDoc.Set(part, child)
				}
				node = child
			}
			nodeDoc, ok := node.(*document.Doc)
			if !ok {
				return &merr.WriteError{Message: "cannot apply $addToSet to a non-document path " + field}
			}
			target = nodeDoc
		}

		leaf := parts[len(parts)-1]
		arrAny := target.GetOr(leaf, []any{})
		arr, ok := arrAny.([]any)
		if !ok {
			return &merr.WriteError{Message: "cannot apply $addToSet to non-array field " + field}
		}
		arr = addToSet(arr, value)
		target.Set(leaf, arr)
	}
	return nil
}

func addToSet(arr []any, value any) []any {
	if spec, ok := value.(*document.Doc); ok {
		if eachAny, has := spec.Get("$each"); has {
			each, isArr := eachAny.([]any)
			if isArr {
				for _, item := range each {
					if !document.ArrayContains(arr, item) {
						arr = append(arr, document.CloneValue(item))
					}
				}
				return arr
			}
		}
	}
	if !document.ArrayContains(arr, value) {
		arr = append(arr, document.CloneValue(document.Internalize(value)))
	}
	return arr
}

func applyPush(existing *document.Doc, fields *document.Doc, res *Resolver) error {
	for _, field := range fields.Keys() {
		value, _ := fields.Get(field)
		parts := strings.Split(field, ".")

		var target *document.Doc
		switch {
		case len(parts) == 1:
			target = existing
		case containsPositional(parts):
			if res.sub == nil {
				sub, err := subdocumentFor(existing, res.Query, parts)
				if err != nil {
					return err
				}
				res.sub = sub
			}
			subDoc, ok := res.sub.(*document.Doc)
			if !ok {
				continue
			}
			target = subDoc
		default:
			var node any = existing
			for _, part := range parts[:len(parts)-1] {
				switch t := node.(type) {
				case *document.Doc:
					child, has := t.Get(part)
					if !has {
						child = document.New()
						t.Set(part, child)
					}
					node = child
				case []any:
					next, ok := descend(t, part)
					if !ok {
						return &merr.WriteError{Message: "cannot apply $push to path " + field}
					}
					node = next
				default:
					return &merr.WriteError{Message: "cannot apply $push to path " + field}
				}
			}
			nodeDoc, ok := node.(*document.Doc)
			if !ok {
				return &merr.WriteError{Message: "cannot apply $push to path " + field}
			}
			target = nodeDoc
		}

		leaf := parts[len(parts)-1]
		arrAny := target.GetOr(leaf, []any{})
		arr, ok := arrAny.([]any)
		if !ok {
			return &merr.WriteError{Message: "cannot apply $push to non-array field " + field}
		}
		arr, err := push(arr, value)
		if err != nil {
			return err
		}
		target.Set(leaf, arr)
	}
	return nil
}

func push(arr []any, value any) ([]any, error) {
	if spec, ok := value.(*document.Doc); ok {
		if spec.Has("$slice") {
			return nil, merr.NotImplemented("the $slice modifier of $push")
		}
		if eachAny, has := spec.Get("$each"); has {
			each, isArr := eachAny.([]any)
			if !isArr {
				return nil, &merr.WriteError{Message: "the $each modifier of $push must be an array"}
			}
			for _, item := range each {
				arr = append(arr, document.CloneValue(item))
			}
			return arr, nil
		}
	}
	return append(arr, document.CloneValue(document.Internalize(value))), nil
}

func applyPull(existing *document.Doc, fields *document.Doc, res *Resolver) error {
	for _, field := range fields.Keys() {
		value, _ := fields.Get(field)
		parts := strings.Split(field, ".")

		var target *document.Doc
		if containsPositional(parts) {
			if res.sub == nil {
				sub, err := subdocumentFor(existing, res.Query, parts)
				if err != nil {
					return err
				}
				res.sub = sub
			}
			subDoc, ok := res.sub.(*document.Doc)
			if !ok {
				continue
			}
			target = subDoc
		} else {
			node, ok := walkExisting(existing, parts[:len(parts)-1])
			if !ok {
				continue
			}
			nodeDoc, isDoc := node.(*document.Doc)
			if !isDoc {
				continue
			}
			target = nodeDoc
		}

		leaf := parts[len(parts)-1]
		arrAny, ok := target.Get(leaf)
		if !ok {
			continue
		}
		arr, isArr := arrAny.([]any)
		if !isArr {
			continue
		}
		kept := make([]any, 0, len(arr))
		for _, elem := range arr {
			remove, err := pullMatches(value, elem)
			if err != nil {
				return err
			}
			if !remove {
				kept = append(kept, elem)
			}
		}
		target.Set(leaf, kept)
	}
	return nil
}

// pullMatches decides whether one array element is removed by $pull: a
// document argument is an embedded query, anything else is deep equality.
func pullMatches(value, elem any) (bool, error) {
	cond, isDoc := value.(*document.Doc)
	if !isDoc {
		return document.Equal(value, elem), nil
	}
	elemDoc, elemIsDoc := elem.(*document.Doc)
	if !elemIsDoc {
		return filter.ElemMatches(cond, elem)
	}
	return filter.Applies(cond, elemDoc)
}

func applyPullAll(existing *document.Doc, fields *document.Doc, res *Resolver) error {
	for _, field := range fields.Keys() {
		valueAny, _ := fields.Get(field)
		values, ok := valueAny.([]any)
		if !ok {
			return &merr.WriteError{Message: "$pullAll requires an array argument"}
		}
		parts := strings.Split(field, ".")

		node, found := walkExisting(existing, parts[:len(parts)-1])
		if !found {
			continue
		}
		target, isDoc := node.(*document.Doc)
		if !isDoc {
			continue
		}
		leaf := parts[len(parts)-1]
		arrAny, has := target.Get(leaf)
		if !has {
			continue
		}
		arr, isArr := arrAny.([]any)
		if !isArr {
			continue
		}
		kept := make([]any, 0, len(arr))
		for _, elem := range arr {
			if !document.ArrayContains(values, elem) {
				kept = append(kept, elem)
			}
		}
		target.Set(leaf, kept)
	}
	return nil
}

func containsPositional(parts []string) bool {
	for _, p := range parts {
		if p == "$" {
			return true
		}
	}
	return false
}

func walkExisting(existing *document.Doc, parts []string) (any, bool) {
	var node any = existing
	for _, part := range parts {
		next, ok := descend(node, part)
		if !ok {
			return nil, false
		}
		node = next
	}
	return node, true
}

// subdocumentFor resolves the parent document of a positional path by
// walking the document and query in parallel, descending into $elemMatch
// bodies to pick the first array element the query matches.
func subdocumentFor(existing *document.Doc, spec *document.Doc, parts []string) (any, error) {
	var doc any = existing
	var sub any = existing
	subspec := spec
	for _, part := range parts {
		if part == "$" {
			if em, ok := subspec.Get("$elemMatch"); ok {
				if emDoc, isDoc := em.(*document.Doc); isDoc {
					subspec = emDoc
				}
			}
			arr, isArr := doc.([]any)
			if !isArr {
				continue
			}
			for _, item := range arr {
				itemDoc, isDoc := item.(*document.Doc)
				if !isDoc {
					continue
				}
				matched, err := filter.Applies(subspec, itemDoc)
				if err != nil {
					return nil, err
				}
				if matched {
					sub = doc
					doc = item
					break
				}
			}
			continue
		}

		sub = doc
		next, ok := descend(doc, part)
		if !ok {
			break
		}
		doc = next
		nextSpec, hasSpec := subspec.Get(part)
		if !hasSpec {
			break
		}
		if specDoc, isDoc := nextSpec.(*document.Doc); isDoc {
			subspec = specDoc
		}
	}
	return sub, nil
}
