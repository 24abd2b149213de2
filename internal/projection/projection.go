// Package projection normalizes include/exclude projection specs and applies
// them to documents, including the $elemMatch projection operator.
package projection

import (
	"strings"

	"github.com/mimongo/mimongo/internal/document"
	"github.com/mimongo/mimongo/internal/filter"
	"github.com/mimongo/mimongo/merr"
)

// Apply projects doc through fields. A nil spec deep-copies the document; an
// empty spec keeps only _id.
func Apply(doc *document.Doc, fields *document.Doc) (*document.Doc, error) {
	if fields == nil {
		return doc.Clone(), nil
	}

	spec := fields.Clone()
	if spec.Len() == 0 {
		spec.Set("_id", int32(1))
	}

	idValue := spec.GetOr("_id", int32(1))
	spec.Delete("_id")

	operators, err := extractOperators(spec)
	if err != nil {
		return nil, err
	}

	include, err := projectionMode(spec)
	if err != nil {
		return nil, err
	}

	var out *document.Doc
	if spec.Len() == 0 {
		if truthy(idValue) {
			out = document.New()
		} else {
			out = doc.Clone()
		}
	} else {
		combined, err := combineSpec(spec)
		if err != nil {
			return nil, err
		}
		out, err = projectBySpec(doc, combined, include)
		if err != nil {
			return nil, err
		}
	}

	if truthy(idValue) {
		if id, ok := doc.Get("_id"); ok {
			out.Set("_id", document.CloneValue(id))
		}
	} else {
		out.Delete("_id")
	}

	if err := applyOperators(operators, doc, out); err != nil {
		return nil, err
	}
	return out, nil
}

// extractOperators removes and returns spec entries whose value is an
// operator document. Only $elemMatch is permitted.
func extractOperators(spec *document.Doc) (*document.Doc, error) {
	ops := document.New()
	for _, key := range spec.Keys() {
		v, _ := spec.Get(key)
		opDoc, ok := v.(*document.Doc)
		if !ok {
			continue
		}
		for _, op := range opDoc.Keys() {
			if op != "$elemMatch" {
				return nil, merr.Validationf("unsupported projection option: %s", op)
			}
		}
		ops.Set(key, opDoc)
	}
	for _, key := range ops.Keys() {
		spec.Delete(key)
	}
	return ops, nil
}

// projectionMode validates that the remaining leaves are either all
// including or all excluding.
func projectionMode(spec *document.Doc) (bool, error) {
	include, decided := false, false
	for _, key := range spec.Keys() {
		v, _ := spec.Get(key)
		t := truthy(v)
		if !decided {
			include, decided = t, true
			continue
		}
		if t != include {
			return false, merr.Validationf("projections cannot mix including and excluding fields")
		}
	}
	return include, nil
}

// combineSpec reformats dotted paths into a nested tree:
// {a:1, b.c:1, b.d:1} becomes {a:1, b:{c:1, d:1}}.
func combineSpec(spec *document.Doc) (*document.Doc, error) {
	tmp := document.New()
	for _, f := range spec.Keys() {
		v, _ := spec.Get(f)
		if !strings.Contains(f, ".") {
			if existing, ok := tmp.Get(f); ok {
				if _, isDoc := existing.(*document.Doc); isDoc && !truthy(v) {
					return nil, merr.Validationf("cannot override excluding projection for %s", f)
				}
			}
			tmp.Set(f, v)
			continue
		}
		parts := strings.SplitN(f, ".", 2)
		sub, ok := tmp.Get(parts[0])
		subDoc, isDoc := sub.(*document.Doc)
		if !ok || !isDoc {
			subDoc = document.New()
			tmp.Set(parts[0], subDoc)
		}
		subDoc.Set(parts[1], v)
	}

	combined := document.New()
	for _, f := range tmp.Keys() {
		v, _ := tmp.Get(f)
		if sub, ok := v.(*document.Doc); ok {
			nested, err := combineSpec(sub)
			if err != nil {
				return nil, err
			}
			combined.Set(f, nested)
			continue
		}
		combined.Set(f, v)
	}
	return combined, nil
}

// projectBySpec copies selected paths in include mode, or deletes them from
// a deep copy in exclude mode. Sub-specs recurse into arrays per element.
func projectBySpec(doc *document.Doc, spec *document.Doc, include bool) (*document.Doc, error) {
	out := document.New()
	if !include {
		for _, k := range doc.Keys() {
			v, _ := doc.Get(k)
			out.Set(k, document.CloneValue(v))
		}
	}

	for _, key := range spec.Keys() {
		if key == "$" {
			if include {
				return nil, merr.NotImplemented("positional projection")
			}
			return nil, merr.OperationFailuref("cannot exclude array elements with the positional operator")
		}
		v, inDoc := doc.Get(key)
		if !inDoc {
			continue
		}
		specVal, _ := spec.Get(key)
		if sub, ok := specVal.(*document.Doc); ok {
			switch node := v.(type) {
			case []any:
				projected := make([]any, 0, len(node))
				for _, elem := range node {
					elemDoc, isDoc := elem.(*document.Doc)
					if !isDoc {
						if !include {
							projected = append(projected, document.CloneValue(elem))
						}
						continue
					}
					p, err := projectBySpec(elemDoc, sub, include)
					if err != nil {
						return nil, err
					}
					projected = append(projected, p)
				}
				out.Set(key, projected)
			case *document.Doc:
				p, err := projectBySpec(node, sub, include)
				if err != nil {
					return nil, err
				}
				out.Set(key, p)
			}
			continue
		}
		if include {
			out.Set(key, document.CloneValue(v))
		} else {
			out.Delete(key)
		}
	}
	return out, nil
}

// applyOperators runs the $elemMatch projections kept aside during
// normalization: keep the first matching array element, or drop the field.
func applyOperators(ops *document.Doc, doc, out *document.Doc) error {
	for _, field := range ops.Keys() {
		opAny, _ := ops.Get(field)
		op := opAny.(*document.Doc)
		if !out.Has(field) {
			orig, ok := doc.Get(field)
			if !ok {
				continue
			}
			out.Set(field, document.CloneValue(orig))
		}
		cond, hasElemMatch := op.Get("$elemMatch")
		if !hasElemMatch {
			continue
		}
		condDoc, ok := cond.(*document.Doc)
		if !ok {
			return merr.Validationf("$elemMatch projection requires a document")
		}
		v, _ := out.Get(field)
		arr, isArr := v.([]any)
		if !isArr {
			out.Delete(field)
			continue
		}
		matched := false
		for _, elem := range arr {
			ok, err := filter.ElemMatches(condDoc, elem)
			if err != nil {
				return err
			}
			if ok {
				out.Set(field, []any{elem})
				matched = true
				break
			}
		}
		if !matched {
			out.Delete(field)
		}
	}
	return nil
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
