// Package update applies MongoDB update documents (operator mode or full
// replacement) to a stored document, including positional $ resolution
// against the originating query.
package update

import (
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mimongo/mimongo/internal/document"
	"github.com/mimongo/mimongo/internal/filter"
	"github.com/mimongo/mimongo/merr"
)

// updater writes one field of a subdocument. The $set-shaped operators all
// share the same path traversal and differ only in their leaf writer; $unset
// additionally short-circuits on missing parents.
type updater struct {
	unset bool
	write func(doc *document.Doc, field string, value any) error
}

// updaters maps the $set-shaped operators to their field writers.
var updaters = map[string]updater{
	"$set":   setUpdater,
	"$unset": unsetUpdater,
	"$inc":   incUpdater,
	"$max":   maxUpdater,
	"$min":   minUpdater,
}

// now is stubbed in tests.
var now = func() bson.DateTime {
	return bson.DateTime(time.Now().UnixMilli())
}

// Resolver carries the query used for positional $ resolution and caches the
// resolved subdocument so every operator of one update call sees the same
// array element.
type Resolver struct {
	Query *document.Doc
	sub   any
}

// NewResolver returns a resolver for one update call.
func NewResolver(query *document.Doc) *Resolver {
	return &Resolver{Query: query}
}

// Apply applies one update document to existing, in place. The mode is
// decided by the first key: operator mode when it starts with $, full
// replacement otherwise. wasInsert enables $setOnInsert.
func Apply(existing *document.Doc, updateDoc *document.Doc, res *Resolver, wasInsert bool) error {
	if updateDoc.Len() == 0 {
		clearExceptID(existing, res.Query)
		return nil
	}

	first := updateDoc.Keys()[0]
	if !strings.HasPrefix(first, "$") {
		return applyReplacement(existing, updateDoc, res.Query)
	}

	for _, op := range updateDoc.Keys() {
		argAny, _ := updateDoc.Get(op)
		arg, ok := argAny.(*document.Doc)
		if !ok {
			return &merr.WriteError{Message: "modifier " + op + " expects a document argument"}
		}
		var err error
		switch {
		case updaters[op].write != nil:
			err = applyFields(existing, arg, res, updaters[op])
		case op == "$setOnInsert":
			if wasInsert {
				err = applyFields(existing, arg, res, setUpdater)
			}
		case op == "$currentDate":
			err = applyCurrentDate(existing, arg, res)
		case op == "$rename":
			err = applyRename(existing, arg)
		case op == "$addToSet":
			err = applyAddToSet(existing, arg)
		case op == "$push":
			err = applyPush(existing, arg, res)
		case op == "$pull":
			err = applyPull(existing, arg, res)
		case op == "$pullAll":
			err = applyPullAll(existing, arg, res)
		case op == "$sum":
			// $sum is an aggregation accumulator, never an update operator.
			err = &merr.WriteError{Message: "unknown modifier: $sum"}
		default:
			err = &merr.WriteError{Message: "unknown modifier: " + op}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ValidateOperatorUpdate checks the shape required by update_one and
// update_many: a non-empty document whose keys are all operators.
func ValidateOperatorUpdate(updateDoc *document.Doc) error {
	if updateDoc.Len() == 0 {
		return merr.Validationf("update only works with $ operators")
	}
	if !strings.HasPrefix(updateDoc.Keys()[0], "$") {
		return merr.Validationf("update only works with $ operators")
	}
	for _, k := range updateDoc.Keys() {
		if !strings.HasPrefix(k, "$") {
			return merr.Validationf("update cannot mix $ operators with plain fields: %s", k)
		}
	}
	return nil
}

// ValidateReplacement checks the shape required by replace_one: no key may
// be an operator.
func ValidateReplacement(replacement *document.Doc) error {
	for _, k := range replacement.Keys() {
		if strings.HasPrefix(k, "$") {
			return merr.Validationf("replacement can not include $ operators")
		}
	}
	return nil
}

func applyReplacement(existing *document.Doc, replacement *document.Doc, query *document.Doc) error {
	for _, k := range replacement.Keys() {
		if strings.HasPrefix(k, "$") {
			return merr.Validationf("field names cannot start with $ [%s]", k)
		}
	}
	var oldID any
	if query != nil {
		if id, ok := query.Get("_id"); ok {
			oldID = id
		}
	}
	if oldID == nil {
		oldID, _ = existing.Get("_id")
	}
	existing.Clear()
	if oldID != nil {
		existing.Set("_id", oldID)
	}
	for _, k := range replacement.Keys() {
		v, _ := replacement.Get(k)
		existing.Set(k, document.CloneValue(v))
	}
	newID, _ := existing.Get("_id")
	if oldID != nil && !document.Equal(newID, oldID) {
		return merr.OperationFailuref("the _id field cannot be changed from %v to %v", oldID, newID)
	}
	return nil
}

func clearExceptID(existing *document.Doc, query *document.Doc) {
	var id any
	if query != nil {
		if v, ok := query.Get("_id"); ok {
			id = v
		}
	}
	if id == nil {
		id, _ = existing.Get("_id")
	}
	existing.Clear()
	if id != nil {
		existing.Set("_id", id)
	}
}

// applyFields routes a {field: value} batch through the positional walker
// when any field path contains a $ component.
func applyFields(existing *document.Doc, fields *document.Doc, res *Resolver, u updater) error {
	positional := false
	for _, k := range fields.Keys() {
		if strings.Contains(k, "$") {
			positional = true
			break
		}
	}
	if positional {
		return applyFieldsPositional(existing, fields, res, u)
	}
	for _, k := range fields.Keys() {
		v, _ := fields.Get(k)
		if err := applySingleField(existing, k, v, u); err != nil {
			return err
		}
	}
	return nil
}

// applySingleField walks a dotted path, creating missing intermediate
// documents for $set-like operators and indexing arrays by integer
// components, then applies the updater at the leaf.
func applySingleField(doc *document.Doc, fieldName string, value any, u updater) error {
	parts := strings.Split(fieldName, ".")
	var node any = doc
	for _, part := range parts[:len(parts)-1] {
		switch t := node.(type) {
		case []any:
			if part == "$" {
				if len(t) == 0 {
					return nil
				}
				node = t[0]
				continue
			}
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(t) {
				return nil
			}
			node = t[idx]
		case *document.Doc:
			if u.unset && !t.Has(part) {
				// The parent does not exist, so neither does the child.
				return nil
			}
			child, ok := t.Get(part)
			if !ok {
				child = document.New()
				t.Set(part, child)
			}
			node = child
		default:
			return nil
		}
	}

	leaf := parts[len(parts)-1]
	if arr, ok := node.([]any); ok {
		idx, err := strconv.Atoi(leaf)
		if err != nil || idx < 0 || idx >= len(arr) {
			return nil
		}
		arr[idx] = document.Internalize(value)
		return nil
	}
	if nodeDoc, ok := node.(*document.Doc); ok {
		return u.write(nodeDoc, leaf, value)
	}
	return nil
}

// applyFieldsPositional resolves $ components against the query, caching
// the matched subdocument on the resolver.
func applyFieldsPositional(existing *document.Doc, fields *document.Doc, res *Resolver, u updater) error {
	for _, k := range fields.Keys() {
		v, _ := fields.Get(k)
		if !strings.Contains(k, "$") {
			if err := applySingleField(existing, k, v, u); err != nil {
				return err
			}
			continue
		}

		parts := strings.Split(k, ".")
		if res.sub == nil {
			var current any = existing
			subspec := res.Query
			replaced := false
			for _, part := range parts[:len(parts)-1] {
				if part == "$" {
					if em, ok := subspec.Get("$elemMatch"); ok {
						if emDoc, isDoc := em.(*document.Doc); isDoc {
							subspec = emDoc
						}
					}
					arr, isArr := current.([]any)
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
							return err
						}
						if matched {
							current = item
							break
						}
					}
					continue
				}

				subspec = narrowSpec(subspec, part)
				node, ok := descend(current, part)
				if !ok {
					return nil
				}
				current = node
			}

			res.sub = current
			if parts[len(parts)-1] == "$" {
				if arr, isArr := current.([]any); isArr {
					for i, item := range arr {
						itemDoc, isDoc := item.(*document.Doc)
						if !isDoc {
							continue
						}
						matched, err := filter.Applies(subspec, itemDoc)
						if err != nil {
							return err
						}
						if matched {
							arr[i] = document.Internalize(v)
							break
						}
					}
					replaced = true
				}
			}
			if replaced {
				continue
			}
		}
		subDoc, ok := res.sub.(*document.Doc)
		if !ok {
			continue
		}
		if err := u.write(subDoc, parts[len(parts)-1], v); err != nil {
			return err
		}
	}
	return nil
}

// narrowSpec projects the query clauses that constrain one path component,
// stripping the component prefix from dotted keys.
func narrowSpec(spec *document.Doc, part string) *document.Doc {
	out := document.New()
	for _, el := range spec.Keys() {
		if !strings.HasPrefix(el, part) {
			continue
		}
		v, _ := spec.Get(el)
		if el == part {
			if sub, ok := v.(*document.Doc); ok {
				return sub
			}
			continue
		}
		if strings.HasPrefix(el, part+".") {
			out.Set(strings.TrimPrefix(el, part+"."), v)
		}
	}
	return out
}

func descend(node any, part string) (any, bool) {
	switch t := node.(type) {
	case *document.Doc:
		return t.Get(part)
	case []any:
		idx, err := strconv.Atoi(part)
		if err != nil || idx < 0 || idx >= len(t) {
			return nil, false
		}
		return t[idx], true
	default:
		return nil, false
	}
}
