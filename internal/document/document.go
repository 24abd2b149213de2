// Package document implements the value model shared by the whole engine: an
// insertion-ordered document type, deep copy and equality, the BSON
// type-bracket comparison used for sorting, canonical keys for _id and
// unique-index tuples, and dotted-path accessors.
package document

import (
	"sort"
	"time"

	"github.com/mimongo/mimongo/merr"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Doc is an insertion-ordered mapping from field name to value. Values are
// scalars, []any for arrays, or nested *Doc.
type Doc struct {
	keys   []string
	fields map[string]any
}

// New returns an empty document.
func New() *Doc {
	return &Doc{fields: map[string]any{}}
}

// Len returns the number of fields.
func (d *Doc) Len() int {
	return len(d.keys)
}

// Keys returns the field names in insertion order.
func (d *Doc) Keys() []string {
	out := make([]string, len(d.keys))
	copy(out, d.keys)
	return out
}

// Get returns the value stored under key.
func (d *Doc) Get(key string) (any, bool) {
	v, ok := d.fields[key]
	return v, ok
}

// GetOr returns the value stored under key, or fallback if absent.
func (d *Doc) GetOr(key string, fallback any) any {
	if v, ok := d.fields[key]; ok {
		return v
	}
	return fallback
}

// Has reports whether key is present.
func (d *Doc) Has(key string) bool {
	_, ok := d.fields[key]
	return ok
}

// Set stores value under key, appending the key if it is new.
func (d *Doc) Set(key string, value any) {
	if _, ok := d.fields[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.fields[key] = value
}

// Delete removes key and reports whether it was present.
func (d *Doc) Delete(key string) bool {
	if _, ok := d.fields[key]; !ok {
		return false
	}
	delete(d.fields, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
	return true
}

// Clear removes every field.
func (d *Doc) Clear() {
	d.keys = d.keys[:0]
	d.fields = map[string]any{}
}

// Clone returns a deep copy.
func (d *Doc) Clone() *Doc {
	out := New()
	for _, k := range d.keys {
		out.Set(k, CloneValue(d.fields[k]))
	}
	return out
}

// CloneValue deep-copies an internalized value.
func CloneValue(v any) any {
	switch t := v.(type) {
	case *Doc:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CloneValue(e)
		}
		return out
	case bson.Binary:
		data := make([]byte, len(t.Data))
		copy(data, t.Data)
		return bson.Binary{Subtype: t.Subtype, Data: data}
	default:
		return v
	}
}

// FromAny internalizes a caller-supplied document. bson.D keeps its field
// order; map forms are normalized with sorted keys so results stay
// deterministic.
func FromAny(v any) (*Doc, error) {
	switch t := v.(type) {
	case nil:
		return nil, merr.Validationf("document must be a non-nil mapping")
	case *Doc:
		return t, nil
	case bson.D:
		out := New()
		for _, e := range t {
			out.Set(e.Key, Internalize(e.Value))
		}
		return out, nil
	case bson.M:
		return fromMap(map[string]any(t)), nil
	case map[string]any:
		return fromMap(t), nil
	default:
		return nil, merr.Validationf("%T is not a document; use bson.D, bson.M or map[string]any", v)
	}
}

func fromMap(m map[string]any) *Doc {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := New()
	for _, k := range keys {
		out.Set(k, Internalize(m[k]))
	}
	return out
}

// Internalize converts a caller-supplied value into the internal
// representation: documents become *Doc, sequences become []any, time.Time
// becomes bson.DateTime.
func Internalize(v any) any {
	switch t := v.(type) {
	case bson.D, bson.M, map[string]any:
		d, _ := FromAny(t)
		return d
	case *Doc:
		return t
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Internalize(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Internalize(e)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out
	case time.Time:
		return bson.DateTime(t.UnixMilli())
	case int:
		return int64(t)
	default:
		return v
	}
}

// Externalize converts an internal value back to driver types: *Doc becomes
// bson.D and []any becomes bson.A.
func Externalize(v any) any {
	switch t := v.(type) {
	case *Doc:
		return t.ToBSON()
	case []any:
		out := make(bson.A, len(t))
		for i, e := range t {
			out[i] = Externalize(e)
		}
		return out
	default:
		return v
	}
}

// ToBSON converts the document to a bson.D, preserving field order.
func (d *Doc) ToBSON() bson.D {
	out := make(bson.D, 0, len(d.keys))
	for _, k := range d.keys {
		out = append(out, bson.E{Key: k, Value: Externalize(d.fields[k])})
	}
	return out
}
