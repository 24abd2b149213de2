package document

import (
	"bytes"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Type brackets in BSON comparison order. Values of different brackets sort
// by bracket; values in the same bracket compare by value.
const (
	bracketMinKey = iota
	bracketNull
	bracketNumber
	bracketString
	bracketDocument
	bracketArray
	bracketBinary
	bracketObjectID
	bracketBool
	bracketDate
	bracketTimestamp
	bracketRegex
	bracketMaxKey
	bracketOther
)

func bracketOf(v any) int {
	switch v.(type) {
	case nil:
		return bracketNull
	case bson.MinKey:
		return bracketMinKey
	case bson.MaxKey:
		return bracketMaxKey
	case int32, int64, float64, bson.Decimal128:
		return bracketNumber
	case string:
		return bracketString
	case *Doc:
		return bracketDocument
	case []any:
		return bracketArray
	case bson.Binary:
		return bracketBinary
	case bson.ObjectID:
		return bracketObjectID
	case bool:
		return bracketBool
	case bson.DateTime:
		return bracketDate
	case bson.Timestamp:
		return bracketTimestamp
	case bson.Regex:
		return bracketRegex
	default:
		return bracketOther
	}
}

// SameBracket reports whether two values share a comparison type bracket.
func SameBracket(a, b any) bool {
	return bracketOf(a) == bracketOf(b)
}

// IsNumber reports whether v is a numeric value.
func IsNumber(v any) bool {
	return bracketOf(v) == bracketNumber
}

// AsFloat converts a numeric value to float64.
func AsFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case bson.Decimal128:
		f, err := strconv.ParseFloat(t.String(), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// AddNumbers adds two numeric values, keeping integer arithmetic when both
// operands are integers.
func AddNumbers(a, b any) any {
	ai, aInt := asInt(a)
	bi, bInt := asInt(b)
	if aInt && bInt {
		return ai + bi
	}
	af, _ := AsFloat(a)
	bf, _ := AsFloat(b)
	return af + bf
}

func asInt(v any) (int64, bool) {
	switch t := v.(type) {
	case int32:
		return int64(t), true
	case int64:
		return t, true
	default:
		return 0, false
	}
}

// Compare orders two internal values using the BSON type brackets. Within
// the same bracket values compare naturally; across brackets the bracket
// decides.
func Compare(a, b any) int {
	ba, bb := bracketOf(a), bracketOf(b)
	if ba != bb {
		if ba < bb {
			return -1
		}
		return 1
	}
	switch ba {
	case bracketNull, bracketMinKey, bracketMaxKey:
		return 0
	case bracketNumber:
		af, _ := AsFloat(a)
		bf, _ := AsFloat(b)
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	case bracketString:
		return strings.Compare(a.(string), b.(string))
	case bracketDocument:
		return compareDocs(a.(*Doc), b.(*Doc))
	case bracketArray:
		return compareArrays(a.([]any), b.([]any))
	case bracketBinary:
		x, y := a.(bson.Binary), b.(bson.Binary)
		if x.Subtype != y.Subtype {
			if x.Subtype < y.Subtype {
				return -1
			}
			return 1
		}
		return bytes.Compare(x.Data, y.Data)
	case bracketObjectID:
		x, y := a.(bson.ObjectID), b.(bson.ObjectID)
		return bytes.Compare(x[:], y[:])
	case bracketBool:
		x, y := a.(bool), b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case bracketDate:
		x, y := int64(a.(bson.DateTime)), int64(b.(bson.DateTime))
		return compareInt64(x, y)
	case bracketTimestamp:
		x, y := a.(bson.Timestamp), b.(bson.Timestamp)
		if x.T != y.T {
			return compareInt64(int64(x.T), int64(y.T))
		}
		return compareInt64(int64(x.I), int64(y.I))
	case bracketRegex:
		x, y := a.(bson.Regex), b.(bson.Regex)
		if c := strings.Compare(x.Pattern, y.Pattern); c != 0 {
			return c
		}
		return strings.Compare(x.Options, y.Options)
	default:
		return 0
	}
}

func compareInt64(x, y int64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func compareDocs(a, b *Doc) int {
	ak, bk := a.keys, b.keys
	n := len(ak)
	if len(bk) < n {
		n = len(bk)
	}
	for i := 0; i < n; i++ {
		if c := strings.Compare(ak[i], bk[i]); c != 0 {
			return c
		}
		av, _ := a.Get(ak[i])
		bv, _ := b.Get(bk[i])
		if c := Compare(av, bv); c != 0 {
			return c
		}
	}
	return compareInt64(int64(len(ak)), int64(len(bk)))
}

func compareArrays(a, b []any) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return compareInt64(int64(len(a)), int64(len(b)))
}

// Equal reports deep equality under MongoDB semantics: numeric values of
// different widths compare equal, documents compare field order sensitive,
// everything else must match bracket and value.
func Equal(a, b any) bool {
	ba, bb := bracketOf(a), bracketOf(b)
	if ba != bb {
		return false
	}
	return Compare(a, b) == 0
}

// ArrayContains reports whether arr holds an element deeply equal to v.
func ArrayContains(arr []any, v any) bool {
	for _, e := range arr {
		if Equal(e, v) {
			return true
		}
	}
	return false
}

// CanonicalKey renders a value as a canonical string so it can serve as a
// map key: document-valued _id values and unique-index tuples use it.
// Numeric values of different widths render identically so 1, int64(1) and
// 1.0 collide the way they do on a real server.
func CanonicalKey(v any) string {
	var sb strings.Builder
	writeCanonical(&sb, v)
	return sb.String()
}

func writeCanonical(sb *strings.Builder, v any) {
	switch t := v.(type) {
	case nil:
		sb.WriteString("z")
	case int32, int64, float64, bson.Decimal128:
		f, _ := AsFloat(v)
		sb.WriteString("n:")
		sb.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	case string:
		sb.WriteString("s:")
		sb.WriteString(strconv.Quote(t))
	case bool:
		sb.WriteString("b:")
		sb.WriteString(strconv.FormatBool(t))
	case bson.ObjectID:
		sb.WriteString("o:")
		sb.WriteString(t.Hex())
	case bson.DateTime:
		sb.WriteString("d:")
		sb.WriteString(strconv.FormatInt(int64(t), 10))
	case bson.Timestamp:
		sb.WriteString("t:")
		sb.WriteString(strconv.FormatUint(uint64(t.T), 10))
		sb.WriteByte('.')
		sb.WriteString(strconv.FormatUint(uint64(t.I), 10))
	case bson.Binary:
		sb.WriteString("x:")
		sb.WriteString(strconv.Itoa(int(t.Subtype)))
		sb.WriteByte(':')
		sb.Write(t.Data)
	case bson.Regex:
		sb.WriteString("r:")
		sb.WriteString(strconv.Quote(t.Pattern))
		sb.WriteString(strconv.Quote(t.Options))
	case *Doc:
		sb.WriteString("{")
		for _, k := range t.keys {
			sb.WriteString(strconv.Quote(k))
			sb.WriteByte('=')
			val, _ := t.Get(k)
			writeCanonical(sb, val)
			sb.WriteByte(',')
		}
		sb.WriteString("}")
	case []any:
		sb.WriteString("[")
		for _, e := range t {
			writeCanonical(sb, e)
			sb.WriteByte(',')
		}
		sb.WriteString("]")
	default:
		sb.WriteString("?:")
		sb.WriteString(strconv.Quote(strconv.FormatInt(int64(bracketOf(v)), 10)))
	}
}
