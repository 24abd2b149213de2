package mimongo

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bytebase/parser/mongodb"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// unquoteString removes quotes from a string literal.
func unquoteString(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// convertValue converts a parsed value context to a Go value for BSON.
func convertValue(ctx mongodb.IValueContext) (any, error) {
	switch v := ctx.(type) {
	case *mongodb.DocumentValueContext:
		return convertDocument(v.Document())
	case *mongodb.ArrayValueContext:
		return convertArray(v.Array())
	case *mongodb.LiteralValueContext:
		return convertLiteral(v.Literal())
	case *mongodb.HelperValueContext:
		return convertHelperFunction(v.HelperFunction())
	case *mongodb.RegexLiteralValueContext:
		return convertRegexLiteral(v.REGEX_LITERAL().GetText())
	case *mongodb.RegexpConstructorValueContext:
		return convertRegExpConstructor(v.RegExpConstructor())
	default:
		return nil, fmt.Errorf("unsupported value type: %T", ctx)
	}
}

// convertDocument converts a document context to bson.D.
func convertDocument(ctx mongodb.IDocumentContext) (bson.D, error) {
	doc, ok := ctx.(*mongodb.DocumentContext)
	if !ok {
		return nil, fmt.Errorf("invalid document context")
	}
	result := bson.D{}
	for _, pair := range doc.AllPair() {
		pairCtx, ok := pair.(*mongodb.PairContext)
		if !ok {
			return nil, fmt.Errorf("invalid pair context")
		}
		key := extractKey(pairCtx.Key())
		value, err := convertValue(pairCtx.Value())
		if err != nil {
			return nil, fmt.Errorf("error converting value for key %q: %w", key, err)
		}
		result = append(result, bson.E{Key: key, Value: value})
	}
	return result, nil
}

// extractKey extracts the key string from a key context.
func extractKey(ctx mongodb.IKeyContext) string {
	switch k := ctx.(type) {
	case *mongodb.UnquotedKeyContext:
		return k.Identifier().GetText()
	case *mongodb.QuotedKeyContext:
		return unquoteString(k.StringLiteral().GetText())
	default:
		return ""
	}
}

// convertArray converts an array context to bson.A.
func convertArray(ctx mongodb.IArrayContext) (bson.A, error) {
	arr, ok := ctx.(*mongodb.ArrayContext)
	if !ok {
		return nil, fmt.Errorf("invalid array context")
	}
	result := bson.A{}
	for _, val := range arr.AllValue() {
		v, err := convertValue(val)
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, nil
}

// convertLiteral converts a literal context to a Go value.
func convertLiteral(ctx mongodb.ILiteralContext) (any, error) {
	switch l := ctx.(type) {
	case *mongodb.NumberLiteralContext:
		return parseNumber(l.NUMBER().GetText())
	case *mongodb.StringLiteralValueContext:
		return unquoteString(l.StringLiteral().GetText()), nil
	case *mongodb.TrueLiteralContext:
		return true, nil
	case *mongodb.FalseLiteralContext:
		return false, nil
	case *mongodb.NullLiteralContext:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported literal type: %T", ctx)
	}
}

// parseNumber parses a number string to int32, int64, or float64.
func parseNumber(s string) (any, error) {
	if strings.ContainsAny(s, ".eE") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number: %s", s)
		}
		return f, nil
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number: %s", s)
	}
	if i >= -2147483648 && i <= 2147483647 {
		return int32(i), nil
	}
	return i, nil
}

// convertHelperFunction converts a shell helper call to a BSON value.
func convertHelperFunction(ctx mongodb.IHelperFunctionContext) (any, error) {
	helper, ok := ctx.(*mongodb.HelperFunctionContext)
	if !ok {
		return nil, fmt.Errorf("invalid helper function context")
	}
	switch {
	case helper.ObjectIdHelper() != nil:
		return convertObjectIdHelper(helper.ObjectIdHelper())
	case helper.IsoDateHelper() != nil:
		return convertIsoDateHelper(helper.IsoDateHelper())
	case helper.DateHelper() != nil:
		return convertDateHelper(helper.DateHelper())
	case helper.UuidHelper() != nil:
		return convertUuidHelper(helper.UuidHelper())
	case helper.LongHelper() != nil:
		return convertLongHelper(helper.LongHelper())
	case helper.Int32Helper() != nil:
		return convertInt32Helper(helper.Int32Helper())
	case helper.DoubleHelper() != nil:
		return convertDoubleHelper(helper.DoubleHelper())
	case helper.Decimal128Helper() != nil:
		return convertDecimal128Helper(helper.Decimal128Helper())
	case helper.TimestampHelper() != nil:
		return convertTimestampHelper(helper.TimestampHelper())
	default:
		return nil, fmt.Errorf("unsupported helper function")
	}
}

// convertObjectIdHelper converts ObjectId("hex") to bson.ObjectID.
func convertObjectIdHelper(ctx mongodb.IObjectIdHelperContext) (bson.ObjectID, error) {
	helper, ok := ctx.(*mongodb.ObjectIdHelperContext)
	if !ok {
		return bson.ObjectID{}, fmt.Errorf("invalid ObjectId helper context")
	}
	if helper.StringLiteral() == nil {
		return bson.NewObjectID(), nil
	}
	hexStr := unquoteString(helper.StringLiteral().GetText())
	if len(hexStr) != 24 {
		return bson.ObjectID{}, fmt.Errorf("invalid ObjectId: %q is not a valid 24-character hex string", hexStr)
	}
	bytes, err := hex.DecodeString(hexStr)
	if err != nil {
		return bson.ObjectID{}, fmt.Errorf("invalid ObjectId: %q is not valid hex", hexStr)
	}
	var oid bson.ObjectID
	copy(oid[:], bytes)
	return oid, nil
}

// convertIsoDateHelper converts ISODate("iso-string") to bson.DateTime.
func convertIsoDateHelper(ctx mongodb.IIsoDateHelperContext) (bson.DateTime, error) {
	helper, ok := ctx.(*mongodb.IsoDateHelperContext)
	if !ok {
		return 0, fmt.Errorf("invalid ISODate helper context")
	}
	if helper.StringLiteral() == nil {
		return bson.DateTime(time.Now().UnixMilli()), nil
	}
	return parseDateTime(unquoteString(helper.StringLiteral().GetText()))
}

// convertDateHelper converts new Date() or Date() to bson.DateTime or string.
func convertDateHelper(ctx mongodb.IDateHelperContext) (any, error) {
	helper, ok := ctx.(*mongodb.DateHelperContext)
	if !ok {
		return nil, fmt.Errorf("invalid Date helper context")
	}
	// The grammar rejects "new Date()" upstream (unsupported 'new' keyword), so this
	// context is only ever reached for bare "Date()" calls.
	hasNew := false
	if helper.StringLiteral() == nil {
		if hasNew {
			return bson.DateTime(time.Now().UnixMilli()), nil
		}
		return time.Now().Format(time.RFC3339), nil
	}
	dateStr := unquoteString(helper.StringLiteral().GetText())
	if hasNew {
		return parseDateTime(dateStr)
	}
	return dateStr, nil
}

// parseDateTime parses the common shell date formats to bson.DateTime.
func parseDateTime(s string) (bson.DateTime, error) {
	formats := []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02T15:04:05.000Z",
		"2006-01-02T15:04:05Z",
		"2006-01-02",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return bson.DateTime(t.UnixMilli()), nil
		}
	}
	return 0, fmt.Errorf("invalid date format: %s", s)
}

// convertUuidHelper converts UUID("uuid-string") to bson.Binary subtype 4.
func convertUuidHelper(ctx mongodb.IUuidHelperContext) (bson.Binary, error) {
	helper, ok := ctx.(*mongodb.UuidHelperContext)
	if !ok {
		return bson.Binary{}, fmt.Errorf("invalid UUID helper context")
	}
	if helper.StringLiteral() == nil {
		return bson.Binary{}, fmt.Errorf("UUID requires a string argument")
	}
	parsed, err := uuid.Parse(unquoteString(helper.StringLiteral().GetText()))
	if err != nil {
		return bson.Binary{}, fmt.Errorf("invalid UUID: %w", err)
	}
	return bson.Binary{Subtype: bson.TypeBinaryUUID, Data: parsed[:]}, nil
}

// convertLongHelper converts Long(123) or NumberLong("123") to int64.
func convertLongHelper(ctx mongodb.ILongHelperContext) (int64, error) {
	helper, ok := ctx.(*mongodb.LongHelperContext)
	if !ok {
		return 0, fmt.Errorf("invalid Long helper context")
	}
	var numStr string
	if helper.NUMBER() != nil {
		numStr = helper.NUMBER().GetText()
	} else if helper.StringLiteral() != nil {
		numStr = unquoteString(helper.StringLiteral().GetText())
	} else {
		return 0, nil
	}
	return strconv.ParseInt(numStr, 10, 64)
}

// convertInt32Helper converts Int32(123) or NumberInt(123) to int32.
func convertInt32Helper(ctx mongodb.IInt32HelperContext) (int32, error) {
	helper, ok := ctx.(*mongodb.Int32HelperContext)
	if !ok {
		return 0, fmt.Errorf("invalid Int32 helper context")
	}
	if helper.NUMBER() == nil {
		return 0, nil
	}
	i, err := strconv.ParseInt(helper.NUMBER().GetText(), 10, 32)
	if err != nil {
		return 0, err
	}
	return int32(i), nil
}

// convertDoubleHelper converts Double(1.5) to float64.
func convertDoubleHelper(ctx mongodb.IDoubleHelperContext) (float64, error) {
	helper, ok := ctx.(*mongodb.DoubleHelperContext)
	if !ok {
		return 0, fmt.Errorf("invalid Double helper context")
	}
	if helper.NUMBER() == nil {
		return 0, nil
	}
	return strconv.ParseFloat(helper.NUMBER().GetText(), 64)
}

// convertDecimal128Helper converts Decimal128("123.45") to bson.Decimal128.
func convertDecimal128Helper(ctx mongodb.IDecimal128HelperContext) (bson.Decimal128, error) {
	helper, ok := ctx.(*mongodb.Decimal128HelperContext)
	if !ok {
		return bson.Decimal128{}, fmt.Errorf("invalid Decimal128 helper context")
	}
	if helper.StringLiteral() == nil {
		return bson.Decimal128{}, fmt.Errorf("Decimal128 requires a string argument")
	}
	d, err := bson.ParseDecimal128(unquoteString(helper.StringLiteral().GetText()))
	if err != nil {
		return bson.Decimal128{}, fmt.Errorf("invalid Decimal128: %w", err)
	}
	return d, nil
}

// convertTimestampHelper converts Timestamp(t, i) to bson.Timestamp.
func convertTimestampHelper(ctx mongodb.ITimestampHelperContext) (bson.Timestamp, error) {
	switch h := ctx.(type) {
	case *mongodb.TimestampArgsHelperContext:
		numbers := h.AllNUMBER()
		if len(numbers) < 2 {
			return bson.Timestamp{}, fmt.Errorf("timestamp requires t and i arguments")
		}
		t, err := strconv.ParseUint(numbers[0].GetText(), 10, 32)
		if err != nil {
			return bson.Timestamp{}, fmt.Errorf("invalid Timestamp t value: %w", err)
		}
		i, err := strconv.ParseUint(numbers[1].GetText(), 10, 32)
		if err != nil {
			return bson.Timestamp{}, fmt.Errorf("invalid Timestamp i value: %w", err)
		}
		return bson.Timestamp{T: uint32(t), I: uint32(i)}, nil
	case *mongodb.TimestampDocHelperContext:
		doc, err := convertDocument(h.Document())
		if err != nil {
			return bson.Timestamp{}, fmt.Errorf("invalid Timestamp document: %w", err)
		}
		var t, i uint32
		for _, elem := range doc {
			n, ok := int64Value(elem.Value)
			if !ok {
				continue
			}
			switch elem.Key {
			case "t":
				t = uint32(n)
			case "i":
				i = uint32(n)
			}
		}
		return bson.Timestamp{T: t, I: i}, nil
	default:
		return bson.Timestamp{}, fmt.Errorf("unsupported Timestamp helper type: %T", ctx)
	}
}

// convertRegexLiteral converts /pattern/flags to bson.Regex.
func convertRegexLiteral(text string) (bson.Regex, error) {
	if len(text) < 2 || text[0] != '/' {
		return bson.Regex{}, fmt.Errorf("invalid regex literal: %s", text)
	}
	lastSlash := strings.LastIndex(text, "/")
	if lastSlash <= 0 {
		return bson.Regex{}, fmt.Errorf("invalid regex literal: %s", text)
	}
	pattern := text[1:lastSlash]
	options := ""
	if lastSlash < len(text)-1 {
		options = text[lastSlash+1:]
	}
	return bson.Regex{Pattern: pattern, Options: options}, nil
}

// convertRegExpConstructor converts RegExp("pattern", "flags") to bson.Regex.
func convertRegExpConstructor(ctx mongodb.IRegExpConstructorContext) (bson.Regex, error) {
	constructor, ok := ctx.(*mongodb.RegExpConstructorContext)
	if !ok {
		return bson.Regex{}, fmt.Errorf("invalid RegExp constructor context")
	}
	literals := constructor.AllStringLiteral()
	if len(literals) == 0 {
		return bson.Regex{}, fmt.Errorf("RegExp requires at least a pattern argument")
	}
	pattern := unquoteString(literals[0].GetText())
	options := ""
	if len(literals) > 1 {
		options = unquoteString(literals[1].GetText())
	}
	return bson.Regex{Pattern: pattern, Options: options}, nil
}
