package document

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestFromAnyPreservesBsonDOrder(t *testing.T) {
	doc, err := FromAny(bson.D{
		{Key: "z", Value: int32(1)},
		{Key: "a", Value: int32(2)},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"z", "a"}, doc.Keys())
}

func TestFromAnySortsMapKeys(t *testing.T) {
	doc, err := FromAny(bson.M{"b": int32(1), "a": int32(2), "c": int32(3)})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, doc.Keys())
}

func TestFromAnyRejectsNonDocuments(t *testing.T) {
	_, err := FromAny("nope")
	require.Error(t, err)
	_, err = FromAny(nil)
	require.Error(t, err)
}

func TestSetPreservesInsertionOrder(t *testing.T) {
	doc := New()
	doc.Set("b", int32(1))
	doc.Set("a", int32(2))
	doc.Set("b", int32(3))
	require.Equal(t, []string{"b", "a"}, doc.Keys())
	require.Equal(t, int32(3), doc.GetOr("b", nil))
}

func TestCloneIsDeep(t *testing.T) {
	doc, err := FromAny(bson.D{
		{Key: "nested", Value: bson.D{{Key: "x", Value: int32(1)}}},
		{Key: "arr", Value: bson.A{int32(1)}},
	})
	require.NoError(t, err)

	clone := doc.Clone()
	nested, _ := clone.Get("nested")
	nested.(*Doc).Set("x", int32(9))
	arr, _ := clone.Get("arr")
	arr.([]any)[0] = int32(9)

	origNested, _ := doc.Get("nested")
	require.Equal(t, int32(1), origNested.(*Doc).GetOr("x", nil))
	origArr, _ := doc.Get("arr")
	require.Equal(t, int32(1), origArr.([]any)[0])
}

func TestRoundTripToBSON(t *testing.T) {
	in := bson.D{
		{Key: "s", Value: "str"},
		{Key: "n", Value: int32(1)},
		{Key: "nested", Value: bson.D{{Key: "k", Value: bson.A{int32(1), "two"}}}},
	}
	doc, err := FromAny(in)
	require.NoError(t, err)
	require.Equal(t, in, doc.ToBSON())
}

func TestCompareNumericCrossWidth(t *testing.T) {
	require.Equal(t, 0, Compare(int32(1), float64(1)))
	require.Equal(t, -1, Compare(int32(1), int64(2)))
	require.Equal(t, 1, Compare(float64(2.5), int32(2)))
}

func TestCompareTypeBrackets(t *testing.T) {
	// null < number < string < document < array < objectid < bool < date
	require.Equal(t, -1, Compare(nil, int32(0)))
	require.Equal(t, -1, Compare(int32(5), "a"))
	require.Equal(t, -1, Compare("z", New()))
	require.Equal(t, -1, Compare(New(), []any{}))
	require.Equal(t, -1, Compare(bson.NewObjectID(), true))
	require.Equal(t, -1, Compare(true, bson.DateTime(0)))
}

func TestCompareDocumentsByEntries(t *testing.T) {
	a, _ := FromAny(bson.D{{Key: "x", Value: int32(1)}})
	b, _ := FromAny(bson.D{{Key: "x", Value: int32(2)}})
	c, _ := FromAny(bson.D{{Key: "y", Value: int32(0)}})
	require.Equal(t, -1, Compare(a, b))
	require.Equal(t, -1, Compare(a, c))
	require.Equal(t, 0, Compare(a, a.Clone()))
}

func TestEqualRequiresSameBracket(t *testing.T) {
	require.True(t, Equal(int32(1), float64(1)))
	require.False(t, Equal(int32(1), "1"))
	require.False(t, Equal(nil, int32(0)))
}

func TestCanonicalKeyNumericWidths(t *testing.T) {
	require.Equal(t, CanonicalKey(int32(1)), CanonicalKey(float64(1)))
	require.NotEqual(t, CanonicalKey(int32(1)), CanonicalKey("1"))
}

func TestCanonicalKeyDocuments(t *testing.T) {
	a, _ := FromAny(bson.D{{Key: "k", Value: int32(1)}})
	b, _ := FromAny(bson.D{{Key: "k", Value: int64(1)}})
	c, _ := FromAny(bson.D{{Key: "k", Value: int32(2)}})
	require.Equal(t, CanonicalKey(a), CanonicalKey(b))
	require.NotEqual(t, CanonicalKey(a), CanonicalKey(c))
}

func TestGetPathTraversesArraysByIndex(t *testing.T) {
	doc, _ := FromAny(bson.D{{Key: "a", Value: bson.A{
		bson.D{{Key: "b", Value: int32(7)}},
	}}})

	v, err := GetPath(doc, "a.0.b")
	require.NoError(t, err)
	require.Equal(t, int32(7), v)

	_, err = GetPath(doc, "a.1.b")
	require.ErrorIs(t, err, ErrNoSuchKey)
	_, err = GetPath(doc, "a.x.b")
	require.ErrorIs(t, err, ErrNoSuchKey)
	_, err = GetPath(doc, "a.0.b.c")
	require.ErrorIs(t, err, ErrNoSuchKey)
}

func TestSetPathWritesLeaf(t *testing.T) {
	doc, _ := FromAny(bson.D{{Key: "a", Value: bson.D{{Key: "b", Value: int32(1)}}}})
	require.NoError(t, SetPath(doc, "a.b", int32(2)))
	v, err := GetPath(doc, "a.b")
	require.NoError(t, err)
	require.Equal(t, int32(2), v)

	require.ErrorIs(t, SetPath(doc, "missing.leaf", int32(1)), ErrNoSuchKey)
}

func TestDeletePathRemovesLeaf(t *testing.T) {
	doc, _ := FromAny(bson.D{{Key: "a", Value: bson.D{{Key: "b", Value: int32(1)}}}})
	require.NoError(t, DeletePath(doc, "a.b"))
	_, err := GetPath(doc, "a.b")
	require.ErrorIs(t, err, ErrNoSuchKey)

	require.ErrorIs(t, DeletePath(doc, "a.b"), ErrNoSuchKey)
}
