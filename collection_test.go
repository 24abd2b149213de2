package mimongo_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mimongo/mimongo"
	"github.com/mimongo/mimongo/merr"
)

func newTestCollection(t *testing.T) *mimongo.Collection {
	t.Helper()
	return mimongo.NewClient(mimongo.WithRandSeed(1)).Database("testdb").Collection("things")
}

func TestInsertOneAssignsObjectID(t *testing.T) {
	coll := newTestCollection(t)

	result, err := coll.InsertOne(bson.M{"name": "alice"})
	require.NoError(t, err)
	require.NotNil(t, result.InsertedID)
	_, ok := result.InsertedID.(bson.ObjectID)
	require.True(t, ok, "generated _id should be an ObjectID")

	doc, err := coll.FindOne(bson.M{"_id": result.InsertedID})
	require.NoError(t, err)
	require.NotNil(t, doc)
}

func TestInsertOneRoundTrip(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertOne(bson.D{
		{Key: "_id", Value: int32(1)},
		{Key: "name", Value: "alice"},
		{Key: "tags", Value: bson.A{"x", "y"}},
		{Key: "meta", Value: bson.D{{Key: "depth", Value: int32(2)}}},
	})
	require.NoError(t, err)

	doc, err := coll.FindOne(int32(1))
	require.NoError(t, err)
	require.Equal(t, bson.D{
		{Key: "_id", Value: int32(1)},
		{Key: "name", Value: "alice"},
		{Key: "tags", Value: bson.A{"x", "y"}},
		{Key: "meta", Value: bson.D{{Key: "depth", Value: int32(2)}}},
	}, doc)
}

func TestInsertDuplicateIDFails(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertOne(bson.M{"_id": int32(1)})
	require.NoError(t, err)

	_, err = coll.InsertOne(bson.M{"_id": int32(1)})
	var dup *merr.DuplicateKeyError
	require.ErrorAs(t, err, &dup)
	require.Equal(t, 11000, dup.Code)
}

func TestInsertNumericIDWidthsCollide(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertOne(bson.M{"_id": int32(1)})
	require.NoError(t, err)

	_, err = coll.InsertOne(bson.M{"_id": float64(1)})
	var dup *merr.DuplicateKeyError
	require.ErrorAs(t, err, &dup)
}

func TestInsertManyOrderedStopsAtFirstError(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertMany([]any{
		bson.M{"_id": int32(1)},
		bson.M{"_id": int32(1)},
		bson.M{"_id": int32(2)},
	}, true)
	var bulkErr *merr.BulkWriteError
	require.ErrorAs(t, err, &bulkErr)
	require.Equal(t, 1, bulkErr.Details["nInserted"])

	n, err := coll.CountDocuments(nil, mimongo.CountOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestInsertManyUnorderedContinues(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertMany([]any{
		bson.M{"_id": int32(1)},
		bson.M{"_id": int32(1)},
		bson.M{"_id": int32(2)},
	}, false)
	var bulkErr *merr.BulkWriteError
	require.ErrorAs(t, err, &bulkErr)

	n, err := coll.CountDocuments(nil, mimongo.CountOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestInsertManyEmptyFails(t *testing.T) {
	coll := newTestCollection(t)
	_, err := coll.InsertMany(nil, true)
	var validation *merr.ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestDocumentIDHashedByContent(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertOne(bson.M{"_id": bson.D{{Key: "a", Value: int32(1)}}})
	require.NoError(t, err)

	_, err = coll.InsertOne(bson.M{"_id": bson.D{{Key: "a", Value: int32(1)}}})
	var dup *merr.DuplicateKeyError
	require.ErrorAs(t, err, &dup)

	_, err = coll.InsertOne(bson.M{"_id": bson.D{{Key: "a", Value: int32(2)}}})
	require.NoError(t, err)
}

func TestUpsertInsertsWithFilterFields(t *testing.T) {
	coll := newTestCollection(t)

	result, err := coll.UpdateOne(bson.M{"a": int32(1)}, bson.M{"$set": bson.M{"b": int32(2)}}, true)
	require.NoError(t, err)
	require.Equal(t, 0, result.MatchedCount)
	require.NotNil(t, result.UpsertedID)

	doc, err := coll.FindOne(bson.M{"a": int32(1)})
	require.NoError(t, err)
	require.NotNil(t, doc)
	m := fieldMap(doc)
	require.Equal(t, int32(1), m["a"])
	require.Equal(t, int32(2), m["b"])
}

func TestUpsertExpandsDottedFilterFields(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.UpdateOne(bson.M{"a.b": int32(3)}, bson.M{"$set": bson.M{"c": int32(1)}}, true)
	require.NoError(t, err)

	doc, err := coll.FindOne(bson.M{"c": int32(1)})
	require.NoError(t, err)
	require.Equal(t, bson.D{{Key: "b", Value: int32(3)}}, fieldMap(doc)["a"])
}

func TestUpdateManyCounts(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertMany([]any{
		bson.M{"_id": int32(1), "group": "a"},
		bson.M{"_id": int32(2), "group": "a"},
		bson.M{"_id": int32(3), "group": "b"},
	}, true)
	require.NoError(t, err)

	result, err := coll.UpdateMany(bson.M{"group": "a"}, bson.M{"$set": bson.M{"seen": true}}, false)
	require.NoError(t, err)
	require.Equal(t, 2, result.MatchedCount)
	require.Equal(t, 2, result.ModifiedCount)

	n, err := coll.CountDocuments(bson.M{"seen": true}, mimongo.CountOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestReplaceOnePreservesID(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertOne(bson.M{"_id": int32(7), "old": true})
	require.NoError(t, err)

	result, err := coll.ReplaceOne(bson.M{"_id": int32(7)}, bson.M{"fresh": true}, false)
	require.NoError(t, err)
	require.Equal(t, 1, result.MatchedCount)

	doc, err := coll.FindOne(int32(7))
	require.NoError(t, err)
	m := fieldMap(doc)
	require.Equal(t, int32(7), m["_id"])
	require.Equal(t, true, m["fresh"])
	require.NotContains(t, m, "old")
}

func TestReplaceOneRejectsOperators(t *testing.T) {
	coll := newTestCollection(t)
	_, err := coll.ReplaceOne(bson.M{}, bson.M{"$set": bson.M{"a": 1}}, false)
	var validation *merr.ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestUpdateRejectsPlainFields(t *testing.T) {
	coll := newTestCollection(t)
	_, err := coll.UpdateOne(bson.M{}, bson.M{"a": 1}, false)
	var validation *merr.ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestDeleteOneAndMany(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertMany([]any{
		bson.M{"_id": int32(1), "kind": "x"},
		bson.M{"_id": int32(2), "kind": "x"},
		bson.M{"_id": int32(3), "kind": "y"},
	}, true)
	require.NoError(t, err)

	one, err := coll.DeleteOne(bson.M{"kind": "x"})
	require.NoError(t, err)
	require.Equal(t, 1, one.DeletedCount)

	many, err := coll.DeleteMany(bson.M{})
	require.NoError(t, err)
	require.Equal(t, 2, many.DeletedCount)
	require.Equal(t, 0, coll.EstimatedDocumentCount())
}

func TestDeleteByScalarFilter(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertOne(bson.M{"_id": int32(9)})
	require.NoError(t, err)

	result, err := coll.DeleteOne(int32(9))
	require.NoError(t, err)
	require.Equal(t, 1, result.DeletedCount)
}

func TestCountDocumentsSkipLimit(t *testing.T) {
	coll := newTestCollection(t)

	for i := 1; i <= 5; i++ {
		_, err := coll.InsertOne(bson.M{"_id": int32(i)})
		require.NoError(t, err)
	}

	n, err := coll.CountDocuments(nil, mimongo.CountOptions{Skip: 1, Limit: 3})
	require.NoError(t, err)
	require.Equal(t, 3, n)

	n, err = coll.CountDocuments(nil, mimongo.CountOptions{Skip: 4})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = coll.CountDocuments(nil, mimongo.CountOptions{Limit: -1})
	var opFailure *merr.OperationFailure
	require.ErrorAs(t, err, &opFailure)
}

func TestDistinctPreservesFirstSeenOrder(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertMany([]any{
		bson.M{"_id": int32(1), "tag": "beta"},
		bson.M{"_id": int32(2), "tag": "alpha"},
		bson.M{"_id": int32(3), "tag": "beta"},
		bson.M{"_id": int32(4), "tags": "ignored"},
	}, true)
	require.NoError(t, err)

	values, err := coll.Distinct("tag", nil)
	require.NoError(t, err)
	require.Equal(t, []any{"beta", "alpha"}, values)
}

func TestDistinctFlattensArrays(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertMany([]any{
		bson.M{"_id": int32(1), "tags": bson.A{"a", "b"}},
		bson.M{"_id": int32(2), "tags": bson.A{"b", "c"}},
	}, true)
	require.NoError(t, err)

	values, err := coll.Distinct("tags", nil)
	require.NoError(t, err)
	require.Equal(t, []any{"a", "b", "c"}, values)
}

func TestCountMatchesFindCount(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertMany([]any{
		bson.M{"_id": int32(1), "x": int32(5)},
		bson.M{"_id": int32(2), "x": int32(15)},
		bson.M{"_id": int32(3), "x": int32(25)},
	}, true)
	require.NoError(t, err)

	filter := bson.M{"x": bson.M{"$gt": int32(10)}}
	viaCursor, err := coll.Find(filter).Count(false)
	require.NoError(t, err)
	viaCount, err := coll.CountDocuments(filter, mimongo.CountOptions{})
	require.NoError(t, err)
	require.Equal(t, viaCount, viaCursor)
	require.Equal(t, 2, viaCount)
}

func TestWithOptionsDefaultsOnly(t *testing.T) {
	coll := newTestCollection(t)

	same, err := coll.WithOptions(mimongo.CollectionOptions{})
	require.NoError(t, err)
	require.Equal(t, coll, same)

	_, err = coll.WithOptions(mimongo.CollectionOptions{ReadConcern: "majority"})
	var notImpl *merr.NotImplementedError
	require.ErrorAs(t, err, &notImpl)
}

func TestMapReduceNotImplemented(t *testing.T) {
	coll := newTestCollection(t)
	err := coll.MapReduce("function(){}", "function(){}", nil)
	var notImpl *merr.NotImplementedError
	require.ErrorAs(t, err, &notImpl)
}
