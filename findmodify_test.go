package mimongo_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mimongo/mimongo"
	"github.com/mimongo/mimongo/merr"
)

func TestFindOneAndUpdateReturnsPreImageByDefault(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertOne(bson.M{"_id": int32(1), "n": int32(1)})
	require.NoError(t, err)

	doc, err := coll.FindOneAndUpdate(bson.M{"_id": int32(1)},
		bson.M{"$inc": bson.M{"n": int32(1)}}, mimongo.FindModifyOptions{})
	require.NoError(t, err)
	require.Equal(t, int32(1), fieldMap(doc)["n"])

	after, err := coll.FindOne(int32(1))
	require.NoError(t, err)
	require.Equal(t, int64(2), fieldMap(after)["n"])
}

func TestFindOneAndUpdateReturnAfter(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertOne(bson.M{"_id": int32(1), "n": int32(1)})
	require.NoError(t, err)

	doc, err := coll.FindOneAndUpdate(bson.M{"_id": int32(1)},
		bson.M{"$inc": bson.M{"n": int32(1)}}, mimongo.FindModifyOptions{ReturnAfter: true})
	require.NoError(t, err)
	require.Equal(t, int64(2), fieldMap(doc)["n"])
}

func TestFindOneAndUpdateMissingWithoutUpsert(t *testing.T) {
	coll := newTestCollection(t)

	doc, err := coll.FindOneAndUpdate(bson.M{"_id": int32(1)},
		bson.M{"$set": bson.M{"a": int32(1)}}, mimongo.FindModifyOptions{})
	require.NoError(t, err)
	require.Nil(t, doc)
}

func TestFindOneAndUpdateUpsertReturnAfter(t *testing.T) {
	coll := newTestCollection(t)

	doc, err := coll.FindOneAndUpdate(bson.M{"_id": int32(5)},
		bson.M{"$set": bson.M{"a": int32(1)}},
		mimongo.FindModifyOptions{Upsert: true, ReturnAfter: true})
	require.NoError(t, err)
	require.NotNil(t, doc)
	require.Equal(t, int32(1), fieldMap(doc)["a"])
	require.Equal(t, int32(5), fieldMap(doc)["_id"])
}

func TestFindOneAndUpdateSortPicksFirst(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertMany([]any{
		bson.M{"_id": int32(1), "rank": int32(2)},
		bson.M{"_id": int32(2), "rank": int32(1)},
	}, true)
	require.NoError(t, err)

	doc, err := coll.FindOneAndUpdate(bson.M{},
		bson.M{"$set": bson.M{"picked": true}},
		mimongo.FindModifyOptions{Sort: bson.D{{Key: "rank", Value: 1}}})
	require.NoError(t, err)
	require.Equal(t, int32(2), fieldMap(doc)["_id"])
}

func TestFindOneAndDelete(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertOne(bson.M{"_id": int32(1), "gone": true})
	require.NoError(t, err)

	doc, err := coll.FindOneAndDelete(bson.M{"_id": int32(1)}, mimongo.FindModifyOptions{})
	require.NoError(t, err)
	require.Equal(t, true, fieldMap(doc)["gone"])
	require.Equal(t, 0, coll.EstimatedDocumentCount())
}

func TestFindOneAndDeleteReturnAfterRejected(t *testing.T) {
	coll := newTestCollection(t)
	_, err := coll.FindOneAndDelete(bson.M{}, mimongo.FindModifyOptions{ReturnAfter: true})
	var opFailure *merr.OperationFailure
	require.ErrorAs(t, err, &opFailure)
}

func TestFindOneAndReplace(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertOne(bson.M{"_id": int32(1), "old": true})
	require.NoError(t, err)

	doc, err := coll.FindOneAndReplace(bson.M{"_id": int32(1)},
		bson.M{"fresh": true}, mimongo.FindModifyOptions{ReturnAfter: true})
	require.NoError(t, err)
	m := fieldMap(doc)
	require.Equal(t, true, m["fresh"])
	require.NotContains(t, m, "old")
}

func TestFindOneAndUpdateProjection(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertOne(bson.M{"_id": int32(1), "a": int32(1), "b": int32(2)})
	require.NoError(t, err)

	doc, err := coll.FindOneAndUpdate(bson.M{"_id": int32(1)},
		bson.M{"$set": bson.M{"a": int32(9)}},
		mimongo.FindModifyOptions{Projection: bson.M{"a": 1}})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"_id": int32(1), "a": int32(1)}, fieldMap(doc))
}
