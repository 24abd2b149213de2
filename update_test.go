package mimongo_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mimongo/mimongo/merr"
)

func TestSetCreatesIntermediateDocuments(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertOne(bson.M{"_id": int32(1)})
	require.NoError(t, err)

	_, err = coll.UpdateOne(bson.M{"_id": int32(1)}, bson.M{"$set": bson.M{"a.b.c": int32(5)}}, false)
	require.NoError(t, err)

	doc, err := coll.FindOne(int32(1))
	require.NoError(t, err)
	require.Equal(t,
		bson.D{{Key: "b", Value: bson.D{{Key: "c", Value: int32(5)}}}},
		fieldMap(doc)["a"])
}

func TestSetIndexesIntoArrays(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertOne(bson.M{"_id": int32(1), "arr": bson.A{int32(10), int32(20)}})
	require.NoError(t, err)

	_, err = coll.UpdateOne(bson.M{"_id": int32(1)}, bson.M{"$set": bson.M{"arr.1": int32(99)}}, false)
	require.NoError(t, err)

	doc, err := coll.FindOne(int32(1))
	require.NoError(t, err)
	require.Equal(t, bson.A{int32(10), int32(99)}, fieldMap(doc)["arr"])
}

func TestUnsetMissingParentIsNoop(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertOne(bson.M{"_id": int32(1), "keep": true})
	require.NoError(t, err)

	result, err := coll.UpdateOne(bson.M{"_id": int32(1)}, bson.M{"$unset": bson.M{"gone.deep": ""}}, false)
	require.NoError(t, err)
	require.Equal(t, 1, result.MatchedCount)

	doc, err := coll.FindOne(int32(1))
	require.NoError(t, err)
	require.Equal(t, map[string]any{"_id": int32(1), "keep": true}, fieldMap(doc))
}

func TestIncMissingFieldStartsAtZero(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertOne(bson.M{"_id": int32(1)})
	require.NoError(t, err)

	_, err = coll.UpdateOne(bson.M{"_id": int32(1)}, bson.M{"$inc": bson.M{"n": int32(3)}}, false)
	require.NoError(t, err)
	_, err = coll.UpdateOne(bson.M{"_id": int32(1)}, bson.M{"$inc": bson.M{"n": int32(4)}}, false)
	require.NoError(t, err)

	doc, err := coll.FindOne(int32(1))
	require.NoError(t, err)
	require.Equal(t, int64(7), fieldMap(doc)["n"])
}

func TestIncNonNumericFieldFails(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertOne(bson.M{"_id": int32(1), "n": "text"})
	require.NoError(t, err)

	_, err = coll.UpdateOne(bson.M{"_id": int32(1)}, bson.M{"$inc": bson.M{"n": int32(1)}}, false)
	var writeErr *merr.WriteError
	require.ErrorAs(t, err, &writeErr)
}

func TestMaxMinReplaceConditionally(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertOne(bson.M{"_id": int32(1), "hi": int32(10), "lo": int32(10)})
	require.NoError(t, err)

	_, err = coll.UpdateOne(bson.M{"_id": int32(1)}, bson.M{
		"$max": bson.M{"hi": int32(5)},
		"$min": bson.M{"lo": int32(5)},
	}, false)
	require.NoError(t, err)

	doc, err := coll.FindOne(int32(1))
	require.NoError(t, err)
	require.Equal(t, int32(10), fieldMap(doc)["hi"])
	require.Equal(t, int32(5), fieldMap(doc)["lo"])

	// Missing fields are written outright.
	_, err = coll.UpdateOne(bson.M{"_id": int32(1)}, bson.M{"$max": bson.M{"fresh": int32(1)}}, false)
	require.NoError(t, err)
	doc, err = coll.FindOne(int32(1))
	require.NoError(t, err)
	require.Equal(t, int32(1), fieldMap(doc)["fresh"])
}

func TestRenameTopLevelField(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertOne(bson.M{"_id": int32(1), "old": "v"})
	require.NoError(t, err)

	_, err = coll.UpdateOne(bson.M{"_id": int32(1)}, bson.M{"$rename": bson.M{"old": "new", "absent": "x"}}, false)
	require.NoError(t, err)

	doc, err := coll.FindOne(int32(1))
	require.NoError(t, err)
	m := fieldMap(doc)
	require.Equal(t, "v", m["new"])
	require.NotContains(t, m, "old")
	require.NotContains(t, m, "x")
}

func TestRenameDottedFieldsNotImplemented(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertOne(bson.M{"_id": int32(1)})
	require.NoError(t, err)

	_, err = coll.UpdateOne(bson.M{"_id": int32(1)}, bson.M{"$rename": bson.M{"a.b": "c"}}, false)
	var notImpl *merr.NotImplementedError
	require.ErrorAs(t, err, &notImpl)
}

func TestSetOnInsertOnlyAppliesOnUpsertInsert(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertOne(bson.M{"_id": int32(1), "n": int32(0)})
	require.NoError(t, err)

	_, err = coll.UpdateOne(bson.M{"_id": int32(1)}, bson.M{
		"$set":         bson.M{"n": int32(1)},
		"$setOnInsert": bson.M{"created": true},
	}, true)
	require.NoError(t, err)
	doc, err := coll.FindOne(int32(1))
	require.NoError(t, err)
	require.NotContains(t, fieldMap(doc), "created")

	_, err = coll.UpdateOne(bson.M{"_id": int32(2)}, bson.M{
		"$set":         bson.M{"n": int32(1)},
		"$setOnInsert": bson.M{"created": true},
	}, true)
	require.NoError(t, err)
	doc, err = coll.FindOne(int32(2))
	require.NoError(t, err)
	require.Equal(t, true, fieldMap(doc)["created"])
}

func TestCurrentDateWritesTimestamp(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertOne(bson.M{"_id": int32(1)})
	require.NoError(t, err)

	_, err = coll.UpdateOne(bson.M{"_id": int32(1)}, bson.M{"$currentDate": bson.M{"at": true}}, false)
	require.NoError(t, err)

	doc, err := coll.FindOne(int32(1))
	require.NoError(t, err)
	_, isDate := fieldMap(doc)["at"].(bson.DateTime)
	require.True(t, isDate)
}

func TestCurrentDateTimestampTypeRejected(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertOne(bson.M{"_id": int32(1)})
	require.NoError(t, err)

	_, err = coll.UpdateOne(bson.M{"_id": int32(1)},
		bson.M{"$currentDate": bson.M{"at": bson.M{"$type": "timestamp"}}}, false)
	var notImpl *merr.NotImplementedError
	require.ErrorAs(t, err, &notImpl)
}

func TestAddToSetDeduplicates(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertOne(bson.M{"_id": int32(1), "tags": bson.A{"a"}})
	require.NoError(t, err)

	_, err = coll.UpdateOne(bson.M{"_id": int32(1)}, bson.M{"$addToSet": bson.M{"tags": "a"}}, false)
	require.NoError(t, err)
	_, err = coll.UpdateOne(bson.M{"_id": int32(1)}, bson.M{"$addToSet": bson.M{"tags": "b"}}, false)
	require.NoError(t, err)
	_, err = coll.UpdateOne(bson.M{"_id": int32(1)},
		bson.M{"$addToSet": bson.M{"tags": bson.M{"$each": bson.A{"b", "c"}}}}, false)
	require.NoError(t, err)

	doc, err := coll.FindOne(int32(1))
	require.NoError(t, err)
	require.Equal(t, bson.A{"a", "b", "c"}, fieldMap(doc)["tags"])
}

func TestAddToSetCreatesNestedArray(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertOne(bson.M{"_id": int32(1)})
	require.NoError(t, err)

	_, err = coll.UpdateOne(bson.M{"_id": int32(1)}, bson.M{"$addToSet": bson.M{"a.b": int32(1)}}, false)
	require.NoError(t, err)

	doc, err := coll.FindOne(int32(1))
	require.NoError(t, err)
	require.Equal(t, bson.D{{Key: "b", Value: bson.A{int32(1)}}}, fieldMap(doc)["a"])
}

func TestPushAppendsAndCreates(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertOne(bson.M{"_id": int32(1)})
	require.NoError(t, err)

	_, err = coll.UpdateOne(bson.M{"_id": int32(1)}, bson.M{"$push": bson.M{"log": "one"}}, false)
	require.NoError(t, err)
	_, err = coll.UpdateOne(bson.M{"_id": int32(1)},
		bson.M{"$push": bson.M{"log": bson.M{"$each": bson.A{"two", "three"}}}}, false)
	require.NoError(t, err)

	doc, err := coll.FindOne(int32(1))
	require.NoError(t, err)
	require.Equal(t, bson.A{"one", "two", "three"}, fieldMap(doc)["log"])
}

func TestPushSliceModifierRejected(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertOne(bson.M{"_id": int32(1)})
	require.NoError(t, err)

	_, err = coll.UpdateOne(bson.M{"_id": int32(1)},
		bson.M{"$push": bson.M{"log": bson.M{"$each": bson.A{"x"}, "$slice": int32(2)}}}, false)
	var notImpl *merr.NotImplementedError
	require.ErrorAs(t, err, &notImpl)
}

func TestPullByValueAndByQuery(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertOne(bson.M{"_id": int32(1),
		"nums":  bson.A{int32(1), int32(2), int32(1), int32(3)},
		"items": bson.A{bson.M{"k": int32(1)}, bson.M{"k": int32(2)}},
	})
	require.NoError(t, err)

	_, err = coll.UpdateOne(bson.M{"_id": int32(1)}, bson.M{"$pull": bson.M{"nums": int32(1)}}, false)
	require.NoError(t, err)
	_, err = coll.UpdateOne(bson.M{"_id": int32(1)},
		bson.M{"$pull": bson.M{"items": bson.M{"k": bson.M{"$gt": int32(1)}}}}, false)
	require.NoError(t, err)

	doc, err := coll.FindOne(int32(1))
	require.NoError(t, err)
	require.Equal(t, bson.A{int32(2), int32(3)}, fieldMap(doc)["nums"])
	require.Equal(t, bson.A{bson.D{{Key: "k", Value: int32(1)}}}, fieldMap(doc)["items"])
}

func TestPullAllRemovesEveryListed(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertOne(bson.M{"_id": int32(1), "nums": bson.A{int32(1), int32(2), int32(3), int32(2)}})
	require.NoError(t, err)

	_, err = coll.UpdateOne(bson.M{"_id": int32(1)},
		bson.M{"$pullAll": bson.M{"nums": bson.A{int32(2), int32(3)}}}, false)
	require.NoError(t, err)

	doc, err := coll.FindOne(int32(1))
	require.NoError(t, err)
	require.Equal(t, bson.A{int32(1)}, fieldMap(doc)["nums"])
}

func TestPositionalSetUpdatesMatchedElement(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertOne(bson.M{"_id": int32(1), "arr": bson.A{
		bson.M{"k": int32(1), "v": int32(10)},
		bson.M{"k": int32(2), "v": int32(20)},
	}})
	require.NoError(t, err)

	_, err = coll.UpdateOne(
		bson.M{"arr": bson.M{"$elemMatch": bson.M{"k": int32(2)}}},
		bson.M{"$set": bson.M{"arr.$.v": int32(99)}},
		false)
	require.NoError(t, err)

	doc, err := coll.FindOne(int32(1))
	require.NoError(t, err)
	require.Equal(t, bson.A{
		bson.D{{Key: "k", Value: int32(1)}, {Key: "v", Value: int32(10)}},
		bson.D{{Key: "k", Value: int32(2)}, {Key: "v", Value: int32(99)}},
	}, fieldMap(doc)["arr"])
}

func TestPositionalSetWithDottedQuery(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertOne(bson.M{"_id": int32(1), "arr": bson.A{
		bson.M{"k": int32(1)},
		bson.M{"k": int32(2)},
	}})
	require.NoError(t, err)

	_, err = coll.UpdateOne(
		bson.M{"arr.k": int32(2)},
		bson.M{"$set": bson.M{"arr.$.seen": true}},
		false)
	require.NoError(t, err)

	doc, err := coll.FindOne(int32(1))
	require.NoError(t, err)
	arr := fieldMap(doc)["arr"].(bson.A)
	require.Equal(t, bson.D{{Key: "k", Value: int32(2)}, {Key: "seen", Value: true}}, arr[1])
}

func TestUpdateCannotChangeID(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertOne(bson.M{"_id": int32(1), "a": int32(1)})
	require.NoError(t, err)

	_, err = coll.ReplaceOne(bson.M{"_id": int32(1)}, bson.M{"_id": int32(2), "a": int32(2)}, false)
	var opFailure *merr.OperationFailure
	require.ErrorAs(t, err, &opFailure)
}

func TestUnknownModifierRejected(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertOne(bson.M{"_id": int32(1)})
	require.NoError(t, err)

	_, err = coll.UpdateOne(bson.M{"_id": int32(1)}, bson.M{"$bogus": bson.M{"a": int32(1)}}, false)
	var writeErr *merr.WriteError
	require.ErrorAs(t, err, &writeErr)

	// $sum is an aggregation accumulator, not an update operator.
	_, err = coll.UpdateOne(bson.M{"_id": int32(1)}, bson.M{"$sum": bson.M{"a": int32(1)}}, false)
	require.ErrorAs(t, err, &writeErr)
}
