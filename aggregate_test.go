package mimongo_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mimongo/mimongo"
	"github.com/mimongo/mimongo/merr"
)

func TestAggregateMatchComposesWithFind(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertMany([]any{
		bson.M{"_id": int32(1), "x": int32(5)},
		bson.M{"_id": int32(2), "x": int32(15)},
		bson.M{"_id": int32(3), "x": int32(25)},
	}, true)
	require.NoError(t, err)

	filter := bson.M{"x": bson.M{"$gt": int32(10)}}
	viaAggregate, err := coll.Aggregate(bson.A{bson.M{"$match": filter}})
	require.NoError(t, err)
	viaFind, err := coll.Find(filter).All()
	require.NoError(t, err)
	require.Equal(t, viaFind, viaAggregate)
}

func TestAggregateGroupAccumulators(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertMany([]any{
		bson.M{"_id": int32(1), "team": "a", "score": int32(10)},
		bson.M{"_id": int32(2), "team": "a", "score": int32(20)},
		bson.M{"_id": int32(3), "team": "b", "score": int32(5)},
	}, true)
	require.NoError(t, err)

	out, err := coll.Aggregate(bson.A{bson.M{"$group": bson.D{
		{Key: "_id", Value: "$team"},
		{Key: "total", Value: bson.M{"$sum": "$score"}},
		{Key: "avg", Value: bson.M{"$avg": "$score"}},
		{Key: "low", Value: bson.M{"$min": "$score"}},
		{Key: "high", Value: bson.M{"$max": "$score"}},
		{Key: "first", Value: bson.M{"$first": "$score"}},
		{Key: "all", Value: bson.M{"$push": "$score"}},
	}}})
	require.NoError(t, err)
	require.Len(t, out, 2)

	a := fieldMap(out[0])
	require.Equal(t, "a", a["_id"])
	require.Equal(t, int64(30), a["total"])
	require.Equal(t, float64(15), a["avg"])
	require.Equal(t, int32(10), a["low"])
	require.Equal(t, int32(20), a["high"])
	require.Equal(t, int32(10), a["first"])
	require.Equal(t, bson.A{int32(10), int32(20)}, a["all"])

	b := fieldMap(out[1])
	require.Equal(t, "b", b["_id"])
	require.Equal(t, int64(5), b["total"])
}

func TestAggregateGroupConstantSum(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertMany([]any{
		bson.M{"_id": int32(1), "k": "x"},
		bson.M{"_id": int32(2), "k": "x"},
	}, true)
	require.NoError(t, err)

	out, err := coll.Aggregate(bson.A{bson.M{"$group": bson.D{
		{Key: "_id", Value: nil},
		{Key: "count", Value: bson.M{"$sum": int32(1)}},
	}}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, int64(2), fieldMap(out[0])["count"])
}

func TestAggregateBucketBoundaries(t *testing.T) {
	coll := newTestCollection(t)

	for i, x := range []int32{1, 5, 10, 15} {
		_, err := coll.InsertOne(bson.M{"_id": int32(i), "x": x})
		require.NoError(t, err)
	}

	out, err := coll.Aggregate(bson.A{bson.M{"$bucket": bson.M{
		"groupBy":    "$x",
		"boundaries": bson.A{int32(0), int32(10), int32(20)},
		"default":    "other",
		"output":     bson.M{"count": bson.M{"$sum": int32(1)}},
	}}})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, map[string]any{"_id": int32(0), "count": int64(2)}, fieldMap(out[0]))
	require.Equal(t, map[string]any{"_id": int32(10), "count": int64(2)}, fieldMap(out[1]))
}

func TestAggregateBucketDefaultAndErrors(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertOne(bson.M{"_id": int32(1), "x": int32(100)})
	require.NoError(t, err)

	out, err := coll.Aggregate(bson.A{bson.M{"$bucket": bson.M{
		"groupBy":    "$x",
		"boundaries": bson.A{int32(0), int32(10)},
		"default":    "overflow",
	}}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "overflow", fieldMap(out[0])["_id"])

	_, err = coll.Aggregate(bson.A{bson.M{"$bucket": bson.M{
		"groupBy":    "$x",
		"boundaries": bson.A{int32(0), int32(10)},
	}}})
	var opFailure *merr.OperationFailure
	require.ErrorAs(t, err, &opFailure)

	_, err = coll.Aggregate(bson.A{bson.M{"$bucket": bson.M{
		"groupBy":    "$x",
		"boundaries": bson.A{int32(10), int32(0)},
		"default":    "d",
	}}})
	require.ErrorAs(t, err, &opFailure)
}

func TestAggregateSortSkipLimit(t *testing.T) {
	coll := newTestCollection(t)

	for _, x := range []int32{3, 1, 2} {
		_, err := coll.InsertOne(bson.M{"_id": x, "x": x})
		require.NoError(t, err)
	}

	out, err := coll.Aggregate(bson.A{
		bson.M{"$sort": bson.D{{Key: "x", Value: -1}}},
		bson.M{"$skip": int32(1)},
		bson.M{"$limit": int32(1)},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, int32(2), fieldMap(out[0])["x"])
}

func TestAggregateUnwindPreservesNullAndEmpty(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertMany([]any{
		bson.M{"_id": int32(1), "a": bson.A{int32(1), int32(2)}},
		bson.M{"_id": int32(2), "a": bson.A{}},
		bson.M{"_id": int32(3), "b": int32(1)},
	}, true)
	require.NoError(t, err)

	out, err := coll.Aggregate(bson.A{bson.M{"$unwind": bson.M{
		"path":                       "$a",
		"preserveNullAndEmptyArrays": true,
	}}})
	require.NoError(t, err)
	require.Len(t, out, 4)
	require.Equal(t, int32(1), fieldMap(out[0])["a"])
	require.Equal(t, int32(2), fieldMap(out[1])["a"])
	require.NotContains(t, fieldMap(out[2]), "a")
	require.Equal(t, int32(1), fieldMap(out[3])["b"])
}

func TestAggregateUnwindWithoutPreserveSkips(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertMany([]any{
		bson.M{"_id": int32(1), "a": bson.A{int32(1)}},
		bson.M{"_id": int32(2), "a": bson.A{}},
		bson.M{"_id": int32(3)},
	}, true)
	require.NoError(t, err)

	out, err := coll.Aggregate(bson.A{bson.M{"$unwind": "$a"}})
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestAggregateUnwindIncludeArrayIndex(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertOne(bson.M{"_id": int32(1), "a": bson.A{"x", "y"}})
	require.NoError(t, err)

	out, err := coll.Aggregate(bson.A{bson.M{"$unwind": bson.M{
		"path":              "$a",
		"includeArrayIndex": "idx",
	}}})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, int64(0), fieldMap(out[0])["idx"])
	require.Equal(t, int64(1), fieldMap(out[1])["idx"])
}

func TestAggregateUnwindRequiresDollarPath(t *testing.T) {
	coll := newTestCollection(t)
	_, err := coll.InsertOne(bson.M{"_id": int32(1)})
	require.NoError(t, err)

	_, err = coll.Aggregate(bson.A{bson.M{"$unwind": "a"}})
	var opFailure *merr.OperationFailure
	require.ErrorAs(t, err, &opFailure)
}

func TestAggregateLookup(t *testing.T) {
	client := mimongo.NewClient()
	db := client.Database("testdb")
	orders := db.Collection("orders")
	customers := db.Collection("customers")

	_, err := customers.InsertMany([]any{
		bson.M{"_id": int32(1), "name": "alice"},
		bson.M{"_id": int32(2), "name": "bob"},
	}, true)
	require.NoError(t, err)
	_, err = orders.InsertMany([]any{
		bson.M{"_id": int32(10), "customer": int32(1)},
		bson.M{"_id": int32(11), "customer": int32(3)},
	}, true)
	require.NoError(t, err)

	out, err := orders.Aggregate(bson.A{bson.M{"$lookup": bson.M{
		"from":         "customers",
		"localField":   "customer",
		"foreignField": "_id",
		"as":           "who",
	}}})
	require.NoError(t, err)
	require.Len(t, out, 2)

	who := fieldMap(out[0])["who"].(bson.A)
	require.Len(t, who, 1)
	require.Equal(t, "alice", fieldMap(who[0].(bson.D))["name"])
	require.Empty(t, fieldMap(out[1])["who"])
}

func TestAggregateLookupValidation(t *testing.T) {
	coll := newTestCollection(t)
	_, err := coll.InsertOne(bson.M{"_id": int32(1)})
	require.NoError(t, err)

	_, err = coll.Aggregate(bson.A{bson.M{"$lookup": bson.M{
		"from": "other", "localField": int32(1), "foreignField": "x", "as": "y",
	}}})
	var opFailure *merr.OperationFailure
	require.ErrorAs(t, err, &opFailure)

	_, err = coll.Aggregate(bson.A{bson.M{"$lookup": bson.M{
		"from": "other", "localField": "a", "foreignField": "x", "as": "y",
		"pipeline": bson.A{},
	}}})
	var notImpl *merr.NotImplementedError
	require.ErrorAs(t, err, &notImpl)
}

func TestAggregateProjectIncludeAndCompute(t *testing.T) {
	coll := newTestCollection(t)

	_, err := coll.InsertOne(bson.D{
		{Key: "_id", Value: int32(1)},
		{Key: "a", Value: int32(2)},
		{Key: "b", Value: int32(3)},
	})
	require.NoError(t, err)

	out, err := coll.Aggregate(bson.A{bson.M{"$project": bson.D{
		{Key: "a", Value: int32(1)},
		{Key: "doubled", Value: bson.M{"$multiply": bson.A{"$a", int32(2)}}},
	}}})
	require.NoError(t, err)
	m := fieldMap(out[0])
	require.Equal(t, int32(1), m["_id"])
	require.Equal(t, int32(2), m["a"])
	require.Equal(t, int64(4), m["doubled"])
	require.NotContains(t, m, "b")
}

func TestAggregateProjectSubfieldNotImplemented(t *testing.T) {
	coll := newTestCollection(t)
	_, err := coll.InsertOne(bson.M{"_id": int32(1)})
	require.NoError(t, err)

	_, err = coll.Aggregate(bson.A{bson.M{"$project": bson.M{"a.b": int32(1)}}})
	var notImpl *merr.NotImplementedError
	require.ErrorAs(t, err, &notImpl)
}

func TestAggregateSampleDeterministicWithSeed(t *testing.T) {
	client := mimongo.NewClient(mimongo.WithRandSeed(42))
	coll := client.Database("testdb").Collection("things")
	for i := int32(0); i < 10; i++ {
		_, err := coll.InsertOne(bson.M{"_id": i})
		require.NoError(t, err)
	}

	out, err := coll.Aggregate(bson.A{bson.M{"$sample": bson.M{"size": int32(3)}}})
	require.NoError(t, err)
	require.Len(t, out, 3)

	// A second client with the same seed draws the same sample.
	again := mimongo.NewClient(mimongo.WithRandSeed(42)).Database("testdb").Collection("things")
	for i := int32(0); i < 10; i++ {
		_, err := again.InsertOne(bson.M{"_id": i})
		require.NoError(t, err)
	}
	replay, err := again.Aggregate(bson.A{bson.M{"$sample": bson.M{"size": int32(3)}}})
	require.NoError(t, err)
	require.Equal(t, out, replay)

	_, err = coll.Aggregate(bson.A{bson.M{"$sample": bson.M{"size": int32(1), "extra": int32(1)}}})
	var opFailure *merr.OperationFailure
	require.ErrorAs(t, err, &opFailure)
}

func TestAggregateOutReplacesTarget(t *testing.T) {
	client := mimongo.NewClient()
	db := client.Database("testdb")
	src := db.Collection("src")
	dst := db.Collection("dst")

	_, err := dst.InsertOne(bson.M{"_id": int32(99), "stale": true})
	require.NoError(t, err)
	_, err = src.InsertMany([]any{
		bson.M{"_id": int32(1), "x": int32(5)},
		bson.M{"_id": int32(2), "x": int32(15)},
	}, true)
	require.NoError(t, err)

	_, err = src.Aggregate(bson.A{
		bson.M{"$match": bson.M{"x": bson.M{"$gt": int32(10)}}},
		bson.M{"$out": "dst"},
	})
	require.NoError(t, err)

	docs, err := dst.Find(nil).All()
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, int32(2), fieldMap(docs[0])["_id"])
}

func TestAggregateStageDiscrimination(t *testing.T) {
	coll := newTestCollection(t)
	_, err := coll.InsertOne(bson.M{"_id": int32(1)})
	require.NoError(t, err)

	_, err = coll.Aggregate(bson.A{bson.M{"$facet": bson.M{}}})
	var notImpl *merr.NotImplementedError
	require.ErrorAs(t, err, &notImpl)

	_, err = coll.Aggregate(bson.A{bson.M{"$bogus": bson.M{}}})
	var opFailure *merr.OperationFailure
	require.ErrorAs(t, err, &opFailure)

	_, err = coll.Aggregate(bson.A{bson.M{"$group": bson.D{
		{Key: "_id", Value: nil},
		{Key: "sd", Value: bson.M{"$stdDevPop": "$x"}},
	}}})
	require.ErrorAs(t, err, &notImpl)
}
