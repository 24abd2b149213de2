package mimongo

import "go.mongodb.org/mongo-driver/v2/bson"

// InsertOneResult is the result of an InsertOne operation.
type InsertOneResult struct {
	InsertedID   any
	Acknowledged bool
}

// InsertManyResult is the result of an InsertMany operation.
type InsertManyResult struct {
	InsertedIDs  []any
	Acknowledged bool
}

// UpdateResult is the result of UpdateOne, UpdateMany and ReplaceOne.
type UpdateResult struct {
	MatchedCount  int
	ModifiedCount int
	UpsertedID    any
	Acknowledged  bool
}

// DeleteResult is the result of DeleteOne and DeleteMany.
type DeleteResult struct {
	DeletedCount int
	Acknowledged bool
}

// BulkWriteResult aggregates the counters of an executed bulk.
type BulkWriteResult struct {
	InsertedCount int
	MatchedCount  int
	ModifiedCount int
	UpsertedCount int
	DeletedCount  int
	UpsertedIDs   map[int]any
	Acknowledged  bool
}

func bulkResultFromCounters(raw bson.M) *BulkWriteResult {
	result := &BulkWriteResult{
		UpsertedIDs:  map[int]any{},
		Acknowledged: true,
	}
	if n, ok := raw["nInserted"].(int); ok {
		result.InsertedCount = n
	}
	if n, ok := raw["nMatched"].(int); ok {
		result.MatchedCount = n
	}
	if n, ok := raw["nModified"].(int); ok {
		result.ModifiedCount = n
	}
	if n, ok := raw["nUpserted"].(int); ok {
		result.UpsertedCount = n
	}
	if n, ok := raw["nRemoved"].(int); ok {
		result.DeletedCount = n
	}
	if upserted, ok := raw["upserted"].([]any); ok {
		for _, entryAny := range upserted {
			entry, isMap := entryAny.(bson.M)
			if !isMap {
				continue
			}
			idx, _ := entry["index"].(int)
			result.UpsertedIDs[idx] = entry["_id"]
		}
	}
	return result
}
