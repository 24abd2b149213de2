package mimongo

import (
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mimongo/mimongo/merr"
)

// WriteModel is one deferred operation of a bulk write.
type WriteModel interface {
	addToBulk(b *bulkBuilder) error
}

// InsertOneModel queues an insert.
type InsertOneModel struct {
	Document any
}

// UpdateOneModel queues an operator-mode update of one document.
type UpdateOneModel struct {
	Filter any
	Update any
	Upsert bool
}

// UpdateManyModel queues an operator-mode update of every match.
type UpdateManyModel struct {
	Filter any
	Update any
	Upsert bool
}

// ReplaceOneModel queues a full-document replacement.
type ReplaceOneModel struct {
	Filter      any
	Replacement any
	Upsert      bool
}

// DeleteOneModel queues removal of one document.
type DeleteOneModel struct {
	Filter any
}

// DeleteManyModel queues removal of every match.
type DeleteManyModel struct {
	Filter any
}

// bulkBuilder collects deferred executors and aggregates their counter
// deltas on execute.
type bulkBuilder struct {
	coll      *Collection
	executors []bulkExecutor
	done      bool
}

type bulkExecutor struct {
	kind string // "insert", "update", "remove"
	op   any    // original operation document for error reporting
	run  func() (bson.M, error)
}

// BulkWrite runs the given write models in submission order. Only ordered
// mode is supported; the first failing operation aborts the bulk and
// surfaces a BulkWriteError carrying the counts accumulated so far.
func (c *Collection) BulkWrite(models []WriteModel, ordered bool) (*BulkWriteResult, error) {
	if !ordered {
		return nil, merr.NotImplemented("unordered bulk writes")
	}
	builder := &bulkBuilder{coll: c}
	for _, model := range models {
		if err := model.addToBulk(builder); err != nil {
			return nil, err
		}
	}
	raw, err := builder.execute()
	if err != nil {
		return nil, err
	}
	return bulkResultFromCounters(raw), nil
}

func (b *bulkBuilder) execute() (bson.M, error) {
	if len(b.executors) == 0 {
		return nil, &merr.InvalidOperation{Message: "bulk operation empty"}
	}
	if b.done {
		return nil, &merr.InvalidOperation{Message: "bulk operation already executed"}
	}
	b.done = true

	result := bson.M{
		"nModified":          0,
		"nUpserted":          0,
		"nMatched":           0,
		"writeErrors":        []any{},
		"upserted":           []any{},
		"writeConcernErrors": []any{},
		"nRemoved":           0,
		"nInserted":          0,
	}

	brokenModifiedInfo := false
	for index, executor := range b.executors {
		delta, err := executor.run()
		if err != nil {
			appendCounter(result, "writeErrors", bson.M{
				"index":  index,
				"code":   writeErrorCode(err),
				"errmsg": err.Error(),
				"op":     executor.op,
			})
			return nil, &merr.BulkWriteError{Details: result}
		}
		for key, value := range delta {
			if err := aggregateCounter(result, key, value); err != nil {
				return nil, err
			}
		}
		if executor.kind == "update" {
			if _, has := delta["nModified"]; !has {
				brokenModifiedInfo = true
			}
		}
	}
	if brokenModifiedInfo {
		delete(result, "nModified")
	}
	return result, nil
}

// aggregateCounter merges one delta entry: ints accumulate, arrays append,
// and upserted entries gain their position index.
func aggregateCounter(result bson.M, key string, value any) error {
	current, known := result[key]
	if !known {
		return merr.OperationFailuref("unknown bulk operation result %s=%v", key, value)
	}
	switch agg := current.(type) {
	case int:
		n, ok := value.(int)
		if !ok {
			return merr.OperationFailuref("bulk counter %s must be an int", key)
		}
		result[key] = agg + n
	case []any:
		if key == "upserted" {
			appendCounter(result, key, bson.M{"index": len(agg), "_id": value})
			return nil
		}
		appendCounter(result, key, value)
	}
	return nil
}

func appendCounter(result bson.M, key string, value any) {
	arr, _ := result[key].([]any)
	result[key] = append(arr, value)
}

func writeErrorCode(err error) int {
	if dup, ok := err.(*merr.DuplicateKeyError); ok {
		return dup.Code
	}
	return 0
}

func (m InsertOneModel) addToBulk(b *bulkBuilder) error {
	doc := m.Document
	b.executors = append(b.executors, bulkExecutor{
		kind: "insert",
		op:   doc,
		run: func() (bson.M, error) {
			if _, err := b.coll.InsertOne(doc); err != nil {
				return nil, err
			}
			return bson.M{"nInserted": 1}, nil
		},
	})
	return nil
}

func registerUpdate(b *bulkBuilder, filterDoc, updateDoc any, multi, upsert, replacement bool) {
	b.executors = append(b.executors, bulkExecutor{
		kind: "update",
		op:   updateDoc,
		run: func() (bson.M, error) {
			var result *UpdateResult
			var err error
			switch {
			case replacement:
				result, err = b.coll.ReplaceOne(filterDoc, updateDoc, upsert)
			case multi:
				result, err = b.coll.UpdateMany(filterDoc, updateDoc, upsert)
			default:
				result, err = b.coll.UpdateOne(filterDoc, updateDoc, upsert)
			}
			if err != nil {
				return nil, err
			}
			delta := bson.M{
				"nMatched":  result.MatchedCount,
				"nModified": result.ModifiedCount,
			}
			if result.UpsertedID != nil {
				delta["upserted"] = result.UpsertedID
				delta["nUpserted"] = 1
			}
			return delta, nil
		},
	})
}

func (m UpdateOneModel) addToBulk(b *bulkBuilder) error {
	registerUpdate(b, m.Filter, m.Update, false, m.Upsert, false)
	return nil
}

func (m UpdateManyModel) addToBulk(b *bulkBuilder) error {
	registerUpdate(b, m.Filter, m.Update, true, m.Upsert, false)
	return nil
}

func (m ReplaceOneModel) addToBulk(b *bulkBuilder) error {
	registerUpdate(b, m.Filter, m.Replacement, false, m.Upsert, true)
	return nil
}

func registerDelete(b *bulkBuilder, filterDoc any, multi bool) {
	b.executors = append(b.executors, bulkExecutor{
		kind: "remove",
		op:   filterDoc,
		run: func() (bson.M, error) {
			var result *DeleteResult
			var err error
			if multi {
				result, err = b.coll.DeleteMany(filterDoc)
			} else {
				result, err = b.coll.DeleteOne(filterDoc)
			}
			if err != nil {
				return nil, err
			}
			return bson.M{"nRemoved": result.DeletedCount}, nil
		},
	})
}

func (m DeleteOneModel) addToBulk(b *bulkBuilder) error {
	registerDelete(b, m.Filter, false)
	return nil
}

func (m DeleteManyModel) addToBulk(b *bulkBuilder) error {
	registerDelete(b, m.Filter, true)
	return nil
}
