package mimongo

import (
	"context"

	"github.com/antlr4-go/antlr/v4"
	"github.com/bytebase/parser/mongodb"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mimongo/mimongo/types"
)

// Result represents the outcome of one executed shell statement.
//
// The Value slice contains the operation's return data. The element type
// varies by operation:
//
//   - OpFind, OpAggregate, OpGetIndexes: each element is a bson.D document
//   - OpFindOne, OpFindOneAndUpdate, OpFindOneAndReplace, OpFindOneAndDelete: 0 or 1 element of bson.D
//   - OpCountDocuments, OpEstimatedDocumentCount: single element of int64
//   - OpDistinct: elements are the distinct values
//   - OpShowDatabases, OpShowCollections, OpGetCollectionNames: each element is a string
//   - write operations: single bson.D with the operation result
//   - OpCreateIndex: single element of string (index name)
//   - OpDropIndex, OpDropIndexes, OpCreateCollection, OpDropDatabase, OpRenameCollection: single bson.D with {ok: 1}
//   - OpDrop: single element of bool
type Result struct {
	Operation types.OperationType
	Value     []any
}

// Execute parses a MongoDB shell statement and runs it against the
// in-memory store. The context is accepted for interface compatibility;
// execution is synchronous and does not block on I/O.
func (c *Client) Execute(_ context.Context, database, statement string) (*Result, error) {
	tree, parseErrors := parseMongoShell(statement)
	if len(parseErrors) > 0 {
		first := parseErrors[0]
		return nil, &ParseError{Line: first.Line, Column: first.Column, Message: first.Message}
	}

	visitor := newShellVisitor()
	visitor.Visit(tree)
	if visitor.err != nil {
		return nil, visitor.err
	}
	return c.executeOperation(database, visitor.operation, statement)
}

// parseMongoShell parses a shell statement and returns the parse tree.
func parseMongoShell(statement string) (mongodb.IProgramContext, []*mongodb.MongoShellParseError) {
	is := antlr.NewInputStream(statement)
	lexer := mongodb.NewMongoShellLexer(is)

	errorListener := mongodb.NewMongoShellErrorListener()
	lexer.RemoveErrorListeners()
	lexer.AddErrorListener(errorListener)

	stream := antlr.NewCommonTokenStream(lexer, antlr.TokenDefaultChannel)
	parser := mongodb.NewMongoShellParser(stream)
	parser.RemoveErrorListeners()
	parser.AddErrorListener(errorListener)

	parser.BuildParseTrees = true
	tree := parser.Program()
	return tree, errorListener.Errors
}

func (c *Client) executeOperation(database string, op *shellOperation, statement string) (*Result, error) {
	db := c.Database(database)
	coll := db.Collection(op.collection)

	switch op.opType {
	case types.OpFind:
		cursor := findCursor(coll, op)
		docs, err := cursor.All()
		if err != nil {
			return nil, err
		}
		return &Result{Operation: op.opType, Value: docsToValues(docs)}, nil

	case types.OpFindOne:
		doc, err := findCursor(coll, op).One()
		if err != nil {
			return nil, err
		}
		return &Result{Operation: op.opType, Value: optionalDoc(doc)}, nil

	case types.OpAggregate:
		docs, err := coll.Aggregate(op.pipeline)
		if err != nil {
			return nil, err
		}
		return &Result{Operation: op.opType, Value: docsToValues(docs)}, nil

	case types.OpCountDocuments:
		opts := CountOptions{}
		if op.skip != nil {
			opts.Skip = int(*op.skip)
		}
		if op.limit != nil {
			opts.Limit = int(*op.limit)
		}
		n, err := coll.CountDocuments(op.filter, opts)
		if err != nil {
			return nil, err
		}
		return &Result{Operation: op.opType, Value: []any{int64(n)}}, nil

	case types.OpEstimatedDocumentCount:
		return &Result{Operation: op.opType, Value: []any{int64(coll.EstimatedDocumentCount())}}, nil

	case types.OpDistinct:
		values, err := coll.Distinct(op.distinctField, op.filter)
		if err != nil {
			return nil, err
		}
		return &Result{Operation: op.opType, Value: values}, nil

	case types.OpGetIndexes:
		return &Result{Operation: op.opType, Value: docsToValues(coll.ListIndexes())}, nil

	case types.OpInsertOne:
		result, err := coll.InsertOne(op.document)
		if err != nil {
			return nil, err
		}
		return &Result{Operation: op.opType, Value: []any{bson.D{
			{Key: "acknowledged", Value: true},
			{Key: "insertedId", Value: result.InsertedID},
		}}}, nil

	case types.OpInsertMany:
		ordered := true
		if op.ordered != nil {
			ordered = *op.ordered
		}
		docs := make([]any, len(op.documents))
		for i, d := range op.documents {
			docs[i] = d
		}
		result, err := coll.InsertMany(docs, ordered)
		if err != nil {
			return nil, err
		}
		return &Result{Operation: op.opType, Value: []any{bson.D{
			{Key: "acknowledged", Value: true},
			{Key: "insertedIds", Value: bson.A(result.InsertedIDs)},
		}}}, nil

	case types.OpUpdateOne, types.OpUpdateMany, types.OpReplaceOne:
		var result *UpdateResult
		var err error
		switch op.opType {
		case types.OpUpdateOne:
			result, err = coll.UpdateOne(op.filter, op.update, op.upsert)
		case types.OpUpdateMany:
			result, err = coll.UpdateMany(op.filter, op.update, op.upsert)
		default:
			result, err = coll.ReplaceOne(op.filter, op.update, op.upsert)
		}
		if err != nil {
			return nil, err
		}
		response := bson.D{
			{Key: "acknowledged", Value: true},
			{Key: "matchedCount", Value: int64(result.MatchedCount)},
			{Key: "modifiedCount", Value: int64(result.ModifiedCount)},
		}
		if result.UpsertedID != nil {
			response = append(response, bson.E{Key: "upsertedId", Value: result.UpsertedID})
		}
		return &Result{Operation: op.opType, Value: []any{response}}, nil

	case types.OpDeleteOne, types.OpDeleteMany:
		var result *DeleteResult
		var err error
		if op.opType == types.OpDeleteOne {
			result, err = coll.DeleteOne(op.filter)
		} else {
			result, err = coll.DeleteMany(op.filter)
		}
		if err != nil {
			return nil, err
		}
		return &Result{Operation: op.opType, Value: []any{bson.D{
			{Key: "acknowledged", Value: true},
			{Key: "deletedCount", Value: int64(result.DeletedCount)},
		}}}, nil

	case types.OpFindOneAndUpdate, types.OpFindOneAndReplace, types.OpFindOneAndDelete:
		opts := FindModifyOptions{
			Projection:  optionalSpec(op.projection),
			Sort:        optionalSpec(op.sort),
			Upsert:      op.upsert,
			ReturnAfter: op.returnNew,
		}
		var doc bson.D
		var err error
		switch op.opType {
		case types.OpFindOneAndUpdate:
			doc, err = coll.FindOneAndUpdate(op.filter, op.update, opts)
		case types.OpFindOneAndReplace:
			doc, err = coll.FindOneAndReplace(op.filter, op.update, opts)
		default:
			doc, err = coll.FindOneAndDelete(op.filter, opts)
		}
		if err != nil {
			return nil, err
		}
		return &Result{Operation: op.opType, Value: optionalDoc(doc)}, nil

	case types.OpCreateIndex:
		name, err := coll.CreateIndex(op.indexKeys, IndexOptions{Unique: op.indexUnique, Sparse: op.indexSparse})
		if err != nil {
			return nil, err
		}
		return &Result{Operation: op.opType, Value: []any{name}}, nil

	case types.OpDropIndex:
		coll.DropIndex(op.indexName)
		return okResult(op.opType), nil

	case types.OpDropIndexes:
		coll.DropIndexes()
		return okResult(op.opType), nil

	case types.OpDrop:
		coll.Drop()
		return &Result{Operation: op.opType, Value: []any{true}}, nil

	case types.OpRenameCollection:
		if err := coll.Rename(op.newName, op.dropTarget); err != nil {
			return nil, err
		}
		return okResult(op.opType), nil

	case types.OpCreateCollection:
		if _, err := db.CreateCollection(op.createTarget); err != nil {
			return nil, err
		}
		return okResult(op.opType), nil

	case types.OpDropDatabase:
		c.DropDatabase(database)
		return okResult(op.opType), nil

	case types.OpShowCollections, types.OpGetCollectionNames:
		names := db.ListCollectionNames()
		values := make([]any, len(names))
		for i, name := range names {
			values[i] = name
		}
		return &Result{Operation: op.opType, Value: values}, nil

	case types.OpShowDatabases:
		names := c.ListDatabaseNames()
		values := make([]any, len(names))
		for i, name := range names {
			values[i] = name
		}
		return &Result{Operation: op.opType, Value: values}, nil

	default:
		return nil, &UnsupportedOperationError{Operation: statement}
	}
}

func okResult(op types.OperationType) *Result {
	return &Result{Operation: op, Value: []any{bson.D{{Key: "ok", Value: int32(1)}}}}
}

func findCursor(coll *Collection, op *shellOperation) *Cursor {
	cursor := coll.Find(op.filter)
	if op.projection != nil {
		cursor.Project(op.projection)
	}
	if op.sort != nil {
		cursor.Sort(op.sort)
	}
	if op.skip != nil {
		cursor.Skip(int(*op.skip))
	}
	if op.limit != nil {
		cursor.Limit(int(*op.limit))
	}
	return cursor
}

func docsToValues(docs []bson.D) []any {
	values := make([]any, len(docs))
	for i, doc := range docs {
		values[i] = doc
	}
	return values
}

func optionalDoc(doc bson.D) []any {
	if doc == nil {
		return nil
	}
	return []any{doc}
}

func optionalSpec(doc bson.D) any {
	if doc == nil {
		return nil
	}
	return doc
}
