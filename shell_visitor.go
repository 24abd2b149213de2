package mimongo

import (
	"fmt"
	"strconv"

	"github.com/antlr4-go/antlr/v4"
	"github.com/bytebase/parser/mongodb"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mimongo/mimongo/types"
)

// shellOperation represents a parsed shell statement.
type shellOperation struct {
	opType     types.OperationType
	collection string

	filter     bson.D
	sort       bson.D
	projection bson.D
	limit      *int64
	skip       *int64
	pipeline   bson.A

	distinctField string

	document  bson.D
	documents []bson.D
	update    bson.D
	upsert    bool
	returnNew bool
	ordered   *bool

	indexKeys    bson.D
	indexUnique  bool
	indexSparse  bool
	indexName    string
	newName      string
	dropTarget   bool
	createTarget string
}

// shellVisitor extracts one operation from a parse tree.
type shellVisitor struct {
	mongodb.BaseMongoShellParserVisitor
	operation *shellOperation
	err       error
}

func newShellVisitor() *shellVisitor {
	return &shellVisitor{operation: &shellOperation{opType: types.OpUnknown}}
}

func (v *shellVisitor) Visit(tree antlr.ParseTree) any {
	return tree.Accept(v)
}

func (v *shellVisitor) VisitProgram(ctx *mongodb.ProgramContext) any {
	for _, stmt := range ctx.AllStatement() {
		v.visitStatement(stmt)
		if v.err != nil {
			return nil
		}
	}
	return nil
}

func (v *shellVisitor) visitStatement(ctx mongodb.IStatementContext) {
	if ctx.DbStatement() != nil {
		v.visitDbStatement(ctx.DbStatement())
	} else if ctx.ShellCommand() != nil {
		v.visitShellCommand(ctx.ShellCommand())
	}
}

func (v *shellVisitor) visitDbStatement(ctx mongodb.IDbStatementContext) {
	switch c := ctx.(type) {
	case *mongodb.CollectionOperationContext:
		v.visitCollectionOperation(c)
	case *mongodb.GetCollectionNamesContext:
		v.operation.opType = types.OpGetCollectionNames
	case *mongodb.CreateCollectionContext:
		v.operation.opType = types.OpCreateCollection
		v.extractCreateCollectionArgs(c)
	case *mongodb.DropDatabaseContext:
		v.operation.opType = types.OpDropDatabase
	default:
		v.err = &UnsupportedOperationError{Operation: ctx.GetText()}
	}
}

func (v *shellVisitor) visitShellCommand(ctx mongodb.IShellCommandContext) {
	switch ctx.(type) {
	case *mongodb.ShowDatabasesContext:
		v.operation.opType = types.OpShowDatabases
	case *mongodb.ShowCollectionsContext:
		v.operation.opType = types.OpShowCollections
	default:
		v.err = &UnsupportedOperationError{Operation: ctx.GetText(), Hint: "unknown shell command"}
	}
}

func (v *shellVisitor) visitCollectionOperation(ctx *mongodb.CollectionOperationContext) {
	v.operation.collection = v.extractCollectionName(ctx.CollectionAccess())
	if ctx.MethodChain() != nil {
		v.visitMethodChain(ctx.MethodChain())
	}
}

func (v *shellVisitor) extractCollectionName(ctx mongodb.ICollectionAccessContext) string {
	switch c := ctx.(type) {
	case *mongodb.DotAccessContext:
		return c.Identifier().GetText()
	case *mongodb.BracketAccessContext:
		return unquoteString(c.StringLiteral().GetText())
	case *mongodb.GetCollectionAccessContext:
		return unquoteString(c.StringLiteral().GetText())
	}
	return ""
}

func (v *shellVisitor) visitMethodChain(ctx mongodb.IMethodChainContext) {
	mc, ok := ctx.(*mongodb.MethodChainContext)
	if !ok {
		return
	}
	if mc.CollectionMethodCall() != nil {
		v.visitCollectionMethodCall(mc.CollectionMethodCall())
		if v.err != nil {
			return
		}
	}
	for _, cursorCall := range mc.AllCursorMethodCall() {
		v.visitCursorMethodCall(cursorCall)
		if v.err != nil {
			return
		}
	}
}

func (v *shellVisitor) visitCollectionMethodCall(ctx mongodb.ICollectionMethodCallContext) {
	mc, ok := ctx.(*mongodb.CollectionMethodCallContext)
	if !ok {
		return
	}

	switch {
	case mc.FindMethod() != nil:
		v.operation.opType = types.OpFind
		v.extractFindArgs(mc.FindMethod())
	case mc.FindOneMethod() != nil:
		v.operation.opType = types.OpFindOne
		v.extractFindOneArgs(mc.FindOneMethod())
	case mc.CountDocumentsMethod() != nil:
		v.operation.opType = types.OpCountDocuments
		v.extractCountDocumentsArgs(mc.CountDocumentsMethod())
	case mc.EstimatedDocumentCountMethod() != nil:
		v.operation.opType = types.OpEstimatedDocumentCount
	case mc.DistinctMethod() != nil:
		v.operation.opType = types.OpDistinct
		v.extractDistinctArgs(mc.DistinctMethod())
	case mc.AggregateMethod() != nil:
		v.operation.opType = types.OpAggregate
		v.extractAggregateArgs(mc.AggregateMethod())
	case mc.GetIndexesMethod() != nil:
		v.operation.opType = types.OpGetIndexes

	case mc.InsertOneMethod() != nil:
		v.operation.opType = types.OpInsertOne
		v.extractInsertOneArgs(mc.InsertOneMethod())
	case mc.InsertManyMethod() != nil:
		v.operation.opType = types.OpInsertMany
		v.extractInsertManyArgs(mc.InsertManyMethod())
	case mc.UpdateOneMethod() != nil:
		v.operation.opType = types.OpUpdateOne
		v.extractUpdateArgs(methodArguments(mc.UpdateOneMethod()), "updateOne")
	case mc.UpdateManyMethod() != nil:
		v.operation.opType = types.OpUpdateMany
		v.extractUpdateArgs(methodArguments(mc.UpdateManyMethod()), "updateMany")
	case mc.ReplaceOneMethod() != nil:
		v.operation.opType = types.OpReplaceOne
		v.extractUpdateArgs(methodArguments(mc.ReplaceOneMethod()), "replaceOne")
	case mc.DeleteOneMethod() != nil:
		v.operation.opType = types.OpDeleteOne
		v.extractFilterOnlyArgs(methodArguments(mc.DeleteOneMethod()), "deleteOne")
	case mc.DeleteManyMethod() != nil:
		v.operation.opType = types.OpDeleteMany
		v.extractFilterOnlyArgs(methodArguments(mc.DeleteManyMethod()), "deleteMany")
	case mc.FindOneAndUpdateMethod() != nil:
		v.operation.opType = types.OpFindOneAndUpdate
		v.extractFindAndModifyArgs(methodArguments(mc.FindOneAndUpdateMethod()), "findOneAndUpdate", true)
	case mc.FindOneAndReplaceMethod() != nil:
		v.operation.opType = types.OpFindOneAndReplace
		v.extractFindAndModifyArgs(methodArguments(mc.FindOneAndReplaceMethod()), "findOneAndReplace", true)
	case mc.FindOneAndDeleteMethod() != nil:
		v.operation.opType = types.OpFindOneAndDelete
		v.extractFindAndModifyArgs(methodArguments(mc.FindOneAndDeleteMethod()), "findOneAndDelete", false)

	case mc.CreateIndexMethod() != nil:
		v.operation.opType = types.OpCreateIndex
		v.extractCreateIndexArgs(methodArguments(mc.CreateIndexMethod()))
	case mc.CreateIndexesMethod() != nil:
		v.handleUnsupportedMethod("collection", "createIndexes")
	case mc.DropIndexMethod() != nil:
		v.operation.opType = types.OpDropIndex
		v.extractDropIndexArgs(methodArguments(mc.DropIndexMethod()))
	case mc.DropIndexesMethod() != nil:
		v.operation.opType = types.OpDropIndexes
	case mc.DropMethod() != nil:
		v.operation.opType = types.OpDrop
	case mc.RenameCollectionMethod() != nil:
		v.operation.opType = types.OpRenameCollection
		v.extractRenameCollectionArgs(methodArguments(mc.RenameCollectionMethod()))

	case mc.StatsMethod() != nil:
		v.handleUnsupportedMethod("collection", "stats")
	case mc.StorageSizeMethod() != nil:
		v.handleUnsupportedMethod("collection", "storageSize")
	case mc.TotalIndexSizeMethod() != nil:
		v.handleUnsupportedMethod("collection", "totalIndexSize")
	case mc.TotalSizeMethod() != nil:
		v.handleUnsupportedMethod("collection", "totalSize")
	case mc.DataSizeMethod() != nil:
		v.handleUnsupportedMethod("collection", "dataSize")
	case mc.IsCappedMethod() != nil:
		v.handleUnsupportedMethod("collection", "isCapped")
	case mc.ValidateMethod() != nil:
		v.handleUnsupportedMethod("collection", "validate")
	case mc.LatencyStatsMethod() != nil:
		v.handleUnsupportedMethod("collection", "latencyStats")

	default:
		methodName := extractMethodNameFromText(mc.GetText())
		if methodName != "" {
			v.handleUnsupportedMethod("collection", methodName)
		}
	}
}

func (v *shellVisitor) visitCursorMethodCall(ctx mongodb.ICursorMethodCallContext) {
	mc, ok := ctx.(*mongodb.CursorMethodCallContext)
	if !ok {
		return
	}
	switch {
	case mc.SortMethod() != nil:
		v.extractSort(mc.SortMethod())
	case mc.LimitMethod() != nil:
		v.extractLimit(mc.LimitMethod())
	case mc.SkipMethod() != nil:
		v.extractSkip(mc.SkipMethod())
	case mc.ProjectionMethod() != nil:
		v.extractProjection(mc.ProjectionMethod())
	default:
		methodName := extractMethodNameFromText(mc.GetText())
		if methodName != "" {
			v.handleUnsupportedMethod("cursor", methodName)
		}
	}
}

// extractMethodNameFromText extracts the method name from a parse tree text
// before the opening parenthesis.
func extractMethodNameFromText(text string) string {
	for i := 0; i < len(text); i++ {
		if text[i] == '(' {
			return text[:i]
		}
	}
	return text
}

func (v *shellVisitor) handleUnsupportedMethod(context, methodName string) {
	if isPlannedMethod(context, methodName) {
		v.err = &PlannedOperationError{Operation: methodName + "()"}
		return
	}
	v.err = &UnsupportedOperationError{Operation: methodName + "()"}
}

// documentArg converts one positional argument into a bson.D, or nil when
// the argument is absent.
func (v *shellVisitor) documentArg(args []mongodb.IArgumentContext, i int, method, what string) bson.D {
	if i >= len(args) {
		return nil
	}
	argCtx, ok := args[i].(*mongodb.ArgumentContext)
	if !ok {
		return nil
	}
	valueCtx := argCtx.Value()
	if valueCtx == nil {
		return nil
	}
	docValue, ok := valueCtx.(*mongodb.DocumentValueContext)
	if !ok {
		v.err = fmt.Errorf("%s() %s must be a document", method, what)
		return nil
	}
	doc, err := convertDocument(docValue.Document())
	if err != nil {
		v.err = fmt.Errorf("invalid %s: %w", what, err)
		return nil
	}
	return doc
}

func methodArguments(ctx any) []mongodb.IArgumentContext {
	type hasArguments interface {
		Arguments() mongodb.IArgumentsContext
	}
	method, ok := ctx.(hasArguments)
	if !ok {
		return nil
	}
	args := method.Arguments()
	if args == nil {
		return nil
	}
	argsCtx, ok := args.(*mongodb.ArgumentsContext)
	if !ok {
		return nil
	}
	return argsCtx.AllArgument()
}

func (v *shellVisitor) extractFindArgs(ctx mongodb.IFindMethodContext) {
	args := methodArguments(ctx)
	v.operation.filter = v.documentArg(args, 0, "find", "filter")
	if v.err != nil {
		return
	}
	if projection := v.documentArg(args, 1, "find", "projection"); projection != nil {
		v.operation.projection = projection
	}
}

func (v *shellVisitor) extractFindOneArgs(ctx mongodb.IFindOneMethodContext) {
	args := methodArguments(ctx)
	v.operation.filter = v.documentArg(args, 0, "findOne", "filter")
	if v.err != nil {
		return
	}
	if projection := v.documentArg(args, 1, "findOne", "projection"); projection != nil {
		v.operation.projection = projection
	}
}

func (v *shellVisitor) extractCountDocumentsArgs(ctx mongodb.ICountDocumentsMethodContext) {
	args := methodArguments(ctx)
	v.operation.filter = v.documentArg(args, 0, "countDocuments", "filter")
	if v.err != nil {
		return
	}
	options := v.documentArg(args, 1, "countDocuments", "options")
	for _, opt := range options {
		switch opt.Key {
		case "limit":
			if n, ok := int64Value(opt.Value); ok {
				v.operation.limit = &n
			}
		case "skip":
			if n, ok := int64Value(opt.Value); ok {
				v.operation.skip = &n
			}
		case "maxTimeMS", "hint":
			// Accepted and ignored.
		default:
			v.err = &UnsupportedOptionError{Method: "countDocuments()", Option: opt.Key}
			return
		}
	}
}

func (v *shellVisitor) extractDistinctArgs(ctx mongodb.IDistinctMethodContext) {
	args := methodArguments(ctx)
	if len(args) == 0 {
		v.err = fmt.Errorf("distinct() requires a field name argument")
		return
	}
	field, ok := stringArg(args, 0)
	if !ok {
		v.err = fmt.Errorf("distinct() field name must be a string")
		return
	}
	v.operation.distinctField = field
	v.operation.filter = v.documentArg(args, 1, "distinct", "filter")
}

func (v *shellVisitor) extractAggregateArgs(ctx mongodb.IAggregateMethodContext) {
	args := methodArguments(ctx)
	if len(args) == 0 {
		v.operation.pipeline = bson.A{}
		return
	}
	argCtx, ok := args[0].(*mongodb.ArgumentContext)
	if !ok || argCtx.Value() == nil {
		v.operation.pipeline = bson.A{}
		return
	}
	arrayValue, ok := argCtx.Value().(*mongodb.ArrayValueContext)
	if !ok {
		v.err = fmt.Errorf("aggregate() requires an array argument")
		return
	}
	pipeline, err := convertArray(arrayValue.Array())
	if err != nil {
		v.err = fmt.Errorf("invalid aggregation pipeline: %w", err)
		return
	}
	v.operation.pipeline = pipeline
}

func (v *shellVisitor) extractInsertOneArgs(ctx mongodb.IInsertOneMethodContext) {
	args := methodArguments(ctx)
	doc := v.documentArg(args, 0, "insertOne", "document")
	if v.err != nil {
		return
	}
	if doc == nil {
		v.err = fmt.Errorf("insertOne() requires a document argument")
		return
	}
	v.operation.document = doc
}

func (v *shellVisitor) extractInsertManyArgs(ctx mongodb.IInsertManyMethodContext) {
	args := methodArguments(ctx)
	if len(args) == 0 {
		v.err = fmt.Errorf("insertMany() requires an array argument")
		return
	}
	argCtx, ok := args[0].(*mongodb.ArgumentContext)
	if !ok || argCtx.Value() == nil {
		v.err = fmt.Errorf("insertMany() requires an array argument")
		return
	}
	arrayValue, ok := argCtx.Value().(*mongodb.ArrayValueContext)
	if !ok {
		v.err = fmt.Errorf("insertMany() requires an array argument")
		return
	}
	arr, err := convertArray(arrayValue.Array())
	if err != nil {
		v.err = fmt.Errorf("invalid documents: %w", err)
		return
	}
	for _, item := range arr {
		doc, ok := item.(bson.D)
		if !ok {
			v.err = fmt.Errorf("insertMany() elements must be documents")
			return
		}
		v.operation.documents = append(v.operation.documents, doc)
	}
	options := v.documentArg(args, 1, "insertMany", "options")
	for _, opt := range options {
		if opt.Key == "ordered" {
			if b, ok := opt.Value.(bool); ok {
				v.operation.ordered = &b
			}
		}
	}
}

func (v *shellVisitor) extractUpdateArgs(args []mongodb.IArgumentContext, method string) {
	filter := v.documentArg(args, 0, method, "filter")
	if v.err != nil {
		return
	}
	if filter == nil {
		v.err = fmt.Errorf("%s() requires a filter argument", method)
		return
	}
	updateDoc := v.documentArg(args, 1, method, "update")
	if v.err != nil {
		return
	}
	if updateDoc == nil {
		v.err = fmt.Errorf("%s() requires an update argument", method)
		return
	}
	v.operation.filter = filter
	v.operation.update = updateDoc
	options := v.documentArg(args, 2, method, "options")
	for _, opt := range options {
		switch opt.Key {
		case "upsert":
			if b, ok := opt.Value.(bool); ok {
				v.operation.upsert = b
			}
		case "arrayFilters":
			v.err = &PlannedOperationError{Operation: method + "() with arrayFilters"}
			return
		default:
			v.err = &UnsupportedOptionError{Method: method + "()", Option: opt.Key}
			return
		}
	}
}

func (v *shellVisitor) extractFilterOnlyArgs(args []mongodb.IArgumentContext, method string) {
	filter := v.documentArg(args, 0, method, "filter")
	if v.err != nil {
		return
	}
	if filter == nil {
		v.err = fmt.Errorf("%s() requires a filter argument", method)
		return
	}
	v.operation.filter = filter
}

func (v *shellVisitor) extractFindAndModifyArgs(args []mongodb.IArgumentContext, method string, hasUpdate bool) {
	filter := v.documentArg(args, 0, method, "filter")
	if v.err != nil {
		return
	}
	if filter == nil {
		v.err = fmt.Errorf("%s() requires a filter argument", method)
		return
	}
	v.operation.filter = filter

	optsIndex := 1
	if hasUpdate {
		updateDoc := v.documentArg(args, 1, method, "update")
		if v.err != nil {
			return
		}
		if updateDoc == nil {
			v.err = fmt.Errorf("%s() requires an update argument", method)
			return
		}
		v.operation.update = updateDoc
		optsIndex = 2
	}

	options := v.documentArg(args, optsIndex, method, "options")
	for _, opt := range options {
		switch opt.Key {
		case "upsert":
			if b, ok := opt.Value.(bool); ok {
				v.operation.upsert = b
			}
		case "returnDocument":
			if s, ok := opt.Value.(string); ok {
				v.operation.returnNew = s == "after"
			}
		case "returnNewDocument":
			if b, ok := opt.Value.(bool); ok {
				v.operation.returnNew = b
			}
		case "sort":
			if doc, ok := opt.Value.(bson.D); ok {
				v.operation.sort = doc
			}
		case "projection":
			if doc, ok := opt.Value.(bson.D); ok {
				v.operation.projection = doc
			}
		default:
			v.err = &UnsupportedOptionError{Method: method + "()", Option: opt.Key}
			return
		}
	}
}

func (v *shellVisitor) extractCreateIndexArgs(args []mongodb.IArgumentContext) {
	keys := v.documentArg(args, 0, "createIndex", "keys")
	if v.err != nil {
		return
	}
	if keys == nil {
		v.err = fmt.Errorf("createIndex() requires a key specification document")
		return
	}
	v.operation.indexKeys = keys
	options := v.documentArg(args, 1, "createIndex", "options")
	for _, opt := range options {
		switch opt.Key {
		case "unique":
			if b, ok := opt.Value.(bool); ok {
				v.operation.indexUnique = b
			}
		case "sparse":
			if b, ok := opt.Value.(bool); ok {
				v.operation.indexSparse = b
			}
		case "name":
			if s, ok := opt.Value.(string); ok {
				v.operation.indexName = s
			}
		default:
			v.err = &UnsupportedOptionError{Method: "createIndex()", Option: opt.Key}
			return
		}
	}
}

func (v *shellVisitor) extractDropIndexArgs(args []mongodb.IArgumentContext) {
	if len(args) == 0 {
		v.err = fmt.Errorf("dropIndex() requires an index name argument")
		return
	}
	name, ok := stringArg(args, 0)
	if !ok {
		v.err = fmt.Errorf("dropIndex() index name must be a string")
		return
	}
	v.operation.indexName = name
}

func (v *shellVisitor) extractRenameCollectionArgs(args []mongodb.IArgumentContext) {
	if len(args) == 0 {
		v.err = fmt.Errorf("renameCollection() requires a target name argument")
		return
	}
	name, ok := stringArg(args, 0)
	if !ok {
		v.err = fmt.Errorf("renameCollection() target name must be a string")
		return
	}
	v.operation.newName = name
	if len(args) >= 2 {
		if argCtx, ok := args[1].(*mongodb.ArgumentContext); ok && argCtx.Value() != nil {
			if lit, isLit := argCtx.Value().(*mongodb.LiteralValueContext); isLit {
				value, err := convertLiteral(lit.Literal())
				if err == nil {
					if b, isBool := value.(bool); isBool {
						v.operation.dropTarget = b
					}
				}
			}
		}
	}
}

func (v *shellVisitor) extractCreateCollectionArgs(ctx *mongodb.CreateCollectionContext) {
	args := ctx.Arguments()
	if args == nil {
		v.err = fmt.Errorf("createCollection() requires a collection name")
		return
	}
	argsCtx, ok := args.(*mongodb.ArgumentsContext)
	if !ok {
		v.err = fmt.Errorf("createCollection() requires a collection name")
		return
	}
	allArgs := argsCtx.AllArgument()
	name, ok := stringArg(allArgs, 0)
	if !ok {
		v.err = fmt.Errorf("createCollection() collection name must be a string")
		return
	}
	v.operation.createTarget = name
}

func (v *shellVisitor) extractSort(ctx mongodb.ISortMethodContext) {
	sm, ok := ctx.(*mongodb.SortMethodContext)
	if !ok {
		return
	}
	doc := sm.Document()
	if doc == nil {
		v.err = fmt.Errorf("sort() requires a document argument")
		return
	}
	sortDoc, err := convertDocument(doc)
	if err != nil {
		v.err = fmt.Errorf("invalid sort: %w", err)
		return
	}
	v.operation.sort = sortDoc
}

func (v *shellVisitor) extractLimit(ctx mongodb.ILimitMethodContext) {
	lm, ok := ctx.(*mongodb.LimitMethodContext)
	if !ok {
		return
	}
	numNode := lm.NUMBER()
	if numNode == nil {
		v.err = fmt.Errorf("limit() requires a number argument")
		return
	}
	limit, err := strconv.ParseInt(numNode.GetText(), 10, 64)
	if err != nil {
		v.err = fmt.Errorf("invalid limit: %w", err)
		return
	}
	v.operation.limit = &limit
}

func (v *shellVisitor) extractSkip(ctx mongodb.ISkipMethodContext) {
	sm, ok := ctx.(*mongodb.SkipMethodContext)
	if !ok {
		return
	}
	numNode := sm.NUMBER()
	if numNode == nil {
		v.err = fmt.Errorf("skip() requires a number argument")
		return
	}
	skip, err := strconv.ParseInt(numNode.GetText(), 10, 64)
	if err != nil {
		v.err = fmt.Errorf("invalid skip: %w", err)
		return
	}
	v.operation.skip = &skip
}

func (v *shellVisitor) extractProjection(ctx mongodb.IProjectionMethodContext) {
	pm, ok := ctx.(*mongodb.ProjectionMethodContext)
	if !ok {
		return
	}
	doc := pm.Document()
	if doc == nil {
		v.err = fmt.Errorf("projection() requires a document argument")
		return
	}
	projection, err := convertDocument(doc)
	if err != nil {
		v.err = fmt.Errorf("invalid projection: %w", err)
		return
	}
	v.operation.projection = projection
}

func stringArg(args []mongodb.IArgumentContext, i int) (string, bool) {
	if i >= len(args) {
		return "", false
	}
	argCtx, ok := args[i].(*mongodb.ArgumentContext)
	if !ok || argCtx.Value() == nil {
		return "", false
	}
	literalValue, ok := argCtx.Value().(*mongodb.LiteralValueContext)
	if !ok {
		return "", false
	}
	stringLiteral, ok := literalValue.Literal().(*mongodb.StringLiteralValueContext)
	if !ok {
		return "", false
	}
	return unquoteString(stringLiteral.StringLiteral().GetText()), true
}

func int64Value(v any) (int64, bool) {
	switch t := v.(type) {
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		return int64(t), true
	default:
		return 0, false
	}
}
