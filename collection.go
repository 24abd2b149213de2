package mimongo

import (
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mimongo/mimongo/internal/aggregate"
	"github.com/mimongo/mimongo/internal/document"
	"github.com/mimongo/mimongo/internal/filter"
	"github.com/mimongo/mimongo/internal/update"
	"github.com/mimongo/mimongo/merr"
)

// Collection is an insertion-ordered map from _id to document plus index
// metadata. All writes run under the client's lock; reads observe the state
// visible at evaluation time.
type Collection struct {
	db   *Database
	name string

	ids  []string
	docs map[string]*document.Doc

	indexNames   []string
	indexes      map[string]indexMeta
	forceCreated bool
}

// IndexKey is one component of an index specification.
type IndexKey struct {
	Field     string
	Direction int
}

type indexMeta struct {
	keys   []IndexKey
	unique bool
	sparse bool
}

func newCollection(db *Database, name string) *Collection {
	return &Collection{
		db:         db,
		name:       name,
		docs:       map[string]*document.Doc{},
		indexNames: []string{"_id_"},
		indexes: map[string]indexMeta{
			"_id_": {keys: []IndexKey{{Field: "_id", Direction: 1}}},
		},
	}
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.name
}

// FullName returns the namespaced collection name.
func (c *Collection) FullName() string {
	return c.db.name + "." + c.name
}

// Database returns the owning database.
func (c *Collection) Database() *Database {
	return c.db
}

// resetLocked empties the collection: documents gone, indexes back to the
// implicit _id_ index.
func (c *Collection) resetLocked() {
	c.ids = nil
	c.docs = map[string]*document.Doc{}
	c.indexNames = []string{"_id_"}
	c.indexes = map[string]indexMeta{
		"_id_": {keys: []IndexKey{{Field: "_id", Direction: 1}}},
	}
	c.forceCreated = false
}

func (c *Collection) isCreated() bool {
	return len(c.docs) > 0 || len(c.indexNames) > 1 || c.forceCreated
}

// snapshotLocked returns the stored documents in insertion order. The
// returned slice is fresh but the documents are the live ones.
func (c *Collection) snapshotLocked() []*document.Doc {
	out := make([]*document.Doc, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, c.docs[id])
	}
	return out
}

// InsertOne inserts a single document, assigning an ObjectID when no _id is
// given. For a bson.M or map[string]any input the assigned _id is also
// written into the caller's map.
func (c *Collection) InsertOne(doc any) (*InsertOneResult, error) {
	internal, err := document.FromAny(doc)
	if err != nil {
		return nil, err
	}
	c.db.client.mu.Lock()
	defer c.db.client.mu.Unlock()
	id, err := c.insertLocked(internal)
	if err != nil {
		return nil, err
	}
	extID := document.Externalize(id)
	switch m := doc.(type) {
	case bson.M:
		if _, has := m["_id"]; !has {
			m["_id"] = extID
		}
	case map[string]any:
		if _, has := m["_id"]; !has {
			m["_id"] = extID
		}
	}
	return &InsertOneResult{InsertedID: extID, Acknowledged: true}, nil
}

// InsertMany inserts documents in order. In ordered mode the first failure
// aborts; in unordered mode the remaining documents are still attempted.
// Either way failures surface as a BulkWriteError carrying per-document
// write errors.
func (c *Collection) InsertMany(docs []any, ordered bool) (*InsertManyResult, error) {
	if len(docs) == 0 {
		return nil, merr.Validationf("documents must be a non-empty list")
	}
	internal := make([]*document.Doc, len(docs))
	for i, doc := range docs {
		d, err := document.FromAny(doc)
		if err != nil {
			return nil, err
		}
		internal[i] = d
	}

	c.db.client.mu.Lock()
	defer c.db.client.mu.Unlock()

	var ids []any
	var writeErrors []any
	for i, doc := range internal {
		id, err := c.insertLocked(doc)
		if err != nil {
			writeErrors = append(writeErrors, bson.M{
				"index":  i,
				"code":   11000,
				"errmsg": err.Error(),
				"op":     doc.ToBSON(),
			})
			if ordered {
				break
			}
			continue
		}
		ids = append(ids, document.Externalize(id))
	}
	if len(writeErrors) > 0 {
		return nil, &merr.BulkWriteError{Details: bson.M{
			"writeErrors": writeErrors,
			"nInserted":   len(ids),
		}}
	}
	return &InsertManyResult{InsertedIDs: ids, Acknowledged: true}, nil
}

// insertLocked stores a deep copy of doc, assigns a missing _id, and
// enforces the unique indexes, rolling the map entry back on violation.
func (c *Collection) insertLocked(doc *document.Doc) (any, error) {
	if !doc.Has("_id") {
		doc.Set("_id", bson.NewObjectID())
	}
	id, _ := doc.Get("_id")
	key := document.CanonicalKey(id)
	if _, exists := c.docs[key]; exists {
		return nil, merr.NewDuplicateKeyError()
	}

	stored := doc.Clone()
	c.docs[key] = stored
	c.ids = append(c.ids, key)

	if err := c.ensureUniquesLocked(stored); err != nil {
		delete(c.docs, key)
		c.ids = c.ids[:len(c.ids)-1]
		c.db.client.logger.Debug().Str("collection", c.FullName()).Msg("insert rolled back on unique violation")
		return nil, err
	}
	c.db.client.logger.Debug().Str("collection", c.FullName()).Msg("inserted document")
	return id, nil
}

// ensureUniquesLocked verifies every unique index still holds with doc
// present in the map.
func (c *Collection) ensureUniquesLocked(doc *document.Doc) error {
	for _, name := range c.indexNames {
		meta := c.indexes[name]
		if !meta.unique || name == "_id_" {
			continue
		}
		tuple, skip := c.indexTuple(doc, meta)
		if skip {
			continue
		}
		count := 0
		for _, id := range c.ids {
			other, otherSkip := c.indexTuple(c.docs[id], meta)
			if otherSkip {
				continue
			}
			if other == tuple {
				count++
			}
		}
		if count > 1 {
			return merr.NewDuplicateKeyError()
		}
	}
	return nil
}

// indexTuple extracts the canonical unique-index key of one document. A
// sparse index skips documents whose trailing indexed field is absent.
func (c *Collection) indexTuple(doc *document.Doc, meta indexMeta) (tuple string, skip bool) {
	var sb strings.Builder
	missingLast := false
	for _, key := range meta.keys {
		v, err := document.GetPath(doc, key.Field)
		if err != nil {
			v = nil
			missingLast = true
		} else {
			missingLast = false
		}
		sb.WriteString(document.CanonicalKey(v))
		sb.WriteByte('|')
	}
	if meta.sparse && missingLast {
		return "", true
	}
	return sb.String(), false
}

// matchingLocked returns the stored documents satisfying the query, in
// insertion order.
func (c *Collection) matchingLocked(query *document.Doc) ([]*document.Doc, error) {
	var out []*document.Doc
	for _, id := range c.ids {
		doc := c.docs[id]
		matched, err := filter.Applies(query, doc)
		if err != nil {
			return nil, err
		}
		if matched {
			out = append(out, doc)
		}
	}
	return out, nil
}

// UpdateOne applies an operator-mode update to the first matching document,
// inserting one when upsert is set and nothing matches.
func (c *Collection) UpdateOne(filterDoc, updateDoc any, upsert bool) (*UpdateResult, error) {
	return c.updateEntry(filterDoc, updateDoc, upsert, false, true)
}

// UpdateMany applies an operator-mode update to every matching document.
func (c *Collection) UpdateMany(filterDoc, updateDoc any, upsert bool) (*UpdateResult, error) {
	return c.updateEntry(filterDoc, updateDoc, upsert, true, true)
}

// ReplaceOne replaces the first matching document with a plain document.
func (c *Collection) ReplaceOne(filterDoc, replacement any, upsert bool) (*UpdateResult, error) {
	return c.updateEntry(filterDoc, replacement, upsert, false, false)
}

func (c *Collection) updateEntry(filterDoc, updateDoc any, upsert, multi, operatorMode bool) (*UpdateResult, error) {
	query, err := internalizeFilter(filterDoc, true)
	if err != nil {
		return nil, err
	}
	upd, err := document.FromAny(updateDoc)
	if err != nil {
		return nil, err
	}
	if operatorMode {
		if err := update.ValidateOperatorUpdate(upd); err != nil {
			return nil, err
		}
	} else if err := update.ValidateReplacement(upd); err != nil {
		return nil, err
	}

	c.db.client.mu.Lock()
	defer c.db.client.mu.Unlock()
	outcome, err := c.updateLocked(query, upd, upsert, multi)
	if err != nil {
		return nil, err
	}
	matched := outcome.n
	if outcome.upserted != nil {
		matched--
	}
	return &UpdateResult{
		MatchedCount:  matched,
		ModifiedCount: outcome.nModified,
		UpsertedID:    document.Externalize(outcome.upserted),
		Acknowledged:  true,
	}, nil
}

type updateOutcome struct {
	n         int
	nModified int
	upserted  any
}

// updateLocked walks the matching documents (plus an upsert sentinel),
// applying the update to each. Modified documents are re-validated against
// the unique indexes; a violation restores the pre-update snapshot.
func (c *Collection) updateLocked(query, upd *document.Doc, upsert, multi bool) (updateOutcome, error) {
	var outcome updateOutcome

	matches, err := c.matchingLocked(query)
	if err != nil {
		return outcome, err
	}

	for _, existing := range append(matches, nil) {
		wasInsert := false
		if existing == nil {
			if !upsert || outcome.n > 0 {
				continue
			}
			seed, err := upsertSeed(query, upd)
			if err != nil {
				return outcome, err
			}
			existing = seed
			wasInsert = true
		}

		var snapshot *document.Doc
		var snapshotKey string
		if !wasInsert {
			id, _ := existing.Get("_id")
			snapshotKey = document.CanonicalKey(id)
			snapshot = existing.Clone()
		}
		outcome.n++

		resolver := update.NewResolver(query)
		if err := update.Apply(existing, upd, resolver, wasInsert); err != nil {
			if !wasInsert {
				c.docs[snapshotKey] = snapshot
			}
			return outcome, err
		}

		if wasInsert {
			id, err := c.insertLocked(existing)
			if err != nil {
				return outcome, err
			}
			outcome.upserted = id
		} else {
			outcome.nModified++
			if err := c.ensureUniquesLocked(existing); err != nil {
				c.docs[snapshotKey] = snapshot
				c.db.client.logger.Debug().Str("collection", c.FullName()).Msg("update rolled back on unique violation")
				return outcome, err
			}
		}

		if !multi {
			break
		}
	}
	return outcome, nil
}

// upsertSeed builds the document an upsert starts from: the filter's
// equality fields with dotted keys expanded, plus the _id the write will
// use.
func upsertSeed(query, upd *document.Doc) (*document.Doc, error) {
	seed := document.New()
	roots := map[string]string{}
	for _, k := range query.Keys() {
		if strings.HasPrefix(k, "$") {
			continue
		}
		v, _ := query.Get(k)
		if spec, isDoc := v.(*document.Doc); isDoc && spec.Len() > 0 && strings.HasPrefix(spec.Keys()[0], "$") {
			// Operator conditions do not contribute default fields.
			continue
		}
		root := k
		var expanded any = document.CloneValue(v)
		if i := strings.Index(k, "."); i >= 0 {
			root = k[:i]
			parts := strings.Split(k, ".")
			for j := len(parts) - 1; j >= 1; j-- {
				wrap := document.New()
				wrap.Set(parts[j], expanded)
				expanded = wrap
			}
		}
		if prev, clash := roots[root]; clash {
			return nil, &merr.WriteError{Message: "cannot infer query fields to set, both paths '" + k + "' and '" + prev + "' are matched"}
		}
		roots[root] = k
		seed.Set(root, expanded)
	}

	if !seed.Has("_id") {
		if id, ok := upd.Get("_id"); ok {
			seed.Set("_id", id)
		} else {
			seed.Set("_id", bson.NewObjectID())
		}
	}
	return seed, nil
}

// DeleteOne removes the first matching document.
func (c *Collection) DeleteOne(filterDoc any) (*DeleteResult, error) {
	return c.delete(filterDoc, false)
}

// DeleteMany removes every matching document.
func (c *Collection) DeleteMany(filterDoc any) (*DeleteResult, error) {
	return c.delete(filterDoc, true)
}

func (c *Collection) delete(filterDoc any, multi bool) (*DeleteResult, error) {
	query, err := internalizeFilter(filterDoc, false)
	if err != nil {
		return nil, err
	}
	c.db.client.mu.Lock()
	defer c.db.client.mu.Unlock()

	matches, err := c.matchingLocked(query)
	if err != nil {
		return nil, err
	}
	deleted := 0
	for _, doc := range matches {
		id, _ := doc.Get("_id")
		key := document.CanonicalKey(id)
		if _, ok := c.docs[key]; !ok {
			continue
		}
		delete(c.docs, key)
		for i, k := range c.ids {
			if k == key {
				c.ids = append(c.ids[:i], c.ids[i+1:]...)
				break
			}
		}
		deleted++
		if !multi {
			break
		}
	}
	c.db.client.logger.Debug().Str("collection", c.FullName()).Int("n", deleted).Msg("deleted documents")
	return &DeleteResult{DeletedCount: deleted, Acknowledged: true}, nil
}

// Find returns a lazy cursor over the matching documents.
func (c *Collection) Find(filterDoc any) *Cursor {
	query, err := internalizeFilter(filterDoc, true)
	return newCursor(c, query, err)
}

// FindOne returns the first matching document, or nil when nothing matches.
// A non-document filter is treated as an _id value.
func (c *Collection) FindOne(filterDoc any) (bson.D, error) {
	query, err := internalizeFilter(filterDoc, false)
	if err != nil {
		return nil, err
	}
	return newCursor(c, query, nil).One()
}

// CountOptions bounds CountDocuments. A zero Limit means no limit.
type CountOptions struct {
	Skip  int
	Limit int
}

// CountDocuments counts the matching documents, applying skip and limit.
func (c *Collection) CountDocuments(filterDoc any, opts CountOptions) (int, error) {
	if opts.Limit < 0 {
		return 0, merr.OperationFailuref("the limit must be positive")
	}
	query, err := internalizeFilter(filterDoc, true)
	if err != nil {
		return 0, err
	}
	matches, err := c.matchingLocked(query)
	if err != nil {
		return 0, err
	}
	count := len(matches) - opts.Skip
	if count < 0 {
		count = 0
	}
	if opts.Limit > 0 && count > opts.Limit {
		count = opts.Limit
	}
	return count, nil
}

// EstimatedDocumentCount returns the collection size without filtering.
func (c *Collection) EstimatedDocumentCount() int {
	return len(c.ids)
}

// Distinct returns the distinct values at a dotted key across the matching
// documents, ordered as Cursor.Distinct orders them.
func (c *Collection) Distinct(key string, filterDoc any) ([]any, error) {
	return c.Find(filterDoc).Distinct(key)
}

// Aggregate runs an aggregation pipeline over a snapshot of the collection.
func (c *Collection) Aggregate(pipeline any) ([]bson.D, error) {
	stages, err := internalizePipeline(pipeline)
	if err != nil {
		return nil, err
	}

	c.db.client.mu.Lock()
	buffer := make([]*document.Doc, 0, len(c.ids))
	for _, id := range c.ids {
		buffer = append(buffer, c.docs[id].Clone())
	}
	c.db.client.mu.Unlock()

	env := &aggregate.Env{
		Lookup: func(name string) aggregate.Source {
			return &collectionSource{coll: c.db.Collection(name)}
		},
		Rand: c.db.client.rnd,
	}
	result, err := aggregate.Run(buffer, stages, env)
	if err != nil {
		return nil, err
	}
	out := make([]bson.D, 0, len(result))
	for _, doc := range result {
		out = append(out, doc.ToBSON())
	}
	return out, nil
}

func internalizePipeline(pipeline any) ([]any, error) {
	var raw []any
	switch t := pipeline.(type) {
	case nil:
		return nil, nil
	case bson.A:
		raw = t
	case []any:
		raw = t
	case []bson.D:
		raw = make([]any, len(t))
		for i, stage := range t {
			raw[i] = stage
		}
	case []bson.M:
		raw = make([]any, len(t))
		for i, stage := range t {
			raw[i] = stage
		}
	default:
		return nil, merr.Validationf("pipeline must be a list of stages")
	}
	out := make([]any, len(raw))
	for i, stage := range raw {
		out[i] = document.Internalize(stage)
	}
	return out, nil
}

// collectionSource adapts a sibling collection for $lookup and $out.
type collectionSource struct {
	coll *Collection
}

func (s *collectionSource) Snapshot() []*document.Doc {
	s.coll.db.client.mu.Lock()
	defer s.coll.db.client.mu.Unlock()
	out := make([]*document.Doc, 0, len(s.coll.ids))
	for _, id := range s.coll.ids {
		out = append(out, s.coll.docs[id].Clone())
	}
	return out
}

func (s *collectionSource) Count() int {
	return s.coll.EstimatedDocumentCount()
}

func (s *collectionSource) Drop() {
	s.coll.Drop()
}

func (s *collectionSource) InsertDocs(docs []*document.Doc) error {
	s.coll.db.client.mu.Lock()
	defer s.coll.db.client.mu.Unlock()
	for _, doc := range docs {
		if _, err := s.coll.insertLocked(doc.Clone()); err != nil {
			return err
		}
	}
	return nil
}

// MapReduce would require an embedded JavaScript engine, which this store
// does not carry.
func (c *Collection) MapReduce(mapFunc, reduceFunc string, out any) error {
	return merr.NotImplemented("map-reduce (requires a JavaScript engine)")
}

// Group is the legacy JavaScript group command; like MapReduce it needs a
// JavaScript engine.
func (c *Collection) Group(key []string, condition any, initial any, reduce string) error {
	return merr.NotImplemented("the group command (requires a JavaScript engine)")
}

// internalizeFilter normalizes a caller-supplied filter. When strict is set
// a non-document filter fails; otherwise it is treated as an _id value, the
// way find_one and the delete helpers behave.
func internalizeFilter(filterDoc any, strict bool) (*document.Doc, error) {
	switch filterDoc.(type) {
	case nil:
		return document.New(), nil
	case bson.D, bson.M, map[string]any, *document.Doc:
		return document.FromAny(filterDoc)
	default:
		if strict {
			return nil, merr.Validationf("filter must be a document, got %T", filterDoc)
		}
		byID := document.New()
		byID.Set("_id", document.Internalize(filterDoc))
		return byID, nil
	}
}
