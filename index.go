package mimongo

import (
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mimongo/mimongo/internal/document"
	"github.com/mimongo/mimongo/merr"
)

// IndexOptions configures CreateIndex.
type IndexOptions struct {
	Unique bool
	Sparse bool
}

// CreateIndex registers an index over the given key specification: a field
// name string or a bson.D of field/direction pairs. A unique index scans the
// existing documents first and fails on the first duplicate key tuple.
func (c *Collection) CreateIndex(keys any, opts IndexOptions) (string, error) {
	indexKeys, err := indexKeyList(keys)
	if err != nil {
		return "", err
	}

	var parts []string
	for _, k := range indexKeys {
		parts = append(parts, k.Field, strconv.Itoa(k.Direction))
	}
	name := strings.Join(parts, "_")

	c.db.client.mu.Lock()
	defer c.db.client.mu.Unlock()

	meta := indexMeta{keys: indexKeys, unique: opts.Unique, sparse: opts.Sparse}
	if opts.Unique {
		seen := map[string]bool{}
		for _, id := range c.ids {
			tuple, skip := c.indexTuple(c.docs[id], meta)
			if skip {
				continue
			}
			if seen[tuple] {
				return "", merr.NewDuplicateKeyError()
			}
			seen[tuple] = true
		}
	}

	if _, exists := c.indexes[name]; !exists {
		c.indexNames = append(c.indexNames, name)
	}
	c.indexes[name] = meta
	c.db.client.logger.Debug().Str("collection", c.FullName()).Str("index", name).Msg("created index")
	return name, nil
}

func indexKeyList(keys any) ([]IndexKey, error) {
	switch t := keys.(type) {
	case string:
		return []IndexKey{{Field: t, Direction: 1}}, nil
	case []IndexKey:
		return t, nil
	case bson.D:
		out := make([]IndexKey, 0, len(t))
		for _, e := range t {
			dir, ok := document.AsFloat(document.Internalize(e.Value))
			if !ok || (dir != 1 && dir != -1) {
				return nil, merr.Validationf("index direction for %s must be 1 or -1", e.Key)
			}
			out = append(out, IndexKey{Field: e.Key, Direction: int(dir)})
		}
		if len(out) == 0 {
			return nil, merr.Validationf("index specification cannot be empty")
		}
		return out, nil
	default:
		return nil, merr.Validationf("index keys must be a string or a bson.D, got %T", keys)
	}
}

// DropIndex removes the named index; unknown names are tolerated.
func (c *Collection) DropIndex(name string) {
	c.db.client.mu.Lock()
	defer c.db.client.mu.Unlock()
	if _, ok := c.indexes[name]; !ok || name == "_id_" {
		return
	}
	delete(c.indexes, name)
	for i, n := range c.indexNames {
		if n == name {
			c.indexNames = append(c.indexNames[:i], c.indexNames[i+1:]...)
			break
		}
	}
}

// DropIndexes removes every index except the implicit _id_ index.
func (c *Collection) DropIndexes() {
	c.db.client.mu.Lock()
	defer c.db.client.mu.Unlock()
	c.indexNames = []string{"_id_"}
	c.indexes = map[string]indexMeta{
		"_id_": {keys: []IndexKey{{Field: "_id", Direction: 1}}},
	}
}

// Reindex is accepted for compatibility and does nothing.
func (c *Collection) Reindex() {}

// ListIndexes returns one descriptor document per index, in creation order.
func (c *Collection) ListIndexes() []bson.D {
	c.db.client.mu.Lock()
	defer c.db.client.mu.Unlock()
	out := make([]bson.D, 0, len(c.indexNames))
	for _, name := range c.indexNames {
		out = append(out, c.indexDescriptorLocked(name))
	}
	return out
}

func (c *Collection) indexDescriptorLocked(name string) bson.D {
	meta := c.indexes[name]
	keyDoc := make(bson.D, 0, len(meta.keys))
	for _, k := range meta.keys {
		keyDoc = append(keyDoc, bson.E{Key: k.Field, Value: int32(k.Direction)})
	}
	desc := bson.D{
		{Key: "v", Value: int32(2)},
		{Key: "key", Value: keyDoc},
		{Key: "name", Value: name},
		{Key: "ns", Value: c.FullName()},
	}
	if meta.unique {
		desc = append(desc, bson.E{Key: "unique", Value: true})
	}
	if meta.sparse {
		desc = append(desc, bson.E{Key: "sparse", Value: true})
	}
	return desc
}

// IndexInformation returns the index descriptors keyed by index name.
func (c *Collection) IndexInformation() map[string]bson.D {
	c.db.client.mu.Lock()
	defer c.db.client.mu.Unlock()
	out := make(map[string]bson.D, len(c.indexNames))
	for _, name := range c.indexNames {
		out[name] = c.indexDescriptorLocked(name)
	}
	return out
}

// Drop removes the collection from its database.
func (c *Collection) Drop() {
	c.db.DropCollection(c.name)
}

// Rename renames the collection within its database.
func (c *Collection) Rename(newName string, dropTarget bool) error {
	return c.db.RenameCollection(c.name, newName, dropTarget)
}

// CollectionOptions mirrors the with_options surface. Only default values
// are accepted; anything else is valid MongoDB this engine does not model.
type CollectionOptions struct {
	CodecOptions   any
	ReadPreference any
	WriteConcern   any
	ReadConcern    any
}

// WithOptions returns the collection itself when every option is the
// default, and fails otherwise.
func (c *Collection) WithOptions(opts CollectionOptions) (*Collection, error) {
	if opts.CodecOptions != nil {
		return nil, merr.NotImplemented("the codec_options parameter of with_options")
	}
	if opts.ReadPreference != nil {
		return nil, merr.NotImplemented("the read_preference parameter of with_options")
	}
	if opts.WriteConcern != nil {
		return nil, merr.NotImplemented("the write_concern parameter of with_options")
	}
	if opts.ReadConcern != nil {
		return nil, merr.NotImplemented("the read_concern parameter of with_options")
	}
	return c, nil
}
