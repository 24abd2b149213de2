package mimongo

import (
	"github.com/mimongo/mimongo/merr"
)

// Database is an ordered set of collections inside a Client.
type Database struct {
	client *Client
	name   string

	collNames []string
	colls     map[string]*Collection
}

// Name returns the database name.
func (db *Database) Name() string {
	return db.name
}

// Client returns the owning client.
func (db *Database) Client() *Client {
	return db.client
}

// Collection returns a handle to the named collection, creating it lazily.
// A collection only shows up in ListCollectionNames once it holds documents
// or indexes.
func (db *Database) Collection(name string) *Collection {
	db.client.mu.Lock()
	defer db.client.mu.Unlock()
	return db.collectionLocked(name)
}

func (db *Database) collectionLocked(name string) *Collection {
	if coll, ok := db.colls[name]; ok {
		return coll
	}
	coll := newCollection(db, name)
	db.colls[name] = coll
	db.collNames = append(db.collNames, name)
	return coll
}

// CreateCollection creates the named collection explicitly, failing if it
// already exists.
func (db *Database) CreateCollection(name string) (*Collection, error) {
	db.client.mu.Lock()
	defer db.client.mu.Unlock()
	if coll, ok := db.colls[name]; ok && coll.isCreated() {
		return nil, &merr.CollectionInvalid{Message: "collection " + name + " already exists"}
	}
	coll := db.collectionLocked(name)
	coll.forceCreated = true
	return coll, nil
}

// ListCollectionNames returns the created collections in the order their
// names were first registered in this database (by Collection,
// CreateCollection or a rename).
func (db *Database) ListCollectionNames() []string {
	db.client.mu.Lock()
	defer db.client.mu.Unlock()
	return db.listCollectionNamesLocked()
}

func (db *Database) listCollectionNamesLocked() []string {
	var names []string
	for _, name := range db.collNames {
		if db.colls[name].isCreated() {
			names = append(names, name)
		}
	}
	return names
}

// DropCollection removes the named collection, its documents and indexes.
// Unknown names are tolerated.
func (db *Database) DropCollection(name string) {
	db.client.mu.Lock()
	defer db.client.mu.Unlock()
	db.dropCollectionLocked(name)
}

// dropCollectionLocked clears the collection in place so existing handles
// stay usable; the emptied collection no longer counts as created.
func (db *Database) dropCollectionLocked(name string) {
	coll, ok := db.colls[name]
	if !ok {
		return
	}
	coll.resetLocked()
	db.client.logger.Debug().Str("collection", db.name+"."+name).Msg("dropped collection")
}

// RenameCollection renames oldName to newName. The target must not exist
// unless dropTarget is set.
func (db *Database) RenameCollection(oldName, newName string, dropTarget bool) error {
	db.client.mu.Lock()
	defer db.client.mu.Unlock()

	coll, ok := db.colls[oldName]
	if !ok || !coll.isCreated() {
		return merr.OperationFailuref("source namespace does not exist: %s.%s", db.name, oldName)
	}
	if target, exists := db.colls[newName]; exists && target.isCreated() {
		if !dropTarget {
			return merr.OperationFailuref("target namespace exists: %s.%s", db.name, newName)
		}
		db.dropCollectionLocked(newName)
	}
	db.removeHandleLocked(oldName)
	db.removeHandleLocked(newName)
	coll.name = newName
	db.colls[newName] = coll
	db.collNames = append(db.collNames, newName)
	return nil
}

func (db *Database) removeHandleLocked(name string) {
	if _, ok := db.colls[name]; !ok {
		return
	}
	delete(db.colls, name)
	for i, n := range db.collNames {
		if n == name {
			db.collNames = append(db.collNames[:i], db.collNames[i+1:]...)
			break
		}
	}
}
