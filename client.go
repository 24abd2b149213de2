// Package mimongo is an in-memory document store that emulates the semantics
// of MongoDB collections, intended as a drop-in test double: filtered
// queries with projection and sorting, the update-operator algebra with
// upserts and positional resolution, unique indexes with rollback, bulk
// writes, and a multi-stage aggregation pipeline. A mongosh statement
// front-end is available through Execute.
package mimongo

import (
	"math/rand"
	"sync"

	"github.com/rs/zerolog"
)

// Client owns the databases of one in-memory deployment, the process-wide
// write lock, and the random source used by $sample.
type Client struct {
	mu     sync.Mutex
	rnd    *rand.Rand
	logger zerolog.Logger

	dbNames []string
	dbs     map[string]*Database
}

// Option configures a Client.
type Option func(*Client)

// WithLogger attaches a zerolog logger; writes, index churn and rollbacks
// are logged at debug level.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRandSeed seeds the random source used by $sample, making sampling
// deterministic for tests.
func WithRandSeed(seed int64) Option {
	return func(c *Client) {
		c.rnd = rand.New(rand.NewSource(seed))
	}
}

// NewClient creates an empty in-memory deployment.
func NewClient(opts ...Option) *Client {
	c := &Client{
		rnd:    rand.New(rand.NewSource(rand.Int63())),
		logger: zerolog.Nop(),
		dbs:    map[string]*Database{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Database returns a handle to the named database, creating it lazily.
func (c *Client) Database(name string) *Database {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.databaseLocked(name)
}

func (c *Client) databaseLocked(name string) *Database {
	if db, ok := c.dbs[name]; ok {
		return db
	}
	db := &Database{
		client: c,
		name:   name,
		colls:  map[string]*Collection{},
	}
	c.dbs[name] = db
	c.dbNames = append(c.dbNames, name)
	return db
}

// ListDatabaseNames returns the names of databases holding at least one
// created collection.
func (c *Client) ListDatabaseNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var names []string
	for _, name := range c.dbNames {
		if len(c.dbs[name].listCollectionNamesLocked()) > 0 {
			names = append(names, name)
		}
	}
	return names
}

// DropDatabase removes the named database and everything in it.
func (c *Client) DropDatabase(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.dbs[name]; !ok {
		return
	}
	delete(c.dbs, name)
	for i, n := range c.dbNames {
		if n == name {
			c.dbNames = append(c.dbNames[:i], c.dbNames[i+1:]...)
			break
		}
	}
	c.logger.Debug().Str("database", name).Msg("dropped database")
}
