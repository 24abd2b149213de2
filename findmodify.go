package mimongo

import (
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mimongo/mimongo/internal/document"
	"github.com/mimongo/mimongo/internal/projection"
	"github.com/mimongo/mimongo/internal/update"
	"github.com/mimongo/mimongo/merr"
)

// FindModifyOptions configures the find-and-modify family. The zero value
// returns the pre-image with no sort or projection and no upsert.
type FindModifyOptions struct {
	Projection  any
	Sort        any
	Upsert      bool
	ReturnAfter bool
}

// FindOneAndDelete atomically removes the first matching document and
// returns its pre-image, or nil when nothing matched.
func (c *Collection) FindOneAndDelete(filterDoc any, opts FindModifyOptions) (bson.D, error) {
	if opts.ReturnAfter {
		return nil, merr.OperationFailuref("remove and returnNew can't co-exist")
	}
	return c.findAndModify(filterDoc, nil, opts, true, false)
}

// FindOneAndUpdate atomically applies an operator-mode update to the first
// matching document, returning the pre-image by default or the post-image
// when ReturnAfter is set.
func (c *Collection) FindOneAndUpdate(filterDoc, updateDoc any, opts FindModifyOptions) (bson.D, error) {
	upd, err := document.FromAny(updateDoc)
	if err != nil {
		return nil, err
	}
	if err := update.ValidateOperatorUpdate(upd); err != nil {
		return nil, err
	}
	return c.findAndModify(filterDoc, upd, opts, false, false)
}

// FindOneAndReplace atomically replaces the first matching document.
func (c *Collection) FindOneAndReplace(filterDoc, replacement any, opts FindModifyOptions) (bson.D, error) {
	repl, err := document.FromAny(replacement)
	if err != nil {
		return nil, err
	}
	if err := update.ValidateReplacement(repl); err != nil {
		return nil, err
	}
	return c.findAndModify(filterDoc, repl, opts, false, true)
}

func (c *Collection) findAndModify(filterDoc any, upd *document.Doc, opts FindModifyOptions, remove, replacement bool) (bson.D, error) {
	query, err := internalizeFilter(filterDoc, true)
	if err != nil {
		return nil, err
	}
	var projSpec *document.Doc
	if opts.Projection != nil {
		projSpec, err = document.FromAny(opts.Projection)
		if err != nil {
			return nil, err
		}
	}
	sortKeys, err := sortPairs(opts.Sort)
	if err != nil {
		return nil, err
	}

	c.db.client.mu.Lock()
	defer c.db.client.mu.Unlock()

	old, err := c.firstMatchLocked(query, sortKeys)
	if err != nil {
		return nil, err
	}
	if old == nil && !opts.Upsert {
		return nil, nil
	}

	// Re-key by _id so the write hits exactly the document captured above.
	if old != nil {
		if id, ok := old.Get("_id"); ok {
			rekeyed := document.New()
			rekeyed.Set("_id", id)
			query = rekeyed
		}
	}

	var preImage bson.D
	if old != nil {
		projected, err := projection.Apply(old, projSpec)
		if err != nil {
			return nil, err
		}
		preImage = projected.ToBSON()
	}

	if remove {
		if old != nil {
			id, _ := old.Get("_id")
			key := document.CanonicalKey(id)
			delete(c.docs, key)
			for i, k := range c.ids {
				if k == key {
					c.ids = append(c.ids[:i], c.ids[i+1:]...)
					break
				}
			}
		}
		return preImage, nil
	}

	if _, err := c.updateLocked(query, upd, opts.Upsert, false); err != nil {
		return nil, err
	}

	if opts.ReturnAfter {
		post, err := c.firstMatchLocked(query, nil)
		if err != nil {
			return nil, err
		}
		if post == nil && opts.Upsert {
			// An upsert that generated its own _id is not reachable through
			// the original query; fall back to the newest document.
			if len(c.ids) > 0 {
				post = c.docs[c.ids[len(c.ids)-1]]
			}
		}
		if post == nil {
			return nil, nil
		}
		projected, err := projection.Apply(post, projSpec)
		if err != nil {
			return nil, err
		}
		return projected.ToBSON(), nil
	}
	return preImage, nil
}

// firstMatchLocked returns the first matching stored document under the
// given sort, or nil.
func (c *Collection) firstMatchLocked(query *document.Doc, sortKeys []sortPair) (*document.Doc, error) {
	matches, err := c.matchingLocked(query)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	docs := make([]*document.Doc, len(matches))
	copy(docs, matches)
	for i := len(sortKeys) - 1; i >= 0; i-- {
		pair := sortKeys[i]
		if pair.key == "$natural" {
			if pair.dir < 0 {
				for a, b := 0, len(docs)-1; a < b; a, b = a+1, b-1 {
					docs[a], docs[b] = docs[b], docs[a]
				}
			}
			continue
		}
		stableSortBy(docs, pair)
	}
	return docs[0], nil
}
