package mimongo_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mimongo/mimongo"
)

// fieldMap flattens a bson.D into a map for order-insensitive assertions.
func fieldMap(doc bson.D) map[string]any {
	out := make(map[string]any, len(doc))
	for _, e := range doc {
		out[e.Key] = e.Value
	}
	return out
}

// newTestCollectionFrom seeds a fresh collection with the given documents.
func newTestCollectionFrom(t *testing.T, docs []bson.D) *mimongo.Collection {
	t.Helper()
	coll := mimongo.NewClient(mimongo.WithRandSeed(1)).Database("testdb").Collection("seeded")
	for _, doc := range docs {
		_, err := coll.InsertOne(doc)
		require.NoError(t, err)
	}
	return coll
}
