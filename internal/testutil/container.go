// Package testutil hosts the opt-in parity harness: a real MongoDB in a
// container whose observed behavior the in-memory engine is checked
// against. Parity tests are skipped unless MIMONGO_PARITY is set, so the
// regular suite runs without Docker.
package testutil

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ParityEnv is the environment variable that enables the parity suite.
const ParityEnv = "MIMONGO_PARITY"

var (
	parityClient *mongo.Client
	setupOnce    sync.Once
	setupErr     error
)

// ParityClient returns a client connected to a containerized MongoDB,
// skipping the test unless the parity suite is enabled. The container is
// started once and reused across tests.
func ParityClient(t *testing.T) *mongo.Client {
	t.Helper()
	if os.Getenv(ParityEnv) == "" {
		t.Skipf("parity tests disabled; set %s=1 to run against a real server", ParityEnv)
	}

	setupOnce.Do(func() {
		setupErr = setupContainer(context.Background())
	})
	if setupErr != nil {
		t.Fatalf("failed to set up mongodb container: %v", setupErr)
	}
	return parityClient
}

func setupContainer(ctx context.Context) error {
	container, err := mongodb.Run(ctx, "mongo:7")
	if err != nil {
		return err
	}
	connStr, err := container.ConnectionString(ctx)
	if err != nil {
		return err
	}
	parityClient, err = mongo.Connect(options.Client().ApplyURI(connStr))
	return err
}

// FreshDBName returns a database name unique to one test run.
func FreshDBName() string {
	return "parity_" + uuid.NewString()[:8]
}

// CleanupDatabase drops the given database on the real server after a test.
func CleanupDatabase(t *testing.T, client *mongo.Client, dbName string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Database(dbName).Drop(ctx); err != nil {
		t.Logf("warning: failed to drop database %s: %v", dbName, err)
	}
}
