// Package container starts throwaway infrastructure for integration tests.
package container

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Sokol111/ecommerce-outbox/pkg/persistence/mongo"
	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	defaultImage      = "mongo:7"
	defaultReplicaSet = "rs0"
)

// MongoDBContainer is a single-node replica set, which is what Mongo
// transactions need.
type MongoDBContainer struct {
	Container        *mongodb.MongoDBContainer
	Client           *mongodriver.Client
	ConnectionString string
}

type MongoDBContainerOption func(*mongoDBContainerOptions)

type mongoDBContainerOptions struct {
	image      string
	replicaSet string
}

func WithImage(image string) MongoDBContainerOption {
	return func(o *mongoDBContainerOptions) {
		o.image = image
	}
}

func WithReplicaSet(name string) MongoDBContainerOption {
	return func(o *mongoDBContainerOptions) {
		o.replicaSet = name
	}
}

func StartMongoDBContainer(ctx context.Context, opts ...MongoDBContainerOption) (*MongoDBContainer, error) {
	options := &mongoDBContainerOptions{
		image:      defaultImage,
		replicaSet: defaultReplicaSet,
	}
	for _, opt := range opts {
		opt(options)
	}

	mongoContainer, err := mongodb.Run(ctx, options.image, mongodb.WithReplicaSet(options.replicaSet))
	if err != nil {
		return nil, fmt.Errorf("failed to start mongodb container: %w", err)
	}

	connectionString, err := mongoContainer.ConnectionString(ctx)
	if err != nil {
		_ = testcontainers.TerminateContainer(mongoContainer)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	client, err := mongodriver.Connect(mongooptions.Client().ApplyURI(connectionString).SetDirect(true))
	if err != nil {
		_ = testcontainers.TerminateContainer(mongoContainer)
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		_ = testcontainers.TerminateContainer(mongoContainer)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return &MongoDBContainer{
		Container:        mongoContainer,
		Client:           client,
		ConnectionString: connectionString,
	}, nil
}

// StartMongo starts a container for the duration of t and returns a mongo
// Config pointing at a fresh database.
func StartMongo(t testing.TB, opts ...MongoDBContainerOption) mongo.Config {
	t.Helper()

	ctx := context.Background()
	c, err := StartMongoDBContainer(ctx, opts...)
	if err != nil {
		t.Fatalf("mongo container: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Terminate(context.Background()); err != nil {
			t.Logf("mongo container cleanup: %v", err)
		}
	})
	return c.Config("test_" + uuid.NewString()[:8])
}

// Config returns a mongo Config for database on this container.
func (m *MongoDBContainer) Config(database string) mongo.Config {
	return mongo.Config{
		ConnectionString: m.ConnectionString,
		Database:         database,
		DirectConnection: true,
		MaxPoolSize:      10,
		MinPoolSize:      1,
		ConnectTimeout:   5 * time.Second,
		ConnectRetries:   3,
	}
}

func (m *MongoDBContainer) Database(name string) *mongodriver.Database {
	return m.Client.Database(name)
}

// Terminate disconnects the client and terminates the container.
func (m *MongoDBContainer) Terminate(ctx context.Context) error {
	var errs []error

	if m.Client != nil {
		if err := m.Client.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to disconnect from mongodb: %w", err))
		}
	}
	if m.Container != nil {
		if err := testcontainers.TerminateContainer(m.Container); err != nil {
			errs = append(errs, fmt.Errorf("failed to terminate mongodb container: %w", err))
		}
	}
	return errors.Join(errs...)
}
