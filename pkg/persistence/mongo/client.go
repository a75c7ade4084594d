package mongo

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/v2/mongo/otelmongo"
	"go.uber.org/zap"
)

// Session is the part of *mongo.Session the transaction manager uses.
type Session interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) (any, error),
		opts ...options.Lister[options.TransactionOptions]) (any, error)
	EndSession(ctx context.Context)
}

// Mongo gives repositories access to the configured database.
type Mongo interface {
	Database() *mongodriver.Database
	Collection(name string) *mongodriver.Collection
	StartSession() (Session, error)
}

type client struct {
	client   *mongodriver.Client
	database *mongodriver.Database
	conf     Config
	log      *zap.Logger
}

func newClient(log *zap.Logger, conf Config) (*client, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	opts := options.Client().
		ApplyURI(conf.URI(nil)).
		SetMaxPoolSize(conf.MaxPoolSize).
		SetMinPoolSize(conf.MinPoolSize).
		SetMaxConnIdleTime(conf.MaxConnIdleTime).
		SetConnectTimeout(conf.ConnectTimeout).
		SetServerSelectionTimeout(conf.ServerSelectTimeout).
		SetMonitor(otelmongo.NewMonitor())

	// Connect does not touch the network; connect() pings.
	c, err := mongodriver.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create mongo client: %w", err)
	}

	return &client{
		client:   c,
		database: c.Database(conf.Database),
		conf:     conf,
		log:      log,
	}, nil
}

func (c *client) connect(ctx context.Context) error {
	attempt := 0
	ping := func() error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, c.conf.ConnectTimeout)
		defer cancel()
		if err := c.client.Ping(pingCtx, nil); err != nil {
			c.log.Warn("mongo ping failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.conf.ConnectRetries), ctx)
	if err := backoff.Retry(ping, policy); err != nil {
		return fmt.Errorf("failed to ping mongo: %w", err)
	}

	c.log.Info("connected to mongo",
		zap.String("database", c.conf.Database),
		zap.Uint64("max-pool-size", c.conf.MaxPoolSize),
		zap.Uint64("min-pool-size", c.conf.MinPoolSize),
	)
	return nil
}

func (c *client) disconnect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.conf.ConnectTimeout)
	defer cancel()
	if err := c.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect from mongo: %w", err)
	}
	c.log.Info("disconnected from mongo")
	return nil
}

func (c *client) Database() *mongodriver.Database {
	return c.database
}

func (c *client) Collection(name string) *mongodriver.Collection {
	return c.database.Collection(name)
}

func (c *client) StartSession() (Session, error) {
	return c.client.StartSession()
}
