package mongo

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mongodb"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// Migrator applies embedded migration sets. Each set tracks its version in
// its own collection, so packages can ship migrations independently.
type Migrator interface {
	UpFromFS(versionCollection string, fsys fs.FS, dir string) error
}

type migrator struct {
	conf Config
	log  *zap.Logger
}

func newMigrator(conf Config, log *zap.Logger) Migrator {
	return &migrator{conf: conf, log: log.With(zap.String("component", "mongo-migrator"))}
}

func (m *migrator) UpFromFS(versionCollection string, fsys fs.FS, dir string) error {
	if versionCollection == "" {
		return errors.New("version collection is required")
	}

	source, err := iofs.New(fsys, dir)
	if err != nil {
		return fmt.Errorf("failed to open migrations in %s: %w", dir, err)
	}

	mi, err := migrate.NewWithSourceInstance("iofs", source, m.databaseURL(versionCollection))
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer func() {
		if srcErr, dbErr := mi.Close(); srcErr != nil || dbErr != nil {
			m.log.Warn("failed to close migrator", zap.NamedError("source", srcErr), zap.NamedError("database", dbErr))
		}
	}()

	if err := mi.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.log.Info("migrations up to date", zap.String("collection", versionCollection))
			return nil
		}
		return fmt.Errorf("failed to apply migrations [%s]: %w", versionCollection, err)
	}

	version, dirty, _ := mi.Version()
	m.log.Info("migrations applied",
		zap.String("collection", versionCollection),
		zap.Uint("version", version),
		zap.Bool("dirty", dirty),
	)
	return nil
}

func (m *migrator) databaseURL(versionCollection string) string {
	return m.conf.URI(url.Values{
		"x-migrations-collection": {versionCollection},
		"x-advisory-locking":      {"true"},
		"x-lock-collection":       {versionCollection + "_lock"},
	})
}
