// Package migrations applies the embedded database schema with
// golang-migrate. The schema files live under sql/ and are compiled into
// the binary, so deployments never depend on a migrations directory on disk.
package migrations

import (
	"context"
	"embed"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/agent-mesh/agent-mesh/pkg/observability"
)

//go:embed sql/*.sql
var schemaFS embed.FS

// DefaultTimeout bounds a single migration run
const DefaultTimeout = time.Minute

// Runner applies and rolls back schema migrations
type Runner struct {
	migrator *migrate.Migrate
	timeout  time.Duration
	logger   observability.Logger
}

// NewRunner creates a migration runner over an open database handle
func NewRunner(db *sqlx.DB, logger observability.Logger) (*Runner, error) {
	if db == nil {
		return nil, errors.New("db connection cannot be nil")
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}

	driver, err := postgres.WithInstance(db.DB, &postgres.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create postgres driver")
	}

	source, err := iofs.New(schemaFS, "sql")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open embedded schema")
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create migrator")
	}

	return &Runner{
		migrator: migrator,
		timeout:  DefaultTimeout,
		logger:   logger,
	}, nil
}

// Up applies all pending migrations
func (r *Runner) Up(ctx context.Context) error {
	return r.run(ctx, func() error { return r.migrator.Up() })
}

// Down rolls back every applied migration
func (r *Runner) Down(ctx context.Context) error {
	return r.run(ctx, func() error { return r.migrator.Down() })
}

// run executes a migration step under the runner timeout. No pending
// change is not an error.
func (r *Runner) run(ctx context.Context, step func() error) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		err := step()
		if err == migrate.ErrNoChange {
			r.logger.Info("No schema changes to apply", nil)
			err = nil
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return errors.Wrap(err, "migration failed")
		}
		return nil
	case <-ctx.Done():
		return errors.Errorf("migration timed out after %s", r.timeout)
	}
}

// Version returns the current schema version and whether it is dirty
func (r *Runner) Version() (uint, bool, error) {
	version, dirty, err := r.migrator.Version()
	if err == migrate.ErrNilVersion {
		return 0, false, nil
	}
	return version, dirty, err
}

// Close releases the migrator's source and database resources
func (r *Runner) Close() error {
	sourceErr, dbErr := r.migrator.Close()
	if sourceErr != nil {
		return errors.Wrap(sourceErr, "failed to close migration source")
	}
	if dbErr != nil {
		return errors.Wrap(dbErr, "failed to close migration database")
	}
	return nil
}
