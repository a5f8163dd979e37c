package hive

import (
	"context"
	"database/sql"
	"embed"
	"sync"

	"github.com/gear6io/ranger-catalog/pkg/errors"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// goose keeps its base FS and dialect in package state
var gooseMu sync.Mutex

// Migrate brings the metastore schema up to date. dialect is a goose
// dialect name such as "sqlite3" or "postgres".
func Migrate(ctx context.Context, db *sql.DB, dialect string) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect); err != nil {
		return errors.New(ErrMigrationFailed, "failed to set migration dialect", err).AddContext("dialect", dialect)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return errors.New(ErrMigrationFailed, "failed to run metastore migrations", err)
	}
	return nil
}

// SchemaVersion returns the applied migration version
func SchemaVersion(db *sql.DB, dialect string) (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect(dialect); err != nil {
		return 0, errors.New(ErrMigrationFailed, "failed to set migration dialect", err).AddContext("dialect", dialect)
	}
	return goose.GetDBVersion(db)
}
