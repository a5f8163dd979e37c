package hive

import "github.com/gear6io/ranger-catalog/pkg/errors"

// Metastore-specific error codes
var (
	ErrUnsupportedDSN  = errors.MustNewCode("catalog.hive.unsupported_dsn")
	ErrDatabaseOpen    = errors.MustNewCode("catalog.hive.database_open_failed")
	ErrMigrationFailed = errors.MustNewCode("catalog.hive.migration_failed")
	ErrQueryFailed     = errors.MustNewCode("catalog.hive.query_failed")
)
