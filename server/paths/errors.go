package paths

import "github.com/gear6io/ranger-catalog/pkg/errors"

// Path-specific error codes
var (
	ErrInvalidWarehouse = errors.MustNewCode("paths.invalid_warehouse")
)
