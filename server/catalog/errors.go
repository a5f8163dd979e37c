package catalog

import "github.com/gear6io/ranger-catalog/pkg/errors"

// Catalog-specific error codes
var (
	ErrUnsupportedCatalogType = errors.MustNewCode("catalog.unsupported_type")
	ErrFactoryClosed          = errors.MustNewCode("catalog.factory_closed")
)
