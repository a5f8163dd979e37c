package shared

import (
	"net/http"

	"github.com/gear6io/ranger-catalog/server/storage"
	"github.com/rs/zerolog"
)

// Deps are the collaborators a backend client is constructed with
type Deps struct {
	Logger zerolog.Logger
	// IO reads and writes metadata files under the warehouse
	IO storage.FileIO
	// HTTPClient is used by HTTP backends; nil means a default client
	HTTPClient *http.Client
}
