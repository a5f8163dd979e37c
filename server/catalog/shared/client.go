package shared

import (
	"context"

	"github.com/gear6io/ranger-catalog/server/config"
)

// ComponentType defines the catalog component type identifier
const ComponentType = "catalog"

// Token identifies the committed metadata version of one table. Its shape is
// backend specific and callers compare it only for equality. Empty means none.
type Token string

// Document is a metadata document together with the token it was read at
type Document struct {
	Token Token
	// Location is where the document is stored, empty if the backend keeps it inline
	Location string
	Bytes    []byte
}

// UpdateResult is the outcome of a conditional update
type UpdateResult struct {
	Accepted bool
	// Current is the live token after the call: the new token when accepted,
	// the competing token when rejected
	Current Token
	// Location of the accepted document when the backend stored it somewhere
	Location string
}

// Client is the capability set every backend variant implements
type Client interface {
	Kind() config.CatalogType

	// CurrentToken returns the live token or a TableNotFound error
	CurrentToken(ctx context.Context, id TableIdentifier) (Token, error)
	// FetchMetadataDocument returns the current document and its token
	FetchMetadataDocument(ctx context.Context, id TableIdentifier) (*Document, error)
	// ConditionalUpdate installs doc only if the live token equals base.
	// A lost race is reported as Accepted=false, not as an error.
	ConditionalUpdate(ctx context.Context, id TableIdentifier, base Token, doc []byte) (UpdateResult, error)
	// ListNamespace lists the tables directly inside ns
	ListNamespace(ctx context.Context, ns Namespace) ([]TableIdentifier, error)

	CreateNamespace(ctx context.Context, ns Namespace, props map[string]string) error
	// CreateTable registers a table whose initial metadata is doc
	CreateTable(ctx context.Context, id TableIdentifier, doc []byte) (*Document, error)
	DropTable(ctx context.Context, id TableIdentifier) error
	// DefaultLocation is the root a new table gets, empty when the server assigns it
	DefaultLocation(id TableIdentifier, tableUUID string) string

	Close() error
}
