package shared

import (
	"context"
	stderrors "errors"
	"net"

	"github.com/gear6io/ranger-catalog/pkg/errors"
	"github.com/gear6io/ranger-catalog/server/config"
)

// Catalog error codes. ConfigurationError uses config.ErrInvalid.
var (
	ErrConnection        = errors.MustNewCode("catalog.connection")
	ErrUnavailable       = errors.MustNewCode("catalog.unavailable")
	ErrTableNotFound     = errors.MustNewCode("catalog.table_not_found")
	ErrNamespaceNotFound = errors.MustNewCode("catalog.namespace_not_found")
	ErrAlreadyExists     = errors.MustNewCode("catalog.already_exists")
	ErrAccessDenied      = errors.MustNewCode("catalog.access_denied")
	ErrCorruptMetadata   = errors.MustNewCode("catalog.corrupt_metadata")
	ErrCommitConflict    = errors.MustNewCode("catalog.commit_conflict")
	ErrCommitFailed      = errors.MustNewCode("catalog.commit_failed")
	ErrUnsupported       = errors.MustNewCode("catalog.unsupported")
	ErrInvalidIdentifier = errors.MustNewCode("catalog.invalid_identifier")
	ErrInternal          = errors.MustNewCode("catalog.internal")
)

func withBackend(err *errors.Error, kind config.CatalogType) *errors.Error {
	return err.AddContext("backend", string(kind))
}

// NewConnection reports a failed handshake while constructing a client
func NewConnection(kind config.CatalogType, endpoint string, cause error) *errors.Error {
	return withBackend(errors.New(ErrConnection, "cannot connect to catalog backend", cause), kind).
		AddContext("endpoint", endpoint)
}

// NewUnavailable reports a transient backend failure; safe to retry for reads
func NewUnavailable(kind config.CatalogType, op string, cause error) *errors.Error {
	return withBackend(errors.New(ErrUnavailable, "catalog backend unavailable", cause), kind).
		AddContext("operation", op)
}

func NewTableNotFound(kind config.CatalogType, id TableIdentifier, cause error) *errors.Error {
	return withBackend(errors.New(ErrTableNotFound, "table does not exist", cause), kind).
		AddContext("identifier", id.String())
}

func NewNamespaceNotFound(kind config.CatalogType, ns Namespace, cause error) *errors.Error {
	return withBackend(errors.New(ErrNamespaceNotFound, "namespace does not exist", cause), kind).
		AddContext("namespace", ns.String())
}

func NewAlreadyExists(kind config.CatalogType, name string, cause error) *errors.Error {
	return withBackend(errors.New(ErrAlreadyExists, "already exists", cause), kind).
		AddContext("identifier", name)
}

func NewAccessDenied(kind config.CatalogType, name string, cause error) *errors.Error {
	return withBackend(errors.New(ErrAccessDenied, "access denied by catalog backend", cause), kind).
		AddContext("identifier", name)
}

func NewCorruptMetadata(kind config.CatalogType, id TableIdentifier, location string, cause error) *errors.Error {
	err := withBackend(errors.New(ErrCorruptMetadata, "table metadata is corrupt", cause), kind).
		AddContext("identifier", id.String())
	if location != "" {
		err.AddContext("location", location)
	}
	return err
}

// NewCommitConflict reports that the live token moved away from base
func NewCommitConflict(kind config.CatalogType, id TableIdentifier, base, live Token) *errors.Error {
	return withBackend(errors.New(ErrCommitConflict, "table was updated concurrently", nil), kind).
		AddContext("identifier", id.String()).
		AddContext("base_token", string(base)).
		AddContext("live_token", string(live))
}

func NewUnsupported(kind config.CatalogType, what string) *errors.Error {
	return withBackend(errors.New(ErrUnsupported, "not supported by catalog backend", nil), kind).
		AddContext("operation", what)
}

func NewInternal(kind config.CatalogType, message string, cause error) *errors.Error {
	return withBackend(errors.New(ErrInternal, message, cause), kind)
}

func IsTableNotFound(err error) bool { return errors.HasCode(err, ErrTableNotFound) }

// IsNotFound matches missing tables and missing namespaces
func IsNotFound(err error) bool {
	return errors.HasCode(err, ErrTableNotFound) || errors.HasCode(err, ErrNamespaceNotFound)
}

// IsUnavailable matches transient failures, including failed handshakes
func IsUnavailable(err error) bool {
	return errors.HasCode(err, ErrUnavailable) || errors.HasCode(err, ErrConnection)
}

func IsAccessDenied(err error) bool   { return errors.HasCode(err, ErrAccessDenied) }
func IsAlreadyExists(err error) bool  { return errors.HasCode(err, ErrAlreadyExists) }
func IsCorrupt(err error) bool        { return errors.HasCode(err, ErrCorruptMetadata) }
func IsConflict(err error) bool       { return errors.HasCode(err, ErrCommitConflict) }
func IsCommitFailed(err error) bool   { return errors.HasCode(err, ErrCommitFailed) }
func IsConfiguration(err error) bool  { return config.IsConfigurationError(err) }
func IsUnsupported(err error) bool    { return errors.HasCode(err, ErrUnsupported) }
func IsInvalidIdentifier(err error) bool {
	return errors.HasCode(err, ErrInvalidIdentifier)
}

// IsTransport reports whether err came from the network or a deadline
func IsTransport(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr)
}

// ClassifyTransport turns network and deadline failures into Unavailable and
// leaves coded errors alone
func ClassifyTransport(kind config.CatalogType, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.IsCoded(err) && !IsTransport(err) {
		return err
	}
	return NewUnavailable(kind, op, err)
}
