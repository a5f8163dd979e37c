package metadata

import "github.com/gear6io/ranger-catalog/pkg/errors"

// Package-specific error codes
var (
	ErrParse        = errors.MustNewCode("metadata.parse_failed")
	ErrSerialize    = errors.MustNewCode("metadata.serialize_failed")
	ErrInvalid      = errors.MustNewCode("metadata.invalid")
	ErrNotRebasable = errors.MustNewCode("metadata.not_rebasable")
	ErrInvalidType  = errors.MustNewCode("metadata.invalid_type")
)

// IsNotRebasable reports whether err says a proposal cannot be replayed on
// newer metadata
func IsNotRebasable(err error) bool {
	return errors.HasCode(err, ErrNotRebasable)
}
