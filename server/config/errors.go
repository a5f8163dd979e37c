package config

import "github.com/gear6io/ranger-catalog/pkg/errors"

// Config-specific error codes
var (
	// ErrInvalid is the ConfigurationError code; context "field" names the key
	ErrInvalid            = errors.MustNewCode("config.invalid")
	ErrFileReadFailed     = errors.MustNewCode("config.file_read_failed")
	ErrFileParseFailed    = errors.MustNewCode("config.file_parse_failed")
	ErrFileWriteFailed    = errors.MustNewCode("config.file_write_failed")
	ErrEnvLoadFailed      = errors.MustNewCode("config.env_load_failed")
	ErrLogFileOpenFailed  = errors.MustNewCode("config.log_file_open_failed")
	ErrLogDirectoryFailed = errors.MustNewCode("config.log_directory_failed")
)

func invalid(field, message string, cause error) *errors.Error {
	return errors.New(ErrInvalid, message, cause).AddContext("field", field)
}

// IsConfigurationError reports whether err is a ConfigurationError
func IsConfigurationError(err error) bool {
	return errors.HasCode(err, ErrInvalid)
}
