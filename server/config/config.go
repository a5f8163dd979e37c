package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/gear6io/ranger-catalog/pkg/errors"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix marks environment variables read by Load.
// RANGER_CATALOG__SERVER_URI sets catalog.server-uri; RANGER_LOG__LEVEL sets log.level.
const EnvPrefix = "RANGER_"

// Config is the process configuration: logging plus one catalog
type Config struct {
	Log     LogConfig
	Catalog CatalogConfig
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level    string `koanf:"level" yaml:"level"`
	Format   string `koanf:"format" yaml:"format"` // "json" or "console"
	FilePath string `koanf:"file_path" yaml:"file_path,omitempty"`
	Console  bool   `koanf:"console" yaml:"console"`
}

// DefaultLogConfig returns console logging at info level
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:   "info",
		Format:  "console",
		Console: true,
	}
}

// Load layers defaults, the YAML file at path (optional), RANGER_ environment
// variables and overrides, then validates the catalog section.
func Load(path string, overrides map[string]string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"log.level":   "info",
		"log.format":  "console",
		"log.console": true,
	}
	for key, v := range DefaultProperties() {
		defaults[key] = v
	}
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, errors.New(ErrFileParseFailed, "failed to load defaults", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, errors.New(ErrFileReadFailed, "failed to read config file", err).AddContext("path", path)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.New(ErrFileParseFailed, "failed to parse config file", err).AddContext("path", path)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, errors.New(ErrEnvLoadFailed, "failed to load environment", err)
	}

	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(toAny(overrides), "."), nil); err != nil {
			return nil, invalid("", "failed to load overrides", err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("log", &cfg.Log); err != nil {
		return nil, invalid("log", "invalid log section", err)
	}

	// flatten to strings so numbers and booleans from YAML validate the same
	// way as property maps
	flat := koanf.New(".")
	props := make(map[string]interface{})
	for key, v := range k.All() {
		if strings.HasPrefix(key, "catalog.") {
			props[key] = fmt.Sprint(v)
		}
	}
	if err := flat.Load(confmap.Provider(props, "."), nil); err != nil {
		return nil, invalid("catalog", "invalid catalog section", err)
	}

	catalog, err := fromKoanf(flat)
	if err != nil {
		return nil, err
	}
	cfg.Catalog = catalog
	return cfg, nil
}

// envKey maps RANGER_CATALOG__SERVER_URI to catalog.server-uri
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	s = strings.ReplaceAll(s, "__", ".")
	if strings.HasPrefix(s, "log.") {
		return s
	}
	return strings.ReplaceAll(s, "_", "-")
}

// Save writes the configuration as YAML; secrets are written as configured
func Save(cfg *Config, path string) error {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(toAny(cfg.Catalog.Properties()), "."), nil); err != nil {
		return errors.New(ErrFileWriteFailed, "failed to build catalog section", err)
	}

	doc := map[string]interface{}{
		"log":     cfg.Log,
		"catalog": k.Raw()["catalog"],
	}
	data, err := yamlv3.Marshal(doc)
	if err != nil {
		return errors.New(ErrFileWriteFailed, "failed to marshal config", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return errors.New(ErrFileWriteFailed, "failed to write config file", err).AddContext("path", path)
	}
	return nil
}
