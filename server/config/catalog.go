package config

import (
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gear6io/ranger-catalog/server/paths"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/v2"
)

// CatalogType selects the backend variant
type CatalogType string

const (
	TypeNessie     CatalogType = "nessie"
	TypeHive       CatalogType = "hive"
	TypeGlue       CatalogType = "glue"
	TypeREST       CatalogType = "rest"
	TypeFilesystem CatalogType = "filesystem"
)

// Types lists every supported catalog type
var Types = []CatalogType{TypeNessie, TypeHive, TypeGlue, TypeREST, TypeFilesystem}

var typeAliases = map[string]CatalogType{
	"hive_metastore": TypeHive,
	"hadoop":         TypeFilesystem,
}

// Recognized property keys
const (
	KeyType               = "catalog.type"
	KeyWarehouse          = "catalog.warehouse"
	KeyServerURI          = "catalog.server-uri"
	KeyDefaultFileFormat  = "catalog.default-file-format"
	KeyNamespace          = "catalog.namespace"
	KeyCommitRetries      = "catalog.commit.retry-attempts"
	KeyCommitTimeout      = "catalog.commit.timeout"
	KeyCommitMinWait      = "catalog.commit.min-wait"
	KeyCommitMaxWait      = "catalog.commit.max-wait"
	KeyConnectTimeout     = "catalog.connect-timeout"
	KeyReadTimeout        = "catalog.read-timeout"
	KeyAuthToken          = "catalog.auth.token"
	KeyNessieRef          = "catalog.nessie.ref"
	KeyGlueRegion         = "catalog.glue.region"
	KeyGlueCatalogID      = "catalog.glue.catalog-id"
	KeyS3Endpoint         = "catalog.s3.endpoint"
	KeyS3Region           = "catalog.s3.region"
	KeyS3AccessKey        = "catalog.s3.access-key"
	KeyS3SecretKey        = "catalog.s3.secret-key"
	KeyS3UseSSL           = "catalog.s3.use-ssl"
	maxCommitRetryAttempt = 20
)

var knownKeys = []string{
	KeyType, KeyWarehouse, KeyServerURI, KeyDefaultFileFormat, KeyNamespace,
	KeyCommitRetries, KeyCommitTimeout, KeyCommitMinWait, KeyCommitMaxWait,
	KeyConnectTimeout, KeyReadTimeout, KeyAuthToken, KeyNessieRef,
	KeyGlueRegion, KeyGlueCatalogID, KeyS3Endpoint, KeyS3Region,
	KeyS3AccessKey, KeyS3SecretKey, KeyS3UseSSL,
}

var secretKeys = map[string]bool{KeyAuthToken: true, KeyS3SecretKey: true}

// DefaultProperties are applied beneath every explicit property
func DefaultProperties() map[string]string {
	return map[string]string{
		KeyDefaultFileFormat: "parquet",
		KeyCommitRetries:     "4",
		KeyCommitTimeout:     "30s",
		KeyCommitMinWait:     "100ms",
		KeyCommitMaxWait:     "2s",
		KeyConnectTimeout:    "10s",
		KeyReadTimeout:       "30s",
		KeyNessieRef:         "main",
		KeyS3Region:          "us-east-1",
		KeyS3UseSSL:          "true",
	}
}

// CatalogConfig is the validated, immutable description of one catalog.
// It is comparable: equal values describe the same catalog and share a client.
type CatalogConfig struct {
	catalogType       CatalogType
	warehouse         string
	serverURI         string
	defaultFileFormat string
	namespace         string
	commitRetries     int
	commitTimeout     time.Duration
	commitMinWait     time.Duration
	commitMaxWait     time.Duration
	connectTimeout    time.Duration
	readTimeout       time.Duration
	authToken         string
	nessieRef         string
	glueRegion        string
	glueCatalogID     string
	s3Endpoint        string
	s3Region          string
	s3AccessKey       string
	s3SecretKey       string
	s3UseSSL          bool
}

// NewCatalogConfig validates props layered over DefaultProperties
func NewCatalogConfig(props map[string]string) (CatalogConfig, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(toAny(DefaultProperties()), "."), nil); err != nil {
		return CatalogConfig{}, invalid("", "failed to load defaults", err)
	}
	if err := k.Load(confmap.Provider(toAny(props), "."), nil); err != nil {
		return CatalogConfig{}, invalid("", "failed to load properties", err)
	}
	return fromKoanf(k)
}

func toAny(m map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for key, v := range m {
		out[key] = v
	}
	return out
}

func fromKoanf(k *koanf.Koanf) (CatalogConfig, error) {
	for _, key := range k.Keys() {
		if strings.HasPrefix(key, "catalog.") && !slices.Contains(knownKeys, key) {
			return CatalogConfig{}, invalid(key, "unknown catalog property", nil)
		}
	}

	str := func(key string) string { return strings.TrimSpace(k.String(key)) }

	var cfg CatalogConfig
	var err error

	rawType := strings.ToLower(str(KeyType))
	if rawType == "" {
		return CatalogConfig{}, invalid(KeyType, "catalog type is required", nil)
	}
	cfg.catalogType = CatalogType(rawType)
	if alias, ok := typeAliases[rawType]; ok {
		cfg.catalogType = alias
	}
	if !slices.Contains(Types, cfg.catalogType) {
		return CatalogConfig{}, invalid(KeyType, fmt.Sprintf("unsupported catalog type %q", rawType), nil)
	}

	if w := str(KeyWarehouse); w != "" {
		if cfg.warehouse, err = paths.NormalizeWarehouse(w); err != nil {
			return CatalogConfig{}, invalid(KeyWarehouse, "warehouse is not a usable location", err)
		}
	}

	cfg.serverURI = strings.TrimRight(str(KeyServerURI), "/")
	cfg.defaultFileFormat = strings.ToLower(str(KeyDefaultFileFormat))
	cfg.namespace = str(KeyNamespace)
	cfg.authToken = str(KeyAuthToken)
	cfg.nessieRef = str(KeyNessieRef)
	cfg.glueRegion = str(KeyGlueRegion)
	cfg.glueCatalogID = str(KeyGlueCatalogID)
	cfg.s3Endpoint = str(KeyS3Endpoint)
	cfg.s3Region = str(KeyS3Region)
	cfg.s3AccessKey = str(KeyS3AccessKey)
	cfg.s3SecretKey = str(KeyS3SecretKey)

	if cfg.commitRetries, err = strconv.Atoi(str(KeyCommitRetries)); err != nil {
		return CatalogConfig{}, invalid(KeyCommitRetries, "retry attempts must be an integer", err)
	}
	if cfg.s3UseSSL, err = strconv.ParseBool(str(KeyS3UseSSL)); err != nil {
		return CatalogConfig{}, invalid(KeyS3UseSSL, "use-ssl must be a boolean", err)
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{KeyCommitTimeout, &cfg.commitTimeout},
		{KeyCommitMinWait, &cfg.commitMinWait},
		{KeyCommitMaxWait, &cfg.commitMaxWait},
		{KeyConnectTimeout, &cfg.connectTimeout},
		{KeyReadTimeout, &cfg.readTimeout},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(str(d.key))
		if err != nil {
			return CatalogConfig{}, invalid(d.key, "not a duration", err)
		}
		if v <= 0 {
			return CatalogConfig{}, invalid(d.key, "duration must be positive", nil)
		}
		*d.dst = v
	}

	if err := cfg.validate(); err != nil {
		return CatalogConfig{}, err
	}
	return cfg, nil
}

func (c CatalogConfig) validate() error {
	switch c.defaultFileFormat {
	case "parquet", "orc", "avro":
	default:
		return invalid(KeyDefaultFileFormat, "file format must be parquet, orc or avro", nil)
	}

	if c.commitRetries < 1 || c.commitRetries > maxCommitRetryAttempt {
		return invalid(KeyCommitRetries, fmt.Sprintf("retry attempts must be between 1 and %d", maxCommitRetryAttempt), nil)
	}
	if c.commitMinWait > c.commitMaxWait {
		return invalid(KeyCommitMinWait, "min-wait exceeds max-wait", nil)
	}

	if c.namespace != "" {
		for _, seg := range strings.Split(c.namespace, ".") {
			if strings.TrimSpace(seg) == "" {
				return invalid(KeyNamespace, "namespace has an empty segment", nil)
			}
		}
	}

	if c.nessieRef == "" {
		return invalid(KeyNessieRef, "nessie ref must not be empty", nil)
	}

	switch c.catalogType {
	case TypeNessie:
		if err := requireHTTP(c.serverURI); err != nil {
			return err
		}
		if c.warehouse == "" {
			return invalid(KeyWarehouse, "warehouse is required for nessie catalogs", nil)
		}
	case TypeREST:
		if err := requireHTTP(c.serverURI); err != nil {
			return err
		}
	case TypeHive:
		if c.serverURI == "" {
			return invalid(KeyServerURI, "metastore DSN is required for hive catalogs", nil)
		}
		if _, err := url.Parse(c.serverURI); err != nil {
			return invalid(KeyServerURI, "metastore DSN is not a valid URI", err)
		}
		if c.warehouse == "" {
			return invalid(KeyWarehouse, "warehouse is required for hive catalogs", nil)
		}
	case TypeGlue:
		if c.warehouse == "" {
			return invalid(KeyWarehouse, "warehouse is required for glue catalogs", nil)
		}
		if c.serverURI != "" {
			if err := requireHTTP(c.serverURI); err != nil {
				return err
			}
		}
	case TypeFilesystem:
		if c.warehouse == "" {
			return invalid(KeyWarehouse, "warehouse is required for filesystem catalogs", nil)
		}
	}
	return nil
}

func requireHTTP(raw string) error {
	if raw == "" {
		return invalid(KeyServerURI, "server URI is required", nil)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return invalid(KeyServerURI, "server URI is not a valid URI", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid(KeyServerURI, "server URI must be an http(s) URL", nil)
	}
	return nil
}

func (c CatalogConfig) Type() CatalogType              { return c.catalogType }
func (c CatalogConfig) Warehouse() string              { return c.warehouse }
func (c CatalogConfig) ServerURI() string              { return c.serverURI }
func (c CatalogConfig) DefaultFileFormat() string      { return c.defaultFileFormat }
func (c CatalogConfig) CommitRetryAttempts() int       { return c.commitRetries }
func (c CatalogConfig) CommitTimeout() time.Duration   { return c.commitTimeout }
func (c CatalogConfig) CommitMinWait() time.Duration   { return c.commitMinWait }
func (c CatalogConfig) CommitMaxWait() time.Duration   { return c.commitMaxWait }
func (c CatalogConfig) ConnectTimeout() time.Duration  { return c.connectTimeout }
func (c CatalogConfig) ReadTimeout() time.Duration     { return c.readTimeout }
func (c CatalogConfig) AuthToken() string              { return c.authToken }
func (c CatalogConfig) NessieRef() string              { return c.nessieRef }
func (c CatalogConfig) GlueRegion() string             { return c.glueRegion }
func (c CatalogConfig) GlueCatalogID() string          { return c.glueCatalogID }
func (c CatalogConfig) S3Endpoint() string             { return c.s3Endpoint }
func (c CatalogConfig) S3Region() string               { return c.s3Region }
func (c CatalogConfig) S3AccessKey() string            { return c.s3AccessKey }
func (c CatalogConfig) S3SecretKey() string            { return c.s3SecretKey }
func (c CatalogConfig) S3UseSSL() bool                 { return c.s3UseSSL }

// Namespace returns the default namespace segments, nil when unset
func (c CatalogConfig) Namespace() []string {
	if c.namespace == "" {
		return nil
	}
	return strings.Split(c.namespace, ".")
}

// Properties returns the canonical key/value form of the config
func (c CatalogConfig) Properties() map[string]string {
	props := map[string]string{
		KeyType:              string(c.catalogType),
		KeyWarehouse:         c.warehouse,
		KeyServerURI:         c.serverURI,
		KeyDefaultFileFormat: c.defaultFileFormat,
		KeyNamespace:         c.namespace,
		KeyCommitRetries:     strconv.Itoa(c.commitRetries),
		KeyCommitTimeout:     c.commitTimeout.String(),
		KeyCommitMinWait:     c.commitMinWait.String(),
		KeyCommitMaxWait:     c.commitMaxWait.String(),
		KeyConnectTimeout:    c.connectTimeout.String(),
		KeyReadTimeout:       c.readTimeout.String(),
		KeyAuthToken:         c.authToken,
		KeyNessieRef:         c.nessieRef,
		KeyGlueRegion:        c.glueRegion,
		KeyGlueCatalogID:     c.glueCatalogID,
		KeyS3Endpoint:        c.s3Endpoint,
		KeyS3Region:          c.s3Region,
		KeyS3AccessKey:       c.s3AccessKey,
		KeyS3SecretKey:       c.s3SecretKey,
		KeyS3UseSSL:          strconv.FormatBool(c.s3UseSSL),
	}
	maps.DeleteFunc(props, func(_, v string) bool { return v == "" })
	return props
}

// RedactedProperties is Properties with secret values masked
func (c CatalogConfig) RedactedProperties() map[string]string {
	props := c.Properties()
	for key := range props {
		if secretKeys[key] {
			props[key] = "****"
		}
	}
	return props
}

// String renders the config with secrets redacted
func (c CatalogConfig) String() string {
	props := c.RedactedProperties()
	keys := slices.Sorted(maps.Keys(props))
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+"="+props[key])
	}
	return strings.Join(parts, " ")
}
