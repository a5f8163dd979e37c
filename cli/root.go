package cli

import (
	"context"
	"io"

	"github.com/gear6io/ranger-catalog/pkg/errors"
	"github.com/gear6io/ranger-catalog/server/catalog"
	"github.com/gear6io/ranger-catalog/server/catalog/shared"
	"github.com/gear6io/ranger-catalog/server/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ranger-catalog",
	Short: "Inspect and change Iceberg tables through a catalog backend",
	Long: `ranger-catalog talks to an Iceberg catalog (Nessie, a Hive style
metastore, AWS Glue, a REST catalog or a plain filesystem warehouse) and
lets you create namespaces and tables, look at table metadata and commit
new snapshots or properties with optimistic concurrency.

The catalog is described by catalog.* properties, read from --config,
RANGER_ environment variables and --property flags in that order.

Examples:
  ranger-catalog --property catalog.type=filesystem --property catalog.warehouse=/tmp/wh namespace create tpch
  ranger-catalog --config catalog.yaml table describe tpch.orders`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

type globalOptions struct {
	configPath string
	properties map[string]string
	verbose    bool
}

var globalOpts = &globalOptions{}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteWithContext runs the root command with ctx available to all subcommands
func ExecuteWithContext(ctx context.Context) error {
	rootCmd.SetContext(ctx)
	return rootCmd.Execute()
}

// ErrorMessage renders a command failure; with --verbose it adds the error
// code and context
func ErrorMessage(err error) string {
	if globalOpts.verbose {
		return errors.FormatError(err)
	}
	return err.Error()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalOpts.configPath, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringToStringVarP(&globalOpts.properties, "property", "p", nil, "catalog property (key=value), overrides the config file")
	rootCmd.PersistentFlags().BoolVarP(&globalOpts.verbose, "verbose", "v", false, "verbose output")
}

// loadConfig reads the process configuration for a command
func loadConfig(opts *globalOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath, opts.properties)
	if err != nil {
		return nil, err
	}
	if opts.verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// session is what a command needs to talk to the catalog
type session struct {
	cfg     *config.Config
	factory *catalog.Factory
	logger  zerolog.Logger
	closer  io.Closer
}

func (s *session) Close() error {
	err := s.factory.Close()
	if cerr := s.closer.Close(); err == nil {
		err = cerr
	}
	return err
}

// identifier parses a table argument, qualifying bare names with the
// configured default namespace
func (s *session) identifier(arg string) (shared.TableIdentifier, error) {
	return shared.ParseIdentifier(arg, s.cfg.Catalog.Namespace()...)
}

func openSession(opts *globalOptions) (*session, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger, closer, err := config.SetupLogger(cfg.Log, "cli")
	if err != nil {
		return nil, err
	}
	logger.Debug().Str("config", cfg.Catalog.String()).Msg("Loaded catalog configuration")
	return &session{
		cfg:     cfg,
		factory: catalog.NewFactory(catalog.WithLogger(logger)),
		logger:  logger,
		closer:  closer,
	}, nil
}

// withSession runs fn against a session that is closed afterwards
func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	s, err := openSession(globalOpts)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, s)
}
