package cli

import (
	"io"
	"maps"
	"slices"

	"github.com/gear6io/ranger-catalog/server/config"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective catalog properties with secrets masked",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(globalOpts)
		if err != nil {
			return err
		}
		return renderConfig(cmd.OutOrStdout(), cfg)
	},
}

var configSaveCmd = &cobra.Command{
	Use:   "save <path>",
	Short: "Write the effective configuration to a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(globalOpts)
		if err != nil {
			return err
		}
		if err := config.Save(cfg, args[0]); err != nil {
			return err
		}
		pterm.Success.WithWriter(cmd.OutOrStdout()).Printfln("Configuration written to %s", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configSaveCmd)
}

func renderConfig(w io.Writer, cfg *config.Config) error {
	props := cfg.Catalog.RedactedProperties()
	data := pterm.TableData{{"Property", "Value"}}
	for _, k := range slices.Sorted(maps.Keys(props)) {
		data = append(data, []string{k, props[k]})
	}
	data = append(data,
		[]string{"log.level", cfg.Log.Level},
		[]string{"log.format", cfg.Log.Format},
	)
	return pterm.DefaultTable.WithHasHeader().WithWriter(w).WithData(data).Render()
}
