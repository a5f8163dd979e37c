package cli

import (
	"context"

	"github.com/gear6io/ranger-catalog/server/catalog/shared"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var namespaceCmd = &cobra.Command{
	Use:   "namespace",
	Short: "Manage catalog namespaces",
	Long: `Manage namespaces within the catalog.

Examples:
  ranger-catalog namespace create tpch
  ranger-catalog namespace create warehouse.raw --prop owner=etl
  ranger-catalog namespace list tpch`,
}

var namespaceCreateCmd = &cobra.Command{
	Use:   "create <namespace>",
	Short: "Create a new namespace",
	Args:  cobra.ExactArgs(1),
	RunE:  runNamespaceCreate,
}

var namespaceListCmd = &cobra.Command{
	Use:   "list <namespace>",
	Short: "List the tables directly inside a namespace",
	Args:  cobra.ExactArgs(1),
	RunE:  runNamespaceList,
}

type namespaceCreateOptions struct {
	properties map[string]string
}

var namespaceCreateOpts = &namespaceCreateOptions{}

func init() {
	rootCmd.AddCommand(namespaceCmd)
	namespaceCmd.AddCommand(namespaceCreateCmd)
	namespaceCmd.AddCommand(namespaceListCmd)

	namespaceCreateCmd.Flags().StringToStringVar(&namespaceCreateOpts.properties, "prop", nil, "namespace properties (key=value)")
}

func runNamespaceCreate(cmd *cobra.Command, args []string) error {
	ns, err := shared.ParseNamespace(args[0])
	if err != nil {
		return err
	}
	return withSession(cmd, func(ctx context.Context, s *session) error {
		if err := s.factory.CreateNamespace(ctx, s.cfg.Catalog, ns, namespaceCreateOpts.properties); err != nil {
			return err
		}
		pterm.Success.WithWriter(cmd.OutOrStdout()).Printfln("Created namespace %s", ns)
		return nil
	})
}

func runNamespaceList(cmd *cobra.Command, args []string) error {
	ns, err := shared.ParseNamespace(args[0])
	if err != nil {
		return err
	}
	return withSession(cmd, func(ctx context.Context, s *session) error {
		tables, err := s.factory.ListTables(ctx, s.cfg.Catalog, ns)
		if err != nil {
			return err
		}
		return renderTableList(cmd.OutOrStdout(), tables)
	})
}
