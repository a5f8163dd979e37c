package cli

import (
	"context"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gear6io/ranger-catalog/pkg/errors"
	"github.com/gear6io/ranger-catalog/server/catalog"
	"github.com/gear6io/ranger-catalog/server/catalog/shared"
	"github.com/gear6io/ranger-catalog/server/commit"
	"github.com/gear6io/ranger-catalog/server/config"
	"github.com/gear6io/ranger-catalog/server/metadata"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// ErrInvalidArgument is returned for malformed command arguments
var ErrInvalidArgument = errors.CommonInvalidInput

var tableCmd = &cobra.Command{
	Use:   "table",
	Short: "Manage Iceberg tables",
	Long: `Manage Iceberg tables in the catalog.

Examples:
  ranger-catalog table create tpch.orders --column o_orderkey:long:required --column o_orderdate:date --partition o_orderdate:day
  ranger-catalog table describe tpch.orders
  ranger-catalog table append tpch.orders --manifest-list s3://wh/tpch/orders/metadata/snap-1.avro
  ranger-catalog table set-property tpch.orders owner=etl --remove comment
  ranger-catalog table location tpch.orders`,
}

var tableCreateCmd = &cobra.Command{
	Use:   "create <table>",
	Short: "Create an empty table",
	Args:  cobra.ExactArgs(1),
	RunE:  runTableCreate,
}

var tableDescribeCmd = &cobra.Command{
	Use:   "describe <table>",
	Short: "Show schema, snapshots and properties of a table",
	Args:  cobra.ExactArgs(1),
	RunE:  runTableDescribe,
}

var tableListCmd = &cobra.Command{
	Use:   "list <namespace>",
	Short: "List tables in a namespace",
	Args:  cobra.ExactArgs(1),
	RunE:  runNamespaceList,
}

var tableDropCmd = &cobra.Command{
	Use:   "drop <table>",
	Short: "Drop a table from the catalog",
	Long: `Drop a table from the catalog.

Data and metadata files stay in the warehouse.`,
	Args: cobra.ExactArgs(1),
	RunE: runTableDrop,
}

var tableLocationCmd = &cobra.Command{
	Use:   "location <table>",
	Short: "Show where data and metadata files of a table are written",
	Args:  cobra.ExactArgs(1),
	RunE:  runTableLocation,
}

var tableAppendCmd = &cobra.Command{
	Use:   "append <table>",
	Short: "Commit a new snapshot pointing at a manifest list",
	Args:  cobra.ExactArgs(1),
	RunE:  runTableAppend,
}

var tableSetPropertyCmd = &cobra.Command{
	Use:   "set-property <table> [key=value...]",
	Short: "Set or remove table properties",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTableSetProperty,
}

type tableCreateOptions struct {
	columns    []string
	partitions []string
	properties map[string]string
}

type tableAppendOptions struct {
	manifestList string
	operation    string
	summary      map[string]string
}

type tableSetPropertyOptions struct {
	remove []string
}

var (
	tableCreateOpts      = &tableCreateOptions{}
	tableAppendOpts      = &tableAppendOptions{}
	tableSetPropertyOpts = &tableSetPropertyOptions{}
)

func init() {
	rootCmd.AddCommand(tableCmd)
	tableCmd.AddCommand(tableCreateCmd, tableDescribeCmd, tableListCmd, tableDropCmd,
		tableLocationCmd, tableAppendCmd, tableSetPropertyCmd)

	tableCreateCmd.Flags().StringArrayVar(&tableCreateOpts.columns, "column", nil, "column as name:type[:required], type may be nested such as list<string>; repeatable")
	tableCreateCmd.Flags().StringArrayVar(&tableCreateOpts.partitions, "partition", nil, "partition field as column[:transform], repeatable")
	tableCreateCmd.Flags().StringToStringVar(&tableCreateOpts.properties, "prop", nil, "table properties (key=value)")
	_ = tableCreateCmd.MarkFlagRequired("column")

	tableAppendCmd.Flags().StringVar(&tableAppendOpts.manifestList, "manifest-list", "", "manifest list of the new snapshot")
	tableAppendCmd.Flags().StringVar(&tableAppendOpts.operation, "operation", "append", "snapshot operation")
	tableAppendCmd.Flags().StringToStringVar(&tableAppendOpts.summary, "summary", nil, "extra snapshot summary entries (key=value)")
	_ = tableAppendCmd.MarkFlagRequired("manifest-list")

	tableSetPropertyCmd.Flags().StringSliceVar(&tableSetPropertyOpts.remove, "remove", nil, "property keys to remove")
}

// parseColumns turns name:type[:required|optional] specs into schema fields
func parseColumns(specs []string) (metadata.Schema, error) {
	if len(specs) == 0 {
		return metadata.Schema{}, errors.New(ErrInvalidArgument, "a table needs at least one column", nil)
	}
	defs := make([]metadata.ColumnDef, 0, len(specs))
	for _, spec := range specs {
		name, typ, ok := strings.Cut(spec, ":")
		if !ok || typ == "" {
			return metadata.Schema{}, errors.New(ErrInvalidArgument, "column must be name:type[:required]", nil).AddContext("column", spec)
		}
		def := metadata.ColumnDef{Name: name, Type: typ}
		if rest, found := strings.CutSuffix(typ, ":required"); found {
			def.Type, def.Required = rest, true
		} else if rest, found := strings.CutSuffix(typ, ":optional"); found {
			def.Type = rest
		}
		defs = append(defs, def)
	}
	fields, err := metadata.ParseFields(defs)
	if err != nil {
		return metadata.Schema{}, errors.New(ErrInvalidArgument, "invalid columns", err)
	}
	return metadata.Schema{Fields: fields}, nil
}

// parsePartitions turns column[:transform] specs into partition fields over schema
func parsePartitions(schema metadata.Schema, specs []string) (metadata.PartitionSpec, error) {
	spec := metadata.PartitionSpec{Fields: []metadata.PartitionField{}}
	for _, raw := range specs {
		column, transform, _ := strings.Cut(raw, ":")
		if transform == "" {
			transform = "identity"
		}
		idx := slices.IndexFunc(schema.Fields, func(f metadata.Field) bool { return f.Name == column })
		if idx < 0 {
			return metadata.PartitionSpec{}, errors.New(ErrInvalidArgument, "partition column not in schema", nil).AddContext("column", column)
		}
		name := column
		if transform != "identity" {
			name = column + "_" + strings.NewReplacer("[", "", "]", "").Replace(transform)
		}
		spec.Fields = append(spec.Fields, metadata.PartitionField{
			SourceID:  schema.Fields[idx].ID,
			Name:      name,
			Transform: transform,
		})
	}
	return spec, nil
}

// parseAssignments splits key=value arguments
func parseAssignments(args []string) (map[string]string, error) {
	out := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, errors.New(ErrInvalidArgument, "property must be key=value", nil).AddContext("argument", arg)
		}
		out[k] = v
	}
	return out, nil
}

func runTableCreate(cmd *cobra.Command, args []string) error {
	schema, err := parseColumns(tableCreateOpts.columns)
	if err != nil {
		return err
	}
	spec, err := parsePartitions(schema, tableCreateOpts.partitions)
	if err != nil {
		return err
	}
	return withSession(cmd, func(ctx context.Context, s *session) error {
		id, err := s.identifier(args[0])
		if err != nil {
			return err
		}
		md, err := s.factory.CreateTable(ctx, s.cfg.Catalog, id, schema, spec, tableCreateOpts.properties)
		if err != nil {
			return err
		}
		pterm.Success.WithWriter(cmd.OutOrStdout()).Printfln("Created table %s at %s", id, md.Location())
		return nil
	})
}

func runTableDescribe(cmd *cobra.Command, args []string) error {
	return withSession(cmd, func(ctx context.Context, s *session) error {
		id, err := s.identifier(args[0])
		if err != nil {
			return err
		}
		md, err := s.factory.Resolve(ctx, s.cfg.Catalog, id)
		if err != nil {
			return err
		}
		return renderDescribe(cmd.OutOrStdout(), id, md)
	})
}

func runTableDrop(cmd *cobra.Command, args []string) error {
	return withSession(cmd, func(ctx context.Context, s *session) error {
		id, err := s.identifier(args[0])
		if err != nil {
			return err
		}
		if err := s.factory.DropTable(ctx, s.cfg.Catalog, id); err != nil {
			return err
		}
		pterm.Success.WithWriter(cmd.OutOrStdout()).Printfln("Dropped table %s", id)
		return nil
	})
}

func runTableLocation(cmd *cobra.Command, args []string) error {
	return withSession(cmd, func(ctx context.Context, s *session) error {
		id, err := s.identifier(args[0])
		if err != nil {
			return err
		}
		md, err := s.factory.Resolve(ctx, s.cfg.Catalog, id)
		if err != nil {
			return err
		}
		return pterm.DefaultTable.WithWriter(cmd.OutOrStdout()).WithData(pterm.TableData{
			{"location", md.Location()},
			{"data", metadata.DataDirectory(md)},
			{"metadata", md.MetadataDirectory()},
		}).Render()
	})
}

func runTableAppend(cmd *cobra.Command, args []string) error {
	return withSession(cmd, func(ctx context.Context, s *session) error {
		id, err := s.identifier(args[0])
		if err != nil {
			return err
		}
		res, err := appendSnapshot(ctx, s.factory, s.cfg.Catalog, id, *tableAppendOpts)
		if err != nil {
			return err
		}
		return renderCommit(cmd.OutOrStdout(), id, res)
	})
}

func runTableSetProperty(cmd *cobra.Command, args []string) error {
	set, err := parseAssignments(args[1:])
	if err != nil {
		return err
	}
	if len(set) == 0 && len(tableSetPropertyOpts.remove) == 0 {
		return errors.New(ErrInvalidArgument, "nothing to change: pass key=value arguments or --remove", nil)
	}
	return withSession(cmd, func(ctx context.Context, s *session) error {
		id, err := s.identifier(args[0])
		if err != nil {
			return err
		}
		res, err := updateProperties(ctx, s.factory, s.cfg.Catalog, id, set, tableSetPropertyOpts.remove)
		if err != nil {
			return err
		}
		return renderCommit(cmd.OutOrStdout(), id, res)
	})
}

// appendSnapshot commits a snapshot on top of the current metadata of id
func appendSnapshot(ctx context.Context, f *catalog.Factory, cfg config.CatalogConfig, id shared.TableIdentifier, opts tableAppendOptions) (*commit.Result, error) {
	base, err := f.Resolve(ctx, cfg, id)
	if err != nil {
		return nil, err
	}
	summary := maps.Clone(opts.summary)
	if summary == nil {
		summary = map[string]string{}
	}
	summary["operation"] = opts.operation

	proposed, err := base.Builder().
		AppendSnapshot(metadata.Snapshot{ManifestList: opts.manifestList, Summary: summary}).
		Build()
	if err != nil {
		return nil, err
	}
	return f.Commit(ctx, cfg, commit.Request{Identifier: id, Base: base, Proposed: proposed})
}

// updateProperties commits property changes on top of the current metadata of id
func updateProperties(ctx context.Context, f *catalog.Factory, cfg config.CatalogConfig, id shared.TableIdentifier, set map[string]string, remove []string) (*commit.Result, error) {
	base, err := f.Resolve(ctx, cfg, id)
	if err != nil {
		return nil, err
	}
	proposed, err := base.Builder().SetProperties(set).RemoveProperties(remove...).Build()
	if err != nil {
		return nil, err
	}
	return f.Commit(ctx, cfg, commit.Request{Identifier: id, Base: base, Proposed: proposed})
}

func renderTableList(w io.Writer, tables []shared.TableIdentifier) error {
	if len(tables) == 0 {
		pterm.Info.WithWriter(w).Println("No tables found")
		return nil
	}
	data := pterm.TableData{{"Namespace", "Table"}}
	for _, id := range tables {
		data = append(data, []string{id.Namespace.String(), id.Name})
	}
	return pterm.DefaultTable.WithHasHeader().WithWriter(w).WithData(data).Render()
}

func renderDescribe(w io.Writer, id shared.TableIdentifier, md *metadata.TableMetadata) error {
	pterm.DefaultSection.WithWriter(w).Println(id.String())
	overview := pterm.TableData{
		{"uuid", md.TableUUID()},
		{"format version", strconv.Itoa(md.FormatVersion())},
		{"location", md.Location()},
		{"metadata file", md.MetadataLocation()},
		{"token", string(md.Token())},
		{"last sequence number", strconv.FormatInt(md.LastSequenceNumber(), 10)},
	}
	if err := pterm.DefaultTable.WithWriter(w).WithData(overview).Render(); err != nil {
		return err
	}

	schemaData := pterm.TableData{{"ID", "Column", "Type", "Required"}}
	if schema, ok := md.CurrentSchema(); ok {
		for _, f := range schema.Fields {
			schemaData = append(schemaData, []string{strconv.Itoa(f.ID), f.Name, f.TypeName(), strconv.FormatBool(f.Required)})
		}
	}
	pterm.DefaultSection.WithWriter(w).WithLevel(2).Println("Schema")
	if err := pterm.DefaultTable.WithHasHeader().WithWriter(w).WithData(schemaData).Render(); err != nil {
		return err
	}

	if spec, ok := md.DefaultSpec(); ok && len(spec.Fields) > 0 {
		specData := pterm.TableData{{"Field", "Source", "Transform"}}
		for _, f := range spec.Fields {
			specData = append(specData, []string{f.Name, strconv.Itoa(f.SourceID), f.Transform})
		}
		pterm.DefaultSection.WithWriter(w).WithLevel(2).Println("Partitioning")
		if err := pterm.DefaultTable.WithHasHeader().WithWriter(w).WithData(specData).Render(); err != nil {
			return err
		}
	}

	pterm.DefaultSection.WithWriter(w).WithLevel(2).Println("Snapshots")
	if snaps := md.Snapshots(); len(snaps) > 0 {
		snapData := pterm.TableData{{"Snapshot", "Parent", "Sequence", "Committed", "Operation", "Manifest list"}}
		for _, s := range snaps {
			parent := "-"
			if p, ok := s.ParentID(); ok {
				parent = strconv.FormatInt(p, 10)
			}
			snapData = append(snapData, []string{
				strconv.FormatInt(s.SnapshotID, 10),
				parent,
				strconv.FormatInt(s.SequenceNumber, 10),
				time.UnixMilli(s.TimestampMS).UTC().Format(time.RFC3339),
				s.Operation(),
				s.ManifestList,
			})
		}
		if err := pterm.DefaultTable.WithHasHeader().WithWriter(w).WithData(snapData).Render(); err != nil {
			return err
		}
	} else {
		pterm.Info.WithWriter(w).Println("No snapshots")
	}

	if props := md.Properties(); len(props) > 0 {
		propData := pterm.TableData{{"Property", "Value"}}
		for _, k := range slices.Sorted(maps.Keys(props)) {
			propData = append(propData, []string{k, props[k]})
		}
		pterm.DefaultSection.WithWriter(w).WithLevel(2).Println("Properties")
		return pterm.DefaultTable.WithHasHeader().WithWriter(w).WithData(propData).Render()
	}
	return nil
}

func renderCommit(w io.Writer, id shared.TableIdentifier, res *commit.Result) error {
	pterm.Success.WithWriter(w).Printfln("Committed %s (commit %s)", id, res.CommitID)
	return pterm.DefaultTable.WithWriter(w).WithData(pterm.TableData{
		{"token", string(res.Metadata.Token())},
		{"attempts", strconv.Itoa(res.Attempts)},
		{"conflicts", strconv.Itoa(len(res.Conflicts))},
		{"snapshots", strconv.Itoa(len(res.Metadata.Snapshots()))},
	}).Render()
}
