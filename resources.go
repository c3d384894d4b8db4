package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/exact-go/internal/odata"
	"github.com/tonimelisma/exact-go/internal/resource"
)

func newTypesCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "types",
		Short:       "List the built-in resource types",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runTypes,
	}
}

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <type>",
		Short: "List entities of a resource type",
		Long: `List entities of a resource type. Without --all only the first page
(60 records on Exact Online) is fetched.

Examples:
  exact-go list accounts --select code,name --order-by name
  exact-go list items --all -o json`,
		Args: cobra.ExactArgs(1),
		RunE: runList,
	}

	cmd.Flags().StringSlice("select", nil, "properties to return")
	cmd.Flags().StringSlice("order-by", nil, "properties to sort by")
	cmd.Flags().Bool("all", false, "follow pagination links until the last page")

	return cmd
}

func newFindCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "find <type> <id>",
		Short: "Fetch one entity by key",
		Args:  cobra.ExactArgs(2),
		RunE:  runFind,
	}
}

func newFindByCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "find-by <type>",
		Short: "Find entities by attribute values",
		Long: `Find entities whose attributes equal the given values. Repeating a
--filter for the same attribute matches any of the values.

Examples:
  exact-go find-by accounts --filter code=A1
  exact-go find-by items --filter code=I1 --filter code=I2 --select code,description`,
		Args: cobra.ExactArgs(1),
		RunE: runFindBy,
	}

	cmd.Flags().StringArray("filter", nil, "attribute=value (repeatable)")
	cmd.Flags().StringSlice("select", nil, "properties to return")
	cmd.Flags().StringSlice("order-by", nil, "properties to sort by")
	cmd.Flags().Bool("all", false, "follow pagination links until the last page")

	return cmd
}

func newSaveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "save <type> attribute=value...",
		Short: "Create an entity, or update one with --id",
		Long: `Create an entity (POST), or update an existing one (PUT) when --id is
given. Values are parsed as JSON when possible (numbers, true/false, null,
quoted strings) and sent as plain strings otherwise.

Examples:
  exact-go save accounts name="Acme BV" code=A1
  exact-go save items --id 5c1c6f37-0a3b-4d8e-9e0a-1f2b3c4d5e6f description=Widget`,
		Args: cobra.MinimumNArgs(1),
		RunE: runSave,
	}

	cmd.Flags().String("id", "", "key of the entity to update")

	return cmd
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <type> <id>",
		Short: "Delete an entity by key",
		Args:  cobra.ExactArgs(2),
		RunE:  runDelete,
	}
}

func runTypes(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	defs := resource.Definitions()

	type typeInfo struct {
		Name      string   `json:"name" yaml:"name"`
		Path      string   `json:"path" yaml:"path"`
		Key       string   `json:"key" yaml:"key"`
		Mandatory []string `json:"mandatory" yaml:"mandatory"`
	}

	infos := make([]typeInfo, 0, len(defs))
	rows := make([][]string, 0, len(defs))

	for _, d := range defs {
		mandatory := resource.WireNames(d.MandatoryAttributes())
		infos = append(infos, typeInfo{Name: d.Name, Path: d.BasePath, Key: d.KeyField(), Mandatory: mandatory})
		rows = append(rows, []string{d.Name, d.BasePath, d.KeyField(), strings.Join(mandatory, ", ")})
	}

	w := cmd.OutOrStdout()

	if ok, err := writeStructured(w, cc.Flags.Output, infos); ok {
		return err
	}

	return printTable(w, []string{"Type", "Path", "Key", "Mandatory"}, rows)
}

// findOptions reads --select and --order-by.
func findOptions(cmd *cobra.Command) resource.FindOptions {
	sel, _ := cmd.Flags().GetStringSlice("select")
	order, _ := cmd.Flags().GetStringSlice("order-by")

	return resource.FindOptions{Select: sel, OrderBy: order}
}

func runList(cmd *cobra.Command, args []string) error {
	return listRecords(cmd, args[0], nil)
}

func runFindBy(cmd *cobra.Command, args []string) error {
	raw, _ := cmd.Flags().GetStringArray("filter")
	if len(raw) == 0 {
		return errors.New("at least one --filter is required")
	}

	return listRecords(cmd, args[0], raw)
}

// listRecords backs both list and find-by. filters are attribute=value
// assignments; none means an unfiltered listing.
func listRecords(cmd *cobra.Command, typeName string, filters []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	def, err := lookupType(typeName)
	if err != nil {
		return err
	}

	attrs, names, err := parseFilters(def, filters)
	if err != nil {
		return err
	}

	sess, err := NewSession(ctx, cc, nil)
	if err != nil {
		return err
	}

	r := sess.Resource(def, attrs)
	opts := findOptions(cmd)
	opts.Filters = names
	all, _ := cmd.Flags().GetBool("all")

	var records []odata.Record

	switch {
	case all:
		err = r.FindAllPages(ctx, opts, func(rs *odata.ResultSet) error {
			records = append(records, rs.Records...)
			return nil
		})
	case len(names) > 0:
		var rs *odata.ResultSet
		if rs, err = r.FindBy(ctx, opts); err == nil {
			records = rs.Records

			if rs.HasNextPage() {
				cc.Statusf("More results available; use --all to fetch every page.\n")
			}
		}
	default:
		var rs *odata.ResultSet
		if rs, err = r.FindAll(ctx, opts); err == nil {
			records = rs.Records

			if rs.HasNextPage() {
				cc.Statusf("More results available; use --all to fetch every page.\n")
			}
		}
	}

	if err != nil {
		return err
	}

	cc.Logger.Debug("listed records", slog.String("type", def.Name), slog.Int("count", len(records)))

	return printRecords(cmd.OutOrStdout(), cc.Flags.Output, records, resource.WireNames(opts.Select), def.KeyField())
}

func runFind(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	def, err := lookupType(args[0])
	if err != nil {
		return err
	}

	sess, err := NewSession(ctx, cc, nil)
	if err != nil {
		return err
	}

	rec, err := sess.Resource(def, keyAttrs(def, args[1])).Find(ctx)
	if err != nil {
		return err
	}

	if rec == nil {
		return fmt.Errorf("%s %s: %w", def.Name, args[1], odata.ErrNotFound)
	}

	return printRecord(cmd.OutOrStdout(), cc.Flags.Output, rec)
}

func runSave(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	def, err := lookupType(args[0])
	if err != nil {
		return err
	}

	id, _ := cmd.Flags().GetString("id")

	attrs := map[string]any{}
	if id != "" {
		attrs = keyAttrs(def, id)
	}

	sess, err := NewSession(ctx, cc, nil)
	if err != nil {
		return err
	}

	r := sess.Resource(def, attrs)

	for _, arg := range args[1:] {
		name, value, err := parseAssignment(arg)
		if err != nil {
			return err
		}

		if !r.SetAttr(name, value) {
			return fmt.Errorf("%s: attribute %q is not valid (allowed: %s)",
				def.Name, name, strings.Join(def.ValidAttributes(), ", "))
		}
	}

	missing := r.MissingAttributes()

	resp, err := r.Save(ctx)
	if err != nil {
		return err
	}

	if !resp.Success() {
		if len(missing) > 0 {
			return fmt.Errorf("%s: missing mandatory attributes: %s", def.Name, strings.Join(missing, ", "))
		}

		return saveFailure(def, resp)
	}

	if id != "" {
		cc.Statusf("Updated %s %s.\n", def.Name, id)
		return nil
	}

	if rec, ok := resp.Result(); ok {
		return printRecord(cmd.OutOrStdout(), cc.Flags.Output, rec)
	}

	cc.Statusf("Created %s %v.\n", def.Name, r.ID())

	return nil
}

// saveFailure describes a reply that passed classification without
// succeeding, e.g. 405 Method Not Allowed.
func saveFailure(def *resource.Definition, resp *odata.Response) error {
	msg, ok := resp.ErrorMessage()
	if !ok {
		msg = http.StatusText(resp.StatusCode())
	}

	return fmt.Errorf("%s: save failed: HTTP %d: %s", def.Name, resp.StatusCode(), msg)
}

func runDelete(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	def, err := lookupType(args[0])
	if err != nil {
		return err
	}

	sess, err := NewSession(ctx, cc, nil)
	if err != nil {
		return err
	}

	if _, err := sess.Resource(def, keyAttrs(def, args[1])).Delete(ctx); err != nil {
		return err
	}

	cc.Logger.Info("deleted entity", slog.String("type", def.Name), slog.String("id", args[1]))
	cc.Statusf("Deleted %s %s.\n", def.Name, args[1])

	return nil
}

// keyAttrs returns the attribute map that identifies one entity. The key is
// decoded like any other value, so integer keys (division codes) are sent
// as numbers and GUIDs as guid literals.
func keyAttrs(def *resource.Definition, id string) map[string]any {
	return map[string]any{def.KeyField(): parseValue(id)}
}

// parseAssignment splits "name=value" and decodes value.
func parseAssignment(arg string) (string, any, error) {
	name, raw, ok := strings.Cut(arg, "=")
	if !ok || name == "" {
		return "", nil, fmt.Errorf("expected attribute=value, got %q", arg)
	}

	return name, parseValue(raw), nil
}

// parseValue decodes JSON scalars and falls back to the raw string, so
// 12.5 is a number, "true" is a bool and 0012 stays a string.
func parseValue(raw string) any {
	var v any

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	if err := dec.Decode(&v); err != nil || dec.More() {
		return raw
	}

	switch v.(type) {
	case map[string]any, []any:
		return raw
	}

	return v
}

// parseFilters turns attribute=value filters into resource attributes.
// Repeating an attribute collects its values into a slice, which becomes an
// "or" clause.
func parseFilters(def *resource.Definition, filters []string) (map[string]any, []string, error) {
	attrs := make(map[string]any, len(filters))

	var names []string

	for _, f := range filters {
		name, value, err := parseAssignment(f)
		if err != nil {
			return nil, nil, err
		}

		if !def.Valid(name) {
			return nil, nil, fmt.Errorf("%s: cannot filter on %q (allowed: %s)",
				def.Name, name, strings.Join(def.ValidAttributes(), ", "))
		}

		key := resource.NormalizeKey(name)

		prev, seen := attrs[key]
		if !seen {
			attrs[key] = value
			names = append(names, key)

			continue
		}

		if vals, ok := prev.([]any); ok {
			attrs[key] = append(vals, value)
		} else {
			attrs[key] = []any{prev, value}
		}
	}

	return attrs, names, nil
}
