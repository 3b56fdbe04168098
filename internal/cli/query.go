package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"github.com/aidanlsb/bql/internal/bql"
	"github.com/aidanlsb/bql/internal/library"
	"github.com/aidanlsb/bql/internal/ui"
)

var (
	queryListMatch       string
	querySaveDescription string
	queryStrict          bool
	queryDeleteYes       bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Manage saved named queries",
	Long: `Named queries are saved BQL queries that other queries can reference by
name. Renaming or deleting one rewrites every saved query that references
it, one entry at a time. If a cascade is interrupted, running the same
command again finishes it.`,
}

var queryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved named queries",
	Long: `Lists saved named queries in name order. --match keeps only names
matching a glob pattern (*, ?, [a-z] and {a,b} alternatives).

Examples:
  bql query list
  bql query list --match '*Seniors'`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if queryListMatch != "" && !doublestar.ValidatePattern(queryListMatch) {
			return handleErrorMsg(ErrInvalidInput, fmt.Sprintf("invalid --match pattern %q", queryListMatch), "")
		}

		h, err := openLibrary()
		if err != nil {
			return handleError(ErrStoreError, err, "")
		}
		defer h.Close()

		lib, entries, err := h.Snapshot(commandContext(cmd))
		if err != nil {
			return handleError(ErrStoreError, err, "")
		}

		items := make([]library.Entry, 0, len(entries))
		for _, name := range lib.Names() {
			if queryListMatch != "" {
				if ok, _ := doublestar.Match(queryListMatch, name); !ok {
					continue
				}
			}
			items = append(items, entries[name])
		}

		if isJSONOutput() {
			outputSuccess(map[string]interface{}{"queries": items}, &Meta{Count: len(items)})
			return nil
		}
		if len(items) == 0 {
			fmt.Println(ui.Hint("No saved queries. Add one with 'bql query save <name> <query>'."))
			return nil
		}
		t := ui.NewTable(3)
		for _, e := range items {
			t.AddRow(ui.Name(bql.RenderName(e.Name)), e.Query, ui.Hint(firstLine(e.Description)))
		}
		fmt.Print(t.String())
		return nil
	},
}

var queryShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show a named query, its expansion and its dependents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		lib, entries, err := loadSnapshot(commandContext(cmd))
		if err != nil {
			return handleError(ErrStoreError, err, "")
		}
		entry, ok := entries[name]
		if !ok {
			return handleError(ErrQueryNotFound, fmt.Errorf("%w: %q", library.ErrNameNotFound, name), "")
		}

		expanded, err := bql.NormalizeNamed(name, lib)
		if err != nil {
			return handleError(ErrQueryInvalid, err, "")
		}
		expansion := bql.ToText(bql.Inline(expanded))
		deps := library.Dependents(lib, name)
		warnings := unresolvedWarnings(expanded)

		if isJSONOutput() {
			outputSuccessWithWarnings(map[string]interface{}{
				"name":        entry.Name,
				"query":       entry.Query,
				"description": entry.Description,
				"expanded":    expansion,
				"dependents":  nonNil(deps),
			}, warnings, nil)
			return nil
		}

		printWarnings(warnings)
		fmt.Println(ui.Header(bql.RenderName(entry.Name)))
		fmt.Printf("  %s\n", entry.Query)
		if expansion != entry.Query {
			fmt.Printf("  %s %s\n", ui.Hint("expands to"), expansion)
		}
		if entry.Description != "" {
			display := ui.NewDisplayContext(os.Stdout)
			rendered, err := ui.RenderMarkdown(entry.Description, display.MarkdownWidth())
			if err != nil {
				rendered = entry.Description + "\n"
			}
			fmt.Println()
			fmt.Print(rendered)
		}
		if len(deps) > 0 {
			fmt.Println()
			fmt.Printf("%s %s\n", ui.Header("Referenced by"), ui.Count(len(deps), "query", "queries"))
			list := ui.NewList()
			for _, dep := range deps {
				list.Add(ui.Name(bql.RenderName(dep)))
			}
			fmt.Print(list.String())
		}
		return nil
	},
}

var querySaveCmd = &cobra.Command{
	Use:   "save <name> <query>",
	Short: "Save a query under a name",
	Long: `Saves a query under a name, replacing any query already saved under it.
The query is stored in canonical form. It may reference names that are not
saved yet; those are reported as warnings.

Examples:
  bql query save Seniors 'age >= 65'
  bql query save "Active Seniors" '"Seniors" & active = true' -d 'Seniors with an active account'`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		input, err := queryText(args[1:])
		if err != nil {
			return handleError(ErrInvalidInput, err, "")
		}

		h, err := openLibrary()
		if err != nil {
			return handleError(ErrStoreError, err, "")
		}
		defer h.Close()

		res, err := h.Save(commandContext(cmd), name, input, querySaveDescription)
		if err != nil {
			return handleQueryError(input, err)
		}

		var warnings []Warning
		for _, u := range res.Unresolved {
			warnings = append(warnings, Warning{
				Code:    WarnUnresolvedName,
				Message: fmt.Sprintf("%q references %q, which is not saved yet", name, u),
				Name:    u,
			})
		}

		if isJSONOutput() {
			outputSuccessWithWarnings(res, warnings, nil)
			return nil
		}
		printWarnings(warnings)
		verb := "Updated"
		if res.Created {
			verb = "Saved"
		}
		fmt.Println(ui.Successf("%s %s: %s", verb, ui.Name(bql.RenderName(name)), res.Entry.Query))
		return nil
	},
}

var queryRenameCmd = &cobra.Command{
	Use:   "rename <old> <new>",
	Short: "Rename a named query and update every query that references it",
	Long: `Renames a named query and rewrites every saved query that references it
to use the new name. With --strict (or strict_references in the config) the
rename is refused while other queries reference the name.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openLibrary()
		if err != nil {
			return handleError(ErrStoreError, err, "")
		}
		defer h.Close()

		res, err := h.Rename(commandContext(cmd), args[0], args[1], strictMode(cmd))
		if err != nil {
			return handleError(ErrStoreError, err, "")
		}

		if isJSONOutput() {
			outputSuccess(res, &Meta{Count: len(res.Updated)})
			return nil
		}
		if res.Resumed {
			fmt.Println(ui.Info("Resumed an interrupted rename"))
		}
		fmt.Println(ui.Successf("Renamed %s to %s %s",
			ui.Name(bql.RenderName(res.Name)), ui.Name(bql.RenderName(res.NewName)),
			ui.Count(len(res.Updated), "dependent updated", "dependents updated")))
		printUpdated(res)
		return nil
	},
}

var queryDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a named query, inlining it into the queries that reference it",
	Long: `Deletes a named query. Every saved query that references it gets the
reference replaced by the deleted query's expansion first, so the
dependents keep matching the same records. With --strict (or
strict_references in the config) the delete is refused while other queries
reference the name.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		ctx := commandContext(cmd)
		strict := strictMode(cmd)

		h, err := openLibrary()
		if err != nil {
			return handleError(ErrStoreError, err, "")
		}
		defer h.Close()

		if !strict && !queryDeleteYes && shouldPromptForConfirm() {
			lib, _, err := h.Snapshot(ctx)
			if err != nil {
				return handleError(ErrStoreError, err, "")
			}
			if deps := library.Dependents(lib, name); len(deps) > 0 {
				msg := fmt.Sprintf("%s is referenced by %s. Inline it into them and delete?",
					bql.RenderName(name), strings.Join(deps, ", "))
				if !promptForConfirm(msg) {
					fmt.Println(ui.Hint("Nothing deleted."))
					return nil
				}
			}
		}

		res, err := h.Delete(ctx, name, strict)
		if err != nil {
			return handleError(ErrStoreError, err, "")
		}

		if isJSONOutput() {
			outputSuccess(res, &Meta{Count: len(res.Updated)})
			return nil
		}
		fmt.Println(ui.Successf("Deleted %s %s", ui.Name(bql.RenderName(name)),
			ui.Count(len(res.Updated), "dependent updated", "dependents updated")))
		printUpdated(res)
		return nil
	},
}

var queryHistoryCmd = &cobra.Command{
	Use:   "history <name>",
	Short: "Show audit log entries for a named query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openLibrary()
		if err != nil {
			return handleError(ErrStoreError, err, "")
		}
		defer h.Close()

		if !h.audit.Enabled() {
			msg := "audit logging is disabled; set audit = true in the config file"
			if isJSONOutput() {
				outputSuccessWithWarnings(map[string]interface{}{"entries": []interface{}{}},
					[]Warning{{Code: WarnAuditDisabled, Message: msg}}, nil)
				return nil
			}
			fmt.Println(ui.Warning(msg))
			return nil
		}

		entries, err := h.audit.ReadForEntity(args[0])
		if err != nil {
			return handleError(ErrFileReadError, err, "")
		}
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].Timestamp.Before(entries[j].Timestamp) })

		if isJSONOutput() {
			if entries == nil {
				outputSuccess(map[string]interface{}{"entries": []interface{}{}}, nil)
				return nil
			}
			outputSuccess(map[string]interface{}{"entries": entries}, &Meta{Count: len(entries)})
			return nil
		}
		if len(entries) == 0 {
			fmt.Println(ui.Hint("No history for " + bql.RenderName(args[0])))
			return nil
		}
		t := ui.NewTable(4)
		for _, e := range entries {
			t.AddRow(ui.Hint(e.Timestamp.Local().Format("2006-01-02 15:04:05")), e.Operation, e.ID, describeChanges(e.Changes, e.Extra))
		}
		fmt.Print(t.String())
		return nil
	},
}

// strictMode returns --strict when given, otherwise strict_references.
func strictMode(cmd *cobra.Command) bool {
	if f := cmd.Flags().Lookup("strict"); f != nil && f.Changed {
		return queryStrict
	}
	return getConfig().StrictReferences
}

func printUpdated(res *library.Result) {
	list := ui.NewList()
	for _, name := range res.Updated {
		list.Add(ui.Name(bql.RenderName(name)))
	}
	fmt.Print(list.String())
	for _, name := range res.Skipped {
		fmt.Println(ui.Warningf("%s no longer referenced %s", bql.RenderName(name), bql.RenderName(res.Name)))
	}
}

func describeChanges(changes, extra map[string]any) string {
	if len(changes) == 0 {
		if q, ok := extra["query"].(string); ok {
			return q
		}
		return ""
	}
	keys := make([]string, 0, len(changes))
	for k := range changes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		change, _ := changes[k].(map[string]any)
		parts = append(parts, fmt.Sprintf("%v -> %v", change["old"], change["new"]))
	}
	return strings.Join(parts, "; ")
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}

func init() {
	queryListCmd.Flags().StringVar(&queryListMatch, "match", "", "Only list names matching this glob pattern")
	querySaveCmd.Flags().StringVarP(&querySaveDescription, "description", "d", "", "Markdown description of the query")
	queryRenameCmd.Flags().BoolVar(&queryStrict, "strict", false, "Refuse if other queries reference the name")
	queryDeleteCmd.Flags().BoolVar(&queryStrict, "strict", false, "Refuse if other queries reference the name")
	queryDeleteCmd.Flags().BoolVarP(&queryDeleteYes, "yes", "y", false, "Do not ask before inlining into dependents")

	queryCmd.AddCommand(queryListCmd)
	queryCmd.AddCommand(queryShowCmd)
	queryCmd.AddCommand(querySaveCmd)
	queryCmd.AddCommand(queryRenameCmd)
	queryCmd.AddCommand(queryDeleteCmd)
	queryCmd.AddCommand(queryHistoryCmd)
	rootCmd.AddCommand(queryCmd)
}
