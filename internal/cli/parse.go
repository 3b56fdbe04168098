package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aidanlsb/bql/internal/bql"
	"github.com/aidanlsb/bql/internal/library"
)

var (
	fmtSimplify bool
	fmtFold     bool
)

var parseCmd = &cobra.Command{
	Use:   "parse <query>",
	Short: "Parse a query and show its rule tree",
	Long: `Parses a query and prints its rule tree, one node per line.

Named queries are not expanded; use 'bql normalize' for that.

Examples:
  bql parse 'lname = "Doe" & dob > 1970-01-01'
  bql parse --json 'status !in (active, pending)'`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input, err := queryText(args)
		if err != nil {
			return handleError(ErrInvalidInput, err, "")
		}
		tree, err := parseQuery(input)
		if err != nil {
			return handleQueryError(input, err)
		}

		if isJSONOutput() {
			outputSuccess(map[string]interface{}{
				"query": bql.ToText(tree),
				"tree":  treeJSON(tree),
			}, nil)
			return nil
		}
		fmt.Print(treeText(tree))
		return nil
	},
}

var fmtCmd = &cobra.Command{
	Use:   "fmt <query>",
	Short: "Print a query in canonical form",
	Long: `Prints a query in canonical form with minimal parentheses.

--simplify also collapses single-child groups and merges nested groups
joined the same way. --fold replaces any part of the query that equals a
saved named query with a reference to it, and implies --simplify.

Examples:
  bql fmt '((a = 1) & (b = 2 & c = 3))'
  bql fmt --fold 'age >= 65 & active = true'`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input, err := queryText(args)
		if err != nil {
			return handleError(ErrInvalidInput, err, "")
		}
		tree, err := parseQuery(input)
		if err != nil {
			return handleQueryError(input, err)
		}

		if fmtFold {
			lib, _, err := loadSnapshot(commandContext(cmd))
			if err != nil {
				return handleError(ErrStoreError, err, "")
			}
			tree = foldLibrary(tree, lib)
		}
		if fmtSimplify || fmtFold {
			tree = bql.Simplify(tree)
		}

		text := bql.ToText(tree)
		if isJSONOutput() {
			outputSuccess(map[string]interface{}{"query": text}, nil)
			return nil
		}
		fmt.Println(text)
		return nil
	},
}

var normalizeCmd = &cobra.Command{
	Use:   "normalize <query>",
	Short: "Expand the named queries a query references",
	Long: `Expands every named query the query references, recursively, and prints
the fully inlined result. References to names that are not saved are left
in place and reported as warnings.

Examples:
  bql normalize '"Seniors" & active = true'`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input, err := queryText(args)
		if err != nil {
			return handleError(ErrInvalidInput, err, "")
		}
		tree, err := parseQuery(input)
		if err != nil {
			return handleQueryError(input, err)
		}
		lib, _, err := loadSnapshot(commandContext(cmd))
		if err != nil {
			return handleError(ErrStoreError, err, "")
		}

		expanded, err := bql.NormalizeWithOptions(tree, lib, bql.NormalizeOptions{MaxDepth: getConfig().MaxDepth})
		if err != nil {
			return handleError(ErrQueryInvalid, err, "")
		}
		warnings := unresolvedWarnings(expanded)
		text := bql.ToText(bql.Inline(expanded))

		if isJSONOutput() {
			outputSuccessWithWarnings(map[string]interface{}{
				"query": text,
				"tree":  treeJSON(expanded),
			}, warnings, nil)
			return nil
		}
		printWarnings(warnings)
		fmt.Println(text)
		return nil
	},
}

// foldLibrary folds every saved definition into tree. Folding repeats until
// nothing changes so that a name defined in terms of another still folds
// once the inner name has.
func foldLibrary(tree *bql.RuleGroup, lib library.Library) *bql.RuleGroup {
	names := lib.Names()
	for pass := 0; pass <= len(names); pass++ {
		changed := false
		for _, name := range names {
			def, err := bql.NormalizeNamed(name, lib)
			if err != nil {
				getLogger().Debug("skipping unexpandable named query", "name", name, "error", err)
				continue
			}
			next := bql.FoldNamed(tree, name, def)
			if !bql.Equal(next, tree) {
				tree, changed = next, true
			}
		}
		if !changed {
			break
		}
	}
	return tree
}

func init() {
	fmtCmd.Flags().BoolVar(&fmtSimplify, "simplify", false, "Collapse and merge redundant groups")
	fmtCmd.Flags().BoolVar(&fmtFold, "fold", false, "Replace parts equal to a saved named query with its name")

	rootCmd.AddCommand(parseCmd)
	rootCmd.AddCommand(fmtCmd)
	rootCmd.AddCommand(normalizeCmd)
}
