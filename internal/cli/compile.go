package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/theory/jsonpath"

	"github.com/aidanlsb/bql/internal/bql"
	"github.com/aidanlsb/bql/internal/dates"
	"github.com/aidanlsb/bql/internal/esquery"
	"github.com/aidanlsb/bql/internal/ui"
)

var (
	compileEntity string
	compileNow    string
	evalDocs      string
	evalPath      string
)

var compileCmd = &cobra.Command{
	Use:   "compile <query>",
	Short: "Compile a query to a search-engine boolean query",
	Long: `Expands the named queries a query references, checks every field and
operator against the entity's field spec and prints the compiled query in
Elasticsearch DSL form.

Relative dates (today, yesterday, tomorrow) resolve against --now, which
defaults to the current time.

Examples:
  bql compile --entity birthday 'lname = "Doe" & dob > 1970-01-01'
  bql compile 'dob >= yesterday' --now 2024-03-01`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := compileArgs(cmd, args)
		if err != nil {
			return err
		}

		if isJSONOutput() {
			src, err := esquery.Source(q)
			if err != nil {
				return handleError(ErrInternal, err, "")
			}
			outputSuccess(map[string]interface{}{"query": src}, nil)
			return nil
		}
		data, err := esquery.MarshalIndent(q)
		if err != nil {
			return handleError(ErrInternal, err, "")
		}
		fmt.Println(string(data))
		return nil
	},
}

var evalCmd = &cobra.Command{
	Use:   "eval --docs <file> <query>",
	Short: "Evaluate a compiled query against JSON documents",
	Long: `Compiles a query like 'bql compile' and evaluates it in memory against
the documents in --docs, a JSON array of objects. Prints the documents that
match.

--path selects the documents from a nested file with a JSONPath
expression, for example the sources of a saved search response.

Examples:
  bql eval --docs people.json 'age >= 65 | vip = true'
  bql eval --docs response.json --path '$.hits.hits[*]._source' 'status = active'`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if evalDocs == "" {
			return handleErrorMsg(ErrMissingArgument, "--docs is required", "Pass a JSON file with an array of objects")
		}
		docs, err := readDocuments(evalDocs, evalPath)
		if err != nil {
			return handleError(ErrFileReadError, err, "")
		}
		q, err := compileArgs(cmd, args)
		if err != nil {
			return err
		}

		matched := []esquery.Document{}
		for _, doc := range docs {
			ok, err := esquery.Match(q, doc)
			if err != nil {
				return handleError(ErrQueryInvalid, err, "")
			}
			if ok {
				matched = append(matched, doc)
			}
		}

		if isJSONOutput() {
			outputSuccess(map[string]interface{}{
				"matched": matched,
				"total":   len(docs),
			}, &Meta{Count: len(matched)})
			return nil
		}
		for _, doc := range matched {
			line, err := json.Marshal(doc)
			if err != nil {
				return handleError(ErrInternal, err, "")
			}
			fmt.Println(string(line))
		}
		fmt.Fprintln(os.Stderr, ui.Hint(fmt.Sprintf("%d of %d documents matched", len(matched), len(docs))))
		return nil
	},
}

// compileArgs runs the full pipeline on the query in args. Errors are
// already reported when it returns.
func compileArgs(cmd *cobra.Command, args []string) (esquery.Query, error) {
	input, err := queryText(args)
	if err != nil {
		return nil, handleError(ErrInvalidInput, err, "")
	}
	now, err := parseNow(compileNow)
	if err != nil {
		return nil, handleError(ErrInvalidInput, err, "Use YYYY-MM-DD or an RFC3339 timestamp")
	}
	entity, err := loadEntity(compileEntity)
	if err != nil {
		return nil, handleError(ErrConfigInvalid, err, "Pass --entity or set default_entity in the config file")
	}
	tree, err := parseQuery(input)
	if err != nil {
		return nil, handleQueryError(input, err)
	}
	lib, _, err := loadSnapshot(commandContext(cmd))
	if err != nil {
		return nil, handleError(ErrStoreError, err, "")
	}

	maxDepth := getConfig().MaxDepth
	expanded, err := bql.NormalizeWithOptions(tree, lib, bql.NormalizeOptions{MaxDepth: maxDepth})
	if err != nil {
		return nil, handleError(ErrQueryInvalid, err, "")
	}
	if unresolved := bql.Unresolved(expanded); len(unresolved) > 0 {
		return nil, handleError(ErrQueryNotFound, unresolved[0], "")
	}

	q, err := bql.CompileWithOptions(expanded, entity.Types(), bql.CompileOptions{Now: now, MaxDepth: maxDepth})
	if err != nil {
		return nil, handleError(ErrQueryInvalid, err, "")
	}
	return q, nil
}

// parseNow parses the --now flag. Empty means the zero time, which the
// compiler replaces with the current time.
func parseNow(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if dates.IsValidDate(s) {
		return time.ParseInLocation("2006-01-02", s, time.Local)
	}
	t, err := dates.ParseDatetime(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --now: %w", err)
	}
	return t, nil
}

// readDocuments loads the documents to evaluate. Without a JSONPath
// expression the file must hold an array of objects; with one, every
// selected node must be an object.
func readDocuments(path, selector string) ([]esquery.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read documents: %w", err)
	}
	if selector == "" {
		var docs []esquery.Document
		if err := json.Unmarshal(data, &docs); err != nil {
			return nil, documentsError(path, "expected a JSON array of objects", err)
		}
		return docs, nil
	}

	p, err := jsonpath.Parse(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid --path %q: %w", selector, err)
	}
	var root any
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, documentsError(path, "expected JSON", err)
	}
	nodes := p.Select(root)
	docs := make([]esquery.Document, 0, len(nodes))
	for i, node := range nodes {
		doc, ok := node.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s: --path match %d is a %T, not an object", path, i, node)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func documentsError(path, expected string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return fmt.Errorf("%s: invalid JSON at offset %d: %w", path, syntaxErr.Offset, err)
	}
	return fmt.Errorf("%s: %s: %w", path, expected, err)
}

func init() {
	for _, c := range []*cobra.Command{compileCmd, evalCmd} {
		c.Flags().StringVarP(&compileEntity, "entity", "e", "", "Entity whose fields the query uses (default: default_entity)")
		c.Flags().StringVar(&compileNow, "now", "", "Reference time for relative dates (YYYY-MM-DD or RFC3339)")
	}
	evalCmd.Flags().StringVar(&evalDocs, "docs", "", "JSON file with an array of documents")
	evalCmd.Flags().StringVar(&evalPath, "path", "", "JSONPath selecting the documents inside --docs")

	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(evalCmd)
}
