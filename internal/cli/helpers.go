package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aidanlsb/bql/internal/audit"
	"github.com/aidanlsb/bql/internal/bql"
	"github.com/aidanlsb/bql/internal/config"
	"github.com/aidanlsb/bql/internal/library"
	"github.com/aidanlsb/bql/internal/ui"
)

// stdin is swapped in tests.
var stdin io.Reader = os.Stdin

// commandContext returns the command's context, or Background when the
// command is run directly.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// queryText joins args into one query. A single "-" reads the query from stdin.
func queryText(args []string) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read query from stdin: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return strings.Join(args, " "), nil
}

// parseQuery tokenizes and parses input with the configured depth limit.
// Names are not checked; every bare reference parses.
func parseQuery(input string) (*bql.RuleGroup, error) {
	tokens, err := bql.Tokenize(input)
	if err != nil {
		return nil, err
	}
	return bql.ParseWithOptions(tokens, bql.ParseOptions{MaxDepth: getConfig().MaxDepth})
}

// handleQueryError reports a query error. In text mode lex and syntax
// errors also print the input with a caret under the offending position.
func handleQueryError(input string, err error) error {
	if pos, ok := errorPosition(err); ok && !isJSONOutput() {
		fmt.Fprintln(os.Stderr, ui.Caret(input, pos))
	}
	return handleError(ErrQueryInvalid, err, "")
}

// libraryHandle is an open store with its manager.
type libraryHandle struct {
	*library.Manager
	store library.Store
	audit *audit.Logger
}

// openLibrary opens the configured store.
func openLibrary() (*libraryHandle, error) {
	c := getConfig()
	log := getLogger()

	var store library.Store
	switch c.GetStore() {
	case config.StoreSQLite:
		s, err := library.OpenSQLite(c.LibraryPath(), log)
		if err != nil {
			return nil, err
		}
		store = s
	default:
		store = library.OpenYAML(c.LibraryPath(), log)
	}

	auditLog := audit.New(c.GetDataDir(), c.Audit)
	mgr := library.NewManager(store, library.ManagerOptions{
		Logger:   log,
		Audit:    auditLog,
		LockPath: c.LockPath(),
		MaxDepth: c.MaxDepth,
	})
	return &libraryHandle{Manager: mgr, store: store, audit: auditLog}, nil
}

func (h *libraryHandle) Close() {
	if err := h.store.Close(); err != nil {
		getLogger().Warn("failed to close library", "error", err)
	}
}

// loadSnapshot opens the library and returns its parsed entries.
func loadSnapshot(ctx context.Context) (library.Library, map[string]library.Entry, error) {
	h, err := openLibrary()
	if err != nil {
		return nil, nil, err
	}
	defer h.Close()
	return h.Snapshot(ctx)
}

// loadEntity returns the field declarations of name, or of the configured
// default entity when name is empty.
func loadEntity(name string) (*config.Entity, error) {
	c := getConfig()
	specs, err := config.LoadFields(c.FieldsPath())
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = c.DefaultEntity
	}
	return specs.Entity(name)
}

// unresolvedWarnings turns the unexpanded references in tree into warnings.
func unresolvedWarnings(tree *bql.RuleGroup) []Warning {
	var warnings []Warning
	for _, u := range bql.Unresolved(tree) {
		warnings = append(warnings, Warning{
			Code:    WarnUnresolvedName,
			Message: u.Error(),
			Name:    u.Name,
		})
	}
	return warnings
}

func printWarnings(warnings []Warning) {
	for _, w := range warnings {
		fmt.Fprintln(os.Stderr, ui.Warning(w.Message))
	}
}

// nodeJSON is the JSON form of a rule tree.
type nodeJSON struct {
	Type       string       `json:"type"` // group or rule
	Condition  string       `json:"condition,omitempty"`
	Name       string       `json:"name,omitempty"`
	Unresolved bool         `json:"unresolved,omitempty"`
	Field      string       `json:"field,omitempty"`
	Operator   bql.Operator `json:"operator,omitempty"`
	Value      interface{}  `json:"value,omitempty"`
	Negated    bool         `json:"negated,omitempty"`
	IsChild    bool         `json:"is_child,omitempty"`
	Children   []nodeJSON   `json:"children,omitempty"`
}

func treeJSON(n bql.Node) nodeJSON {
	switch v := n.(type) {
	case bql.Rule:
		return nodeJSON{
			Type:     "rule",
			Field:    v.Field,
			Operator: v.Operator,
			Value:    valueJSON(v.Value),
			Negated:  v.Negated,
			IsChild:  v.IsChild,
		}
	case *bql.RuleGroup:
		out := nodeJSON{
			Type:       "group",
			Condition:  v.Condition.String(),
			Name:       v.Name,
			Unresolved: v.IsUnresolved(),
			Negated:    v.Negated,
			IsChild:    v.IsChild,
		}
		for _, child := range v.Children {
			out.Children = append(out.Children, treeJSON(child))
		}
		return out
	}
	return nodeJSON{}
}

func valueJSON(v bql.Value) interface{} {
	switch v.Kind {
	case bql.ValueString:
		return v.Str
	case bql.ValueNumber:
		return v.Num
	case bql.ValueBool:
		return v.Bool
	case bql.ValueRegex:
		return map[string]string{"pattern": v.Str, "flags": v.Flags}
	case bql.ValueList:
		items := make([]interface{}, len(v.List))
		for i, item := range v.List {
			items[i] = valueJSON(item)
		}
		return items
	}
	return nil
}

// treeText renders tree as an indented outline, one node per line.
func treeText(tree *bql.RuleGroup) string {
	var b strings.Builder
	writeTree(&b, tree, 0)
	return b.String()
}

func writeTree(b *strings.Builder, n bql.Node, depth int) {
	indent := strings.Repeat("  ", depth)
	switch v := n.(type) {
	case bql.Rule:
		line := bql.ToText(bql.NewGroup(bql.And, v))
		if v.IsChild {
			line += " " + ui.Hint("(expanded)")
		}
		fmt.Fprintf(b, "%s%s\n", indent, line)
	case *bql.RuleGroup:
		label := v.Condition.String()
		if v.Negated {
			label = "not " + label
		}
		if v.Name != "" {
			if v.IsUnresolved() {
				label = "ref"
				if v.Negated {
					label = "not ref"
				}
			}
			label += " " + ui.Name(bql.RenderName(v.Name))
		}
		if v.IsChild {
			label += " " + ui.Hint("(expanded)")
		}
		fmt.Fprintf(b, "%s%s\n", indent, label)
		for _, child := range v.Children {
			writeTree(b, child, depth+1)
		}
	}
}
