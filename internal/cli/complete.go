package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aidanlsb/bql/internal/complete"
	"github.com/aidanlsb/bql/internal/config"
	"github.com/aidanlsb/bql/internal/ui"
)

var (
	completeCursor int
	completeEntity string
)

var completeCmd = &cobra.Command{
	Use:   "complete <text>",
	Short: "Suggest what can be typed at a cursor position",
	Long: `Classifies the cursor position in partially typed query text as a field,
operator, value or connective position and lists matching suggestions
drawn from the entity's field spec and the saved named queries.

The query must be a single argument so its spacing is kept. --cursor is a
byte offset and defaults to the end of the text.

Examples:
  bql complete 'status = p'
  bql complete --cursor 2 --json 'ag >= 65'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := args[0]
		cursor := completeCursor
		if cursor < 0 {
			cursor = len(text)
		}

		opts := complete.Options{Fields: map[string]complete.Field{}}
		if entity, err := loadEntity(completeEntity); err == nil {
			opts.Fields = completionFields(entity)
		} else {
			getLogger().Debug("completing without fields", "error", err)
		}
		if lib, _, err := loadSnapshot(commandContext(cmd)); err == nil {
			opts.Names = lib.Names()
		} else {
			getLogger().Warn("completing without named queries", "error", err)
		}

		res := complete.Analyze(text, cursor, opts)
		if isJSONOutput() {
			outputSuccess(res, &Meta{Count: len(res.Suggestions)})
			return nil
		}

		t := ui.NewTable(3)
		for _, s := range res.Suggestions {
			t.AddRow(s.Text, ui.Hint(s.Kind), ui.Hint(s.Detail))
		}
		fmt.Print(t.String())
		return nil
	},
}

// completionFields converts declared fields to the analyzer's form.
func completionFields(entity *config.Entity) map[string]complete.Field {
	fields := make(map[string]complete.Field, len(entity.Fields))
	for name, spec := range entity.Fields {
		fields[name] = complete.Field{Type: spec.Type, Values: spec.Values}
	}
	return fields
}

func init() {
	completeCmd.Flags().IntVar(&completeCursor, "cursor", -1, "Cursor byte offset (default: end of text)")
	completeCmd.Flags().StringVarP(&completeEntity, "entity", "e", "", "Entity whose fields to suggest (default: default_entity)")
	rootCmd.AddCommand(completeCmd)
}
