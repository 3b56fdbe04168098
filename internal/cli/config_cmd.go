package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/aidanlsb/bql/internal/config"
	"github.com/aidanlsb/bql/internal/ui"
)

var (
	configSetDataDir          string
	configSetStore            string
	configSetFields           string
	configSetDefaultEntity    string
	configSetMaxDepth         int
	configSetStrictReferences bool
	configSetAudit            bool
	configSetLogLevel         string
	configSetLogFormat        string
	configSetUIAccent         string
	configSetUICodeTheme      string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the bql config file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a commented default config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.ResolveConfigPath(configPath)
		created, err := config.CreateDefault(path)
		if err != nil {
			return handleError(ErrConfigInvalid, err, "")
		}

		if isJSONOutput() {
			outputSuccess(map[string]interface{}{"path": path, "created": created}, nil)
			return nil
		}
		if created {
			fmt.Println(ui.Successf("Created %s", path))
		} else {
			fmt.Println(ui.Info("Config already exists at " + path))
		}
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.ResolveConfigPath(configPath)
		if isJSONOutput() {
			outputSuccess(map[string]interface{}{"path": path}, nil)
			return nil
		}
		fmt.Println(path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data := configData(resolvedConfigPath, getConfig())
		if isJSONOutput() {
			outputSuccess(data, nil)
			return nil
		}

		t := ui.NewTable(2)
		for _, key := range []string{"config", "data_dir", "store", "library", "fields", "default_entity", "max_depth", "strict_references", "audit", "log_level", "log_format"} {
			t.AddRow(ui.Hint(key), fmt.Sprint(data[key]))
		}
		fmt.Print(t.String())
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change settings in the config file",
	Long: `Changes the given settings and writes the config file back. Settings that
are not named keep their current values.

Examples:
  bql config set --store sqlite --audit
  bql config set --fields ~/bql/fields.yaml --default-entity birthday`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.ResolveConfigPath(configPath)
		c, err := config.LoadOrDefault(path)
		if err != nil {
			return handleError(ErrConfigInvalid, err, "")
		}

		changed := 0
		cmd.Flags().Visit(func(f *pflag.Flag) {
			changed++
			switch f.Name {
			case "data-dir":
				c.DataDir = configSetDataDir
			case "store":
				c.Store = configSetStore
			case "fields":
				c.Fields = configSetFields
			case "default-entity":
				c.DefaultEntity = configSetDefaultEntity
			case "max-depth":
				c.MaxDepth = configSetMaxDepth
			case "strict-references":
				c.StrictReferences = configSetStrictReferences
			case "audit":
				c.Audit = configSetAudit
			case "default-log-level":
				c.LogLevel = configSetLogLevel
			case "log-format":
				c.LogFormat = configSetLogFormat
			case "ui-accent":
				c.UI.Accent = configSetUIAccent
			case "ui-code-theme":
				c.UI.CodeTheme = configSetUICodeTheme
			default:
				changed--
			}
		})
		if changed == 0 {
			return handleErrorMsg(ErrMissingArgument, "no settings given", "Run 'bql config set --help' to see the settings")
		}

		if err := config.SaveTo(path, c); err != nil {
			return handleError(ErrConfigInvalid, err, "")
		}

		if isJSONOutput() {
			outputSuccess(configData(path, c), nil)
			return nil
		}
		fmt.Println(ui.Successf("Updated %s", path))
		return nil
	},
}

func configData(path string, c *config.Config) map[string]interface{} {
	return map[string]interface{}{
		"config":            path,
		"data_dir":          c.GetDataDir(),
		"store":             c.GetStore(),
		"library":           c.LibraryPath(),
		"fields":            c.FieldsPath(),
		"default_entity":    c.DefaultEntity,
		"max_depth":         c.MaxDepth,
		"strict_references": c.StrictReferences,
		"audit":             c.Audit,
		"log_level":         c.LogLevel,
		"log_format":        c.LogFormat,
		"ui": map[string]string{
			"accent":     c.UI.Accent,
			"code_theme": c.UI.CodeTheme,
		},
	}
}

func init() {
	f := configSetCmd.Flags()
	f.StringVar(&configSetDataDir, "data-dir", "", "Directory holding the library and audit log")
	f.StringVar(&configSetStore, "store", "", "Library backend: yaml or sqlite")
	f.StringVar(&configSetFields, "fields", "", "Field-spec YAML file")
	f.StringVar(&configSetDefaultEntity, "default-entity", "", "Entity used when --entity is not given")
	f.IntVar(&configSetMaxDepth, "max-depth", 0, "Maximum query nesting depth")
	f.BoolVar(&configSetStrictReferences, "strict-references", false, "Refuse renames and deletes of referenced queries")
	f.BoolVar(&configSetAudit, "audit", false, "Record library writes in audit.log")
	f.StringVar(&configSetLogLevel, "default-log-level", "", "Log level used without --log-level: debug, info, warn or error")
	f.StringVar(&configSetLogFormat, "log-format", "", "Log format: text or json")
	f.StringVar(&configSetUIAccent, "ui-accent", "", "Accent color (ANSI code or #RRGGBB)")
	f.StringVar(&configSetUICodeTheme, "ui-code-theme", "", "Syntax theme for code in descriptions")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	rootCmd.AddCommand(configCmd)
}
