package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zjrosen/protoreg/internal/config"
)

// ErrConfigExists is returned by config init when the file already exists.
var ErrConfigExists = errors.New("config file already exists")

func newConfigCmd(app *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create, edit and inspect the configuration",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented default config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := app.configPath()
			if fileExists(path) && !force {
				return fmt.Errorf("%s: %w (use --force to overwrite)", path, ErrConfigExists)
			}
			if err := config.WriteDefaultConfig(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	setCmd := &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Set a dotted key in the config file, keeping its comments",
		Long: `Set a value in the config file. The value is parsed as YAML, so numbers,
booleans and lists keep their type.

Examples:
  protoreg config set cache.backend redis
  protoreg config set cache.ttl 10m
  protoreg config set etcd.endpoints '[localhost:2379]'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := app.configPath()
			if err := config.SetValue(path, args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "set %s in %s\n", args[0], path)
			return nil
		},
	}

	var asJSON bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration (defaults, file and environment)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings := normalizeSettings(app.v.AllSettings())
			if asJSON {
				return printJSON(cmd.OutOrStdout(), settings)
			}
			if used := app.v.ConfigFileUsed(); used != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "# from %s\n", used)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(settings); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	showCmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")

	cmd.AddCommand(initCmd, setCmd, showCmd)
	return cmd
}

// normalizeSettings renders durations as strings so the output can be pasted
// back into a config file.
func normalizeSettings(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, val := range m {
		switch v := val.(type) {
		case map[string]any:
			out[k] = normalizeSettings(v)
		case time.Duration:
			out[k] = v.String()
		default:
			out[k] = v
		}
	}
	return out
}
