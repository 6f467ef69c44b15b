package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"doorkeeper/internal/config"
	"doorkeeper/internal/configbus"
	"doorkeeper/internal/ipc"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigValidateCommand(ctx))
	configCmd.AddCommand(newConfigGetCommand(ctx))
	configCmd.AddCommand(newConfigSetCommand(ctx))

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample configuration file",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("determine default config path: %w", err)
				}
				target = defaultPath
			} else {
				expanded, err := config.ExpandPath(target)
				if err != nil {
					return fmt.Errorf("resolve config path: %w", err)
				}
				target = expanded
			}

			dir := filepath.Dir(target)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create config directory %q: %w", dir, err)
			}

			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				} else if !os.IsNotExist(err) {
					return fmt.Errorf("check config path: %w", err)
				}
			}

			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Set camera.url, vision.sidecar_url, and lock.device before running doorkeeper.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Validate configuration file",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if ctx.configFlag != nil {
				path = strings.TrimSpace(*ctx.configFlag)
			}
			cfg, resolved, exists, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", resolved)
			if !exists {
				fmt.Fprintln(out, "Config file did not exist; defaults were used")
			}
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

func newConfigGetCommand(ctx *commandContext) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "get [section]",
		Short: "Show runtime config sections",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			section := ""
			if len(args) == 1 {
				section = args[0]
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ConfigGet(section)
				if err != nil {
					return err
				}
				if section != "" {
					return writeDocument(cmd, output, resp.Sections[section])
				}
				return writeDocument(cmd, output, resp.Sections)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", outputYAML, "Output format: yaml or json")
	return cmd
}

func newConfigSetCommand(ctx *commandContext) *cobra.Command {
	var file string
	var sets []string
	cmd := &cobra.Command{
		Use:   "set <section>",
		Short: "Replace a runtime config section",
		Long: "Replace a runtime config section with a YAML or JSON document from --file,\n" +
			"or patch the current section with one or more --set key=value pairs.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			section := args[0]
			return ctx.withClient(func(client *ipc.Client) error {
				doc, err := buildDocument(client, section, file, sets)
				if err != nil {
					return err
				}
				resp, err := client.ConfigSet(section, doc)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated %s\n", resp.Section)
				return writeDocument(cmd, outputYAML, resp.Document)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML or JSON document holding the full section")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "key=value to change in the current section (repeatable)")
	return cmd
}

func buildDocument(client *ipc.Client, section, file string, sets []string) (configbus.Document, error) {
	var doc configbus.Document
	switch {
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read document: %w", err)
		}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse document: %w", err)
		}
	case len(sets) > 0:
		resp, err := client.ConfigGet(section)
		if err != nil {
			return nil, err
		}
		doc = resp.Sections[section]
	default:
		return nil, fmt.Errorf("pass --file or at least one --set")
	}
	if doc == nil {
		doc = configbus.Document{}
	}
	for _, pair := range sets {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid --set %q; expected key=value", pair)
		}
		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
			return nil, fmt.Errorf("parse value for %s: %w", key, err)
		}
		doc[strings.TrimSpace(key)] = value
	}
	return doc, nil
}

func writeDocument(cmd *cobra.Command, format string, v any) error {
	if strings.EqualFold(strings.TrimSpace(format), outputJSON) {
		return writeJSON(cmd, v)
	}
	return writeYAML(cmd, v)
}
