package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rexl2018/aiapiproxy/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the gateway configuration.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration",
	Long:  `Write a starter configuration file with one example per provider type.`,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration with secrets masked.`,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Validate the current configuration for errors.`,
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.PersistentFlags().StringP("config", "c", "", "path to the config file")
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	applyConfigFlag(cmd)

	if cfgMgr.Exists() {
		color.Yellow("Configuration already exists at %s", cfgMgr.GetPath())
		return nil
	}

	cfg := &config.Config{
		Server: config.ServerConfig{
			Host: config.DefaultHost,
			Port: config.DefaultPort,
		},
		Providers: map[string]config.Provider{
			"openai": {
				Type:    config.TypeOpenAI,
				BaseURL: "https://api.openai.com/v1",
				Models: map[string]config.Model{
					"gpt-4o": {Name: "gpt-4o", MaxTokens: 8192},
				},
			},
		},
		ModelMapping: map[string]string{
			"claude-3-5-sonnet": "openai/gpt-4o",
		},
	}

	if err := cfgMgr.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	color.Green("Configuration saved to: %s", cfgMgr.GetPath())
	color.Cyan("Edit it to add providers, then start the gateway with: aiapiproxy start")

	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	applyConfigFlag(cmd)

	if !cfgMgr.Exists() {
		color.Yellow("No configuration found. Run 'aiapiproxy config init' to create one.")
		return nil
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	color.Blue("Current Configuration:")
	fmt.Printf("  %-15s: %s\n", "Host", cfg.Server.Host)
	fmt.Printf("  %-15s: %d\n", "Port", cfg.Server.Port)
	fmt.Printf("  %-15s: %s\n", "API Key", maskString(cfg.Server.APIKey))
	fmt.Printf("  %-15s: %s\n", "Config Path", cfgMgr.GetPath())

	fmt.Println("\nProviders:")
	for _, name := range sortedKeys(cfg.Providers) {
		provider := cfg.Providers[name]
		fmt.Printf("  - Name: %s\n", name)
		fmt.Printf("    Type: %s\n", provider.Type)
		fmt.Printf("    Base URL: %s\n", provider.BaseURL)
		fmt.Printf("    API Key: %s\n", maskString(provider.APIKey))
		if provider.Options.Mode != "" {
			fmt.Printf("    Mode: %s\n", provider.Options.Mode)
		}
		for _, key := range sortedKeys(provider.Models) {
			model := provider.Models[key]
			fmt.Printf("    Model %s -> %s\n", key, model.Name)
		}
		fmt.Println()
	}

	if len(cfg.ModelMapping) > 0 {
		fmt.Println("Model Mapping:")
		for _, client := range sortedKeys(cfg.ModelMapping) {
			fmt.Printf("  %-30s -> %s\n", client, cfg.ModelMapping[client])
		}
	}

	return nil
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	applyConfigFlag(cmd)

	if !cfgMgr.Exists() {
		return fmt.Errorf("no configuration found")
	}

	// Load runs the structural validation.
	cfg, err := cfgMgr.Load()
	if err != nil {
		color.Red("Configuration validation failed:")
		fmt.Printf("  - %s\n", err)
		return fmt.Errorf("configuration validation failed")
	}

	if len(cfg.Providers) == 0 {
		color.Red("Configuration validation failed:")
		fmt.Println("  - no providers configured")
		return fmt.Errorf("configuration validation failed")
	}

	color.Green("Configuration is valid!")
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func maskString(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
