package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rexl2018/aiapiproxy/internal/config"
)

const (
	AppName = "aiapiproxy"
	Version = "0.3.0"
)

var (
	logger  *slog.Logger
	homeDir string
	baseDir string
	cfgMgr  *config.Manager
)

func init() {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	logger = slog.New(handler)

	var err error
	homeDir, err = os.UserHomeDir()
	if err != nil {
		logger.Error("failed to get home directory", "error", err)
		os.Exit(1)
	}

	baseDir = filepath.Join(homeDir, ".config", AppName)
	cfgMgr = config.NewManager("")
}

var rootCmd = &cobra.Command{
	Use:     "aiapiproxy",
	Short:   "Anthropic-to-anything LLM gateway",
	Long:    `A wire-protocol gateway that accepts Anthropic Messages API requests and forwards them to OpenAI-compatible, Responses-dialect, and Gemini-style upstreams.`,
	Version: Version,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringP("log-file", "l", "", "also log to the given file")
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the config file")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
}

func setupLogging(verbose bool, logFile string) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}

	var out io.Writer = os.Stdout
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stdout, f)
	}

	logger = slog.New(slog.NewTextHandler(out, opts))
	return nil
}

func applyConfigFlag(cmd *cobra.Command) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		cfgMgr = config.NewManager(path)
	}
}

func ensureConfigExists() error {
	if !cfgMgr.Exists() {
		color.Yellow("Configuration not found at %s", cfgMgr.GetPath())
		fmt.Println("Run 'aiapiproxy config init' to create a starter configuration")
		return fmt.Errorf("configuration required")
	}
	return nil
}
