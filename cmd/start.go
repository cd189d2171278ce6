package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rexl2018/aiapiproxy/internal/process"
	"github.com/rexl2018/aiapiproxy/internal/server"
)

const procStartupTimeout = 10 * time.Second

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway service",
	Long:  `Start the gateway in the foreground, or detached with --daemon.`,
	RunE:  runStart,
}

func init() {
	startCmd.Flags().BoolP("daemon", "d", false, "run in the background")
}

func runStart(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logFile, _ := cmd.Flags().GetString("log-file")
	if err := setupLogging(verbose, logFile); err != nil {
		return err
	}
	applyConfigFlag(cmd)

	if err := ensureConfigExists(); err != nil {
		return err
	}

	procMgr := process.NewManager(baseDir)

	if daemon, _ := cmd.Flags().GetBool("daemon"); daemon {
		return startDaemon(procMgr)
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return err
	}

	color.Green("Starting %s v%s...", AppName, Version)
	logger.Info("starting gateway",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"providers", len(cfg.Providers),
		"model_mappings", len(cfg.ModelMapping),
	)

	if err := procMgr.WritePID(); err != nil {
		return err
	}
	defer procMgr.CleanupPID()

	srv := server.New(cfgMgr, logger, Version)
	return srv.Start()
}

func startDaemon(procMgr *process.Manager) error {
	if procMgr.IsRunning() {
		color.Yellow("Service already running (pid %d)", procMgr.ReadPID())
		return nil
	}

	child := exec.Command(os.Args[0], "start")
	child.Stdout = nil
	child.Stderr = nil
	if err := child.Start(); err != nil {
		return fmt.Errorf("start background process: %w", err)
	}

	if !procMgr.WaitForService(procStartupTimeout) {
		return fmt.Errorf("service startup timeout")
	}

	color.Green("Service started (pid %d)", procMgr.ReadPID())
	return nil
}
