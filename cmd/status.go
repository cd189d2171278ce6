package cmd

import (
	"fmt"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rexl2018/aiapiproxy/internal/process"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway service status",
	Long:  `Display the current status of the gateway service.`,
	Run:   runStatus,
}

func runStatus(cmd *cobra.Command, _ []string) {
	applyConfigFlag(cmd)

	procMgr := process.NewManager(baseDir)
	cfg := cfgMgr.Get()

	running := procMgr.IsRunning()
	pid := procMgr.ReadPID()

	color.Blue("Status for %s:", AppName)
	fmt.Printf("  %-15s: %v\n", "Running", running)
	fmt.Printf("  %-15s: %d\n", "PID", pid)

	if cfg != nil {
		endpoint := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
		fmt.Printf("  %-15s: %s\n", "Host", cfg.Server.Host)
		fmt.Printf("  %-15s: %d\n", "Port", cfg.Server.Port)
		fmt.Printf("  %-15s: %s\n", "Endpoint", endpoint)
		fmt.Printf("  %-15s: %d\n", "Providers", len(cfg.Providers))
		fmt.Printf("  %-15s: %s\n", "Health", probeHealth(endpoint))
	}

	fmt.Printf("  %-15s: %s\n", "Config Path", cfgMgr.GetPath())
	fmt.Printf("  %-15s: v%s\n", "Version", Version)
}

func probeHealth(endpoint string) string {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(endpoint + "/health")
	if err != nil {
		return "unreachable"
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return "ok"
	}
	return fmt.Sprintf("status %d", resp.StatusCode)
}
