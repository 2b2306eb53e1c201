package cli

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/harun/voxrelay/internal/daemon"
	"github.com/harun/voxrelay/pkg/webhook"
	"github.com/spf13/cobra"
)

var statusURL string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show relay status",
	Long:  `Show the status of a running relay, read from its /health endpoint.`,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusURL, "url", "", "relay base URL (default from config host and port)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	base := statusURL
	if base == "" {
		base = localURL(cfg.Server.Host, cfg.Server.Port)
	}

	out := cmd.OutOrStdout()
	report, err := fetchHealth(base)
	if err != nil {
		fmt.Fprintln(out, "Status: stopped")
		if pid, perr := daemon.ReadPID(daemon.PIDFilePath(cfg.DataDir)); perr == nil && daemon.ProcessAlive(pid) {
			fmt.Fprintf(out, "PID %d is alive but %s is unreachable: %v\n", pid, base, err)
		}
		return nil
	}

	fmt.Fprintf(out, "Status: %s\n", report.Status)
	if pid, err := daemon.ReadPID(daemon.PIDFilePath(cfg.DataDir)); err == nil {
		fmt.Fprintf(out, "PID: %d\n", pid)
	}
	fmt.Fprintf(out, "Uptime: %s\n", formatDuration(time.Duration(report.Uptime*float64(time.Second))))
	fmt.Fprintf(out, "Routes: %d\n", report.RouteCount)
	fmt.Fprintf(out, "Active calls: %d\n", report.Queue.Calls)
	fmt.Fprintf(out, "Pending commands: %d\n", report.Queue.Pending)

	return nil
}

// localURL turns a listen address into one a local client can dial.
func localURL(host string, port int) string {
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}

func fetchHealth(base string) (*webhook.HealthReport, error) {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(base + "/health")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health check returned %s", resp.Status)
	}

	var report webhook.HealthReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("invalid health report: %w", err)
	}
	return &report, nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
