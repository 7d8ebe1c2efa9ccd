package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fentz26/glimpse/internal/tui"
)

func newClient() *tui.Client {
	return tui.NewClient(apiAddr)
}

// isDaemonRunning reports whether the API at addr answers its health check.
func isDaemonRunning(addr string) bool {
	health, err := tui.NewClient(addr).CheckHealth()
	return err == nil && health.OK
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatBytes(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
