package main

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/glimpse/internal/config"
	"github.com/fentz26/glimpse/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch the interactive TUI",
	RunE:  runTUI,
}

var tuiNoStart bool

func init() {
	tuiCmd.Flags().BoolVar(&tuiNoStart, "no-start", false, "Do not start the daemon when it is not running")
}

func runTUI(cmd *cobra.Command, args []string) error {
	if !isDaemonRunning(apiAddr) && !tuiNoStart {
		fmt.Println("⚡ glimpse daemon not running. Starting background service...")
		if err := startDaemon(); err != nil {
			return fmt.Errorf("failed to start daemon: %w", err)
		}
	}

	app := tui.New(apiAddr, hotkey())
	if err := app.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// hotkey returns the configured capture hotkey for display, falling back to
// the default when the config cannot be read.
func hotkey() string {
	v := config.NewViper(configFile)
	if err := config.Read(v); err != nil {
		return config.Default().Capture.Hotkey
	}
	cfg, err := config.Load(v)
	if err != nil {
		return config.Default().Capture.Hotkey
	}
	return cfg.Capture.Hotkey
}

func startDaemon() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	daemonArgs := []string{"daemon"}
	if configFile != "" {
		daemonArgs = append(daemonArgs, "--config", configFile)
	}
	cmd := exec.Command(exe, daemonArgs...)
	// Detach so the daemon survives the TUI exiting
	configureDaemonProc(cmd)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()

	fmt.Print("   Waiting for daemon...")
	for i := 0; i < 20; i++ {
		if isDaemonRunning(apiAddr) {
			fmt.Println(" Done.")
			return nil
		}
		time.Sleep(250 * time.Millisecond)
		fmt.Print(".")
	}
	fmt.Println(" Timeout!")
	return fmt.Errorf("daemon started but API not reachable at %s", apiAddr)
}
