package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/fentz26/glimpse/internal/models"
)

// allowedTools is the strict allowlist of screenshot tools, each with the
// argument that makes it write PNG to stdout.
var allowedTools = map[string]string{
	"grim":          "-",
	"maim":          "",
	"import":        "png:-",
	"screencapture": "/dev/stdout",
}

// Runner executes a command and returns its stdout.
type Runner func(ctx context.Context, name string, args []string) ([]byte, error)

// Exec shells out to an allowlisted screenshot tool.
type Exec struct {
	full     []string
	window   []string
	selector *Selector
	run      Runner
}

// ExecOptions configure an Exec backend. Full and Window are argv lists.
type ExecOptions struct {
	Full     []string
	Window   []string
	Selector *Selector
	Runner   Runner
}

// NewExec validates both command lines against the allowlist.
func NewExec(opts ExecOptions) (*Exec, error) {
	if len(opts.Full) == 0 {
		return nil, errors.New("full screen command must not be empty")
	}
	if !IsAllowed(opts.Full) {
		return nil, fmt.Errorf("command not allowed: %s", strings.Join(opts.Full, " "))
	}
	window := opts.Window
	if len(window) == 0 {
		window = opts.Full
	}
	if !IsAllowed(window) {
		return nil, fmt.Errorf("command not allowed: %s", strings.Join(window, " "))
	}
	sel := opts.Selector
	if sel == nil {
		sel = NewSelector()
	}
	run := opts.Runner
	if run == nil {
		run = runCommand
	}
	return &Exec{full: opts.Full, window: window, selector: sel, run: run}, nil
}

// IsAllowed checks an argv against the tool allowlist. Only the binary's
// base name is considered, and shell metacharacters are rejected outright.
func IsAllowed(argv []string) bool {
	if len(argv) == 0 {
		return false
	}
	if _, ok := allowedTools[filepath.Base(argv[0])]; !ok {
		return false
	}
	for _, a := range argv {
		if strings.ContainsAny(a, ";|&`$<>") {
			return false
		}
	}
	return true
}

func (e *Exec) Name() string { return "exec:" + filepath.Base(e.full[0]) }

// Selector returns the selector regions are resolved through.
func (e *Exec) Selector() *Selector { return e.selector }

func (e *Exec) CaptureFull(ctx context.Context) ([]byte, error) {
	return e.capture(ctx, e.full)
}

func (e *Exec) CaptureWindow(ctx context.Context) ([]byte, models.WindowDescriptor, error) {
	data, err := e.capture(ctx, e.window)
	if err != nil {
		return nil, models.WindowDescriptor{}, err
	}
	return data, models.WindowDescriptor{ID: "active", OwnerName: filepath.Base(e.window[0])}, nil
}

func (e *Exec) AwaitRegionSelection(ctx context.Context, timeout time.Duration) (models.Region, error) {
	return e.selector.Await(ctx, timeout)
}

func (e *Exec) Crop(ctx context.Context, data []byte, region models.Region) ([]byte, error) {
	return Crop(ctx, data, region)
}

func (e *Exec) capture(ctx context.Context, argv []string) ([]byte, error) {
	args := append([]string(nil), argv[1:]...)
	if out := allowedTools[filepath.Base(argv[0])]; out != "" && !contains(args, out) {
		args = append(args, out)
	}
	data, err := e.run(ctx, argv[0], args)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(data, []byte("\x89PNG")) {
		return nil, fmt.Errorf("%s: output is not PNG", filepath.Base(argv[0]))
	}
	return data, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func runCommand(ctx context.Context, name string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%s exited %d: %s", name, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("exec error: %w", err)
	}
	return stdout.Bytes(), nil
}
