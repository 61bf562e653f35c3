package maintenance

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	// CLIName is looked up on PATH when no CLI path is configured.
	CLIName     = "relaynode-cli"
	fallbackCLI = "/usr/local/bin/relaynode-cli"
)

// ErrCLINotFound is returned by ResolveCLI when no candidate exists.
var ErrCLINotFound = stderrors.New("unable to locate " + CLIName + " CLI, set MAINTENANCE_CLI")

// ResolveCLI returns the first existing candidate: configured when set,
// otherwise relaynode-cli on PATH and then /usr/local/bin/relaynode-cli.
func ResolveCLI(configured string) (string, error) {
	var candidates []string
	if configured = strings.TrimSpace(configured); configured != "" {
		candidates = []string{configured}
	} else {
		if found, err := exec.LookPath(CLIName); err == nil {
			candidates = append(candidates, found)
		}
		candidates = append(candidates, fallbackCLI)
	}

	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}
	return "", ErrCLINotFound
}

// Result is the captured output of a successful CLI run.
type Result struct {
	Stdout string
	Stderr string
}

// RunError reports a failed CLI run with everything it printed.
type RunError struct {
	Message string `json:"message"`
	Stdout  string `json:"stdout"`
	Stderr  string `json:"stderr"`
}

func (e *RunError) Error() string { return e.Message }

// CLI runs the node management tool.
type CLI struct {
	Path string
	// Timeout bounds every run; zero means no limit beyond the caller's context.
	Timeout time.Duration
}

// Update runs "<cli> update".
func (c *CLI) Update(ctx context.Context) (*Result, error) {
	return c.Run(ctx, "update")
}

// Restart runs "<cli> restart -n".
func (c *CLI) Restart(ctx context.Context) (*Result, error) {
	return c.Run(ctx, "restart", "-n")
}

func (c *CLI) Run(ctx context.Context, args ...string) (*Result, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	command := strings.Join(append([]string{c.Path}, args...), " ")
	slog.Info("executing command", slog.String("command", command))

	cmd := exec.CommandContext(ctx, c.Path, args...)
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	if err != nil {
		message := fmt.Sprintf("Command %s failed: %v", command, err)
		var exitErr *exec.ExitError
		if stderrors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
			message = fmt.Sprintf("Command %s failed with exit code %d", command, exitErr.ExitCode())
		}
		slog.Error("command failed", slog.String("command", command), slog.Int64("duration_ms", duration.Milliseconds()), slog.Any("error", err))
		return nil, &RunError{Message: message, Stdout: stdoutBuf.String(), Stderr: stderrBuf.String()}
	}

	slog.Info("command completed", slog.String("command", command), slog.Int64("duration_ms", duration.Milliseconds()))
	return &Result{Stdout: stdoutBuf.String(), Stderr: stderrBuf.String()}, nil
}
