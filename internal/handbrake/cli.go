package handbrake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"squish/internal/services"
)

var commandContext = exec.CommandContext

const (
	defaultBinary = "HandBrakeCLI"
	defaultMarker = "Encode done!"
	tailBytes     = 2048
	waitDelay     = 10 * time.Second
)

// Invocation is one encode request.
type Invocation struct {
	Input      string
	Output     string
	PresetFile string
	PresetName string
}

// Result is the verdict of a completed process. Succeeded is true when the
// process exited zero or printed the completion marker.
type Result struct {
	Succeeded  bool
	ExitCode   int
	MarkerSeen bool
	Duration   time.Duration
	OutputTail string
}

// Engine encodes one file. A returned error means the process could not be
// started or died before producing a verdict; a non-success verdict is
// reported through Result with a nil error.
type Engine interface {
	Encode(ctx context.Context, inv Invocation) (Result, error)
}

// Option configures the CLI client.
type Option func(*CLI)

// WithBinary overrides the default binary name.
func WithBinary(binary string) Option {
	return func(c *CLI) {
		if strings.TrimSpace(binary) != "" {
			c.binary = binary
		}
	}
}

// WithCompletionMarker overrides the output line that signals success.
func WithCompletionMarker(marker string) Option {
	return func(c *CLI) {
		if marker != "" {
			c.marker = marker
		}
	}
}

// CLI wraps the HandBrakeCLI executable.
type CLI struct {
	binary string
	marker string
}

// NewCLI constructs a CLI client using defaults.
func NewCLI(opts ...Option) *CLI {
	cli := &CLI{binary: defaultBinary, marker: defaultMarker}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

// Binary returns the executable the client launches.
func (c *CLI) Binary() string {
	return c.binary
}

// Encode launches HandBrakeCLI and waits for it to exit.
func (c *CLI) Encode(ctx context.Context, inv Invocation) (Result, error) {
	if err := inv.validate(); err != nil {
		return Result{}, services.Wrap(services.ErrEngineInvocation, "handbrake", "encode", "invalid invocation", err)
	}

	var output bytes.Buffer
	cmd := commandContext(ctx, c.binary, inv.args()...) //nolint:gosec
	cmd.Stdout = &output
	cmd.Stderr = &output
	cmd.WaitDelay = waitDelay

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, services.Wrap(services.ErrEngineInvocation, "handbrake", "start", c.binary, err)
	}
	waitErr := cmd.Wait()

	text := output.String()
	result := Result{
		ExitCode:   cmd.ProcessState.ExitCode(),
		MarkerSeen: strings.Contains(text, c.marker),
		Duration:   time.Since(start),
		OutputTail: tail(text, tailBytes),
	}
	if result.MarkerSeen || (waitErr == nil && result.ExitCode == 0) {
		result.Succeeded = true
		return result, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return result, services.Wrap(services.ErrTimeout, "handbrake", "encode", "job deadline exceeded; process killed", ctxErr)
		}
		return result, services.Wrap(services.ErrEngineInvocation, "handbrake", "encode", "run cancelled; process killed", ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		if result.ExitCode < 0 {
			return result, services.Wrap(services.ErrEngineInvocation, "handbrake", "encode",
				"process terminated before reporting a verdict", waitErr)
		}
		return result, nil
	}
	if waitErr != nil {
		return result, services.Wrap(services.ErrEngineInvocation, "handbrake", "wait", c.binary, waitErr)
	}
	return result, nil
}

func (inv Invocation) validate() error {
	switch {
	case inv.Input == "":
		return errors.New("input path required")
	case inv.Output == "":
		return errors.New("output path required")
	case inv.PresetFile == "":
		return errors.New("preset file required")
	case inv.PresetName == "":
		return errors.New("preset name required")
	}
	if inv.Input == inv.Output {
		return fmt.Errorf("output path equals input path %q", inv.Input)
	}
	return nil
}

func (inv Invocation) args() []string {
	return []string{
		"-i", inv.Input,
		"-o", inv.Output,
		"--preset-import-file", inv.PresetFile,
		"-Z", inv.PresetName,
	}
}

func tail(text string, limit int) string {
	text = strings.TrimSpace(text)
	if len(text) <= limit {
		return text
	}
	start := len(text) - limit
	for start < len(text) && !utf8.RuneStart(text[start]) {
		start++
	}
	cut := text[start:]
	if idx := strings.IndexByte(cut, '\n'); idx >= 0 && idx < len(cut)-1 {
		cut = cut[idx+1:]
	}
	return cut
}

var _ Engine = (*CLI)(nil)
