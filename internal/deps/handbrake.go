package deps

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

var commandContext = exec.CommandContext

const versionProbeTimeout = 10 * time.Second

// CheckHandBrake reports whether the configured HandBrakeCLI resolves and,
// when it does, which version it reports.
func CheckHandBrake(ctx context.Context, command string) Status {
	status := Lookup("HandBrakeCLI", command)
	if !status.Available {
		return status
	}
	version, err := HandBrakeVersion(ctx, status.Path)
	if err != nil {
		status.Detail = fmt.Sprintf("version probe failed: %v", err)
		return status
	}
	status.Detail = version
	return status
}

// HandBrakeVersion runs "<command> --version" and returns the first line that
// names HandBrake.
func HandBrakeVersion(ctx context.Context, command string) (string, error) {
	probeCtx, cancel := context.WithTimeout(ctx, versionProbeTimeout)
	defer cancel()

	cmd := commandContext(probeCtx, command, "--version")
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("run %s --version: %w", command, err)
	}

	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "HandBrake") {
			return line, nil
		}
	}
	return "", fmt.Errorf("no version line in %s output", command)
}
