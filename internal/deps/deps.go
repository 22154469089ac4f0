package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// Status reports whether an external program can be run.
type Status struct {
	Name    string
	Command string
	// Path is the resolved executable, set only when Available.
	Path      string
	Available bool
	Detail    string
}

// Lookup resolves command the way the runner will at encode time: a bare
// name searches PATH, anything with a separator is used as given.
func Lookup(name, command string) Status {
	command = strings.TrimSpace(command)
	status := Status{Name: name, Command: command}
	if command == "" {
		status.Detail = "command not configured"
		return status
	}
	path, err := exec.LookPath(command)
	if err != nil {
		status.Detail = fmt.Sprintf("binary %q not found", command)
		return status
	}
	status.Path = path
	status.Available = true
	return status
}
