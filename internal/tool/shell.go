package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

func systemShell() (string, []string) {
	if runtime.GOOS == "windows" {
		return "cmd", []string{"/C"}
	}
	return "sh", []string{"-c"}
}

type shellRunner struct {
	name  string
	flags []string
}

// run reports non-zero exits as a normal result. Only a failure to start
// the interpreter is an error.
func (s *shellRunner) run(ctx context.Context, args map[string]any) (map[string]any, error) {
	command := args["command"].(string)

	argv := append(append([]string{}, s.flags...), command)
	cmd := exec.CommandContext(ctx, s.name, argv...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	status := 0
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, &ExecError{
				Tool: "shell.exec",
				Kind: KindLaunch,
				Err:  fmt.Errorf("start %s: %w", s.name, err),
			}
		}
		// -1 when the process was killed by a signal.
		status = exitErr.ExitCode()
	}

	return map[string]any{
		"status": status,
		"stdout": strings.ToValidUTF8(stdout.String(), "\uFFFD"),
		"stderr": strings.ToValidUTF8(stderr.String(), "\uFFFD"),
	}, nil
}
