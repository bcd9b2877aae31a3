// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModHaven Contributors

package platform

import (
	"context"
	"log/slog"
	"os/exec"

	"github.com/samber/oops"

	"github.com/modhaven/modhaven/pkg/extension"
)

// CodeLaunchFailed marks process launch failures.
const CodeLaunchFailed = "LAUNCH_FAILED"

// Launcher implements extension.ProcessLauncher with os/exec. Launched
// processes are detached: the launcher does not wait for them to exit.
type Launcher struct {
	logger *slog.Logger
}

// NewLauncher creates a process launcher.
func NewLauncher(logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{logger: logger}
}

var _ extension.ProcessLauncher = (*Launcher)(nil)

// Launch starts program with args and returns once the process has
// started. Exit status is logged, never returned.
func (l *Launcher) Launch(ctx context.Context, program string, args ...string) error {
	if err := ctx.Err(); err != nil {
		return oops.Code(CodeLaunchFailed).With("program", program).Wrap(err)
	}

	cmd := exec.Command(program, args...)
	if err := cmd.Start(); err != nil {
		return oops.Code(CodeLaunchFailed).With("program", program).Wrapf(err, "start process")
	}

	l.logger.Info("launched process", "program", program, "pid", cmd.Process.Pid)

	go func() {
		if err := cmd.Wait(); err != nil {
			l.logger.Warn("process exited with error", "program", program, "error", err)
		}
	}()
	return nil
}
