// Package util holds small helpers shared across micbridge components.
package util

import (
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"

	"go.uber.org/zap"
)

// FileExists returns true if the given path exists and is a file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}

	return !info.IsDir()
}

// EnsureDirExists creates the given directory (and parents) if missing.
func EnsureDirExists(path string) error {
	return os.MkdirAll(path, os.ModePerm)
}

// SetupCloseHandler returns a channel that receives SIGINT/SIGTERM.
func SetupCloseHandler() chan os.Signal {
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	return c
}

// Linux reports whether we're running on Linux.
func Linux() bool {
	return runtime.GOOS == "linux"
}

// OpenExternal spawns an external command with a single argument, without
// waiting for it to finish.
func OpenExternal(logger *zap.SugaredLogger, cmd string, arg string) error {
	command := exec.Command(cmd, arg)

	if err := command.Start(); err != nil {
		logger.Warnw("Failed to spawn external command",
			"cmd", cmd,
			"arg", arg,
			"error", err)

		return err
	}

	return nil
}
