package main

import (
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/tiercache/internal/config"
	gap "github.com/muesli/go-app-paths"
)

func getLogFilePath(p config.Process) (string, error) {
	if p.LogFile != "" {
		return p.LogFile, nil
	}
	dir, err := gap.NewScope(gap.User, "tiercache").CacheDir()
	if err != nil {
		return "", err //nolint:wrapcheck
	}
	return filepath.Join(dir, "tiercache.log"), nil
}

// setupLog sends the default logger to a file so log lines never mix with
// command output. The returned func closes the file.
func setupLog() (func() error, error) {
	log.SetOutput(io.Discard)

	p, err := config.ParseProcess()
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	logFile, err := getLogFilePath(p)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil { //nolint:gosec
		// log disabled
		return func() error { return nil }, nil
	}
	f, err := os.OpenFile(logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644) //nolint:gosec
	if err != nil {
		// log disabled
		return func() error { return nil }, nil
	}
	log.SetOutput(f)
	log.SetLevel(p.Level())
	return f.Close, nil
}
