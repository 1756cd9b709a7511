// Package logging configures the process-wide structured logger and
// attaches a per-run session identifier to every entry, per SPEC_FULL.md
// §9.
package logging

import (
	"os"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// Setup installs a charmbracelet/log logger as the package-level default,
// timestamped and tagged with a fresh session id, and returns that id so
// the caller can surface it (e.g. in a WAV sidecar or CLI banner).
func Setup(verbose bool) string {
	sessionID := uuid.NewString()

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		ReportCaller:    false,
	})
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	logger.SetLevel(level)
	logger = logger.With("session", sessionID)

	log.SetDefault(logger)
	return sessionID
}
