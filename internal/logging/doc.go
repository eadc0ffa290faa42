// Package logging provides structured logging for the ObaKV engine.
//
// # Overview
//
// The logging package provides a structured logging interface with support for:
//
//   - Multiple log levels (debug, info, warn, error)
//   - Text and JSON output formats
//   - Component tags and field-based contextual logging
//
// The engine logs nothing unless the application passes a logger in its
// options; the default is a no-op logger.
//
// # Creating a Logger
//
// Create a logger with configuration:
//
//	logger := logging.New(logging.Config{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "/var/log/app/obakv.log",
//	})
//
// Or write to any io.Writer:
//
//	logger := logging.NewWriter(os.Stderr, logging.LevelDebug, logging.FormatText)
//
// For testing, use a no-op logger:
//
//	logger := logging.NewNop()
//
// # Structured Logging
//
// Add key-value pairs to log entries:
//
//	logger.Debug("commit",
//	    "txn", 42,
//	    "pages_written", 7,
//	    "reclaimed", 3,
//	)
//
// Output (JSON format):
//
//	{"ts":"2026-02-18T10:30:00Z","level":"debug","msg":"commit","txn":42,"pages_written":7,"reclaimed":3}
//
// Error values are logged as their message.
//
// # Components
//
// Each engine component logs through its own child logger:
//
//	commitLog := logger.WithComponent("commit")
//	commitLog.Error("flush failed", "error", err)
//
// Text format puts the component right after the message and the other
// fields in key order:
//
//	2026-02-18T10:30:00Z [error] flush failed component=commit error=no space left on device
package logging
