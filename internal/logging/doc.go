// Package logging provides structured logging with per-module log levels.
//
// Every module logger writes through one shared output chain:
//   - stdout (text or json) when a terminal, pipe or file is attached
//   - the systemd journal when journald is running
//   - an in-memory history served by the monitor API
//
// Initialize once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"monitor":  "debug",
//			"consumer": "warn",
//		},
//	})
//
// and get a logger per module:
//
//	logger := logging.GetLogger("producer").With("block", name)
//	logger.Info("Block created", "width", 640)
//
// Loggers handed out before Initialize follow later level and output
// changes, so packages may grab their logger at construction time.
//
// Journal entries carry SYSLOG_IDENTIFIER=framebuf and attributes as fields:
//
//	journalctl -t framebuf MODULE=monitor
//	journalctl -t framebuf BLOCK=cam0 -p warning
//
// TOML configuration:
//
//	[logging]
//	level = "info"
//	format = "text"
//	history_size = 1000
//
//	[logging.modules]
//	monitor = "debug"
package logging
