// Package main is the entry point for the webshell server.
//
// webshell gives each authenticated browser user one interactive shell on
// the host, running on a pseudo-terminal and relayed over a WebSocket to an
// xterm.js page. Closing the tab and reopening it reattaches to the same
// shell until it exits, idles out or is terminated.
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//
// Usage:
//
//	# Production mode
//	AUTH_TOKENS="alice:$(echo -n s3cret | ./server -hash-token)" ./server -port 8000
//
//	# Development mode (colored logs, debug level)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: clients are told the server is going away, every
//     shell is reaped, then the process exits
package main
