// Package logging builds the server's zap logger.
//
// Production mode writes one JSON object per line without sampling, so
// every session spawn, reap and rejection is kept. Development mode (-dev
// or LOG_DEV=true) writes colored console lines.
//
//	logger, err := logging.New(logging.Config{Level: "info"})
//	logger.Connection(connID, owner).Info("Terminal attached")
package logging
