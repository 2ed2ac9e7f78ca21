// Package server wires configuration, logging, metrics, the session
// registry and the HTTP and WebSocket handlers into one http.Server.
package server
