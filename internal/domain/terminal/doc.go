// Package terminal implements browser shell sessions.
//
// A Session owns one shell running on a pseudo-terminal and is the only
// thing that reaps it. The Registry keeps at most one live Session per
// owner and enforces a global cap, so a returning client reattaches to the
// same shell. A Bridge relays one connection to one Session: a reader
// goroutine pumps PTY output, the caller's goroutine handles client
// messages, and a single sender goroutine writes every outbound frame in
// order.
//
// Client frames are JSON objects with a type of input, resize or ping.
// Anything that does not decode as such is written to the shell verbatim.
// The server answers with ready, output, pong, exit and error frames.
package terminal
