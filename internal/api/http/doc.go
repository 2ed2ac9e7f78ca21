// Package http provides the REST handlers: the terminal page, health, and
// the caller's own session info and termination.
package http
