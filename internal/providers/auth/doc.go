// Package auth is the identity boundary in front of terminal sessions.
//
// An owner is established either by a header set by a trusted
// authenticating proxy, or by an owner and token pair checked against
// bcrypt hashes. With neither configured every request is rejected.
package auth
