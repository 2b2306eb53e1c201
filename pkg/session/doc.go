// Package session keeps per-call key/value state on the server so the voice
// agent can read back what it stored earlier in the same call.
//
// State lives in memory only. A call's state is dropped when it has not been
// written for longer than the sweeper TTL.
package session
