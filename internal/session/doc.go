// Package session tracks connected Unity editor instances.
//
// # Registry
//
// The Registry is the in-memory directory of sessions:
//
//	reg := session.NewRegistry(logger)
//
// Key operations:
//
//   - Register(params): Add a live session, atomically replacing any prior
//     live session for the same project hash
//   - Unregister(id): Drop a session, or retain an offline placeholder when
//     the instance registered with keep_server_running
//   - List(): All sessions in registration order
//   - FindByReference(ref): Match "Name@hash" or a hash prefix
//
// # Selector
//
// The Selector turns a possibly-empty instance reference into exactly one
// live session. With no reference it auto-selects only when a single live
// session exists; any ambiguity comes back as a SelectionRequiredError
// listing the candidates, never a silent first-match.
//
// # Invariants
//
// At most one live session exists per project hash at any instant. All
// registry mutation happens under one mutex, so replace-on-reconnect is
// atomic with respect to concurrent lookups.
package session
