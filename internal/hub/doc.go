// Package hub dispatches commands to connected Unity instances and
// correlates their results.
//
// Dispatch resolves the instance reference, sends an execute message with a
// fresh correlation id, and waits for the matching command_result or the
// deadline. A result carrying the reload status is retried with backoff up
// to the configured bound; timeout and disconnect come back as normalized
// failures rather than errors, so callers branch on Result.Error instead of
// catching transport types.
//
// The CommandRegistry maps command names to handlers registered explicitly
// at startup. Unknown names produce the same normalized unknown-command
// failure for every caller.
package hub
