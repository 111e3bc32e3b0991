// Package dedupe provides a TTL seen-key cache. The telemetry pipeline uses
// it to suppress identical events recorded within a configurable window.
package dedupe
