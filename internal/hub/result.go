// ABOUTME: Uniform result shape returned by every hub dispatch.
// ABOUTME: Normalization accepts both the raw status envelope and its own output.

package hub

// Error kinds carried in Result.Error so callers can branch on one field
// instead of catching transport-internal error types.
const (
	ErrorTimeout        = "timeout"
	ErrorDisconnected   = "disconnected"
	ErrorCanceled       = "canceled"
	ErrorReloading      = "reloading"
	ErrorUnknownCommand = "unknown_command"
)

// StatusReloading is the well-known remote status reported while the editor
// is mid domain reload: connected at the transport level but unable to run
// commands. It is retried with backoff before being surfaced.
const StatusReloading = "reloading"

// Result is the single response shape the hub returns regardless of how a
// command terminated.
type Result struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Error   string         `json:"error,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Failure builds a normalized failure result.
func Failure(kind, message string) *Result {
	return &Result{Success: false, Error: kind, Message: message}
}

// Normalize converts a raw remote payload into a Result. Two input shapes are
// accepted: the already-normalized {success, message, error, data} form and
// the {status, result} envelope older plugins send. Normalizing an
// already-normalized payload is a no-op.
func Normalize(payload map[string]any) *Result {
	if success, ok := payload["success"].(bool); ok {
		r := &Result{Success: success}
		r.Message, _ = payload["message"].(string)
		r.Error, _ = payload["error"].(string)
		if data, ok := payload["data"].(map[string]any); ok {
			r.Data = data
		}
		return r
	}

	if status, ok := payload["status"].(string); ok {
		inner, _ := payload["result"].(map[string]any)
		switch status {
		case "success":
			r := &Result{Success: true, Data: inner}
			if inner != nil {
				r.Message, _ = inner["message"].(string)
			}
			return r
		case StatusReloading:
			return Failure(ErrorReloading, "instance is reloading; retry when the domain reload finishes")
		default:
			r := &Result{Success: false}
			if inner != nil {
				r.Error, _ = inner["error"].(string)
				r.Message, _ = inner["message"].(string)
			}
			if r.Error == "" {
				r.Error = status
			}
			return r
		}
	}

	// Bare payload with neither marker: treat it as successful data.
	return &Result{Success: true, Data: payload}
}

// IsReloading reports whether a raw payload signals the reload status, in
// either accepted shape.
func IsReloading(payload map[string]any) bool {
	if status, ok := payload["status"].(string); ok && status == StatusReloading {
		return true
	}
	if kind, ok := payload["error"].(string); ok && kind == ErrorReloading {
		if success, ok := payload["success"].(bool); ok && !success {
			return true
		}
	}
	return false
}
