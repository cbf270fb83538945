package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields, propagated through the call chain via context.
const (
	FieldRequestID = "request_id"
	FieldJobID     = "job_id"
	FieldSearchID  = "search_id"
	FieldVideoID   = "video_id"
	FieldComponent = "component"
)

// Metric fields, set per log line through the Entry API.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldSize       = "size"
	FieldStatus     = "status"
	FieldAttempts   = "attempts"
	FieldErrorKind  = "error_kind"
)
