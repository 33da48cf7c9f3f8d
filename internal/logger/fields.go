package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// ============================================
// Standard Tracing Fields (Context level)
// These fields are propagated through the call chain
// ============================================

const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldJobID is the preference testing job ID
	FieldJobID = "job_id"

	// FieldQuestionID is the catalog question ID
	FieldQuestionID = "question_id"

	// FieldModel is the target model name under test
	FieldModel = "model"

	// FieldComponent is the component/module name
	FieldComponent = "component"
)

// ============================================
// Standard Metric Fields (Entry level)
// These fields are used for aggregation and alerting
// ============================================

const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field
	FieldCount = "count"

	// FieldStatus is the operation status
	FieldStatus = "status"

	// FieldTier is the classification tier assigned to a response
	FieldTier = "tier"

	// FieldSize is the response body size in bytes
	FieldSize = "size"
)
