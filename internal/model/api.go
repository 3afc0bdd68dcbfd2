package model

import "time"

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// ProcessEmailRequest is the request body for POST /process-email.
type ProcessEmailRequest struct {
	Conversation Conversation `json:"conversation"`
	Env          Environment  `json:"env,omitempty"`
	BatchName    *string      `json:"batch_name,omitempty"`
}

// ActionRequest is the request body for POST /action.
type ActionRequest struct {
	CreatorID      *int64 `json:"creator_id"`
	ConversationID *int64 `json:"conversation_id"`
	CampaignID     *int64 `json:"campaign_id"`
	Instructions   string `json:"instructions"`
}

// AgentRunResponse wraps a persisted run for the processing endpoints.
type AgentRunResponse struct {
	AgentRun AgentRun `json:"agent_run"`
	// Degraded lists side effects that were skipped or failed while the run
	// itself succeeded. Omitted when every side effect applied.
	Degraded []SideEffectIssue `json:"degraded,omitempty"`
}

// SideEffectIssue describes one metadata side effect that did not apply.
type SideEffectIssue struct {
	Target string `json:"target"` // "message", "deliverable" or "tool_calls"
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Postgres string `json:"postgres"`
	Uptime   int64  `json:"uptime_seconds"`
}
