package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxInputLen bounds the user input accepted by the start-execution
// endpoint. Oversized inputs are rejected before any execution exists.
const MaxInputLen = 32 * 1024 // 32 KB

// Error codes used in API error responses.
const (
	ErrCodeValidation     = "validation_error"
	ErrCodeUnauthorized   = "unauthorized"
	ErrCodeForbidden      = "forbidden"
	ErrCodeNotFound       = "not_found"
	ErrCodeConflict       = "conflict"
	ErrCodeRateLimited    = "rate_limited"
	ErrCodeExecutionError = "execution_error"
	ErrCodeInternalError  = "internal_error"
)

// ValidateInput checks the user input for the start-execution endpoint.
// Blank input (empty or whitespace-only) is a validation error.
func ValidateInput(input string) error {
	if strings.TrimSpace(input) == "" {
		return fmt.Errorf("input must not be empty")
	}
	if len(input) > MaxInputLen {
		return fmt.Errorf("input exceeds maximum length of %d bytes", MaxInputLen)
	}
	return nil
}

// StartExecutionRequest is the body for POST /executions.
type StartExecutionRequest struct {
	AgentID         string         `json:"agentId,omitempty"`
	Input           string         `json:"input"`
	Context         map[string]any `json:"context,omitempty"`
	ThreadID        *uuid.UUID     `json:"threadId,omitempty"`
	ForceSupervised bool           `json:"forceSupervised,omitempty"`
}

// StartExecutionResponse is the 200 body for POST /executions.
type StartExecutionResponse struct {
	Success   bool       `json:"success"`
	Execution Execution  `json:"execution"`
	Thread    *ThreadRef `json:"thread,omitempty"`
}

// ThreadRef carries just the thread id back to the caller.
type ThreadRef struct {
	ID uuid.UUID `json:"id"`
}

// ListExecutionsResponse is the body for GET /executions.
type ListExecutionsResponse struct {
	Success    bool               `json:"success"`
	Executions []ExecutionSummary `json:"executions"`
}

// GetExecutionResponse is the body for GET /executions/{id}.
type GetExecutionResponse struct {
	Success   bool      `json:"success"`
	Execution Execution `json:"execution"`
}

// ResolveConfirmationRequest is the body for resolving a pending tool
// confirmation.
type ResolveConfirmationRequest struct {
	Approved bool `json:"approved"`
}

// ResolveConfirmationResponse acknowledges a confirmation decision.
type ResolveConfirmationResponse struct {
	Success   bool      `json:"success"`
	Execution Execution `json:"execution"`
}

// CreateThreadRequest is the body for POST /threads.
type CreateThreadRequest struct {
	AgentKey  string `json:"agentKey"`
	AgentName string `json:"agentName,omitempty"`
	Title     string `json:"title,omitempty"`
}

// ListThreadsResponse is the body for GET /threads.
type ListThreadsResponse struct {
	Success bool     `json:"success"`
	Threads []Thread `json:"threads"`
}

// ListMessagesResponse is the body for GET /threads/{id}/messages.
type ListMessagesResponse struct {
	Success  bool      `json:"success"`
	Messages []Message `json:"messages"`
}

// AuthTokenRequest exchanges an API key for a session token.
type AuthTokenRequest struct {
	UserID string `json:"userId"`
	APIKey string `json:"apiKey"`
}

// AuthTokenResponse carries the issued session token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// APIError is the error response body: an error code plus optional
// human-readable details.
type APIError struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// HealthResponse reports service liveness.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Store   string `json:"store"`
	Uptime  int64  `json:"uptime"`
}
