package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Sensitivity grades how much damage a tool can do if run unsupervised.
type Sensitivity string

const (
	SensitivityLow      Sensitivity = "low"
	SensitivityMedium   Sensitivity = "medium"
	SensitivityHigh     Sensitivity = "high"
	SensitivityCritical Sensitivity = "critical"
)

// RequiresConfirmation reports whether a tool of this sensitivity must be
// confirmed by a human before its effect is applied.
func (s Sensitivity) RequiresConfirmation() bool {
	return s == SensitivityHigh || s == SensitivityCritical
}

// ToolPreview is the structured summary shown to the user when a sensitive
// tool call is waiting for confirmation.
type ToolPreview struct {
	Title    string            `json:"title"`
	Details  map[string]string `json:"details"`
	Warnings []string          `json:"warnings,omitempty"`
}

// PendingToolConfirmation is the suspension point exposed while an
// execution waits for a human to accept or reject a sensitive tool call.
// At most one exists per execution at any time.
type PendingToolConfirmation struct {
	ConfirmationID uuid.UUID       `json:"confirmationId"`
	ExecutionID    uuid.UUID       `json:"executionId"`
	ToolName       string          `json:"toolName"`
	Args           json.RawMessage `json:"args,omitempty"`
	Preview        ToolPreview     `json:"preview"`
	Category       string          `json:"category"`
	Sensitivity    Sensitivity     `json:"sensitivity"`
	Undoable       bool            `json:"undoable"`
}
