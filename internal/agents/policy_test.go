package agents

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/parley-ai/parley/internal/model"
)

func TestClassify_RegisteredToolUsesTable(t *testing.T) {
	p := Classify("sendEmail")
	assert.Equal(t, "email", p.Category)
	assert.Equal(t, model.SensitivityHigh, p.Sensitivity)
	assert.False(t, p.Undoable)
	assert.True(t, p.Sensitivity.RequiresConfirmation())
}

func TestClassify_KeywordFallback(t *testing.T) {
	tests := []struct {
		tool        string
		category    string
		sensitivity model.Sensitivity
		undoable    bool
	}{
		{"purgeCalendarBackups", "delete", model.SensitivityCritical, false},
		{"updateContactCard", "dataModification", model.SensitivityHigh, true},
		{"getWeather", "dataModification", model.SensitivityLow, true},
		{"postToFeed", "social", model.SensitivityMedium, true},
		{"transmogrify", "dataModification", model.SensitivityMedium, true},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			p := Classify(tt.tool)
			assert.Equal(t, tt.category, p.Category)
			assert.Equal(t, tt.sensitivity, p.Sensitivity)
			assert.Equal(t, tt.undoable, p.Undoable)
		})
	}
}

func TestClassify_DestructiveNeverUndoable(t *testing.T) {
	for _, tool := range []string{"deleteAccount", "destroyIndex", "purgeCache"} {
		p := Classify(tool)
		assert.False(t, p.Undoable, tool)
		assert.Equal(t, model.SensitivityCritical, p.Sensitivity, tool)
	}
}

func TestBuildPreview(t *testing.T) {
	args := json.RawMessage(`{"to":"a@b.com","cc":["x@y.com"],"urgent":true}`)
	p := Classify("sendEmail")
	preview := BuildPreview("sendEmail", args, p)

	assert.Equal(t, "sendEmail (email)", preview.Title)
	assert.Equal(t, "a@b.com", preview.Details["to"])
	assert.JSONEq(t, `["x@y.com"]`, preview.Details["cc"])
	assert.Equal(t, "true", preview.Details["urgent"])
	assert.NotEmpty(t, preview.Warnings)
}

func TestBuildPreview_EmptyArgs(t *testing.T) {
	preview := BuildPreview("fetchInbox", nil, Classify("fetchInbox"))
	assert.Empty(t, preview.Details)
	assert.Empty(t, preview.Warnings)
}
