package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-ai/parley/internal/model"
)

func TestDedupePrior_KeepsFirstOccurrence(t *testing.T) {
	msgs := []model.Message{
		{Role: model.RoleUser, Content: "hello"},
		{Role: model.RoleAssistant, Content: "hi there"},
		{Role: model.RoleUser, Content: "  hello  "},
		{Role: model.RoleUser, Content: "hello"},
		{Role: model.RoleAssistant, Content: "hi there"},
		{Role: model.RoleUser, Content: "something new"},
	}

	out := dedupePrior(msgs)
	require.Len(t, out, 3)
	assert.Equal(t, "hello", out[0].Content)
	assert.Equal(t, "hi there", out[1].Content)
	assert.Equal(t, "something new", out[2].Content)
}

func TestDedupePrior_RolesKeptApart(t *testing.T) {
	msgs := []model.Message{
		{Role: model.RoleUser, Content: "same words"},
		{Role: model.RoleAssistant, Content: "same words"},
	}
	assert.Len(t, dedupePrior(msgs), 2)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultThreadLimit, clampLimit(0, DefaultThreadLimit, MaxThreadLimit))
	assert.Equal(t, DefaultThreadLimit, clampLimit(-3, DefaultThreadLimit, MaxThreadLimit))
	assert.Equal(t, MaxThreadLimit, clampLimit(500, DefaultThreadLimit, MaxThreadLimit))
	assert.Equal(t, 7, clampLimit(7, DefaultThreadLimit, MaxThreadLimit))
}
