package agents

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClip_KeepsRuneBoundaries(t *testing.T) {
	// Each rune is 3 bytes; a byte-offset cut at 10 would split one.
	s := strings.Repeat("日", 8)
	got := clip(s, 10)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "日日日…", got)

	assert.Equal(t, "short", clip("short", 80))
	assert.Equal(t, "ab…", clip("abcdef", 2))
}

func TestChunks_KeepRuneBoundaries(t *testing.T) {
	s := "résumé déjà vu naïve façade"
	parts := chunks(s, 5)
	require.NotEmpty(t, parts)
	for _, p := range parts {
		assert.True(t, utf8.ValidString(p), "chunk %q splits a rune", p)
	}
	assert.Equal(t, s, strings.Join(parts, ""))
}
