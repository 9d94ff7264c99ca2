package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPrompt(t *testing.T) {
	for _, key := range []string{"idea", "script", "evaluate"} {
		p, err := GetPrompt(adPrompts, key)
		require.NoError(t, err, key)
		assert.Contains(t, p, "{{.ProductName}}")
	}

	_, err := GetPrompt(adPrompts, "missing")
	assert.ErrorContains(t, err, "not found")

	_, err = GetPrompt("prompts/none.json", "idea")
	assert.ErrorContains(t, err, "failed to read prompt file")
}

func TestMustPrompt_Panics(t *testing.T) {
	assert.Panics(t, func() { MustPrompt("missing") })
}

func TestFormatPrompt(t *testing.T) {
	out := FormatPrompt(MustPrompt("script"), map[string]string{
		"ProductName":        "Morning Brew",
		"ProductDescription": "Cold brew concentrate",
		"Idea":               "sunrise commute",
		"SceneDuration":      "6",
		"MaxWords":           "18",
	})

	assert.Contains(t, out, "Product name: Morning Brew")
	assert.Contains(t, out, "at most 18 words")
	assert.NotContains(t, out, "{{.")
}
