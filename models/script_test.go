package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrimToWords(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		max      int
		expected string
	}{
		{name: "under the cap", text: "Fresh coffee, every morning.", max: 18, expected: "Fresh coffee, every morning."},
		{name: "exactly at the cap", text: "one two three", max: 3, expected: "one two three"},
		{name: "cut at word boundary", text: "one two three four five", max: 3, expected: "one two three…"},
		{name: "trailing punctuation dropped", text: "Sip, savor, repeat. Then go.", max: 3, expected: "Sip, savor, repeat…"},
		{name: "trailing dash dropped", text: "Bold — brave — bright", max: 2, expected: "Bold…"},
		{name: "collapses whitespace when cut", text: "a   b\n\tc d", max: 3, expected: "a b c…"},
		{name: "cap disabled", text: "one two three", max: 0, expected: "one two three"},
		{name: "empty", text: "", max: 5, expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, TrimToWords(tt.text, tt.max))
		})
	}
}

func TestTrimToWords_NeverSplitsWords(t *testing.T) {
	text := "Introducing the quieter espresso machine that brews barista grade shots before your alarm even finishes ringing every single weekday morning"
	original := strings.Fields(text)

	for max := 1; max <= len(original)+2; max++ {
		out := TrimToWords(text, max)
		words := strings.Fields(strings.TrimSuffix(out, ellipsis))
		assert.LessOrEqual(t, len(words), max)
		for i, w := range words {
			assert.True(t, strings.HasPrefix(original[i], w), "word %q is not a prefix of %q", w, original[i])
			if i < len(words)-1 {
				assert.Equal(t, original[i], w)
			}
		}
	}
}

func TestScript_CapDialogue(t *testing.T) {
	s := &Script{Scenes: []Scene{
		{ID: 1, Dialogue: strings.Repeat("word ", 30)},
		{ID: 2, Dialogue: "short line"},
	}}
	s.CapDialogue(18)

	assert.Equal(t, 18, WordCount(strings.TrimSuffix(s.Scenes[0].Dialogue, ellipsis)))
	assert.True(t, strings.HasSuffix(s.Scenes[0].Dialogue, ellipsis))
	assert.Equal(t, "short line", s.Scenes[1].Dialogue)
}

func TestScript_Normalize(t *testing.T) {
	t.Run("fills missing ids and durations", func(t *testing.T) {
		s := &Script{Scenes: []Scene{{Visual: "a"}, {Visual: "b", DurationSeconds: 4}}}
		s.Normalize(6)

		assert.Equal(t, 1, s.Scenes[0].ID)
		assert.Equal(t, 2, s.Scenes[1].ID)
		assert.Equal(t, 6, s.Scenes[0].DurationSeconds)
		assert.Equal(t, 4, s.Scenes[1].DurationSeconds)
	})

	t.Run("renumbers duplicates", func(t *testing.T) {
		s := &Script{Scenes: []Scene{{ID: 2}, {ID: 2}, {ID: 7}}}
		s.Normalize(0)

		ids := []int{s.Scenes[0].ID, s.Scenes[1].ID, s.Scenes[2].ID}
		assert.Equal(t, []int{1, 2, 3}, ids)
		assert.Equal(t, DefaultSceneDuration, s.Scenes[2].DurationSeconds)
	})

	t.Run("keeps unique ids", func(t *testing.T) {
		s := &Script{Scenes: []Scene{{ID: 10}, {ID: 20}}}
		s.Normalize(6)
		assert.Equal(t, 10, s.Scenes[0].ID)
		assert.Equal(t, 20, s.Scenes[1].ID)
	})
}

func TestScript_Validate(t *testing.T) {
	require.Error(t, (&Script{}).Validate())
	require.Error(t, (&Script{Scenes: []Scene{{ID: 1, Visual: "  "}}}).Validate())
	require.NoError(t, (&Script{Scenes: []Scene{{ID: 1, Visual: "A mug on a desk"}}}).Validate())
}

func TestVerdict_Approved(t *testing.T) {
	assert.True(t, (&Verdict{Decision: "approve"}).Approved())
	assert.True(t, (&Verdict{Decision: "  APPROVE "}).Approved())
	assert.False(t, (&Verdict{Decision: "revise"}).Approved())
	assert.False(t, (&Verdict{Decision: "approved with notes"}).Approved())

	var nilVerdict *Verdict
	assert.False(t, nilVerdict.Approved())
}

func TestScene_Prompts(t *testing.T) {
	sc := Scene{Visual: "A runner at dawn", Camera: "tracking shot", Mood: "energetic", VisualStyle: "warm film grain"}

	assert.Equal(t, "A runner at dawn. Camera: tracking shot. Mood: energetic. Style: warm film grain", sc.VideoPrompt())
	assert.Equal(t, "A runner at dawn. warm film grain", sc.ImagePrompt())
}
