package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFailedStatus(t *testing.T) {
	assert.Equal(t, "failed", FailedStatus(""))
	assert.Equal(t, "failed: video clip timed out", FailedStatus("  video clip timed out "))

	long := FailedStatus(strings.Repeat("é", 400))
	assert.LessOrEqual(t, len(long), len("failed: ")+maxReasonBytes)
	assert.True(t, strings.HasPrefix(long, "failed: é"))
	assert.NotContains(t, long, "�")
	assert.Equal(t, StatusFailed, StatusKind(long))
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to string
		ok       bool
	}{
		{StatusPending, StatusRunning, true},
		{StatusRunning, StatusRunning, true},
		{StatusRunning, StatusCompleted, true},
		{StatusPending, StatusCompleted, true},
		{StatusCompleted, StatusCompleted, true},
		{StatusRunning, "failed: boom", true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusPending, true},
		{StatusCompleted, StatusRunning, false},
		{StatusCompleted, StatusPending, false},
		{StatusRunning, StatusPending, false},
		{StatusCompleted, "failed: late", false},
		{"failed: boom", StatusRunning, false},
		{"failed: boom", StatusCompleted, false},
		{StatusPending, "paused", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestRunState_Terminal(t *testing.T) {
	row := NewRunState("run", time.Now())
	assert.False(t, row.Terminal())

	row.VideoGenerationStatus = FailedStatus("scene 2 failed")
	step, failed := row.Failed()
	assert.True(t, failed)
	assert.Equal(t, StepVideoGeneration, step)
	assert.True(t, row.Terminal())

	done := NewRunState("run", time.Now())
	done.EditingStatus = StatusCompleted
	assert.True(t, done.Terminal())
}

func TestRunState_JSONShape(t *testing.T) {
	row := NewRunState("run-9", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	raw, err := json.Marshal(row)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	for _, key := range []string{
		"run_id", "script_generation_status", "script_evaluation_status", "video_generation_status",
		"audio_generation_status", "editing_status", "updated_at", "final_video_uri",
	} {
		assert.Contains(t, decoded, key)
	}
	assert.Nil(t, decoded["final_video_uri"])
	assert.Equal(t, "2026-01-02T03:04:05Z", decoded["updated_at"])
}
