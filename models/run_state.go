package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	// ErrRunNotFound is returned by reads for a run id that was never initialized.
	ErrRunNotFound = errors.New("run not found")
	// ErrStorageUnavailable wraps any failure to reach the run-state or blob backend.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrInvalidTransition is returned when a step write would move a status backwards.
	ErrInvalidTransition = errors.New("invalid step transition")
)

// 步骤状态
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// maxReasonBytes bounds the free-text suffix of a failed status.
const maxReasonBytes = 500

type Step string

const (
	StepScriptGeneration Step = "script_generation"
	StepScriptEvaluation Step = "script_evaluation"
	StepVideoGeneration  Step = "video_generation"
	StepAudioGeneration  Step = "audio_generation"
	StepEditing          Step = "editing"
)

// Steps lists every tracked step in pipeline order.
var Steps = []Step{
	StepScriptGeneration,
	StepScriptEvaluation,
	StepVideoGeneration,
	StepAudioGeneration,
	StepEditing,
}

func (s Step) Valid() bool {
	for _, step := range Steps {
		if s == step {
			return true
		}
	}
	return false
}

// Column is the persisted attribute holding the step status.
func (s Step) Column() string {
	return string(s) + "_status"
}

// FailedStatus builds a "failed: <reason>" value with the reason cut to a bounded size.
func FailedStatus(reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return StatusFailed
	}
	if len(reason) > maxReasonBytes {
		cut := maxReasonBytes
		for cut > 0 && !utf8.RuneStart(reason[cut]) {
			cut--
		}
		reason = reason[:cut]
	}
	return StatusFailed + ": " + reason
}

// StatusKind strips the reason from a failed status.
func StatusKind(status string) string {
	if status == StatusFailed || strings.HasPrefix(status, StatusFailed+":") {
		return StatusFailed
	}
	return status
}

// Predecessors returns the stored values a step may hold for a write of status to be accepted.
// Failed values never appear: failed is terminal.
func Predecessors(status string) ([]string, error) {
	switch StatusKind(status) {
	case StatusPending:
		return []string{StatusPending}, nil
	case StatusRunning:
		return []string{StatusPending, StatusRunning}, nil
	case StatusCompleted:
		return []string{StatusPending, StatusRunning, StatusCompleted}, nil
	case StatusFailed:
		return []string{StatusPending, StatusRunning}, nil
	default:
		return nil, fmt.Errorf("unknown status %q", status)
	}
}

// CanTransition reports whether a step holding from may be overwritten with to.
func CanTransition(from, to string) bool {
	preds, err := Predecessors(to)
	if err != nil {
		return false
	}
	for _, p := range preds {
		if from == p {
			return true
		}
	}
	return false
}

// RunState is the persisted per-run status record.
type RunState struct {
	RunID                  string    `gorm:"primaryKey;type:varchar(64);column:run_id" json:"run_id" dynamodbav:"run_id"`
	ScriptGenerationStatus string    `gorm:"type:varchar(600);not null" json:"script_generation_status" dynamodbav:"script_generation_status"`
	ScriptEvaluationStatus string    `gorm:"type:varchar(600);not null" json:"script_evaluation_status" dynamodbav:"script_evaluation_status"`
	VideoGenerationStatus  string    `gorm:"type:varchar(600);not null" json:"video_generation_status" dynamodbav:"video_generation_status"`
	AudioGenerationStatus  string    `gorm:"type:varchar(600);not null" json:"audio_generation_status" dynamodbav:"audio_generation_status"`
	EditingStatus          string    `gorm:"type:varchar(600);not null" json:"editing_status" dynamodbav:"editing_status"`
	FinalVideoURI          *string   `gorm:"type:text" json:"final_video_uri" dynamodbav:"final_video_uri"`
	CreatedAt              time.Time `json:"created_at" dynamodbav:"created_at,unixtime"`
	UpdatedAt              time.Time `gorm:"index" json:"updated_at" dynamodbav:"updated_at,unixtime"`
}

func (RunState) TableName() string {
	return "run_state"
}

// NewRunState returns a row with every step pending.
func NewRunState(runID string, now time.Time) RunState {
	return RunState{
		RunID:                  runID,
		ScriptGenerationStatus: StatusPending,
		ScriptEvaluationStatus: StatusPending,
		VideoGenerationStatus:  StatusPending,
		AudioGenerationStatus:  StatusPending,
		EditingStatus:          StatusPending,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}

func (r *RunState) Status(step Step) string {
	switch step {
	case StepScriptGeneration:
		return r.ScriptGenerationStatus
	case StepScriptEvaluation:
		return r.ScriptEvaluationStatus
	case StepVideoGeneration:
		return r.VideoGenerationStatus
	case StepAudioGeneration:
		return r.AudioGenerationStatus
	case StepEditing:
		return r.EditingStatus
	}
	return ""
}

// Succeeded reports a finished run with its final artifact recorded.
func (r *RunState) Succeeded() bool {
	return r.EditingStatus == StatusCompleted
}

// Failed returns the first failed step, if any.
func (r *RunState) Failed() (Step, bool) {
	for _, step := range Steps {
		if StatusKind(r.Status(step)) == StatusFailed {
			return step, true
		}
	}
	return "", false
}

// Terminal runs are never executed again.
func (r *RunState) Terminal() bool {
	_, failed := r.Failed()
	return failed || r.Succeeded()
}

// RunningSteps lists the steps currently marked running.
func (r *RunState) RunningSteps() []Step {
	var out []Step
	for _, step := range Steps {
		if r.Status(step) == StatusRunning {
			out = append(out, step)
		}
	}
	return out
}
