package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"AdReel-server/models"
)

// DefaultMaxRounds bounds generate/evaluate rounds.
const DefaultMaxRounds = 3

// ScriptLoop generates a script, evaluates it and regenerates with the
// evaluator's notes until it is approved or the round cap is reached.
type ScriptLoop struct {
	Writer           ScriptWriter
	Evaluator        ScriptEvaluator
	MaxRounds        int
	MaxDialogueWords int
	SceneDuration    int
	Retry            RetryPolicy
	Timeout          time.Duration
}

type LoopResult struct {
	Script   *models.Script
	Verdict  *models.Verdict
	Rounds   int
	Approved bool
}

// Review is the audit artifact for the result.
func (r *LoopResult) Review() models.ScriptReview {
	return models.ScriptReview{Verdict: r.Verdict, Rounds: r.Rounds, Approved: r.Approved}
}

// Run always returns a script unless a generation or evaluation call fails after retries.
// An unapproved script from the last round is accepted as best effort.
func (l *ScriptLoop) Run(ctx context.Context, req ScriptRequest) (*LoopResult, error) {
	maxRounds := l.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}

	idea := req.Idea
	var result *LoopResult
	for round := 1; round <= maxRounds; round++ {
		brief := req
		brief.Idea = idea

		var script *models.Script
		err := Retry(ctx, l.Retry, l.Timeout, "generate_script", func(ctx context.Context) error {
			s, err := l.Writer.GenerateScript(ctx, brief)
			if err != nil {
				return err
			}
			if s == nil {
				return fmt.Errorf("writer returned no script")
			}
			s.Normalize(l.SceneDuration)
			if err := s.Validate(); err != nil {
				return fmt.Errorf("unusable script: %w", err)
			}
			script = s
			return nil
		})
		if err != nil {
			return nil, &GenerationFailed{Stage: StageGenerate, Round: round, Cause: err}
		}
		script.CapDialogue(l.MaxDialogueWords)

		var verdict *models.Verdict
		err = Retry(ctx, l.Retry, l.Timeout, "evaluate_script", func(ctx context.Context) error {
			v, err := l.Evaluator.EvaluateScript(ctx, brief, script)
			if err != nil {
				return err
			}
			if v == nil {
				return fmt.Errorf("evaluator returned no verdict")
			}
			verdict = v
			return nil
		})
		if err != nil {
			return nil, &GenerationFailed{Stage: StageEvaluate, Round: round, Cause: err}
		}

		result = &LoopResult{Script: script, Verdict: verdict, Rounds: round}
		if verdict.Approved() {
			result.Approved = true
			return result, nil
		}

		log.Info().
			Int("round", round).
			Float64("overall", verdict.Overall).
			Str("notes", verdict.Notes).
			Msg("script sent back for revision")
		idea = reviseIdea(idea, verdict.Notes)
	}

	log.Warn().Int("rounds", maxRounds).Msg("script not approved within round cap, using last draft")
	return result, nil
}

func reviseIdea(idea, notes string) string {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		notes = "Improve the hook, clarity and call to action."
	}
	return idea + "\n\nRevision requests: " + notes
}
