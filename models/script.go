package models

import (
	"fmt"
	"strings"
)

// DefaultSceneDuration is the clip length in seconds when a scene does not set one.
const DefaultSceneDuration = 6

// ellipsis marks dialogue that was cut at the word cap.
const ellipsis = "…"

type Scene struct {
	ID              int    `json:"id" jsonschema_description:"1-based scene number, unique within the script."`
	Title           string `json:"title" jsonschema_description:"Short scene label."`
	Visual          string `json:"visual" jsonschema_description:"What the viewer sees: subject, setting and action."`
	Camera          string `json:"camera" jsonschema_description:"Camera directions such as framing and movement."`
	Dialogue        string `json:"dialogue" jsonschema_description:"Voice-over line spoken during this scene."`
	DurationSeconds int    `json:"duration_seconds" jsonschema_description:"Clip length in seconds."`
	Mood            string `json:"mood" jsonschema_description:"Mood and style descriptors."`
	VisualStyle     string `json:"visual_style" jsonschema_description:"Look of the frame: lighting, palette, lens."`
	SFX             string `json:"sfx" jsonschema_description:"Sound effect cues, or empty."`
	MusicCue        string `json:"music_cue" jsonschema_description:"Music direction for the scene, or empty."`
}

// VideoPrompt is the text handed to the image-to-video generator.
func (s Scene) VideoPrompt() string {
	parts := []string{s.Visual}
	if s.Camera != "" {
		parts = append(parts, "Camera: "+s.Camera)
	}
	if s.Mood != "" {
		parts = append(parts, "Mood: "+s.Mood)
	}
	if s.VisualStyle != "" {
		parts = append(parts, "Style: "+s.VisualStyle)
	}
	return strings.Join(parts, ". ")
}

// ImagePrompt is the keyframe description.
func (s Scene) ImagePrompt() string {
	if s.VisualStyle == "" {
		return s.Visual
	}
	return s.Visual + ". " + s.VisualStyle
}

type Script struct {
	Title       string  `json:"title" jsonschema_description:"Ad title."`
	Hook        string  `json:"hook" jsonschema_description:"Opening hook line."`
	BrandVoice  string  `json:"brand_voice" jsonschema_description:"Brand voice descriptor."`
	CTA         string  `json:"cta" jsonschema_description:"Call to action shown at the end."`
	SafetyNotes string  `json:"safety_notes" jsonschema_description:"Claims or content to avoid."`
	Scenes      []Scene `json:"scenes" jsonschema_description:"Ordered scenes of the ad, 3 to 5 entries."`
}

// Normalize assigns ids 1..n when they are missing or not unique, and fills missing durations.
func (s *Script) Normalize(duration int) {
	if duration <= 0 {
		duration = DefaultSceneDuration
	}
	seen := make(map[int]bool, len(s.Scenes))
	renumber := false
	for _, sc := range s.Scenes {
		if sc.ID <= 0 || seen[sc.ID] {
			renumber = true
			break
		}
		seen[sc.ID] = true
	}
	for i := range s.Scenes {
		if renumber {
			s.Scenes[i].ID = i + 1
		}
		if s.Scenes[i].DurationSeconds <= 0 {
			s.Scenes[i].DurationSeconds = duration
		}
	}
}

// CapDialogue truncates every scene's dialogue to at most max words.
func (s *Script) CapDialogue(max int) {
	for i := range s.Scenes {
		s.Scenes[i].Dialogue = TrimToWords(s.Scenes[i].Dialogue, max)
	}
}

func (s *Script) Validate() error {
	if len(s.Scenes) == 0 {
		return fmt.Errorf("script has no scenes")
	}
	for i, sc := range s.Scenes {
		if strings.TrimSpace(sc.Visual) == "" {
			return fmt.Errorf("scene %d has no visual description", i+1)
		}
	}
	return nil
}

// TrimToWords cuts text at a word boundary so it has at most max words, dropping
// trailing punctuation and appending an ellipsis when anything was removed.
// max <= 0 disables the cap.
func TrimToWords(text string, max int) string {
	if max <= 0 {
		return text
	}
	words := strings.Fields(text)
	if len(words) <= max {
		return text
	}
	out := strings.Join(words[:max], " ")
	out = strings.TrimRight(out, ",.;:!—- ")
	return out + ellipsis
}

// WordCount counts whitespace-separated words; a trailing ellipsis is not a word.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// Verdict is one evaluation round's result.
type Verdict struct {
	Scores   VerdictScores `json:"scores"`
	Overall  float64       `json:"overall" jsonschema:"minimum=0,maximum=10"`
	Decision string        `json:"decision" jsonschema:"enum=approve,enum=revise"`
	Notes    string        `json:"notes"`
}

type VerdictScores struct {
	Hook      float64 `json:"hook" jsonschema:"minimum=0,maximum=10"`
	Clarity   float64 `json:"clarity" jsonschema:"minimum=0,maximum=10"`
	BrandFit  float64 `json:"brand_fit" jsonschema:"minimum=0,maximum=10"`
	Visuals   float64 `json:"visuals" jsonschema:"minimum=0,maximum=10"`
	CallToAct float64 `json:"cta" jsonschema:"minimum=0,maximum=10"`
}

const (
	DecisionApprove = "approve"
	DecisionRevise  = "revise"
)

func (v *Verdict) Approved() bool {
	return v != nil && strings.EqualFold(strings.TrimSpace(v.Decision), DecisionApprove)
}

// ScriptReview is the audit record stored next to the script.
type ScriptReview struct {
	Verdict  *Verdict `json:"verdict"`
	Rounds   int      `json:"rounds"`
	Approved bool     `json:"approved"`
}
