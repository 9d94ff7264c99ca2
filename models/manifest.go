package models

import (
	"fmt"
	"path"
)

// Layout derives every blob key of a run. Keys are deterministic so a
// redelivered run finds the assets an earlier attempt already stored.
type Layout struct {
	Prefix string
	RunID  string
}

func NewLayout(prefix, runID string) Layout {
	return Layout{Prefix: prefix, RunID: runID}
}

func (l Layout) root() string {
	return path.Join(l.Prefix, l.RunID)
}

func (l Layout) Folders() Folders {
	return Folders{
		Script: path.Join(l.root(), "script"),
		Images: path.Join(l.root(), "images"),
		Video:  path.Join(l.root(), "video"),
		Audio:  path.Join(l.root(), "audio"),
		Final:  path.Join(l.root(), "final"),
	}
}

func (l Layout) ScriptKey() string   { return path.Join(l.Folders().Script, "script.json") }
func (l Layout) ReviewKey() string   { return path.Join(l.Folders().Script, "eval.json") }
func (l Layout) ManifestKey() string { return path.Join(l.Folders().Script, "summary.json") }

func (l Layout) ImageKey(sceneID int) string {
	return path.Join(l.Folders().Images, fmt.Sprintf("scene_%d.png", sceneID))
}

func (l Layout) VideoKey(sceneID int) string {
	return path.Join(l.Folders().Video, fmt.Sprintf("scene_%d.mp4", sceneID))
}

func (l Layout) AudioKey(sceneID int) string {
	return path.Join(l.Folders().Audio, fmt.Sprintf("scene_%d.mp3", sceneID))
}

func (l Layout) CombinedVideoKey() string { return path.Join(l.Folders().Final, "combined_video.mp4") }
func (l Layout) CombinedAudioKey() string { return path.Join(l.Folders().Final, "combined_audio.m4a") }
func (l Layout) FinalVideoKey() string    { return path.Join(l.Folders().Final, "final_video.mp4") }

type Folders struct {
	Script string `json:"script"`
	Images string `json:"images"`
	Video  string `json:"video"`
	Audio  string `json:"audio"`
	Final  string `json:"final"`
}

type SceneAsset struct {
	SceneID  int    `json:"scene_id"`
	ImageKey string `json:"image_key"`
	VideoKey string `json:"video_key"`
	AudioKey string `json:"audio_key"`
}

// Combined URIs are presigned, so they are refreshed whenever the manifest is read.
type Combined struct {
	CombinedVideoKey string `json:"combined_video_key"`
	CombinedAudioKey string `json:"combined_audio_key"`
	FinalVideoKey    string `json:"final_video_key"`
	CombinedVideoURI string `json:"combined_video_uri,omitempty"`
	CombinedAudioURI string `json:"combined_audio_uri,omitempty"`
	FinalVideoURI    string `json:"final_video_uri"`
}

// Manifest is the run summary written once after a successful run.
type Manifest struct {
	RunID       string       `json:"run_id"`
	Title       string       `json:"title"`
	CTA         string       `json:"cta"`
	Folders     Folders      `json:"folders"`
	SceneAssets []SceneAsset `json:"scene_assets"`
	Combined    Combined     `json:"combined"`
}
