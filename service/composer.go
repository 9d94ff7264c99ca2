package service

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// FileStore moves blobs to and from local files for ffmpeg.
type FileStore interface {
	DownloadFile(ctx context.Context, key, localPath string) error
	UploadFile(ctx context.Context, localPath, key string) error
}

// CommandRunner runs one external command.
type CommandRunner func(ctx context.Context, name string, args ...string) error

// FFmpegComposer 用 ffmpeg 拼接视频、音频并合成最终成片
type FFmpegComposer struct {
	files   FileStore
	binary  string
	workDir string
	run     CommandRunner
}

func NewFFmpegComposer(files FileStore, binary, workDir string) *FFmpegComposer {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpegComposer{files: files, binary: binary, workDir: workDir, run: execCommand}
}

func execCommand(ctx context.Context, name string, args ...string) error {
	log.Debug().Str("cmd", name+" "+strings.Join(args, " ")).Msg("ffmpeg")
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", filepath.Base(name), err, tail(stderr.String(), 400))
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// ConcatVideos normalizes every clip to 1280x720@30fps without audio, then
// joins them with the concat demuxer.
func (c *FFmpegComposer) ConcatVideos(ctx context.Context, keys []string, dstKey string) error {
	return c.withTempDir(func(dir string) error {
		var parts []string
		for i, key := range keys {
			in := filepath.Join(dir, fmt.Sprintf("in_%d%s", i+1, filepath.Ext(key)))
			if err := c.files.DownloadFile(ctx, key, in); err != nil {
				return err
			}
			norm := filepath.Join(dir, fmt.Sprintf("norm_%d.mp4", i+1))
			if err := c.run(ctx, c.binary, normalizeVideoArgs(in, norm)...); err != nil {
				return fmt.Errorf("normalize %s: %w", key, err)
			}
			parts = append(parts, norm)
		}

		out := filepath.Join(dir, "combined_video.mp4")
		if err := c.concat(ctx, dir, parts, []string{"-c", "copy"}, out); err != nil {
			return err
		}
		return c.files.UploadFile(ctx, out, dstKey)
	})
}

// ConcatAudios normalizes every clip to 48kHz stereo AAC and inserts gap of
// silence between consecutive clips.
func (c *FFmpegComposer) ConcatAudios(ctx context.Context, keys []string, gap time.Duration, dstKey string) error {
	return c.withTempDir(func(dir string) error {
		silence := ""
		if gap > 0 && len(keys) > 1 {
			silence = filepath.Join(dir, "silence.m4a")
			if err := c.run(ctx, c.binary, silenceArgs(gap, silence)...); err != nil {
				return fmt.Errorf("render silence: %w", err)
			}
		}

		var parts []string
		for i, key := range keys {
			in := filepath.Join(dir, fmt.Sprintf("in_%d%s", i+1, filepath.Ext(key)))
			if err := c.files.DownloadFile(ctx, key, in); err != nil {
				return err
			}
			norm := filepath.Join(dir, fmt.Sprintf("norm_%d.m4a", i+1))
			if err := c.run(ctx, c.binary, normalizeAudioArgs(in, norm)...); err != nil {
				return fmt.Errorf("normalize %s: %w", key, err)
			}
			if i > 0 && silence != "" {
				parts = append(parts, silence)
			}
			parts = append(parts, norm)
		}

		out := filepath.Join(dir, "combined_audio.m4a")
		if err := c.concat(ctx, dir, parts, audioCodecArgs(), out); err != nil {
			return err
		}
		return c.files.UploadFile(ctx, out, dstKey)
	})
}

// Mux copies the video stream, encodes the audio and stops at the shorter stream.
func (c *FFmpegComposer) Mux(ctx context.Context, videoKey, audioKey, dstKey string) error {
	return c.withTempDir(func(dir string) error {
		video := filepath.Join(dir, "video"+filepath.Ext(videoKey))
		audio := filepath.Join(dir, "audio"+filepath.Ext(audioKey))
		if err := c.files.DownloadFile(ctx, videoKey, video); err != nil {
			return err
		}
		if err := c.files.DownloadFile(ctx, audioKey, audio); err != nil {
			return err
		}
		out := filepath.Join(dir, "final_video.mp4")
		if err := c.run(ctx, c.binary, muxArgs(video, audio, out)...); err != nil {
			return fmt.Errorf("mux: %w", err)
		}
		return c.files.UploadFile(ctx, out, dstKey)
	})
}

func (c *FFmpegComposer) concat(ctx context.Context, dir string, parts []string, codec []string, out string) error {
	list := filepath.Join(dir, "concat_list.txt")
	if err := writeConcatList(list, parts); err != nil {
		return err
	}
	args := append([]string{"-y", "-f", "concat", "-safe", "0", "-i", list}, codec...)
	if err := c.run(ctx, c.binary, append(args, out)...); err != nil {
		return fmt.Errorf("concat: %w", err)
	}
	return nil
}

func (c *FFmpegComposer) withTempDir(fn func(dir string) error) error {
	if c.workDir != "" {
		if err := os.MkdirAll(c.workDir, 0o755); err != nil {
			return fmt.Errorf("create work dir: %w", err)
		}
	}
	dir, err := os.MkdirTemp(c.workDir, "compose-*")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)
	return fn(dir)
}

func writeConcatList(path string, files []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create concat list: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, file := range files {
		if _, err := w.WriteString("file " + quoteConcatPath(file) + "\n"); err != nil {
			return fmt.Errorf("write concat list: %w", err)
		}
	}
	return w.Flush()
}

// quoteConcatPath quotes a path for the concat demuxer: ' becomes '\''.
func quoteConcatPath(p string) string {
	return "'" + strings.ReplaceAll(p, "'", `'\''`) + "'"
}

func normalizeVideoArgs(in, out string) []string {
	return []string{"-y", "-i", in,
		"-vf", "scale=1280:720,fps=30,format=yuv420p",
		"-c:v", "libx264", "-preset", "fast", "-crf", "20",
		"-an", out}
}

func audioCodecArgs() []string {
	return []string{"-ar", "48000", "-ac", "2", "-c:a", "aac", "-b:a", "192k"}
}

func normalizeAudioArgs(in, out string) []string {
	args := append([]string{"-y", "-i", in}, audioCodecArgs()...)
	return append(args, out)
}

func silenceArgs(gap time.Duration, out string) []string {
	args := []string{"-y", "-f", "lavfi", "-i", "anullsrc=r=48000:cl=stereo",
		"-t", strconv.FormatFloat(gap.Seconds(), 'f', -1, 64)}
	args = append(args, audioCodecArgs()...)
	return append(args, out)
}

func muxArgs(video, audio, out string) []string {
	return []string{"-y", "-i", video, "-i", audio,
		"-map", "0:v:0", "-map", "1:a:0",
		"-c:v", "copy", "-c:a", "aac", "-b:a", "192k", "-ar", "48000",
		"-shortest", "-movflags", "+faststart", out}
}
