package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"AdReel-server/models"
	"AdReel-server/pipeline"
)

const workerProvider = "video-worker"

// VideoWorker 调用远端图生视频 worker: 提交任务，轮询结果，下载并上传到对象存储
type VideoWorker struct {
	endpoint     string
	blobs        pipeline.BlobStore
	httpClient   *http.Client
	pollInterval time.Duration
}

func NewVideoWorker(endpoint string, blobs pipeline.BlobStore, pollInterval time.Duration) *VideoWorker {
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	return &VideoWorker{
		endpoint:     strings.TrimRight(endpoint, "/"),
		blobs:        blobs,
		httpClient:   &http.Client{Timeout: time.Minute},
		pollInterval: pollInterval,
	}
}

type workerJobRequest struct {
	Type       string          `json:"type"`
	Parameters workerVideoArgs `json:"parameters"`
}

type workerVideoArgs struct {
	ImageURL   string `json:"image_url"`
	Prompt     string `json:"prompt"`
	Duration   int    `json:"duration"`
	Resolution string `json:"resolution"`
	FPS        int    `json:"fps"`
}

type workerJob struct {
	ID     string `json:"id"`
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Error  string `json:"error"`
	Result struct {
		ResourceURL string `json:"resource_url"`
	} `json:"result"`
}

func (w *VideoWorker) GenerateVideo(ctx context.Context, imageKey string, scene models.Scene, dstKey string) error {
	imageURL, err := w.blobs.PresignedURL(ctx, imageKey)
	if err != nil {
		return fmt.Errorf("presign keyframe: %w", err)
	}
	duration := scene.DurationSeconds
	if duration <= 0 {
		duration = models.DefaultSceneDuration
	}

	jobID, err := w.submit(ctx, workerJobRequest{
		Type: "generate_video",
		Parameters: workerVideoArgs{
			ImageURL:   imageURL,
			Prompt:     scene.VideoPrompt(),
			Duration:   duration,
			Resolution: "1280x720",
			FPS:        30,
		},
	})
	if err != nil {
		return err
	}
	log.Info().Int("scene_id", scene.ID).Str("job_id", jobID).Msg("video job submitted, polling")

	resourceURL, err := w.poll(ctx, jobID)
	if err != nil {
		return err
	}
	return w.transfer(ctx, resourceURL, dstKey)
}

// submit 发送 POST 请求，返回 job_id
func (w *VideoWorker) submit(ctx context.Context, body workerJobRequest) (string, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request failed: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint+"/v1/jobs", bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var job workerJob
	if err := w.do(req, &job); err != nil {
		return "", err
	}
	// 优先返回根节点的 id
	if job.ID != "" {
		return job.ID, nil
	}
	if job.JobID != "" {
		return job.JobID, nil
	}
	return "", &pipeline.PermanentError{Provider: workerProvider, Message: "response missing 'id'"}
}

// poll 轮询 GET /v1/jobs/{job_id} 直到完成，返回结果地址
func (w *VideoWorker) poll(ctx context.Context, jobID string) (string, error) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("polling job %s: %w", jobID, ctx.Err())
		case <-ticker.C:
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.endpoint+"/v1/jobs/"+jobID, nil)
		if err != nil {
			return "", err
		}
		var job workerJob
		if err := w.do(req, &job); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			var perm *pipeline.PermanentError
			if errors.As(err, &perm) {
				return "", fmt.Errorf("polling job %s: %w", jobID, err)
			}
			// 网络抖动继续轮询
			log.Warn().Err(err).Str("job_id", jobID).Msg("poll failed, retrying")
			continue
		}

		switch strings.ToLower(job.Status) {
		case "finished", "success", "completed", "succeeded":
			if job.Result.ResourceURL == "" {
				return "", &pipeline.PermanentError{Provider: workerProvider, Message: "job " + jobID + " finished without resource_url"}
			}
			return job.Result.ResourceURL, nil
		case "failed", "error":
			return "", &pipeline.TransientProviderError{Provider: workerProvider, Message: "job " + jobID + " failed: " + job.Error}
		}
		// 其他状态继续轮询
	}
}

func (w *VideoWorker) transfer(ctx context.Context, resourceURL, dstKey string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resourceURL, nil)
	if err != nil {
		return err
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return &pipeline.TransientProviderError{Provider: workerProvider, Message: "download clip", Cause: err}
	}
	defer resp.Body.Close()
	if err := pipeline.ClassifyHTTPStatus(workerProvider, resp.StatusCode, ""); err != nil {
		return err
	}
	return w.blobs.Put(ctx, dstKey, resp.Body, resp.ContentLength)
}

func (w *VideoWorker) do(req *http.Request, out interface{}) error {
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return &pipeline.TransientProviderError{Provider: workerProvider, Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &pipeline.TransientProviderError{Provider: workerProvider, Cause: err}
	}
	if err := pipeline.ClassifyHTTPStatus(workerProvider, resp.StatusCode, string(body)); err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response failed: %w", err)
	}
	return nil
}
