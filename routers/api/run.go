package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"AdReel-server/models"
	"AdReel-server/pipeline"
)

// Runs is the orchestrator surface the HTTP layer needs.
type Runs interface {
	StartRun(ctx context.Context, productName, productDescription, runID string) (string, error)
	GetRunStatus(ctx context.Context, runID string) (*models.RunState, error)
	GetManifest(ctx context.Context, runID string) (*models.Manifest, error)
}

type RunHandler struct {
	runs         Runs
	pollInterval time.Duration
}

func NewRunHandler(runs Runs, pollInterval time.Duration) *RunHandler {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &RunHandler{runs: runs, pollInterval: pollInterval}
}

type createAdRequest struct {
	Name  string `json:"name" binding:"required,max=200"`
	Desc  string `json:"desc" binding:"required,min=10,max=4000"`
	RunID string `json:"run_id" binding:"omitempty,max=64"`
}

// 创建广告视频运行：POST /v1/api/ads
func (h *RunHandler) CreateAd(c *gin.Context) {
	var req createAdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	runID, err := h.runs.StartRun(c.Request.Context(), req.Name, req.Desc, req.RunID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"run_id":     runID,
		"status_url": "/v1/api/runs/" + runID + "/status",
	})
}

// 查询运行状态：GET /v1/api/runs/:run_id/status
func (h *RunHandler) GetRunStatus(c *gin.Context) {
	state, err := h.runs.GetRunStatus(c.Request.Context(), c.Param("run_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// 查询成片清单：GET /v1/api/runs/:run_id/manifest
func (h *RunHandler) GetManifest(c *gin.Context) {
	m, err := h.runs.GetManifest(c.Request.Context(), c.Param("run_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pipeline.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrRunNotFound):
		status = http.StatusNotFound
	case errors.Is(err, pipeline.ErrManifestNotReady):
		status = http.StatusConflict
	case errors.Is(err, models.ErrStorageUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, pipeline.ErrRunnerBusy):
		status = http.StatusServiceUnavailable
		c.Header("Retry-After", "30")
	}
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
