package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"AdReel-server/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// 运行进度 WebSocket 推送：先推送当前状态，之后轮询状态表，有变化就推送，直到终态
func (h *RunHandler) RunProgressWebSocket(c *gin.Context) {
	runID := c.Param("run_id")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写回了错误响应
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	// 客户端断开时停止轮询
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	state, err := h.runs.GetRunStatus(ctx, runID)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, models.ErrRunNotFound) {
			msg = "run not found: " + runID
		}
		_ = conn.WriteJSON(gin.H{"error": msg})
		return
	}
	if err := conn.WriteJSON(state); err != nil {
		return
	}

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()
	prev := *state

	for !prev.Terminal() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cur, err := h.runs.GetRunStatus(ctx, runID)
		if err != nil {
			// 查询失败继续重试
			continue
		}
		if changed(&prev, cur) {
			if err := conn.WriteJSON(cur); err != nil {
				return
			}
			prev = *cur
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"))
}

func changed(prev, cur *models.RunState) bool {
	for _, step := range models.Steps {
		if prev.Status(step) != cur.Status(step) {
			return true
		}
	}
	return (prev.FinalVideoURI == nil) != (cur.FinalVideoURI == nil)
}
