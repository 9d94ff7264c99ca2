package routers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"AdReel-server/routers/api"
)

type Options struct {
	RateLimit    float64
	Burst        int
	PollInterval time.Duration
}

func InitRouter(runs api.Runs, opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	h := api.NewRunHandler(runs, opts.PollInterval)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1/api")
	{
		v1.POST("/ads", RateLimit(opts.RateLimit, opts.Burst), h.CreateAd)
		v1.GET("/runs/:run_id/status", h.GetRunStatus)
		v1.GET("/runs/:run_id/manifest", h.GetManifest)
		v1.GET("/runs/:run_id/ws", h.RunProgressWebSocket)
	}
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("http request")
	}
}
