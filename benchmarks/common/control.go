package common

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/zeu5/stair-rl/core"
)

// Controllable is the part of the trainer the control server drives
type Controllable interface {
	Stats() core.TrainingStats
	Stop()
}

// ControlServer exposes the running trainer over HTTP. Stop requests are
// posted to the event loop so they run between training steps.
type ControlServer struct {
	Addr   string
	target Controllable
	loop   *core.EventLoop
	server *http.Server
	logger logrus.FieldLogger
}

func NewControlServer(addr string, target Controllable, loop *core.EventLoop, logger logrus.FieldLogger) *ControlServer {
	s := &ControlServer{
		Addr:   addr,
		target: target,
		loop:   loop,
		logger: logger,
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})
	r.GET("/stats", s.handleStats)
	r.POST("/stop", s.handleStop)
	s.server = &http.Server{
		Addr:    addr,
		Handler: r,
	}
	return s
}

func (s *ControlServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *ControlServer) Start() {
	go func() {
		s.logger.WithField("addr", s.Addr).Info("control server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("control server failed")
		}
	}()
}

func (s *ControlServer) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.WithError(err).Warn("control server shutdown")
	}
}

func (s *ControlServer) handleStats(c *gin.Context) {
	stats := s.target.Stats()
	c.JSON(http.StatusOK, gin.H{
		"stats":                stats,
		"rolling_reward":       stats.RollingReward(),
		"rolling_success_rate": stats.RollingSuccessRate(),
	})
}

func (s *ControlServer) handleStop(c *gin.Context) {
	if s.loop == nil {
		s.target.Stop()
		c.JSON(http.StatusAccepted, gin.H{"message": "stopping"})
		return
	}
	if err := s.loop.Post(c.Request.Context(), s.target.Stop); err != nil {
		// loop is gone, the trainer is not stepping anymore
		s.target.Stop()
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "stopping"})
}
