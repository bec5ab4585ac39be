// Package api exposes the orchestrator over HTTP: task submission and
// inspection, approval decisions, global control, and health.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kawanishi0117/agent-company-sub001/pkg/models"
	"github.com/kawanishi0117/agent-company-sub001/pkg/orchestrator"
	"github.com/kawanishi0117/agent-company-sub001/pkg/store"
	"github.com/kawanishi0117/agent-company-sub001/pkg/version"
	"github.com/kawanishi0117/agent-company-sub001/pkg/workflow"
)

// Server wraps the HTTP layer over the orchestrator.
type Server struct {
	orch   *orchestrator.Orchestrator
	engine *gin.Engine
	http   *http.Server
}

// NewServer builds the router. Release mode unless overridden by the
// GIN_MODE environment variable.
func NewServer(orch *orchestrator.Orchestrator) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	s := &Server{orch: orch, engine: engine}
	s.routes()
	return s
}

// Handler returns the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Start serves on addr until the context is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) routes() {
	v1 := s.engine.Group("/api/v1")
	v1.POST("/tasks", s.submitTask)
	v1.GET("/tasks/:id", s.getTask)
	v1.POST("/tasks/:id/approval", s.submitApproval)
	v1.POST("/control/pause", s.pause)
	v1.POST("/control/resume", s.resume)
	v1.POST("/control/emergency-stop", s.emergencyStop)
	v1.GET("/workers", s.listWorkers)
	v1.GET("/health", s.health)
}

type submitTaskRequest struct {
	Instruction   string `json:"instruction"`
	ProjectID     string `json:"projectId"`
	Workspace     string `json:"workspace,omitempty"`
	AutoDecompose *bool  `json:"autoDecompose,omitempty"`
}

func (s *Server) submitTask(c *gin.Context) {
	var req submitTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	taskID, err := s.orch.SubmitTask(c.Request.Context(), req.Instruction, req.ProjectID,
		orchestrator.SubmitOptions{Workspace: req.Workspace, AutoDecompose: req.AutoDecompose})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"taskId": taskID})
}

func (s *Server) getTask(c *gin.Context) {
	view, err := s.orch.GetTask(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type approvalRequest struct {
	Action    models.ApprovalAction `json:"action"`
	DecidedBy string                `json:"decidedBy"`
	Reason    string                `json:"reason,omitempty"`
}

func (s *Server) submitApproval(c *gin.Context) {
	var req approvalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	engine, err := s.orch.Workflow(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	err = engine.SubmitApprovalDecision(models.ApprovalDecision{
		Action:    req.Action,
		DecidedBy: req.DecidedBy,
		Reason:    req.Reason,
		DecidedAt: time.Now().UTC(),
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) pause(c *gin.Context) {
	if err := s.orch.PauseAllAgents(); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

func (s *Server) resume(c *gin.Context) {
	if err := s.orch.ResumeAllAgents(); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

func (s *Server) emergencyStop(c *gin.Context) {
	if err := s.orch.EmergencyStop(c.Request.Context()); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"emergencyStopped": true})
}

func (s *Server) listWorkers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"workers": s.orch.GetActiveAgents()})
}

func (s *Server) health(c *gin.Context) {
	payload := gin.H{
		"status":  "ok",
		"version": version.Full(),
	}
	if ai := s.orch.HealthStatus(); ai != nil {
		payload["ai"] = ai
		if !ai.Available {
			payload["status"] = "degraded"
		}
	}
	c.JSON(http.StatusOK, payload)
}

// abortWithError maps domain errors onto HTTP statuses.
func abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound), errors.Is(err, orchestrator.ErrUnknownTask):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrInvalidState),
		errors.Is(err, workflow.ErrNotWaitingApproval),
		errors.Is(err, orchestrator.ErrEmergencyStopped):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}
