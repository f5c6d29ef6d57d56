// Package api serves the intake service over HTTP: JSON endpoints for
// session turns and a Server-Sent Events stream for the assessment run.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dusk-indust/loanflow/internal/a2a"
	"github.com/dusk-indust/loanflow/internal/export"
	"github.com/dusk-indust/loanflow/internal/logging"
	"github.com/dusk-indust/loanflow/internal/orchestrator"
	"github.com/dusk-indust/loanflow/internal/service"
	"github.com/dusk-indust/loanflow/internal/session"
	"github.com/dusk-indust/loanflow/internal/status"
)

// Handler holds the HTTP handlers for the intake service.
type Handler struct {
	svc *service.Service
	log *slog.Logger
}

// MessageRequest is the body of POST /api/sessions/:id/messages.
type MessageRequest struct {
	Message string `json:"message"`
}

// NewRouter builds the gin engine with middleware and every route.
func NewRouter(svc *service.Service, log *slog.Logger) *gin.Engine {
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{svc: svc, log: log}

	r := gin.New()
	r.Use(RequestID())
	r.Use(Recovery(log))
	r.Use(RequestLogger(log))

	r.GET("/healthz", h.Health)
	r.GET("/api/stats", h.Stats)

	api := r.Group("/api/sessions")
	{
		api.POST("", h.Create)
		api.GET("", h.List)
		api.GET("/:id", h.Get)
		api.DELETE("/:id", h.Delete)
		api.POST("/:id/messages", h.SendMessage)
		api.POST("/:id/reset", h.Reset)
		api.POST("/:id/process", h.Process)
		api.GET("/:id/status", h.Status)
		api.GET("/:id/export", h.Export)
	}
	return r
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) Create(c *gin.Context) {
	turn, err := h.svc.StartSession(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, turn)
}

func (h *Handler) List(c *gin.Context) {
	list, err := h.svc.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": list})
}

func (h *Handler) Get(c *gin.Context) {
	sess, err := h.svc.Get(h.scope(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) Delete(c *gin.Context) {
	if err := h.svc.Delete(h.scope(c), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) SendMessage(c *gin.Context) {
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "request_id": GetRequestID(c)})
		return
	}
	turn, err := h.svc.SendMessage(h.scope(c), c.Param("id"), req.Message)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, turn)
}

func (h *Handler) Reset(c *gin.Context) {
	turn, err := h.svc.Reset(h.scope(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, turn)
}

// Stats summarizes every stored session.
func (h *Handler) Stats(c *gin.Context) {
	list, err := h.svc.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, status.Summarize(list))
}

func (h *Handler) Status(c *gin.Context) {
	sess, err := h.svc.Get(h.scope(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, status.ForSession(sess))
}

// Export renders the session as JSON, Markdown or Mermaid per ?format=.
func (h *Handler) Export(c *gin.Context) {
	f, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "request_id": GetRequestID(c)})
		return
	}
	sess, err := h.svc.Get(h.scope(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	data, err := export.Render(sess, f)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, f.ContentType(), data)
}

// Process streams the session's assessment as SSE: one data frame per
// ProcessingUpdate, then a "done" event naming the final status.
func (h *Handler) Process(c *gin.Context) {
	ctx := h.scope(c)
	updates, err := h.svc.Process(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	sw := a2a.NewSSEWriter(c.Writer)
	sw.Init()

	final := orchestrator.UpdateError
	for u := range updates {
		if err := sw.WriteJSON("", u); err != nil {
			logging.With(ctx, h.log).Warn("client went away during assessment", "error", err)
			return
		}
		final = u.Status
	}
	if err := sw.WriteJSON("done", gin.H{"session_id": c.Param("id"), "status": final}); err != nil {
		logging.With(ctx, h.log).Debug("client went away before done event", "error", err)
	}
}

// scope tags the request context with the session id from the path.
func (h *Handler) scope(c *gin.Context) context.Context {
	ctx := logging.WithSessionID(c.Request.Context(), c.Param("id"))
	c.Request = c.Request.WithContext(ctx)
	return ctx
}

func (h *Handler) fail(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, service.ErrNotReady), errors.Is(err, service.ErrAlreadyProcessed):
		code = http.StatusConflict
	}
	if code == http.StatusInternalServerError {
		logging.With(c.Request.Context(), h.log).Error("request failed", "error", err)
	}
	c.JSON(code, gin.H{"error": err.Error(), "request_id": GetRequestID(c)})
}
