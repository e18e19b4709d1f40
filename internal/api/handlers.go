package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ytget/mediarelay/internal/logging"
	"github.com/ytget/mediarelay/internal/model"
	"github.com/ytget/mediarelay/internal/pipeline"
)

// JobService is the part of pipeline.Service the API drives
type JobService interface {
	Submit(req pipeline.Request) (model.JobSnapshot, error)
	Get(id string) (model.JobSnapshot, bool)
	List() []model.JobSnapshot
	Cancel(id string) error
}

type APIHandler struct {
	Jobs           JobService
	AllowTranscode bool
	log            *slog.Logger
}

type SubmitRequest struct {
	URL            string `json:"url" binding:"required"`
	BudgetBytes    int64  `json:"budget_bytes"`
	AllowTranscode *bool  `json:"allow_transcode"`
}

type jobResponse struct {
	model.JobSnapshot
	DisplayTitle string `json:"display_title"`
	ETA          string `json:"eta"`
}

func newJobResponse(snap model.JobSnapshot) jobResponse {
	return jobResponse{
		JobSnapshot:  snap,
		DisplayTitle: snap.GetDisplayTitle(),
		ETA:          snap.GetETAString(),
	}
}

// RegisterHandlers mounts the job endpoints. allowTranscode is the default for
// submissions that do not set allow_transcode.
func RegisterHandlers(r *gin.Engine, jobs JobService, allowTranscode bool, log *slog.Logger) {
	if log == nil {
		log = logging.Discard()
	}
	h := &APIHandler{Jobs: jobs, AllowTranscode: allowTranscode, log: log}

	r.POST("/jobs", h.submitJob)
	r.GET("/jobs", h.listJobs)
	r.GET("/jobs/:id", h.getJob)
	r.DELETE("/jobs/:id", h.cancelJob)
}

// NewRouter returns a gin engine with recovery, request logging and the job endpoints
func NewRouter(jobs JobService, allowTranscode bool, log *slog.Logger) *gin.Engine {
	if log == nil {
		log = logging.Discard()
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))
	RegisterHandlers(r, jobs, allowTranscode, log)
	return r
}

func (h *APIHandler) submitJob(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.BudgetBytes < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "budget_bytes must not be negative"})
		return
	}

	allow := h.AllowTranscode
	if req.AllowTranscode != nil {
		allow = *req.AllowTranscode
	}

	snap, err := h.Jobs.Submit(pipeline.Request{
		Source:         req.URL,
		BudgetBytes:    req.BudgetBytes,
		AllowTranscode: allow,
	})
	if err != nil {
		switch {
		case errors.Is(err, model.ErrUnsupportedSource):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, pipeline.ErrDuplicateSource):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, pipeline.ErrServiceClosed):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			h.log.Error("submit failed", logging.Err(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}

	c.JSON(http.StatusAccepted, newJobResponse(snap))
}

func (h *APIHandler) listJobs(c *gin.Context) {
	snaps := h.Jobs.List()
	resp := make([]jobResponse, 0, len(snaps))
	for _, snap := range snaps {
		resp = append(resp, newJobResponse(snap))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *APIHandler) getJob(c *gin.Context) {
	snap, ok := h.Jobs.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, newJobResponse(snap))
}

func (h *APIHandler) cancelJob(c *gin.Context) {
	id := c.Param("id")

	err := h.Jobs.Cancel(id)
	switch {
	case err == nil:
	case errors.Is(err, pipeline.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	case errors.Is(err, pipeline.ErrJobFinished):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	default:
		h.log.Error("cancel failed", slog.String("job_id", id), logging.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	snap, _ := h.Jobs.Get(id)
	c.JSON(http.StatusAccepted, newJobResponse(snap))
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
		)
	}
}
