package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kwong/prefscope/internal/domain"
	"github.com/kwong/prefscope/internal/repository"
	"github.com/kwong/prefscope/internal/service"
)

// JobHandler handles job submission and lifecycle endpoints.
type JobHandler struct {
	runner *service.Runner
}

// NewJobHandler creates a new job handler.
// Parameters:
//   - runner: job pipeline runner.
// Returns:
//   - *JobHandler: initialized handler.
func NewJobHandler(runner *service.Runner) *JobHandler {
	return &JobHandler{runner: runner}
}

// SubmitJobRequest is the payload for starting a survey run. The API key is
// forwarded to the pipeline in memory only; it is never stored or logged.
type SubmitJobRequest struct {
	ModelName string `json:"model_name" binding:"required"`
	APIURL    string `json:"api_url"`
	APIKey    string `json:"api_key" binding:"required"`
	APIType   string `json:"api_type"`
	ModelID   string `json:"model_id" binding:"required"`
}

// SubmitJob handles POST /api/v1/jobs.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *JobHandler) SubmitJob(c *gin.Context) {
	var req SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	if req.APIType == "" {
		req.APIType = "openai"
	}

	job, err := h.runner.Start(c.Request.Context(), domain.TargetModel{
		ModelName: req.ModelName,
		APIURL:    req.APIURL,
		APIKey:    req.APIKey,
		APIType:   req.APIType,
		ModelID:   req.ModelID,
	})
	if err != nil {
		if errors.Is(err, service.ErrJobAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to start job: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":     job.ID,
		"model_name": job.ModelName,
		"status":     job.Status,
	})
}

// GetProgress handles GET /api/v1/jobs/:id/progress.
func (h *JobHandler) GetProgress(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	progress, err := h.runner.GetProgress(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get progress: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, progress)
}

// CancelJob handles POST /api/v1/jobs/:id/cancel.
func (h *JobHandler) CancelJob(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.runner.Cancel(id); err != nil {
		if errors.Is(err, service.ErrJobNotActive) {
			c.JSON(http.StatusConflict, gin.H{"error": "Job is not active"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to cancel job: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Cancellation requested",
	})
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid job ID"})
		return 0, false
	}
	return uint(id), true
}
