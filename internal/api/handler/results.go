package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kwong/prefscope/internal/repository"
	"github.com/kwong/prefscope/internal/service"
)

// ResultsHandler handles aggregated results and post-run correction endpoints.
type ResultsHandler struct {
	results *service.ResultsService
}

// NewResultsHandler creates a new results handler.
// Parameters:
//   - results: results service instance.
// Returns:
//   - *ResultsHandler: initialized handler.
func NewResultsHandler(results *service.ResultsService) *ResultsHandler {
	return &ResultsHandler{results: results}
}

// GetResults handles GET /api/v1/results/:model_name.
// The use_corrections query parameter folds flagged corrections into the
// distributions.
func (h *ResultsHandler) GetResults(c *gin.Context) {
	modelName := c.Param("model_name")
	useCorrections, _ := strconv.ParseBool(c.DefaultQuery("use_corrections", "false"))

	dists, err := h.results.Distributions(c.Request.Context(), modelName, useCorrections)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No data for model"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get results: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"model_name":      modelName,
		"use_corrections": useCorrections,
		"questions":       dists,
	})
}

// GetModeCollapse handles GET /api/v1/results/:model_name/mode_collapse.
func (h *ResultsHandler) GetModeCollapse(c *gin.Context) {
	modelName := c.Param("model_name")

	report, err := h.results.ModeCollapse(c.Request.Context(), modelName)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No data for model"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to compute mode collapse: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, report)
}

// ListModels handles GET /api/v1/models.
func (h *ResultsHandler) ListModels(c *gin.Context) {
	models, err := h.results.ListModels(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list models: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"models": models,
		"count":  len(models),
	})
}

// DeleteModel handles DELETE /api/v1/models/:model_name.
func (h *ResultsHandler) DeleteModel(c *gin.Context) {
	modelName := c.Param("model_name")

	if err := h.results.DeleteModelData(c.Request.Context(), modelName); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No data for model"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to delete model data: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"model_name": modelName,
		"deleted":    true,
	})
}

// ListResponses handles GET /api/v1/models/:model_name/responses.
// The question_id query parameter is required.
func (h *ResultsHandler) ListResponses(c *gin.Context) {
	modelName := c.Param("model_name")
	questionID := c.Query("question_id")
	if questionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Query parameter 'question_id' is required"})
		return
	}

	recs, err := h.results.ListResponses(c.Request.Context(), modelName, questionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list responses: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"model_name":  modelName,
		"question_id": questionID,
		"responses":   recs,
		"count":       len(recs),
	})
}

// ListFlagged handles GET /api/v1/models/:model_name/flagged.
func (h *ResultsHandler) ListFlagged(c *gin.Context) {
	modelName := c.Param("model_name")

	recs, err := h.results.ListFlagged(c.Request.Context(), modelName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list flagged responses: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"model_name": modelName,
		"responses":  recs,
		"count":      len(recs),
	})
}

// FlagRequest is the payload for correcting one response's category.
type FlagRequest struct {
	CorrectedCategory string `json:"corrected_category" binding:"required"`
}

// FlagResponse handles POST /api/v1/responses/:id/flag.
func (h *ResultsHandler) FlagResponse(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid response ID"})
		return
	}

	var req FlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	rec, err := h.results.FlagResponse(c.Request.Context(), uint(id), req.CorrectedCategory)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Response not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to flag response: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, rec)
}
