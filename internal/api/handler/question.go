package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kwong/prefscope/internal/domain"
)

// QuestionHandler serves the static elicitation catalog.
type QuestionHandler struct{}

func NewQuestionHandler() *QuestionHandler {
	return &QuestionHandler{}
}

// ListQuestions handles GET /api/v1/questions.
func (h *QuestionHandler) ListQuestions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"questions": domain.Questions,
		"count":     len(domain.Questions),
	})
}
