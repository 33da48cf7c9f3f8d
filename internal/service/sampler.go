package service

import (
	"context"
	"time"

	"github.com/kwong/prefscope/internal/domain"
	"github.com/kwong/prefscope/internal/gateway"
	"github.com/kwong/prefscope/internal/logger"
)

// Sampler draws raw answers from the target model. The question text is sent
// verbatim; the catalog wording is part of the experiment and must reach the
// target unchanged.
type Sampler struct {
	client gateway.Client
}

// NewSampler builds a sampler over the target gateway client. Wrap the client
// with gateway.WithRetry before passing it in.
func NewSampler(client gateway.Client) *Sampler {
	return &Sampler{client: client}
}

// Sample asks the target model one catalog question and returns the raw
// answer text.
func (s *Sampler) Sample(ctx context.Context, target domain.TargetModel, q domain.Question) (string, error) {
	start := time.Now()

	raw, err := s.client.Complete(ctx, gateway.Request{
		Model:       target.ModelID,
		User:        q.Text,
		Temperature: gateway.Float(0),
		MaxTokens:   1000,
	})
	if err != nil {
		return "", err
	}

	log := logger.FromContext(ctx)
	log.WithFields(logger.Fields{
		logger.FieldQuestionID: q.ID,
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
	}).Debug("sampled target response")

	return raw, nil
}
