package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kwong/prefscope/internal/domain"
	"github.com/kwong/prefscope/internal/gateway"
	"github.com/kwong/prefscope/internal/logger"
	"github.com/kwong/prefscope/internal/prompts"
)

// Verdict is the outcome of classifying one raw answer.
type Verdict struct {
	Tier      domain.Tier
	Extracted string
}

// Classifier assigns a tier to raw answers and extracts the standardized
// preference for the tiers that carry one. The decision procedure is ordered
// and short-circuits: hard refusal, then soft refusal, then hedged, and
// anything left is a direct preference.
type Classifier struct {
	client          gateway.Client
	refusalModel    string
	extractionModel string
}

// NewClassifier builds a classifier. refusalModel handles the three yes/no
// checks; extractionModel handles preference extraction. Wrap the client with
// gateway.WithRetry before passing it in.
func NewClassifier(client gateway.Client, refusalModel, extractionModel string) *Classifier {
	return &Classifier{
		client:          client,
		refusalModel:    refusalModel,
		extractionModel: extractionModel,
	}
}

// yesNo runs one binary classification call. Anything other than a leading
// "yes" counts as no.
func (c *Classifier) yesNo(ctx context.Context, system, user string) (bool, error) {
	out, err := c.client.Complete(ctx, gateway.Request{
		Model:  c.refusalModel,
		System: system,
		User:   user,
	})
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(out)), "yes"), nil
}

// Classify runs the ordered tier checks on one raw answer and extracts the
// standardized preference when the tier carries one. Hard refusals carry no
// preference and skip extraction entirely.
func (c *Classifier) Classify(ctx context.Context, rawResponse string) (Verdict, error) {
	start := time.Now()

	hard, err := c.yesNo(ctx, prompts.HardRefusalSystem, prompts.HardRefusalUser(rawResponse))
	if err != nil {
		return Verdict{}, fmt.Errorf("hard refusal check: %w", err)
	}
	if hard {
		c.logVerdict(ctx, domain.TierHardRefusal, start)
		return Verdict{Tier: domain.TierHardRefusal}, nil
	}

	soft, err := c.yesNo(ctx, prompts.SoftRefusalSystem, prompts.SoftRefusalUser(rawResponse))
	if err != nil {
		return Verdict{}, fmt.Errorf("soft refusal check: %w", err)
	}

	tier := domain.TierDirect
	if soft {
		tier = domain.TierSoftRefusal
	} else {
		hedged, err := c.yesNo(ctx, prompts.HedgedSystem, prompts.HedgedUser(rawResponse))
		if err != nil {
			return Verdict{}, fmt.Errorf("hedged check: %w", err)
		}
		if hedged {
			tier = domain.TierHedged
		}
	}

	extracted, err := c.Extract(ctx, rawResponse)
	if err != nil {
		return Verdict{}, fmt.Errorf("preference extraction: %w", err)
	}

	c.logVerdict(ctx, tier, start)
	return Verdict{Tier: tier, Extracted: extracted}, nil
}

// Extract pulls the core preference phrase out of a raw answer.
func (c *Classifier) Extract(ctx context.Context, rawResponse string) (string, error) {
	out, err := c.client.Complete(ctx, gateway.Request{
		Model:       c.extractionModel,
		System:      prompts.ExtractionSystem,
		User:        prompts.ExtractionUser(rawResponse),
		Temperature: gateway.Float(0),
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (c *Classifier) logVerdict(ctx context.Context, tier domain.Tier, start time.Time) {
	log := logger.FromContext(ctx)
	log.WithFields(logger.Fields{
		logger.FieldTier:       string(tier),
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
	}).Debug("classified response")
}
