package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/kwong/prefscope/internal/gateway"
	"github.com/kwong/prefscope/internal/logger"
	"github.com/kwong/prefscope/internal/prompts"
)

// registry is the growing label set for one (job, question) pair. Each labels
// slice preserves insertion order so the matching prompt always lists
// categories the way earlier calls produced them.
type registry struct {
	mu     sync.Mutex
	labels []string
}

// Resolver maps standardized preferences to canonical category labels.
// Matching is semantic and delegated to the extraction model; the label set
// for each (job, question) pair grows as new categories appear and is
// serialized under a per-pair lock so concurrent samples cannot mint
// duplicates.
type Resolver struct {
	client     gateway.Client
	model      string
	mu         sync.Mutex
	registries map[string]*registry
}

// NewResolver builds a resolver. Wrap the client with gateway.WithRetry
// before passing it in.
func NewResolver(client gateway.Client, model string) *Resolver {
	return &Resolver{
		client:     client,
		model:      model,
		registries: make(map[string]*registry),
	}
}

type classifyResult struct {
	IsNew                  bool   `json:"isNew"`
	ExactMatch             string `json:"exactMatch"`
	StandardizedPreference string `json:"standardizedPreference"`
	Reasoning              string `json:"reasoning"`
}

func (r *Resolver) registryFor(jobID uint, questionID string) *registry {
	key := fmt.Sprintf("%d/%s", jobID, questionID)
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.registries[key]
	if !ok {
		reg = &registry{}
		r.registries[key] = reg
	}
	return reg
}

// Forget drops the registries for a finished job.
func (r *Resolver) Forget(jobID uint) {
	prefix := fmt.Sprintf("%d/", jobID)
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.registries {
		if strings.HasPrefix(key, prefix) {
			delete(r.registries, key)
		}
	}
}

// Resolve maps one standardized preference to a canonical category label for
// the given (job, question) pair, creating a new label when no existing one
// matches. While the label set is empty there is nothing to match against, so
// the preference itself becomes the first label without a gateway call. The
// matching call and the label commit happen under the pair's lock; only one
// resolution per pair is in flight at a time.
func (r *Resolver) Resolve(ctx context.Context, jobID uint, questionID, preference string) (string, error) {
	reg := r.registryFor(jobID, questionID)

	reg.mu.Lock()
	defer reg.mu.Unlock()

	log := logger.FromContext(ctx)

	if len(reg.labels) == 0 {
		label := strings.TrimSpace(preference)
		if label == "" {
			return "", gateway.Permanent(fmt.Errorf("empty preference with no categories to match"))
		}
		reg.labels = append(reg.labels, label)
		log.WithFields(logger.Fields{
			logger.FieldQuestionID: questionID,
			"category":             label,
		}).Debug("first category label created")
		return label, nil
	}

	raw, err := r.client.CompleteStructured(ctx, gateway.Request{
		Model:       r.model,
		System:      prompts.SimilaritySystem,
		User:        prompts.SimilarityUser(preference, reg.labels),
		Temperature: gateway.Float(0),
	}, gateway.Schema{
		Name:        "classify_preference",
		Description: "Classify if a preference matches an existing category or needs to be created as a new category, with careful standardization",
		Parameters:  prompts.ClassifyPreferenceSchema(),
	})
	if err != nil {
		return "", err
	}

	var result classifyResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", gateway.Permanent(fmt.Errorf("malformed classify_preference arguments: %w", err))
	}

	if !result.IsNew {
		for _, label := range reg.labels {
			if label == result.ExactMatch {
				return label, nil
			}
		}
		// The claimed match is not in the label set verbatim. Trusting a
		// near miss here would silently fork the category space, so the
		// returned string becomes its own label instead.
		log.WithFields(logger.Fields{
			logger.FieldQuestionID: questionID,
			"claimed_match":        result.ExactMatch,
		}).Warn("exact match not in label set, treating as new category")
		result.StandardizedPreference = result.ExactMatch
	}

	label := strings.TrimSpace(result.StandardizedPreference)
	if label == "" {
		return "", gateway.Permanent(fmt.Errorf("classify_preference returned no usable label"))
	}

	for _, existing := range reg.labels {
		if existing == label {
			return label, nil
		}
	}
	reg.labels = append(reg.labels, label)

	log.WithFields(logger.Fields{
		logger.FieldQuestionID: questionID,
		"category":             label,
		logger.FieldCount:      len(reg.labels),
	}).Debug("new category label created")

	return label, nil
}
