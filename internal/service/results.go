package service

import (
	"context"
	"sort"

	"github.com/kwong/prefscope/internal/domain"
	"github.com/kwong/prefscope/internal/logger"
	"github.com/kwong/prefscope/internal/repository"
)

// CategoryShare is one category's slice of a question distribution.
type CategoryShare struct {
	Category   string  `json:"category"`
	Count      int64   `json:"count"`
	Percentage float64 `json:"percentage"`
}

// QuestionDistribution is the aggregated outcome for one catalog question.
type QuestionDistribution struct {
	QuestionID   string                `json:"question_id"`
	QuestionText string                `json:"question_text"`
	Group        domain.QuestionGroup  `json:"group"`
	Variant      domain.QuestionVariant `json:"variant"`
	Total        int64                 `json:"total"`
	Categories   []CategoryShare       `json:"categories"`
	TierCounts   map[domain.Tier]int64 `json:"tier_counts"`
}

// ModeCollapseEntry is the concentration measure for one question: the share
// of categorized answers that landed on the single most common category.
type ModeCollapseEntry struct {
	QuestionID  string  `json:"question_id"`
	TopCategory string  `json:"top_category"`
	TopCount    int64   `json:"top_count"`
	Total       int64   `json:"total"`
	Score       float64 `json:"score"`
}

// ModeCollapseReport aggregates concentration across the catalog.
type ModeCollapseReport struct {
	ModelName string              `json:"model_name"`
	Overall   float64             `json:"overall"`
	Questions []ModeCollapseEntry `json:"questions"`
}

// ResultsService serves aggregated survey outcomes and mutations that happen
// after a run: flagging miscategorized answers and deleting a model's data.
type ResultsService struct {
	jobs       *repository.JobRepository
	responses  *repository.ResponseRepository
	categories *repository.CategoryRepository
}

func NewResultsService(jobs *repository.JobRepository, responses *repository.ResponseRepository, categories *repository.CategoryRepository) *ResultsService {
	return &ResultsService{jobs: jobs, responses: responses, categories: categories}
}

// Distributions returns the per-question category distributions for a model.
// With useCorrections, flagged answers count under their corrected category
// instead of the originally resolved one; the aggregate is then rebuilt from
// the response rows rather than read from the count table.
func (s *ResultsService) Distributions(ctx context.Context, modelName string, useCorrections bool) ([]QuestionDistribution, error) {
	if _, err := s.jobs.GetByModel(ctx, modelName); err != nil {
		return nil, err
	}

	out := make([]QuestionDistribution, 0, len(domain.Questions))
	for _, q := range domain.Questions {
		recs, err := s.responses.ListByModelQuestion(ctx, modelName, q.ID)
		if err != nil {
			return nil, err
		}

		dist := QuestionDistribution{
			QuestionID:   q.ID,
			QuestionText: q.Text,
			Group:        q.Group,
			Variant:      q.Variant,
			TierCounts:   make(map[domain.Tier]int64),
		}

		counts := make(map[string]int64)
		for i := range recs {
			rec := &recs[i]
			dist.TierCounts[rec.Tier]++

			category := rec.Category
			if useCorrections {
				category = rec.EffectiveCategory()
			}
			if category != nil && rec.Tier.Countable() {
				counts[*category]++
				dist.Total++
			}
		}

		for category, count := range counts {
			share := CategoryShare{Category: category, Count: count}
			if dist.Total > 0 {
				share.Percentage = float64(count) / float64(dist.Total) * 100
			}
			dist.Categories = append(dist.Categories, share)
		}
		sort.Slice(dist.Categories, func(i, j int) bool {
			if dist.Categories[i].Count != dist.Categories[j].Count {
				return dist.Categories[i].Count > dist.Categories[j].Count
			}
			return dist.Categories[i].Category < dist.Categories[j].Category
		})

		out = append(out, dist)
	}
	return out, nil
}

// ModeCollapse scores how concentrated a model's answers are. A score of 1.0
// on a question means every categorized answer landed on one category.
func (s *ResultsService) ModeCollapse(ctx context.Context, modelName string) (*ModeCollapseReport, error) {
	dists, err := s.Distributions(ctx, modelName, true)
	if err != nil {
		return nil, err
	}

	report := &ModeCollapseReport{ModelName: modelName}
	var scored int
	for _, dist := range dists {
		entry := ModeCollapseEntry{QuestionID: dist.QuestionID, Total: dist.Total}
		if len(dist.Categories) > 0 && dist.Total > 0 {
			entry.TopCategory = dist.Categories[0].Category
			entry.TopCount = dist.Categories[0].Count
			entry.Score = float64(entry.TopCount) / float64(entry.Total)
			report.Overall += entry.Score
			scored++
		}
		report.Questions = append(report.Questions, entry)
	}
	if scored > 0 {
		report.Overall /= float64(scored)
	}
	return report, nil
}

// FlagResponse marks one answer as miscategorized and moves its unit of count
// from the original category to the corrected one, so the stored aggregates
// stay consistent with the corrected rows.
func (s *ResultsService) FlagResponse(ctx context.Context, responseID uint, correctedCategory string) (*domain.ResponseRecord, error) {
	rec, err := s.responses.Get(ctx, responseID)
	if err != nil {
		return nil, err
	}
	job, err := s.jobs.Get(ctx, rec.JobID)
	if err != nil {
		return nil, err
	}

	previous := rec.EffectiveCategory()

	if err := s.responses.Flag(ctx, responseID, correctedCategory); err != nil {
		return nil, err
	}

	if rec.Tier.Countable() {
		if previous != nil && *previous != correctedCategory {
			if err := s.categories.AdjustCount(ctx, rec.QuestionID, *previous, job.ModelName, -1); err != nil {
				return nil, err
			}
		}
		if correctedCategory != "" && (previous == nil || *previous != correctedCategory) {
			if err := s.categories.AdjustCount(ctx, rec.QuestionID, correctedCategory, job.ModelName, 1); err != nil {
				return nil, err
			}
		}
	}

	log := logger.FromContext(ctx)
	log.WithFields(logger.Fields{
		"response_id": responseID,
		"corrected":   correctedCategory,
	}).Info("response flagged")

	return s.responses.Get(ctx, responseID)
}

// ListFlagged returns every flagged answer for a model.
func (s *ResultsService) ListFlagged(ctx context.Context, modelName string) ([]domain.ResponseRecord, error) {
	return s.responses.ListFlagged(ctx, modelName)
}

// ListResponses returns the raw answers a model gave to one question.
func (s *ResultsService) ListResponses(ctx context.Context, modelName, questionID string) ([]domain.ResponseRecord, error) {
	return s.responses.ListByModelQuestion(ctx, modelName, questionID)
}

// ListModels returns every model name that has survey data.
func (s *ResultsService) ListModels(ctx context.Context) ([]string, error) {
	return s.jobs.ListModels(ctx)
}

// DeleteModelData removes everything stored for a model: jobs, responses,
// and category counts.
func (s *ResultsService) DeleteModelData(ctx context.Context, modelName string) error {
	if _, err := s.jobs.GetByModel(ctx, modelName); err != nil {
		return err
	}
	if _, err := s.responses.DeleteByModel(ctx, modelName); err != nil {
		return err
	}
	if _, err := s.categories.DeleteByModel(ctx, modelName); err != nil {
		return err
	}
	if _, err := s.jobs.DeleteByModel(ctx, modelName); err != nil {
		return err
	}

	log := logger.FromContext(ctx)
	log.WithField(logger.FieldModel, modelName).Info("model data deleted")
	return nil
}
