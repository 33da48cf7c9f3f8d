package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kwong/prefscope/internal/config"
	"github.com/kwong/prefscope/internal/domain"
	"github.com/kwong/prefscope/internal/gateway"
	"github.com/kwong/prefscope/internal/logger"
	"github.com/kwong/prefscope/internal/repository"
)

var (
	// ErrJobAlreadyRunning is returned when another job is already in flight.
	ErrJobAlreadyRunning = errors.New("a testing job is already running")
	// ErrJobNotActive is returned when cancelling a job that is not running.
	ErrJobNotActive = errors.New("job is not active")
)

// jobState tracks one active job in memory. Counters are atomics so the
// progress endpoint reads them without locking the pipeline.
type jobState struct {
	cancelled atomic.Bool
	failed    atomic.Bool
	processed atomic.Int64
	dropped   atomic.Int64
	total     int64

	qmu         sync.Mutex
	perQuestion map[string]int64
}

func (s *jobState) questionDone(questionID string) {
	s.qmu.Lock()
	s.perQuestion[questionID]++
	s.qmu.Unlock()
}

func (s *jobState) questionCounts() map[string]int64 {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	out := make(map[string]int64, len(s.perQuestion))
	for k, v := range s.perQuestion {
		out[k] = v
	}
	return out
}

// QuestionProgress is the advancement of one catalog question.
type QuestionProgress struct {
	Completed  int64   `json:"completed"`
	Required   int64   `json:"required"`
	Percentage float64 `json:"percentage"`
}

// Progress is a point-in-time snapshot of a job's advancement. Processed and
// Dropped together converge on Total; every sample is accounted for in one of
// the two.
type Progress struct {
	JobID     uint                        `json:"job_id"`
	ModelName string                      `json:"model_name"`
	Status    domain.JobStatus            `json:"status"`
	Processed int64                       `json:"processed"`
	Dropped   int64                       `json:"dropped"`
	Total     int64                       `json:"total"`
	Percent   float64                     `json:"percent"`
	Questions map[string]QuestionProgress `json:"questions"`
}

// Runner owns the survey pipeline: it fans the question catalog out into
// sample work items, pushes each through classification and category
// resolution, and persists the results. One survey runs at a time; a shared
// semaphore bounds in-flight work across all items.
type Runner struct {
	cfg        config.JobConfig
	jobs       *repository.JobRepository
	responses  *repository.ResponseRepository
	categories *repository.CategoryRepository
	classifier *Classifier
	resolver   *Resolver
	log        *logger.Logger

	// newTargetClient builds the gateway for a submitted target. Swappable
	// in tests.
	newTargetClient func(target domain.TargetModel) gateway.Client

	mu      sync.Mutex
	active  map[uint]*jobState
	byModel map[string]uint
}

func NewRunner(
	cfg config.JobConfig,
	jobs *repository.JobRepository,
	responses *repository.ResponseRepository,
	categories *repository.CategoryRepository,
	classifier *Classifier,
	resolver *Resolver,
	log *logger.Logger,
) *Runner {
	r := &Runner{
		cfg:        cfg,
		jobs:       jobs,
		responses:  responses,
		categories: categories,
		classifier: classifier,
		resolver:   resolver,
		log:        log,
		active:     make(map[uint]*jobState),
		byModel:    make(map[string]uint),
	}
	r.newTargetClient = func(target domain.TargetModel) gateway.Client {
		return gateway.WithRetry(
			gateway.NewForTarget(target.APIType, target.APIURL, target.APIKey, cfg.TargetTimeout),
			cfg.RetryCount,
		)
	}
	return r
}

// Start creates a job for the target model and launches its pipeline in the
// background. One survey runs at a time; a submission while any job is active
// is rejected with ErrJobAlreadyRunning. Prior data for the model is cleared
// so the new run starts from a clean slate. The target API key lives only
// inside the launched goroutine and is never written anywhere.
func (r *Runner) Start(ctx context.Context, target domain.TargetModel) (*domain.TestingJob, error) {
	if target.ModelName == "" || target.ModelID == "" || target.APIKey == "" {
		return nil, fmt.Errorf("model name, model id, and api key are required")
	}

	// Reserve the slot before touching the store so two concurrent
	// submissions cannot both create a job.
	r.mu.Lock()
	if len(r.byModel) > 0 {
		r.mu.Unlock()
		return nil, ErrJobAlreadyRunning
	}
	r.byModel[target.ModelName] = 0
	r.mu.Unlock()

	if err := r.clearModelData(ctx, target.ModelName); err != nil {
		r.mu.Lock()
		delete(r.byModel, target.ModelName)
		r.mu.Unlock()
		return nil, fmt.Errorf("clearing prior model data: %w", err)
	}

	job := &domain.TestingJob{
		ModelName:           target.ModelName,
		APIType:             target.APIType,
		ModelID:             target.ModelID,
		Status:              domain.JobStatusPending,
		RequiredPerQuestion: r.cfg.ResponsesPerQuestion,
	}
	if err := r.jobs.Create(ctx, job); err != nil {
		r.mu.Lock()
		delete(r.byModel, target.ModelName)
		r.mu.Unlock()
		return nil, fmt.Errorf("creating job: %w", err)
	}

	state := &jobState{
		total:       int64(len(domain.Questions)) * int64(r.cfg.ResponsesPerQuestion),
		perQuestion: make(map[string]int64, len(domain.Questions)),
	}

	r.mu.Lock()
	r.active[job.ID] = state
	r.byModel[target.ModelName] = job.ID
	r.mu.Unlock()

	go r.run(job, target, state)

	return job, nil
}

// Cancel requests a cooperative stop of an active job. Work items not yet
// started are skipped; in-flight calls run to completion. The job settles to
// cancelled once the last in-flight item finishes.
func (r *Runner) Cancel(jobID uint) error {
	r.mu.Lock()
	state, ok := r.active[jobID]
	r.mu.Unlock()
	if !ok {
		return ErrJobNotActive
	}
	state.cancelled.Store(true)
	return nil
}

// GetProgress returns the current progress of a job, live from memory while
// it runs and from the database once it has settled. The per-question
// breakdown counts stored answers only; drops appear in the aggregate bucket.
func (r *Runner) GetProgress(ctx context.Context, jobID uint) (*Progress, error) {
	job, err := r.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	p := &Progress{
		JobID:     job.ID,
		ModelName: job.ModelName,
		Status:    job.Status,
		Processed: int64(job.ProcessedCount),
		Dropped:   int64(job.DroppedCount),
		Total:     int64(len(domain.Questions)) * int64(job.RequiredPerQuestion),
	}

	required := int64(job.RequiredPerQuestion)
	var perQuestion map[string]int64

	r.mu.Lock()
	state, live := r.active[jobID]
	r.mu.Unlock()
	if live {
		p.Processed = state.processed.Load()
		p.Dropped = state.dropped.Load()
		p.Total = state.total
		perQuestion = state.questionCounts()
	} else {
		perQuestion, err = r.responses.CountByJobQuestion(ctx, jobID)
		if err != nil {
			return nil, err
		}
	}

	p.Questions = make(map[string]QuestionProgress, len(domain.Questions))
	for _, q := range domain.Questions {
		qp := QuestionProgress{Completed: perQuestion[q.ID], Required: required}
		if required > 0 {
			qp.Percentage = float64(qp.Completed) / float64(required) * 100
		}
		p.Questions[q.ID] = qp
	}

	if p.Total > 0 {
		p.Percent = float64(p.Processed+p.Dropped) / float64(p.Total) * 100
	}
	return p, nil
}

// clearModelData removes any prior jobs, answers, and aggregates stored for
// the model so a resubmission starts fresh.
func (r *Runner) clearModelData(ctx context.Context, modelName string) error {
	if _, err := r.responses.DeleteByModel(ctx, modelName); err != nil {
		return err
	}
	if _, err := r.categories.DeleteByModel(ctx, modelName); err != nil {
		return err
	}
	_, err := r.jobs.DeleteByModel(ctx, modelName)
	return err
}

func (r *Runner) run(job *domain.TestingJob, target domain.TargetModel, state *jobState) {
	ctx := r.log.WithContext(context.Background())
	ctx = logger.SetJobID(ctx, job.ID)
	ctx = logger.SetModel(ctx, target.ModelName)

	defer func() {
		r.mu.Lock()
		delete(r.active, job.ID)
		delete(r.byModel, target.ModelName)
		r.mu.Unlock()
		r.resolver.Forget(job.ID)
	}()

	if err := r.jobs.MarkRunning(ctx, job.ID); err != nil {
		logger.CtxError(ctx, "failed to mark job running: %v", err)
		if err := r.jobs.MarkTerminal(context.Background(), job.ID, domain.JobStatusFailed, 0, 0); err != nil {
			logger.CtxError(ctx, "failed to finalize job: %v", err)
		}
		return
	}
	logger.CtxInfo(ctx, "job started: %d questions, %d samples each",
		len(domain.Questions), r.cfg.ResponsesPerQuestion)

	sampler := NewSampler(r.newTargetClient(target))

	sem := semaphore.NewWeighted(int64(r.cfg.MaxConcurrent))
	var wg sync.WaitGroup

dispatch:
	for _, q := range domain.Questions {
		for i := 0; i < r.cfg.ResponsesPerQuestion; i++ {
			if state.cancelled.Load() {
				break dispatch
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				break dispatch
			}
			wg.Add(1)
			go func(q domain.Question) {
				defer sem.Release(1)
				defer wg.Done()
				r.processItem(ctx, job, target, sampler, q, state)
			}(q)
		}
	}
	wg.Wait()

	status := domain.JobStatusCompleted
	switch {
	case state.failed.Load():
		status = domain.JobStatusFailed
	case state.cancelled.Load():
		status = domain.JobStatusCancelled
	}

	processed := state.processed.Load()
	dropped := state.dropped.Load()
	if err := r.jobs.MarkTerminal(context.Background(), job.ID, status, processed, dropped); err != nil {
		logger.CtxError(ctx, "failed to finalize job: %v", err)
	}
	logger.CtxInfo(ctx, "job finished: status=%s processed=%d dropped=%d", status, processed, dropped)
}

// processItem runs one sample end to end: draw the answer, classify it,
// resolve its category, and persist. Sampling failures drop the item;
// classification and resolution failures persist it as unclassified, which
// keeps category counts in step with the countable records. Every path
// advances exactly one of the processed or dropped counters.
func (r *Runner) processItem(ctx context.Context, job *domain.TestingJob, target domain.TargetModel, sampler *Sampler, q domain.Question, state *jobState) {
	if state.cancelled.Load() {
		return
	}
	ctx = logger.SetQuestionID(ctx, q.ID)

	raw, err := sampler.Sample(ctx, target, q)
	if err != nil {
		state.dropped.Add(1)
		logger.CtxWarn(ctx, "sample dropped: %v", err)
		r.persistProgress(ctx, job.ID, state)
		return
	}

	rec := &domain.ResponseRecord{
		JobID:      job.ID,
		QuestionID: q.ID,
		RawText:    raw,
	}

	verdict, err := r.classifier.Classify(ctx, raw)
	if err != nil {
		rec.Tier = domain.TierUnclassified
		logger.CtxWarn(ctx, "classification exhausted, storing unclassified: %v", err)
	} else {
		rec.Tier = verdict.Tier
		if verdict.Extracted != "" {
			rec.ExtractedPreference = &verdict.Extracted
		}
	}

	var category string
	if rec.Tier.Countable() {
		category, err = r.resolver.Resolve(ctx, job.ID, q.ID, verdict.Extracted)
		if err != nil {
			rec.Tier = domain.TierUnclassified
			logger.CtxWarn(ctx, "category resolution exhausted, storing unclassified: %v", err)
		} else {
			rec.Category = &category
		}
	}

	if err := r.responses.Create(ctx, rec); err != nil {
		state.failed.Store(true)
		state.cancelled.Store(true)
		logger.CtxError(ctx, "failed to persist response, aborting job: %v", err)
		return
	}

	if rec.Category != nil {
		if err := r.categories.IncrementCount(ctx, q.ID, category, target.ModelName); err != nil {
			logger.CtxError(ctx, "failed to increment category count: %v", err)
		}
	}

	state.processed.Add(1)
	state.questionDone(q.ID)
	r.persistProgress(ctx, job.ID, state)
}

// persistProgress checkpoints the counters so a restart does not lose all
// sense of how far the job got. Writes are throttled to every few items.
func (r *Runner) persistProgress(ctx context.Context, jobID uint, state *jobState) {
	done := state.processed.Load() + state.dropped.Load()
	if done%8 != 0 && done != state.total {
		return
	}
	if err := r.jobs.UpdateProgress(ctx, jobID, state.processed.Load(), state.dropped.Load()); err != nil {
		logger.CtxWarn(ctx, "failed to checkpoint progress: %v", err)
	}
}

// ActiveJobID returns the running job for a model, if any.
func (r *Runner) ActiveJobID(modelName string) (uint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byModel[modelName]
	return id, ok
}

// waitSettled is a test hook: it blocks until the job leaves the active set.
func (r *Runner) waitSettled(jobID uint, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		_, ok := r.active[jobID]
		r.mu.Unlock()
		if !ok {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}
