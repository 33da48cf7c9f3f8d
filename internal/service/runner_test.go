package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kwong/prefscope/internal/config"
	"github.com/kwong/prefscope/internal/domain"
	"github.com/kwong/prefscope/internal/gateway"
	"github.com/kwong/prefscope/internal/logger"
	"github.com/kwong/prefscope/internal/repository"
)

// stubTarget fakes the model under test.
type stubTarget struct {
	mu     sync.Mutex
	answer string
	err    error
	block  chan struct{}
	calls  int
}

func (s *stubTarget) Complete(ctx context.Context, _ gateway.Request) (string, error) {
	s.mu.Lock()
	block := s.block
	s.calls++
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	return s.answer, nil
}

func (s *stubTarget) CompleteStructured(context.Context, gateway.Request, gateway.Schema) (json.RawMessage, error) {
	return nil, errors.New("not used")
}

// testDBSeq keeps shared-cache DSNs unique across repeated runs of the same
// test in one process.
var testDBSeq atomic.Int64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared",
		strings.ReplaceAll(t.Name(), "/", "_"), testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.AutoMigrate(&domain.TestingJob{}, &domain.ResponseRecord{}, &domain.CategoryCount{}); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	return db
}

type runnerFixture struct {
	runner     *Runner
	target     *stubTarget
	classifier *fakeClient
	jobs       *repository.JobRepository
	responses  *repository.ResponseRepository
	categories *repository.CategoryRepository
}

func newRunnerFixture(t *testing.T) *runnerFixture {
	t.Helper()
	db := newTestDB(t)

	jobs := repository.NewJobRepository(db)
	responses := repository.NewResponseRepository(db)
	categories := repository.NewCategoryRepository(db)

	classifierFake := newFakeClient()
	classifierFake.answers[hardPrompt] = "no"
	classifierFake.answers[softPrompt] = "no"
	classifierFake.answers[hedgedPrompt] = "no"
	classifierFake.answers[extractPrompt] = "Blue"

	classifier := NewClassifier(classifierFake, "o3-mini", "gpt-4o")
	resolver := NewResolver(classifierFake, "gpt-4o")

	cfg := config.JobConfig{
		ResponsesPerQuestion: 2,
		MaxConcurrent:        4,
		RetryCount:           1,
		TargetTimeout:        time.Second,
	}

	target := &stubTarget{answer: "Blue"}
	runner := NewRunner(cfg, jobs, responses, categories, classifier, resolver, logger.New(nil))
	runner.newTargetClient = func(domain.TargetModel) gateway.Client { return target }

	return &runnerFixture{
		runner:     runner,
		target:     target,
		classifier: classifierFake,
		jobs:       jobs,
		responses:  responses,
		categories: categories,
	}
}

func testTarget(name string) domain.TargetModel {
	return domain.TargetModel{
		ModelName: name,
		APIKey:    "test-key",
		APIType:   "openai",
		ModelID:   "test-model-id",
	}
}

func TestRunner_FullRunAccounting(t *testing.T) {
	f := newRunnerFixture(t)
	ctx := context.Background()

	job, err := f.runner.Start(ctx, testTarget("acct-model"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.runner.waitSettled(job.ID, 5*time.Second) {
		t.Fatal("job did not settle")
	}

	total := int64(len(domain.Questions) * 2)

	final, err := f.jobs.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if final.Status != domain.JobStatusCompleted {
		t.Errorf("status = %s, want completed", final.Status)
	}
	if int64(final.ProcessedCount) != total {
		t.Errorf("processed = %d, want %d", final.ProcessedCount, total)
	}
	if final.DroppedCount != 0 {
		t.Errorf("dropped = %d, want 0", final.DroppedCount)
	}
	if final.CompletedAt == nil || final.StartedAt == nil {
		t.Error("timestamps not set")
	}

	// Every sample landed as a record and every record was counted.
	counts, err := f.responses.CountByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counts[domain.TierDirect] != total {
		t.Errorf("direct records = %d, want %d", counts[domain.TierDirect], total)
	}

	for _, q := range domain.Questions {
		rows, err := f.categories.ListByQuestion(ctx, q.ID, "acct-model")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(rows) != 1 || rows[0].Category != "Blue" || rows[0].Count != 2 {
			t.Errorf("%s counts = %+v, want one Blue row with count 2", q.ID, rows)
		}
	}

	progress, err := f.runner.GetProgress(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if progress.Percent != 100 {
		t.Errorf("percent = %f, want 100", progress.Percent)
	}
	if len(progress.Questions) != len(domain.Questions) {
		t.Fatalf("question breakdown has %d entries, want %d", len(progress.Questions), len(domain.Questions))
	}
	for id, qp := range progress.Questions {
		if qp.Completed != 2 || qp.Required != 2 || qp.Percentage != 100 {
			t.Errorf("%s progress = %+v, want 2/2 at 100%%", id, qp)
		}
	}
}

func TestRunner_SampleFailuresAreDroppedNotFatal(t *testing.T) {
	f := newRunnerFixture(t)
	f.target.err = gateway.Permanent(errors.New("model gone"))
	ctx := context.Background()

	job, err := f.runner.Start(ctx, testTarget("drop-model"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.runner.waitSettled(job.ID, 5*time.Second) {
		t.Fatal("job did not settle")
	}

	total := len(domain.Questions) * 2

	final, err := f.jobs.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if final.Status != domain.JobStatusCompleted {
		t.Errorf("status = %s, want completed", final.Status)
	}
	if final.DroppedCount != total {
		t.Errorf("dropped = %d, want %d", final.DroppedCount, total)
	}
	if final.ProcessedCount != 0 {
		t.Errorf("processed = %d, want 0", final.ProcessedCount)
	}

	counts, err := f.responses.CountByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(counts) != 0 {
		t.Errorf("expected no records, got %+v", counts)
	}
}

func TestRunner_ClassificationFailureStoresUnclassified(t *testing.T) {
	f := newRunnerFixture(t)
	f.classifier.errs[hardPrompt] = gateway.Permanent(errors.New("classifier down"))
	ctx := context.Background()

	job, err := f.runner.Start(ctx, testTarget("unclassified-model"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.runner.waitSettled(job.ID, 5*time.Second) {
		t.Fatal("job did not settle")
	}

	total := int64(len(domain.Questions) * 2)

	counts, err := f.responses.CountByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counts[domain.TierUnclassified] != total {
		t.Errorf("unclassified records = %d, want %d", counts[domain.TierUnclassified], total)
	}

	// Unclassified answers never reach the aggregates.
	rows, err := f.categories.ListByModel(ctx, "unclassified-model")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no category rows, got %+v", rows)
	}

	final, _ := f.jobs.Get(ctx, job.ID)
	if int64(final.ProcessedCount) != total {
		t.Errorf("processed = %d, want %d", final.ProcessedCount, total)
	}
}

func TestRunner_ResolutionFailureStoresUnclassified(t *testing.T) {
	f := newRunnerFixture(t)
	f.classifier.errs[matchPrompt] = gateway.Permanent(errors.New("matcher down"))
	ctx := context.Background()

	job, err := f.runner.Start(ctx, testTarget("resolve-fail-model"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.runner.waitSettled(job.ID, 5*time.Second) {
		t.Fatal("job did not settle")
	}

	// The first sample per question mints its label without a matching call;
	// the second needs one, fails, and lands in unclassified.
	counts, err := f.responses.CountByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counts[domain.TierDirect] != int64(len(domain.Questions)) {
		t.Errorf("direct records = %d, want %d", counts[domain.TierDirect], len(domain.Questions))
	}
	if counts[domain.TierUnclassified] != int64(len(domain.Questions)) {
		t.Errorf("unclassified records = %d, want %d", counts[domain.TierUnclassified], len(domain.Questions))
	}

	// Category counts stay in step with the countable records.
	for _, q := range domain.Questions {
		rows, err := f.categories.ListByQuestion(ctx, q.ID, "resolve-fail-model")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var sum int
		for _, row := range rows {
			sum += row.Count
		}
		if sum != 1 {
			t.Errorf("%s count sum = %d, want 1", q.ID, sum)
		}
	}

	final, err := f.jobs.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if final.Status != domain.JobStatusCompleted {
		t.Errorf("status = %s, want completed", final.Status)
	}
	if final.ProcessedCount != len(domain.Questions)*2 {
		t.Errorf("processed = %d, want %d", final.ProcessedCount, len(domain.Questions)*2)
	}
}

func TestRunner_MarkRunningFailureSettlesFailed(t *testing.T) {
	f := newRunnerFixture(t)
	ctx := context.Background()

	// A job forced out of pending before the pipeline picks it up cannot be
	// marked running; the run must settle it as failed rather than leave it
	// stuck.
	job := &domain.TestingJob{
		ModelName:           "stuck-model",
		APIType:             "openai",
		ModelID:             "m-1",
		Status:              domain.JobStatusCancelled,
		RequiredPerQuestion: 2,
	}
	if err := f.jobs.Create(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	state := &jobState{total: 4, perQuestion: make(map[string]int64)}
	f.runner.run(job, testTarget("stuck-model"), state)

	if f.target.calls != 0 {
		t.Errorf("target called %d times, want 0", f.target.calls)
	}

	final, err := f.jobs.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if final.Status != domain.JobStatusFailed {
		t.Errorf("status = %s, want failed", final.Status)
	}
	if final.CompletedAt == nil {
		t.Error("completed_at not set")
	}
}

func TestRunner_SingleFlight(t *testing.T) {
	f := newRunnerFixture(t)
	f.target.block = make(chan struct{})
	ctx := context.Background()

	job, err := f.runner.Start(ctx, testTarget("busy-model"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := f.runner.Start(ctx, testTarget("busy-model")); !errors.Is(err, ErrJobAlreadyRunning) {
		t.Errorf("same-model start error = %v, want ErrJobAlreadyRunning", err)
	}
	// The guard is process-wide, not per model.
	if _, err := f.runner.Start(ctx, testTarget("other-model")); !errors.Is(err, ErrJobAlreadyRunning) {
		t.Errorf("other-model start error = %v, want ErrJobAlreadyRunning", err)
	}

	close(f.target.block)
	if !f.runner.waitSettled(job.ID, 5*time.Second) {
		t.Fatal("job did not settle")
	}

	if _, err := f.runner.Start(ctx, testTarget("busy-model")); err != nil {
		t.Errorf("restart after settle failed: %v", err)
	}
}

func TestRunner_ResubmitClearsPriorData(t *testing.T) {
	f := newRunnerFixture(t)
	ctx := context.Background()

	first, err := f.runner.Start(ctx, testTarget("renew-model"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.runner.waitSettled(first.ID, 5*time.Second) {
		t.Fatal("first job did not settle")
	}

	second, err := f.runner.Start(ctx, testTarget("renew-model"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.runner.waitSettled(second.ID, 5*time.Second) {
		t.Fatal("second job did not settle")
	}

	if _, err := f.jobs.Get(ctx, first.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("first job lookup error = %v, want ErrNotFound", err)
	}

	// Aggregates reflect the rerun alone, not both runs stacked.
	for _, q := range domain.Questions {
		rows, err := f.categories.ListByQuestion(ctx, q.ID, "renew-model")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(rows) != 1 || rows[0].Count != 2 {
			t.Errorf("%s counts = %+v, want one row with count 2", q.ID, rows)
		}
	}
}

func TestRunner_CancelFreezesProgress(t *testing.T) {
	f := newRunnerFixture(t)
	f.target.block = make(chan struct{})
	ctx := context.Background()

	job, err := f.runner.Start(ctx, testTarget("cancel-model"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Wait until the pipeline has items in flight.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.target.mu.Lock()
		calls := f.target.calls
		f.target.mu.Unlock()
		if calls > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := f.runner.Cancel(job.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	close(f.target.block)

	if !f.runner.waitSettled(job.ID, 5*time.Second) {
		t.Fatal("job did not settle")
	}

	final, err := f.jobs.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if final.Status != domain.JobStatusCancelled {
		t.Errorf("status = %s, want cancelled", final.Status)
	}

	total := len(domain.Questions) * 2
	if final.ProcessedCount+final.DroppedCount >= total {
		t.Errorf("cancelled job finished all %d items", total)
	}

	if err := f.runner.Cancel(job.ID); !errors.Is(err, ErrJobNotActive) {
		t.Errorf("cancel after settle error = %v, want ErrJobNotActive", err)
	}
}

func TestRunner_StartValidatesTarget(t *testing.T) {
	f := newRunnerFixture(t)

	_, err := f.runner.Start(context.Background(), domain.TargetModel{ModelName: "x"})
	if err == nil {
		t.Fatal("expected error for missing api key and model id")
	}
}
