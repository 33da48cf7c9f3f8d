package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kwong/prefscope/internal/api/middleware"
	"github.com/kwong/prefscope/internal/config"
	"github.com/kwong/prefscope/internal/domain"
	"github.com/kwong/prefscope/internal/gateway"
	"github.com/kwong/prefscope/internal/logger"
	"github.com/kwong/prefscope/internal/repository"
	"github.com/kwong/prefscope/internal/service"
)

// testDBSeq keeps shared-cache DSNs unique across repeated runs of the same
// test in one process.
var testDBSeq atomic.Int64

// scriptedGateway stands in for the classification service: every check says
// no and every preference resolves to Blue.
type scriptedGateway struct{}

func (scriptedGateway) Complete(_ context.Context, _ gateway.Request) (string, error) {
	return "no", nil
}

func (scriptedGateway) CompleteStructured(_ context.Context, _ gateway.Request, _ gateway.Schema) (json.RawMessage, error) {
	return json.RawMessage(`{"isNew": true, "standardizedPreference": "Blue"}`), nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
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

	jobs := repository.NewJobRepository(db)
	responses := repository.NewResponseRepository(db)
	categories := repository.NewCategoryRepository(db)

	classifier := service.NewClassifier(scriptedGateway{}, "o3-mini", "gpt-4o")
	resolver := service.NewResolver(scriptedGateway{}, "gpt-4o")
	runner := service.NewRunner(
		config.JobConfig{ResponsesPerQuestion: 2, MaxConcurrent: 2, RetryCount: 1, TargetTimeout: time.Minute},
		jobs, responses, categories, classifier, resolver, logger.New(nil),
	)
	results := service.NewResultsService(jobs, responses, categories)

	router := SetupRouter(runner, results, logger.New(nil), "test", middleware.CORSConfig{AllowAllOrigins: true})
	return router, db
}

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doRequest(router, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
}

func TestListQuestions(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doRequest(router, http.MethodGet, "/api/v1/questions", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var body struct {
		Count     int               `json:"count"`
		Questions []domain.Question `json:"questions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if body.Count != 15 || len(body.Questions) != 15 {
		t.Errorf("count = %d, want 15", body.Count)
	}
	if body.Questions[0].ID != "question_1" {
		t.Errorf("first question = %q", body.Questions[0].ID)
	}
}

func TestSubmitJob_Validation(t *testing.T) {
	router, _ := newTestRouter(t)

	tests := []struct {
		name string
		body string
	}{
		{"empty body", `{}`},
		{"missing api key", `{"model_name":"m","model_id":"m-1"}`},
		{"missing model id", `{"model_name":"m","api_key":"k"}`},
		{"malformed json", `{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(router, http.MethodPost, "/api/v1/jobs", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestGetProgress_UnknownJob(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doRequest(router, http.MethodGet, "/api/v1/jobs/99/progress", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}

	w = doRequest(router, http.MethodGet, "/api/v1/jobs/abc/progress", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestGetProgress_TerminalJobFromStore(t *testing.T) {
	router, db := newTestRouter(t)

	job := &domain.TestingJob{
		ModelName:           "m",
		APIType:             "openai",
		ModelID:             "m-1",
		Status:              domain.JobStatusCompleted,
		RequiredPerQuestion: 4,
		ProcessedCount:      58,
		DroppedCount:        2,
	}
	if err := db.Create(job).Error; err != nil {
		t.Fatalf("seed job: %v", err)
	}

	w := doRequest(router, http.MethodGet, fmt.Sprintf("/api/v1/jobs/%d/progress", job.ID), "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var progress service.Progress
	if err := json.Unmarshal(w.Body.Bytes(), &progress); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if progress.Status != domain.JobStatusCompleted {
		t.Errorf("status = %s, want completed", progress.Status)
	}
	if progress.Processed != 58 || progress.Dropped != 2 {
		t.Errorf("progress = %+v", progress)
	}
	if progress.Total != 60 {
		t.Errorf("total = %d, want 60", progress.Total)
	}
	if progress.Percent != 100 {
		t.Errorf("percent = %f, want 100", progress.Percent)
	}
}

func TestCancelJob_ReportsSuccess(t *testing.T) {
	router, _ := newTestRouter(t)

	// The target model blocks until the test ends, keeping the job active.
	block := make(chan struct{})
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-block
		fmt.Fprint(w, `{"choices":[{"message":{"content":"Blue"}}]}`)
	}))
	t.Cleanup(func() {
		close(block)
		target.Close()
	})

	w := doRequest(router, http.MethodPost, "/api/v1/jobs",
		fmt.Sprintf(`{"model_name":"cancel-me","api_key":"k","model_id":"m-1","api_url":%q}`, target.URL))
	if w.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d, want 202: %s", w.Code, w.Body.String())
	}
	var submitted struct {
		JobID uint `json:"job_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &submitted); err != nil {
		t.Fatalf("invalid submit body: %v", err)
	}

	w = doRequest(router, http.MethodPost, fmt.Sprintf("/api/v1/jobs/%d/cancel", submitted.JobID), "")
	if w.Code != http.StatusOK {
		t.Fatalf("cancel status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var body struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid cancel body: %v", err)
	}
	if !body.Success || body.Message == "" {
		t.Errorf("cancel body = %+v, want success with message", body)
	}
}

func TestCancelJob_NotActive(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doRequest(router, http.MethodPost, "/api/v1/jobs/7/cancel", "")
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestResultsEndpoints(t *testing.T) {
	router, db := newTestRouter(t)

	job := &domain.TestingJob{ModelName: "m", APIType: "openai", ModelID: "m-1", Status: domain.JobStatusCompleted}
	if err := db.Create(job).Error; err != nil {
		t.Fatalf("seed job: %v", err)
	}
	blue := "Blue"
	recs := []domain.ResponseRecord{
		{JobID: job.ID, QuestionID: "question_1", RawText: "Blue", Tier: domain.TierDirect, Category: &blue, ExtractedPreference: &blue},
		{JobID: job.ID, QuestionID: "question_1", RawText: "blue I guess", Tier: domain.TierHedged, Category: &blue, ExtractedPreference: &blue},
		{JobID: job.ID, QuestionID: "question_1", RawText: "I cannot choose", Tier: domain.TierHardRefusal},
	}
	for i := range recs {
		if err := db.Create(&recs[i]).Error; err != nil {
			t.Fatalf("seed response: %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		if err := db.Exec(
			"INSERT INTO category_counts (question_id, category, model_name, count) VALUES (?, ?, ?, 1) ON CONFLICT (question_id, category, model_name) DO UPDATE SET count = count + 1",
			"question_1", "Blue", "m",
		).Error; err != nil {
			t.Fatalf("seed count: %v", err)
		}
	}

	t.Run("results", func(t *testing.T) {
		w := doRequest(router, http.MethodGet, "/api/v1/results/m", "")
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", w.Code, w.Body.String())
		}
		var body struct {
			Questions []service.QuestionDistribution `json:"questions"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid response body: %v", err)
		}
		if len(body.Questions) != 15 {
			t.Fatalf("questions = %d, want 15", len(body.Questions))
		}
		if body.Questions[0].Total != 2 {
			t.Errorf("question_1 total = %d, want 2", body.Questions[0].Total)
		}
	})

	t.Run("results for unknown model", func(t *testing.T) {
		w := doRequest(router, http.MethodGet, "/api/v1/results/ghost", "")
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", w.Code)
		}
	})

	t.Run("mode collapse", func(t *testing.T) {
		w := doRequest(router, http.MethodGet, "/api/v1/results/m/mode_collapse", "")
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", w.Code, w.Body.String())
		}
		var report service.ModeCollapseReport
		if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
			t.Fatalf("invalid response body: %v", err)
		}
		if report.Overall != 1 {
			t.Errorf("overall = %f, want 1 (all answers one category)", report.Overall)
		}
	})

	t.Run("list models", func(t *testing.T) {
		w := doRequest(router, http.MethodGet, "/api/v1/models", "")
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		if !strings.Contains(w.Body.String(), `"m"`) {
			t.Errorf("model missing from body: %s", w.Body.String())
		}
	})

	t.Run("list responses requires question_id", func(t *testing.T) {
		w := doRequest(router, http.MethodGet, "/api/v1/models/m/responses", "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}

		w = doRequest(router, http.MethodGet, "/api/v1/models/m/responses?question_id=question_1", "")
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		var body struct {
			Count int `json:"count"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid response body: %v", err)
		}
		if body.Count != 3 {
			t.Errorf("count = %d, want 3", body.Count)
		}
	})

	t.Run("flag response", func(t *testing.T) {
		w := doRequest(router, http.MethodPost,
			fmt.Sprintf("/api/v1/responses/%d/flag", recs[0].ID),
			`{"corrected_category":"Navy Blue"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", w.Code, w.Body.String())
		}

		var rec domain.ResponseRecord
		if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
			t.Fatalf("invalid response body: %v", err)
		}
		if !rec.IsFlagged || rec.CorrectedCategory == nil || *rec.CorrectedCategory != "Navy Blue" {
			t.Errorf("record = %+v", rec)
		}

		w = doRequest(router, http.MethodGet, "/api/v1/models/m/flagged", "")
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		if !strings.Contains(w.Body.String(), "Navy Blue") {
			t.Errorf("flagged listing missing correction: %s", w.Body.String())
		}
	})

	t.Run("flag validation", func(t *testing.T) {
		w := doRequest(router, http.MethodPost, "/api/v1/responses/999/flag", `{"corrected_category":"X"}`)
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", w.Code)
		}

		w = doRequest(router, http.MethodPost, fmt.Sprintf("/api/v1/responses/%d/flag", recs[0].ID), `{}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("delete model", func(t *testing.T) {
		w := doRequest(router, http.MethodDelete, "/api/v1/models/m", "")
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", w.Code, w.Body.String())
		}

		w = doRequest(router, http.MethodGet, "/api/v1/results/m", "")
		if w.Code != http.StatusNotFound {
			t.Errorf("status after delete = %d, want 404", w.Code)
		}
	})
}
