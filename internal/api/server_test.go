package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/paperlens/paperlens/internal/assessment"
	"github.com/paperlens/paperlens/internal/clock/system"
	"github.com/paperlens/paperlens/internal/config"
	"github.com/paperlens/paperlens/internal/dispatcher"
	"github.com/paperlens/paperlens/internal/feed"
	"github.com/paperlens/paperlens/internal/metrics"
	"github.com/paperlens/paperlens/internal/paper"
	"github.com/paperlens/paperlens/internal/registry"
	"github.com/paperlens/paperlens/internal/storage/memory"
)

const feedBaseURL = "https://hf.test/papers/date"

const feedFixture = `<html><body><main>
<article>
  <div class="leading-none">17</div>
  <h3><a href="/papers/2508.01234">One Daily Paper</a></h3>
  <div>Submitted by alice · 4 authors</div>
</article>
</main></body></html>`

type fakeFetcher struct {
	mu    sync.Mutex
	err   error
	pages map[string]feed.Page
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) (feed.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return feed.Page{}, f.err
	}
	page, ok := f.pages[rawURL]
	if !ok {
		return feed.Page{}, fmt.Errorf("no page for %s", rawURL)
	}
	return page, nil
}

type fakeEvaluator struct {
	mu      sync.Mutex
	result  *assessment.Result
	err     error
	release chan struct{}
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, _ paper.Record) (*assessment.Result, error) {
	f.mu.Lock()
	release := f.release
	result, err := f.result, f.err
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return result, err
}

func validResult() *assessment.Result {
	dims := make(map[string]assessment.Dimension, len(assessment.Keys))
	for _, key := range assessment.Keys {
		dims[key] = assessment.Dimension{Analysis: "analysis"}
	}
	return &assessment.Result{
		ExecutiveSummary: "ok",
		Dimensions:       dims,
		Scorecard: assessment.Scorecard{
			TaskFormalization:        3,
			DataResourceAvailability: 3,
			InputOutputComplexity:    3,
			RealWorldInteraction:     3,
			ExistingAICoverage:       3,
			HumanOriginality:         3,
			SafetyEthics:             3,
			TechnicalMaturityNeeded:  3,
			ThreeYearFeasibilityPct:  75,
			OverallAutomatability:    3,
		},
	}
}

type env struct {
	store   *memory.Store
	eval    *fakeEvaluator
	fetcher *fakeFetcher
	handler http.Handler
}

func newEnv(t *testing.T, cfg config.Config) *env {
	t.Helper()
	metrics.Init()

	store := memory.New()
	fetcher := &fakeFetcher{pages: map[string]feed.Page{
		feedBaseURL + "/2026-08-21": {
			FinalURL:   feedBaseURL + "/2026-08-21",
			StatusCode: 200,
			Body:       []byte(feedFixture),
		},
	}}
	gateway := feed.NewGateway(feed.Config{
		BaseURL:         feedBaseURL,
		CacheTTL:        24 * time.Hour,
		MaxFallbackDays: 3,
	}, fetcher, store, system.New(), zap.NewNop())

	eval := &fakeEvaluator{result: validResult()}
	disp := dispatcher.New(store, eval, registry.New(), system.New(), zap.NewNop(), 5*time.Second)

	server := NewServer(store, gateway, disp, zap.NewNop(), cfg)
	return &env{
		store:   store,
		eval:    eval,
		fetcher: fetcher,
		handler: server.Handler(),
	}
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (e *env) insert(t *testing.T, id string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/papers/insert", map[string]string{
		"arxiv_id": id,
		"title":    "title " + id,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
}

func (e *env) waitStatus(t *testing.T, id, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		rec := e.do(t, http.MethodGet, "/api/papers/evaluate/"+id+"/status", nil)
		if rec.Code != http.StatusOK {
			return false
		}
		return decode(t, rec)["status"] == want
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHealth(t *testing.T) {
	t.Parallel()
	e := newEnv(t, config.Config{})

	rec := e.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", decode(t, rec)["status"])
}

func TestDailyServesCards(t *testing.T) {
	t.Parallel()
	e := newEnv(t, config.Config{})

	rec := e.do(t, http.MethodGet, "/api/daily?date=2026-08-21", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	require.Equal(t, "2026-08-21", body["date"])
	require.Equal(t, false, body["fallback_used"])
	cards, ok := body["cards"].([]any)
	require.True(t, ok)
	require.Len(t, cards, 1)
}

func TestDailyValidation(t *testing.T) {
	t.Parallel()
	e := newEnv(t, config.Config{})

	rec := e.do(t, http.MethodGet, "/api/daily?date=2026-08-21&direction=sideways", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/daily?date=not-a-date", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDailyUpstreamDown(t *testing.T) {
	t.Parallel()
	e := newEnv(t, config.Config{})
	e.fetcher.mu.Lock()
	e.fetcher.err = fmt.Errorf("upstream down")
	e.fetcher.mu.Unlock()

	rec := e.do(t, http.MethodGet, "/api/daily?date=2026-08-21", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestInsertValidation(t *testing.T) {
	t.Parallel()
	e := newEnv(t, config.Config{})

	rec := e.do(t, http.MethodPost, "/api/papers/insert", map[string]string{"arxiv_id": "2508.1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaperNotFound(t *testing.T) {
	t.Parallel()
	e := newEnv(t, config.Config{})

	require.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/paper/0000.0", nil).Code)
	require.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/eval/0000.0", nil).Code)
	require.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/has-eval/0000.0", nil).Code)
	require.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/paper-score/0000.0", nil).Code)
	require.Equal(t, http.StatusNotFound, e.do(t, http.MethodPost, "/api/papers/evaluate/0000.0", nil).Code)
	require.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/papers/evaluate/0000.0/status", nil).Code)
}

func TestEvaluationLifecycle(t *testing.T) {
	t.Parallel()
	e := newEnv(t, config.Config{})
	e.insert(t, "2508.01234")

	// the evaluation is dispatched asynchronously
	rec := e.do(t, http.MethodPost, "/api/papers/evaluate/2508.01234", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, "started", decode(t, rec)["status"])

	e.waitStatus(t, "2508.01234", "completed")

	rec = e.do(t, http.MethodGet, "/api/eval/2508.01234", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.InDelta(t, 3.0, body["overall_score"].(float64), 1e-9)
	evaluation, ok := body["evaluation"].(map[string]any)
	require.True(t, ok)
	dims, ok := evaluation["dimensions"].(map[string]any)
	require.True(t, ok)
	require.Len(t, dims, 12)

	rec = e.do(t, http.MethodGet, "/api/paper-score/2508.01234", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, decode(t, rec)["has_score"])

	rec = e.do(t, http.MethodGet, "/api/evals", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 1, decode(t, rec)["count"])

	// a second initial dispatch conflicts with the stored result
	rec = e.do(t, http.MethodPost, "/api/papers/evaluate/2508.01234", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "already_evaluated", decode(t, rec)["status"])

	// re-evaluation is allowed
	rec = e.do(t, http.MethodPost, "/api/papers/reevaluate/2508.01234", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	e.waitStatus(t, "2508.01234", "completed")
}

func TestEvalBeforeCompletionIs404(t *testing.T) {
	t.Parallel()
	e := newEnv(t, config.Config{})
	e.insert(t, "2508.09999")

	rec := e.do(t, http.MethodGet, "/api/eval/2508.09999", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/paper-score/2508.09999", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, decode(t, rec)["has_score"])
}

func TestSecondDispatchConflictsWhileRunning(t *testing.T) {
	t.Parallel()
	e := newEnv(t, config.Config{})
	release := make(chan struct{})
	e.eval.mu.Lock()
	e.eval.release = release
	e.eval.mu.Unlock()
	e.insert(t, "2508.02222")

	rec := e.do(t, http.MethodPost, "/api/papers/evaluate/2508.02222", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/papers/evaluate/2508.02222", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "already_running", decode(t, rec)["status"])

	rec = e.do(t, http.MethodGet, "/api/papers/evaluate/active-tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 1, decode(t, rec)["count"])

	close(release)
	e.waitStatus(t, "2508.02222", "completed")

	rec = e.do(t, http.MethodGet, "/api/papers/evaluate/active-tasks", nil)
	require.EqualValues(t, 0, decode(t, rec)["count"])
}

func TestStatusFallsBackToDurableRecord(t *testing.T) {
	t.Parallel()
	e := newEnv(t, config.Config{})
	e.insert(t, "2508.03333")

	// simulate a result produced by a previous process: the registry has
	// never seen the id
	require.NoError(t, e.store.SaveEvaluation(context.Background(),
		"2508.03333", validResult(), 3.0, time.Now().UTC()))

	rec := e.do(t, http.MethodGet, "/api/papers/evaluate/2508.03333/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "completed", decode(t, rec)["status"])
}

func TestFailedEvaluationReportsFailed(t *testing.T) {
	t.Parallel()
	e := newEnv(t, config.Config{})
	e.eval.mu.Lock()
	e.eval.result = nil
	e.eval.err = fmt.Errorf("model exploded")
	e.eval.mu.Unlock()
	e.insert(t, "2508.04444")

	rec := e.do(t, http.MethodPost, "/api/papers/evaluate/2508.04444", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	e.waitStatus(t, "2508.04444", "failed")

	rec = e.do(t, http.MethodGet, "/api/paper/2508.04444", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "failed", decode(t, rec)["evaluation_status"])
}

func TestPapersStatus(t *testing.T) {
	t.Parallel()
	e := newEnv(t, config.Config{})
	e.insert(t, "2508.05555")

	rec := e.do(t, http.MethodGet, "/api/papers/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.EqualValues(t, 1, body["total_papers"])
	require.EqualValues(t, 0, body["active_evaluations"])
}

func TestCacheEndpoints(t *testing.T) {
	t.Parallel()
	e := newEnv(t, config.Config{})

	rec := e.do(t, http.MethodPost, "/api/cache/refresh/not-a-date", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/cache/refresh/2026-08-21", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/available-dates", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 1, decode(t, rec)["count"])

	rec = e.do(t, http.MethodGet, "/api/cache/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.EqualValues(t, 1, body["count"])
	days, ok := body["cached_days"].([]any)
	require.True(t, ok)
	require.Contains(t, days, "2026-08-21")

	rec = e.do(t, http.MethodPost, "/api/cache/clear", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/available-dates", nil)
	require.EqualValues(t, 0, decode(t, rec)["count"])

	rec = e.do(t, http.MethodGet, "/api/cache/status", nil)
	require.EqualValues(t, 0, decode(t, rec)["count"])
}

func TestHasEvalFlipsAfterEvaluation(t *testing.T) {
	t.Parallel()
	e := newEnv(t, config.Config{})
	e.insert(t, "2508.01234")

	rec := e.do(t, http.MethodGet, "/api/has-eval/2508.01234", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, decode(t, rec)["has_eval"])

	require.Equal(t, http.StatusAccepted,
		e.do(t, http.MethodPost, "/api/papers/evaluate/2508.01234", nil).Code)
	e.waitStatus(t, "2508.01234", "completed")

	rec = e.do(t, http.MethodGet, "/api/has-eval/2508.01234", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Equal(t, "2508.01234", body["arxiv_id"])
	require.Equal(t, true, body["has_eval"])
}

func TestAPIKeyAuth(t *testing.T) {
	t.Parallel()
	cfg := config.Config{}
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "sekret"
	e := newEnv(t, cfg)

	// health stays open for probes
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/health", nil).Code)

	rec := e.do(t, http.MethodGet, "/api/daily?date=2026-08-21", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/daily?date=2026-08-21", nil)
	req.Header.Set("X-API-Key", "sekret")
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()
	e := newEnv(t, config.Config{})

	rec := e.do(t, http.MethodGet, "/api/health", nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
