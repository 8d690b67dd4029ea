package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"backtest-api/internal/core"
)

// newTestRouter wires the admission path behind a gin router. The
// scheduler is constructed but not started so jobs stay queued and the
// responses are deterministic.
func newTestRouter(t *testing.T, maxRequests, maxConcurrent, maxQueue int) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	limiter := core.NewRateLimiter(core.RateLimiterConfig{
		MaxRequestsPerWindow: maxRequests,
		Window:               time.Minute,
		MaxConcurrentPerUser: maxConcurrent,
	})
	jitter := core.NewJitterController(core.JitterConfig{Enabled: false})
	store := core.NewJobStore(core.JobStoreConfig{
		MaxQueueSize:     maxQueue,
		JobExpiration:    time.Minute,
		ConcurrencyLimit: 2,
	})
	registry := core.NewProcessorRegistry()
	scheduler := core.NewScheduler(store, registry, core.SchedulerConfig{ConcurrencyLimit: 2})
	service := core.NewService(limiter, jitter, store, scheduler)

	r := gin.New()
	api := r.Group("/api")
	NewJobHandler(service).RegisterRoutes(api)
	return r
}

func doRequest(t *testing.T, r *gin.Engine, method, path, body, remoteAddr string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}

	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = remoteAddr
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	decoded := map[string]interface{}{}
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
		}
	}
	return w, decoded
}

func submitJob(t *testing.T, r *gin.Engine, remoteAddr string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	return doRequest(t, r, http.MethodPost, "/api/jobs", `{"type":"echo","payload":{"n":1}}`, remoteAddr)
}

func jobField(t *testing.T, body map[string]interface{}, key string) interface{} {
	t.Helper()
	job, ok := body["job"].(map[string]interface{})
	if !ok {
		t.Fatalf("response has no job object: %v", body)
	}
	return job[key]
}

func TestSubmitJobAccepted(t *testing.T) {
	r := newTestRouter(t, 10, 5, 10)

	w, body := submitJob(t, r, "1.2.3.4:1000")
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if body["success"] != true {
		t.Error("expected success true")
	}
	if id, _ := jobField(t, body, "id").(string); id == "" {
		t.Error("expected a job id")
	}
	if status := jobField(t, body, "status"); status != "queued" {
		t.Errorf("expected status queued, got %v", status)
	}
	if pos := jobField(t, body, "queue_position"); pos != float64(1) {
		t.Errorf("expected queue position 1, got %v", pos)
	}
	if _, ok := jobField(t, body, "estimated_wait_ms").(float64); !ok {
		t.Error("expected estimated_wait_ms in response")
	}
}

func TestSubmitJobInvalidBody(t *testing.T) {
	r := newTestRouter(t, 10, 5, 10)

	w, body := doRequest(t, r, http.MethodPost, "/api/jobs", `{"payload":{}}`, "1.2.3.4:1000")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without a type, got %d", w.Code)
	}
	if body["error"] != "invalid_request" {
		t.Errorf("expected invalid_request, got %v", body["error"])
	}
}

func TestSubmitJobRateLimited(t *testing.T) {
	r := newTestRouter(t, 2, 10, 10)

	for i := 0; i < 2; i++ {
		if w, _ := submitJob(t, r, "1.2.3.4:1000"); w.Code != http.StatusAccepted {
			t.Fatalf("request %d: expected 202, got %d", i+1, w.Code)
		}
	}

	w, body := submitJob(t, r, "1.2.3.4:1000")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if body["error"] != "rate_limit_exceeded" {
		t.Errorf("expected rate_limit_exceeded, got %v", body["error"])
	}
	retry, ok := body["retry_after_seconds"].(float64)
	if !ok || retry < 1 {
		t.Errorf("expected retry_after_seconds >= 1, got %v", body["retry_after_seconds"])
	}

	// Another caller is unaffected.
	if w, _ := submitJob(t, r, "5.6.7.8:1000"); w.Code != http.StatusAccepted {
		t.Errorf("expected other caller to pass, got %d", w.Code)
	}
}

func TestSubmitJobConcurrencyLimited(t *testing.T) {
	r := newTestRouter(t, 100, 1, 10)

	if w, _ := submitJob(t, r, "1.2.3.4:1000"); w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}

	w, body := submitJob(t, r, "1.2.3.4:1000")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if body["error"] != "concurrency_limit_exceeded" {
		t.Errorf("expected concurrency_limit_exceeded, got %v", body["error"])
	}
	if _, ok := body["retry_after_seconds"].(float64); !ok {
		t.Errorf("expected retry_after_seconds, got %v", body["retry_after_seconds"])
	}
}

func TestSubmitJobQueueFull(t *testing.T) {
	r := newTestRouter(t, 100, 10, 1)

	if w, _ := submitJob(t, r, "1.2.3.4:1000"); w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}

	w, body := submitJob(t, r, "5.6.7.8:1000")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if body["error"] != "queue_full" {
		t.Errorf("expected queue_full, got %v", body["error"])
	}
}

func TestGetJob(t *testing.T) {
	r := newTestRouter(t, 10, 5, 10)

	_, submitted := submitJob(t, r, "1.2.3.4:1000")
	id := jobField(t, submitted, "id").(string)

	w, body := doRequest(t, r, http.MethodGet, "/api/jobs/"+id, "", "1.2.3.4:1000")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body["should_poll"] != true {
		t.Error("expected should_poll true for a queued job")
	}
	if body["poll_interval_ms"] != float64(2000) {
		t.Errorf("expected poll interval 2000 while queued, got %v", body["poll_interval_ms"])
	}
	if status := jobField(t, body, "status"); status != "queued" {
		t.Errorf("expected status queued, got %v", status)
	}
}

func TestGetJobNotFound(t *testing.T) {
	r := newTestRouter(t, 10, 5, 10)

	w, body := doRequest(t, r, http.MethodGet, "/api/jobs/nope", "", "1.2.3.4:1000")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if body["error"] != "not_found" {
		t.Errorf("expected not_found, got %v", body["error"])
	}
}

func TestCancelJob(t *testing.T) {
	r := newTestRouter(t, 10, 5, 10)

	_, submitted := submitJob(t, r, "1.2.3.4:1000")
	id := jobField(t, submitted, "id").(string)

	// Someone else cannot cancel it.
	w, body := doRequest(t, r, http.MethodDelete, "/api/jobs/"+id, "", "5.6.7.8:1000")
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-owner, got %d", w.Code)
	}
	if body["error"] != "forbidden" {
		t.Errorf("expected forbidden, got %v", body["error"])
	}

	// The owner can.
	w, body = doRequest(t, r, http.MethodDelete, "/api/jobs/"+id, "", "1.2.3.4:1000")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for owner, got %d: %s", w.Code, w.Body.String())
	}
	if status := jobField(t, body, "status"); status != "cancelled" {
		t.Errorf("expected status cancelled, got %v", status)
	}

	// A cancelled job cannot be cancelled again.
	w, body = doRequest(t, r, http.MethodDelete, "/api/jobs/"+id, "", "1.2.3.4:1000")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for terminal job, got %d", w.Code)
	}
	if body["error"] != "conflict" {
		t.Errorf("expected conflict, got %v", body["error"])
	}

	// Terminal jobs report no further polling.
	w, body = doRequest(t, r, http.MethodGet, "/api/jobs/"+id, "", "1.2.3.4:1000")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body["should_poll"] != false {
		t.Error("expected should_poll false for a cancelled job")
	}
	if body["poll_interval_ms"] != float64(0) {
		t.Errorf("expected poll interval 0, got %v", body["poll_interval_ms"])
	}
}

func TestCancelJobNotFound(t *testing.T) {
	r := newTestRouter(t, 10, 5, 10)

	w, _ := doRequest(t, r, http.MethodDelete, "/api/jobs/nope", "", "1.2.3.4:1000")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
