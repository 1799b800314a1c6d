package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dunamismax/pixelpass/internal/domain"
	"github.com/dunamismax/pixelpass/internal/queue"
	"github.com/dunamismax/pixelpass/internal/ratelimit"
	"github.com/dunamismax/pixelpass/internal/store"
)

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := do(t, srv, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestJobLifecycle(t *testing.T) {
	input := filepath.Join(t.TempDir(), "in.png")
	if err := os.WriteFile(input, testPNG(t, 40, 20), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	enq := &fakeQueue{}
	srv := NewServer(Options{Queue: enq, JobStore: store.NewMemoryJobStore()})

	body := `{"source_type":"local_file","object_key":"` + input + `","steps":[{"id":"thumb","fit":{"mode":"cover","width":20,"height":20},"filters":[{"kind":"sepia"}]}]}`
	rec := do(t, srv, http.MethodPost, "/v1/jobs", strings.NewReader(body), map[string]string{DefaultUserIDHeader: "user-1"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		JobID    string `json:"job_id"`
		StartURL string `json:"start_url"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}

	rec = do(t, srv, http.MethodGet, "/v1/jobs/"+created.JobID, nil, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"created"`) {
		t.Fatalf("unexpected get response %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, srv, http.MethodPost, created.StartURL, nil, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 on start, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(enq.payloads) != 1 || enq.payloads[0].UserID != "user-1" || len(enq.payloads[0].Steps) != 1 {
		t.Fatalf("unexpected enqueued payloads %+v", enq.payloads)
	}

	rec = do(t, srv, http.MethodPost, created.StartURL, nil, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on second start, got %d", rec.Code)
	}
}

func TestCreateJobRejectsTwoResizes(t *testing.T) {
	srv := newTestServer(t, nil)
	body := `{"source_type":"remote_url","source_url":"https://example.com/a.png","steps":[{"id":"a","fit":{"mode":"cover","width":10},"scale":{"factor":2}}]}`
	rec := do(t, srv, http.MethodPost, "/v1/jobs", strings.NewReader(body), nil)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "only one of") {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetJobValidatesID(t *testing.T) {
	srv := newTestServer(t, nil)
	if rec := do(t, srv, http.MethodGet, "/v1/jobs/not-an-id", nil, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if rec := do(t, srv, http.MethodGet, "/v1/jobs/0190b7e4-8a6c-7c3e-9d4a-2f1e0c9b8a71", nil, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRenderEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := do(t, srv, http.MethodPost, "/v1/render?fit=cover&w=30&h=20&filter=grayscale&filter=brightness:10&format=png",
		bytes.NewReader(testPNG(t, 90, 90)), map[string]string{"Content-Type": "image/png"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}
	if rec.Header().Get(HeaderImageWidth) != "30" || rec.Header().Get(HeaderImageHeight) != "20" {
		t.Fatalf("unexpected size headers %s x %s", rec.Header().Get(HeaderImageWidth), rec.Header().Get(HeaderImageHeight))
	}
	if rec.Header().Get(HeaderRenderElapsed) == "" {
		t.Fatal("expected elapsed header")
	}
	img, err := png.Decode(rec.Body)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 30 || b.Dy() != 20 {
		t.Fatalf("expected 30x20 image, got %v", b)
	}
}

func TestRenderEndpointAttachmentAndDataURI(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := do(t, srv, http.MethodPost, "/v1/render?scale=0.5&name=card.jpg&format=png", bytes.NewReader(testPNG(t, 10, 10)), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="card.png"` {
		t.Fatalf("unexpected disposition %q", got)
	}

	rec = do(t, srv, http.MethodPost, "/v1/render?as=datauri", bytes.NewReader(testPNG(t, 4, 4)), nil)
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Body.String(), "data:image/png;base64,") {
		t.Fatalf("unexpected data uri response %d: %.40s", rec.Code, rec.Body.String())
	}
}

func TestRenderEndpointErrors(t *testing.T) {
	srv := newTestServer(t, nil)
	tests := []struct {
		name   string
		query  string
		body   []byte
		status int
		code   string
	}{
		{"two resizes", "fit=cover&w=10&h=10&scale=2", testPNG(t, 8, 8), http.StatusBadRequest, "multiple_resize_not_allowed"},
		{"bad filter", "filter=brightness:500", testPNG(t, 8, 8), http.StatusBadRequest, "filter_validation_failure"},
		{"garbage body", "scale=2", []byte("hello there"), http.StatusUnsupportedMediaType, "decode_failure"},
		{"crop outside", "crop=4,4,10,10", testPNG(t, 8, 8), http.StatusBadRequest, "invalid_dimension"},
		{"wrapping crop", "crop=1,1,9223372036854775807,9223372036854775807", testPNG(t, 8, 8), http.StatusBadRequest, "invalid_dimension"},
		{"oversized canvas", "fit=fill&w=4294967296&h=4294967296", testPNG(t, 8, 8), http.StatusBadRequest, "invalid_dimension"},
		{"unknown position", "fit=cover&w=4&h=4&position=upside-down", testPNG(t, 8, 8), http.StatusBadRequest, ""},
		{"empty body", "scale=2", nil, http.StatusBadRequest, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, "/v1/render?"+tc.query, bytes.NewReader(tc.body), nil)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
			if tc.code != "" && !strings.Contains(rec.Body.String(), tc.code) {
				t.Fatalf("expected code %s in %s", tc.code, rec.Body.String())
			}
		})
	}
}

func TestRenderEndpointBodyLimit(t *testing.T) {
	srv := NewServer(Options{Queue: &fakeQueue{}, JobStore: store.NewMemoryJobStore(), MaxRenderBytes: 16})
	rec := do(t, srv, http.MethodPost, "/v1/render", bytes.NewReader(testPNG(t, 32, 32)), nil)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestRateLimitRejects(t *testing.T) {
	limiter := &fakeLimiter{allow: false}
	srv := newTestServer(t, limiter)

	rec := do(t, srv, http.MethodPost, "/v1/render?scale=2", bytes.NewReader(testPNG(t, 4, 4)), nil)
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected 429 with Retry-After, got %d", rec.Code)
	}

	body := `{"source_type":"remote_url","source_url":"https://example.com/a.png","steps":[{"id":"a"},{"id":"b"},{"id":"c"}]}`
	rec = do(t, srv, http.MethodPost, "/v1/jobs", strings.NewReader(body), nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for job creation, got %d", rec.Code)
	}
	if limiter.lastCost != 3 {
		t.Fatalf("expected job creation to cost 3 tokens, got %d", limiter.lastCost)
	}

	if rec := do(t, srv, http.MethodGet, "/healthz", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected GET to bypass rate limiting, got %d", rec.Code)
	}
}

func TestUsageEndpoint(t *testing.T) {
	jobs := store.NewMemoryJobStore()
	_ = jobs.CreateUsageLog(context.Background(), domain.UsageLog{UserID: "u1", PixelsProcessed: 42})
	srv := NewServer(Options{Queue: &fakeQueue{}, JobStore: jobs})

	if rec := do(t, srv, http.MethodGet, "/v1/usage", nil, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without user header, got %d", rec.Code)
	}
	rec := do(t, srv, http.MethodGet, "/v1/usage", nil, map[string]string{DefaultUserIDHeader: "u1"})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"pixels_processed":42`) {
		t.Fatalf("unexpected usage response %d: %s", rec.Code, rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)
	_ = do(t, srv, http.MethodGet, "/healthz", nil, nil)
	rec := do(t, srv, http.MethodGet, "/metrics", nil, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "pixelpass_api_requests_total") {
		t.Fatalf("expected request metrics, got %d", rec.Code)
	}
}

func TestRouteLabel(t *testing.T) {
	tests := map[string]string{
		"/v1/jobs":           "/v1/jobs",
		"/v1/jobs/abc":       "/v1/jobs/{id}",
		"/v1/jobs/abc/start": "/v1/jobs/{id}/start",
		"/v1/render":         "/v1/render",
		"/favicon.ico":       "other",
		"/healthz":           "/healthz",
	}
	for path, want := range tests {
		if got := routeLabel(path); got != want {
			t.Fatalf("routeLabel(%q) = %q, want %q", path, got, want)
		}
	}
}

func newTestServer(t *testing.T, limiter RateLimiter) *Server {
	t.Helper()
	return NewServer(Options{
		Queue:       &fakeQueue{},
		JobStore:    store.NewMemoryJobStore(),
		RateLimiter: limiter,
	})
}

func do(t *testing.T, srv *Server, method, target string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

type fakeQueue struct {
	payloads []queue.RenderImagePayload
}

func (q *fakeQueue) EnqueueRender(_ context.Context, payload queue.RenderImagePayload) (*asynq.TaskInfo, error) {
	q.payloads = append(q.payloads, payload)
	return &asynq.TaskInfo{ID: payload.JobID, Queue: "default", State: asynq.TaskStatePending, NextProcessAt: time.Now()}, nil
}

type fakeLimiter struct {
	allow    bool
	lastCost int
}

func (l *fakeLimiter) AllowN(_ context.Context, _ string, cost int) (ratelimit.Decision, error) {
	l.lastCost = cost
	return ratelimit.Decision{Allowed: l.allow, RetryAfter: 2 * time.Second}, nil
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 5), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}
