package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"storyforge/internal/pkg/errors"
	"storyforge/internal/pkg/logger"
	"storyforge/internal/ports"
	"storyforge/internal/story"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	mu       sync.Mutex
	statuses map[string]story.Status
	results  map[string][]byte
}

func newFakeService() *fakeService {
	return &fakeService{
		statuses: map[string]story.Status{},
		results:  map[string][]byte{},
	}
}

func (f *fakeService) set(st story.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[st.JobID] = st
}

func (f *fakeService) Submit(req story.Request) (story.Status, error) {
	if strings.TrimSpace(req.Text) == "" {
		return story.Status{}, errors.ValidationField("text", "story text is required")
	}
	st := story.Status{JobID: "job-1", State: story.StateProcessing, Progress: 5, Message: "Generating narration audio..."}
	f.set(st)
	return st, nil
}

func (f *fakeService) Status(jobID string) (story.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.statuses[jobID]
	if !ok {
		return story.Status{}, errors.NotFound("job", jobID)
	}
	return st, nil
}

func (f *fakeService) OpenResult(ctx context.Context, jobID string) (io.ReadCloser, string, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.statuses[jobID]
	if !ok {
		return nil, "", 0, errors.NotFound("job", jobID)
	}
	if st.State != story.StateCompleted {
		return nil, "", 0, errors.New(errors.CodeFailedPrecond, "job is not completed")
	}
	data := f.results[jobID]
	return io.NopCloser(bytes.NewReader(data)), "video/mp4", int64(len(data)), nil
}

type fakeSP struct{}

func (fakeSP) Provider() string { return "localfs" }
func (fakeSP) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	return ports.PutObjectOutput{}, nil
}
func (fakeSP) GetObject(ctx context.Context, key string) (io.ReadCloser, string, int64, error) {
	return nil, "", 0, errors.NotFound("object", key)
}
func (fakeSP) DeleteObject(ctx context.Context, key string) error { return nil }

func newTestRouter(svc StoryService) http.Handler {
	h := New(Deps{
		Svc:            svc,
		SP:             fakeSP{},
		Log:            logger.New(logger.Config{Level: "error", Output: io.Discard}),
		StatusInterval: 10 * time.Millisecond,
		FinalPushDelay: 20 * time.Millisecond,
	})

	r := chi.NewRouter()
	r.Get("/health", h.Health)
	r.Post("/stories", h.PostStory)
	r.Get("/stories/{jobId}", h.GetStory)
	r.Get("/stories/{jobId}/video", h.StreamVideo)
	r.Get("/ws/stories/{jobId}", h.WatchStory)
	return r
}

func TestPostStory(t *testing.T) {
	svc := newFakeService()
	router := newTestRouter(svc)

	body := `{"text": "Once upon a time."}`
	req := httptest.NewRequest(http.MethodPost, "/stories", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var st story.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "job-1", st.JobID)
	assert.Equal(t, story.StateProcessing, st.State)
	assert.Equal(t, 5, st.Progress)
}

func TestPostStory_InvalidJSON(t *testing.T) {
	router := newTestRouter(newFakeService())

	req := httptest.NewRequest(http.MethodPost, "/stories", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var env map[string]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "VALIDATION_ERROR", env["error"]["code"])
}

func TestPostStory_UnknownField(t *testing.T) {
	router := newTestRouter(newFakeService())

	req := httptest.NewRequest(http.MethodPost, "/stories", strings.NewReader(`{"text":"x","bogus":1}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostStory_EmptyText(t *testing.T) {
	router := newTestRouter(newFakeService())

	req := httptest.NewRequest(http.MethodPost, "/stories", strings.NewReader(`{"text": "  "}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetStory(t *testing.T) {
	svc := newFakeService()
	svc.set(story.Status{JobID: "job-2", State: story.StateCompleted, Progress: 100, OutputFile: "job-2.mp4"})
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/stories/job-2", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var st story.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, story.StateCompleted, st.State)
	assert.Equal(t, "job-2.mp4", st.OutputFile)
}

func TestGetStory_NotFound(t *testing.T) {
	router := newTestRouter(newFakeService())

	req := httptest.NewRequest(http.MethodGet, "/stories/missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamVideo(t *testing.T) {
	svc := newFakeService()
	svc.set(story.Status{JobID: "job-3", State: story.StateCompleted, OutputFile: "job-3.mp4"})
	svc.results["job-3"] = []byte("mp4-bytes")
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/stories/job-3/video", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Equal(t, "9", rec.Header().Get("Content-Length"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "job-3.mp4")
	assert.Equal(t, "mp4-bytes", rec.Body.String())
}

func TestStreamVideo_NotCompleted(t *testing.T) {
	svc := newFakeService()
	svc.set(story.Status{JobID: "job-4", State: story.StateProcessing, Progress: 40})
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/stories/job-4/video", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHealth(t *testing.T) {
	router := newTestRouter(newFakeService())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "localfs", body["storage"])
}
