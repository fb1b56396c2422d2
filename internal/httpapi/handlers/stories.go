package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"storyforge/internal/httpkit"
	"storyforge/internal/pkg/errors"
	"storyforge/internal/story"

	"github.com/go-chi/chi/v5"
)

// PostStory accepts a story submission and starts generation. The
// response is the initial job snapshot; clients poll GetStory or
// subscribe on the websocket for progress.
func (h *Handler) PostStory(w http.ResponseWriter, r *http.Request) {
	var req story.Request
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		httpkit.WriteError(w, errors.Validation("invalid request body: "+err.Error()))
		return
	}

	st, err := h.svc.Submit(req)
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}

	h.log.Info("story accepted", "job_id", st.JobID, "text_len", len(req.Text))
	httpkit.WriteJSON(w, http.StatusAccepted, st)
}

// GetStory returns the current job snapshot.
func (h *Handler) GetStory(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")

	st, err := h.svc.Status(jobID)
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}
	httpkit.WriteJSON(w, http.StatusOK, st)
}

// StreamVideo streams the finished video of a completed job.
func (h *Handler) StreamVideo(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")

	rc, contentType, size, err := h.svc.OpenResult(r.Context(), jobID)
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}
	defer rc.Close()

	if contentType == "" {
		contentType = "video/mp4"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", jobID+".mp4"))
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}

	if _, err := io.Copy(w, rc); err != nil {
		h.log.Warn("video stream interrupted", "job_id", jobID, "error", err)
	}
}
