package handlers

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"storyforge/internal/httpkit"
	"storyforge/internal/pkg/errors"
	"storyforge/internal/renderqueue"
)

// maxUploadBytes bounds the in-memory part of multipart uploads.
const maxUploadBytes = 32 << 20

type narrationRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
	Model string `json:"model,omitempty"`
}

// PostNarration synthesizes narration audio for the given text and
// streams the mp3 back. Nothing is retained on the server.
func (h *Handler) PostNarration(w http.ResponseWriter, r *http.Request) {
	var req narrationRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		httpkit.WriteError(w, errors.Validation("invalid request body: "+err.Error()))
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		httpkit.WriteError(w, errors.ValidationField("text", "text is required"))
		return
	}

	dir, err := os.MkdirTemp("", "storyforge-tts-*")
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}
	defer func() { _ = os.RemoveAll(dir) }()

	path, err := h.speech.Synthesize(r.Context(), req.Text, req.Voice, req.Model, dir)
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}

	h.log.Info("narration synthesized", "text_len", len(req.Text))
	streamFile(w, h, path, "audio/mpeg", "narration.mp3")
}

// PostClip turns one uploaded image into a video clip through the
// render queue and streams the result back.
func (h *Handler) PostClip(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		httpkit.WriteError(w, errors.Validation("invalid multipart form: "+err.Error()))
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		httpkit.WriteError(w, errors.ValidationField("image", "image file is required"))
		return
	}
	defer file.Close()

	dir, err := os.MkdirTemp("", "storyforge-clip-*")
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}
	defer func() { _ = os.RemoveAll(dir) }()

	imgName := filepath.Base(header.Filename)
	if imgName == "" || imgName == "." || imgName == string(filepath.Separator) {
		imgName = "image.png"
	}
	imgPath := filepath.Join(dir, imgName)
	if err := saveUpload(file, imgPath); err != nil {
		httpkit.WriteError(w, err)
		return
	}

	params := renderqueue.RenderParams{
		ImagePath:      imgPath,
		Prompt:         r.FormValue("prompt"),
		NegativePrompt: r.FormValue("negative_prompt"),
		Seed:           formInt64(r, "seed"),
		FrameRate:      formInt(r, "frame_rate"),
		Frames:         formInt(r, "video_frames"),
		Width:          formInt(r, "width"),
		Height:         formInt(r, "height"),
		Steps:          formInt(r, "steps"),
		CFG:            formFloat(r, "cfg"),
		SamplerName:    r.FormValue("sampler_name"),
		Scheduler:      r.FormValue("scheduler"),
	}

	name, err := h.queue.RenderVideo(r.Context(), params)
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}

	h.log.Info("direct clip rendered", "clip", name)
	streamFile(w, h, filepath.Join(h.clipDir, name), "video/mp4", name)
}

func saveUpload(src io.Reader, dst string) error {
	f, err := os.Create(dst)
	if err != nil {
		return errors.Wrap(err, "handlers.saveUpload", "create upload file")
	}
	_, err = io.Copy(f, src)
	closeErr := f.Close()
	if err != nil {
		return errors.Wrap(err, "handlers.saveUpload", "write upload file")
	}
	if closeErr != nil {
		return errors.Wrap(closeErr, "handlers.saveUpload", "close upload file")
	}
	return nil
}

func streamFile(w http.ResponseWriter, h *Handler, path, contentType, downloadName string) {
	f, err := os.Open(path)
	if err != nil {
		httpkit.WriteError(w, errors.NotFound("file", downloadName))
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadName))
	if info, statErr := f.Stat(); statErr == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	}

	if _, err := io.Copy(w, f); err != nil {
		h.log.Warn("file stream interrupted", "file", downloadName, "error", err)
	}
}

func formInt(r *http.Request, key string) int {
	v, _ := strconv.Atoi(r.FormValue(key))
	return v
}

func formInt64(r *http.Request, key string) int64 {
	v, _ := strconv.ParseInt(r.FormValue(key), 10, 64)
	return v
}

func formFloat(r *http.Request, key string) float64 {
	v, _ := strconv.ParseFloat(r.FormValue(key), 64)
	return v
}
