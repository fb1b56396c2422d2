// Package speech turns narration text into an audio file via an
// OpenAI-compatible text-to-speech endpoint.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"storyforge/internal/pkg/errors"

	"github.com/google/uuid"
)

// Synthesizer produces a narration audio file and returns its path.
// Empty voice or model fall back to the configured defaults.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice, model, outDir string) (string, error)
}

type Client struct {
	baseURL string
	model   string
	voice   string
	apiKey  string
	client  *http.Client
}

func NewClient(baseURL, model, voice, apiKey string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		baseURL: baseURL,
		model:   model,
		voice:   voice,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type synthesisRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

// Synthesize posts the text to the provider and streams the returned
// audio into <outDir>/<uuid>.mp3. An empty file is treated as a
// provider failure.
func (c *Client) Synthesize(ctx context.Context, text, voice, model, outDir string) (string, error) {
	const op = "speech.Synthesize"

	if voice == "" {
		voice = c.voice
	}
	if model == "" {
		model = c.model
	}

	body, err := json.Marshal(synthesisRequest{
		Model:          model,
		Input:          text,
		Voice:          voice,
		ResponseFormat: "mp3",
	})
	if err != nil {
		return "", errors.Wrap(err, op, "encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, op, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return "", errors.WrapWithCode(err, errors.CodeProvider, op, "speech request failed")
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return "", errors.Providerf("speech", "http %d: %s", res.StatusCode, string(msg))
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", errors.Wrap(err, op, "create output dir")
	}

	outPath := filepath.Join(outDir, uuid.NewString()+".mp3")
	f, err := os.Create(outPath)
	if err != nil {
		return "", errors.Wrap(err, op, "create audio file")
	}

	n, err := io.Copy(f, res.Body)
	closeErr := f.Close()
	if err != nil {
		return "", errors.Wrap(err, op, "write audio file")
	}
	if closeErr != nil {
		return "", errors.Wrap(closeErr, op, "close audio file")
	}

	if n == 0 {
		_ = os.Remove(outPath)
		return "", errors.Provider("speech", "provider returned empty audio")
	}

	return outPath, nil
}
