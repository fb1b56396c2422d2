package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"storyforge/internal/pkg/errors"

	"github.com/google/uuid"
)

// ImageRenderer renders one still image from a scene prompt and
// returns the file path.
type ImageRenderer interface {
	RenderImage(ctx context.Context, prompt, outDir string) (string, error)
}

// ImageOptions tune the text-to-image request. QualitySuffix is
// appended to every prompt, NegativePrompt is sent as-is.
type ImageOptions struct {
	Width          int
	Height         int
	Steps          int
	NegativePrompt string
	QualitySuffix  string
}

type ImageClient struct {
	baseURL string
	model   string
	apiKey  string
	opts    ImageOptions
	client  *http.Client
}

func NewImageClient(baseURL, model, apiKey string, opts ImageOptions, timeout time.Duration) *ImageClient {
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	return &ImageClient{
		baseURL: baseURL,
		model:   model,
		apiKey:  apiKey,
		opts:    opts,
		client:  &http.Client{Timeout: timeout},
	}
}

type imageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
	Steps          int    `json:"steps,omitempty"`
	ResponseFormat string `json:"response_format"`
}

type imageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

// RenderImage posts the prompt and writes the decoded PNG into
// <outDir>/<uuid>.png.
func (c *ImageClient) RenderImage(ctx context.Context, prompt, outDir string) (string, error) {
	const op = "genai.RenderImage"

	fullPrompt := prompt
	if c.opts.QualitySuffix != "" {
		fullPrompt = prompt + ", " + c.opts.QualitySuffix
	}

	body, err := json.Marshal(imageRequest{
		Model:          c.model,
		Prompt:         fullPrompt,
		NegativePrompt: c.opts.NegativePrompt,
		Width:          c.opts.Width,
		Height:         c.opts.Height,
		Steps:          c.opts.Steps,
		ResponseFormat: "b64_json",
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
		return "", errors.WrapWithCode(err, errors.CodeProvider, op, "image request failed")
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return "", errors.Providerf("image", "http %d: %s", res.StatusCode, string(msg))
	}

	var parsed imageResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", errors.WrapWithCode(err, errors.CodeProvider, op, "decode image response")
	}
	if len(parsed.Data) == 0 || parsed.Data[0].B64JSON == "" {
		return "", errors.Provider("image", "response contained no image data")
	}

	raw, err := base64.StdEncoding.DecodeString(parsed.Data[0].B64JSON)
	if err != nil {
		return "", errors.WrapWithCode(err, errors.CodeProvider, op, "decode image payload")
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", errors.Wrap(err, op, "create output dir")
	}

	outPath := filepath.Join(outDir, uuid.NewString()+".png")
	if err := os.WriteFile(outPath, raw, 0o644); err != nil {
		return "", errors.Wrap(err, op, "write image file")
	}

	return outPath, nil
}
