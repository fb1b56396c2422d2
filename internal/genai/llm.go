// Package genai holds the generative-model clients: chat completion
// for deriving scene prompts and text-to-image for rendering stills.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"storyforge/internal/pkg/errors"
	"storyforge/internal/story"
)

// PromptDeriver turns narration text into exactly count scene prompts.
type PromptDeriver interface {
	DerivePrompts(ctx context.Context, text string, count int) ([]story.ImagePrompt, error)
}

// PromptTemplates configures the chat messages sent to the model.
// UserTemplate supports {count} and {text} placeholders. DefaultScene
// is used to pad when the model returns fewer prompts than asked.
// Negative is attached to every derived prompt.
type PromptTemplates struct {
	System       string
	UserTemplate string
	DefaultScene string
	Negative     string
}

type LLMClient struct {
	baseURL   string
	model     string
	apiKey    string
	templates PromptTemplates
	client    *http.Client
}

func NewLLMClient(baseURL, model, apiKey string, templates PromptTemplates, timeout time.Duration) *LLMClient {
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	if templates.DefaultScene == "" {
		templates.DefaultScene = "A cinematic scene with dramatic lighting"
	}
	return &LLMClient{
		baseURL:   baseURL,
		model:     model,
		apiKey:    apiKey,
		templates: templates,
		client:    &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// DerivePrompts asks the model for count scene descriptions, one per
// line, then normalizes the result to exactly count prompts. Short
// responses are padded by repeating the last prompt, long ones are
// truncated. Order follows the narration.
func (c *LLMClient) DerivePrompts(ctx context.Context, text string, count int) ([]story.ImagePrompt, error) {
	const op = "genai.DerivePrompts"

	if count <= 0 {
		return nil, errors.Validation("prompt count must be positive")
	}

	userPrompt := strings.NewReplacer(
		"{count}", strconv.Itoa(count),
		"{text}", text,
	).Replace(c.templates.UserTemplate)

	messages := []chatMessage{}
	if c.templates.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: c.templates.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userPrompt})

	body, err := json.Marshal(chatRequest{Model: c.model, Messages: messages})
	if err != nil {
		return nil, errors.Wrap(err, op, "encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, op, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeProvider, op, "llm request failed")
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, errors.Providerf("llm", "http %d: %s", res.StatusCode, string(msg))
	}

	var parsed chatResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeProvider, op, "decode llm response")
	}
	if len(parsed.Choices) == 0 {
		return nil, errors.Provider("llm", "response contained no choices")
	}

	lines := splitPromptLines(parsed.Choices[0].Message.Content)
	return normalizePrompts(lines, count, c.templates.DefaultScene, c.templates.Negative), nil
}

// splitPromptLines breaks model output into candidate prompts,
// stripping list numbering and bullet markers.
func splitPromptLines(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		line = stripListMarker(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func stripListMarker(line string) string {
	line = strings.TrimLeft(line, "-*• \t")

	// "12. prompt" or "3) prompt"
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i > 0 && i < len(line) && (line[i] == '.' || line[i] == ')') {
		line = line[i+1:]
	}
	return strings.TrimSpace(line)
}

// normalizePrompts pads or truncates to exactly count entries.
func normalizePrompts(lines []string, count int, defaultScene, negative string) []story.ImagePrompt {
	if len(lines) == 0 {
		lines = []string{defaultScene}
	}
	for len(lines) < count {
		lines = append(lines, lines[len(lines)-1])
	}
	lines = lines[:count]

	prompts := make([]story.ImagePrompt, count)
	for i, p := range lines {
		prompts[i] = story.ImagePrompt{Index: i, Prompt: p, NegativePrompt: negative}
	}
	return prompts
}
