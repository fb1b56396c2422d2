// Package align produces caption timings for narration audio. It
// tries forced-alignment tools in order of quality and falls back to
// proportional estimation, so caption generation never fails a job.
package align

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"storyforge/internal/pkg/logger"
)

// TextSegment is one caption line with its time window in seconds.
type TextSegment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// minSegmentSeconds is the floor for estimated segments before the
// final rescale to the real narration duration.
const minSegmentSeconds = 1.5

// fallbackWindowSeconds caps the single catch-all segment used when
// no duration is known at all.
const fallbackWindowSeconds = 30.0

type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

type execRunner struct{}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if stderrors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// Engine aligns narration text against its audio.
type Engine struct {
	whisperPath  string
	whisperModel string
	aeneasPath   string
	language     string

	runner    commandRunner
	mkdirTemp func(dir, pattern string) (string, error)
	removeAll func(path string) error
	readFile  func(name string) ([]byte, error)
	writeFile func(name string, data []byte, perm os.FileMode) error

	log *logger.Logger
}

// NewEngine constructs the production engine. Empty tool paths
// disable the corresponding strategy.
func NewEngine(whisperPath, whisperModel, aeneasPath, language string, log *logger.Logger) *Engine {
	if language == "" {
		language = "en"
	}
	return &Engine{
		whisperPath:  whisperPath,
		whisperModel: whisperModel,
		aeneasPath:   aeneasPath,
		language:     language,
		runner:       &execRunner{},
		mkdirTemp:    os.MkdirTemp,
		removeAll:    os.RemoveAll,
		readFile:     os.ReadFile,
		writeFile:    os.WriteFile,
		log:          log.WithComponent("align"),
	}
}

// Align returns ordered caption segments for the narration. An empty
// language falls back to the engine's configured one. Strategy
// failures are logged and the next tier is tried; the proportional
// estimate at the end always produces a result.
func (e *Engine) Align(ctx context.Context, audioPath, text, language string, duration float64) []TextSegment {
	if language == "" {
		language = e.language
	}

	if e.whisperPath != "" {
		segs, err := e.alignWhisper(ctx, audioPath, language)
		if err == nil && len(segs) > 0 {
			return segs
		}
		e.log.Warn("whisper alignment failed, trying next strategy", "error", err)
	}

	if e.aeneasPath != "" {
		segs, err := e.alignAeneas(ctx, audioPath, text, language)
		if err == nil && len(segs) > 0 {
			return segs
		}
		e.log.Warn("aeneas alignment failed, trying next strategy", "error", err)
	}

	return ProportionalSegments(text, duration)
}

type whisperOutput struct {
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func (e *Engine) alignWhisper(ctx context.Context, audioPath, language string) ([]TextSegment, error) {
	tempDir, err := e.mkdirTemp("", "storyforge-align-*")
	if err != nil {
		return nil, err
	}
	defer func() { _ = e.removeAll(tempDir) }()

	args := []string{
		audioPath,
		"--model", e.whisperModel,
		"--language", language,
		"--output_format", "json",
		"--output_dir", tempDir,
	}
	if res, err := e.runner.Run(ctx, e.whisperPath, args...); err != nil {
		return nil, fmt.Errorf("whisper failed (exit %d): %s", res.ExitCode, firstLine(res.Stderr))
	}

	base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	raw, err := e.readFile(filepath.Join(tempDir, base+".json"))
	if err != nil {
		return nil, fmt.Errorf("read whisper output: %w", err)
	}

	var out whisperOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse whisper output: %w", err)
	}

	segs := make([]TextSegment, 0, len(out.Segments))
	for _, s := range out.Segments {
		txt := strings.TrimSpace(s.Text)
		if txt == "" || s.End <= s.Start {
			continue
		}
		segs = append(segs, TextSegment{Text: txt, Start: s.Start, End: s.End})
	}
	return segs, nil
}

type aeneasOutput struct {
	Fragments []struct {
		Begin string   `json:"begin"`
		End   string   `json:"end"`
		Lines []string `json:"lines"`
	} `json:"fragments"`
}

func (e *Engine) alignAeneas(ctx context.Context, audioPath, text, language string) ([]TextSegment, error) {
	tempDir, err := e.mkdirTemp("", "storyforge-align-*")
	if err != nil {
		return nil, err
	}
	defer func() { _ = e.removeAll(tempDir) }()

	textPath := filepath.Join(tempDir, "narration.txt")
	if err := e.writeFile(textPath, []byte(strings.Join(SplitSentences(text), "\n")), 0o644); err != nil {
		return nil, err
	}

	outPath := filepath.Join(tempDir, "syncmap.json")
	taskConfig := fmt.Sprintf("task_language=%s|is_text_type=plain|os_task_file_format=json", language)

	if res, err := e.runner.Run(ctx, e.aeneasPath, audioPath, textPath, taskConfig, outPath); err != nil {
		return nil, fmt.Errorf("aeneas failed (exit %d): %s", res.ExitCode, firstLine(res.Stderr))
	}

	raw, err := e.readFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("read aeneas syncmap: %w", err)
	}

	var out aeneasOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse aeneas syncmap: %w", err)
	}

	segs := make([]TextSegment, 0, len(out.Fragments))
	for _, f := range out.Fragments {
		txt := strings.TrimSpace(strings.Join(f.Lines, " "))
		if txt == "" {
			continue
		}
		start, err1 := parseSeconds(f.Begin)
		end, err2 := parseSeconds(f.End)
		if err1 != nil || err2 != nil || end <= start {
			continue
		}
		segs = append(segs, TextSegment{Text: txt, Start: start, End: end})
	}
	return segs, nil
}

// ProportionalSegments estimates timings from character counts when no
// alignment tool is available. Each sentence gets at least
// minSegmentSeconds before the whole sequence is rescaled to the real
// duration, so short trailing sentences stay readable.
func ProportionalSegments(text string, duration float64) []TextSegment {
	sentences := SplitSentences(text)
	if len(sentences) == 0 || duration <= 0 {
		txt := strings.TrimSpace(text)
		if txt == "" {
			return nil
		}
		end := duration
		if end <= 0 {
			end = fallbackWindowSeconds
		}
		return []TextSegment{{Text: txt, Start: 0, End: end}}
	}

	totalChars := 0
	for _, s := range sentences {
		totalChars += len(s)
	}

	// First pass: proportional share with a readability floor.
	raw := make([]float64, len(sentences))
	var rawTotal float64
	for i, s := range sentences {
		d := duration * float64(len(s)) / float64(totalChars)
		if d < minSegmentSeconds {
			d = minSegmentSeconds
		}
		raw[i] = d
		rawTotal += d
	}

	// Second pass: rescale so the segments exactly cover the audio.
	scale := duration / rawTotal

	segs := make([]TextSegment, len(sentences))
	cursor := 0.0
	for i, s := range sentences {
		d := raw[i] * scale
		segs[i] = TextSegment{Text: s, Start: cursor, End: cursor + d}
		cursor += d
	}
	// Pin the last boundary to the exact duration.
	segs[len(segs)-1].End = duration

	return segs
}

// SplitSentences breaks narration into caption-sized sentences,
// keeping the terminal punctuation.
func SplitSentences(text string) []string {
	var out []string
	var b strings.Builder

	flush := func() {
		s := strings.TrimSpace(b.String())
		if s != "" {
			out = append(out, s)
		}
		b.Reset()
	}

	for _, r := range text {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			flush()
		}
	}
	flush()
	return out
}

func parseSeconds(s string) (float64, error) {
	var v float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &v)
	return v, err
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
