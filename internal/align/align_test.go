package align

import (
	"context"
	"fmt"
	"io"
	"os"
	"testing"

	"storyforge/internal/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	calls [][]string
	err   error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.err != nil {
		return commandResult{ExitCode: 1, Stderr: "boom"}, f.err
	}
	return commandResult{}, nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error", Output: io.Discard})
}

func newTestEngine(whisper, aeneas string, runner commandRunner, files map[string][]byte) *Engine {
	e := NewEngine(whisper, "base", aeneas, "en", testLogger())
	e.runner = runner
	e.mkdirTemp = func(dir, pattern string) (string, error) { return "/tmp/fake-align", nil }
	e.removeAll = func(path string) error { return nil }
	e.readFile = func(name string) ([]byte, error) {
		if data, ok := files[name]; ok {
			return data, nil
		}
		return nil, os.ErrNotExist
	}
	e.writeFile = func(name string, data []byte, perm os.FileMode) error {
		files[name] = data
		return nil
	}
	return e
}

func TestEngine_Align_Whisper(t *testing.T) {
	files := map[string][]byte{
		"/tmp/fake-align/narration.json": []byte(`{
			"segments": [
				{"start": 0.0, "end": 2.4, "text": " Once upon a time. "},
				{"start": 2.4, "end": 5.1, "text": "There was a dragon."},
				{"start": 5.1, "end": 5.1, "text": "degenerate window"},
				{"start": 6.0, "end": 7.0, "text": "   "}
			]
		}`),
	}
	runner := &fakeRunner{}
	e := newTestEngine("whisperx", "", runner, files)

	segs := e.Align(context.Background(), "/work/narration.mp3", "ignored", "fr", 5.1)

	require.Len(t, segs, 2, "empty and zero-length segments are dropped")
	assert.Equal(t, "Once upon a time.", segs[0].Text)
	assert.InDelta(t, 2.4, segs[0].End, 0.001)

	require.NotEmpty(t, runner.calls)
	assert.Equal(t, "whisperx", runner.calls[0][0])
	assert.Contains(t, runner.calls[0], "--output_format")
	assert.Contains(t, runner.calls[0], "fr", "per-call language overrides the configured one")
}

func TestEngine_Align_FallsBackToAeneas(t *testing.T) {
	files := map[string][]byte{
		"/tmp/fake-align/syncmap.json": []byte(`{
			"fragments": [
				{"begin": "0.000", "end": "2.500", "lines": ["First sentence."]},
				{"begin": "2.500", "end": "6.000", "lines": ["Second", "sentence."]}
			]
		}`),
	}

	// Whisper binary fails, aeneas succeeds. Use a runner that fails
	// only the first call.
	callCount := 0
	runner := runnerFunc(func(ctx context.Context, name string, args ...string) (commandResult, error) {
		callCount++
		if name == "whisperx" {
			return commandResult{ExitCode: 1, Stderr: "no cuda"}, fmt.Errorf("exit status 1")
		}
		return commandResult{}, nil
	})

	e := newTestEngine("whisperx", "aeneas-task", runner, files)
	segs := e.Align(context.Background(), "/work/narration.mp3", "First sentence. Second sentence.", "", 6.0)

	require.Len(t, segs, 2)
	assert.Equal(t, "First sentence.", segs[0].Text)
	assert.Equal(t, "Second sentence.", segs[1].Text)
	assert.InDelta(t, 6.0, segs[1].End, 0.001)
	assert.Equal(t, 2, callCount)

	// The sentence file handed to aeneas is one sentence per line.
	assert.Equal(t, "First sentence.\nSecond sentence.", string(files["/tmp/fake-align/narration.txt"]))
}

func TestEngine_Align_ProportionalWhenToolsDisabled(t *testing.T) {
	e := newTestEngine("", "", &fakeRunner{}, map[string][]byte{})

	segs := e.Align(context.Background(), "/work/a.mp3", "A. B.", "", 2.0)

	require.Len(t, segs, 2)
	assert.InDelta(t, 0.0, segs[0].Start, 0.001)
	assert.InDelta(t, 1.0, segs[0].End, 0.001, "equal-length sentences split the duration evenly after rescale")
	assert.InDelta(t, 2.0, segs[1].End, 0.001)
}

type runnerFunc func(ctx context.Context, name string, args ...string) (commandResult, error)

func (f runnerFunc) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	return f(ctx, name, args...)
}

func TestProportionalSegments(t *testing.T) {
	segs := ProportionalSegments("Short. This one is quite a bit longer than the first.", 10.0)

	require.Len(t, segs, 2)
	assert.Equal(t, 0.0, segs[0].Start)
	assert.Equal(t, segs[0].End, segs[1].Start, "segments are contiguous")
	assert.Equal(t, 10.0, segs[1].End, "last segment is pinned to the duration")
	assert.Greater(t, segs[1].End-segs[1].Start, segs[0].End-segs[0].Start, "longer sentence gets more time")
}

func TestProportionalSegments_FloorRescale(t *testing.T) {
	// Ten tiny sentences in four seconds: the 1.5s floor would
	// overshoot, so everything rescales to fit exactly.
	text := "A. B. C. D. E. F. G. H. I. J."
	segs := ProportionalSegments(text, 4.0)

	require.Len(t, segs, 10)
	assert.InDelta(t, 4.0, segs[9].End, 0.001)
	for i := 1; i < len(segs); i++ {
		assert.InDelta(t, segs[i-1].End, segs[i].Start, 0.0001)
	}
}

func TestProportionalSegments_NoSentences(t *testing.T) {
	segs := ProportionalSegments("unpunctuated narration", 7.5)
	require.Len(t, segs, 1)
	assert.Equal(t, "unpunctuated narration", segs[0].Text)
	assert.Equal(t, 7.5, segs[0].End)

	// No duration either: fall back to a bounded window.
	segs = ProportionalSegments("unpunctuated narration", 0)
	require.Len(t, segs, 1)
	assert.Equal(t, fallbackWindowSeconds, segs[0].End)

	assert.Nil(t, ProportionalSegments("   ", 0))
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"One. Two! Three?", []string{"One.", "Two!", "Three?"}},
		{"Trailing without punctuation", []string{"Trailing without punctuation"}},
		{"Mixed. And a tail", []string{"Mixed.", "And a tail"}},
		{"", nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SplitSentences(tt.in), "input %q", tt.in)
	}
}
