package align

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSrtTimestamp(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "00:00:00,000"},
		{1.5, "00:00:01,500"},
		{61.25, "00:01:01,250"},
		{3661.999, "01:01:01,999"},
		{-3, "00:00:00,000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, srtTimestamp(tt.seconds), "seconds %v", tt.seconds)
	}
}

func TestFormatSRT(t *testing.T) {
	segs := []TextSegment{
		{Text: "Once upon a time.", Start: 0, End: 2.4},
		{Text: "There was a dragon.", Start: 2.4, End: 5.1},
	}

	want := "1\n00:00:00,000 --> 00:00:02,400\nOnce upon a time.\n\n" +
		"2\n00:00:02,400 --> 00:00:05,100\nThere was a dragon.\n\n"
	assert.Equal(t, want, FormatSRT(segs))
}

func TestFormatSRT_BlockStructure(t *testing.T) {
	segs := []TextSegment{
		{Text: "One.", Start: 0, End: 1},
		{Text: "Two.", Start: 1, End: 2},
		{Text: "Three.", Start: 2, End: 3},
	}

	out := FormatSRT(segs)
	blocks := strings.Split(strings.TrimSuffix(out, "\n\n"), "\n\n")
	require.Len(t, blocks, 3)

	for i, block := range blocks {
		lines := strings.Split(block, "\n")
		require.Len(t, lines, 3, "block %d", i)
		assert.Equal(t, strconv.Itoa(i+1), lines[0], "blocks are numbered from 1")
		assert.Contains(t, lines[1], " --> ")
		assert.Equal(t, segs[i].Text, lines[2])
	}
}

func TestWriteSRT(t *testing.T) {
	path := filepath.Join(t.TempDir(), "captions.srt")
	segs := []TextSegment{{Text: "Hello.", Start: 0, End: 1}}

	require.NoError(t, WriteSRT(segs, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "00:00:00,000 --> 00:00:01,000")
}
