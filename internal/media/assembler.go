// Package media assembles the final video with ffmpeg: probing
// narration duration, concatenating rendered clips, muxing audio,
// and burning captions into the frame.
package media

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"storyforge/internal/pkg/errors"
)

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}
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

// Prober reports media durations.
type Prober interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// Muxer builds the final video artifacts.
type Muxer interface {
	ConcatAndMux(ctx context.Context, clipPaths []string, audioPath, outPath string) error
	BurnCaptions(ctx context.Context, videoPath, srtPath, outPath string) error
}

// Assembler implements Prober and Muxer on top of ffmpeg/ffprobe.
type Assembler struct {
	ffmpegPath   string
	ffprobePath  string
	captionStyle string
	runner       commandRunner
	mkdirTemp    func(dir, pattern string) (string, error)
	removeAll    func(path string) error
	writeFile    func(name string, data []byte, perm os.FileMode) error
}

// NewAssembler constructs the production assembler with OS dependencies.
func NewAssembler(ffmpegPath, ffprobePath, captionStyle string) *Assembler {
	return &Assembler{
		ffmpegPath:   ffmpegPath,
		ffprobePath:  ffprobePath,
		captionStyle: captionStyle,
		runner:       &execRunner{},
		mkdirTemp:    os.MkdirTemp,
		removeAll:    os.RemoveAll,
		writeFile:    os.WriteFile,
	}
}

// NewAssemblerForTests wires a custom runner and filesystem seams.
func NewAssemblerForTests(
	ffmpegPath, ffprobePath, captionStyle string,
	runner commandRunner,
	mkdirTemp func(dir, pattern string) (string, error),
	removeAll func(path string) error,
	writeFile func(name string, data []byte, perm os.FileMode) error,
) *Assembler {
	return &Assembler{
		ffmpegPath:   ffmpegPath,
		ffprobePath:  ffprobePath,
		captionStyle: captionStyle,
		runner:       runner,
		mkdirTemp:    mkdirTemp,
		removeAll:    removeAll,
		writeFile:    writeFile,
	}
}

// Duration probes the container duration of a media file in seconds.
func (a *Assembler) Duration(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	res, err := a.runner.Run(ctx, a.ffprobePath, args...)
	if err != nil {
		return 0, errors.Assembly(fmt.Sprintf("ffprobe failed (exit %d): %s", res.ExitCode, firstLine(res.Stderr)))
	}

	d, err := strconv.ParseFloat(strings.TrimSpace(res.Stdout), 64)
	if err != nil {
		return 0, errors.Assembly(fmt.Sprintf("ffprobe returned unparseable duration %q", strings.TrimSpace(res.Stdout)))
	}
	if d <= 0 {
		return 0, errors.Assembly("media file has zero duration")
	}
	return d, nil
}

// ConcatAndMux joins the clips with the concat demuxer, then muxes the
// narration audio over the joined video. -shortest trims whichever
// stream runs longer.
func (a *Assembler) ConcatAndMux(ctx context.Context, clipPaths []string, audioPath, outPath string) error {
	if len(clipPaths) == 0 {
		return errors.Assembly("no clips to concatenate")
	}

	tempDir, err := a.mkdirTemp("", "storyforge-concat-*")
	if err != nil {
		return errors.Wrap(err, "media.ConcatAndMux", "create temp workspace")
	}
	defer func() { _ = a.removeAll(tempDir) }()

	listPath := filepath.Join(tempDir, "clips.txt")
	if err := a.writeFile(listPath, []byte(concatList(clipPaths)), 0o644); err != nil {
		return errors.Wrap(err, "media.ConcatAndMux", "write concat list")
	}

	joined := filepath.Join(tempDir, "joined.mp4")
	concatArgs := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		joined,
	}
	if res, err := a.runner.Run(ctx, a.ffmpegPath, concatArgs...); err != nil {
		return errors.Assembly(fmt.Sprintf("clip concat failed (exit %d): %s", res.ExitCode, firstLine(res.Stderr)))
	}

	muxArgs := []string{
		"-y",
		"-i", joined,
		"-i", audioPath,
		"-c:v", "copy",
		"-c:a", "aac",
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-shortest",
		outPath,
	}
	if res, err := a.runner.Run(ctx, a.ffmpegPath, muxArgs...); err != nil {
		return errors.Assembly(fmt.Sprintf("audio mux failed (exit %d): %s", res.ExitCode, firstLine(res.Stderr)))
	}

	return nil
}

// BurnCaptions re-encodes the video with the subtitles filter so the
// captions are part of the frame.
func (a *Assembler) BurnCaptions(ctx context.Context, videoPath, srtPath, outPath string) error {
	filter := fmt.Sprintf("subtitles=%s", escapeFilterPath(srtPath))
	if a.captionStyle != "" {
		filter += fmt.Sprintf(":force_style='%s'", a.captionStyle)
	}

	args := []string{
		"-y",
		"-i", videoPath,
		"-vf", filter,
		"-c:a", "copy",
		outPath,
	}
	if res, err := a.runner.Run(ctx, a.ffmpegPath, args...); err != nil {
		return errors.Assembly(fmt.Sprintf("caption burn failed (exit %d): %s", res.ExitCode, firstLine(res.Stderr)))
	}

	return nil
}

// concatList renders the concat demuxer file list. Single quotes in
// paths are escaped per the demuxer's quoting rules.
func concatList(paths []string) string {
	var b strings.Builder
	for _, p := range paths {
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(p, "'", `'\''`))
		b.WriteString("'\n")
	}
	return b.String()
}

// escapeFilterPath escapes characters the ffmpeg filter parser treats
// specially (Windows drive colons, quotes).
func escapeFilterPath(p string) string {
	p = strings.ReplaceAll(p, `\`, `/`)
	p = strings.ReplaceAll(p, `:`, `\:`)
	p = strings.ReplaceAll(p, `'`, `\'`)
	return p
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
