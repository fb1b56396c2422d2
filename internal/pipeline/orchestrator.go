// Package pipeline orchestrates the story-to-video flow: narration
// synthesis, prompt derivation, still rendering, image-to-video via
// the render queue, assembly, and captioning. Jobs run asynchronously
// and report progress through the story store.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"

	"storyforge/internal/align"
	"storyforge/internal/genai"
	"storyforge/internal/media"
	"storyforge/internal/pkg/errors"
	"storyforge/internal/pkg/logger"
	"storyforge/internal/ports"
	"storyforge/internal/renderqueue"
	"storyforge/internal/speech"
	"storyforge/internal/story"

	"github.com/google/uuid"
)

// Progress checkpoints for the externally visible status. The image
// and clip loops interpolate between their bounds.
const (
	progressAudio     = 5
	progressDuration  = 15
	progressPrompts   = 25
	progressImagesLo  = 35
	progressImagesHi  = 65
	progressClipsHi   = 85
	progressCaptions  = 95
	progressCompleted = 100
)

// Aligner produces caption segments for narration audio.
type Aligner interface {
	Align(ctx context.Context, audioPath, text, language string, duration float64) []align.TextSegment
}

// Options tune the orchestrator.
type Options struct {
	// WorkDir holds per-job intermediate files.
	WorkDir string
	// ClipDir is the render queue's output directory, shared with
	// this process via the filesystem.
	ClipDir string
	// SecondsPerImage sizes the automatic image count.
	SecondsPerImage float64
	// MaxImages caps the image count; zero means no cap.
	MaxImages int
	// FrameRate and VideoFrames parametrize each clip render.
	FrameRate   int
	VideoFrames int
	// NegativePrompt is passed to every clip render.
	NegativePrompt string
}

// Orchestrator runs generation jobs and tracks their status.
type Orchestrator struct {
	store   *story.Store
	speech  speech.Synthesizer
	llm     genai.PromptDeriver
	image   genai.ImageRenderer
	queue   renderqueue.Renderer
	prober  media.Prober
	muxer   media.Muxer
	aligner Aligner
	sp      ports.StorageProvider
	opts    Options
	log     *logger.Logger
}

func New(
	store *story.Store,
	speech speech.Synthesizer,
	llm genai.PromptDeriver,
	image genai.ImageRenderer,
	queue renderqueue.Renderer,
	prober media.Prober,
	muxer media.Muxer,
	aligner Aligner,
	sp ports.StorageProvider,
	opts Options,
	log *logger.Logger,
) *Orchestrator {
	if opts.SecondsPerImage <= 0 {
		opts.SecondsPerImage = 5
	}
	return &Orchestrator{
		store:   store,
		speech:  speech,
		llm:     llm,
		image:   image,
		queue:   queue,
		prober:  prober,
		muxer:   muxer,
		aligner: aligner,
		sp:      sp,
		opts:    opts,
		log:     log.WithComponent("pipeline"),
	}
}

// Submit validates the request, registers the job, and starts it in
// the background. The returned status is the initial snapshot.
func (o *Orchestrator) Submit(req story.Request) (story.Status, error) {
	if strings.TrimSpace(req.Text) == "" {
		return story.Status{}, errors.ValidationField("text", "story text is required")
	}
	if req.ImageCount < 0 {
		return story.Status{}, errors.ValidationField("num_images", "must not be negative")
	}

	jobID := uuid.NewString()
	st := story.Status{
		JobID:    jobID,
		State:    story.StateProcessing,
		Progress: 0,
		Message:  "Job accepted",
	}
	o.store.Put(st)

	// Jobs outlive the submitting request, so they run on a fresh
	// background context.
	go o.runJob(context.Background(), jobID, req)

	return st, nil
}

// Status returns the current snapshot of a job.
func (o *Orchestrator) Status(jobID string) (story.Status, error) {
	st, ok := o.store.Get(jobID)
	if !ok {
		return story.Status{}, errors.NotFound("job", jobID)
	}
	return st, nil
}

// OpenResult streams the finished video of a completed job.
func (o *Orchestrator) OpenResult(ctx context.Context, jobID string) (io.ReadCloser, string, int64, error) {
	st, ok := o.store.Get(jobID)
	if !ok {
		return nil, "", 0, errors.NotFound("job", jobID)
	}
	if st.State != story.StateCompleted {
		return nil, "", 0, errors.New(errors.CodeFailedPrecond, "job is not completed")
	}

	rc, contentType, size, err := o.sp.GetObject(ctx, st.OutputFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", 0, errors.NotFound("video artifact", st.OutputFile)
		}
		return nil, "", 0, err
	}
	return rc, contentType, size, nil
}

func (o *Orchestrator) runJob(ctx context.Context, jobID string, req story.Request) {
	log := o.log.WithJobID(jobID)
	ctx = logger.ContextWithJobID(ctx, jobID)

	workDir := filepath.Join(o.opts.WorkDir, jobID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		o.failJob(jobID, log, "workspace", err)
		return
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	// Stage 1: narration audio.
	o.progress(jobID, progressAudio, "Generating narration audio...")
	audioPath, err := o.speech.Synthesize(ctx, req.Text, req.Voice, req.Model, workDir)
	if err != nil {
		o.failJob(jobID, log, "speech", err)
		return
	}
	log.Info("narration synthesized", "audio", audioPath)

	// Stage 2: duration probe sizes the rest of the pipeline.
	o.progress(jobID, progressDuration, "Measuring narration...")
	duration, err := o.prober.Duration(ctx, audioPath)
	if err != nil {
		o.failJob(jobID, log, "probe", err)
		return
	}
	o.store.Update(jobID, func(st *story.Status) {
		st.AudioDuration = duration
	})

	imageCount := req.ImageCount
	if imageCount == 0 {
		imageCount = int(math.Ceil(duration / o.opts.SecondsPerImage))
		if imageCount < 1 {
			imageCount = 1
		}
	}
	if o.opts.MaxImages > 0 && imageCount > o.opts.MaxImages {
		imageCount = o.opts.MaxImages
	}
	log.Info("narration measured", "duration_s", duration, "image_count", imageCount)

	// Stage 3: scene prompts.
	o.progress(jobID, progressPrompts, "Deriving scene prompts...")
	prompts, err := o.llm.DerivePrompts(ctx, req.Text, imageCount)
	if err != nil {
		o.failJob(jobID, log, "prompts", err)
		return
	}
	o.store.Update(jobID, func(st *story.Status) {
		st.ImagePrompts = prompts
	})

	// Stage 4: still images. Individual failures are skipped, the
	// job only fails if nothing renders.
	imagePaths := o.renderImages(ctx, jobID, log, prompts, workDir)
	if len(imagePaths) == 0 {
		o.failJob(jobID, log, "images", errors.Provider("image", "no images could be rendered"))
		return
	}

	// Stage 5: image-to-video clips through the render queue.
	clipPaths := o.renderClips(ctx, jobID, log, req, prompts, imagePaths, duration)
	if len(clipPaths) == 0 {
		o.failJob(jobID, log, "clips", errors.QueueProtocol("no clips could be rendered"))
		return
	}

	// Stage 6: concat and mux.
	o.progress(jobID, progressClipsHi, "Assembling video...")
	assembled := filepath.Join(workDir, "assembled.mp4")
	if err := o.muxer.ConcatAndMux(ctx, clipPaths, audioPath, assembled); err != nil {
		o.failJob(jobID, log, "assemble", err)
		return
	}

	// Stage 7: captions, unless the request opted out.
	final := assembled
	if req.CaptionsEnabled() {
		o.progress(jobID, progressCaptions, "Adding captions...")
		final, err = o.burnCaptions(ctx, workDir, assembled, audioPath, req.Text, req.Language, duration)
		if err != nil {
			o.failJob(jobID, log, "captions", err)
			return
		}
	}

	// Stage 8: publish the artifact.
	objectKey, err := o.publish(ctx, jobID, final)
	if err != nil {
		o.failJob(jobID, log, "publish", err)
		return
	}

	o.store.Update(jobID, func(st *story.Status) {
		st.State = story.StateCompleted
		st.Progress = progressCompleted
		st.Message = "Video generation complete"
		st.OutputFile = objectKey
	})
	log.Info("job completed", "output", objectKey)
}

// renderImages renders one still per prompt, skipping failures.
func (o *Orchestrator) renderImages(ctx context.Context, jobID string, log *logger.Logger, prompts []story.ImagePrompt, workDir string) []string {
	span := progressImagesHi - progressImagesLo
	var paths []string
	for i, p := range prompts {
		pct := progressImagesLo + span*i/len(prompts)
		o.progress(jobID, pct, fmt.Sprintf("Rendering image %d of %d...", i+1, len(prompts)))

		path, err := o.image.RenderImage(ctx, p.Prompt, workDir)
		if err != nil {
			log.Warn("image render failed, skipping scene", "scene", p.Index, "error", err)
			continue
		}
		paths = append(paths, path)
	}
	return paths
}

// renderClips turns each still into a clip. Failed renders are
// skipped; the survivors are padded by repeating the first clip until
// the nominal clip durations cover the narration.
func (o *Orchestrator) renderClips(ctx context.Context, jobID string, log *logger.Logger, req story.Request, prompts []story.ImagePrompt, imagePaths []string, duration float64) []string {
	span := progressClipsHi - progressImagesHi
	var clips []string
	for i, imgPath := range imagePaths {
		pct := progressImagesHi + span*i/len(imagePaths)
		o.progress(jobID, pct, fmt.Sprintf("Animating clip %d of %d...", i+1, len(imagePaths)))

		params := o.clipParams(req, imgPath)
		if i < len(prompts) {
			params.Prompt = prompts[i].Prompt
			if prompts[i].NegativePrompt != "" {
				params.NegativePrompt = prompts[i].NegativePrompt
			}
		}

		name, err := o.queue.RenderVideo(ctx, params)
		if err != nil {
			log.Warn("clip render failed, skipping scene", "scene", i, "error", err)
			continue
		}

		clipPath := filepath.Join(o.opts.ClipDir, name)
		if _, err := os.Stat(clipPath); err != nil {
			log.Warn("render queue reported a clip that does not exist", "clip", clipPath)
			continue
		}
		clips = append(clips, clipPath)
	}

	// Pad with the first clip until the nominal clip length covers
	// the narration.
	for len(clips) > 0 && float64(len(clips))*o.opts.SecondsPerImage < duration {
		clips = append(clips, clips[0])
	}
	return clips
}

// clipParams merges the request's render overrides over the
// configured defaults.
func (o *Orchestrator) clipParams(req story.Request, imgPath string) renderqueue.RenderParams {
	params := renderqueue.RenderParams{
		ImagePath:      imgPath,
		NegativePrompt: o.opts.NegativePrompt,
		FrameRate:      o.opts.FrameRate,
		Frames:         o.opts.VideoFrames,
		Seed:           req.Seed,
		Width:          req.Width,
		Height:         req.Height,
		Steps:          req.Steps,
		CFG:            req.CFG,
		SamplerName:    req.SamplerName,
		Scheduler:      req.Scheduler,
	}
	if req.FrameRate > 0 {
		params.FrameRate = req.FrameRate
	}
	if req.VideoFrames > 0 {
		params.Frames = req.VideoFrames
	}
	return params
}

func (o *Orchestrator) burnCaptions(ctx context.Context, workDir, assembled, audioPath, text, language string, duration float64) (string, error) {
	segments := o.aligner.Align(ctx, audioPath, text, language, duration)
	if len(segments) == 0 {
		// Nothing to caption, ship the assembled video as-is.
		return assembled, nil
	}

	srtPath := filepath.Join(workDir, "captions.srt")
	if err := align.WriteSRT(segments, srtPath); err != nil {
		return "", errors.Wrap(err, "pipeline.burnCaptions", "write captions")
	}

	captioned := filepath.Join(workDir, "captioned.mp4")
	if err := o.muxer.BurnCaptions(ctx, assembled, srtPath, captioned); err != nil {
		return "", err
	}
	return captioned, nil
}

func (o *Orchestrator) publish(ctx context.Context, jobID, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "pipeline.publish", "open final video")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", errors.Wrap(err, "pipeline.publish", "stat final video")
	}

	out, err := o.sp.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   jobID + ".mp4",
		ContentType: "video/mp4",
		Reader:      f,
		Size:        info.Size(),
	})
	if err != nil {
		return "", errors.Wrap(err, "pipeline.publish", "store final video")
	}
	return out.ObjectKey, nil
}

func (o *Orchestrator) progress(jobID string, pct int, msg string) {
	o.store.Update(jobID, func(st *story.Status) {
		if pct > st.Progress {
			st.Progress = pct
		}
		st.Message = msg
	})
}

func (o *Orchestrator) failJob(jobID string, log *logger.Logger, stage string, err error) {
	log.Error("job failed", "stage", stage, "error", err)
	o.store.Update(jobID, func(st *story.Status) {
		st.State = story.StateFailed
		st.Error = fmt.Sprintf("%s: %v", stage, err)
		st.Message = "Video generation failed: " + st.Error
	})
}
