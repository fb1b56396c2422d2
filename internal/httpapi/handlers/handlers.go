package handlers

import (
	"context"
	"io"
	"time"

	"storyforge/internal/pkg/logger"
	"storyforge/internal/ports"
	"storyforge/internal/renderqueue"
	"storyforge/internal/speech"
	"storyforge/internal/story"
)

// StoryService is the slice of the pipeline orchestrator the HTTP
// layer needs.
type StoryService interface {
	Submit(req story.Request) (story.Status, error)
	Status(jobID string) (story.Status, error)
	OpenResult(ctx context.Context, jobID string) (io.ReadCloser, string, int64, error)
}

type Deps struct {
	Svc    StoryService
	SP     ports.StorageProvider
	Speech speech.Synthesizer
	Queue  renderqueue.Renderer
	Log    *logger.Logger

	// ClipDir is the render queue's output directory; the direct
	// clip endpoint streams rendered clips from it.
	ClipDir string

	// StatusInterval paces websocket status pushes. FinalPushDelay is
	// how long the final snapshot is delayed after a job finishes, so
	// late subscribers still see it.
	StatusInterval time.Duration
	FinalPushDelay time.Duration
}

type Handler struct {
	svc            StoryService
	sp             ports.StorageProvider
	speech         speech.Synthesizer
	queue          renderqueue.Renderer
	clipDir        string
	log            *logger.Logger
	statusInterval time.Duration
	finalPushDelay time.Duration
}

func New(d Deps) *Handler {
	if d.StatusInterval == 0 {
		d.StatusInterval = 2 * time.Second
	}
	if d.FinalPushDelay == 0 {
		d.FinalPushDelay = 5 * time.Second
	}
	return &Handler{
		svc:            d.Svc,
		sp:             d.SP,
		speech:         d.Speech,
		queue:          d.Queue,
		clipDir:        d.ClipDir,
		log:            d.Log.WithComponent("httpapi"),
		statusInterval: d.StatusInterval,
		finalPushDelay: d.FinalPushDelay,
	}
}
