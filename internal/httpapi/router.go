package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"storyforge/internal/httpapi/handlers"
	"storyforge/internal/httpkit"
	"storyforge/internal/pkg/logger"
	"storyforge/internal/pkg/middleware"
	"storyforge/internal/ports"
	"storyforge/internal/renderqueue"
	"storyforge/internal/speech"
)

type Deps struct {
	Svc            handlers.StoryService
	SP             ports.StorageProvider
	Speech         speech.Synthesizer
	Queue          renderqueue.Renderer
	Log            *logger.Logger
	ClipDir        string
	AllowedOrigins []string
	StatusInterval time.Duration
	FinalPushDelay time.Duration
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(d.Log))
	r.Use(middleware.Recovery(d.Log))

	r.Use(httpkit.CORS(httpkit.CORSOptions{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAgeSeconds:    600,
	}))

	h := handlers.New(handlers.Deps{
		Svc:            d.Svc,
		SP:             d.SP,
		Speech:         d.Speech,
		Queue:          d.Queue,
		Log:            d.Log,
		ClipDir:        d.ClipDir,
		StatusInterval: d.StatusInterval,
		FinalPushDelay: d.FinalPushDelay,
	})

	// ---- HEALTH ----
	r.Get("/health", h.Health)

	// ---- STORIES ----
	r.Post("/stories", h.PostStory)
	r.Get("/stories/{jobId}", h.GetStory)
	r.Get("/stories/{jobId}/video", h.StreamVideo)

	// ---- DIRECT MEDIA ----
	r.Post("/tts", h.PostNarration)
	r.Post("/clips", h.PostClip)

	// ---- STATUS PUSH ----
	r.Get("/ws/stories/{jobId}", h.WatchStory)

	return r
}
