package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"storyforge/internal/align"
	"storyforge/internal/config"
	"storyforge/internal/genai"
	"storyforge/internal/httpapi"
	"storyforge/internal/media"
	"storyforge/internal/pipeline"
	"storyforge/internal/pkg/logger"
	"storyforge/internal/pkg/shutdown"
	"storyforge/internal/renderqueue"
	"storyforge/internal/speech"
	"storyforge/internal/storage"
	"storyforge/internal/story"
)

func main() {
	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	cfgPath := getEnv("CONFIG_PATH", "config.yaml")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		AddSource:   cfg.Logging.AddSource,
		ServiceName: "storyforge-api",
	})

	if err := cfg.Validate(); err != nil {
		log.LogFatal("invalid configuration", err)
	}

	log.Info("starting StoryForge API", "version", "0.1.0", "config", cfgPath)

	shutdownMgr := shutdown.NewManager(log, cfg.Server.ShutdownTimeout)

	// Storage backend for finished videos.
	sp, err := storage.NewProvider(cfg.Storage)
	if err != nil {
		log.LogFatal("failed to initialize storage provider", err)
	}
	log.Info("storage provider initialized", "provider", sp.Provider())

	// Render workflow template shared by all jobs.
	workflow, err := renderqueue.LoadDocument(cfg.RenderQueue.WorkflowFile)
	if err != nil {
		log.LogFatal("failed to load render workflow", err)
	}

	// Provider clients.
	speechClient := speech.NewClient(
		cfg.Speech.BaseURL, cfg.Speech.Model, cfg.Speech.Voice,
		os.Getenv(cfg.Speech.APIKeyEnv), cfg.Speech.Timeout,
	)
	llmClient := genai.NewLLMClient(
		cfg.LLM.BaseURL, cfg.LLM.Model, os.Getenv(cfg.LLM.APIKeyEnv),
		genai.PromptTemplates{
			System:       cfg.Prompts.SystemPrompt,
			UserTemplate: cfg.Prompts.UserPromptTemplate,
			DefaultScene: cfg.Prompts.DefaultScenePrompt,
			Negative:     cfg.Prompts.NegativePrompt,
		},
		cfg.LLM.Timeout,
	)
	imageClient := genai.NewImageClient(
		cfg.Image.BaseURL, cfg.Image.Model, os.Getenv(cfg.Image.APIKeyEnv),
		genai.ImageOptions{
			Width:          cfg.Image.Width,
			Height:         cfg.Image.Height,
			Steps:          cfg.Image.Steps,
			NegativePrompt: cfg.Prompts.NegativePrompt,
			QualitySuffix:  cfg.Prompts.ImageQualitySuffix,
		},
		cfg.Image.Timeout,
	)
	queueClient := renderqueue.NewClient(renderqueue.Config{
		WSURL:        cfg.RenderQueue.WSURL,
		ClientID:     cfg.RenderQueue.ClientID,
		Template:     workflow,
		Nodes:        renderqueue.NodeMap(cfg.RenderQueue.Nodes),
		PollInterval: cfg.RenderQueue.PollInterval,
		Timeout:      cfg.RenderQueue.Timeout,
	}, log)

	assembler := media.NewAssembler(cfg.Media.FFmpegPath, cfg.Media.FFprobePath, cfg.Media.CaptionStyle)
	aligner := align.NewEngine(
		cfg.Alignment.WhisperPath, cfg.Alignment.WhisperModel,
		cfg.Alignment.AeneasPath, cfg.Alignment.Language,
		log,
	)

	orch := pipeline.New(
		story.NewStore(),
		speechClient, llmClient, imageClient, queueClient,
		assembler, assembler, aligner, sp,
		pipeline.Options{
			WorkDir:         cfg.Pipeline.WorkDir,
			ClipDir:         cfg.RenderQueue.OutputDir,
			SecondsPerImage: cfg.Pipeline.SecondsPerImage,
			MaxImages:       cfg.Pipeline.MaxImages,
			FrameRate:       cfg.RenderQueue.FrameRate,
			VideoFrames:     cfg.RenderQueue.VideoFrames,
			NegativePrompt:  cfg.Prompts.NegativePrompt,
		},
		log,
	)

	router := httpapi.NewRouter(httpapi.Deps{
		Svc:            orch,
		SP:             sp,
		Speech:         speechClient,
		Queue:          queueClient,
		Log:            log,
		ClipDir:        cfg.RenderQueue.OutputDir,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		StatusInterval: cfg.Pipeline.StatusInterval,
		FinalPushDelay: cfg.Pipeline.FinalPushDelay,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	go func() {
		log.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogFatal("HTTP server failed", err)
		}
	}()

	shutdownMgr.Wait()
}

// getEnv gets an environment variable with a default value.
func getEnv(key, defaultValue string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	return v
}
