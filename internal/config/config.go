package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Storage     StorageConfig     `yaml:"storage"`
	Speech      SpeechConfig      `yaml:"speech"`
	LLM         LLMConfig         `yaml:"llm"`
	Image       ImageConfig       `yaml:"image"`
	RenderQueue RenderQueueConfig `yaml:"render_queue"`
	Prompts     PromptsConfig     `yaml:"prompts"`
	Media       MediaConfig       `yaml:"media"`
	Alignment   AlignmentConfig   `yaml:"alignment"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// StorageConfig selects the artifact backend for finished videos.
// Google Drive credentials stay in the environment, not in this file.
type StorageConfig struct {
	Provider       string `yaml:"provider"`
	LocalRoot      string `yaml:"local_root"`
	GDriveFolderID string `yaml:"gdrive_folder_id"`
}

// SpeechConfig holds the text-to-speech provider settings
type SpeechConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Model     string        `yaml:"model"`
	Voice     string        `yaml:"voice"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Timeout   time.Duration `yaml:"timeout"`
}

// LLMConfig holds the chat-completion provider used for prompt derivation
type LLMConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Model     string        `yaml:"model"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Timeout   time.Duration `yaml:"timeout"`
}

// ImageConfig holds the text-to-image provider settings
type ImageConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Model     string        `yaml:"model"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Timeout   time.Duration `yaml:"timeout"`
	Width     int           `yaml:"width"`
	Height    int           `yaml:"height"`
	Steps     int           `yaml:"steps"`
}

// RenderQueueConfig holds the websocket render queue settings.
// Nodes maps logical roles (positive_prompt, sampler, image_loader ...)
// to node IDs inside the workflow document.
type RenderQueueConfig struct {
	WSURL        string            `yaml:"ws_url"`
	ClientID     string            `yaml:"client_id"`
	PollInterval time.Duration     `yaml:"poll_interval"`
	Timeout      time.Duration     `yaml:"timeout"`
	WorkflowFile string            `yaml:"workflow_file"`
	OutputDir    string            `yaml:"output_dir"`
	FrameRate    int               `yaml:"frame_rate"`
	VideoFrames  int               `yaml:"video_frames"`
	Nodes        map[string]string `yaml:"nodes"`
}

// PromptsConfig holds the prompt templates driving prompt derivation.
// UserPromptTemplate supports {count} and {text} placeholders.
type PromptsConfig struct {
	SystemPrompt       string `yaml:"system_prompt"`
	UserPromptTemplate string `yaml:"user_prompt_template"`
	DefaultScenePrompt string `yaml:"default_scene_prompt"`
	NegativePrompt     string `yaml:"negative_prompt"`
	ImageQualitySuffix string `yaml:"image_quality_suffix"`
}

// MediaConfig holds ffmpeg assembly settings
type MediaConfig struct {
	FFmpegPath   string `yaml:"ffmpeg_path"`
	FFprobePath  string `yaml:"ffprobe_path"`
	CaptionStyle string `yaml:"caption_style"`
}

// AlignmentConfig holds caption alignment settings
type AlignmentConfig struct {
	WhisperPath  string `yaml:"whisper_path"`
	WhisperModel string `yaml:"whisper_model"`
	AeneasPath   string `yaml:"aeneas_path"`
	Language     string `yaml:"language"`
}

// PipelineConfig holds orchestrator settings
type PipelineConfig struct {
	WorkDir         string        `yaml:"work_dir"`
	SecondsPerImage float64       `yaml:"seconds_per_image"`
	MaxImages       int           `yaml:"max_images"`
	StatusInterval  time.Duration `yaml:"status_interval"`
	FinalPushDelay  time.Duration `yaml:"final_push_delay"`
}

// Load reads and parses the configuration file, then applies defaults.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Storage.Provider == "" {
		c.Storage.Provider = "localfs"
	}
	if c.Storage.LocalRoot == "" {
		c.Storage.LocalRoot = "./data/videos"
	}

	if c.Speech.Timeout == 0 {
		c.Speech.Timeout = 2 * time.Minute
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 2 * time.Minute
	}
	if c.Image.Timeout == 0 {
		c.Image.Timeout = 5 * time.Minute
	}
	if c.Image.Width == 0 {
		c.Image.Width = 1024
	}
	if c.Image.Height == 0 {
		c.Image.Height = 1024
	}
	if c.Image.Steps == 0 {
		c.Image.Steps = 30
	}

	if c.RenderQueue.PollInterval == 0 {
		c.RenderQueue.PollInterval = 2 * time.Second
	}
	if c.RenderQueue.Timeout == 0 {
		c.RenderQueue.Timeout = 10 * time.Minute
	}
	if c.RenderQueue.FrameRate == 0 {
		c.RenderQueue.FrameRate = 24
	}

	if c.Prompts.DefaultScenePrompt == "" {
		c.Prompts.DefaultScenePrompt = "A cinematic scene with dramatic lighting"
	}

	if c.Media.FFmpegPath == "" {
		c.Media.FFmpegPath = "ffmpeg"
	}
	if c.Media.FFprobePath == "" {
		c.Media.FFprobePath = "ffprobe"
	}
	if c.Media.CaptionStyle == "" {
		c.Media.CaptionStyle = "Fontname=Arial,FontSize=24,PrimaryColour=&Hffffff,OutlineColour=&H000000,Outline=2,Alignment=2,MarginV=40"
	}

	if c.Alignment.Language == "" {
		c.Alignment.Language = "en"
	}

	if c.Pipeline.WorkDir == "" {
		c.Pipeline.WorkDir = "./data/work"
	}
	if c.Pipeline.SecondsPerImage == 0 {
		c.Pipeline.SecondsPerImage = 5
	}
	if c.Pipeline.StatusInterval == 0 {
		c.Pipeline.StatusInterval = 2 * time.Second
	}
	if c.Pipeline.FinalPushDelay == 0 {
		c.Pipeline.FinalPushDelay = 5 * time.Second
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	switch c.Storage.Provider {
	case "localfs", "gdrive":
	default:
		return fmt.Errorf("unknown storage provider: %s", c.Storage.Provider)
	}

	if c.Speech.BaseURL == "" {
		return fmt.Errorf("speech base_url is required")
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("llm base_url is required")
	}
	if c.Image.BaseURL == "" {
		return fmt.Errorf("image base_url is required")
	}

	if c.RenderQueue.WSURL == "" {
		return fmt.Errorf("render_queue ws_url is required")
	}
	if !strings.HasPrefix(c.RenderQueue.WSURL, "ws://") && !strings.HasPrefix(c.RenderQueue.WSURL, "wss://") {
		return fmt.Errorf("render_queue ws_url must use ws:// or wss:// scheme")
	}
	if c.RenderQueue.WorkflowFile == "" {
		return fmt.Errorf("render_queue workflow_file is required")
	}

	if c.Pipeline.SecondsPerImage <= 0 {
		return fmt.Errorf("pipeline seconds_per_image must be greater than 0")
	}

	return nil
}
