// Package story defines the job model for story-to-video generation
// and the in-memory store that tracks job state across the pipeline.
package story

import "time"

// State is the lifecycle state of a generation job.
type State string

const (
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Request is a story submission. Zero values mean "use server
// defaults": ImageCount 0 derives the count from narration duration,
// empty Voice uses the configured speech voice, zero sampler values
// keep the workflow template's settings.
type Request struct {
	Text       string `json:"text"`
	Voice      string `json:"voice,omitempty"`
	Model      string `json:"model,omitempty"`
	ImageCount int    `json:"num_images,omitempty"`

	// Clip geometry and sampler parameters forwarded to the render
	// queue workflow.
	Width       int     `json:"width,omitempty"`
	Height      int     `json:"height,omitempty"`
	VideoFrames int     `json:"video_frames,omitempty"`
	FrameRate   int     `json:"frame_rate,omitempty"`
	Seed        int64   `json:"seed,omitempty"`
	Steps       int     `json:"steps,omitempty"`
	CFG         float64 `json:"cfg,omitempty"`
	SamplerName string  `json:"sampler_name,omitempty"`
	Scheduler   string  `json:"scheduler,omitempty"`

	// Captions nil means enabled.
	Captions *bool  `json:"captions,omitempty"`
	Language string `json:"language,omitempty"`
}

// CaptionsEnabled reports whether the burn-in stage should run.
func (r Request) CaptionsEnabled() bool {
	return r.Captions == nil || *r.Captions
}

// Status is the externally visible snapshot of a job. Progress runs
// 0-100 and only moves forward. OutputFile is the storage object key
// of the finished video, set only in the completed state.
type Status struct {
	JobID         string        `json:"job_id"`
	State         State         `json:"status"`
	Progress      int           `json:"progress"`
	Message       string        `json:"message"`
	OutputFile    string        `json:"output_file,omitempty"`
	AudioDuration float64       `json:"audio_duration,omitempty"`
	ImagePrompts  []ImagePrompt `json:"image_prompts,omitempty"`
	Error         string        `json:"error,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// ImagePrompt is one derived scene description, ordered by Index.
// Index pairs the prompt with its generated image and clip.
type ImagePrompt struct {
	Index          int    `json:"index"`
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
}

// Terminal reports whether the job can no longer change state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}
