// Package renderqueue drives an external image-to-video render queue
// over a websocket: submit a workflow document, poll until the queued
// render finishes, return the produced clip filename.
package renderqueue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Document is a render workflow graph keyed by node ID. Each node
// carries an "inputs" object the queue reads parameters from.
type Document map[string]map[string]any

// LoadDocument reads a workflow JSON file from disk.
func LoadDocument(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse workflow file: %w", err)
	}
	return doc, nil
}

// Clone deep-copies the document so per-job edits never leak into the
// shared template.
func (d Document) Clone() Document {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil
	}
	var out Document
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// SetInput writes one input field on a node. Unknown node IDs are
// ignored so partial node maps keep working across workflow versions.
func (d Document) SetInput(nodeID, key string, value any) {
	node, ok := d[nodeID]
	if !ok {
		return
	}
	inputs, ok := node["inputs"].(map[string]any)
	if !ok {
		inputs = map[string]any{}
		node["inputs"] = inputs
	}
	inputs[key] = value
}

// RenderParams are the per-clip values injected into the workflow.
// Zero values leave the template's setting untouched.
type RenderParams struct {
	ImagePath      string
	Prompt         string
	NegativePrompt string
	Seed           int64
	FrameRate      int
	Frames         int
	Width          int
	Height         int
	Steps          int
	CFG            float64
	SamplerName    string
	Scheduler      string
}

// NodeMap maps logical roles to workflow node IDs. Roles missing from
// the map simply leave the template's value in place.
type NodeMap map[string]string

// BuildWorkflow clones the template and injects the clip parameters
// into the mapped nodes.
func BuildWorkflow(template Document, nodes NodeMap, p RenderParams) Document {
	doc := template.Clone()

	if id, ok := nodes["positive_prompt"]; ok {
		doc.SetInput(id, "text", p.Prompt)
	}
	if id, ok := nodes["negative_prompt"]; ok {
		doc.SetInput(id, "text", p.NegativePrompt)
	}
	if id, ok := nodes["sampler"]; ok {
		doc.SetInput(id, "seed", p.Seed)
		if p.Steps > 0 {
			doc.SetInput(id, "steps", p.Steps)
		}
		if p.CFG > 0 {
			doc.SetInput(id, "cfg", p.CFG)
		}
		if p.SamplerName != "" {
			doc.SetInput(id, "sampler_name", p.SamplerName)
		}
		if p.Scheduler != "" {
			doc.SetInput(id, "scheduler", p.Scheduler)
		}
	}
	if id, ok := nodes["video_settings"]; ok && p.Frames > 0 {
		doc.SetInput(id, "length", p.Frames)
	}
	if id, ok := nodes["frame_rate"]; ok && p.FrameRate > 0 {
		doc.SetInput(id, "fps", p.FrameRate)
	}
	if id, ok := nodes["geometry"]; ok {
		if p.Width > 0 {
			doc.SetInput(id, "width", p.Width)
		}
		if p.Height > 0 {
			doc.SetInput(id, "height", p.Height)
		}
		if p.Frames > 0 {
			doc.SetInput(id, "video_frames", p.Frames)
		}
	}
	if id, ok := nodes["image_loader"]; ok {
		doc.SetInput(id, "image", filepath.Base(p.ImagePath))
	}

	return doc
}
