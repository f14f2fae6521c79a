package models

import (
	"image"
	"strings"
)

// ModelQuality selects which super-resolution model variant serves a job
type ModelQuality string

const (
	// QualityLow selects the lightweight 2x model
	QualityLow ModelQuality = "low"
	// QualityHigh selects the higher-fidelity 4x model
	QualityHigh ModelQuality = "high"
)

// Normalize maps any value other than "low" onto QualityHigh.
// Unknown or empty tiers are a silent default, not an error.
func (q ModelQuality) Normalize() ModelQuality {
	if ModelQuality(strings.ToLower(strings.TrimSpace(string(q)))) == QualityLow {
		return QualityLow
	}
	return QualityHigh
}

// JobStatus tags terminal worker messages
type JobStatus string

const (
	StatusComplete JobStatus = "complete"
	StatusError    JobStatus = "error"
)

// JobRequest is the payload posted to the upscale worker
type JobRequest struct {
	JobID        string       `json:"jobId,omitempty"`
	ImageURL     string       `json:"imageUrl"`
	ModelQuality ModelQuality `json:"modelQuality"`
}

// Envelope mirrors the inbound worker message shape: {data: {payload: {...}}}
type Envelope struct {
	Data struct {
		Payload *JobRequest `json:"payload"`
	} `json:"data"`
}

// NewEnvelope wraps a request in the inbound message shape
func NewEnvelope(req JobRequest) Envelope {
	var env Envelope
	env.Data.Payload = &req
	return env
}

// ProgressEvent is a load/inference status payload emitted by the inference backend.
// The worker forwards it untouched.
type ProgressEvent struct {
	Status   string  `json:"status"`
	Name     string  `json:"name,omitempty"`
	File     string  `json:"file,omitempty"`
	Progress float64 `json:"progress,omitempty"`
	Loaded   int64   `json:"loaded,omitempty"`
	Total    int64   `json:"total,omitempty"`
}

// UpscaleOutput is the enhanced image produced by a pipeline run
type UpscaleOutput struct {
	Image  image.Image `json:"-"`
	Width  int         `json:"width"`
	Height int         `json:"height"`
	Scale  int         `json:"scale"`
	Model  string      `json:"model"`
}

// WorkerMessage is a single outbound worker message. Exactly one of Progress or Status is set:
// progress messages are pass-through, status messages are terminal.
type WorkerMessage struct {
	JobID    string         `json:"jobId,omitempty"`
	Progress *ProgressEvent `json:"progress,omitempty"`
	Status   JobStatus      `json:"status,omitempty"`
	Result   *UpscaleOutput `json:"result,omitempty"`
	Message  string         `json:"message,omitempty"`
	Stale    bool           `json:"stale,omitempty"`
}

// Terminal reports whether the message completes its job
func (m WorkerMessage) Terminal() bool {
	return m.Status == StatusComplete || m.Status == StatusError
}
