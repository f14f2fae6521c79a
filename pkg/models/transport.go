package models

// CreateSessionRequest starts a session from an image reference
type CreateSessionRequest struct {
	ImageURL     string       `json:"image_url" binding:"required"`
	ModelQuality ModelQuality `json:"model_quality,omitempty"`
}

// QualityRequest switches the model tier of a session
type QualityRequest struct {
	ModelQuality ModelQuality `json:"model_quality" binding:"required"`
}

// ImageGeometryRequest reports the natural and on-screen size of the bound image
type ImageGeometryRequest struct {
	NaturalWidth  float64 `json:"natural_width" binding:"required,gt=0"`
	NaturalHeight float64 `json:"natural_height" binding:"required,gt=0"`
	DisplayWidth  float64 `json:"display_width" binding:"required,gt=0"`
	DisplayHeight float64 `json:"display_height" binding:"required,gt=0"`
}

// InputEventRequest is a pointer or touch event as sent by a client.
// Touch events carry Touches; pointer events carry the offset fields.
type InputEventRequest struct {
	Type    string        `json:"type"`
	OffsetX float64       `json:"offset_x"`
	OffsetY float64       `json:"offset_y"`
	Touches []TouchPoint  `json:"touches,omitempty"`
	Target  *BoundingRect `json:"target,omitempty"`
}

// TouchPoint is one active touch in client coordinates
type TouchPoint struct {
	ClientX float64 `json:"client_x"`
	ClientY float64 `json:"client_y"`
}

// BoundingRect is the client-space bounding box of an event target
type BoundingRect struct {
	Left float64 `json:"left"`
	Top  float64 `json:"top"`
}

// SelectionState is the serialised selection rectangle
type SelectionState struct {
	Show   bool    `json:"show"`
	StartX float64 `json:"startX"`
	StartY float64 `json:"startY"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// SessionResponse is the UI-facing state surface of a session
type SessionResponse struct {
	ID                 string            `json:"id"`
	ModelQuality       ModelQuality      `json:"modelQuality"`
	IsProcessing       bool              `json:"isProcessing"`
	UploadedImageSrc   string            `json:"uploadedImageSrc"`
	HasSuperresolution bool              `json:"hasSuperresolution"`
	SelectedImageURL   string            `json:"selectedImageUrl"`
	Selection          SelectionState    `json:"selection"`
	SelectionStyle     map[string]string `json:"selectionStyle"`
	Result             *UpscaleOutput    `json:"result,omitempty"`
	LastError          string            `json:"lastError,omitempty"`
}

// JobAccepted is returned when a job has been handed to the worker
type JobAccepted struct {
	JobID     string `json:"job_id"`
	SessionID string `json:"session_id,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// SelectionResponse is returned by the selection input endpoints
type SelectionResponse struct {
	PreventDefault bool              `json:"preventDefault"`
	Selection      SelectionState    `json:"selection"`
	SelectionStyle map[string]string `json:"selectionStyle"`
}

// JobStatusResponse lists the messages a job has produced so far
type JobStatusResponse struct {
	JobID    string          `json:"job_id"`
	Done     bool            `json:"done"`
	Messages []WorkerMessage `json:"messages"`
}
