// Package session holds the per-user image processing state and bridges the selection
// controller to the upscale worker.
package session

import (
	"context"
	"image"
	"sync"
	"time"

	apperrors "go-image-upscaler/internal/errors"
	"go-image-upscaler/internal/logger"
	"go-image-upscaler/internal/selection"
	"go-image-upscaler/internal/storage"
	"go-image-upscaler/internal/worker"
	"go-image-upscaler/pkg/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Submitter hands a job envelope to the upscale worker and returns its job id
type Submitter interface {
	Post(env models.Envelope, reply worker.Emitter) string
}

// subscriberBuffer bounds how many undelivered messages a slow subscriber may hold
const subscriberBuffer = 64

// Session is one user's image, selection and upscale result
type Session struct {
	id        string
	submitter Submitter
	images    storage.ImageFetcher

	mu                 sync.Mutex
	selection          *selection.Controller
	modelQuality       models.ModelQuality
	uploadedImageSrc   string
	hasSuperresolution bool
	selectedImageURL   string
	isProcessing       bool
	result             *models.UpscaleOutput
	lastError          string
	activeJob          string
	resets             uint64
	lastActive         time.Time

	subMu       sync.Mutex
	subscribers map[int]chan models.WorkerMessage
	nextSub     int
}

func newSession(id string, maxSelection float64, submitter Submitter, images storage.ImageFetcher) *Session {
	return &Session{
		id:           id,
		submitter:    submitter,
		images:       images,
		selection:    selection.New(maxSelection),
		modelQuality: models.QualityLow,
		lastActive:   time.Now(),
		subscribers:  make(map[int]chan models.WorkerMessage),
	}
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

func (s *Session) touch() {
	s.lastActive = time.Now()
}

// LastActive returns when the session was last used
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Upload sets the source image and discards the previous result and selection
func (s *Session) Upload(src string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	if s.isProcessing {
		return apperrors.NewConflictError("cannot replace the image while processing", nil)
	}
	s.selection.Reset()
	s.uploadedImageSrc = src
	s.hasSuperresolution = false
	s.selectedImageURL = ""
	s.result = nil
	s.lastError = ""
	return nil
}

// UploadImage encodes img as a PNG data URL and uploads it
func (s *Session) UploadImage(img image.Image) error {
	src, err := storage.EncodeDataURL(img)
	if err != nil {
		return apperrors.NewProcessingError("failed to encode uploaded image", err)
	}
	return s.Upload(src)
}

// BindImage records the natural and displayed size of the uploaded image
func (s *Session) BindImage(g selection.Geometry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	if s.uploadedImageSrc == "" {
		return apperrors.NewValidationError("no image uploaded", nil)
	}
	if err := s.selection.BindImage(g); err != nil {
		return apperrors.NewValidationError("invalid image geometry", err)
	}
	return nil
}

// BindCanvas attaches the surface cleared on Reset
func (s *Session) BindCanvas(c selection.Canvas) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection.BindCanvas(c)
}

// SetModelQuality selects the tier used by the next submission
func (s *Session) SetModelQuality(q models.ModelQuality) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	s.modelQuality = q
}

// BeginSelection starts a selection and reports whether default scrolling must be suppressed
func (s *Session) BeginSelection(p selection.InputPoint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	return s.selection.Begin(p)
}

// ResizeSelection extends the active selection
func (s *Session) ResizeSelection(p selection.InputPoint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	return s.selection.Resize(p)
}

// EndSelection freezes the active selection
func (s *Session) EndSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	s.selection.End()
}

// Reset returns the session to its initial state. An in-flight job keeps running in the
// worker; its messages still reach subscribers but its result is no longer applied.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	s.resets++
	s.activeJob = ""
	s.setProcessingLocked(false)
	s.selection.Reset()
	s.uploadedImageSrc = ""
	s.hasSuperresolution = false
	s.selectedImageURL = ""
	s.result = nil
	s.lastError = ""
}

// Submit packages the image, tier and selection into a job and posts it to the worker.
// When a region is selected it is cropped from the source and sent as a PNG data URL.
func (s *Session) Submit(ctx context.Context) (string, error) {
	s.mu.Lock()
	s.touch()
	if s.isProcessing {
		s.mu.Unlock()
		return "", apperrors.NewConflictError("a job is already processing", nil)
	}
	if s.uploadedImageSrc == "" {
		s.mu.Unlock()
		return "", apperrors.NewValidationError("no image uploaded", nil)
	}
	src := s.uploadedImageSrc
	quality := s.modelQuality.Normalize()
	region, hasRegion := s.selection.NaturalRect()
	epoch := s.resets
	s.setProcessingLocked(true)
	s.mu.Unlock()

	imageURL := src
	if hasRegion {
		cropped, err := s.cropSource(ctx, src, region)
		if err != nil {
			s.mu.Lock()
			if s.resets == epoch {
				s.setProcessingLocked(false)
			}
			s.mu.Unlock()
			return "", err
		}
		imageURL = cropped
	}

	jobID := uuid.NewString()
	s.mu.Lock()
	if s.resets != epoch {
		// reset while the selection was being cropped
		s.mu.Unlock()
		return "", apperrors.NewConflictError("session was reset before the job was submitted", nil)
	}
	if hasRegion {
		s.selectedImageURL = imageURL
	}
	s.activeJob = jobID
	s.mu.Unlock()

	s.submitter.Post(models.NewEnvelope(models.JobRequest{
		JobID:        jobID,
		ImageURL:     imageURL,
		ModelQuality: quality,
	}), worker.EmitterFunc(s.HandleMessage))

	logger.WithFields(logrus.Fields{
		"session_id": s.id,
		"job_id":     jobID,
		"tier":       quality,
		"cropped":    hasRegion,
	}).Info("Submitted upscale job")
	return jobID, nil
}

func (s *Session) cropSource(ctx context.Context, src string, region image.Rectangle) (string, error) {
	img, err := s.images.FetchImage(ctx, src)
	if err != nil {
		return "", apperrors.NewNetworkError("failed to load source image", err)
	}
	cropped, err := storage.Crop(img, region)
	if err != nil {
		return "", apperrors.NewValidationError("selection does not overlap the image", err)
	}
	dataURL, err := storage.EncodeDataURL(cropped)
	if err != nil {
		return "", apperrors.NewProcessingError("failed to encode selection", err)
	}
	return dataURL, nil
}

func (s *Session) setProcessingLocked(processing bool) {
	s.isProcessing = processing
	s.selection.SetProcessing(processing)
}

// HandleMessage applies a worker message to the session and forwards it to subscribers.
// Terminal messages for jobs other than the active one are forwarded but not applied.
func (s *Session) HandleMessage(msg models.WorkerMessage) {
	if msg.Terminal() {
		s.mu.Lock()
		if s.activeJob != "" && s.activeJob == msg.JobID {
			s.applyResultLocked(msg)
		}
		s.mu.Unlock()
	}
	s.broadcast(msg)
}

func (s *Session) applyResultLocked(msg models.WorkerMessage) {
	s.setProcessingLocked(false)
	s.activeJob = ""
	s.touch()
	switch msg.Status {
	case models.StatusComplete:
		s.hasSuperresolution = true
		s.result = msg.Result
		s.lastError = ""
	case models.StatusError:
		s.lastError = msg.Message
	}
}

// Result returns the enhanced image of the last completed job
func (s *Session) Result() (*models.UpscaleOutput, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasSuperresolution || s.result == nil {
		return nil, false
	}
	return s.result, true
}

// IsProcessing reports whether a job is outstanding
func (s *Session) IsProcessing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isProcessing
}

// Snapshot returns the UI-facing state
func (s *Session) Snapshot() models.SessionResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.SessionResponse{
		ID:                 s.id,
		ModelQuality:       s.modelQuality,
		IsProcessing:       s.isProcessing,
		UploadedImageSrc:   s.uploadedImageSrc,
		HasSuperresolution: s.hasSuperresolution,
		SelectedImageURL:   s.selectedImageURL,
		Selection:          s.selection.Selection(),
		SelectionStyle:     s.selection.Style(),
		Result:             s.result,
		LastError:          s.lastError,
	}
}

// Subscribe returns a channel receiving every worker message for this session and a
// function that cancels the subscription. Messages are dropped for a subscriber whose
// buffer is full.
func (s *Session) Subscribe() (<-chan models.WorkerMessage, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan models.WorkerMessage, subscriberBuffer)
	s.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			if _, ok := s.subscribers[id]; ok {
				delete(s.subscribers, id)
				close(ch)
			}
		})
	}
}

func (s *Session) broadcast(msg models.WorkerMessage) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subscribers {
		select {
		case ch <- msg:
		default:
			logger.WithFields(logrus.Fields{
				"session_id": s.id,
				"subscriber": id,
			}).Warn("Dropping worker message for slow subscriber")
		}
	}
}

// close ends every subscription
func (s *Session) close() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
}
