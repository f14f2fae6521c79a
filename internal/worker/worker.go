// Package worker runs upscale jobs off the caller's goroutine and streams their
// progress and result back as messages.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	apperrors "go-image-upscaler/internal/errors"
	"go-image-upscaler/internal/logger"
	"go-image-upscaler/internal/observer"
	"go-image-upscaler/internal/pipeline"
	"go-image-upscaler/pkg/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// State is the per-job worker state
type State string

const (
	StateIdle      State = "idle"
	StateLoading   State = "loading"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Emitter receives outbound worker messages in the order they are produced
type Emitter interface {
	Emit(msg models.WorkerMessage)
}

// EmitterFunc adapts a function to Emitter
type EmitterFunc func(msg models.WorkerMessage)

func (f EmitterFunc) Emit(msg models.WorkerMessage) { f(msg) }

// Worker owns the pipeline cache and executes jobs against it. Every posted message
// starts its own chain; chains are neither queued nor serialised, so they may interleave.
type Worker struct {
	cache  *pipeline.Cache
	events observer.Subject
	ctx    context.Context

	wg       sync.WaitGroup
	inFlight atomic.Int64
}

// New creates a worker over cache. events may be nil.
func New(cache *pipeline.Cache, events observer.Subject) *Worker {
	return &Worker{
		cache:  cache,
		events: events,
		ctx:    context.Background(),
	}
}

// Post starts a job for env and returns its job id. Messages for the job go to reply.
func (w *Worker) Post(env models.Envelope, reply Emitter) string {
	jobID := jobIDOf(env.Data.Payload)
	w.spawn(func() { w.handle(w.ctx, jobID, env.Data.Payload, nil, reply) })
	return jobID
}

// PostRaw decodes a JSON envelope and starts a job for it. Undecodable input still
// produces exactly one error message.
func (w *Worker) PostRaw(data []byte, reply Emitter) string {
	var env models.Envelope
	decodeErr := json.Unmarshal(data, &env)
	jobID := jobIDOf(env.Data.Payload)
	w.spawn(func() { w.handle(w.ctx, jobID, env.Data.Payload, decodeErr, reply) })
	return jobID
}

// Handle runs a job on the calling goroutine
func (w *Worker) Handle(ctx context.Context, env models.Envelope, reply Emitter) string {
	jobID := jobIDOf(env.Data.Payload)
	w.inFlight.Add(1)
	defer w.inFlight.Add(-1)
	w.handle(ctx, jobID, env.Data.Payload, nil, reply)
	return jobID
}

// InFlight returns the number of jobs that have not yet emitted a terminal message
func (w *Worker) InFlight() int64 {
	return w.inFlight.Load()
}

// Wait blocks until every posted job has finished or ctx is done
func (w *Worker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) spawn(fn func()) {
	w.wg.Add(1)
	w.inFlight.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.inFlight.Add(-1)
		fn()
	}()
}

func jobIDOf(req *models.JobRequest) string {
	if req != nil && strings.TrimSpace(req.JobID) != "" {
		return req.JobID
	}
	return uuid.NewString()
}

// job carries the state of one message's chain
type job struct {
	w        *Worker
	ctx      context.Context
	id       string
	tier     models.ModelQuality
	reply    Emitter
	start    time.Time
	state    State
	terminal bool
	log      *logrus.Entry
}

func (w *Worker) handle(ctx context.Context, jobID string, req *models.JobRequest, decodeErr error, reply Emitter) {
	j := &job{
		w:     w,
		ctx:   ctx,
		id:    jobID,
		reply: reply,
		start: time.Now(),
		state: StateIdle,
		log:   logger.WithField("job_id", jobID),
	}
	if req != nil {
		j.tier = req.ModelQuality.Normalize()
	}

	defer func() {
		if r := recover(); r != nil {
			j.fail(apperrors.NewInternalError("worker panic", fmt.Errorf("%v", r)))
		}
	}()

	w.publish(ctx, observer.JobEvent{EventType: observer.JobReceived, JobID: jobID, Tier: string(j.tier)})

	if decodeErr != nil {
		j.fail(apperrors.NewMalformedRequestError("invalid message", decodeErr))
		return
	}
	if req == nil {
		j.fail(apperrors.NewMalformedRequestError("message has no payload", nil))
		return
	}
	if strings.TrimSpace(req.ImageURL) == "" {
		j.fail(apperrors.NewMalformedRequestError("payload has no imageUrl", nil))
		return
	}

	j.transition(StateLoading)
	inst, err := w.cache.GetInstance(ctx, j.tier, func(ev models.ProgressEvent) {
		j.emit(models.WorkerMessage{Progress: &ev})
	})
	if err != nil {
		w.publish(ctx, observer.JobEvent{EventType: observer.PipelineFailed, JobID: jobID, Tier: string(j.tier), ErrorMessage: err.Error()})
		j.fail(apperrors.NewModelLoadError("failed to load model", err))
		return
	}
	defer inst.Release()
	w.publish(ctx, observer.JobEvent{
		EventType:  observer.PipelineReady,
		JobID:      jobID,
		Tier:       string(j.tier),
		Model:      inst.ModelID(),
		Generation: inst.Generation(),
	})

	j.transition(StateRunning)
	runStart := time.Now()
	out, err := inst.Run(ctx, req.ImageURL)
	if err != nil {
		j.fail(apperrors.NewInferenceError("inference failed", err))
		return
	}
	j.log.WithFields(logrus.Fields{
		"model":       inst.ModelID(),
		"duration_ms": time.Since(runStart).Milliseconds(),
	}).Info("Model run finished")

	stale := inst.Superseded()
	j.complete(out, stale)
	w.publish(ctx, observer.JobEvent{
		EventType:  observer.JobCompleted,
		JobID:      jobID,
		Tier:       string(j.tier),
		Model:      inst.ModelID(),
		Generation: inst.Generation(),
		Duration:   time.Since(j.start),
		Success:    true,
		Stale:      stale,
	})
}

func (w *Worker) publish(ctx context.Context, ev observer.JobEvent) {
	if w.events != nil {
		w.events.NotifyObservers(ctx, ev)
	}
}

func (j *job) transition(s State) {
	j.log.WithFields(logrus.Fields{
		"from": j.state,
		"to":   s,
	}).Debug("Worker state transition")
	j.state = s
}

// emit delivers msg to the reply port. A panicking port is logged and otherwise
// ignored so it cannot abort a pipeline build shared with other jobs.
func (j *job) emit(msg models.WorkerMessage) {
	defer func() {
		if r := recover(); r != nil {
			j.log.WithField("panic", r).Error("Reply emitter panicked")
		}
	}()
	msg.JobID = j.id
	j.reply.Emit(msg)
}

func (j *job) complete(out *models.UpscaleOutput, stale bool) {
	if j.terminal {
		return
	}
	j.terminal = true
	j.transition(StateCompleted)
	j.emit(models.WorkerMessage{Status: models.StatusComplete, Result: out, Stale: stale})
	j.transition(StateIdle)
}

func (j *job) fail(err error) {
	if j.terminal {
		return
	}
	j.terminal = true
	j.transition(StateFailed)

	errorType := ""
	if appErr, ok := err.(*apperrors.AppError); ok {
		errorType = string(appErr.Type)
	}
	j.log.WithError(err).Error("Upscale job failed")
	j.w.publish(j.ctx, observer.JobEvent{
		EventType:    observer.JobFailed,
		JobID:        j.id,
		Tier:         string(j.tier),
		Duration:     time.Since(j.start),
		ErrorType:    errorType,
		ErrorMessage: apperrors.Describe(err),
	})

	j.emit(models.WorkerMessage{Status: models.StatusError, Message: apperrors.Describe(err)})
	j.transition(StateIdle)
}
