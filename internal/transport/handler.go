package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go-image-upscaler/internal/config"
	apperrors "go-image-upscaler/internal/errors"
	"go-image-upscaler/internal/logger"
	"go-image-upscaler/internal/repository"
	"go-image-upscaler/internal/selection"
	"go-image-upscaler/internal/session"
	"go-image-upscaler/internal/storage"
	"go-image-upscaler/internal/worker"
	"go-image-upscaler/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// JobRunner accepts jobs for the upscale worker
type JobRunner interface {
	Post(env models.Envelope, reply worker.Emitter) string
	PostRaw(data []byte, reply worker.Emitter) string
	InFlight() int64
}

// PipelineStatus reports the live pipeline instance
type PipelineStatus interface {
	Current() (models.ModelQuality, uint64, bool)
}

// Dependencies are the services the HTTP API is built on
type Dependencies struct {
	Config    *config.Config
	Sessions  *session.Manager
	Worker    JobRunner
	Pipelines PipelineStatus
	Images    repository.ImageRepository
	Jobs      *JobStore
	Metrics   http.Handler
}

// NewHandler builds the gin engine serving the upscaler API
func NewHandler(deps Dependencies) http.Handler {
	r := gin.New()

	// Add middleware
	r.Use(
		gin.Recovery(),
		requestLogger(),
		requestSizeLimiter(deps.Config.MaxRequestBodySize),
		errorHandler(),
	)

	// Configure routes
	r.GET("/health", healthCheck(deps))
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	v1 := r.Group("/v1")
	{
		sessions := v1.Group("/sessions")
		sessions.POST("", createSession(deps))
		sessions.GET("/:id", getSession(deps.Sessions))
		sessions.DELETE("/:id", deleteSession(deps.Sessions))
		sessions.PUT("/:id/quality", setQuality(deps.Sessions))
		sessions.PUT("/:id/image", bindImage(deps.Sessions))
		sessions.POST("/:id/selection/:action", selectionInput(deps.Sessions))
		sessions.POST("/:id/reset", resetSession(deps.Sessions))
		sessions.POST("/:id/process", processSession(deps))
		sessions.GET("/:id/events", streamEvents(deps.Sessions, deps.Config.AllowedOrigins))
		sessions.GET("/:id/result", sessionResult(deps.Sessions))

		v1.POST("/jobs", submitJob(deps))
		v1.GET("/jobs/:id", getJob(deps.Jobs))
		v1.POST("/worker/messages", postWorkerMessage(deps))
	}

	return r
}

func healthCheck(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{
			"status":   "available",
			"version":  "1.0.0",
			"time":     time.Now().UTC().Format(time.RFC3339),
			"sessions": deps.Sessions.Len(),
			"jobs":     deps.Worker.InFlight(),
		}
		if deps.Pipelines != nil {
			if tier, gen, ok := deps.Pipelines.Current(); ok {
				body["pipeline"] = gin.H{"tier": tier, "generation": gen}
			}
		}
		c.JSON(http.StatusOK, body)
	}
}

func createSession(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		s := deps.Sessions.Create()
		created := false
		defer func() {
			if !created {
				_ = deps.Sessions.Delete(s.ID())
			}
		}()

		if strings.HasPrefix(c.ContentType(), "multipart/") {
			if err := uploadMultipart(c, s); err != nil {
				respondAppError(c, "invalid upload", err)
				return
			}
			if q := c.PostForm("model_quality"); q != "" {
				s.SetModelQuality(models.ModelQuality(q))
			}
		} else {
			var req models.CreateSessionRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, http.StatusBadRequest, "invalid request format", err)
				return
			}
			if err := deps.Images.ValidateImageURL(req.ImageURL); err != nil {
				logger.WithError(err).WithField("ip", c.ClientIP()).Warn("Invalid image URL")
				respondAppError(c, "invalid image URL", err)
				return
			}
			if err := s.Upload(req.ImageURL); err != nil {
				respondAppError(c, "upload failed", err)
				return
			}
			if req.ModelQuality != "" {
				s.SetModelQuality(req.ModelQuality)
			}
		}

		created = true
		logger.WithFields(logrus.Fields{
			"session_id": s.ID(),
			"ip":         c.ClientIP(),
		}).Info("Session created")
		c.JSON(http.StatusCreated, s.Snapshot())
	}
}

func uploadMultipart(c *gin.Context, s *session.Session) error {
	header, err := c.FormFile("image")
	if err != nil {
		return apperrors.NewValidationError("multipart field \"image\" is required", err)
	}
	f, err := header.Open()
	if err != nil {
		return apperrors.NewValidationError("failed to read upload", err)
	}
	defer f.Close()

	img, err := storage.DecodeImage(f)
	if err != nil {
		return apperrors.NewValidationError("upload is not a supported image", err)
	}
	return s.UploadImage(img)
}

func getSession(sessions *session.Manager) gin.HandlerFunc {
	return withSession(sessions, func(c *gin.Context, s *session.Session) {
		c.JSON(http.StatusOK, s.Snapshot())
	})
}

func deleteSession(sessions *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := sessions.Delete(c.Param("id")); err != nil {
			respondAppError(c, "session lookup failed", err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func setQuality(sessions *session.Manager) gin.HandlerFunc {
	return withSession(sessions, func(c *gin.Context, s *session.Session) {
		var req models.QualityRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "invalid request format", err)
			return
		}
		s.SetModelQuality(req.ModelQuality)
		c.JSON(http.StatusOK, s.Snapshot())
	})
}

func bindImage(sessions *session.Manager) gin.HandlerFunc {
	return withSession(sessions, func(c *gin.Context, s *session.Session) {
		var req models.ImageGeometryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "invalid request format", err)
			return
		}
		err := s.BindImage(selection.Geometry{
			NaturalWidth:  req.NaturalWidth,
			NaturalHeight: req.NaturalHeight,
			DisplayWidth:  req.DisplayWidth,
			DisplayHeight: req.DisplayHeight,
		})
		if err != nil {
			respondAppError(c, "failed to bind image", err)
			return
		}
		c.JSON(http.StatusOK, s.Snapshot())
	})
}

func selectionInput(sessions *session.Manager) gin.HandlerFunc {
	return withSession(sessions, func(c *gin.Context, s *session.Session) {
		action := c.Param("action")
		var preventDefault bool

		switch action {
		case "begin", "resize":
			var req models.InputEventRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, http.StatusBadRequest, "invalid request format", err)
				return
			}
			point, err := selection.FromRequest(req)
			if err != nil {
				respondError(c, http.StatusBadRequest, "invalid input event", err)
				return
			}
			if action == "begin" {
				preventDefault = s.BeginSelection(point)
			} else {
				preventDefault = s.ResizeSelection(point)
			}
		case "end":
			s.EndSelection()
		default:
			respondError(c, http.StatusNotFound, "unknown selection action", errors.New(action))
			return
		}

		snap := s.Snapshot()
		c.JSON(http.StatusOK, models.SelectionResponse{
			PreventDefault: preventDefault,
			Selection:      snap.Selection,
			SelectionStyle: snap.SelectionStyle,
		})
	})
}

func resetSession(sessions *session.Manager) gin.HandlerFunc {
	return withSession(sessions, func(c *gin.Context, s *session.Session) {
		s.Reset()
		c.JSON(http.StatusOK, s.Snapshot())
	})
}

func processSession(deps Dependencies) gin.HandlerFunc {
	return withSession(deps.Sessions, func(c *gin.Context, s *session.Session) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), deps.Config.RequestTimeout)
		defer cancel()

		jobID, err := s.Submit(ctx)
		if err != nil {
			respondAppError(c, "failed to submit job", err)
			return
		}
		c.JSON(http.StatusAccepted, models.JobAccepted{JobID: jobID, SessionID: s.ID()})
	})
}

func sessionResult(sessions *session.Manager) gin.HandlerFunc {
	return withSession(sessions, func(c *gin.Context, s *session.Session) {
		result, ok := s.Result()
		if !ok || result.Image == nil {
			respondError(c, http.StatusNotFound, "no result", errors.New("session has no enhanced image"))
			return
		}
		var buf bytes.Buffer
		if err := storage.EncodePNG(&buf, result.Image); err != nil {
			respondError(c, http.StatusInternalServerError, "failed to encode result", err)
			return
		}
		c.Data(http.StatusOK, "image/png", buf.Bytes())
	})
}

func submitJob(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.JobRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "invalid request format", err)
			return
		}
		if err := deps.Images.ValidateImageURL(req.ImageURL); err != nil {
			respondAppError(c, "invalid image URL", err)
			return
		}
		if strings.TrimSpace(req.JobID) == "" {
			req.JobID = uuid.NewString()
		}
		if !deps.Jobs.Track(req.JobID) {
			respondAppError(c, "failed to submit job", duplicateJobError(req.JobID))
			return
		}
		jobID := deps.Worker.Post(models.NewEnvelope(req), deps.Jobs)

		logger.WithFields(logrus.Fields{
			"job_id": jobID,
			"tier":   req.ModelQuality.Normalize(),
			"ip":     c.ClientIP(),
		}).Info("Upscale job accepted")
		c.JSON(http.StatusAccepted, models.JobAccepted{JobID: jobID})
	}
}

// postWorkerMessage hands a raw {data:{payload}} envelope to the worker unchanged.
// Malformed envelopes are still accepted; the job then ends with an error message.
func postWorkerMessage(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			respondError(c, http.StatusRequestEntityTooLarge, "failed to read message", err)
			return
		}
		// A client-chosen id must be claimed before the worker can emit under it
		var env models.Envelope
		if json.Unmarshal(body, &env) == nil && env.Data.Payload != nil {
			if id := env.Data.Payload.JobID; strings.TrimSpace(id) != "" && !deps.Jobs.Track(id) {
				respondAppError(c, "failed to submit message", duplicateJobError(id))
				return
			}
		}
		jobID := deps.Worker.PostRaw(body, deps.Jobs)
		deps.Jobs.Track(jobID)
		c.JSON(http.StatusAccepted, models.JobAccepted{JobID: jobID})
	}
}

func duplicateJobError(jobID string) error {
	return apperrors.NewConflictError("job id already in use", errors.New(jobID))
}

func getJob(jobs *JobStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, ok := jobs.Get(c.Param("id"))
		if !ok {
			respondError(c, http.StatusNotFound, "job not found", errors.New(c.Param("id")))
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

func withSession(sessions *session.Manager, fn func(c *gin.Context, s *session.Session)) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := sessions.Get(c.Param("id"))
		if err != nil {
			respondAppError(c, "session lookup failed", err)
			return
		}
		fn(c, s)
	}
}

// Middleware and helper functions
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"ip":          c.ClientIP(),
		}).Debug("Request handled")
	}
}

func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func errorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			err := c.Errors.Last().Err
			respondError(c, determineStatusCode(err), "request processing failed", err)
		}
	}
}

func determineStatusCode(err error) int {
	// Check if it's a custom app error first
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	// Fallback to context-based errors
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func respondAppError(c *gin.Context, message string, err error) {
	respondError(c, determineStatusCode(err), message, err)
}

func respondError(c *gin.Context, code int, message string, err error) {
	// Log the error with context
	entry := logger.WithError(err).WithFields(logrus.Fields{
		"status_code": code,
		"message":     message,
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
		"ip":          c.ClientIP(),
	})
	if code >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Warn("Request rejected")
	}

	c.AbortWithStatusJSON(code, models.ErrorResponse{
		Error:   http.StatusText(code),
		Message: message + ": " + apperrors.Describe(err),
	})
}
