package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/cache"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/logging"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/middleware"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/payments"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/plans"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/quota"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/referral"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/settings"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/storage"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/usage"
	"github.com/therealutkarshpriyadarshi/transcribe/pkg/models"
)

// MediaStore keeps submitted files until a worker fetches them
type MediaStore interface {
	Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error
	Stat(ctx context.Context, objectName string) (int64, error)
}

// JobPublisher enqueues transcription jobs
type JobPublisher interface {
	PublishJob(ctx context.Context, job *models.TranscriptionJob) error
}

// ResultReader looks up finished jobs
type ResultReader interface {
	GetJobResult(ctx context.Context, jobID string) (*models.JobResult, error)
}

// StatsReader reads the counters workers maintain
type StatsReader interface {
	GetStat(ctx context.Context, stat string) (int64, error)
}

// QueueInspector reports broker backlog
type QueueInspector interface {
	Depth() (int, error)
	DLQDepth() (int, error)
}

// API serves the HTTP interface
type API struct {
	catalog     *plans.Catalog
	quota       *quota.Ledger
	referrals   *referral.Ledger
	settings    *settings.Service
	usage       *usage.Recorder
	payments    *payments.Service
	media       MediaStore
	jobs        JobPublisher
	results     ResultReader
	stats       StatsReader
	queues      QueueInspector
	health      map[string]func(context.Context) error
	maxFileSize int64
	logger      *logging.Logger
}

// apiError is a stable, user-safe error response
type apiError struct {
	status  int
	code    string
	message string
}

// respondError maps domain errors to HTTP responses without echoing
// internal error text.
func (api *API) respondError(c *gin.Context, err error) {
	e := classify(err)
	if e.status >= http.StatusInternalServerError {
		api.logger.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
	}
	c.JSON(e.status, gin.H{"error": e.message, "code": e.code})
}

func classify(err error) apiError {
	switch {
	case errors.Is(err, quota.ErrQuotaNotFound), errors.Is(err, referral.ErrUserNotFound):
		return apiError{http.StatusNotFound, "user_not_found", "User is not registered"}
	case errors.Is(err, payments.ErrPaymentNotFound):
		return apiError{http.StatusNotFound, "payment_not_found", "Payment not found"}
	case errors.Is(err, storage.ErrObjectNotFound):
		return apiError{http.StatusNotFound, "media_not_found", "Media file not found"}
	case errors.Is(err, payments.ErrAlreadyVerified):
		return apiError{http.StatusConflict, "already_verified", "Payment is already verified"}
	case errors.Is(err, settings.ErrFormatNotAllowed):
		return apiError{http.StatusForbidden, "format_not_allowed", "Export format is not available on your plan"}
	case errors.Is(err, plans.ErrUnknownPlan):
		return apiError{http.StatusBadRequest, "unknown_plan", "Unknown plan"}
	case errors.Is(err, payments.ErrNotPurchasable):
		return apiError{http.StatusBadRequest, "not_purchasable", "Plan cannot be purchased"}
	case errors.Is(err, payments.ErrUnsupportedCurrency):
		return apiError{http.StatusBadRequest, "unsupported_currency", "Currency is not supported"}
	case errors.Is(err, settings.ErrUnknownField):
		return apiError{http.StatusBadRequest, "unknown_setting", "Unknown setting"}
	case errors.Is(err, settings.ErrInvalidValue):
		return apiError{http.StatusBadRequest, "invalid_setting", "Invalid setting value"}
	default:
		return apiError{http.StatusInternalServerError, "internal_error", "Something went wrong"}
	}
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": message, "code": "invalid_request"})
}

func userIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// pathUser reads :id or aborts with 400
func pathUser(c *gin.Context) (int64, bool) {
	id, ok := userIDParam(c)
	if !ok {
		badRequest(c, "Invalid user ID")
	}
	return id, ok
}

// Health check endpoint
func (api *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string, len(api.health))
	healthy := true
	for name, check := range api.health {
		if err := check(ctx); err != nil {
			api.logger.WithError(err).WithField("dependency", name).Warn("Health check failed")
			checks[name] = "unhealthy"
			healthy = false
			continue
		}
		checks[name] = "healthy"
	}

	status := http.StatusOK
	overall := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	}
	c.JSON(status, gin.H{"status": overall, "checks": checks})
}

func (api *API) listPlans(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"plans": api.catalog.List()})
}

func (api *API) registerUser(c *gin.Context) {
	var req struct {
		referral.NewUser
		ReferralCode string `json:"referral_code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid registration request")
		return
	}

	user, err := api.referrals.RegisterUser(c.Request.Context(), req.NewUser, req.ReferralCode)
	switch {
	case errors.Is(err, referral.ErrAlreadyRegistered):
		c.JSON(http.StatusOK, gin.H{"user": user, "created": false})
	case err != nil:
		api.respondError(c, err)
	default:
		c.JSON(http.StatusCreated, gin.H{"user": user, "created": true})
	}
}

func (api *API) getQuota(c *gin.Context) {
	userID, ok := pathUser(c)
	if !ok {
		return
	}

	q, err := api.quota.GetQuota(c.Request.Context(), userID)
	if err != nil {
		api.respondError(c, err)
		return
	}

	plan, err := api.catalog.Lookup(q.PlanType)
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"quota":     q,
		"remaining": quota.Remaining(q),
		"unlimited": q.IsUnlimited(),
		"plan":      plan,
	})
}

func (api *API) getSettings(c *gin.Context) {
	userID, ok := pathUser(c)
	if !ok {
		return
	}

	s, err := api.settings.Get(c.Request.Context(), userID)
	if err != nil {
		api.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (api *API) updateSettings(c *gin.Context) {
	userID, ok := pathUser(c)
	if !ok {
		return
	}

	var upd settings.Update
	if err := c.ShouldBindJSON(&upd); err != nil {
		badRequest(c, "Invalid settings request")
		return
	}

	s, err := api.settings.Update(c.Request.Context(), userID, upd)
	if err != nil {
		api.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (api *API) getUsage(c *gin.Context) {
	userID, ok := pathUser(c)
	if !ok {
		return
	}

	summary, err := api.usage.Summary(c.Request.Context(), userID)
	if err != nil {
		api.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (api *API) getReferrals(c *gin.Context) {
	userID, ok := pathUser(c)
	if !ok {
		return
	}

	stats, err := api.referrals.Stats(c.Request.Context(), userID)
	if err != nil {
		api.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// submitTranscription accepts either a multipart upload (fields file, kind)
// or a JSON body naming an object already in the media bucket, then queues a
// job. Size is checked early; duration and quota are checked by the worker.
func (api *API) submitTranscription(c *gin.Context) {
	userID, ok := pathUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var req struct {
		Media    models.MediaRef `json:"media"`
		Language string          `json:"language"`
		TaskType string          `json:"task_type"`
		ReplyTo  string          `json:"reply_to"`
	}

	if file, err := c.FormFile("file"); err == nil {
		req.Media.Kind = models.MediaKind(c.PostForm("kind"))
		req.Language = c.PostForm("language")
		req.TaskType = c.PostForm("task_type")
		req.ReplyTo = c.PostForm("reply_to")
		if !req.Media.Kind.Valid() {
			badRequest(c, "Unsupported media kind")
			return
		}
		if file.Size > api.maxFileSize {
			api.tooLarge(c, file.Size)
			return
		}

		src, err := file.Open()
		if err != nil {
			badRequest(c, "Could not read uploaded file")
			return
		}
		defer src.Close()

		key := fmt.Sprintf("%s%s.%s", models.UploadDir(userID), uuid.New().String(), req.Media.Kind.Extension())
		if err := api.media.Upload(ctx, key, src, file.Size, storage.ContentTypeFor(path.Base(key))); err != nil {
			api.respondError(c, err)
			return
		}
		req.Media.Key = key
	} else {
		if err := c.ShouldBindJSON(&req); err != nil || req.Media.Key == "" {
			badRequest(c, "A file upload or a media key is required")
			return
		}
		if !req.Media.Kind.Valid() {
			badRequest(c, "Unsupported media kind")
			return
		}
		// End users may only name their own uploads; service callers pass
		// keys they stored themselves.
		if claims, ok := middleware.GetClaims(c); ok && claims.Role == middleware.RoleUser && !req.Media.UploadedBy(userID) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Media does not belong to this user", "code": "media_forbidden"})
			return
		}
		size, err := api.media.Stat(ctx, req.Media.Key)
		if err != nil {
			api.respondError(c, err)
			return
		}
		if size > api.maxFileSize {
			api.tooLarge(c, size)
			return
		}
	}

	// Unregistered users are turned away before anything is queued.
	q, err := api.quota.GetQuota(ctx, userID)
	if err != nil {
		api.respondError(c, err)
		return
	}
	plan, err := api.catalog.Lookup(q.PlanType)
	if err != nil {
		api.respondError(c, err)
		return
	}

	prefs, err := api.settings.Get(ctx, userID)
	if err != nil {
		api.respondError(c, err)
		return
	}
	if req.Language == "" {
		req.Language = prefs.TranscribeLang
	}
	if req.TaskType == "" {
		req.TaskType = prefs.TaskType
	}

	job := &models.TranscriptionJob{
		ID:        uuid.New().String(),
		UserID:    userID,
		ReplyTo:   req.ReplyTo,
		Media:     req.Media,
		Language:  req.Language,
		TaskType:  req.TaskType,
		Priority:  uint8(plan.Priority),
		CreatedAt: time.Now().UTC(),
	}
	if err := api.jobs.PublishJob(ctx, job); err != nil {
		api.respondError(c, err)
		return
	}

	api.logger.WithUserID(userID).WithJobID(job.ID).Info("Transcription job queued")
	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID, "status": "queued", "media": job.Media})
}

func (api *API) tooLarge(c *gin.Context, size int64) {
	c.JSON(http.StatusRequestEntityTooLarge, gin.H{
		"error":    "The file is larger than the allowed size.",
		"code":     "file_too_large",
		"size":     size,
		"max_size": api.maxFileSize,
	})
}

func (api *API) getTranscription(c *gin.Context) {
	jobID := c.Param("id")

	result, err := api.results.GetJobResult(c.Request.Context(), jobID)
	if err != nil {
		api.respondError(c, err)
		return
	}
	if result == nil {
		c.JSON(http.StatusAccepted, gin.H{"job_id": jobID, "status": "pending"})
		return
	}

	if claims, ok := middleware.GetClaims(c); ok && claims.Role == middleware.RoleUser && claims.UserID != result.UserID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions", "code": "forbidden"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (api *API) requestPayment(c *gin.Context) {
	var req struct {
		UserID   int64  `json:"user_id" binding:"required"`
		PlanType string `json:"plan_type" binding:"required"`
		Currency string `json:"currency"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid payment request")
		return
	}
	if claims, ok := middleware.GetClaims(c); ok && claims.Role == middleware.RoleUser && claims.UserID != req.UserID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions", "code": "forbidden"})
		return
	}
	if req.Currency == "" {
		req.Currency = models.CurrencyUSD
	}

	payment, err := api.payments.Request(c.Request.Context(), req.UserID, req.PlanType, req.Currency)
	if err != nil {
		api.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, payment)
}

// getStats reports outcome counters and queue backlog for operators
func (api *API) getStats(c *gin.Context) {
	ctx := c.Request.Context()

	outcomes := make(map[string]int64)
	for _, code := range pipeline.Codes() {
		n, err := api.stats.GetStat(ctx, cache.OutcomeStat(string(code)))
		if err != nil {
			api.respondError(c, err)
			return
		}
		outcomes[string(code)] = n
	}
	retries, err := api.stats.GetStat(ctx, cache.StatRetries)
	if err != nil {
		api.respondError(c, err)
		return
	}

	resp := gin.H{"outcomes": outcomes, "retries": retries}
	if api.queues != nil {
		depth, err := api.queues.Depth()
		if err != nil {
			api.respondError(c, err)
			return
		}
		dlq, err := api.queues.DLQDepth()
		if err != nil {
			api.respondError(c, err)
			return
		}
		resp["queue"] = gin.H{"pending": depth, "dead_lettered": dlq}
	}
	c.JSON(http.StatusOK, resp)
}

func (api *API) verifyPayment(c *gin.Context) {
	payment, err := api.payments.Verify(c.Request.Context(), c.Param("id"))
	if err != nil {
		api.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}
