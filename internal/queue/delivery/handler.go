package delivery

import (
	"crypto/subtle"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/elie222/inbox-zero-sub019/internal/queue/domain"
	"github.com/elie222/inbox-zero-sub019/internal/queue/repository"
	"github.com/elie222/inbox-zero-sub019/internal/queue/usecase"
	"github.com/elie222/inbox-zero-sub019/pkg/logger"

	"github.com/gin-gonic/gin"
)

// QueueHandler exposes task handlers over HTTP so an external scheduler
// or another instance can deliver tasks, plus a small admin surface for
// parked jobs.
type QueueHandler struct {
	controller *usecase.Controller
	jobs       repository.JobRepository
	secret     string
}

func NewQueueHandler(controller *usecase.Controller, jobs repository.JobRepository, secret string) *QueueHandler {
	return &QueueHandler{controller: controller, jobs: jobs, secret: secret}
}

// RequireSecret rejects requests without the shared queue secret. With
// no secret configured the HTTP surface is disabled.
func (h *QueueHandler) RequireSecret() gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(usecase.SecretHeader)
		if h.secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid queue secret"})
			return
		}
		c.Next()
	}
}

// Deliver runs the task named by the path synchronously. A non-2xx
// response tells the caller to retry.
func (h *QueueHandler) Deliver(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read body"})
		return
	}
	task := &domain.Task{URL: c.Request.URL.Path, Body: body, Attempt: 1}
	if err := h.controller.Dispatch(c.Request.Context(), task); err != nil {
		logger.Logger.Warn().Err(err).Str("url", task.URL).Msg("[Queue] HTTP delivery failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "task failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *QueueHandler) ListParked(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	jobs, total, err := h.jobs.ListParked(limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to list parked jobs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "total": total})
}

func (h *QueueHandler) RetryParked(c *gin.Context) {
	if err := h.jobs.Requeue(c.Param("id"), time.Now().UTC()); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "parked job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "queued"})
}
