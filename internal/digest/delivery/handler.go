package delivery

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	digestdto "github.com/elie222/inbox-zero-sub019/internal/digest/dto"
	"github.com/elie222/inbox-zero-sub019/internal/digest/usecase"

	"github.com/gin-gonic/gin"
)

type DigestHandler struct {
	service  *usecase.DigestService
	compiler *usecase.Compiler
}

func NewDigestHandler(service *usecase.DigestService, compiler *usecase.Compiler) *DigestHandler {
	return &DigestHandler{service: service, compiler: compiler}
}

func (h *DigestHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/digest/schedule", h.GetSchedule)
	rg.PUT("/digest/schedule", h.SetSchedule)
	rg.GET("/digest/items", h.PendingItems)
	rg.GET("/digests", h.ListDigests)
	rg.POST("/digests/send-now", h.SendNow)
}

func (h *DigestHandler) GetSchedule(c *gin.Context) {
	sched, err := h.service.GetSchedule(c.Request.Context(), c.GetString("accountID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load schedule"})
		return
	}
	c.JSON(http.StatusOK, sched)
}

func (h *DigestHandler) SetSchedule(c *gin.Context) {
	var req digestdto.ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sched, err := h.service.SetSchedule(c.Request.Context(), c.GetString("accountID"),
		req.IntervalDays, req.DaysOfWeek, req.TimeOfDay, req.Enabled, time.Now())
	if err != nil {
		if errors.Is(err, usecase.ErrInvalidSchedule) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save schedule"})
		return
	}
	c.JSON(http.StatusOK, sched)
}

func (h *DigestHandler) PendingItems(c *gin.Context) {
	items, err := h.service.PendingItems(c.Request.Context(), c.GetString("accountID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load digest items"})
		return
	}
	c.JSON(http.StatusOK, digestdto.ItemsResponse{Items: items})
}

func (h *DigestHandler) ListDigests(c *gin.Context) {
	limit, offset := 20, 0
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 && v <= 100 {
		limit = v
	}
	if v, err := strconv.Atoi(c.Query("offset")); err == nil && v >= 0 {
		offset = v
	}
	digests, total, err := h.service.ListDigests(c.Request.Context(), c.GetString("accountID"), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load digests"})
		return
	}
	c.JSON(http.StatusOK, digestdto.DigestsResponse{Digests: digests, Total: total})
}

// SendNow compiles the pending items immediately, outside the schedule.
func (h *DigestHandler) SendNow(c *gin.Context) {
	digest, err := h.compiler.Compile(c.Request.Context(), c.GetString("accountID"))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to send digest"})
		return
	}
	if digest == nil {
		c.JSON(http.StatusOK, gin.H{"message": "nothing to send"})
		return
	}
	c.JSON(http.StatusOK, digest)
}
