package delivery

import (
	"errors"
	"net/http"
	"strconv"

	executiondto "github.com/elie222/inbox-zero-sub019/internal/execution/dto"
	"github.com/elie222/inbox-zero-sub019/internal/execution/usecase"
	queuedomain "github.com/elie222/inbox-zero-sub019/internal/queue/domain"

	"github.com/gin-gonic/gin"
)

type ExecutionHandler struct {
	processor *usecase.MessageProcessor
	bulk      *usecase.BulkRunner
	publisher queuedomain.Publisher
}

func NewExecutionHandler(processor *usecase.MessageProcessor, bulk *usecase.BulkRunner, publisher queuedomain.Publisher) *ExecutionHandler {
	return &ExecutionHandler{processor: processor, bulk: bulk, publisher: publisher}
}

func (h *ExecutionHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/executions", h.History)
	rg.POST("/executions/:id/approve", h.Approve)
	rg.POST("/executions/:id/reject", h.Reject)
	rg.POST("/executions/:id/rerun", h.Rerun)
	rg.POST("/bulk", h.Bulk)
}

func (h *ExecutionHandler) History(c *gin.Context) {
	limit, offset := 50, 0
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	if v, err := strconv.Atoi(c.Query("offset")); err == nil && v >= 0 {
		offset = v
	}
	recs, total, err := h.processor.History(c.Request.Context(), c.GetString("accountID"), c.Query("rule_id"), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}
	c.JSON(http.StatusOK, executiondto.HistoryResponse{Executions: recs, Total: total})
}

func (h *ExecutionHandler) Approve(c *gin.Context) {
	rec, err := h.processor.Approve(c.Request.Context(), c.GetString("accountID"), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *ExecutionHandler) Reject(c *gin.Context) {
	rec, err := h.processor.Reject(c.Request.Context(), c.GetString("accountID"), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *ExecutionHandler) Rerun(c *gin.Context) {
	if err := h.processor.Rerun(c.Request.Context(), h.publisher, c.GetString("accountID"), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "queued"})
}

func (h *ExecutionHandler) Bulk(c *gin.Context) {
	var req executiondto.BulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := h.bulk.Submit(c.Request.Context(), usecase.BulkRequest{
		AccountID:  c.GetString("accountID"),
		Operation:  req.Operation,
		Days:       req.Days,
		Limit:      req.Limit,
		MessageIDs: req.MessageIDs,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "queued"})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, usecase.ErrExecutionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
	case errors.Is(err, usecase.ErrNotPending):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, usecase.ErrInvalidBulk):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, queuedomain.ErrLockHeld):
		c.JSON(http.StatusConflict, gin.H{"error": "message is being processed"})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not complete the request"})
	}
}
