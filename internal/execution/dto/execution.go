package dto

import (
	"github.com/elie222/inbox-zero-sub019/internal/execution/domain"
	"github.com/elie222/inbox-zero-sub019/internal/execution/usecase"
)

type HistoryResponse struct {
	Executions []domain.ExecutedRule `json:"executions"`
	Total      int64                 `json:"total"`
}

type BulkRequest struct {
	Operation  usecase.BulkOperation `json:"operation" binding:"required,oneof=process archive mark_read"`
	Days       int                   `json:"days" binding:"min=0,max=30"`
	Limit      int                   `json:"limit" binding:"min=0,max=500"`
	MessageIDs []string              `json:"message_ids" binding:"max=1000"`
}
