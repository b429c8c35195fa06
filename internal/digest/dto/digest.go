package dto

import "github.com/elie222/inbox-zero-sub019/internal/digest/domain"

type ScheduleRequest struct {
	IntervalDays int  `json:"interval_days" binding:"min=0,max=60"`
	DaysOfWeek   int  `json:"days_of_week" binding:"min=0,max=127"`
	TimeOfDay    int  `json:"time_of_day" binding:"min=0,max=1439"`
	Enabled      bool `json:"enabled"`
}

type DigestsResponse struct {
	Digests []domain.Digest `json:"digests"`
	Total   int64           `json:"total"`
}

type ItemsResponse struct {
	Items []domain.Item `json:"items"`
}
