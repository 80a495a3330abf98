package connector

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cnap-oss/sheetflow/internal/controller"
	"github.com/cnap-oss/sheetflow/internal/storage"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// UpdateCellRequest는 cell.updateCell 요청 본문입니다.
type UpdateCellRequest struct {
	SheetID  string `json:"sheetId" binding:"required"`
	RowIndex int    `json:"rowIndex"`
	ColIndex int    `json:"colIndex"`
	Content  string `json:"content"`
}

// ClearCellsRequest는 cell.clearCells 요청 본문입니다.
type ClearCellsRequest struct {
	SheetID      string `json:"sheetId" binding:"required"`
	RowIndex     int    `json:"rowIndex"`
	FromColIndex int    `json:"fromColIndex"`
}

// ReprocessColumnRequest는 cell.reprocessColumn 요청 본문입니다.
type ReprocessColumnRequest struct {
	SheetID  string `json:"sheetId" binding:"required"`
	ColIndex int    `json:"colIndex"`
}

// RetryEventRequest는 cell.retryEvent 요청 본문입니다.
type RetryEventRequest struct {
	EventID string `json:"eventId" binding:"required"`
}

// CreateRowsRequest는 대량 행 생성 요청 본문입니다. 각 행은 0번 컬럼부터의 값입니다.
type CreateRowsRequest struct {
	Rows [][]string `json:"rows" binding:"required"`
}

// EventView는 UI에 노출되는 이벤트 표현입니다.
type EventView struct {
	ID          string     `json:"id"`
	SheetID     string     `json:"sheetId"`
	EventType   string     `json:"eventType"`
	RowIndex    int        `json:"rowIndex"`
	ColIndex    int        `json:"colIndex"`
	Content     string     `json:"content"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retryCount"`
	RetryOf     string     `json:"retryOf,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
}

func toEventView(ev *storage.Event) EventView {
	return EventView{
		ID:          ev.EventID,
		SheetID:     ev.SheetID,
		EventType:   ev.EventType,
		RowIndex:    ev.RowIndex,
		ColIndex:    ev.ColIndex,
		Content:     ev.Payload.Data().Content,
		Status:      ev.Status,
		RetryCount:  ev.RetryCount,
		RetryOf:     ev.RetryOf,
		LastError:   ev.LastError,
		CreatedAt:   ev.CreatedAt,
		ProcessedAt: ev.ProcessedAt,
	}
}

func (s *Connector) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Connector) handleMetrics(c *gin.Context) {
	body := gin.H{"controller": s.controller.Metrics().GetSnapshot()}
	if s.opMetrics != nil {
		body["operator"] = s.opMetrics.GetSnapshot()
	}
	c.JSON(http.StatusOK, body)
}

// handleProcessEvents는 pending 이벤트가 있는 모든 시트를 tick 합니다.
func (s *Connector) handleProcessEvents(c *gin.Context) {
	res, err := s.controller.TickAll(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// handleUpdateSheet는 sheetId 쿼리로 지정된 시트 하나를 tick 합니다.
func (s *Connector) handleUpdateSheet(c *gin.Context) {
	sheetID := c.Query("sheetId")
	if sheetID == "" {
		abortWithError(c, http.StatusBadRequest, fmt.Errorf("sheetId is required"))
		return
	}
	res, err := s.controller.TickSheet(c.Request.Context(), sheetID, c.GetString(ctxKeyUserID))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Connector) handleUpdateCell(c *gin.Context) {
	var req UpdateCellRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	res, err := s.controller.UpdateCell(c.Request.Context(), controller.UpdateCellRequest{
		SheetID:  req.SheetID,
		UserID:   c.GetString(ctxKeyUserID),
		RowIndex: req.RowIndex,
		ColIndex: req.ColIndex,
		Content:  req.Content,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": res})
}

func (s *Connector) handleGetEvents(c *gin.Context) {
	sheetID := c.Query("sheetId")
	if sheetID == "" {
		abortWithError(c, http.StatusBadRequest, fmt.Errorf("sheetId is required"))
		return
	}
	limit := storage.DefaultEventLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			abortWithError(c, http.StatusBadRequest, fmt.Errorf("invalid limit: %q", raw))
			return
		}
		limit = n
	}
	newestFirst := true
	switch order := c.DefaultQuery("order", orderNewest); order {
	case orderNewest:
	case orderOldest:
		newestFirst = false
	default:
		abortWithError(c, http.StatusBadRequest, fmt.Errorf("invalid order: %q", order))
		return
	}

	events, err := s.controller.ListEvents(c.Request.Context(), sheetID, c.GetString(ctxKeyUserID), limit, newestFirst)
	if err != nil {
		s.respondError(c, err)
		return
	}
	views := make([]EventView, 0, len(events))
	for i := range events {
		views = append(views, toEventView(&events[i]))
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": views})
}

func (s *Connector) handleClearCells(c *gin.Context) {
	var req ClearCellsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	res, err := s.controller.ClearRange(c.Request.Context(), req.SheetID, c.GetString(ctxKeyUserID), req.RowIndex, req.FromColIndex)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": res})
}

func (s *Connector) handleReprocessColumn(c *gin.Context) {
	var req ReprocessColumnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	res, err := s.controller.ReprocessColumn(c.Request.Context(), req.SheetID, c.GetString(ctxKeyUserID), req.ColIndex)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": res})
}

func (s *Connector) handleRetryEvent(c *gin.Context) {
	var req RetryEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	ev, err := s.controller.RetryEvent(c.Request.Context(), c.GetString(ctxKeyUserID), req.EventID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": toEventView(ev)})
}

func (s *Connector) handleCreateRows(c *gin.Context) {
	var req CreateRowsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	res, err := s.controller.BulkCreateRows(c.Request.Context(), c.Param("sheetId"), c.GetString(ctxKeyUserID), req.Rows)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": res})
}

// respondError는 에러 종류에 따라 상태 코드를 결정합니다.
// 구성/입력 에러는 4xx, 그 외 인프라 에러는 500입니다.
func (s *Connector) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case controller.IsNotFound(err):
		status = http.StatusNotFound
	case controller.IsInvalidRequest(err):
		status = http.StatusBadRequest
	case errors.Is(err, controller.ErrNotConfigured):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	abortWithError(c, status, err)
}

func abortWithError(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": err.Error()})
}
