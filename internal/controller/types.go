package controller

import (
	"time"

	"github.com/cnap-oss/sheetflow/internal/operator"
)

// RowContext는 한 행의 operator 실행 컨텍스트입니다.
type RowContext struct {
	SheetID            string
	UserID             string
	RowIndex           int
	Columns            []operator.Column
	RowData            map[int]string
	CurrentColumnIndex int
	SystemPrompt       string
	IsAutonomous       bool
}

// IsComplete는 현재 컬럼이 마지막 컬럼이라 채울 다음 컬럼이 없는지 확인합니다.
func (rc *RowContext) IsComplete() bool {
	return rc.CurrentColumnIndex >= len(rc.Columns)-1
}

// Target은 채워야 할 다음 컬럼을 반환합니다.
func (rc *RowContext) Target() (operator.Column, bool) {
	if rc.IsComplete() {
		return operator.Column{}, false
	}
	return rc.Columns[rc.CurrentColumnIndex+1], true
}

// AppliedUpdate는 tick에서 셀 그리드에 적용된 staged update 요약입니다.
type AppliedUpdate struct {
	UpdateID   string `json:"updateId"`
	EventID    string `json:"eventId,omitempty"`
	RowIndex   int    `json:"rowIndex"`
	ColIndex   int    `json:"colIndex"`
	Content    string `json:"content"`
	UpdateType string `json:"updateType"`
}

// TickResult는 한 시트에 대한 tick 한 번의 결과입니다.
type TickResult struct {
	Success        bool            `json:"success"`
	SheetID        string          `json:"sheetId"`
	UserID         string          `json:"userId"`
	Skipped        bool            `json:"skipped,omitempty"`
	Claimed        int             `json:"claimed"`
	Completed      int             `json:"completed"`
	Failed         int             `json:"failed"`
	Cancelled      int             `json:"cancelled"`
	AppliedUpdates []AppliedUpdate `json:"appliedUpdates"`
	TotalApplied   int             `json:"totalApplied"`
	ApplyErrors    int             `json:"applyErrors,omitempty"`
	Duration       time.Duration   `json:"duration"`
}

// TickAllResult는 처리 대상 전체 시트에 대한 tick 결과입니다.
type TickAllResult struct {
	Success      bool              `json:"success"`
	Sheets       []TickResult      `json:"sheets"`
	TotalApplied int               `json:"totalApplied"`
	StaleFailed  int64             `json:"staleFailed"`
	Errors       map[string]string `json:"errors,omitempty"`
}

// UpdateCellRequest는 사용자 셀 편집 요청입니다.
type UpdateCellRequest struct {
	SheetID  string `json:"sheetId"`
	UserID   string `json:"-"`
	RowIndex int    `json:"rowIndex"`
	ColIndex int    `json:"colIndex"`
	Content  string `json:"content"`
}

// UpdateCellResult는 셀 편집 결과입니다. 내용이 비어 있으면 EventID가 비어 있습니다.
type UpdateCellResult struct {
	SheetID   string `json:"sheetId"`
	RowIndex  int    `json:"rowIndex"`
	ColIndex  int    `json:"colIndex"`
	Content   string `json:"content"`
	EventID   string `json:"eventId,omitempty"`
	Cancelled int64  `json:"cancelled"`
	Discarded int64  `json:"discarded"`
}

// ClearResult는 범위 삭제 결과입니다.
type ClearResult struct {
	DeletedCells    int64 `json:"deletedCells"`
	CancelledEvents int64 `json:"cancelledEvents"`
	DiscardedUpdate int64 `json:"discardedUpdates"`
}

// ReprocessResult는 재처리로 생성된 이벤트 목록입니다.
type ReprocessResult struct {
	EventIDs []string    `json:"eventIds"`
	Cleared  ClearResult `json:"cleared"`
}

// BulkCreateResult는 대량 행 생성 결과입니다.
type BulkCreateResult struct {
	FirstRow int      `json:"firstRow"`
	RowCount int      `json:"rowCount"`
	EventIDs []string `json:"eventIds"`
}
