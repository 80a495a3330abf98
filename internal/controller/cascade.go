package controller

import (
	"context"

	"github.com/cnap-oss/sheetflow/internal/storage"
	"go.uber.org/zap"
)

// cascadeStep은 값이 막 채워진 셀입니다. 이 셀에 대한 이벤트가 다음 컬럼을 채웁니다.
type cascadeStep struct {
	SheetID   string
	UserID    string
	RowIndex  int
	ColIndex  int
	Content   string
	ColumnID  string
	EventType string
}

// advanceCascade는 새로 채워진 셀에 대한 이벤트를 생성합니다.
// 편집, 대량 행 생성, update 적용 경로가 모두 이 함수로 cascade를 이어가며
// 마지막 컬럼 여부는 tick에서 판단합니다.
func (c *Controller) advanceCascade(ctx context.Context, tx *storage.Repository, step cascadeStep) (*storage.Event, error) {
	ev, err := tx.EnqueueEvent(ctx, step.SheetID, step.UserID, step.EventType, storage.EventPayload{
		RowIndex: step.RowIndex,
		ColIndex: step.ColIndex,
		Content:  step.Content,
		ColumnID: step.ColumnID,
	})
	if err != nil {
		return nil, err
	}
	c.logger.Debug("Cascade advanced",
		zap.String("sheet_id", step.SheetID),
		zap.String("event_id", ev.EventID),
		zap.String("event_type", step.EventType),
		zap.Int("row_index", step.RowIndex),
		zap.Int("col_index", step.ColIndex),
	)
	return ev, nil
}
