package storage

import (
	"context"
	"fmt"
)

// CreateSheetUpdate는 새 staged update를 저장합니다.
func (r *Repository) CreateSheetUpdate(ctx context.Context, update *SheetUpdate) error {
	if update == nil {
		return fmt.Errorf("storage: nil sheet update payload")
	}
	if update.SheetID == "" || update.UserID == "" {
		return fmt.Errorf("storage: empty sheetID or userID")
	}
	if update.UpdateID == "" {
		update.UpdateID = NewID()
	}
	return r.db.WithContext(ctx).Create(update).Error
}

// ListUnappliedUpdates는 아직 적용되지도 폐기되지도 않은 staged update를 생성 순으로 반환합니다.
func (r *Repository) ListUnappliedUpdates(ctx context.Context, sheetID, userID string) ([]SheetUpdate, error) {
	var updates []SheetUpdate
	if err := r.db.WithContext(ctx).
		Where("sheet_id = ? AND user_id = ? AND applied_at IS NULL AND discarded_at IS NULL", sheetID, userID).
		Order("created_at ASC, id ASC").
		Find(&updates).Error; err != nil {
		return nil, err
	}
	return updates, nil
}

// ListUpdatesForCell은 셀에 대한 staged update 이력을 반환합니다.
func (r *Repository) ListUpdatesForCell(ctx context.Context, sheetID, userID string, rowIndex, colIndex int) ([]SheetUpdate, error) {
	var updates []SheetUpdate
	if err := r.db.WithContext(ctx).
		Where("sheet_id = ? AND user_id = ? AND row_index = ? AND col_index = ?", sheetID, userID, rowIndex, colIndex).
		Order("created_at ASC, id ASC").
		Find(&updates).Error; err != nil {
		return nil, err
	}
	return updates, nil
}

// LatestAppliedUpdate는 셀에 마지막으로 적용된 update를 반환합니다. 없으면 ok=false입니다.
func (r *Repository) LatestAppliedUpdate(ctx context.Context, sheetID, userID string, rowIndex, colIndex int) (*SheetUpdate, bool, error) {
	var updates []SheetUpdate
	if err := r.db.WithContext(ctx).
		Where("sheet_id = ? AND user_id = ? AND row_index = ? AND col_index = ?", sheetID, userID, rowIndex, colIndex).
		Where("applied_at IS NOT NULL AND discarded_at IS NULL").
		Order("applied_at DESC, id DESC").
		Limit(1).
		Find(&updates).Error; err != nil {
		return nil, false, err
	}
	if len(updates) == 0 {
		return nil, false, nil
	}
	return &updates[0], true, nil
}

// MarkUpdateApplied는 applied_at이 비어 있는 경우에만 적용 시각을 기록합니다.
// 다른 applier가 먼저 적용했거나 폐기된 update면 false를 반환합니다.
func (r *Repository) MarkUpdateApplied(ctx context.Context, id int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&SheetUpdate{}).
		Where("id = ? AND applied_at IS NULL AND discarded_at IS NULL", id).
		Update("applied_at", r.db.NowFunc())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// DiscardUpdatesFrom은 행에서 colIndex가 fromColIndex 이상인 미적용 update를 폐기합니다.
func (r *Repository) DiscardUpdatesFrom(ctx context.Context, sheetID, userID string, rowIndex, fromColIndex int) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&SheetUpdate{}).
		Where("sheet_id = ? AND user_id = ? AND row_index = ? AND col_index >= ? AND applied_at IS NULL AND discarded_at IS NULL",
			sheetID, userID, rowIndex, fromColIndex).
		Update("discarded_at", r.db.NowFunc())
	return res.RowsAffected, res.Error
}

// SheetsWithUnappliedUpdates는 미적용 staged update가 있는 (sheet, user) 쌍을 반환합니다.
func (r *Repository) SheetsWithUnappliedUpdates(ctx context.Context) ([]SheetRef, error) {
	var refs []SheetRef
	if err := r.db.WithContext(ctx).
		Model(&SheetUpdate{}).
		Select("DISTINCT sheet_id, user_id").
		Where("applied_at IS NULL AND discarded_at IS NULL").
		Order("sheet_id ASC, user_id ASC").
		Scan(&refs).Error; err != nil {
		return nil, err
	}
	return refs, nil
}
