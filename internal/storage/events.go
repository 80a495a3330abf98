package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EnqueueEvent는 pending 상태의 새 이벤트를 생성합니다.
// 중복 편집은 중복 이벤트를 만들며 멱등성을 보장하지 않습니다.
func (r *Repository) EnqueueEvent(ctx context.Context, sheetID, userID, eventType string, payload EventPayload) (*Event, error) {
	if sheetID == "" || userID == "" {
		return nil, fmt.Errorf("storage: empty sheetID or userID")
	}
	if payload.RowIndex < 0 || payload.ColIndex < 0 {
		return nil, ErrInvalidCellAddress
	}
	ev := &Event{
		EventID:   NewID(),
		SheetID:   sheetID,
		UserID:    userID,
		EventType: eventType,
		RowIndex:  payload.RowIndex,
		ColIndex:  payload.ColIndex,
		Payload:   datatypes.NewJSONType(payload),
		Status:    EventStatusPending,
	}
	if err := r.db.WithContext(ctx).Create(ev).Error; err != nil {
		return nil, err
	}
	return ev, nil
}

// ClaimPending은 pending 이벤트를 최대 limit개 processing으로 전환하고 반환합니다.
// postgres에서는 FOR UPDATE SKIP LOCKED로 행을 잠그고, 모든 드라이버에서
// status='pending' 조건부 UPDATE의 영향 행 수로 단일 claim을 보장합니다.
func (r *Repository) ClaimPending(ctx context.Context, sheetID, userID string, limit int) ([]Event, error) {
	if sheetID == "" {
		return nil, fmt.Errorf("storage: empty sheetID")
	}
	if limit <= 0 {
		limit = DefaultClaimLimit
	}

	var claimed []Event
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&Event{}).
			Where("sheet_id = ? AND user_id = ? AND status = ?", sheetID, userID, EventStatusPending).
			Order("created_at ASC, id ASC").
			Limit(limit)
		if isPostgres(tx) {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var ids []int64
		if err := q.Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		now := tx.NowFunc()
		won := make([]int64, 0, len(ids))
		for _, id := range ids {
			res := tx.Model(&Event{}).
				Where("id = ? AND status = ?", id, EventStatusPending).
				Updates(map[string]interface{}{
					"status":     EventStatusProcessing,
					"claimed_at": now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				won = append(won, id)
			}
		}
		if len(won) == 0 {
			return nil
		}
		return tx.Where("id IN ?", won).
			Order("created_at ASC, id ASC").
			Find(&claimed).Error
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// MarkCompleted는 이벤트를 completed로 전환합니다. 이미 종료 상태면 아무것도 하지 않습니다.
func (r *Repository) MarkCompleted(ctx context.Context, eventID string) (bool, error) {
	return r.finishEvent(ctx, eventID, EventStatusCompleted, "",
		EventStatusPending, EventStatusProcessing)
}

// MarkFailed는 이벤트를 failed로 전환하고 에러 메시지를 기록합니다. 이미 종료 상태면 아무것도 하지 않습니다.
func (r *Repository) MarkFailed(ctx context.Context, eventID, lastError string) (bool, error) {
	return r.finishEvent(ctx, eventID, EventStatusFailed, lastError,
		EventStatusPending, EventStatusProcessing)
}

// CompleteWithUpdate는 processing 이벤트를 completed로 전환하고 같은 트랜잭션에서 staged update를 생성합니다.
// 이벤트가 그 사이 취소되었다면 false를 반환하며 update는 생성되지 않습니다.
func (r *Repository) CompleteWithUpdate(ctx context.Context, eventID string, update *SheetUpdate) (bool, error) {
	if update == nil {
		return false, fmt.Errorf("storage: nil sheet update payload")
	}
	var completed bool
	err := r.Transaction(ctx, func(tx *Repository) error {
		ok, err := tx.finishEvent(ctx, eventID, EventStatusCompleted, "", EventStatusProcessing)
		if err != nil || !ok {
			return err
		}
		update.EventID = eventID
		if err := tx.CreateSheetUpdate(ctx, update); err != nil {
			return err
		}
		completed = true
		return nil
	})
	return completed, err
}

func (r *Repository) finishEvent(ctx context.Context, eventID, status, lastError string, from ...string) (bool, error) {
	if eventID == "" {
		return false, fmt.Errorf("storage: empty eventID")
	}
	updates := map[string]interface{}{
		"status":       status,
		"processed_at": r.db.NowFunc(),
	}
	if lastError != "" {
		updates["last_error"] = lastError
	}
	res := r.db.WithContext(ctx).
		Model(&Event{}).
		Where("event_id = ? AND status IN ?", eventID, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CancelEventsFrom은 행에서 colIndex가 fromColIndex 이상인 미완료 이벤트를 cancelled로 전환합니다.
func (r *Repository) CancelEventsFrom(ctx context.Context, sheetID, userID string, rowIndex, fromColIndex int) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&Event{}).
		Where("sheet_id = ? AND user_id = ? AND row_index = ? AND col_index >= ? AND status IN ?",
			sheetID, userID, rowIndex, fromColIndex,
			[]string{EventStatusPending, EventStatusProcessing}).
		Updates(map[string]interface{}{
			"status":       EventStatusCancelled,
			"processed_at": r.db.NowFunc(),
		})
	return res.RowsAffected, res.Error
}

// FailStaleEvents는 olderThan보다 오래 processing 상태인 이벤트를 failed로 전환합니다.
func (r *Repository) FailStaleEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	cutoff := r.db.NowFunc().Add(-olderThan)
	res := r.db.WithContext(ctx).
		Model(&Event{}).
		Where("status = ? AND claimed_at < ?", EventStatusProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":       EventStatusFailed,
			"last_error":   LastErrorLeaseExpired,
			"processed_at": r.db.NowFunc(),
		})
	return res.RowsAffected, res.Error
}

// GetEvent는 식별자로 이벤트를 조회합니다.
func (r *Repository) GetEvent(ctx context.Context, eventID string) (*Event, error) {
	if eventID == "" {
		return nil, fmt.Errorf("storage: empty eventID")
	}
	var ev Event
	if err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		First(&ev).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return &ev, nil
}

// RequeueEvent는 failed 또는 cancelled 이벤트와 같은 payload로 새 pending 이벤트를 생성합니다.
// 원래 이벤트는 변경되지 않습니다.
func (r *Repository) RequeueEvent(ctx context.Context, eventID string) (*Event, error) {
	orig, err := r.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if orig.Status != EventStatusFailed && orig.Status != EventStatusCancelled {
		return nil, fmt.Errorf("%w: event %s is %s", ErrEventNotRetryable, eventID, orig.Status)
	}
	ev := &Event{
		EventID:    NewID(),
		SheetID:    orig.SheetID,
		UserID:     orig.UserID,
		EventType:  orig.EventType,
		RowIndex:   orig.RowIndex,
		ColIndex:   orig.ColIndex,
		Payload:    datatypes.NewJSONType(orig.Payload.Data()),
		Status:     EventStatusPending,
		RetryCount: orig.RetryCount + 1,
		RetryOf:    orig.EventID,
	}
	if err := r.db.WithContext(ctx).Create(ev).Error; err != nil {
		return nil, err
	}
	return ev, nil
}

// ListEvents는 시트의 이벤트를 반환합니다. userID가 비어 있으면 사용자 필터를 적용하지 않습니다.
func (r *Repository) ListEvents(ctx context.Context, sheetID, userID string, limit int, newestFirst bool) ([]Event, error) {
	if sheetID == "" {
		return nil, fmt.Errorf("storage: empty sheetID")
	}
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	q := r.db.WithContext(ctx).Where("sheet_id = ?", sheetID)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	if newestFirst {
		q = q.Order("created_at DESC, id DESC")
	} else {
		q = q.Order("created_at ASC, id ASC")
	}
	var events []Event
	if err := q.Limit(limit).Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// CountEventsByStatus는 시트 이벤트의 상태별 개수를 반환합니다.
func (r *Repository) CountEventsByStatus(ctx context.Context, sheetID string) (map[string]int64, error) {
	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	if err := r.db.WithContext(ctx).
		Model(&Event{}).
		Select("status, COUNT(*) AS count").
		Where("sheet_id = ?", sheetID).
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// SheetsWithPendingEvents는 pending 이벤트가 있는 (sheet, user) 쌍을 반환합니다.
func (r *Repository) SheetsWithPendingEvents(ctx context.Context) ([]SheetRef, error) {
	var refs []SheetRef
	if err := r.db.WithContext(ctx).
		Model(&Event{}).
		Select("DISTINCT sheet_id, user_id").
		Where("status = ?", EventStatusPending).
		Order("sheet_id ASC, user_id ASC").
		Scan(&refs).Error; err != nil {
		return nil, err
	}
	return refs, nil
}
