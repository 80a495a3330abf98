package controller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cnap-oss/sheetflow/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var errUpdateSkipped = errors.New("staged update already applied or discarded")

type eventOutcome int

const (
	outcomeCompleted eventOutcome = iota
	outcomeFailed
	outcomeCancelled
)

// ProcessSheet는 한 (sheet, user)에 대해 claim → dispatch → stage → apply 를 한 번 수행합니다.
// 시트나 컬럼이 없으면 이벤트를 claim 하지 않고 에러를 반환하므로 이벤트는 pending으로 남습니다.
// 이벤트 단위 실패는 해당 이벤트에만 기록되고 다른 이벤트 처리를 중단하지 않습니다.
func (c *Controller) ProcessSheet(ctx context.Context, sheetID, userID string) (*TickResult, error) {
	if c.repo == nil || c.registry == nil {
		return nil, ErrNotConfigured
	}
	start := time.Now()
	logger := c.logger.With(
		zap.String("sheet_id", sheetID),
		zap.String("user_id", userID),
	)

	snap, err := c.loadSnapshot(ctx, sheetID)
	if err != nil {
		logger.Warn("Failed to load sheet for tick", zap.Error(err))
		return nil, err
	}

	events, err := c.repo.ClaimPending(ctx, sheetID, userID, c.cfg.BatchSize)
	if err != nil {
		logger.Error("Failed to claim pending events", zap.Error(err))
		return nil, err
	}

	result := &TickResult{
		Success:        true,
		SheetID:        sheetID,
		UserID:         userID,
		Claimed:        len(events),
		AppliedUpdates: []AppliedUpdate{},
	}

	if len(events) > 0 {
		logger.Debug("Claimed events", zap.Int("count", len(events)))

		var mu sync.Mutex
		g := new(errgroup.Group)
		g.SetLimit(c.cfg.MaxConcurrentDispatch)
		for i := range events {
			ev := events[i]
			g.Go(func() error {
				outcome := c.processEvent(ctx, snap, &ev)
				mu.Lock()
				defer mu.Unlock()
				switch outcome {
				case outcomeCompleted:
					result.Completed++
				case outcomeFailed:
					result.Failed++
				case outcomeCancelled:
					result.Cancelled++
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	if err := c.applyUpdates(ctx, snap, userID, result); err != nil {
		logger.Error("Failed to load staged updates", zap.Error(err))
		return nil, err
	}

	result.Duration = time.Since(start)
	if result.Claimed > 0 || result.TotalApplied > 0 {
		logger.Info("Sheet tick finished",
			zap.Int("claimed", result.Claimed),
			zap.Int("completed", result.Completed),
			zap.Int("failed", result.Failed),
			zap.Int("cancelled", result.Cancelled),
			zap.Int("total_applied", result.TotalApplied),
			zap.Duration("duration", result.Duration),
		)
	}
	return result, nil
}

// processEvent는 claim 된 이벤트 하나를 처리합니다. 에러를 반환하지 않고 결과를 이벤트 상태로 기록합니다.
func (c *Controller) processEvent(ctx context.Context, snap *sheetSnapshot, ev *storage.Event) eventOutcome {
	// 상태 기록은 tick 제한 시간이 지나도 수행되어야 한다
	writeCtx := context.WithoutCancel(ctx)
	logger := c.logger.With(
		zap.String("sheet_id", ev.SheetID),
		zap.String("event_id", ev.EventID),
		zap.Int("row_index", ev.RowIndex),
		zap.Int("col_index", ev.ColIndex),
	)

	if ev.ColIndex >= len(snap.columns)-1 {
		if _, err := c.repo.MarkCompleted(writeCtx, ev.EventID); err != nil {
			logger.Error("Failed to complete terminal event", zap.Error(err))
			return outcomeFailed
		}
		logger.Debug("Row already complete")
		return outcomeCompleted
	}

	rowData, err := c.repo.GetRow(ctx, ev.SheetID, ev.UserID, ev.RowIndex)
	if err != nil {
		return c.failEvent(writeCtx, logger, ev, err.Error())
	}
	if _, ok := rowData[ev.ColIndex]; !ok {
		rowData[ev.ColIndex] = ev.Payload.Data().Content
	}

	held, err := c.holdsUserValue(ctx, ev, rowData[ev.ColIndex+1])
	if err != nil {
		return c.failEvent(writeCtx, logger, ev, err.Error())
	}
	if held {
		return c.keepUserValue(writeCtx, logger, snap, ev, rowData[ev.ColIndex+1])
	}

	rc := snap.rowContext(ev.UserID, ev.RowIndex, ev.ColIndex, rowData)
	res := c.registry.Dispatch(ctx, operatorInput(rc, ev.EventID))
	if !res.Success {
		return c.failEvent(writeCtx, logger, ev, res.Error)
	}

	updateType := storage.UpdateTypeAIResponse
	if res.AutoCopy {
		updateType = storage.UpdateTypeAutoCopy
	}
	update := &storage.SheetUpdate{
		SheetID:     ev.SheetID,
		UserID:      ev.UserID,
		RowIndex:    ev.RowIndex,
		ColIndex:    ev.ColIndex + 1,
		Content:     res.Data,
		UpdateType:  updateType,
		StopCascade: res.StopCascade,
	}
	ok, err := c.repo.CompleteWithUpdate(writeCtx, ev.EventID, update)
	if err != nil {
		logger.Error("Failed to stage update", zap.Error(err))
		return c.failEvent(writeCtx, logger, ev, err.Error())
	}
	if !ok {
		logger.Info("Event cancelled during dispatch, result dropped",
			zap.String("operator_type", res.OperatorType),
		)
		return outcomeCancelled
	}
	return outcomeCompleted
}

// holdsUserValue는 이벤트가 채울 셀에 사용자가 직접 입력한 값이 남아 있는지 확인합니다.
func (c *Controller) holdsUserValue(ctx context.Context, ev *storage.Event, target string) (bool, error) {
	if strings.TrimSpace(target) == "" {
		return false, nil
	}
	last, ok, err := c.repo.LatestAppliedUpdate(ctx, ev.SheetID, ev.UserID, ev.RowIndex, ev.ColIndex+1)
	if err != nil || !ok {
		return false, err
	}
	return last.UpdateType == storage.UpdateTypeUserEdit, nil
}

// keepUserValue는 operator를 호출하지 않고 이벤트를 완료합니다.
// robots 모드에서는 사용자 값을 입력으로 다음 컬럼 cascade를 이어갑니다.
func (c *Controller) keepUserValue(ctx context.Context, logger *zap.Logger, snap *sheetSnapshot, ev *storage.Event, content string) eventOutcome {
	target := ev.ColIndex + 1
	err := c.repo.Transaction(ctx, func(tx *storage.Repository) error {
		ok, err := tx.MarkCompleted(ctx, ev.EventID)
		if err != nil {
			return err
		}
		if !ok {
			return errUpdateSkipped
		}
		if !c.cfg.RobotsMode {
			return nil
		}
		_, err = c.advanceCascade(ctx, tx, cascadeStep{
			SheetID:   ev.SheetID,
			UserID:    ev.UserID,
			RowIndex:  ev.RowIndex,
			ColIndex:  target,
			Content:   content,
			ColumnID:  snap.columnID(target),
			EventType: storage.EventTypeRobotCellUpdate,
		})
		return err
	})
	switch {
	case errors.Is(err, errUpdateSkipped):
		return outcomeCancelled
	case err != nil:
		return c.failEvent(ctx, logger, ev, err.Error())
	}
	logger.Info("User value kept, dispatch skipped", zap.Int("target_col", target))
	return outcomeCompleted
}

func (c *Controller) failEvent(ctx context.Context, logger *zap.Logger, ev *storage.Event, message string) eventOutcome {
	ok, err := c.repo.MarkFailed(ctx, ev.EventID, message)
	if err != nil {
		logger.Error("Failed to mark event failed", zap.Error(err))
		return outcomeFailed
	}
	if !ok {
		return outcomeCancelled
	}
	logger.Warn("Event failed", zap.String("last_error", message))
	return outcomeFailed
}

// applyUpdates는 시트의 모든 미적용 staged update를 셀 그리드에 적용합니다.
// 이전 tick에서 남은 update도 포함되며, 하나의 실패가 나머지 적용을 막지 않습니다.
func (c *Controller) applyUpdates(ctx context.Context, snap *sheetSnapshot, userID string, result *TickResult) error {
	writeCtx := context.WithoutCancel(ctx)
	updates, err := c.repo.ListUnappliedUpdates(writeCtx, snap.sheet.SheetID, userID)
	if err != nil {
		return err
	}
	for i := range updates {
		upd := updates[i]
		err := c.applyUpdate(writeCtx, snap, &upd)
		switch {
		case err == nil:
			result.AppliedUpdates = append(result.AppliedUpdates, AppliedUpdate{
				UpdateID:   upd.UpdateID,
				EventID:    upd.EventID,
				RowIndex:   upd.RowIndex,
				ColIndex:   upd.ColIndex,
				Content:    upd.Content,
				UpdateType: upd.UpdateType,
			})
		case errors.Is(err, errUpdateSkipped):
			continue
		default:
			result.ApplyErrors++
			c.logger.Error("Failed to apply staged update",
				zap.String("sheet_id", upd.SheetID),
				zap.String("update_id", upd.UpdateID),
				zap.Int("row_index", upd.RowIndex),
				zap.Int("col_index", upd.ColIndex),
				zap.Error(err),
			)
		}
	}
	result.TotalApplied = len(result.AppliedUpdates)
	return nil
}

// applyUpdate는 update 하나를 트랜잭션으로 적용합니다.
// applied_at 조건부 갱신이 성공한 경우에만 셀을 쓰므로 같은 update가 두 번 적용되지 않습니다.
func (c *Controller) applyUpdate(ctx context.Context, snap *sheetSnapshot, upd *storage.SheetUpdate) error {
	return c.repo.Transaction(ctx, func(tx *storage.Repository) error {
		ok, err := tx.MarkUpdateApplied(ctx, upd.ID)
		if err != nil {
			return err
		}
		if !ok {
			return errUpdateSkipped
		}
		if err := tx.UpsertCell(ctx, upd.SheetID, upd.UserID, upd.RowIndex, upd.ColIndex, upd.Content); err != nil {
			return err
		}
		if !c.cfg.RobotsMode || upd.StopCascade || upd.UpdateType == storage.UpdateTypeUserEdit {
			return nil
		}
		_, err = c.advanceCascade(ctx, tx, cascadeStep{
			SheetID:   upd.SheetID,
			UserID:    upd.UserID,
			RowIndex:  upd.RowIndex,
			ColIndex:  upd.ColIndex,
			Content:   upd.Content,
			ColumnID:  snap.columnID(upd.ColIndex),
			EventType: storage.EventTypeRobotCellUpdate,
		})
		return err
	})
}
