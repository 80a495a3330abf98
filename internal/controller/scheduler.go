package controller

import (
	"context"
	"sync"

	"github.com/cnap-oss/sheetflow/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// eventLoop는 즉시 처리 요청(trigger)을 받아 해당 시트의 tick을 실행하는 루프입니다.
func (c *Controller) eventLoop(ctx context.Context) {
	c.logger.Info("Event loop started")
	defer c.logger.Info("Event loop stopped")

	for {
		select {
		case ref := <-c.triggers:
			// 시트별 tick은 별도 goroutine으로 처리
			c.wg.Add(1)
			go func(ref storage.SheetRef) {
				defer c.wg.Done()
				if _, err := c.TickSheet(ctx, ref.SheetID, ref.UserID); err != nil {
					c.logger.Warn("Triggered tick failed",
						zap.String("sheet_id", ref.SheetID),
						zap.String("user_id", ref.UserID),
						zap.Error(err),
					)
				}
			}(ref)

		case <-ctx.Done():
			c.logger.Info("Event loop shutting down")
			return
		}
	}
}

// Trigger는 다음 주기를 기다리지 않고 시트의 tick을 요청합니다.
// 대기열이 가득 차면 요청을 버리며, 주기적 tick이 처리합니다.
func (c *Controller) Trigger(sheetID, userID string) {
	select {
	case c.triggers <- storage.SheetRef{SheetID: sheetID, UserID: userID}:
	default:
		c.logger.Debug("Trigger queue full, falling back to periodic tick",
			zap.String("sheet_id", sheetID),
		)
	}
}

func (c *Controller) acquire(ref storage.SheetRef) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inFlight[ref]; busy {
		return false
	}
	c.inFlight[ref] = struct{}{}
	return true
}

func (c *Controller) release(ref storage.SheetRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, ref)
}

// IsProcessing은 시트가 이 프로세스에서 tick 중인지 확인합니다.
func (c *Controller) IsProcessing(sheetID, userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, busy := c.inFlight[storage.SheetRef{SheetID: sheetID, UserID: userID}]
	return busy
}

// TickSheet는 한 시트에 대해 tick을 실행합니다.
// 같은 시트가 이미 tick 중이면 Skipped 결과를 반환합니다.
func (c *Controller) TickSheet(ctx context.Context, sheetID, userID string) (*TickResult, error) {
	ref := storage.SheetRef{SheetID: sheetID, UserID: userID}
	if !c.acquire(ref) {
		res := &TickResult{Success: true, SheetID: sheetID, UserID: userID, Skipped: true, AppliedUpdates: []AppliedUpdate{}}
		c.metrics.RecordTick(res, nil)
		c.logger.Debug("Sheet already processing, skipping tick",
			zap.String("sheet_id", sheetID),
			zap.String("user_id", userID),
		)
		return res, nil
	}
	defer c.release(ref)

	if c.cfg.TickTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.TickTimeout)
		defer cancel()
	}

	res, err := c.ProcessSheet(ctx, sheetID, userID)
	c.metrics.RecordTick(res, err)
	return res, err
}

// TickAll은 만료된 processing 이벤트를 정리한 뒤, pending 이벤트나 미적용 update가 있는
// 모든 시트를 MaxConcurrentSheets 한도 안에서 동시에 tick 합니다.
// 시트별 실패는 결과의 Errors에 기록되며 다른 시트 처리를 중단하지 않습니다.
func (c *Controller) TickAll(ctx context.Context) (*TickAllResult, error) {
	if c.repo == nil {
		return nil, ErrNotConfigured
	}

	stale, err := c.repo.FailStaleEvents(ctx, c.cfg.StaleAfter)
	if err != nil {
		return nil, err
	}
	if stale > 0 {
		c.metrics.RecordStale(stale)
		c.logger.Warn("Expired stale processing events", zap.Int64("count", stale))
	}

	refs, err := c.sheetsToTick(ctx)
	if err != nil {
		return nil, err
	}

	result := &TickAllResult{
		Success:     true,
		Sheets:      make([]TickResult, 0, len(refs)),
		StaleFailed: stale,
	}
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(c.cfg.MaxConcurrentSheets)
	for _, ref := range refs {
		ref := ref
		g.Go(func() error {
			res, err := c.TickSheet(ctx, ref.SheetID, ref.UserID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if result.Errors == nil {
					result.Errors = make(map[string]string)
				}
				result.Errors[ref.SheetID+"/"+ref.UserID] = err.Error()
				return nil
			}
			result.Sheets = append(result.Sheets, *res)
			result.TotalApplied += res.TotalApplied
			return nil
		})
	}
	_ = g.Wait()

	return result, nil
}

func (c *Controller) sheetsToTick(ctx context.Context) ([]storage.SheetRef, error) {
	pending, err := c.repo.SheetsWithPendingEvents(ctx)
	if err != nil {
		return nil, err
	}
	unapplied, err := c.repo.SheetsWithUnappliedUpdates(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[storage.SheetRef]struct{}, len(pending)+len(unapplied))
	refs := make([]storage.SheetRef, 0, len(pending)+len(unapplied))
	for _, ref := range append(pending, unapplied...) {
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		refs = append(refs, ref)
	}
	return refs, nil
}
