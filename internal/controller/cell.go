package controller

import (
	"context"
	"fmt"
	"strings"

	"github.com/cnap-oss/sheetflow/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
)

// invalidateFrom은 행에서 targetCol 이상의 컬럼을 채우려는 미완료 작업을 무효화합니다.
// 이벤트 (r, c)는 c+1 컬럼을 채우므로 colIndex가 targetCol-1 이상인 이벤트가 취소됩니다.
func invalidateFrom(ctx context.Context, tx *storage.Repository, sheetID, userID string, rowIndex, targetCol int) (int64, int64, error) {
	fromEvent := targetCol - 1
	if fromEvent < 0 {
		fromEvent = 0
	}
	cancelled, err := tx.CancelEventsFrom(ctx, sheetID, userID, rowIndex, fromEvent)
	if err != nil {
		return 0, 0, err
	}
	discarded, err := tx.DiscardUpdatesFrom(ctx, sheetID, userID, rowIndex, targetCol)
	if err != nil {
		return 0, 0, err
	}
	return cancelled, discarded, nil
}

// writeUserCell은 셀을 쓰고 적용 완료된 user_edit 이력을 남깁니다.
// 이 이력이 있는 셀은 AI 결과로 덮어쓰지 않습니다.
func writeUserCell(ctx context.Context, tx *storage.Repository, sheetID, userID string, rowIndex, colIndex int, content string) error {
	if err := tx.UpsertCell(ctx, sheetID, userID, rowIndex, colIndex, content); err != nil {
		return err
	}
	applied := tx.DB().NowFunc()
	return tx.CreateSheetUpdate(ctx, &storage.SheetUpdate{
		SheetID:    sheetID,
		UserID:     userID,
		RowIndex:   rowIndex,
		ColIndex:   colIndex,
		Content:    content,
		UpdateType: storage.UpdateTypeUserEdit,
		AppliedAt:  &applied,
	})
}

// UpdateCell은 사용자 편집을 셀에 쓰고 cascade 이벤트를 하나의 트랜잭션으로 생성합니다.
// 같은 행에서 편집된 컬럼 이상을 채우려던 미완료 작업은 취소되어 최신 편집이 우선합니다.
// 내용이 비어 있으면 셀만 비우고 이벤트는 만들지 않습니다.
func (c *Controller) UpdateCell(ctx context.Context, req UpdateCellRequest) (*UpdateCellResult, error) {
	if c.repo == nil {
		return nil, ErrNotConfigured
	}
	if req.RowIndex < 0 || req.ColIndex < 0 {
		return nil, storage.ErrInvalidCellAddress
	}
	if req.UserID == "" {
		return nil, fmt.Errorf("controller: empty userID")
	}
	snap, err := c.loadSnapshot(ctx, req.SheetID)
	if err != nil {
		return nil, err
	}
	if req.ColIndex >= len(snap.columns) {
		return nil, fmt.Errorf("%w: %d (columns: %d)", ErrColumnOutOfRange, req.ColIndex, len(snap.columns))
	}

	content := norm.NFC.String(req.Content)
	result := &UpdateCellResult{
		SheetID:  req.SheetID,
		RowIndex: req.RowIndex,
		ColIndex: req.ColIndex,
		Content:  content,
	}

	err = c.repo.Transaction(ctx, func(tx *storage.Repository) error {
		cancelled, discarded, err := invalidateFrom(ctx, tx, req.SheetID, req.UserID, req.RowIndex, req.ColIndex)
		if err != nil {
			return err
		}
		result.Cancelled, result.Discarded = cancelled, discarded

		if err := writeUserCell(ctx, tx, req.SheetID, req.UserID, req.RowIndex, req.ColIndex, content); err != nil {
			return err
		}
		if strings.TrimSpace(content) == "" {
			return nil
		}
		ev, err := c.advanceCascade(ctx, tx, cascadeStep{
			SheetID:   req.SheetID,
			UserID:    req.UserID,
			RowIndex:  req.RowIndex,
			ColIndex:  req.ColIndex,
			Content:   content,
			ColumnID:  snap.columnID(req.ColIndex),
			EventType: storage.EventTypeUserCellEdit,
		})
		if err != nil {
			return err
		}
		result.EventID = ev.EventID
		return nil
	})
	if err != nil {
		c.logger.Error("Failed to update cell",
			zap.String("sheet_id", req.SheetID),
			zap.Int("row_index", req.RowIndex),
			zap.Int("col_index", req.ColIndex),
			zap.Error(err),
		)
		return nil, err
	}

	c.logger.Info("Cell updated",
		zap.String("sheet_id", req.SheetID),
		zap.String("user_id", req.UserID),
		zap.Int("row_index", req.RowIndex),
		zap.Int("col_index", req.ColIndex),
		zap.String("event_id", result.EventID),
		zap.Int64("cancelled", result.Cancelled),
	)
	if result.EventID != "" {
		c.Trigger(req.SheetID, req.UserID)
	}
	return result, nil
}

// ClearRange는 행의 fromColIndex 이상 셀을 지우고, 그 셀들을 채우려던 이벤트와 미적용 update를 무효화합니다.
func (c *Controller) ClearRange(ctx context.Context, sheetID, userID string, rowIndex, fromColIndex int) (*ClearResult, error) {
	if c.repo == nil {
		return nil, ErrNotConfigured
	}
	if rowIndex < 0 || fromColIndex < 0 {
		return nil, storage.ErrInvalidCellAddress
	}
	if _, err := c.repo.GetSheet(ctx, sheetID); err != nil {
		return nil, err
	}

	result := &ClearResult{}
	err := c.repo.Transaction(ctx, func(tx *storage.Repository) error {
		return clearRangeTx(ctx, tx, sheetID, userID, rowIndex, fromColIndex, result)
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("Cleared cell range",
		zap.String("sheet_id", sheetID),
		zap.Int("row_index", rowIndex),
		zap.Int("from_col_index", fromColIndex),
		zap.Int64("deleted_cells", result.DeletedCells),
		zap.Int64("cancelled_events", result.CancelledEvents),
	)
	return result, nil
}

func clearRangeTx(ctx context.Context, tx *storage.Repository, sheetID, userID string, rowIndex, fromColIndex int, result *ClearResult) error {
	// 진행 중인 적용이 지운 셀을 되살리지 못하도록 무효화가 삭제보다 먼저다.
	cancelled, discarded, err := invalidateFrom(ctx, tx, sheetID, userID, rowIndex, fromColIndex)
	if err != nil {
		return err
	}
	deleted, err := tx.DeleteCellsFrom(ctx, sheetID, userID, rowIndex, fromColIndex)
	if err != nil {
		return err
	}
	result.DeletedCells += deleted
	result.CancelledEvents += cancelled
	result.DiscardedUpdate += discarded
	return nil
}

// ReprocessRow는 fromColIndex 오른쪽 셀을 지우고 (rowIndex, fromColIndex) 내용으로 cascade를 다시 시작합니다.
func (c *Controller) ReprocessRow(ctx context.Context, sheetID, userID string, rowIndex, fromColIndex int) (*ReprocessResult, error) {
	if c.repo == nil {
		return nil, ErrNotConfigured
	}
	if rowIndex < 0 || fromColIndex < 0 {
		return nil, storage.ErrInvalidCellAddress
	}
	snap, err := c.loadSnapshot(ctx, sheetID)
	if err != nil {
		return nil, err
	}
	if fromColIndex >= len(snap.columns)-1 {
		return nil, fmt.Errorf("%w: column %d has no column to its right", ErrColumnOutOfRange, fromColIndex)
	}

	result := &ReprocessResult{EventIDs: []string{}}
	err = c.repo.Transaction(ctx, func(tx *storage.Repository) error {
		cell, ok, err := tx.GetCell(ctx, sheetID, userID, rowIndex, fromColIndex)
		if err != nil {
			return err
		}
		if !ok || strings.TrimSpace(cell.Content) == "" {
			return fmt.Errorf("%w: cell (%d, %d) is empty", storage.ErrInvalidCellAddress, rowIndex, fromColIndex)
		}
		if err := clearRangeTx(ctx, tx, sheetID, userID, rowIndex, fromColIndex+1, &result.Cleared); err != nil {
			return err
		}
		ev, err := c.advanceCascade(ctx, tx, cascadeStep{
			SheetID:   sheetID,
			UserID:    userID,
			RowIndex:  rowIndex,
			ColIndex:  fromColIndex,
			Content:   cell.Content,
			ColumnID:  snap.columnID(fromColIndex),
			EventType: storage.EventTypeUserCellEdit,
		})
		if err != nil {
			return err
		}
		result.EventIDs = append(result.EventIDs, ev.EventID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("Row reprocess requested",
		zap.String("sheet_id", sheetID),
		zap.Int("row_index", rowIndex),
		zap.Int("from_col_index", fromColIndex),
	)
	c.Trigger(sheetID, userID)
	return result, nil
}

// ReprocessColumn은 colIndex-1 컬럼에 내용이 있는 모든 행에 대해 colIndex부터 지우고
// (row, colIndex-1) 이벤트를 생성해 colIndex 컬럼을 다시 계산합니다.
func (c *Controller) ReprocessColumn(ctx context.Context, sheetID, userID string, colIndex int) (*ReprocessResult, error) {
	if c.repo == nil {
		return nil, ErrNotConfigured
	}
	snap, err := c.loadSnapshot(ctx, sheetID)
	if err != nil {
		return nil, err
	}
	if colIndex < 1 || colIndex >= len(snap.columns) {
		return nil, fmt.Errorf("%w: %d (columns: %d)", ErrColumnOutOfRange, colIndex, len(snap.columns))
	}

	result := &ReprocessResult{EventIDs: []string{}}
	err = c.repo.Transaction(ctx, func(tx *storage.Repository) error {
		rows, err := tx.RowsWithContent(ctx, sheetID, userID, colIndex-1)
		if err != nil {
			return err
		}
		for _, row := range rows {
			cell, ok, err := tx.GetCell(ctx, sheetID, userID, row, colIndex-1)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if err := clearRangeTx(ctx, tx, sheetID, userID, row, colIndex, &result.Cleared); err != nil {
				return err
			}
			ev, err := c.advanceCascade(ctx, tx, cascadeStep{
				SheetID:   sheetID,
				UserID:    userID,
				RowIndex:  row,
				ColIndex:  colIndex - 1,
				Content:   cell.Content,
				ColumnID:  snap.columnID(colIndex - 1),
				EventType: storage.EventTypeUserCellEdit,
			})
			if err != nil {
				return err
			}
			result.EventIDs = append(result.EventIDs, ev.EventID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("Column reprocess requested",
		zap.String("sheet_id", sheetID),
		zap.Int("col_index", colIndex),
		zap.Int("events", len(result.EventIDs)),
	)
	if len(result.EventIDs) > 0 {
		c.Trigger(sheetID, userID)
	}
	return result, nil
}

// RetryEvent는 failed 또는 cancelled 이벤트와 같은 payload로 새 이벤트를 생성합니다.
// userID가 주어지면 다른 사용자의 이벤트는 찾을 수 없는 것으로 처리합니다.
func (c *Controller) RetryEvent(ctx context.Context, userID, eventID string) (*storage.Event, error) {
	if c.repo == nil {
		return nil, ErrNotConfigured
	}
	orig, err := c.repo.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if userID != "" && orig.UserID != userID {
		return nil, fmt.Errorf("%w: %s", storage.ErrEventNotFound, eventID)
	}
	ev, err := c.repo.RequeueEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	c.logger.Info("Event requeued",
		zap.String("sheet_id", ev.SheetID),
		zap.String("event_id", ev.EventID),
		zap.String("retry_of", eventID),
		zap.Int("retry_count", ev.RetryCount),
	)
	c.Trigger(ev.SheetID, ev.UserID)
	return ev, nil
}

// BulkCreateRows는 시트 끝에 행을 추가합니다. 행마다 0번 컬럼 이벤트 하나만 생성하고
// 나머지 컬럼은 cascade가 채웁니다. 행 번호는 시트별 카운터에서 예약하므로 이전 호출과 겹치지 않습니다.
func (c *Controller) BulkCreateRows(ctx context.Context, sheetID, userID string, rows [][]string) (*BulkCreateResult, error) {
	if c.repo == nil {
		return nil, ErrNotConfigured
	}
	if len(rows) == 0 {
		return nil, ErrEmptyRows
	}
	snap, err := c.loadSnapshot(ctx, sheetID)
	if err != nil {
		return nil, err
	}
	normalized := make([][]string, len(rows))
	for i, row := range rows {
		if len(row) > len(snap.columns) {
			return nil, fmt.Errorf("%w: row %d has %d values (columns: %d)",
				ErrColumnOutOfRange, i, len(row), len(snap.columns))
		}
		values := make([]string, len(row))
		for col, value := range row {
			values[col] = norm.NFC.String(value)
		}
		if len(values) == 0 || strings.TrimSpace(values[0]) == "" {
			return nil, fmt.Errorf("%w: row %d", ErrMissingFirstValue, i)
		}
		normalized[i] = values
	}

	result := &BulkCreateResult{RowCount: len(rows), EventIDs: make([]string, 0, len(rows))}
	err = c.repo.Transaction(ctx, func(tx *storage.Repository) error {
		first, err := tx.ReserveRows(ctx, sheetID, userID, len(normalized))
		if err != nil {
			return err
		}
		result.FirstRow = first

		for i, row := range normalized {
			rowIndex := result.FirstRow + i
			for col, value := range row {
				if value == "" {
					continue
				}
				if err := writeUserCell(ctx, tx, sheetID, userID, rowIndex, col, value); err != nil {
					return err
				}
			}
			ev, err := c.advanceCascade(ctx, tx, cascadeStep{
				SheetID:   sheetID,
				UserID:    userID,
				RowIndex:  rowIndex,
				ColIndex:  0,
				Content:   row[0],
				ColumnID:  snap.columnID(0),
				EventType: storage.EventTypeUserCellEdit,
			})
			if err != nil {
				return err
			}
			result.EventIDs = append(result.EventIDs, ev.EventID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("Rows created",
		zap.String("sheet_id", sheetID),
		zap.String("user_id", userID),
		zap.Int("first_row", result.FirstRow),
		zap.Int("row_count", result.RowCount),
	)
	c.Trigger(sheetID, userID)
	return result, nil
}

// ListEvents는 UI 폴링용 이벤트 목록을 반환합니다.
func (c *Controller) ListEvents(ctx context.Context, sheetID, userID string, limit int, newestFirst bool) ([]storage.Event, error) {
	if c.repo == nil {
		return nil, ErrNotConfigured
	}
	return c.repo.ListEvents(ctx, sheetID, userID, limit, newestFirst)
}

// GetGrid는 시트의 셀을 [row][col] 2차원 배열로 반환합니다. 너비는 컬럼 수입니다.
func (c *Controller) GetGrid(ctx context.Context, sheetID, userID string) ([][]string, error) {
	if c.repo == nil {
		return nil, ErrNotConfigured
	}
	columns, err := c.GetColumns(ctx, sheetID)
	if err != nil {
		return nil, err
	}
	cells, err := c.repo.ListCells(ctx, sheetID, userID)
	if err != nil {
		return nil, err
	}
	maxRow := -1
	for _, cell := range cells {
		if cell.RowIndex > maxRow {
			maxRow = cell.RowIndex
		}
	}
	grid := make([][]string, maxRow+1)
	for i := range grid {
		grid[i] = make([]string, len(columns))
	}
	for _, cell := range cells {
		if cell.ColIndex < len(columns) {
			grid[cell.RowIndex][cell.ColIndex] = cell.Content
		}
	}
	return grid, nil
}
