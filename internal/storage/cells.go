package storage

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/gorm/clause"
)

// UpsertCell은 셀 내용을 insert-or-update로 기록합니다.
func (r *Repository) UpsertCell(ctx context.Context, sheetID, userID string, rowIndex, colIndex int, content string) error {
	if sheetID == "" || userID == "" {
		return fmt.Errorf("storage: empty sheetID or userID")
	}
	if rowIndex < 0 || colIndex < 0 {
		return ErrInvalidCellAddress
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "sheet_id"}, {Name: "user_id"}, {Name: "row_index"}, {Name: "col_index"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"content", "updated_at"}),
		}).
		Create(&Cell{
			SheetID:  sheetID,
			UserID:   userID,
			RowIndex: rowIndex,
			ColIndex: colIndex,
			Content:  content,
		}).Error
}

// GetCell은 단일 셀을 조회합니다. 없으면 ok=false를 반환합니다.
func (r *Repository) GetCell(ctx context.Context, sheetID, userID string, rowIndex, colIndex int) (*Cell, bool, error) {
	var cells []Cell
	if err := r.db.WithContext(ctx).
		Where("sheet_id = ? AND user_id = ? AND row_index = ? AND col_index = ?", sheetID, userID, rowIndex, colIndex).
		Limit(1).
		Find(&cells).Error; err != nil {
		return nil, false, err
	}
	if len(cells) == 0 {
		return nil, false, nil
	}
	return &cells[0], true, nil
}

// GetRow는 행의 모든 셀을 col_index → content 맵으로 반환합니다.
func (r *Repository) GetRow(ctx context.Context, sheetID, userID string, rowIndex int) (map[int]string, error) {
	var cells []Cell
	if err := r.db.WithContext(ctx).
		Where("sheet_id = ? AND user_id = ? AND row_index = ?", sheetID, userID, rowIndex).
		Find(&cells).Error; err != nil {
		return nil, err
	}
	row := make(map[int]string, len(cells))
	for _, c := range cells {
		row[c.ColIndex] = c.Content
	}
	return row, nil
}

// ListCells는 시트의 모든 셀을 (row, col) 순으로 반환합니다.
func (r *Repository) ListCells(ctx context.Context, sheetID, userID string) ([]Cell, error) {
	var cells []Cell
	if err := r.db.WithContext(ctx).
		Where("sheet_id = ? AND user_id = ?", sheetID, userID).
		Order("row_index ASC, col_index ASC").
		Find(&cells).Error; err != nil {
		return nil, err
	}
	return cells, nil
}

// MaxRowIndex는 가장 큰 row_index를 반환합니다. 셀이 없으면 -1입니다.
func (r *Repository) MaxRowIndex(ctx context.Context, sheetID, userID string) (int, error) {
	var maxRow sql.NullInt64
	if err := r.db.WithContext(ctx).
		Model(&Cell{}).
		Where("sheet_id = ? AND user_id = ?", sheetID, userID).
		Select("MAX(row_index)").
		Row().
		Scan(&maxRow); err != nil {
		return 0, err
	}
	if !maxRow.Valid {
		return -1, nil
	}
	return int(maxRow.Int64), nil
}

// RowsWithContent는 colIndex 컬럼에 비어 있지 않은 내용이 있는 행 번호를 반환합니다.
func (r *Repository) RowsWithContent(ctx context.Context, sheetID, userID string, colIndex int) ([]int, error) {
	var rows []int
	if err := r.db.WithContext(ctx).
		Model(&Cell{}).
		Where("sheet_id = ? AND user_id = ? AND col_index = ? AND content <> ''", sheetID, userID, colIndex).
		Order("row_index ASC").
		Pluck("row_index", &rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// DeleteCellsFrom은 행에서 fromColIndex 이상인 셀을 삭제합니다.
func (r *Repository) DeleteCellsFrom(ctx context.Context, sheetID, userID string, rowIndex, fromColIndex int) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("sheet_id = ? AND user_id = ? AND row_index = ? AND col_index >= ?", sheetID, userID, rowIndex, fromColIndex).
		Delete(&Cell{})
	return res.RowsAffected, res.Error
}

// ReserveRows는 n개의 연속된 행 번호를 예약하고 첫 번호를 반환합니다.
// 트랜잭션 안에서 호출해야 하며, postgres에서는 카운터 행을 잠가 동시 호출이 같은 번호를 받지 않게 합니다.
// 카운터가 없던 시트는 기존 셀의 최대 행 다음부터 시작합니다.
func (r *Repository) ReserveRows(ctx context.Context, sheetID, userID string, n int) (int, error) {
	if sheetID == "" || userID == "" {
		return 0, fmt.Errorf("storage: empty sheetID or userID")
	}
	if n <= 0 {
		return 0, fmt.Errorf("storage: invalid row count %d", n)
	}
	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&RowCounter{SheetID: sheetID, UserID: userID}).Error; err != nil {
		return 0, err
	}

	q := db.Where("sheet_id = ? AND user_id = ?", sheetID, userID)
	if isPostgres(db) {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var counter RowCounter
	if err := q.Take(&counter).Error; err != nil {
		return 0, err
	}

	maxRow, err := r.MaxRowIndex(ctx, sheetID, userID)
	if err != nil {
		return 0, err
	}
	first := counter.NextRow
	if maxRow+1 > first {
		first = maxRow + 1
	}

	if err := db.Model(&RowCounter{}).
		Where("sheet_id = ? AND user_id = ?", sheetID, userID).
		Update("next_row", first+n).Error; err != nil {
		return 0, err
	}
	return first, nil
}
