package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cnap-oss/sheetflow/internal/operator"
	"github.com/cnap-oss/sheetflow/internal/storage"
	"go.uber.org/zap"
)

// sheetSnapshot은 tick 시작 시점의 시트 메타데이터와 컬럼 목록입니다.
// tick 도중 추가된 컬럼은 다음 tick부터 보입니다.
type sheetSnapshot struct {
	sheet    *storage.Sheet
	template *storage.Template
	columns  []storage.Column
	opCols   []operator.Column
}

// loadSnapshot은 시트, 템플릿, 컬럼을 한 번에 읽습니다.
// 시트가 없거나 컬럼이 없으면 구성 에러를 반환합니다.
func (c *Controller) loadSnapshot(ctx context.Context, sheetID string) (*sheetSnapshot, error) {
	sheet, err := c.repo.GetSheet(ctx, sheetID)
	if err != nil {
		return nil, err
	}
	columns, err := c.repo.ListColumns(ctx, sheetID)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: %s", storage.ErrNoColumns, sheetID)
	}

	snap := &sheetSnapshot{
		sheet:   sheet,
		columns: columns,
		opCols:  toOperatorColumns(columns),
	}
	if sheet.TemplateID != "" {
		tmpl, err := c.repo.GetTemplate(ctx, sheet.TemplateID)
		switch {
		case err == nil:
			snap.template = tmpl
		case errors.Is(err, storage.ErrTemplateNotFound):
			c.logger.Warn("Sheet template missing, falling back to sheet prompt",
				zap.String("sheet_id", sheetID),
				zap.String("template_id", sheet.TemplateID),
			)
		default:
			return nil, err
		}
	}
	return snap, nil
}

// systemPrompt는 컬럼, 템플릿, 시트 순으로 비어 있지 않은 첫 시스템 프롬프트를 반환합니다.
func (s *sheetSnapshot) systemPrompt(target operator.Column) string {
	if target.SystemPrompt != "" {
		return target.SystemPrompt
	}
	if s.template != nil && s.template.SystemPrompt != "" {
		return s.template.SystemPrompt
	}
	return s.sheet.SystemPrompt
}

// columnID는 position의 컬럼 식별자를 반환합니다.
func (s *sheetSnapshot) columnID(position int) string {
	if position < 0 || position >= len(s.columns) {
		return ""
	}
	return s.columns[position].ColumnID
}

func (s *sheetSnapshot) rowContext(userID string, rowIndex, colIndex int, rowData map[int]string) *RowContext {
	rc := &RowContext{
		SheetID:            s.sheet.SheetID,
		UserID:             userID,
		RowIndex:           rowIndex,
		Columns:            s.opCols,
		RowData:            rowData,
		CurrentColumnIndex: colIndex,
		IsAutonomous:       s.sheet.IsAutonomous,
	}
	if target, ok := rc.Target(); ok {
		rc.SystemPrompt = s.systemPrompt(target)
	} else {
		rc.SystemPrompt = s.systemPrompt(operator.Column{})
	}
	return rc
}

// ResolveContext는 (rowIndex, colIndex) 셀이 준비되었을 때 다음 컬럼을 채우기 위한 행 컨텍스트를 만듭니다.
// colIndex가 마지막 컬럼이면 IsComplete()가 true이며 호출자는 처리를 건너뛰어야 합니다.
func (c *Controller) ResolveContext(ctx context.Context, sheetID, userID string, rowIndex, colIndex int) (*RowContext, error) {
	if rowIndex < 0 || colIndex < 0 {
		return nil, storage.ErrInvalidCellAddress
	}
	snap, err := c.loadSnapshot(ctx, sheetID)
	if err != nil {
		return nil, err
	}
	if colIndex >= len(snap.columns) {
		return nil, fmt.Errorf("%w: %d (columns: %d)", ErrColumnOutOfRange, colIndex, len(snap.columns))
	}
	rowData, err := c.repo.GetRow(ctx, sheetID, userID, rowIndex)
	if err != nil {
		return nil, err
	}
	return snap.rowContext(userID, rowIndex, colIndex, rowData), nil
}

// GetColumns는 시트의 컬럼을 position 순으로 반환합니다.
func (c *Controller) GetColumns(ctx context.Context, sheetID string) ([]storage.Column, error) {
	if c.repo == nil {
		return nil, ErrNotConfigured
	}
	if _, err := c.repo.GetSheet(ctx, sheetID); err != nil {
		return nil, err
	}
	return c.repo.ListColumns(ctx, sheetID)
}

// operatorInput은 행 컨텍스트를 operator 입력으로 변환합니다.
func operatorInput(rc *RowContext, eventID string) *operator.Input {
	target, _ := rc.Target()
	return &operator.Input{
		SheetID:      rc.SheetID,
		UserID:       rc.UserID,
		EventID:      eventID,
		RowIndex:     rc.RowIndex,
		SourceIndex:  rc.CurrentColumnIndex,
		Target:       target,
		Columns:      rc.Columns,
		RowData:      rc.RowData,
		SystemPrompt: rc.SystemPrompt,
		IsAutonomous: rc.IsAutonomous,
	}
}

func toOperatorColumns(columns []storage.Column) []operator.Column {
	out := make([]operator.Column, 0, len(columns))
	for _, col := range columns {
		var cfg json.RawMessage
		if len(col.OperatorConfig) > 0 {
			cfg = json.RawMessage(col.OperatorConfig)
		}
		out = append(out, operator.Column{
			Position:     col.Position,
			Title:        col.Title,
			DataType:     col.DataType,
			OperatorType: col.OperatorType,
			Prompt:       col.Prompt,
			SystemPrompt: col.SystemPrompt,
			Config:       cfg,
			Dependencies: append([]int(nil), col.Dependencies...),
		})
	}
	return out
}
