package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gorm.io/gorm"
)

// CreateTemplate은 새 템플릿을 저장합니다.
func (r *Repository) CreateTemplate(ctx context.Context, tmpl *Template) error {
	if tmpl == nil {
		return fmt.Errorf("storage: nil template payload")
	}
	if tmpl.TemplateID == "" {
		tmpl.TemplateID = NewID()
	}
	return r.db.WithContext(ctx).Create(tmpl).Error
}

// GetTemplate은 식별자로 템플릿을 조회합니다.
func (r *Repository) GetTemplate(ctx context.Context, templateID string) (*Template, error) {
	if templateID == "" {
		return nil, fmt.Errorf("storage: empty templateID")
	}
	var tmpl Template
	if err := r.db.WithContext(ctx).
		Where("template_id = ?", templateID).
		First(&tmpl).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, err
	}
	return &tmpl, nil
}

// ValidateColumns는 컬럼 위치와 의존성을 검증합니다.
// 위치는 0부터 연속이어야 하고, 의존성은 자신보다 앞선 위치만 가리킬 수 있습니다.
func ValidateColumns(columns []Column) error {
	if len(columns) == 0 {
		return ErrNoColumns
	}
	positions := make([]int, 0, len(columns))
	for _, col := range columns {
		positions = append(positions, col.Position)
	}
	sort.Ints(positions)
	for i, pos := range positions {
		if pos != i {
			return fmt.Errorf("%w: got %v", ErrInvalidPosition, positions)
		}
	}
	for _, col := range columns {
		for _, dep := range col.Dependencies {
			if dep < 0 || dep >= col.Position {
				return fmt.Errorf("%w: column %q at position %d depends on %d",
					ErrInvalidDependency, col.Title, col.Position, dep)
			}
		}
	}
	return nil
}

// CreateSheetWithColumns는 시트와 컬럼을 하나의 트랜잭션으로 저장합니다.
func (r *Repository) CreateSheetWithColumns(ctx context.Context, sheet *Sheet, columns []Column) error {
	if sheet == nil {
		return fmt.Errorf("storage: nil sheet payload")
	}
	if sheet.UserID == "" {
		return fmt.Errorf("storage: empty userID")
	}
	if err := ValidateColumns(columns); err != nil {
		return err
	}
	if sheet.SheetID == "" {
		sheet.SheetID = NewID()
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if sheet.TemplateID != "" {
			var count int64
			if err := tx.Model(&Template{}).Where("template_id = ?", sheet.TemplateID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrTemplateNotFound
			}
		}
		if err := tx.Create(sheet).Error; err != nil {
			return err
		}
		for i := range columns {
			columns[i].ID = 0
			columns[i].SheetID = sheet.SheetID
			if columns[i].ColumnID == "" {
				columns[i].ColumnID = NewID()
			}
			if columns[i].DataType == "" {
				columns[i].DataType = DataTypeText
			}
		}
		return tx.Create(&columns).Error
	})
}

// GetSheet은 식별자로 시트를 조회합니다.
func (r *Repository) GetSheet(ctx context.Context, sheetID string) (*Sheet, error) {
	if sheetID == "" {
		return nil, fmt.Errorf("storage: empty sheetID")
	}
	var sheet Sheet
	if err := r.db.WithContext(ctx).
		Where("sheet_id = ?", sheetID).
		First(&sheet).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSheetNotFound
		}
		return nil, err
	}
	return &sheet, nil
}

// ListSheets는 사용자의 시트 목록을 반환합니다. userID가 비어 있으면 전체를 반환합니다.
func (r *Repository) ListSheets(ctx context.Context, userID string) ([]Sheet, error) {
	q := r.db.WithContext(ctx).Model(&Sheet{})
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	var sheets []Sheet
	if err := q.Order("created_at ASC, id ASC").Find(&sheets).Error; err != nil {
		return nil, err
	}
	return sheets, nil
}

// ListColumns는 시트의 컬럼을 position 순으로 반환합니다.
func (r *Repository) ListColumns(ctx context.Context, sheetID string) ([]Column, error) {
	if sheetID == "" {
		return nil, fmt.Errorf("storage: empty sheetID")
	}
	var columns []Column
	if err := r.db.WithContext(ctx).
		Where("sheet_id = ?", sheetID).
		Order("position ASC").
		Find(&columns).Error; err != nil {
		return nil, err
	}
	return columns, nil
}
