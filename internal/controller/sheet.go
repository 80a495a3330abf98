package controller

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cnap-oss/sheetflow/internal/operator"
	"github.com/cnap-oss/sheetflow/internal/storage"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// SheetDefinition은 YAML/JSON 시트 정의입니다.
type SheetDefinition struct {
	Name         string             `yaml:"name" json:"name"`
	UserID       string             `yaml:"user_id" json:"userId"`
	TemplateID   string             `yaml:"template_id,omitempty" json:"templateId,omitempty"`
	TemplateType string             `yaml:"template_type,omitempty" json:"templateType,omitempty"`
	SystemPrompt string             `yaml:"system_prompt,omitempty" json:"systemPrompt,omitempty"`
	IsAutonomous bool               `yaml:"is_autonomous,omitempty" json:"isAutonomous,omitempty"`
	Columns      []ColumnDefinition `yaml:"columns" json:"columns"`
}

// ColumnDefinition은 시트 정의 안의 컬럼입니다. 순서가 position이 됩니다.
type ColumnDefinition struct {
	Title          string                 `yaml:"title" json:"title"`
	DataType       string                 `yaml:"data_type,omitempty" json:"dataType,omitempty"`
	OperatorType   string                 `yaml:"operator_type,omitempty" json:"operatorType,omitempty"`
	OperatorConfig map[string]interface{} `yaml:"operator_config,omitempty" json:"operatorConfig,omitempty"`
	Prompt         string                 `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	SystemPrompt   string                 `yaml:"system_prompt,omitempty" json:"systemPrompt,omitempty"`
	Dependencies   []int                  `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	IsRequired     bool                   `yaml:"is_required,omitempty" json:"isRequired,omitempty"`
}

// CreateTemplate은 시스템 프롬프트 템플릿을 생성합니다.
func (c *Controller) CreateTemplate(ctx context.Context, name, systemPrompt string) (*storage.Template, error) {
	if c.repo == nil {
		return nil, ErrNotConfigured
	}
	tmpl := &storage.Template{Name: name, SystemPrompt: systemPrompt}
	if err := c.repo.CreateTemplate(ctx, tmpl); err != nil {
		return nil, err
	}
	c.logger.Info("Template created", zap.String("template_id", tmpl.TemplateID))
	return tmpl, nil
}

// CreateSheet는 정의에 따라 시트와 컬럼을 생성합니다.
// operator 종류는 등록된 것 또는 auto여야 하며, 의존성은 앞선 컬럼만 가리킬 수 있습니다.
func (c *Controller) CreateSheet(ctx context.Context, def SheetDefinition) (*storage.Sheet, []storage.Column, error) {
	if c.repo == nil {
		return nil, nil, ErrNotConfigured
	}
	if def.UserID == "" {
		return nil, nil, fmt.Errorf("controller: empty userID")
	}

	columns := make([]storage.Column, 0, len(def.Columns))
	for i, cd := range def.Columns {
		if err := c.validateOperatorType(cd.OperatorType); err != nil {
			return nil, nil, fmt.Errorf("column %q: %w", cd.Title, err)
		}
		col := storage.Column{
			Position:     i,
			Title:        cd.Title,
			DataType:     cd.DataType,
			OperatorType: cd.OperatorType,
			Prompt:       cd.Prompt,
			SystemPrompt: cd.SystemPrompt,
			Dependencies: datatypes.JSONSlice[int](cd.Dependencies),
			IsRequired:   cd.IsRequired,
		}
		if col.Title == "" {
			col.Title = fmt.Sprintf("Column %d", i+1)
		}
		if len(cd.OperatorConfig) > 0 {
			raw, err := json.Marshal(cd.OperatorConfig)
			if err != nil {
				return nil, nil, fmt.Errorf("column %q: %w: %v", cd.Title, operator.ErrInvalidConfig, err)
			}
			col.OperatorConfig = datatypes.JSON(raw)
		}
		columns = append(columns, col)
	}

	sheet := &storage.Sheet{
		UserID:       def.UserID,
		Name:         def.Name,
		TemplateID:   def.TemplateID,
		TemplateType: def.TemplateType,
		SystemPrompt: def.SystemPrompt,
		IsAutonomous: def.IsAutonomous,
	}
	if err := c.repo.CreateSheetWithColumns(ctx, sheet, columns); err != nil {
		c.logger.Error("Failed to create sheet", zap.String("name", def.Name), zap.Error(err))
		return nil, nil, err
	}

	c.logger.Info("Sheet created",
		zap.String("sheet_id", sheet.SheetID),
		zap.String("user_id", sheet.UserID),
		zap.Int("columns", len(columns)),
	)
	return sheet, columns, nil
}

func (c *Controller) validateOperatorType(t string) error {
	if t == "" || t == operator.TypeAuto {
		return nil
	}
	if c.registry == nil {
		return nil
	}
	if _, err := c.registry.Get(t); err != nil {
		return fmt.Errorf("%w: %s (known: %v)", ErrInvalidOperatorType, t, c.registry.Types())
	}
	return nil
}

// GetSheet은 시트를 조회합니다.
func (c *Controller) GetSheet(ctx context.Context, sheetID string) (*storage.Sheet, error) {
	if c.repo == nil {
		return nil, ErrNotConfigured
	}
	return c.repo.GetSheet(ctx, sheetID)
}

// ListSheets는 사용자의 시트 목록을 반환합니다.
func (c *Controller) ListSheets(ctx context.Context, userID string) ([]storage.Sheet, error) {
	if c.repo == nil {
		return nil, ErrNotConfigured
	}
	return c.repo.ListSheets(ctx, userID)
}

// EventCounts는 시트 이벤트의 상태별 개수를 반환합니다.
func (c *Controller) EventCounts(ctx context.Context, sheetID string) (map[string]int64, error) {
	if c.repo == nil {
		return nil, ErrNotConfigured
	}
	return c.repo.CountEventsByStatus(ctx, sheetID)
}
