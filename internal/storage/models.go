package storage

import (
	"time"

	"gorm.io/datatypes"
)

// Template은 templates 테이블 레코드를 나타냅니다.
type Template struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement"`
	TemplateID   string    `gorm:"column:template_id;type:varchar(64);not null;uniqueIndex:idx_templates_template_id"`
	Name         string    `gorm:"column:name;type:varchar(255);not null"`
	SystemPrompt string    `gorm:"column:system_prompt;type:text"`
	CreatedAt    time.Time `gorm:"column:created_at;not null;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null;autoUpdateTime"`
}

// TableName은 gorm Tabler 인터페이스를 구현합니다.
func (Template) TableName() string {
	return "templates"
}

// Sheet는 sheets 테이블 레코드를 나타냅니다.
type Sheet struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement"`
	SheetID      string    `gorm:"column:sheet_id;type:varchar(64);not null;uniqueIndex:idx_sheets_sheet_id"`
	UserID       string    `gorm:"column:user_id;type:varchar(64);not null;index:idx_sheets_user_id"`
	Name         string    `gorm:"column:name;type:varchar(255)"`
	TemplateID   string    `gorm:"column:template_id;type:varchar(64)"`
	TemplateType string    `gorm:"column:template_type;type:varchar(64)"`
	SystemPrompt string    `gorm:"column:system_prompt;type:text"`
	IsAutonomous bool      `gorm:"column:is_autonomous;not null;default:false"`
	CreatedAt    time.Time `gorm:"column:created_at;not null;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null;autoUpdateTime"`
}

// TableName은 gorm Tabler 인터페이스를 구현합니다.
func (Sheet) TableName() string {
	return "sheets"
}

// Column은 시트의 컬럼 정의입니다. Position이 라우팅의 조인 키입니다.
type Column struct {
	ID             int64                    `gorm:"column:id;primaryKey;autoIncrement"`
	ColumnID       string                   `gorm:"column:column_id;type:varchar(64);not null;uniqueIndex:idx_columns_column_id"`
	SheetID        string                   `gorm:"column:sheet_id;type:varchar(64);not null;uniqueIndex:idx_columns_sheet_pos,priority:1"`
	Position       int                      `gorm:"column:position;not null;uniqueIndex:idx_columns_sheet_pos,priority:2"`
	Title          string                   `gorm:"column:title;type:varchar(255);not null"`
	DataType       string                   `gorm:"column:data_type;type:varchar(32);not null;default:'text'"`
	OperatorType   string                   `gorm:"column:operator_type;type:varchar(32)"`
	OperatorConfig datatypes.JSON           `gorm:"column:operator_config"`
	Prompt         string                   `gorm:"column:prompt;type:text"`
	SystemPrompt   string                   `gorm:"column:system_prompt;type:text"`
	Dependencies   datatypes.JSONSlice[int] `gorm:"column:dependencies"`
	IsRequired     bool                     `gorm:"column:is_required;not null;default:false"`
	CreatedAt      time.Time                `gorm:"column:created_at;not null;autoCreateTime"`
	UpdatedAt      time.Time                `gorm:"column:updated_at;not null;autoUpdateTime"`
}

// TableName은 gorm Tabler 인터페이스를 구현합니다.
func (Column) TableName() string {
	return "columns"
}

// Cell은 시트의 (row, col) 값입니다. (sheet_id, user_id, row_index, col_index)가 유일합니다.
type Cell struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	SheetID   string    `gorm:"column:sheet_id;type:varchar(64);not null;uniqueIndex:idx_cells_addr,priority:1"`
	UserID    string    `gorm:"column:user_id;type:varchar(64);not null;uniqueIndex:idx_cells_addr,priority:2"`
	RowIndex  int       `gorm:"column:row_index;not null;uniqueIndex:idx_cells_addr,priority:3"`
	ColIndex  int       `gorm:"column:col_index;not null;uniqueIndex:idx_cells_addr,priority:4"`
	Content   string    `gorm:"column:content;type:text"`
	CreatedAt time.Time `gorm:"column:created_at;not null;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;autoUpdateTime"`
}

// TableName은 gorm Tabler 인터페이스를 구현합니다.
func (Cell) TableName() string {
	return "cells"
}

// RowCounter는 (sheet, user)별로 다음에 할당할 행 번호를 보관합니다.
// 행 삭제나 빈 행과 무관하게 단조 증가합니다.
type RowCounter struct {
	SheetID   string    `gorm:"column:sheet_id;type:varchar(64);primaryKey"`
	UserID    string    `gorm:"column:user_id;type:varchar(64);primaryKey"`
	NextRow   int       `gorm:"column:next_row;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;autoUpdateTime"`
}

// TableName은 gorm Tabler 인터페이스를 구현합니다.
func (RowCounter) TableName() string {
	return "row_counters"
}

// EventPayload는 이벤트가 가리키는 셀과 그 시점의 내용입니다.
type EventPayload struct {
	RowIndex int    `json:"rowIndex"`
	ColIndex int    `json:"colIndex"`
	Content  string `json:"content"`
	ColumnID string `json:"columnId,omitempty"`
}

// Event는 events 큐 레코드입니다.
// status, last_error, retry_count, claimed_at, processed_at 외에는 생성 후 변경되지 않습니다.
type Event struct {
	ID          int64                            `gorm:"column:id;primaryKey;autoIncrement"`
	EventID     string                           `gorm:"column:event_id;type:varchar(64);not null;uniqueIndex:idx_events_event_id"`
	SheetID     string                           `gorm:"column:sheet_id;type:varchar(64);not null;index:idx_events_claim,priority:1"`
	UserID      string                           `gorm:"column:user_id;type:varchar(64);not null;index:idx_events_claim,priority:2"`
	EventType   string                           `gorm:"column:event_type;type:varchar(32);not null"`
	RowIndex    int                              `gorm:"column:row_index;not null;index:idx_events_cell,priority:1"`
	ColIndex    int                              `gorm:"column:col_index;not null;index:idx_events_cell,priority:2"`
	Payload     datatypes.JSONType[EventPayload] `gorm:"column:payload"`
	Status      string                           `gorm:"column:status;type:varchar(32);not null;index:idx_events_claim,priority:3"`
	RetryCount  int                              `gorm:"column:retry_count;not null;default:0"`
	LastError   string                           `gorm:"column:last_error;type:text"`
	RetryOf     string                           `gorm:"column:retry_of;type:varchar(64)"`
	CreatedAt   time.Time                        `gorm:"column:created_at;not null;autoCreateTime;index:idx_events_claim,priority:4"`
	ClaimedAt   *time.Time                       `gorm:"column:claimed_at"`
	ProcessedAt *time.Time                       `gorm:"column:processed_at"`
}

// TableName은 gorm Tabler 인터페이스를 구현합니다.
func (Event) TableName() string {
	return "events"
}

// SheetUpdate는 셀 그리드에 적용 대기 중인 계산 결과입니다.
type SheetUpdate struct {
	ID          int64      `gorm:"column:id;primaryKey;autoIncrement"`
	UpdateID    string     `gorm:"column:update_id;type:varchar(64);not null;uniqueIndex:idx_sheet_updates_update_id"`
	SheetID     string     `gorm:"column:sheet_id;type:varchar(64);not null;index:idx_sheet_updates_pending,priority:1"`
	UserID      string     `gorm:"column:user_id;type:varchar(64);not null;index:idx_sheet_updates_pending,priority:2"`
	EventID     string     `gorm:"column:event_id;type:varchar(64)"`
	RowIndex    int        `gorm:"column:row_index;not null"`
	ColIndex    int        `gorm:"column:col_index;not null"`
	Content     string     `gorm:"column:content;type:text"`
	UpdateType  string     `gorm:"column:update_type;type:varchar(32);not null"`
	StopCascade bool       `gorm:"column:stop_cascade;not null;default:false"`
	CreatedAt   time.Time  `gorm:"column:created_at;not null;autoCreateTime"`
	AppliedAt   *time.Time `gorm:"column:applied_at;index:idx_sheet_updates_pending,priority:3"`
	DiscardedAt *time.Time `gorm:"column:discarded_at"`
}

// TableName은 gorm Tabler 인터페이스를 구현합니다.
func (SheetUpdate) TableName() string {
	return "sheet_updates"
}

// SheetRef는 (sheet, user) 쌍을 식별합니다.
type SheetRef struct {
	SheetID string `gorm:"column:sheet_id"`
	UserID  string `gorm:"column:user_id"`
}
