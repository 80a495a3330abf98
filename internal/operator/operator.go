package operator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// Operator type tags
const (
	TypeAuto             = "auto"
	TypeGoogleSearch     = "google_search"
	TypeURLContext       = "url_context"
	TypeStructuredOutput = "structured_output"
	TypeFunctionCalling  = "function_calling"
	TypePassthrough      = "passthrough"
)

// Column은 operator가 보는 컬럼 정의입니다.
type Column struct {
	Position     int
	Title        string
	DataType     string
	OperatorType string
	Prompt       string
	SystemPrompt string
	Config       json.RawMessage
	Dependencies []int
}

// ColumnValue는 행 컨텍스트에 포함되는 (컬럼, 값) 쌍입니다.
type ColumnValue struct {
	Position int
	Title    string
	Content  string
}

// Input은 한 번의 operator 실행 입력입니다.
// SourceIndex 컬럼의 값이 방금 채워졌고, Target 컬럼을 채워야 합니다.
type Input struct {
	SheetID      string
	UserID       string
	EventID      string
	RowIndex     int
	SourceIndex  int
	Target       Column
	Columns      []Column
	RowData      map[int]string
	SystemPrompt string
	IsAutonomous bool
}

// SourceContent는 원본 셀의 내용을 반환합니다.
func (in *Input) SourceContent() string {
	return in.RowData[in.SourceIndex]
}

// DependencyValues는 대상 컬럼이 참조하는 비어 있지 않은 값을 position 순으로 반환합니다.
// 의존성이 선언되지 않았으면 대상보다 왼쪽의 모든 컬럼을 사용합니다.
func (in *Input) DependencyValues() []ColumnValue {
	positions := in.Target.Dependencies
	if len(positions) == 0 {
		positions = make([]int, 0, in.Target.Position)
		for p := 0; p < in.Target.Position; p++ {
			positions = append(positions, p)
		}
	} else {
		positions = append([]int(nil), positions...)
		sort.Ints(positions)
	}

	values := make([]ColumnValue, 0, len(positions))
	for _, p := range positions {
		content, ok := in.RowData[p]
		if !ok || content == "" {
			continue
		}
		values = append(values, ColumnValue{
			Position: p,
			Title:    in.columnTitle(p),
			Content:  content,
		})
	}
	return values
}

func (in *Input) columnTitle(position int) string {
	for _, c := range in.Columns {
		if c.Position == position {
			return c.Title
		}
	}
	return fmt.Sprintf("Column %d", position+1)
}

// Output은 operator 실행 결과입니다.
type Output struct {
	Content     string
	Usage       *UsageMetadata
	Sources     []string
	AutoCopy    bool // 단순 복사 결과 (auto_copy로 staging)
	StopCascade bool // 다음 컬럼으로 cascade하지 않음
}

// Operator는 행 컨텍스트로부터 대상 셀 값을 계산합니다.
type Operator interface {
	Type() string
	Operate(ctx context.Context, in *Input) (*Output, error)
}

// Result는 디스패치 경계에서 반환되는 구조화된 결과입니다. 에러는 panic이나 error로 전파되지 않습니다.
type Result struct {
	Success      bool           `json:"success"`
	Data         string         `json:"data,omitempty"`
	Error        string         `json:"error,omitempty"`
	OperatorType string         `json:"operatorType"`
	Usage        *UsageMetadata `json:"usageMetadata,omitempty"`
	Sources      []string       `json:"sources,omitempty"`
	AutoCopy     bool           `json:"autoCopy,omitempty"`
	StopCascade  bool           `json:"stopCascade,omitempty"`
}

// commonConfig는 모든 operator가 공유하는 컬럼 설정입니다.
type commonConfig struct {
	Model string `json:"model,omitempty"`
}

func decodeConfig(raw json.RawMessage, dst interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
