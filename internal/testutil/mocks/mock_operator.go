package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/cnap-oss/sheetflow/internal/operator"
)

// MockOperator는 테스트용 Operator 구현입니다. 동시 호출에 안전합니다.
type MockOperator struct {
	mu sync.Mutex

	// OperatorType은 Type()이 반환할 종류 태그입니다.
	OperatorType string

	// Responses는 "row:col"(대상 셀) 별 응답을 정의합니다.
	Responses map[string]string

	// Errors는 "row:col"(대상 셀) 별 에러를 정의합니다.
	Errors map[string]error

	// DefaultResponse는 Responses에 없는 경우 사용할 기본 응답입니다.
	// 비어 있으면 "<type>(<원본 내용>)"을 반환합니다.
	DefaultResponse string

	// PanicOn이 설정되면 해당 셀에서 panic을 일으킵니다.
	PanicOn map[string]bool

	// BeforeReturn은 결과 반환 직전에 호출됩니다.
	BeforeReturn func(in *operator.Input)

	// Calls는 Operate 호출 기록입니다.
	Calls []operator.Input
}

var _ operator.Operator = (*MockOperator)(nil)

// NewMockOperator는 새로운 MockOperator를 생성합니다.
func NewMockOperator(operatorType string) *MockOperator {
	return &MockOperator{
		OperatorType: operatorType,
		Responses:    make(map[string]string),
		Errors:       make(map[string]error),
		PanicOn:      make(map[string]bool),
	}
}

// CellKey는 Responses/Errors 키를 만듭니다.
func CellKey(row, col int) string {
	return fmt.Sprintf("%d:%d", row, col)
}

// Type implements operator.Operator.
func (m *MockOperator) Type() string {
	return m.OperatorType
}

// Operate implements operator.Operator.
func (m *MockOperator) Operate(_ context.Context, in *operator.Input) (*operator.Output, error) {
	key := CellKey(in.RowIndex, in.Target.Position)

	m.mu.Lock()
	m.Calls = append(m.Calls, *in)
	panicNow := m.PanicOn[key]
	err, hasErr := m.Errors[key]
	resp, hasResp := m.Responses[key]
	def := m.DefaultResponse
	hook := m.BeforeReturn
	m.mu.Unlock()

	if panicNow {
		panic("mock operator panic at " + key)
	}
	if hook != nil {
		hook(in)
	}
	if hasErr {
		return nil, err
	}
	if !hasResp {
		resp = def
		if resp == "" {
			resp = fmt.Sprintf("%s(%s)", m.OperatorType, in.SourceContent())
		}
	}
	return &operator.Output{
		Content: resp,
		Usage:   &operator.UsageMetadata{PromptTokenCount: 1, CandidatesTokenCount: 1, TotalTokenCount: 2},
	}, nil
}

// SetResponse는 특정 셀에 대한 응답을 설정합니다.
func (m *MockOperator) SetResponse(row, col int, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses[CellKey(row, col)] = response
}

// SetError는 특정 셀에 대한 에러를 설정합니다.
func (m *MockOperator) SetError(row, col int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors[CellKey(row, col)] = err
}

// SetErrorMessage는 특정 셀에 대한 에러 메시지를 설정합니다.
func (m *MockOperator) SetErrorMessage(row, col int, message string) {
	m.SetError(row, col, fmt.Errorf("%s", message))
}

// GetCallCount는 Operate 호출 횟수를 반환합니다.
func (m *MockOperator) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// GetLastCall은 마지막 Operate 호출을 반환합니다.
func (m *MockOperator) GetLastCall() *operator.Input {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return nil
	}
	in := m.Calls[len(m.Calls)-1]
	return &in
}

// Reset은 모든 호출 기록을 초기화합니다.
func (m *MockOperator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}
