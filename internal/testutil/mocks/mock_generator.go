package mocks

import (
	"context"
	"sync"

	"github.com/cnap-oss/sheetflow/internal/operator"
)

// MockGenerator는 스크립트된 응답을 순서대로 반환하는 Generator입니다.
type MockGenerator struct {
	mu sync.Mutex

	// Script는 호출 순서대로 반환할 응답입니다. 소진되면 마지막 항목을 반복합니다.
	Script []GeneratorStep

	// Requests는 Generate 호출 기록입니다.
	Requests []*operator.GenerateRequest
}

// GeneratorStep은 한 번의 Generate 결과입니다.
type GeneratorStep struct {
	Response *operator.GenerateResponse
	Err      error
}

var _ operator.Generator = (*MockGenerator)(nil)

// NewMockGenerator는 주어진 단계들로 MockGenerator를 생성합니다.
func NewMockGenerator(steps ...GeneratorStep) *MockGenerator {
	return &MockGenerator{Script: steps}
}

// TextResponse는 텍스트 한 파트짜리 응답을 만듭니다.
func TextResponse(text string) *operator.GenerateResponse {
	return &operator.GenerateResponse{
		Candidates: []operator.Candidate{{
			Content: operator.Content{Role: "model", Parts: []operator.Part{{Text: text}}},
		}},
		UsageMetadata: &operator.UsageMetadata{PromptTokenCount: 10, CandidatesTokenCount: 5, TotalTokenCount: 15},
	}
}

// FunctionCallResponse는 함수 호출 한 건짜리 응답을 만듭니다.
func FunctionCallResponse(name string, args map[string]interface{}) *operator.GenerateResponse {
	return &operator.GenerateResponse{
		Candidates: []operator.Candidate{{
			Content: operator.Content{Role: "model", Parts: []operator.Part{{
				FunctionCall: &operator.FunctionCall{Name: name, Args: args},
			}}},
		}},
		UsageMetadata: &operator.UsageMetadata{PromptTokenCount: 10, CandidatesTokenCount: 2, TotalTokenCount: 12},
	}
}

// Generate implements operator.Generator.
func (m *MockGenerator) Generate(_ context.Context, req *operator.GenerateRequest) (*operator.GenerateResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := len(m.Requests)
	m.Requests = append(m.Requests, req)
	if len(m.Script) == 0 {
		return TextResponse("mock"), nil
	}
	if idx >= len(m.Script) {
		idx = len(m.Script) - 1
	}
	step := m.Script[idx]
	return step.Response, step.Err
}

// GetCallCount는 Generate 호출 횟수를 반환합니다.
func (m *MockGenerator) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

// GetLastRequest는 마지막 요청을 반환합니다.
func (m *MockGenerator) GetLastRequest() *operator.GenerateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Requests) == 0 {
		return nil
	}
	return m.Requests[len(m.Requests)-1]
}
