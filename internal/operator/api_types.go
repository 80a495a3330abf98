package operator

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ======================================
// generateContent 요청 타입
// ======================================

// Part는 메시지의 한 조각입니다.
type Part struct {
	Text             string            `json:"text,omitempty"`
	FunctionCall     *FunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty"`
}

// Content는 역할이 지정된 메시지입니다.
type Content struct {
	Role  string `json:"role,omitempty"` // user, model
	Parts []Part `json:"parts"`
}

// FunctionCall은 모델이 요청한 함수 호출입니다.
type FunctionCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// FunctionResponse는 함수 실행 결과입니다.
type FunctionResponse struct {
	Name     string                 `json:"name"`
	Response map[string]interface{} `json:"response"`
}

// FunctionDeclaration은 모델에 노출할 함수 선언입니다.
type FunctionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// EmptyObject는 옵션 없는 tool을 {}로 직렬화합니다.
type EmptyObject struct{}

// Tool은 모델이 사용할 수 있는 도구입니다.
type Tool struct {
	GoogleSearch         *EmptyObject          `json:"google_search,omitempty"`
	URLContext           *EmptyObject          `json:"url_context,omitempty"`
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations,omitempty"`
}

// GenerationConfig는 생성 옵션입니다.
type GenerationConfig struct {
	Temperature      *float64        `json:"temperature,omitempty"`
	ResponseMimeType string          `json:"responseMimeType,omitempty"`
	ResponseSchema   json.RawMessage `json:"responseSchema,omitempty"`
}

// GenerateRequest는 generateContent 요청입니다.
type GenerateRequest struct {
	Model             string            `json:"-"` // 비어 있으면 클라이언트 기본 모델
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`
	Contents          []Content         `json:"contents"`
	Tools             []Tool            `json:"tools,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
}

// ======================================
// generateContent 응답 타입
// ======================================

// WebSource는 검색 grounding 출처입니다.
type WebSource struct {
	URI   string `json:"uri"`
	Title string `json:"title,omitempty"`
}

// GroundingChunk는 grounding 근거 한 건입니다.
type GroundingChunk struct {
	Web *WebSource `json:"web,omitempty"`
}

// GroundingMetadata는 검색 grounding 메타데이터입니다.
type GroundingMetadata struct {
	WebSearchQueries []string         `json:"webSearchQueries,omitempty"`
	GroundingChunks  []GroundingChunk `json:"groundingChunks,omitempty"`
}

// Candidate는 생성 후보입니다.
type Candidate struct {
	Content           Content            `json:"content"`
	FinishReason      string             `json:"finishReason,omitempty"`
	GroundingMetadata *GroundingMetadata `json:"groundingMetadata,omitempty"`
}

// UsageMetadata는 토큰 사용량입니다.
type UsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// Add는 다른 사용량을 누적합니다.
func (u *UsageMetadata) Add(other *UsageMetadata) *UsageMetadata {
	if other == nil {
		return u
	}
	if u == nil {
		u = &UsageMetadata{}
	}
	u.PromptTokenCount += other.PromptTokenCount
	u.CandidatesTokenCount += other.CandidatesTokenCount
	u.TotalTokenCount += other.TotalTokenCount
	return u
}

// GenerateResponse는 generateContent 응답입니다.
type GenerateResponse struct {
	Candidates    []Candidate    `json:"candidates"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
}

// Text는 첫 번째 후보의 텍스트 파트를 이어 붙여 반환합니다.
func (r *GenerateResponse) Text() string {
	if r == nil || len(r.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return strings.TrimSpace(sb.String())
}

// FunctionCalls는 첫 번째 후보의 함수 호출을 반환합니다.
func (r *GenerateResponse) FunctionCalls() []FunctionCall {
	if r == nil || len(r.Candidates) == 0 {
		return nil
	}
	var calls []FunctionCall
	for _, p := range r.Candidates[0].Content.Parts {
		if p.FunctionCall != nil {
			calls = append(calls, *p.FunctionCall)
		}
	}
	return calls
}

// Sources는 grounding 출처 URI 목록을 반환합니다.
func (r *GenerateResponse) Sources() []string {
	if r == nil || len(r.Candidates) == 0 || r.Candidates[0].GroundingMetadata == nil {
		return nil
	}
	var uris []string
	for _, chunk := range r.Candidates[0].GroundingMetadata.GroundingChunks {
		if chunk.Web != nil && chunk.Web.URI != "" {
			uris = append(uris, chunk.Web.URI)
		}
	}
	return uris
}

// ======================================
// 에러 응답
// ======================================

type errorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// APIError는 모델 API의 에러 응답입니다.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("api error [%d %s]: %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("api error [%d]: %s", e.StatusCode, e.Message)
}
