package operator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

var defaultSchema = json.RawMessage(`{"type":"OBJECT","properties":{"value":{"type":"STRING"}},"required":["value"]}`)

type structuredConfig struct {
	commonConfig
	Schema json.RawMessage `json:"schema,omitempty"`
	Field  string          `json:"field,omitempty"`
}

// StructuredOutputOperator는 스키마로 제한된 JSON 응답에서 값을 추출합니다.
type StructuredOutputOperator struct {
	gen Generator
}

// NewStructuredOutputOperator는 새 StructuredOutputOperator를 생성합니다.
func NewStructuredOutputOperator(gen Generator) *StructuredOutputOperator {
	return &StructuredOutputOperator{gen: gen}
}

// Type은 operator 종류를 반환합니다.
func (o *StructuredOutputOperator) Type() string { return TypeStructuredOutput }

// Operate는 responseSchema를 지정해 모델을 호출하고 field 값을 셀 내용으로 사용합니다.
// 스키마가 없으면 {"value": string} 스키마와 value 필드를 사용합니다.
func (o *StructuredOutputOperator) Operate(ctx context.Context, in *Input) (*Output, error) {
	var cfg structuredConfig
	if err := decodeConfig(in.Target.Config, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Schema) == 0 {
		cfg.Schema = defaultSchema
		if cfg.Field == "" {
			cfg.Field = "value"
		}
	}

	resp, err := o.gen.Generate(ctx, &GenerateRequest{
		Model:             cfg.Model,
		SystemInstruction: SystemInstruction(in.SystemPrompt),
		Contents:          []Content{UserContent(BuildPrompt(in))},
		GenerationConfig: &GenerationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   cfg.Schema,
		},
	})
	if err != nil {
		return nil, err
	}

	text := resp.Text()
	if text == "" {
		return nil, ErrEmptyResponse
	}
	content, err := extractField(text, cfg.Field)
	if err != nil {
		return nil, err
	}
	return &Output{
		Content: content,
		Usage:   resp.UsageMetadata,
	}, nil
}

// extractField는 JSON 텍스트에서 점(.)으로 구분된 경로의 값을 꺼냅니다.
// 문자열은 그대로, 그 외 값은 compact JSON으로 반환합니다. field가 비어 있으면 전체를 반환합니다.
func extractField(text, field string) (string, error) {
	text = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(text), "```json"), "```"))

	var doc interface{}
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidJSONOut, err)
	}

	value := doc
	if field != "" {
		for _, key := range strings.Split(field, ".") {
			obj, ok := value.(map[string]interface{})
			if !ok {
				return "", fmt.Errorf("%w: %s", ErrFieldNotFound, field)
			}
			value, ok = obj[key]
			if !ok {
				return "", fmt.Errorf("%w: %s", ErrFieldNotFound, field)
			}
		}
	}

	switch v := value.(type) {
	case string:
		return v, nil
	case nil:
		return "", nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
}
