package operator

import (
	"context"
	"fmt"
)

const defaultMaxSteps = 4

type functionCallingConfig struct {
	commonConfig
	Functions []string              `json:"functions,omitempty"`    // Toolbox 함수 이름
	Declared  []FunctionDeclaration `json:"declarations,omitempty"` // 추가 선언 (Toolbox에 구현이 있어야 함)
	MaxSteps  int                   `json:"maxSteps,omitempty"`
}

// FunctionCallingOperator는 모델이 요청한 함수를 실행하며 최종 텍스트를 얻습니다.
type FunctionCallingOperator struct {
	gen     Generator
	toolbox *Toolbox
}

// NewFunctionCallingOperator는 새 FunctionCallingOperator를 생성합니다.
func NewFunctionCallingOperator(gen Generator, toolbox *Toolbox) *FunctionCallingOperator {
	if toolbox == nil {
		toolbox = NewToolbox()
	}
	return &FunctionCallingOperator{gen: gen, toolbox: toolbox}
}

// Type은 operator 종류를 반환합니다.
func (o *FunctionCallingOperator) Type() string { return TypeFunctionCalling }

// Operate는 함수 호출이 없는 응답이 올 때까지 최대 MaxSteps번 모델과 함수를 번갈아 실행합니다.
func (o *FunctionCallingOperator) Operate(ctx context.Context, in *Input) (*Output, error) {
	var cfg functionCallingConfig
	if err := decodeConfig(in.Target.Config, &cfg); err != nil {
		return nil, err
	}
	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}

	decls := append(o.toolbox.Declarations(cfg.Functions...), cfg.Declared...)
	if len(decls) == 0 {
		return nil, fmt.Errorf("%w: no functions available", ErrInvalidConfig)
	}

	contents := []Content{UserContent(BuildPrompt(in))}
	var usage *UsageMetadata

	for step := 0; step < maxSteps; step++ {
		resp, err := o.gen.Generate(ctx, &GenerateRequest{
			Model:             cfg.Model,
			SystemInstruction: SystemInstruction(in.SystemPrompt),
			Contents:          contents,
			Tools:             []Tool{{FunctionDeclarations: decls}},
		})
		if err != nil {
			return nil, err
		}
		usage = usage.Add(resp.UsageMetadata)

		calls := resp.FunctionCalls()
		if len(calls) == 0 {
			text := resp.Text()
			if text == "" {
				return nil, ErrEmptyResponse
			}
			return &Output{Content: text, Usage: usage}, nil
		}

		modelParts := make([]Part, 0, len(calls))
		responseParts := make([]Part, 0, len(calls))
		for i := range calls {
			call := calls[i]
			modelParts = append(modelParts, Part{FunctionCall: &call})

			out, err := o.toolbox.Call(ctx, call)
			if err != nil {
				// 함수 에러는 모델에게 돌려주고 계속 진행
				out = map[string]interface{}{"error": err.Error()}
			}
			responseParts = append(responseParts, Part{
				FunctionResponse: &FunctionResponse{Name: call.Name, Response: out},
			})
		}
		contents = append(contents,
			Content{Role: "model", Parts: modelParts},
			Content{Role: "user", Parts: responseParts},
		)
	}

	return nil, fmt.Errorf("%w: %d", ErrTooManySteps, maxSteps)
}
