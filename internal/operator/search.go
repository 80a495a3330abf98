package operator

import (
	"context"
	"fmt"
	"strings"
)

// GoogleSearchOperator는 웹 검색 grounding으로 셀을 채웁니다.
type GoogleSearchOperator struct {
	gen Generator
}

// NewGoogleSearchOperator는 새 GoogleSearchOperator를 생성합니다.
func NewGoogleSearchOperator(gen Generator) *GoogleSearchOperator {
	return &GoogleSearchOperator{gen: gen}
}

// Type은 operator 종류를 반환합니다.
func (o *GoogleSearchOperator) Type() string { return TypeGoogleSearch }

// Operate는 google_search 도구를 켠 채로 모델을 호출합니다.
func (o *GoogleSearchOperator) Operate(ctx context.Context, in *Input) (*Output, error) {
	var cfg commonConfig
	if err := decodeConfig(in.Target.Config, &cfg); err != nil {
		return nil, err
	}

	resp, err := o.gen.Generate(ctx, &GenerateRequest{
		Model:             cfg.Model,
		SystemInstruction: SystemInstruction(in.SystemPrompt),
		Contents:          []Content{UserContent(BuildPrompt(in))},
		Tools:             []Tool{{GoogleSearch: &EmptyObject{}}},
	})
	if err != nil {
		return nil, err
	}

	text := resp.Text()
	if text == "" {
		return nil, ErrEmptyResponse
	}
	return &Output{
		Content: text,
		Usage:   resp.UsageMetadata,
		Sources: resp.Sources(),
	}, nil
}

// URLContextOperator는 행에 있는 URL의 내용을 읽어 셀을 채웁니다.
type URLContextOperator struct {
	gen Generator
}

// NewURLContextOperator는 새 URLContextOperator를 생성합니다.
func NewURLContextOperator(gen Generator) *URLContextOperator {
	return &URLContextOperator{gen: gen}
}

// Type은 operator 종류를 반환합니다.
func (o *URLContextOperator) Type() string { return TypeURLContext }

// Operate는 의존 컬럼 값에서 URL을 찾아 url_context 도구와 함께 모델을 호출합니다.
func (o *URLContextOperator) Operate(ctx context.Context, in *Input) (*Output, error) {
	var cfg commonConfig
	if err := decodeConfig(in.Target.Config, &cfg); err != nil {
		return nil, err
	}

	texts := []string{in.SourceContent()}
	for _, v := range in.DependencyValues() {
		texts = append(texts, v.Content)
	}
	urls := ExtractURLs(texts...)
	if len(urls) == 0 {
		return nil, ErrNoURL
	}

	prompt := fmt.Sprintf("%s\n\nURLs:\n%s", BuildPrompt(in), strings.Join(urls, "\n"))
	resp, err := o.gen.Generate(ctx, &GenerateRequest{
		Model:             cfg.Model,
		SystemInstruction: SystemInstruction(in.SystemPrompt),
		Contents:          []Content{UserContent(prompt)},
		Tools:             []Tool{{URLContext: &EmptyObject{}}},
	})
	if err != nil {
		return nil, err
	}

	text := resp.Text()
	if text == "" {
		return nil, ErrEmptyResponse
	}
	return &Output{
		Content: text,
		Usage:   resp.UsageMetadata,
		Sources: urls,
	}, nil
}
