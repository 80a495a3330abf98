package operator_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cnap-oss/sheetflow/internal/operator"
	"github.com/cnap-oss/sheetflow/internal/testutil/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rowInput(target operator.Column, row map[int]string) *operator.Input {
	return &operator.Input{
		SheetID:     "sheet-1",
		UserID:      "user-1",
		EventID:     "event-1",
		RowIndex:    0,
		SourceIndex: target.Position - 1,
		Columns: []operator.Column{
			{Position: 0, Title: "Query"},
			{Position: 1, Title: "Answer"},
			{Position: 2, Title: "Extra"},
		},
		Target:       target,
		RowData:      row,
		SystemPrompt: "You fill spreadsheet cells.",
	}
}

func TestGoogleSearchOperator(t *testing.T) {
	gen := mocks.NewMockGenerator(mocks.GeneratorStep{Response: mocks.TextResponse("Blue Bottle")})
	op := operator.NewGoogleSearchOperator(gen)

	out, err := op.Operate(context.Background(), rowInput(
		operator.Column{Position: 1, Title: "Answer", Config: json.RawMessage(`{"model":"gemini-x"}`)},
		map[int]string{0: "search: best coffee"},
	))

	require.NoError(t, err)
	assert.Equal(t, "Blue Bottle", out.Content)
	assert.Equal(t, 15, out.Usage.TotalTokenCount)

	req := gen.GetLastRequest()
	require.NotNil(t, req)
	assert.Equal(t, "gemini-x", req.Model)
	require.Len(t, req.Tools, 1)
	assert.NotNil(t, req.Tools[0].GoogleSearch)
	require.NotNil(t, req.SystemInstruction)
	assert.Equal(t, "You fill spreadsheet cells.", req.SystemInstruction.Parts[0].Text)
	assert.Contains(t, req.Contents[0].Parts[0].Text, "search: best coffee")
}

func TestGoogleSearchOperator_EmptyResponse(t *testing.T) {
	gen := mocks.NewMockGenerator(mocks.GeneratorStep{Response: mocks.TextResponse("  ")})
	op := operator.NewGoogleSearchOperator(gen)

	_, err := op.Operate(context.Background(), rowInput(operator.Column{Position: 1, Title: "Answer"}, map[int]string{0: "q"}))
	require.ErrorIs(t, err, operator.ErrEmptyResponse)
}

func TestURLContextOperator(t *testing.T) {
	gen := mocks.NewMockGenerator(mocks.GeneratorStep{Response: mocks.TextResponse("A coffee roaster")})
	op := operator.NewURLContextOperator(gen)

	out, err := op.Operate(context.Background(), rowInput(
		operator.Column{Position: 1, Title: "Answer"},
		map[int]string{0: "bluebottlecoffee.com"},
	))

	require.NoError(t, err)
	assert.Equal(t, "A coffee roaster", out.Content)
	assert.Equal(t, []string{"https://bluebottlecoffee.com"}, out.Sources)

	req := gen.GetLastRequest()
	require.Len(t, req.Tools, 1)
	assert.NotNil(t, req.Tools[0].URLContext)
	assert.Contains(t, req.Contents[0].Parts[0].Text, "https://bluebottlecoffee.com")
}

func TestURLContextOperator_NoURL(t *testing.T) {
	gen := mocks.NewMockGenerator()
	op := operator.NewURLContextOperator(gen)

	_, err := op.Operate(context.Background(), rowInput(operator.Column{Position: 1, Title: "Answer"}, map[int]string{0: "plain words"}))
	require.ErrorIs(t, err, operator.ErrNoURL)
	assert.Zero(t, gen.GetCallCount())
}

func TestStructuredOutputOperator(t *testing.T) {
	tests := []struct {
		name    string
		config  string
		reply   string
		want    string
		wantErr error
	}{
		{
			name:  "default schema uses value field",
			reply: `{"value": "42"}`,
			want:  "42",
		},
		{
			name:   "nested field",
			config: `{"schema": {"type": "OBJECT"}, "field": "company.employees"}`,
			reply:  `{"company": {"employees": 120}}`,
			want:   "120",
		},
		{
			name:   "whole document when no field",
			config: `{"schema": {"type": "OBJECT"}}`,
			reply:  "```json\n{\"a\": [1, 2]}\n```",
			want:   `{"a":[1,2]}`,
		},
		{
			name:    "missing field",
			config:  `{"schema": {"type": "OBJECT"}, "field": "nope"}`,
			reply:   `{"a": 1}`,
			wantErr: operator.ErrFieldNotFound,
		},
		{
			name:    "not json",
			reply:   `sorry, I cannot`,
			wantErr: operator.ErrInvalidJSONOut,
		},
		{
			name:    "bad config",
			config:  `{"schema": 5`,
			wantErr: operator.ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := mocks.NewMockGenerator(mocks.GeneratorStep{Response: mocks.TextResponse(tt.reply)})
			op := operator.NewStructuredOutputOperator(gen)

			col := operator.Column{Position: 1, Title: "Answer"}
			if tt.config != "" {
				col.Config = json.RawMessage(tt.config)
			}
			out, err := op.Operate(context.Background(), rowInput(col, map[int]string{0: "Acme"}))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Content)

			req := gen.GetLastRequest()
			require.NotNil(t, req.GenerationConfig)
			assert.Equal(t, "application/json", req.GenerationConfig.ResponseMimeType)
			assert.NotEmpty(t, req.GenerationConfig.ResponseSchema)
		})
	}
}

func TestFunctionCallingOperator(t *testing.T) {
	gen := mocks.NewMockGenerator(
		mocks.GeneratorStep{Response: mocks.FunctionCallResponse("lookup", map[string]interface{}{"q": "Acme"})},
		mocks.GeneratorStep{Response: mocks.TextResponse("Acme has 120 employees")},
	)
	toolbox := operator.NewToolbox()
	var gotArgs map[string]interface{}
	toolbox.Register(operator.FunctionDeclaration{Name: "lookup"}, func(_ context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		gotArgs = args
		return map[string]interface{}{"employees": 120}, nil
	})
	op := operator.NewFunctionCallingOperator(gen, toolbox)

	out, err := op.Operate(context.Background(), rowInput(
		operator.Column{Position: 1, Title: "Answer", Config: json.RawMessage(`{"functions": ["lookup"]}`)},
		map[int]string{0: "Acme"},
	))

	require.NoError(t, err)
	assert.Equal(t, "Acme has 120 employees", out.Content)
	assert.Equal(t, 27, out.Usage.TotalTokenCount)
	assert.Equal(t, "Acme", gotArgs["q"])
	require.Equal(t, 2, gen.GetCallCount())

	last := gen.GetLastRequest()
	require.Len(t, last.Contents, 3)
	assert.Equal(t, "model", last.Contents[1].Role)
	require.NotNil(t, last.Contents[2].Parts[0].FunctionResponse)
	assert.Equal(t, "lookup", last.Contents[2].Parts[0].FunctionResponse.Name)
	assert.Equal(t, 120, last.Contents[2].Parts[0].FunctionResponse.Response["employees"])
}

func TestFunctionCallingOperator_TooManySteps(t *testing.T) {
	gen := mocks.NewMockGenerator(mocks.GeneratorStep{Response: mocks.FunctionCallResponse("current_time", nil)})
	op := operator.NewFunctionCallingOperator(gen, operator.NewDefaultToolbox(nil))

	_, err := op.Operate(context.Background(), rowInput(
		operator.Column{Position: 1, Title: "Answer", Config: json.RawMessage(`{"maxSteps": 2}`)},
		map[int]string{0: "now?"},
	))
	require.ErrorIs(t, err, operator.ErrTooManySteps)
	assert.Equal(t, 2, gen.GetCallCount())
}

func TestFunctionCallingOperator_NoFunctions(t *testing.T) {
	op := operator.NewFunctionCallingOperator(mocks.NewMockGenerator(), operator.NewToolbox())

	_, err := op.Operate(context.Background(), rowInput(operator.Column{Position: 1, Title: "Answer"}, map[int]string{0: "x"}))
	require.ErrorIs(t, err, operator.ErrInvalidConfig)
}

func TestDefaultToolbox(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello page"))
	}))
	defer server.Close()

	tb := operator.NewDefaultToolbox(server.Client())
	decls := tb.Declarations()
	require.Len(t, decls, 2)
	assert.Equal(t, "current_time", decls[0].Name)
	assert.Equal(t, "fetch_url", decls[1].Name)

	out, err := tb.Call(context.Background(), operator.FunctionCall{Name: "fetch_url", Args: map[string]interface{}{"url": server.URL}})
	require.NoError(t, err)
	assert.Equal(t, "hello page", out["body"])
	assert.Equal(t, http.StatusOK, out["status"])

	out, err = tb.Call(context.Background(), operator.FunctionCall{Name: "current_time", Args: map[string]interface{}{"timezone": "UTC"}})
	require.NoError(t, err)
	assert.NotEmpty(t, out["time"])

	_, err = tb.Call(context.Background(), operator.FunctionCall{Name: "nope"})
	require.ErrorIs(t, err, operator.ErrUnknownTool)
}

func TestPassthroughOperator(t *testing.T) {
	op := operator.NewPassthroughOperator()

	out, err := op.Operate(context.Background(), rowInput(operator.Column{Position: 1, Title: "Answer"}, map[int]string{0: "copy me"}))
	require.NoError(t, err)
	assert.Equal(t, "copy me", out.Content)
	assert.True(t, out.AutoCopy)

	_, err = op.Operate(context.Background(), rowInput(operator.Column{Position: 1, Title: "Answer"}, map[int]string{}))
	require.True(t, errors.Is(err, operator.ErrNoSourceValue))
}
