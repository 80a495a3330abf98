package operator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// ToolFunc는 모델의 함수 호출을 실행합니다.
type ToolFunc func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error)

type toolEntry struct {
	decl FunctionDeclaration
	fn   ToolFunc
}

// Toolbox는 function_calling operator가 실행할 수 있는 함수 모음입니다.
type Toolbox struct {
	mu    sync.RWMutex
	tools map[string]toolEntry
}

// NewToolbox는 빈 Toolbox를 생성합니다.
func NewToolbox() *Toolbox {
	return &Toolbox{tools: make(map[string]toolEntry)}
}

// NewDefaultToolbox는 current_time과 fetch_url 내장 함수를 등록한 Toolbox를 생성합니다.
func NewDefaultToolbox(httpClient *http.Client) *Toolbox {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	tb := NewToolbox()
	tb.Register(FunctionDeclaration{
		Name:        "current_time",
		Description: "Returns the current time in RFC3339 format for an IANA timezone.",
		Parameters:  json.RawMessage(`{"type":"OBJECT","properties":{"timezone":{"type":"STRING"}}}`),
	}, currentTime)
	tb.Register(FunctionDeclaration{
		Name:        "fetch_url",
		Description: "Fetches a web page and returns up to 8KB of its body.",
		Parameters:  json.RawMessage(`{"type":"OBJECT","properties":{"url":{"type":"STRING"}},"required":["url"]}`),
	}, fetchURL(httpClient))
	return tb
}

// Register는 함수를 등록합니다. 같은 이름이면 덮어씁니다.
func (t *Toolbox) Register(decl FunctionDeclaration, fn ToolFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tools[decl.Name] = toolEntry{decl: decl, fn: fn}
}

// Declarations는 names에 해당하는 선언을 반환합니다. names가 비어 있으면 전체를 반환합니다.
func (t *Toolbox) Declarations(names ...string) []FunctionDeclaration {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(names) == 0 {
		for name := range t.tools {
			names = append(names, name)
		}
		sort.Strings(names)
	}
	decls := make([]FunctionDeclaration, 0, len(names))
	for _, name := range names {
		if e, ok := t.tools[name]; ok {
			decls = append(decls, e.decl)
		}
	}
	return decls
}

// Call은 이름으로 함수를 실행합니다.
func (t *Toolbox) Call(ctx context.Context, call FunctionCall) (map[string]interface{}, error) {
	t.mu.RLock()
	e, ok := t.tools[call.Name]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
	}
	return e.fn(ctx, call.Args)
}

func currentTime(_ context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	loc := time.UTC
	if tz, ok := args["timezone"].(string); ok && tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone %q: %w", tz, err)
		}
		loc = l
	}
	return map[string]interface{}{
		"time": time.Now().In(loc).Format(time.RFC3339),
	}, nil
}

func fetchURL(client *http.Client) ToolFunc {
	return func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		raw, _ := args["url"].(string)
		if raw == "" {
			return nil, ErrNoURL
		}
		if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
			raw = "https://" + raw
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
		if err != nil {
			return nil, fmt.Errorf("요청 생성 실패: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, classifyTransportError(err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
		if err != nil {
			return nil, fmt.Errorf("응답 읽기 실패: %w", err)
		}
		return map[string]interface{}{
			"status": resp.StatusCode,
			"body":   string(body),
		}, nil
	}
}
