package operator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cnap-oss/sheetflow/internal/common"
	"go.uber.org/zap"
)

// Generator는 generateContent 호출을 추상화합니다.
type Generator interface {
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
}

// Client는 generateContent REST API 클라이언트입니다.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *zap.Logger
	retryCfg   *common.RetryConfig
	retrier    *common.Retrier
	metrics    *Metrics
}

var _ Generator = (*Client)(nil)

// ClientOption은 Client 옵션입니다.
type ClientOption func(*Client)

// WithHTTPClient는 HTTP 클라이언트를 설정합니다.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithLogger는 로거를 설정합니다.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithAPIKey는 API 키를 설정합니다.
func WithAPIKey(apiKey string) ClientOption {
	return func(c *Client) {
		c.apiKey = apiKey
	}
}

// WithModel은 기본 모델을 설정합니다.
func WithModel(model string) ClientOption {
	return func(c *Client) {
		c.model = model
	}
}

// WithTimeout은 HTTP 타임아웃을 설정합니다.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithRetry는 429/5xx와 연결 실패를 재시도하도록 설정합니다.
// 기본값은 재시도하지 않음입니다.
func WithRetry(cfg common.RetryConfig) ClientOption {
	return func(c *Client) {
		c.retryCfg = &cfg
	}
}

// WithClientMetrics는 메트릭 수집기를 설정합니다.
func WithClientMetrics(m *Metrics) ClientOption {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

// NewClient는 새 generateContent 클라이언트를 생성합니다.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   "gemini-2.5-flash",
		httpClient: &http.Client{
			Timeout: 90 * time.Second,
		},
		logger:  zap.NewNop(),
		metrics: NewMetrics(),
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.retryCfg != nil {
		c.retrier = common.NewRetrier(c.logger, IsRetryable, *c.retryCfg)
	}

	return c
}

// Model은 기본 모델 이름을 반환합니다.
func (c *Client) Model() string {
	return c.model
}

// Generate는 generateContent를 호출합니다.
func (c *Client) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("nil generate request")
	}
	model := req.Model
	if model == "" {
		model = c.model
	}
	path := fmt.Sprintf("/models/%s:generateContent", model)

	var result *GenerateResponse
	call := func() error {
		c.metrics.RecordGenerateCall()
		resp, err := c.doRequest(ctx, http.MethodPost, path, req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		var out GenerateResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("응답 파싱 실패: %w", err)
		}
		result = &out
		return nil
	}

	var err error
	if c.retrier != nil {
		attempts := 0
		err = c.retrier.Do(ctx, "Generate", func() error {
			if attempts > 0 {
				c.metrics.RecordRetry()
			}
			attempts++
			return call()
		})
	} else {
		err = call()
	}
	if err != nil {
		return nil, err
	}

	c.metrics.RecordUsage(result.UsageMetadata)
	c.logger.Debug("generateContent 완료",
		zap.String("model", model),
		zap.Int("candidates", len(result.Candidates)),
	)
	return result, nil
}

// doRequest는 HTTP 요청을 실행하고 에러 응답을 APIError로 변환합니다.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	req, err := c.buildRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, c.handleErrorResponse(resp)
	}

	return resp, nil
}

// buildRequest는 HTTP 요청을 구성합니다.
func (c *Client) buildRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	url := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("요청 바디 직렬화 실패: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("요청 생성 실패: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-goog-api-key", c.apiKey)
	}

	return req, nil
}

// handleErrorResponse는 에러 응답을 처리합니다.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    fmt.Sprintf("HTTP 에러 [%d]", resp.StatusCode),
		Body:       string(body),
	}

	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		apiErr.Message = parsed.Error.Message
		apiErr.Status = parsed.Error.Status
	}

	c.logger.Warn("모델 API 에러 응답",
		zap.Int("status_code", apiErr.StatusCode),
		zap.String("status", apiErr.Status),
		zap.String("message", apiErr.Message),
	)
	return apiErr
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrAPITimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrAPITimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrAPIConnectionFailed, err)
}
