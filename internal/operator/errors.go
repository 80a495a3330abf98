package operator

import (
	"errors"
	"fmt"
	"net/http"
)

// 기본 에러 타입
var (
	// Registry 관련 에러
	ErrUnknownOperator   = errors.New("등록되지 않은 operator")
	ErrDuplicateOperator = errors.New("operator가 이미 등록됨")
	ErrInvalidConfig     = errors.New("operator 설정이 올바르지 않음")

	// 통신 관련 에러
	ErrAPITimeout          = errors.New("API 요청 타임아웃")
	ErrAPIConnectionFailed = errors.New("API 연결 실패")
	ErrEmptyResponse       = errors.New("모델 응답이 비어 있음")

	// 입력 관련 에러
	ErrNoURL          = errors.New("행에서 URL을 찾을 수 없음")
	ErrNoSourceValue  = errors.New("원본 셀이 비어 있음")
	ErrUnknownTool    = errors.New("등록되지 않은 함수")
	ErrTooManySteps   = errors.New("함수 호출 단계 초과")
	ErrFieldNotFound  = errors.New("구조화 응답에 필드가 없음")
	ErrInvalidJSONOut = errors.New("구조화 응답이 JSON이 아님")
)

// OperatorError는 operator 실행 에러를 래핑합니다.
type OperatorError struct {
	Op           string // 작업명 (예: "Operate", "Generate")
	OperatorType string // operator 종류
	Err          error  // 원본 에러
}

func (e *OperatorError) Error() string {
	if e.OperatorType != "" {
		return fmt.Sprintf("operator[%s] %s: %v", e.OperatorType, e.Op, e.Err)
	}
	return fmt.Sprintf("operator %s: %v", e.Op, e.Err)
}

func (e *OperatorError) Unwrap() error {
	return e.Err
}

// NewOperatorError는 새 OperatorError를 생성합니다.
func NewOperatorError(op, operatorType string, err error) *OperatorError {
	return &OperatorError{
		Op:           op,
		OperatorType: operatorType,
		Err:          err,
	}
}

// IsRetryable는 재시도 가능한 에러인지 확인합니다.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}

	switch {
	case errors.Is(err, ErrAPITimeout):
		return true
	case errors.Is(err, ErrAPIConnectionFailed):
		return true
	default:
		return false
	}
}
