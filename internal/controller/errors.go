package controller

import (
	"errors"

	"github.com/cnap-oss/sheetflow/internal/storage"
)

var (
	ErrColumnOutOfRange    = errors.New("controller: column index out of range")
	ErrInvalidOperatorType = errors.New("controller: unknown operator type")
	ErrEmptyRows           = errors.New("controller: no rows to create")
	ErrMissingFirstValue   = errors.New("controller: row has no value in the first column")
	ErrNotConfigured       = errors.New("controller: repository is not configured")
)

// IsConfigurationError는 시트 구성 문제로 tick 또는 요청 전체가 실패한 경우인지 확인합니다.
// 이 경우 이벤트는 pending으로 남아 구성이 고쳐진 뒤 처리됩니다.
func IsConfigurationError(err error) bool {
	switch {
	case errors.Is(err, storage.ErrSheetNotFound),
		errors.Is(err, storage.ErrNoColumns),
		errors.Is(err, storage.ErrTemplateNotFound),
		errors.Is(err, storage.ErrInvalidPosition),
		errors.Is(err, storage.ErrInvalidDependency),
		errors.Is(err, storage.ErrInvalidCellAddress),
		errors.Is(err, ErrColumnOutOfRange),
		errors.Is(err, ErrInvalidOperatorType):
		return true
	default:
		return false
	}
}

// IsNotFound는 조회 대상이 없는 에러인지 확인합니다.
func IsNotFound(err error) bool {
	return errors.Is(err, storage.ErrSheetNotFound) ||
		errors.Is(err, storage.ErrEventNotFound) ||
		errors.Is(err, storage.ErrTemplateNotFound)
}

// IsInvalidRequest는 호출자의 입력이 잘못된 에러인지 확인합니다.
func IsInvalidRequest(err error) bool {
	if IsNotFound(err) {
		return false
	}
	return IsConfigurationError(err) ||
		errors.Is(err, storage.ErrEventNotRetryable) ||
		errors.Is(err, ErrEmptyRows) ||
		errors.Is(err, ErrMissingFirstValue)
}
