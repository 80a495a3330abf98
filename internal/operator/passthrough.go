package operator

import "context"

// PassthroughOperator는 원본 셀 값을 그대로 다음 컬럼에 복사합니다.
type PassthroughOperator struct{}

// NewPassthroughOperator는 새 PassthroughOperator를 생성합니다.
func NewPassthroughOperator() *PassthroughOperator {
	return &PassthroughOperator{}
}

// Type은 operator 종류를 반환합니다.
func (o *PassthroughOperator) Type() string { return TypePassthrough }

// Operate는 네트워크 호출 없이 원본 내용을 반환합니다.
func (o *PassthroughOperator) Operate(_ context.Context, in *Input) (*Output, error) {
	content, ok := in.RowData[in.SourceIndex]
	if !ok {
		return nil, ErrNoSourceValue
	}
	return &Output{Content: content, AutoCopy: true}, nil
}
