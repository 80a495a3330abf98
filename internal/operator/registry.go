package operator

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Registry는 operator 종류 태그를 구현체에 매핑하고 디스패치합니다.
type Registry struct {
	mu        sync.RWMutex
	operators map[string]Operator
	logger    *zap.Logger
	metrics   *Metrics
	timeout   time.Duration
}

// RegistryOption은 Registry 옵션입니다.
type RegistryOption func(*Registry)

// WithRegistryLogger는 로거를 설정합니다.
func WithRegistryLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithMetrics는 메트릭 수집기를 설정합니다.
func WithMetrics(m *Metrics) RegistryOption {
	return func(r *Registry) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithDispatchTimeout은 operator 한 번의 실행 제한 시간을 설정합니다.
func WithDispatchTimeout(timeout time.Duration) RegistryOption {
	return func(r *Registry) {
		r.timeout = timeout
	}
}

// NewRegistry는 빈 Registry를 생성합니다.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		operators: make(map[string]Operator),
		logger:    zap.NewNop(),
		metrics:   NewMetrics(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewDefaultRegistry는 기본 operator 다섯 종을 등록한 Registry를 생성합니다.
func NewDefaultRegistry(gen Generator, toolbox *Toolbox, opts ...RegistryOption) *Registry {
	r := NewRegistry(opts...)
	for _, op := range []Operator{
		NewGoogleSearchOperator(gen),
		NewURLContextOperator(gen),
		NewStructuredOutputOperator(gen),
		NewFunctionCallingOperator(gen, toolbox),
		NewPassthroughOperator(),
	} {
		// 새 Registry이므로 중복 등록은 발생하지 않음
		_ = r.Register(op)
	}
	return r
}

// Register는 operator를 등록합니다.
func (r *Registry) Register(op Operator) error {
	if op == nil || op.Type() == "" {
		return fmt.Errorf("%w: empty operator", ErrInvalidConfig)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.operators[op.Type()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateOperator, op.Type())
	}
	r.operators[op.Type()] = op
	return nil
}

// Get은 종류 태그로 operator를 조회합니다.
func (r *Registry) Get(operatorType string) (Operator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.operators[operatorType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperator, operatorType)
	}
	return op, nil
}

// Types는 등록된 operator 종류를 정렬해 반환합니다.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.operators))
	for t := range r.operators {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Resolve는 대상 컬럼에 명시된 operator를 반환하고, 없거나 auto면 원본 내용으로 추정합니다.
func (r *Registry) Resolve(in *Input) string {
	if t := in.Target.OperatorType; t != "" && t != TypeAuto {
		return t
	}
	return DetectOperatorType(in.SourceContent())
}

// Dispatch는 입력을 operator로 실행하고 결과를 구조화합니다.
// operator의 에러와 panic은 Result{Success:false}로 변환되며 호출자에게 전파되지 않습니다.
func (r *Registry) Dispatch(ctx context.Context, in *Input) (result Result) {
	operatorType := r.Resolve(in)
	result.OperatorType = operatorType
	start := time.Now()

	logger := r.logger.With(
		zap.String("sheet_id", in.SheetID),
		zap.String("event_id", in.EventID),
		zap.Int("row_index", in.RowIndex),
		zap.Int("col_index", in.Target.Position),
		zap.String("operator_type", operatorType),
	)

	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.RecordPanic()
			logger.Error("operator panic 복구",
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()),
			)
			result = Result{
				OperatorType: operatorType,
				Error:        fmt.Sprintf("operator panic: %v", rec),
			}
		}
		r.metrics.RecordDispatch(result.Success, time.Since(start))
	}()

	op, err := r.Get(operatorType)
	if err != nil {
		result.Error = err.Error()
		logger.Warn("operator 조회 실패", zap.Error(err))
		return result
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	out, err := op.Operate(ctx, in)
	if err != nil {
		wrapped := NewOperatorError("Operate", operatorType, err)
		result.Error = err.Error()
		logger.Warn("operator 실행 실패", zap.Error(wrapped))
		return result
	}
	if out == nil {
		result.Error = ErrEmptyResponse.Error()
		return result
	}

	result.Success = true
	result.Data = out.Content
	result.Usage = out.Usage
	result.Sources = out.Sources
	result.AutoCopy = out.AutoCopy
	result.StopCascade = out.StopCascade

	logger.Debug("operator 실행 완료",
		zap.Int("content_length", len(out.Content)),
		zap.Duration("duration", time.Since(start)),
	)
	return result
}
