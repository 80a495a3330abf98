package common

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetryConfig는 재시도 설정입니다.
type RetryConfig struct {
	MaxRetries     int           // 최대 재시도 횟수
	InitialBackoff time.Duration // 초기 백오프 시간
	MaxBackoff     time.Duration // 최대 백오프 시간
	BackoffFactor  float64       // 백오프 증가 계수
}

// DefaultRetryConfig는 기본 재시도 설정을 반환합니다.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
	}
}

// Retrier는 일시적 에러에 대해 지수 백오프로 작업을 재시도합니다.
type Retrier struct {
	config    RetryConfig
	logger    *zap.Logger
	retryable func(error) bool
}

// NewRetrier는 새 Retrier를 생성합니다.
// retryable이 nil이면 모든 에러를 재시도합니다.
func NewRetrier(logger *zap.Logger, retryable func(error) bool, config ...RetryConfig) *Retrier {
	cfg := DefaultRetryConfig()
	if len(config) > 0 {
		cfg = config[0]
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if retryable == nil {
		retryable = func(error) bool { return true }
	}

	return &Retrier{
		config:    cfg,
		logger:    logger,
		retryable: retryable,
	}
}

// Do는 op를 성공하거나 재시도 불가능한 에러가 날 때까지 실행합니다.
func (r *Retrier) Do(ctx context.Context, opName string, op func() error) error {
	var lastErr error
	backoff := r.config.InitialBackoff

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			r.logger.Info("작업 재시도",
				zap.String("operation", opName),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
			)

			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}

			backoff = time.Duration(float64(backoff) * r.config.BackoffFactor)
			if backoff > r.config.MaxBackoff {
				backoff = r.config.MaxBackoff
			}
		}

		err := op()
		if err == nil {
			if attempt > 0 {
				r.logger.Info("작업 재시도 성공",
					zap.String("operation", opName),
					zap.Int("attempts", attempt+1),
				)
			}
			return nil
		}

		lastErr = err

		if !r.retryable(err) {
			r.logger.Warn("재시도 불가능한 에러",
				zap.String("operation", opName),
				zap.Error(err),
			)
			return err
		}

		r.logger.Warn("작업 실패, 재시도 예정",
			zap.String("operation", opName),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	r.logger.Error("최대 재시도 횟수 초과",
		zap.String("operation", opName),
		zap.Int("max_retries", r.config.MaxRetries),
		zap.Error(lastErr),
	)

	return lastErr
}
