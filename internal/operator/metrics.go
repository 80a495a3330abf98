package operator

import (
	"sync/atomic"
	"time"
)

// Metrics는 operator 디스패치 메트릭을 수집합니다.
type Metrics struct {
	// 디스패치 메트릭
	DispatchesTotal     int64
	DispatchesSucceeded int64
	DispatchesFailed    int64
	PanicsRecovered     int64

	// 타이밍 메트릭
	TotalDispatchTime int64 // 나노초

	// 모델 호출 메트릭
	GenerateCalls int64
	RetriesTotal  int64
	TokensTotal   int64
}

// NewMetrics는 빈 메트릭 수집기를 생성합니다.
// 클라이언트와 레지스트리가 같은 수집기를 공유하려면 옵션으로 명시적으로 넘겨야 합니다.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordDispatch는 디스패치 결과를 기록합니다.
func (m *Metrics) RecordDispatch(success bool, duration time.Duration) {
	atomic.AddInt64(&m.DispatchesTotal, 1)
	atomic.AddInt64(&m.TotalDispatchTime, int64(duration))

	if success {
		atomic.AddInt64(&m.DispatchesSucceeded, 1)
	} else {
		atomic.AddInt64(&m.DispatchesFailed, 1)
	}
}

// RecordPanic은 복구된 panic을 기록합니다.
func (m *Metrics) RecordPanic() {
	atomic.AddInt64(&m.PanicsRecovered, 1)
}

// RecordGenerateCall은 모델 호출을 기록합니다.
func (m *Metrics) RecordGenerateCall() {
	atomic.AddInt64(&m.GenerateCalls, 1)
}

// RecordRetry는 재시도를 기록합니다.
func (m *Metrics) RecordRetry() {
	atomic.AddInt64(&m.RetriesTotal, 1)
}

// RecordUsage는 토큰 사용량을 기록합니다.
func (m *Metrics) RecordUsage(usage *UsageMetadata) {
	if usage == nil {
		return
	}
	atomic.AddInt64(&m.TokensTotal, int64(usage.TotalTokenCount))
}

// GetSnapshot은 현재 메트릭 스냅샷을 반환합니다.
func (m *Metrics) GetSnapshot() MetricsSnapshot {
	return MetricsSnapshot{
		DispatchesTotal:     atomic.LoadInt64(&m.DispatchesTotal),
		DispatchesSucceeded: atomic.LoadInt64(&m.DispatchesSucceeded),
		DispatchesFailed:    atomic.LoadInt64(&m.DispatchesFailed),
		PanicsRecovered:     atomic.LoadInt64(&m.PanicsRecovered),
		AvgDispatchTimeMs:   m.calculateAvgDispatchTime(),
		GenerateCalls:       atomic.LoadInt64(&m.GenerateCalls),
		RetriesTotal:        atomic.LoadInt64(&m.RetriesTotal),
		TokensTotal:         atomic.LoadInt64(&m.TokensTotal),
	}
}

// Reset은 모든 메트릭을 초기화합니다.
func (m *Metrics) Reset() {
	atomic.StoreInt64(&m.DispatchesTotal, 0)
	atomic.StoreInt64(&m.DispatchesSucceeded, 0)
	atomic.StoreInt64(&m.DispatchesFailed, 0)
	atomic.StoreInt64(&m.PanicsRecovered, 0)
	atomic.StoreInt64(&m.TotalDispatchTime, 0)
	atomic.StoreInt64(&m.GenerateCalls, 0)
	atomic.StoreInt64(&m.RetriesTotal, 0)
	atomic.StoreInt64(&m.TokensTotal, 0)
}

func (m *Metrics) calculateAvgDispatchTime() float64 {
	total := atomic.LoadInt64(&m.DispatchesTotal)
	if total == 0 {
		return 0
	}
	totalNs := atomic.LoadInt64(&m.TotalDispatchTime)
	return float64(totalNs) / float64(total) / 1e6 // 나노초 -> 밀리초
}

// MetricsSnapshot은 메트릭 스냅샷입니다.
type MetricsSnapshot struct {
	DispatchesTotal     int64   `json:"dispatches_total"`
	DispatchesSucceeded int64   `json:"dispatches_succeeded"`
	DispatchesFailed    int64   `json:"dispatches_failed"`
	PanicsRecovered     int64   `json:"panics_recovered"`
	AvgDispatchTimeMs   float64 `json:"avg_dispatch_time_ms"`
	GenerateCalls       int64   `json:"generate_calls"`
	RetriesTotal        int64   `json:"retries_total"`
	TokensTotal         int64   `json:"tokens_total"`
}
