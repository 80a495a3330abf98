package controller

import (
	"sync/atomic"
	"time"
)

// Metrics는 sheet updater 메트릭을 수집합니다.
type Metrics struct {
	// tick 메트릭
	TicksTotal   int64
	TicksSkipped int64
	TickErrors   int64

	// 이벤트 메트릭
	EventsClaimed   int64
	EventsCompleted int64
	EventsFailed    int64
	EventsCancelled int64
	EventsStale     int64

	// staged update 메트릭
	UpdatesApplied int64
	UpdatesFailed  int64

	TotalTickTime int64 // 나노초
}

// NewMetrics는 새 Metrics를 생성합니다.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordTick은 tick 결과를 기록합니다.
func (m *Metrics) RecordTick(res *TickResult, err error) {
	atomic.AddInt64(&m.TicksTotal, 1)
	if err != nil {
		atomic.AddInt64(&m.TickErrors, 1)
		return
	}
	if res == nil {
		return
	}
	if res.Skipped {
		atomic.AddInt64(&m.TicksSkipped, 1)
		return
	}
	atomic.AddInt64(&m.EventsClaimed, int64(res.Claimed))
	atomic.AddInt64(&m.EventsCompleted, int64(res.Completed))
	atomic.AddInt64(&m.EventsFailed, int64(res.Failed))
	atomic.AddInt64(&m.EventsCancelled, int64(res.Cancelled))
	atomic.AddInt64(&m.UpdatesApplied, int64(res.TotalApplied))
	atomic.AddInt64(&m.UpdatesFailed, int64(res.ApplyErrors))
	atomic.AddInt64(&m.TotalTickTime, int64(res.Duration))
}

// RecordStale은 만료 처리된 이벤트 수를 기록합니다.
func (m *Metrics) RecordStale(n int64) {
	atomic.AddInt64(&m.EventsStale, n)
}

// GetSnapshot은 현재 메트릭 스냅샷을 반환합니다.
func (m *Metrics) GetSnapshot() MetricsSnapshot {
	ticks := atomic.LoadInt64(&m.TicksTotal)
	var avg float64
	if counted := ticks - atomic.LoadInt64(&m.TicksSkipped) - atomic.LoadInt64(&m.TickErrors); counted > 0 {
		avg = float64(time.Duration(atomic.LoadInt64(&m.TotalTickTime) / counted).Milliseconds())
	}
	return MetricsSnapshot{
		TicksTotal:      ticks,
		TicksSkipped:    atomic.LoadInt64(&m.TicksSkipped),
		TickErrors:      atomic.LoadInt64(&m.TickErrors),
		EventsClaimed:   atomic.LoadInt64(&m.EventsClaimed),
		EventsCompleted: atomic.LoadInt64(&m.EventsCompleted),
		EventsFailed:    atomic.LoadInt64(&m.EventsFailed),
		EventsCancelled: atomic.LoadInt64(&m.EventsCancelled),
		EventsStale:     atomic.LoadInt64(&m.EventsStale),
		UpdatesApplied:  atomic.LoadInt64(&m.UpdatesApplied),
		UpdatesFailed:   atomic.LoadInt64(&m.UpdatesFailed),
		AvgTickTimeMs:   avg,
	}
}

// MetricsSnapshot은 특정 시점의 메트릭 스냅샷입니다.
type MetricsSnapshot struct {
	TicksTotal      int64   `json:"ticksTotal"`
	TicksSkipped    int64   `json:"ticksSkipped"`
	TickErrors      int64   `json:"tickErrors"`
	EventsClaimed   int64   `json:"eventsClaimed"`
	EventsCompleted int64   `json:"eventsCompleted"`
	EventsFailed    int64   `json:"eventsFailed"`
	EventsCancelled int64   `json:"eventsCancelled"`
	EventsStale     int64   `json:"eventsStale"`
	UpdatesApplied  int64   `json:"updatesApplied"`
	UpdatesFailed   int64   `json:"updatesFailed"`
	AvgTickTimeMs   float64 `json:"avgTickTimeMs"`
}
