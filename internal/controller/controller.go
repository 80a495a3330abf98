package controller

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cnap-oss/sheetflow/internal/common"
	"github.com/cnap-oss/sheetflow/internal/operator"
	"github.com/cnap-oss/sheetflow/internal/storage"
	"go.uber.org/zap"
)

const triggerBuffer = 64

// Controller는 sheet updater와 셀 편집 진입점을 담당합니다.
type Controller struct {
	logger   *zap.Logger
	repo     *storage.Repository
	registry *operator.Registry
	metrics  *Metrics
	cfg      common.UpdaterConfig

	// inFlight는 현재 tick 중인 (sheet, user) 집합입니다. 단일 프로세스 최적화일 뿐이며
	// 실제 중복 claim 방지는 storage.ClaimPending이 담당합니다.
	inFlight map[storage.SheetRef]struct{}
	mu       sync.Mutex

	triggers chan storage.SheetRef
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
	started  atomic.Bool
	done     chan struct{}
}

// Option은 Controller 옵션입니다.
type Option func(*Controller)

// WithUpdaterConfig는 updater 설정을 지정합니다. 0 값 필드는 기본값을 유지합니다.
func WithUpdaterConfig(cfg common.UpdaterConfig) Option {
	return func(c *Controller) {
		if cfg.TickInterval > 0 {
			c.cfg.TickInterval = cfg.TickInterval
		}
		if cfg.BatchSize > 0 {
			c.cfg.BatchSize = cfg.BatchSize
		}
		if cfg.TickTimeout > 0 {
			c.cfg.TickTimeout = cfg.TickTimeout
		}
		if cfg.StaleAfter > 0 {
			c.cfg.StaleAfter = cfg.StaleAfter
		}
		if cfg.MaxConcurrentSheets > 0 {
			c.cfg.MaxConcurrentSheets = cfg.MaxConcurrentSheets
		}
		if cfg.MaxConcurrentDispatch > 0 {
			c.cfg.MaxConcurrentDispatch = cfg.MaxConcurrentDispatch
		}
		c.cfg.RobotsMode = cfg.RobotsMode
	}
}

// WithRobotsMode는 AI 결과 적용 시 cascade 이벤트 생성 여부를 설정합니다.
func WithRobotsMode(enabled bool) Option {
	return func(c *Controller) {
		c.cfg.RobotsMode = enabled
	}
}

// WithBatchSize는 tick 당 claim 할 이벤트 수를 설정합니다.
func WithBatchSize(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.cfg.BatchSize = n
		}
	}
}

// WithControllerMetrics는 메트릭 수집기를 설정합니다.
func WithControllerMetrics(m *Metrics) Option {
	return func(c *Controller) {
		if m != nil {
			c.metrics = m
		}
	}
}

func defaultUpdaterConfig() common.UpdaterConfig {
	return common.UpdaterConfig{
		TickInterval:          5 * time.Second,
		BatchSize:             storage.DefaultClaimLimit,
		TickTimeout:           common.DefaultTickTimeout,
		StaleAfter:            common.DefaultStaleAfter,
		RobotsMode:            true,
		MaxConcurrentSheets:   8,
		MaxConcurrentDispatch: 4,
	}
}

// NewController는 새로운 Controller를 생성합니다.
func NewController(logger *zap.Logger, repo *storage.Repository, registry *operator.Registry, opts ...Option) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		logger:   logger,
		repo:     repo,
		registry: registry,
		metrics:  NewMetrics(),
		cfg:      defaultUpdaterConfig(),
		inFlight: make(map[storage.SheetRef]struct{}),
		triggers: make(chan storage.SheetRef, triggerBuffer),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Metrics는 controller 메트릭 수집기를 반환합니다.
func (c *Controller) Metrics() *Metrics {
	return c.metrics
}

// Config는 적용된 updater 설정을 반환합니다.
func (c *Controller) Config() common.UpdaterConfig {
	return c.cfg
}

// Start는 주기적 tick 루프를 실행합니다. ctx가 취소되거나 Stop이 호출될 때까지 블록합니다.
func (c *Controller) Start(ctx context.Context) error {
	if c.repo == nil || c.registry == nil {
		return ErrNotConfigured
	}
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("controller: already started")
	}
	defer close(c.done)

	c.logger.Info("Starting sheet updater",
		zap.Duration("tick_interval", c.cfg.TickInterval),
		zap.Int("batch_size", c.cfg.BatchSize),
		zap.Bool("robots_mode", c.cfg.RobotsMode),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.eventLoop(ctx)
	}()

	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Sheet updater shutting down")
			c.wg.Wait()
			return ctx.Err()
		case <-c.stopCh:
			c.logger.Info("Sheet updater stop requested")
			cancel()
			c.wg.Wait()
			return nil
		case <-ticker.C:
			res, err := c.TickAll(ctx)
			if err != nil {
				c.logger.Error("Tick failed", zap.Error(err))
				continue
			}
			if res.TotalApplied > 0 || len(res.Errors) > 0 {
				c.logger.Info("Tick finished",
					zap.Int("sheets", len(res.Sheets)),
					zap.Int("total_applied", res.TotalApplied),
					zap.Int("errors", len(res.Errors)),
				)
			}
		}
	}
}

// Stop은 tick 루프를 종료하고 진행 중인 tick이 끝나기를 기다립니다.
func (c *Controller) Stop(ctx context.Context) error {
	c.logger.Info("Stopping sheet updater")
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})

	if !c.started.Load() {
		return nil
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout exceeded")
	case <-c.done:
		c.logger.Info("Sheet updater stopped")
		return nil
	}
}
