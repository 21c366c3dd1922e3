package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/legal-settlement/internal/observability"
	"go.uber.org/zap"
)

// PayoutProcessor claims approved withdrawals and pushes them to the payout gateway.
type PayoutProcessor interface {
	ProcessPayouts(ctx context.Context, batchSize int32) error
}

// PayoutWorker polls for approved withdrawals at a fixed interval.
// Several instances may run at once; claims use FOR UPDATE SKIP LOCKED.
type PayoutWorker struct {
	processor    PayoutProcessor
	pollInterval time.Duration
	batchSize    int32
	stopCh       chan struct{}
	stopOnce     sync.Once
}

func NewPayoutWorker(processor PayoutProcessor) *PayoutWorker {
	return &PayoutWorker{
		processor:    processor,
		pollInterval: 10 * time.Second,
		batchSize:    10,
		stopCh:       make(chan struct{}),
	}
}

func (w *PayoutWorker) WithPollInterval(interval time.Duration) *PayoutWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

func (w *PayoutWorker) WithBatchSize(size int32) *PayoutWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start blocks until Stop is called or ctx is canceled.
func (w *PayoutWorker) Start(ctx context.Context) {
	zap.L().Info("payout worker starting",
		zap.Duration("poll_interval", w.pollInterval),
		zap.Int32("batch_size", w.batchSize),
	)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("payout worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("payout worker stop signal received")
			return
		case <-ticker.C:
			_ = w.ProcessOnce(ctx)
		}
	}
}

func (w *PayoutWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// ProcessOnce runs a single batch immediately.
func (w *PayoutWorker) ProcessOnce(ctx context.Context) error {
	if err := w.processor.ProcessPayouts(ctx, w.batchSize); err != nil {
		observability.IncrementWorkerRun("payout", "failed")
		zap.L().Error("payout batch failed", zap.Error(err))
		return err
	}
	observability.IncrementWorkerRun("payout", "success")
	return nil
}

// Run starts the worker in a goroutine and returns its stop function.
func (w *PayoutWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *PayoutWorker) String() string {
	return fmt.Sprintf("PayoutWorker(interval=%v, batch=%d)", w.pollInterval, w.batchSize)
}
