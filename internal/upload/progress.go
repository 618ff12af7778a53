package upload

import (
	"context"
	"sync"
	"time"

	"vehiclecam/internal/vehicle"
)

// Status はアップロードの進行状態
type Status string

const (
	StatusUploading Status = "uploading"
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
)

// DefaultCeiling は応答待ちの間に推定値が到達できる上限 (%)
const DefaultCeiling = 90

// ProgressFunc は1枚分の進捗を受け取る
type ProgressFunc func(percent int, status Status, message string)

// BatchProgressFunc はビューごとの進捗を受け取る
type BatchProgressFunc func(view vehicle.ViewSlot, percent int, status Status, message string)

// Estimator は送信中の進捗を推定する
// 実際の転送量を報告できるトランスポートに置き換えられるよう分離している
type Estimator interface {
	// Start は推定を開始する。返された関数は推定が完全に止まるまで待つ
	Start(ctx context.Context, report func(percent int)) (stop func())
}

// RampEstimator は一定間隔で Ceiling まで進捗を進める
type RampEstimator struct {
	Interval time.Duration
	Step     int
	Ceiling  int
}

// DefaultEstimator は 100ms ごとに 10% ずつ進める推定器を返す
func DefaultEstimator() RampEstimator {
	return RampEstimator{Interval: 100 * time.Millisecond, Step: 10, Ceiling: DefaultCeiling}
}

// Start は推定ループを開始する
func (r RampEstimator) Start(ctx context.Context, report func(percent int)) func() {
	interval, step, ceiling := r.Interval, r.Step, r.Ceiling
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	if step <= 0 {
		step = 10
	}
	if ceiling <= 0 || ceiling >= 100 {
		ceiling = DefaultCeiling
	}

	stopCh := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		percent := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				if percent >= ceiling {
					continue
				}
				percent = min(percent+step, ceiling)
				report(percent)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stopCh)
			wg.Wait()
		})
	}
}

// progressGuard は進捗を単調増加に保ち、終端の通知を1回に限る
type progressGuard struct {
	mu       sync.Mutex
	fn       ProgressFunc
	last     int
	finished bool
}

func newProgressGuard(fn ProgressFunc) *progressGuard {
	return &progressGuard{fn: fn, last: -1}
}

func (g *progressGuard) update(percent int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.finished || percent <= g.last || percent >= 100 {
		return
	}
	g.last = percent
	if g.fn != nil {
		g.fn(percent, StatusUploading, "")
	}
}

func (g *progressGuard) finish(status Status, message string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.finished {
		return
	}
	g.finished = true
	g.last = 100
	if g.fn != nil {
		g.fn(100, status, message)
	}
}
