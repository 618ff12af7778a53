package camera

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"vehiclecam/internal/vehicle"
)

// ズーム倍率の範囲
const (
	MinZoom = 1.0
	MaxZoom = 3.0
)

// ClampZoom は倍率を [MinZoom, MaxZoom] に収める
func ClampZoom(level float64) float64 {
	if math.IsNaN(level) || level < MinZoom {
		return MinZoom
	}
	if level > MaxZoom {
		return MaxZoom
	}
	return level
}

// SessionConfig はカメラセッションの設定
type SessionConfig struct {
	PreviewWidth   int           // プレビューの最大幅
	PreviewFPS     int           // プレビューのフレームレート
	PreviewQuality int           // プレビューのJPEG品質
	StillQuality   int           // 静止画のJPEG品質
	Enhancement    Enhancement   // 静止画の補正
	FocusTimeout   time.Duration // 一点フォーカスの上限時間
	FlashDuration  time.Duration // 撮影後のフラッシュ表示時間
}

// DefaultSessionConfig はデフォルトのセッション設定を返す
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		PreviewWidth:   640,
		PreviewFPS:     10,
		PreviewQuality: 70,
		StillQuality:   StillQuality,
		Enhancement:    DefaultEnhancement(),
		FocusTimeout:   600 * time.Millisecond,
		FlashDuration:  150 * time.Millisecond,
	}
}

// ZoomResult はズーム操作の結果
// Hardwareがfalseの場合は表示上の拡大のみでデバイスには適用されていない
type ZoomResult struct {
	Level    float64 `json:"level"`
	Hardware bool    `json:"hardware"`
}

// FocusResult はフォーカス操作の結果
type FocusResult struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Applied  bool    `json:"applied"`
	TimedOut bool    `json:"timed_out"`
}

// ErrAlreadyStreaming は既にストリーミング中のセッションを開こうとした
var ErrAlreadyStreaming = errors.New("camera is already streaming")

// Session はライブキャプチャデバイスを1つだけ所有し、静止画を生成する
//
// 状態遷移: Idle → Requesting → Streaming → Closed
// SwitchFacing は Streaming → Requesting → Streaming を経由する
type Session struct {
	provider Provider
	config   SessionConfig
	log      *zap.Logger

	mu           sync.Mutex
	state        State
	device       Device
	facing       FacingMode
	policy       ResolutionPolicy
	zoom         float64
	hardwareZoom bool
	capturing    bool
	generation   uint64 // Close のたびに進む。取得中に閉じられたかの判定に使う
	flashUntil   time.Time
	openedAt     time.Time

	previewCancel context.CancelFunc
	previewDone   chan struct{}

	subMu sync.Mutex
	subs  map[chan []byte]struct{}
}

// NewSession は新しいSessionを作成する
func NewSession(provider Provider, config SessionConfig, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	defaults := DefaultSessionConfig()
	if config.PreviewFPS <= 0 {
		config.PreviewFPS = defaults.PreviewFPS
	}
	if config.PreviewQuality <= 0 {
		config.PreviewQuality = defaults.PreviewQuality
	}
	if config.StillQuality <= 0 {
		config.StillQuality = defaults.StillQuality
	}
	if config.FocusTimeout <= 0 {
		config.FocusTimeout = defaults.FocusTimeout
	}

	return &Session{
		provider: provider,
		config:   config,
		log:      log,
		state:    StateIdle,
		zoom:     MinZoom,
		subs:     make(map[chan []byte]struct{}),
	}
}

// Open はデバイスを要求してストリーミングを開始する。取得中なら ErrBusy を返す
// facingが空の場合は方針の向きを使う
func (s *Session) Open(ctx context.Context, facing FacingMode, policy ResolutionPolicy) error {
	s.mu.Lock()
	switch s.state {
	case StateStreaming:
		s.mu.Unlock()
		return ErrAlreadyStreaming
	case StateRequesting:
		s.mu.Unlock()
		return ErrBusy
	}
	if facing == "" {
		facing = policy.Facing
	}
	if facing == "" {
		facing = FacingEnvironment
	}
	policy.Facing = facing

	s.state = StateRequesting
	gen, zoom := s.generation, s.zoom
	s.mu.Unlock()

	return s.acquire(ctx, gen, zoom, facing, policy)
}

// acquire はデバイスを取得する。s.mu を保持せず、状態を Requesting にしてから呼ぶこと
// 取得中に Close された場合は取得したデバイスをすぐに解放して ErrClosed を返す
func (s *Session) acquire(ctx context.Context, gen uint64, zoom float64, facing FacingMode, policy ResolutionPolicy) error {
	dev, err := s.provider.Open(ctx, Request{Facing: facing, Policy: policy})
	if err != nil {
		s.mu.Lock()
		if s.generation == gen {
			s.state = StateIdle
		}
		s.mu.Unlock()
		if !IsAcquisitionError(err) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		s.log.Warn("カメラの取得に失敗しました",
			zap.String("facing", string(facing)),
			zap.Error(err))
		return &DeviceError{Op: "open", Facing: facing, Err: err}
	}

	hardware := false
	if zoom > MinZoom {
		hardware = s.applyZoom(ctx, dev, zoom)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != gen {
		if cerr := dev.Close(); cerr != nil {
			s.log.Warn("カメラの解放に失敗しました", zap.Error(cerr))
		}
		return &DeviceError{Op: "open", Facing: facing, Err: ErrClosed}
	}

	s.device = dev
	s.facing = facing
	s.policy = policy
	s.state = StateStreaming
	s.openedAt = time.Now()
	s.hardwareZoom = hardware && s.zoom == zoom
	s.startPreview(dev)

	res := dev.Resolution()
	s.log.Info("カメラセッションを開始しました",
		zap.String("facing", string(facing)),
		zap.Int("width", res.Width),
		zap.Int("height", res.Height))
	return nil
}

// Capture は現在のフレームをネイティブ解像度で補正・JPEGエンコードする
func (s *Session) Capture(ctx context.Context) (*vehicle.CapturedImage, error) {
	s.mu.Lock()
	if s.state != StateStreaming {
		s.mu.Unlock()
		return nil, ErrNotStreaming
	}
	if s.capturing {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	s.capturing = true
	dev := s.device
	want := dev.Resolution()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.capturing = false
		s.mu.Unlock()
	}()

	img, err := dev.Grab(ctx)
	if err != nil {
		return nil, fmt.Errorf("フレームの取得に失敗: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() < want.Width || bounds.Dy() < want.Height {
		return nil, fmt.Errorf("%w: %dx%d < %dx%d", ErrDownsampled, bounds.Dx(), bounds.Dy(), want.Width, want.Height)
	}

	data, err := EncodeStill(img, s.config.Enhancement, s.config.StillQuality)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.flashUntil = time.Now().Add(s.config.FlashDuration)
	s.mu.Unlock()

	captured := vehicle.NewCapturedImage(data, "image/jpeg", bounds.Dx(), bounds.Dy())
	s.log.Info("静止画を撮影しました",
		zap.String("image_id", captured.ID.String()),
		zap.Int("width", captured.Width),
		zap.Int("height", captured.Height),
		zap.Int("size", captured.Size()))

	return captured, nil
}

// SetZoom は倍率を範囲内に収めて適用する
func (s *Session) SetZoom(ctx context.Context, level float64) (ZoomResult, error) {
	level = ClampZoom(level)

	s.mu.Lock()
	if s.state != StateStreaming {
		s.mu.Unlock()
		return ZoomResult{Level: level}, ErrNotStreaming
	}
	s.zoom = level
	dev := s.device
	s.mu.Unlock()

	// デバイス制御は Close を待たせないようロックの外で行う
	hardware := s.applyZoom(ctx, dev, level)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device != dev || s.zoom != level {
		return ZoomResult{Level: level}, nil
	}
	s.hardwareZoom = hardware
	return ZoomResult{Level: level, Hardware: hardware}, nil
}

// applyZoom はデバイスが対応していればハードウェアズームを適用する
func (s *Session) applyZoom(ctx context.Context, dev Device, level float64) bool {
	zr := dev.Capabilities().Zoom
	if zr == nil {
		return false
	}
	level = math.Max(zr.Min, math.Min(zr.Max, level))
	if err := dev.SetZoom(ctx, level); err != nil {
		s.log.Warn("ハードウェアズームの適用に失敗しました", zap.Float64("level", level), zap.Error(err))
		return false
	}
	return true
}

// SetFocusPoint は正規化座標で一度だけフォーカスを合わせる
// デバイスが応答しなくても FocusTimeout 以内に戻る
func (s *Session) SetFocusPoint(ctx context.Context, x, y float64) (FocusResult, error) {
	res := FocusResult{X: clampUnit(x), Y: clampUnit(y)}

	s.mu.Lock()
	if s.state != StateStreaming {
		s.mu.Unlock()
		return res, ErrNotStreaming
	}
	dev := s.device
	s.mu.Unlock()

	if !dev.Capabilities().SupportsManualFocus() {
		return res, nil
	}

	focusCtx, cancel := context.WithTimeout(ctx, s.config.FocusTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- dev.SetFocus(focusCtx, res.X, res.Y)
	}()

	select {
	case err := <-done:
		if err != nil {
			s.log.Warn("フォーカスの適用に失敗しました", zap.Error(err))
			return res, nil
		}
		res.Applied = true
	case <-focusCtx.Done():
		res.TimedOut = true
	}
	return res, nil
}

// SwitchFacing は現在のデバイスを解放してから反対向きのデバイスを開く
// ズーム倍率と解像度方針は引き継ぐ。撮影中は ErrBusy を返す
func (s *Session) SwitchFacing(ctx context.Context) (FacingMode, error) {
	s.mu.Lock()
	if s.state != StateStreaming {
		s.mu.Unlock()
		return s.facing, ErrNotStreaming
	}
	if s.capturing {
		s.mu.Unlock()
		return s.facing, ErrBusy
	}

	current := s.facing
	next := current.Opposite()
	_ = s.release()

	policy := s.policy
	policy.Facing = next
	s.state = StateRequesting
	gen, zoom := s.generation, s.zoom
	s.mu.Unlock()

	if err := s.acquire(ctx, gen, zoom, next, policy); err != nil {
		return current, err
	}
	return next, nil
}

// Close はデバイスを無条件に解放する。どの状態からでも呼べて冪等
// 取得中やデバイス制御の途中でも待たずに戻る
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.release()
	s.generation++
	s.state = StateClosed
	return err
}

// release はプレビューを止めてデバイスを解放する。s.mu を保持して呼ぶこと
func (s *Session) release() error {
	s.stopPreview()

	if s.device == nil {
		return nil
	}

	err := s.device.Close()
	s.device = nil
	s.hardwareZoom = false
	if err != nil {
		s.log.Warn("カメラの解放に失敗しました", zap.Error(err))
		return fmt.Errorf("カメラの解放に失敗: %w", err)
	}
	s.log.Info("カメラセッションを解放しました", zap.String("facing", string(s.facing)))
	return nil
}

// State は現在の状態を返す
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot は現在の状態をまとめて返す
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		State:        s.state,
		Facing:       s.facing,
		Zoom:         s.zoom,
		HardwareZoom: s.hardwareZoom,
		Flash:        time.Now().Before(s.flashUntil),
		OpenedAt:     s.openedAt,
	}
	if s.device != nil {
		snap.Resolution = s.device.Resolution()
		snap.Capabilities = s.device.Capabilities()
	}
	return snap
}

// Subscribe はプレビューフレームの購読を開始する
// チャンネルは最新フレームのみを保持する。返された関数で購読を解除する
func (s *Session) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 1)

	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, ch)
			s.subMu.Unlock()
		})
	}
}

func (s *Session) hasSubscribers() bool {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subs) > 0
}

// publish は購読者へフレームを配信する。詰まっている場合は古いフレームを破棄する
func (s *Session) publish(frame []byte) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for ch := range s.subs {
		select {
		case ch <- frame:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- frame:
			default:
			}
		}
	}
}

// startPreview はプレビューループを開始する。s.mu を保持して呼ぶこと
func (s *Session) startPreview(dev Device) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.previewCancel = cancel
	s.previewDone = done
	go s.previewLoop(ctx, dev, done)
}

// stopPreview はプレビューループの終了を待つ。s.mu を保持して呼ぶこと
func (s *Session) stopPreview() {
	if s.previewCancel == nil {
		return
	}
	s.previewCancel()
	<-s.previewDone
	s.previewCancel = nil
	s.previewDone = nil
}

// previewLoop は購読者がいる間だけフレームを縮小して配信する
func (s *Session) previewLoop(ctx context.Context, dev Device, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(time.Second / time.Duration(s.config.PreviewFPS))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !s.hasSubscribers() {
			continue
		}

		img, err := dev.Grab(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Debug("プレビューフレームの取得に失敗しました", zap.Error(err))
			continue
		}

		frame, err := EncodePreview(img, s.config.PreviewWidth, s.config.PreviewQuality)
		if err != nil {
			s.log.Debug("プレビューのエンコードに失敗しました", zap.Error(err))
			continue
		}
		s.publish(frame)
	}
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
