package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"go.uber.org/zap"
)

// V4L2Config はUSBカメラの割り当て設定
type V4L2Config struct {
	Devices      map[FacingMode]string // 向きごとのデバイスパス
	FPS          int                   // ストリームのフレームレート
	FirstFrame   time.Duration         // 最初のフレームを待つ時間
	FocusSettle  time.Duration         // 一点フォーカスの収束待ち
	ZoomControl  string                // ズームに使うv4l2コントロール名
	FocusControl string                // 連続AFのv4l2コントロール名
}

// V4L2Provider はffmpeg経由でUSBカメラを取得するProvider
type V4L2Provider struct {
	config    V4L2Config
	discovery Discovery
	log       *zap.Logger
}

// NewV4L2Provider は新しいV4L2Providerを作成する
func NewV4L2Provider(config V4L2Config, discovery Discovery, log *zap.Logger) *V4L2Provider {
	if config.FPS <= 0 {
		config.FPS = 15
	}
	if config.FirstFrame <= 0 {
		config.FirstFrame = 5 * time.Second
	}
	if config.FocusSettle <= 0 {
		config.FocusSettle = 300 * time.Millisecond
	}
	if config.ZoomControl == "" {
		config.ZoomControl = "zoom_absolute"
	}
	if config.FocusControl == "" {
		config.FocusControl = "focus_automatic_continuous"
	}
	return &V4L2Provider{config: config, discovery: discovery, log: log}
}

// Open は要求された向きのデバイスを開き、最初のフレームが届くまで待つ
func (p *V4L2Provider) Open(ctx context.Context, req Request) (Device, error) {
	path := p.config.Devices[req.Facing]
	if path == "" {
		return nil, fmt.Errorf("%w: %s 向きのカメラが設定されていません", ErrDeviceUnavailable, req.Facing)
	}

	if err := CheckAccess(path); err != nil {
		return nil, err
	}

	info, err := p.discovery.GetDeviceInfo(ctx, path)
	if err != nil {
		return nil, err
	}

	res, ok := req.Policy.Pick(info.Resolutions)
	if !ok {
		return nil, fmt.Errorf("%w: %s は %v を満たしません", ErrConstraintUnsatisfiable, path, req.Policy)
	}

	source := &USBCameraSource{
		info:         *info,
		resolution:   res,
		capabilities: p.capabilities(info),
		capturer:     NewV4L2Capturer(path, res.Width, res.Height, p.config.FPS),
		config:       p.config,
		log:          p.log.With(zap.String("device", path)),
		frameCh:      make(chan []byte, 10),
		errorCh:      make(chan error, 5),
		firstFrame:   make(chan struct{}),
	}

	if err := source.start(ctx); err != nil {
		_ = source.Close()
		return nil, err
	}

	p.log.Info("カメラを開きました",
		zap.String("device", path),
		zap.String("facing", string(req.Facing)),
		zap.Int("width", res.Width),
		zap.Int("height", res.Height))

	return source, nil
}

// capabilities はv4l2コントロールから制御機能を組み立てる
func (p *V4L2Provider) capabilities(info *DeviceInfo) Capabilities {
	var caps Capabilities
	if ctrl, ok := info.Controls[p.config.ZoomControl]; ok && ctrl.Max > ctrl.Min {
		caps.Zoom = &ZoomRange{Min: MinZoom, Max: MaxZoom}
	}
	if _, ok := info.Controls[p.config.FocusControl]; ok {
		caps.FocusModes = []string{FocusContinuous, FocusManual}
	}
	return caps
}

// USBCameraSource はUSBカメラのDevice実装
type USBCameraSource struct {
	info         DeviceInfo
	resolution   Resolution
	capabilities Capabilities
	capturer     *V4L2Capturer
	config       V4L2Config
	log          *zap.Logger

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	frameCh chan []byte
	errorCh chan error

	// 最新フレーム保持用
	latestFrame []byte
	latestMutex sync.RWMutex
	firstFrame  chan struct{}
	firstOnce   sync.Once

	closeOnce sync.Once
}

// start はストリーミングを開始して最初のフレームを待つ
func (s *USBCameraSource) start(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.capturer.StartStream(streamCtx, s.frameCh, s.errorCh)
	}()
	go s.forwardFrames(streamCtx)

	timer := time.NewTimer(s.config.FirstFrame)
	defer timer.Stop()

	select {
	case <-s.firstFrame:
		return nil
	case err := <-s.errorCh:
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	case <-timer.C:
		return fmt.Errorf("%w: %s から最初のフレームが届きません", ErrDeviceUnavailable, s.info.Device)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// forwardFrames はキャプチャから届いたフレームを最新フレームとして保持する
func (s *USBCameraSource) forwardFrames(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-s.frameCh:
			s.latestMutex.Lock()
			s.latestFrame = frame
			s.latestMutex.Unlock()
			s.firstOnce.Do(func() { close(s.firstFrame) })
		}
	}
}

// Resolution はネゴシエート済み解像度を返す
func (s *USBCameraSource) Resolution() Resolution {
	return s.resolution
}

// Capabilities は制御機能を返す
func (s *USBCameraSource) Capabilities() Capabilities {
	return s.capabilities
}

// Grab は最新のMJPEGフレームをデコードして返す
func (s *USBCameraSource) Grab(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.latestMutex.RLock()
	frame := s.latestFrame
	s.latestMutex.RUnlock()

	if frame == nil {
		return nil, errors.New("フレームがまだ取得されていません")
	}

	img, err := jpeg.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("JPEG画像のデコードに失敗: %w", err)
	}
	return img, nil
}

// SetZoom は倍率 (1..3) をv4l2コントロールの範囲に写像して適用する
func (s *USBCameraSource) SetZoom(ctx context.Context, level float64) error {
	ctrl, ok := s.info.Controls[s.config.ZoomControl]
	if !ok {
		return fmt.Errorf("ズームに対応していません")
	}
	ratio := (level - MinZoom) / (MaxZoom - MinZoom)
	value := ctrl.Min + int(ratio*float64(ctrl.Max-ctrl.Min))
	return s.capturer.SetControls(ctx, map[string]int{s.config.ZoomControl: value})
}

// SetFocus は連続AFを一度有効にして収束後に固定する
// V4L2には領域指定のフォーカスがないため座標は使わない
func (s *USBCameraSource) SetFocus(ctx context.Context, _, _ float64) error {
	if err := s.capturer.SetControls(ctx, map[string]int{s.config.FocusControl: 1}); err != nil {
		return err
	}

	select {
	case <-time.After(s.config.FocusSettle):
	case <-ctx.Done():
		return ctx.Err()
	}

	return s.capturer.SetControls(ctx, map[string]int{s.config.FocusControl: 0})
}

// Close はffmpegプロセスを停止してハンドルを解放する
func (s *USBCameraSource) Close() error {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		s.log.Info("カメラを解放しました")
	})
	return nil
}
