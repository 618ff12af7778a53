package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"
)

// MockDiscovery はテスト用のモックDiscovery実装
type MockDiscovery struct {
	mu          sync.RWMutex
	devices     []string
	deviceInfos map[string]*DeviceInfo
}

// NewMockDiscovery は新しいMockDiscoveryを作成する
func NewMockDiscovery(devices []string) *MockDiscovery {
	m := &MockDiscovery{deviceInfos: make(map[string]*DeviceInfo)}
	for _, device := range devices {
		m.AddDevice(device)
	}
	return m
}

// ScanDevices はモックデバイス一覧を返す
func (m *MockDiscovery) ScanDevices(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.devices...), nil
}

// IsDeviceAvailable はモックデバイスが利用可能かチェックする
func (m *MockDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.deviceInfos[device]
	return ok
}

// GetDeviceInfo はモックデバイス情報のコピーを返す
func (m *MockDiscovery) GetDeviceInfo(_ context.Context, device string) (*DeviceInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info, exists := m.deviceInfos[device]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrDeviceUnavailable, device)
	}

	result := *info
	return &result, nil
}

// AddDevice はテスト用にデバイスを追加する
func (m *MockDiscovery) AddDevice(device string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.deviceInfos[device]; ok {
		return
	}

	m.devices = append(m.devices, device)
	m.deviceInfos[device] = &DeviceInfo{
		Device: device,
		Name:   fmt.Sprintf("テストカメラ %d", len(m.devices)),
		Driver: "mock",
		Resolutions: []Resolution{
			{Width: 640, Height: 480},
			{Width: 1280, Height: 720},
		},
		Formats:  []string{"MJPEG"},
		Controls: map[string]Control{},
	}
}

// RemoveDevice はテスト用にデバイスを削除する
func (m *MockDiscovery) RemoveDevice(device string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, d := range m.devices {
		if d == device {
			m.devices = append(m.devices[:i], m.devices[i+1:]...)
			break
		}
	}
	delete(m.deviceInfos, device)
}

// MockProvider は合成フレームを生成するテスト・デモ用Provider
type MockProvider struct {
	mu sync.Mutex

	// テスト制御用
	Resolutions  []Resolution         // サポート解像度
	Capabilities Capabilities         // 公開する制御機能
	OpenErrors   map[FacingMode]error // 向きごとの取得エラー
	OpenDelay    time.Duration        // Openの遅延
	GrabDelay    time.Duration        // Grabの遅延
	FocusDelay   time.Duration        // SetFocusの遅延
	ZoomDelay    time.Duration        // SetZoomの遅延
	ShrinkFrames bool                 // ネゴシエートより小さいフレームを返す
	Facings      map[FacingMode]bool  // 存在する向き (nilなら両方)

	live    int
	maxLive int
	opened  []FacingMode
}

// NewMockProvider は両方の向きを持つ1920x1080のモックを作成する
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Resolutions: []Resolution{
			{Width: 640, Height: 480},
			{Width: 1280, Height: 720},
			{Width: 1920, Height: 1080},
		},
		OpenErrors: make(map[FacingMode]error),
	}
}

// Open はモックデバイスを作成する
func (p *MockProvider) Open(ctx context.Context, req Request) (Device, error) {
	if err := wait(ctx, p.OpenDelay); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.OpenErrors[req.Facing]; err != nil {
		return nil, err
	}
	if p.Facings != nil && !p.Facings[req.Facing] {
		return nil, fmt.Errorf("%w: %s", ErrDeviceUnavailable, req.Facing)
	}

	res, ok := req.Policy.Pick(p.Resolutions)
	if !ok {
		return nil, ErrConstraintUnsatisfiable
	}

	p.live++
	if p.live > p.maxLive {
		p.maxLive = p.live
	}
	p.opened = append(p.opened, req.Facing)

	return &MockDevice{
		provider:     p,
		facing:       req.Facing,
		resolution:   res,
		capabilities: p.Capabilities,
		grabDelay:    p.GrabDelay,
		focusDelay:   p.FocusDelay,
		zoomDelay:    p.ZoomDelay,
		shrink:       p.ShrinkFrames,
	}, nil
}

// Live は現在開いているハンドル数
func (p *MockProvider) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

// MaxLive は同時に開かれたハンドル数の最大値
func (p *MockProvider) MaxLive() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxLive
}

// Opened は開かれた向きの履歴
func (p *MockProvider) Opened() []FacingMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]FacingMode(nil), p.opened...)
}

func (p *MockProvider) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.live--
}

// MockDevice はグラデーション画像を返すDevice
type MockDevice struct {
	provider     *MockProvider
	facing       FacingMode
	resolution   Resolution
	capabilities Capabilities
	grabDelay    time.Duration
	focusDelay   time.Duration
	zoomDelay    time.Duration
	shrink       bool

	mu     sync.Mutex
	frame  int
	zoom   float64
	focus  [2]float64
	closed bool
}

// Resolution はネゴシエート済み解像度を返す
func (d *MockDevice) Resolution() Resolution {
	return d.resolution
}

// Capabilities は制御機能を返す
func (d *MockDevice) Capabilities() Capabilities {
	return d.capabilities
}

// Grab は合成フレームを返す
func (d *MockDevice) Grab(ctx context.Context) (image.Image, error) {
	if err := wait(ctx, d.grabDelay); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errors.New("デバイスは解放済みです")
	}
	d.frame++

	w, h := d.resolution.Width, d.resolution.Height
	if d.shrink {
		w, h = w/2, h/2
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	shift := uint8(d.frame * 8)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			c := color.RGBA{R: uint8(x*255/w) + shift, G: uint8(y * 255 / h), B: 128, A: 255}
			row[x*4], row[x*4+1], row[x*4+2], row[x*4+3] = c.R, c.G, c.B, c.A
		}
	}
	return img, nil
}

// SetZoom はズーム値を記録する
func (d *MockDevice) SetZoom(ctx context.Context, level float64) error {
	if err := wait(ctx, d.zoomDelay); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.capabilities.Zoom == nil {
		return errors.New("ズームに対応していません")
	}
	d.zoom = level
	return nil
}

// Zoom は最後に適用されたズーム値
func (d *MockDevice) Zoom() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.zoom
}

// SetFocus はフォーカス座標を記録する
func (d *MockDevice) SetFocus(ctx context.Context, x, y float64) error {
	if err := wait(ctx, d.focusDelay); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.focus = [2]float64{x, y}
	return nil
}

// Close はハンドルを解放する
func (d *MockDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.provider.release()
	return nil
}

// wait は遅延が経過するかctxが終わるまで待つ
func wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
