package camera

import (
	"context"
	"image"
	"time"
)

// State はカメラセッションの状態を表す
type State string

const (
	StateIdle       State = "idle"       // 未取得
	StateRequesting State = "requesting" // デバイス要求中
	StateStreaming  State = "streaming"  // ストリーミング中
	StateClosed     State = "closed"     // 解放済み
)

// FacingMode はカメラの向き
type FacingMode string

const (
	FacingUser        FacingMode = "user"        // 操作者側 (インカメラ)
	FacingEnvironment FacingMode = "environment" // 被写体側 (アウトカメラ)
)

// Opposite は反対側の向きを返す
func (f FacingMode) Opposite() FacingMode {
	if f == FacingUser {
		return FacingEnvironment
	}
	return FacingUser
}

// Resolution はカメラの解像度を表す
type Resolution struct {
	Width  int `json:"width"`  // 幅
	Height int `json:"height"` // 高さ
}

// Area は画素数を返す
func (r Resolution) Area() int {
	return r.Width * r.Height
}

// ZoomRange はハードウェアズームの範囲 (倍率)
type ZoomRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// フォーカスモード
const (
	FocusContinuous = "continuous"
	FocusManual     = "manual"
)

// Capabilities はデバイスが公開する制御機能
// nil / 空のフィールドは対応する制御が無効であることを示す
type Capabilities struct {
	Zoom       *ZoomRange `json:"zoom,omitempty"`
	FocusModes []string   `json:"focus_modes,omitempty"`
}

// SupportsManualFocus は一点フォーカスに対応しているかを返す
func (c Capabilities) SupportsManualFocus() bool {
	for _, m := range c.FocusModes {
		if m == FocusManual {
			return true
		}
	}
	return false
}

// Request はデバイス取得要求
type Request struct {
	Facing FacingMode
	Policy ResolutionPolicy
}

// Device は取得済みのライブキャプチャデバイスのハンドル
type Device interface {
	// Resolution はネゴシエート済みのストリーム解像度を返す
	Resolution() Resolution

	// Capabilities はデバイスの制御機能を返す
	Capabilities() Capabilities

	// Grab は現在のフレームをネイティブ解像度で返す
	Grab(ctx context.Context) (image.Image, error)

	// SetZoom はハードウェアズームを適用する
	SetZoom(ctx context.Context, level float64) error

	// SetFocus は正規化座標 (0..1) で一度だけフォーカスを合わせる
	SetFocus(ctx context.Context, x, y float64) error

	// Close はハンドルを解放する
	Close() error
}

// Provider はデバイスハンドルを取得する
type Provider interface {
	Open(ctx context.Context, req Request) (Device, error)
}

// Discovery はカメラデバイスの検出機能を提供する
type Discovery interface {
	// ScanDevices はシステム内の利用可能なカメラデバイスをスキャンする
	ScanDevices(ctx context.Context) ([]string, error)

	// IsDeviceAvailable は指定されたデバイスが利用可能かチェックする
	IsDeviceAvailable(ctx context.Context, device string) bool

	// GetDeviceInfo はデバイスの詳細情報を取得する
	GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error)
}

// DeviceInfo はカメラデバイスの詳細情報を表す
type DeviceInfo struct {
	Device      string             `json:"device"`      // デバイスパス
	Name        string             `json:"name"`        // デバイス名
	Driver      string             `json:"driver"`      // ドライバー名
	Resolutions []Resolution       `json:"resolutions"` // サポートされる解像度
	Formats     []string           `json:"formats"`     // サポートされるフォーマット
	Controls    map[string]Control `json:"controls"`    // v4l2 コントロール
}

// Control はv4l2コントロールの範囲
type Control struct {
	Min     int `json:"min"`
	Max     int `json:"max"`
	Step    int `json:"step"`
	Default int `json:"default"`
}

// Snapshot はセッションの観測用スナップショット
type Snapshot struct {
	State        State        `json:"state"`
	Facing       FacingMode   `json:"facing"`
	Resolution   Resolution   `json:"resolution"`
	Zoom         float64      `json:"zoom"`
	HardwareZoom bool         `json:"hardware_zoom"`
	Flash        bool         `json:"flash"`
	Capabilities Capabilities `json:"capabilities"`
	OpenedAt     time.Time    `json:"opened_at"`
}
