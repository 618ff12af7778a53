package camera

import (
	"errors"
	"fmt"
)

// カメラ取得時のエラー分類
var (
	ErrDeviceUnavailable       = errors.New("camera device unavailable")
	ErrPermissionDenied        = errors.New("camera permission denied")
	ErrConstraintUnsatisfiable = errors.New("no camera satisfies the requested constraints")
)

// セッション操作のエラー
var (
	ErrNotStreaming = errors.New("camera is not streaming")
	ErrBusy         = errors.New("camera is busy capturing or opening")
	ErrDownsampled  = errors.New("captured frame is smaller than the negotiated stream")
	ErrClosed       = errors.New("camera session was closed while opening")
)

// DeviceError はデバイス操作の失敗を向き・操作名と共に保持する
type DeviceError struct {
	Op     string
	Facing FacingMode
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("camera %s (%s): %v", e.Op, e.Facing, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// IsAcquisitionError はデバイス取得に関するエラー (再試行可能) かを返す
func IsAcquisitionError(err error) bool {
	return errors.Is(err, ErrDeviceUnavailable) ||
		errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrConstraintUnsatisfiable)
}
