package camera

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// LinuxDiscovery はLinux環境でのカメラデバイス検出を実装する
type LinuxDiscovery struct{}

// NewLinuxDiscovery は新しいLinuxDiscoveryを作成する
func NewLinuxDiscovery() *LinuxDiscovery {
	return &LinuxDiscovery{}
}

// 検出できなかった場合の解像度
var fallbackResolutions = []Resolution{
	{Width: 640, Height: 480},
	{Width: 1280, Height: 720},
	{Width: 1920, Height: 1080},
}

// ScanDevices はシステム内のカラーカメラデバイスをスキャンする
// 同じ物理カメラの複数チャンネルは最も小さい番号だけを残す
func (d *LinuxDiscovery) ScanDevices(ctx context.Context) ([]string, error) {
	matches, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, fmt.Errorf("デバイスのスキャンに失敗: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool {
		return extractDeviceNumber(matches[i]) < extractDeviceNumber(matches[j])
	})

	var devices []string
	seenNames := make(map[string]bool)
	for _, match := range matches {
		select {
		case <-ctx.Done():
			return devices, ctx.Err()
		default:
		}

		if !d.IsDeviceAvailable(ctx, match) || !d.hasColorFormat(ctx, match) {
			continue
		}

		if name := d.getV4L2DeviceName(ctx, match); name != "" {
			if seenNames[name] {
				continue
			}
			seenNames[name] = true
		}
		devices = append(devices, match)
	}

	return devices, nil
}

// IsDeviceAvailable は指定されたデバイスが利用可能かチェックする
func (d *LinuxDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	return isV4L2Device(device) && CheckAccess(device) == nil
}

// CheckAccess はデバイスファイルを開けるか確認し、失敗理由を分類する
func CheckAccess(device string) error {
	file, err := os.OpenFile(device, os.O_RDWR, 0)
	if err != nil {
		switch {
		case os.IsNotExist(err):
			return fmt.Errorf("%w: %s", ErrDeviceUnavailable, device)
		case os.IsPermission(err):
			return fmt.Errorf("%w: %s (videoグループへの参加が必要です)", ErrPermissionDenied, device)
		default:
			return fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, device, err)
		}
	}
	_ = file.Close()
	return nil
}

// GetDeviceInfo はデバイスの詳細情報を取得する
func (d *LinuxDiscovery) GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error) {
	if err := CheckAccess(device); err != nil {
		return nil, err
	}

	capturer := NewV4L2Capturer(device, 0, 0, 0)

	resolutions, err := capturer.ListResolutions(ctx)
	if err != nil || len(resolutions) == 0 {
		resolutions = fallbackResolutions
	}

	controls, err := capturer.ListControls(ctx)
	if err != nil {
		controls = map[string]Control{}
	}

	return &DeviceInfo{
		Device:      device,
		Name:        d.generateDeviceName(ctx, device),
		Driver:      "uvcvideo",
		Resolutions: resolutions,
		Formats:     []string{"MJPEG"},
		Controls:    controls,
	}, nil
}

// isV4L2Device は /dev/videoN 形式のパスかを判定する
func isV4L2Device(device string) bool {
	matched, _ := regexp.MatchString(`^/dev/video\d+$`, device)
	return matched
}

// hasColorFormat はYUYVまたはMJPGをサポートするかを判定する
// グレースケールのみのIRカメラなどを除外するため
func (d *LinuxDiscovery) hasColorFormat(ctx context.Context, device string) bool {
	cmd := exec.CommandContext(ctx, "v4l2-ctl", "--device", device, "--list-formats-ext")
	output, err := cmd.Output()
	if err != nil {
		return false
	}
	out := string(output)
	return strings.Contains(out, "YUYV") || strings.Contains(out, "MJPG")
}

// generateDeviceName はデバイスパスから表示名を生成する
func (d *LinuxDiscovery) generateDeviceName(ctx context.Context, device string) string {
	if realName := d.getV4L2DeviceName(ctx, device); realName != "" {
		return realName
	}
	return fmt.Sprintf("カメラ %d", extractDeviceNumber(device))
}

// getV4L2DeviceName はv4l2-ctlの "Card type" 行から実際のデバイス名を取得する
func (d *LinuxDiscovery) getV4L2DeviceName(ctx context.Context, device string) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, "v4l2-ctl", "--device", device, "--info").Output()
	if err != nil {
		return ""
	}

	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Card type") {
			continue
		}
		if _, value, ok := strings.Cut(line, ":"); ok {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

var deviceNumber = regexp.MustCompile(`video(\d+)`)

// extractDeviceNumber はデバイスパスから番号を抽出する
func extractDeviceNumber(device string) int {
	matches := deviceNumber.FindStringSubmatch(device)
	if len(matches) < 2 {
		return 0
	}

	num, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0
	}
	return num
}
