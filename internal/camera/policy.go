package camera

import "strings"

// DeviceClass は端末の種別
type DeviceClass int

const (
	DeviceClassDesktop DeviceClass = iota
	DeviceClassMobile
)

func (c DeviceClass) String() string {
	if c == DeviceClassMobile {
		return "mobile"
	}
	return "desktop"
}

// IntRange は解像度の許容範囲と理想値
type IntRange struct {
	Min   int `json:"min" yaml:"min"`
	Max   int `json:"max" yaml:"max"`
	Ideal int `json:"ideal" yaml:"ideal"`
}

// Contains は範囲内かを返す
func (r IntRange) Contains(v int) bool {
	return v >= r.Min && v <= r.Max
}

// ResolutionPolicy はデバイス要求時の解像度・向きの方針
type ResolutionPolicy struct {
	Facing FacingMode `json:"facing" yaml:"facing"`
	Width  IntRange   `json:"width" yaml:"width"`
	Height IntRange   `json:"height" yaml:"height"`
}

// PolicyFor は端末種別に応じた既定の方針を返す
func PolicyFor(class DeviceClass) ResolutionPolicy {
	if class == DeviceClassMobile {
		return ResolutionPolicy{
			Facing: FacingEnvironment,
			Width:  IntRange{Min: 1280, Max: 1920, Ideal: 1920},
			Height: IntRange{Min: 720, Max: 1080, Ideal: 1080},
		}
	}
	return ResolutionPolicy{
		Facing: FacingUser,
		Width:  IntRange{Min: 640, Max: 1920, Ideal: 1280},
		Height: IntRange{Min: 480, Max: 1080, Ideal: 720},
	}
}

// Satisfies は解像度が方針の範囲内かを返す
func (p ResolutionPolicy) Satisfies(r Resolution) bool {
	return p.Width.Contains(r.Width) && p.Height.Contains(r.Height)
}

// Pick はサポート解像度から理想値に最も近いものを選ぶ
// 同距離の場合は画素数の大きい方を優先する
func (p ResolutionPolicy) Pick(supported []Resolution) (Resolution, bool) {
	var (
		best     Resolution
		bestDist = -1
	)
	for _, r := range supported {
		if !p.Satisfies(r) {
			continue
		}
		dist := abs(r.Width-p.Width.Ideal) + abs(r.Height-p.Height.Ideal)
		if bestDist < 0 || dist < bestDist || (dist == bestDist && r.Area() > best.Area()) {
			best, bestDist = r, dist
		}
	}
	return best, bestDist >= 0
}

// DetectDeviceClass はUser-Agentから端末種別を判定する
func DetectDeviceClass(userAgent string) DeviceClass {
	ua := strings.ToLower(userAgent)
	for _, hint := range []string{"android", "iphone", "ipad", "ipod", "mobile"} {
		if strings.Contains(ua, hint) {
			return DeviceClassMobile
		}
	}
	return DeviceClassDesktop
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
