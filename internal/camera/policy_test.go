package camera

import "testing"

func TestPolicyFor(t *testing.T) {
	mobile := PolicyFor(DeviceClassMobile)
	if mobile.Facing != FacingEnvironment {
		t.Errorf("mobile facing = %s", mobile.Facing)
	}
	if mobile.Width != (IntRange{Min: 1280, Max: 1920, Ideal: 1920}) ||
		mobile.Height != (IntRange{Min: 720, Max: 1080, Ideal: 1080}) {
		t.Errorf("unexpected mobile policy %+v", mobile)
	}

	desktop := PolicyFor(DeviceClassDesktop)
	if desktop.Facing != FacingUser {
		t.Errorf("desktop facing = %s", desktop.Facing)
	}
	if desktop.Width != (IntRange{Min: 640, Max: 1920, Ideal: 1280}) ||
		desktop.Height != (IntRange{Min: 480, Max: 1080, Ideal: 720}) {
		t.Errorf("unexpected desktop policy %+v", desktop)
	}
}

func TestResolutionPolicy_Pick(t *testing.T) {
	tests := []struct {
		name      string
		class     DeviceClass
		supported []Resolution
		want      Resolution
		ok        bool
	}{
		{
			name:      "モバイルは1080pを選ぶ",
			class:     DeviceClassMobile,
			supported: []Resolution{{640, 480}, {1280, 720}, {1920, 1080}},
			want:      Resolution{1920, 1080},
			ok:        true,
		},
		{
			name:      "デスクトップは720pを選ぶ",
			class:     DeviceClassDesktop,
			supported: []Resolution{{640, 480}, {1280, 720}, {1920, 1080}},
			want:      Resolution{1280, 720},
			ok:        true,
		},
		{
			name:      "モバイルは範囲外の解像度を拒否する",
			class:     DeviceClassMobile,
			supported: []Resolution{{640, 480}, {800, 600}},
			ok:        false,
		},
		{
			name:      "同距離なら画素数の大きい方",
			class:     DeviceClassDesktop,
			supported: []Resolution{{1180, 720}, {1380, 720}},
			want:      Resolution{1380, 720},
			ok:        true,
		},
		{
			name:  "候補なし",
			class: DeviceClassDesktop,
			ok:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := PolicyFor(tt.class).Pick(tt.supported)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("Pick() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDetectDeviceClass(t *testing.T) {
	tests := []struct {
		ua   string
		want DeviceClass
	}{
		{"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 Mobile Safari/537.36", DeviceClassMobile},
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)", DeviceClassMobile},
		{"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 Chrome/126.0 Safari/537.36", DeviceClassDesktop},
		{"", DeviceClassDesktop},
	}

	for _, tt := range tests {
		if got := DetectDeviceClass(tt.ua); got != tt.want {
			t.Errorf("DetectDeviceClass(%q) = %s, want %s", tt.ua, got, tt.want)
		}
	}
}
