package camera

import (
	"bytes"
	"testing"
)

func TestSplitJPEGFrames(t *testing.T) {
	frame1 := []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9}
	frame2 := []byte{0xFF, 0xD8, 0x03, 0xFF, 0xD9}
	partial := []byte{0xFF, 0xD8, 0x04, 0x05}

	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x00}) // 先頭のゴミ
	buf.Write(frame1)
	buf.Write(frame2)
	buf.Write(partial)

	frames := splitJPEGFrames(&buf)
	if len(frames) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(frames))
	}
	if !bytes.Equal(frames[0], frame1) || !bytes.Equal(frames[1], frame2) {
		t.Errorf("unexpected frames %x", frames)
	}
	if !bytes.Equal(buf.Bytes(), partial) {
		t.Errorf("Expected incomplete tail to remain, got %x", buf.Bytes())
	}

	// 残りが届けば次のフレームになる
	buf.Write([]byte{0xFF, 0xD9})
	frames = splitJPEGFrames(&buf)
	if len(frames) != 1 || len(frames[0]) != len(partial)+2 {
		t.Fatalf("Expected completed frame, got %x", frames)
	}
	if buf.Len() != 0 {
		t.Errorf("Expected empty buffer, got %d bytes", buf.Len())
	}
}

func TestParseControls(t *testing.T) {
	output := `
User Controls

                     brightness 0x00980900 (int)    : min=-64 max=64 step=1 default=0 value=0
Camera Controls

  focus_automatic_continuous 0x009a090c (bool)   : default=1 value=1
                  zoom_absolute 0x009a090d (int)    : min=100 max=500 step=1 default=100 value=100
`
	controls := parseControls(output)

	zoom, ok := controls["zoom_absolute"]
	if !ok {
		t.Fatal("Expected zoom_absolute control")
	}
	if zoom != (Control{Min: 100, Max: 500, Step: 1, Default: 100}) {
		t.Errorf("unexpected zoom control %+v", zoom)
	}

	if b := controls["brightness"]; b.Min != -64 || b.Max != 64 {
		t.Errorf("unexpected brightness control %+v", b)
	}

	if focus, ok := controls["focus_automatic_continuous"]; !ok || focus.Default != 1 {
		t.Errorf("unexpected focus control %+v", focus)
	}
}

func TestParseResolutions(t *testing.T) {
	output := `
	[0]: 'MJPG' (Motion-JPEG, compressed)
		Size: Discrete 1920x1080
			Interval: Discrete 0.033s (30.000 fps)
		Size: Discrete 1280x720
			Interval: Discrete 0.033s (30.000 fps)
	[1]: 'YUYV' (YUYV 4:2:2)
		Size: Discrete 1280x720
			Interval: Discrete 0.100s (10.000 fps)
		Size: Discrete 640x480
`
	got := parseResolutions(output)
	want := []Resolution{{1920, 1080}, {1280, 720}, {640, 480}}

	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("resolution[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
