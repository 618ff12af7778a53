package vehicle

import (
	"errors"
	"testing"
)

func TestViewSlot_Order(t *testing.T) {
	if len(AllViews) != ViewCount {
		t.Fatalf("ビュー数が一致しません: got %d, want %d", len(AllViews), ViewCount)
	}

	for i, v := range AllViews {
		if int(v) != i+1 {
			t.Errorf("ビューの順序が不正: index %d got %d", i, v)
		}
	}

	if ViewFront.Next() != ViewLeft || ViewRear.Next() != ViewRight {
		t.Error("Nextが次のスロットを返していません")
	}
	if ViewRight.Next() != ViewRight {
		t.Error("最後のスロットのNextは自身であるべきです")
	}
	if ViewFront.Prev() != ViewFront || ViewRight.Prev() != ViewRear {
		t.Error("Prevの結果が不正です")
	}
}

func TestParseViewSlot(t *testing.T) {
	testCases := []struct {
		input     string
		want      ViewSlot
		expectErr bool
	}{
		{"frontal", ViewFront, false},
		{"lateral_izquierdo", ViewLeft, false},
		{"Rear", ViewRear, false},
		{"right side", ViewRight, false},
		{"4", ViewRight, false},
		{"back", ViewRear, false},
		{"0", ViewUnset, true},
		{"5", ViewUnset, true},
		{"roof", ViewUnset, true},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseViewSlot(tc.input)
			if tc.expectErr {
				if !errors.Is(err, ErrInvalidView) {
					t.Errorf("ErrInvalidViewが期待されました: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("予期しないエラー: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestViewFromFilename(t *testing.T) {
	testCases := map[string]ViewSlot{
		"007_frontal.jpg":            ViewFront,
		"lateral_izquierdo.jpg":      ViewLeft,
		"IMG_lateral_derecho_2.jpeg": ViewRight,
		"trasero.jpg":                ViewRear,
	}
	for name, want := range testCases {
		got, ok := ViewFromFilename(name)
		if !ok || got != want {
			t.Errorf("%s: got %v (%v), want %v", name, got, ok, want)
		}
	}

	if _, ok := ViewFromFilename("roof.jpg"); ok {
		t.Error("推定できないファイル名でビューが返されました")
	}
}

func TestID(t *testing.T) {
	id, err := ParseID("7")
	if err != nil {
		t.Fatalf("ParseID failed: %v", err)
	}
	if id.String() != "007" {
		t.Errorf("ゼロ埋め表記が不正: %s", id.String())
	}

	id, err = ParseID("260")
	if err != nil || id != MaxID {
		t.Errorf("上限値の解釈に失敗: %v %v", id, err)
	}

	for _, bad := range []string{"0", "261", "-3", "abc", ""} {
		if _, err := ParseID(bad); !errors.Is(err, ErrInvalidID) {
			t.Errorf("%q: ErrInvalidIDが期待されました: %v", bad, err)
		}
	}
}

func TestNewCapturedImage(t *testing.T) {
	img := NewCapturedImage([]byte{1, 2, 3}, "image/jpeg", 1920, 1080)
	if img.View != ViewUnset {
		t.Error("撮影直後の画像はビュー未割り当てであるべきです")
	}
	if img.Size() != 3 {
		t.Errorf("サイズが不正: %d", img.Size())
	}
	if img.CapturedAt.IsZero() {
		t.Error("撮影時刻が設定されていません")
	}
}
