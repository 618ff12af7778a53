// Package vehicle は撮影対象車両と4方向ビューのデータモデルを定義する
//
// # 責務
// - 4つの固定ビュー (前・左・後・右) の識別子と表示名・アップロードタグ
// - 車両ID (1..260) の検証とゼロ埋め3桁表記
// - 撮影済み画像 (CapturedImage) の保持
package vehicle

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ViewSlot は車両の撮影方向を表す (1..4 の順序を持つ)
type ViewSlot int

const (
	ViewUnset ViewSlot = iota // 未割り当て
	ViewFront                 // 前面
	ViewLeft                  // 左側面
	ViewRear                  // 後面
	ViewRight                 // 右側面
)

// ViewCount は1台あたりの必要ビュー数
const ViewCount = 4

// AllViews は自動送りの順序で並んだ全ビュー
var AllViews = []ViewSlot{ViewFront, ViewLeft, ViewRear, ViewRight}

var viewTags = map[ViewSlot]string{
	ViewFront: "frontal",
	ViewLeft:  "lateral_izquierdo",
	ViewRear:  "trasero",
	ViewRight: "lateral_derecho",
}

var viewNames = map[ViewSlot]string{
	ViewFront: "Front",
	ViewLeft:  "Left side",
	ViewRear:  "Rear",
	ViewRight: "Right side",
}

// Valid はビューが4つの固定スロットのいずれかであるかを返す
func (v ViewSlot) Valid() bool {
	return v >= ViewFront && v <= ViewRight
}

// Tag はアップロード時に使う固定タグを返す
func (v ViewSlot) Tag() string {
	return viewTags[v]
}

// DisplayName は画面表示用の名前を返す
func (v ViewSlot) DisplayName() string {
	if name, ok := viewNames[v]; ok {
		return name
	}
	return "Unknown"
}

func (v ViewSlot) String() string {
	if !v.Valid() {
		return "unset"
	}
	return v.Tag()
}

// IsLast は最後のスロット (右側面) かを返す
func (v ViewSlot) IsLast() bool {
	return v == ViewRight
}

// Next は次のスロットを返す。最後のスロットではそのまま返す
func (v ViewSlot) Next() ViewSlot {
	if !v.Valid() || v.IsLast() {
		return v
	}
	return v + 1
}

// Prev は前のスロットを返す。最初のスロットではそのまま返す
func (v ViewSlot) Prev() ViewSlot {
	if !v.Valid() || v == ViewFront {
		return v
	}
	return v - 1
}

// MarshalText はタグ表記でエンコードする
func (v ViewSlot) MarshalText() ([]byte, error) {
	if !v.Valid() {
		return nil, fmt.Errorf("無効なビュー: %d", int(v))
	}
	return []byte(v.Tag()), nil
}

// UnmarshalText はParseViewSlotと同じ規則でデコードする
func (v *ViewSlot) UnmarshalText(text []byte) error {
	parsed, err := ParseViewSlot(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ErrInvalidView は解釈できないビュー指定
var ErrInvalidView = errors.New("invalid view slot")

// ParseViewSlot はタグ、英語名、または順序番号 (1..4) からビューを得る
func ParseViewSlot(s string) (ViewSlot, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(key); err == nil {
		v := ViewSlot(n)
		if v.Valid() {
			return v, nil
		}
		return ViewUnset, fmt.Errorf("%w: %q", ErrInvalidView, s)
	}
	for _, v := range AllViews {
		if key == v.Tag() || key == strings.ToLower(v.DisplayName()) {
			return v, nil
		}
	}
	switch key {
	case "front":
		return ViewFront, nil
	case "left":
		return ViewLeft, nil
	case "rear", "back":
		return ViewRear, nil
	case "right":
		return ViewRight, nil
	}
	return ViewUnset, fmt.Errorf("%w: %q", ErrInvalidView, s)
}

var filenameHints = []struct {
	hint string
	view ViewSlot
}{
	{"izquierdo", ViewLeft},
	{"left", ViewLeft},
	{"derecho", ViewRight},
	{"right", ViewRight},
	{"trasero", ViewRear},
	{"rear", ViewRear},
	{"frontal", ViewFront},
	{"front", ViewFront},
}

// ViewFromFilename はファイル名に含まれるタグからビューを推定する
func ViewFromFilename(filename string) (ViewSlot, bool) {
	name := strings.ToLower(filename)
	// 左右は "lateral" を共有するため先に判定する
	for _, m := range filenameHints {
		if strings.Contains(name, m.hint) {
			return m.view, true
		}
	}
	return ViewUnset, false
}

// ID は車両番号 (1..260)
type ID int

const (
	MinID ID = 1
	MaxID ID = 260
)

// ErrInvalidID は範囲外または数値でない車両番号
var ErrInvalidID = errors.New("invalid vehicle id")

// Valid は範囲内かを返す
func (id ID) Valid() bool {
	return id >= MinID && id <= MaxID
}

// String はゼロ埋め3桁で返す (例: 7 → "007")
func (id ID) String() string {
	return fmt.Sprintf("%03d", int(id))
}

// ParseID は "7" や "007" を車両番号として解釈する
func ParseID(s string) (ID, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	id := ID(n)
	if !id.Valid() {
		return 0, fmt.Errorf("%w: %d は %d..%d の範囲外", ErrInvalidID, n, MinID, MaxID)
	}
	return id, nil
}

// CapturedImage はメモリ上にのみ保持される撮影済み静止画
type CapturedImage struct {
	ID         uuid.UUID // 画像の一意識別子
	View       ViewSlot  // 割り当て先ビュー (撮影直後は ViewUnset)
	Data       []byte    // エンコード済みバイト列
	MIMEType   string    // 例: image/jpeg
	CapturedAt time.Time // 撮影時刻
	Width      int       // 画像幅
	Height     int       // 画像高さ
}

// NewCapturedImage は撮影直後の画像を作成する
func NewCapturedImage(data []byte, mimeType string, width, height int) *CapturedImage {
	return &CapturedImage{
		ID:         uuid.New(),
		Data:       data,
		MIMEType:   mimeType,
		CapturedAt: time.Now(),
		Width:      width,
		Height:     height,
	}
}

// Size はエンコード済みデータのバイト数
func (c *CapturedImage) Size() int {
	return len(c.Data)
}
