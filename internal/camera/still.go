package camera

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// StillQuality は静止画のJPEG品質
const StillQuality = 95

// Enhancement は静止画に適用する明るさ・コントラスト補正 (パーセント)
type Enhancement struct {
	Brightness float64 `json:"brightness" yaml:"brightness"`
	Contrast   float64 `json:"contrast" yaml:"contrast"`
}

// DefaultEnhancement は撮影時の固定補正
func DefaultEnhancement() Enhancement {
	return Enhancement{Brightness: 5, Contrast: 10}
}

// Apply は補正済みの画像を返す。元の画像は変更しない
func (e Enhancement) Apply(img image.Image) image.Image {
	out := imaging.AdjustBrightness(img, e.Brightness)
	return imaging.AdjustContrast(out, e.Contrast)
}

// EncodeStill は補正を適用してネイティブ解像度のままJPEGにエンコードする
func EncodeStill(img image.Image, e Enhancement, quality int) ([]byte, error) {
	enhanced := e.Apply(img)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, enhanced, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("静止画のJPEGエンコードに失敗: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodePreview はプレビュー用に縮小してJPEGにエンコードする
func EncodePreview(img image.Image, width, quality int) ([]byte, error) {
	if width > 0 && img.Bounds().Dx() > width {
		img = imaging.Resize(img, width, 0, imaging.Box)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("プレビューのJPEGエンコードに失敗: %w", err)
	}
	return buf.Bytes(), nil
}
