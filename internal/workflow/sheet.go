package workflow

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"vehiclecam/internal/vehicle"
)

// ErrEmptySheet は結合する写真が無い
var ErrEmptySheet = errors.New("no photos to compose")

// SheetComposer は4方向の写真を2x2の一覧画像に結合する
type SheetComposer struct {
	outputWidth  int
	outputHeight int
	quality      int
}

// NewSheetComposer は新しいSheetComposerを作成する
func NewSheetComposer(outputWidth, outputHeight, quality int) *SheetComposer {
	return &SheetComposer{
		outputWidth:  outputWidth,
		outputHeight: outputHeight,
		quality:      quality,
	}
}

// Position は配置位置
type Position struct {
	X, Y          int
	Width, Height int
}

// calculatePosition はスロットの配置位置を計算する
// 前・左が上段、後・右が下段に並ぶ
func (sc *SheetComposer) calculatePosition(view vehicle.ViewSlot) Position {
	index := int(view) - 1
	cellWidth := sc.outputWidth / 2
	cellHeight := sc.outputHeight / 2

	return Position{
		X:      (index % 2) * cellWidth,
		Y:      (index / 2) * cellHeight,
		Width:  cellWidth,
		Height: cellHeight,
	}
}

// Compose は撮影済み写真をスロット順に配置してJPEGにエンコードする
// 未撮影のスロットは灰色のまま残す
func (sc *SheetComposer) Compose(photos map[vehicle.ViewSlot]*vehicle.CapturedImage) ([]byte, error) {
	sheet := imaging.New(sc.outputWidth, sc.outputHeight, color.NRGBA{R: 64, G: 64, B: 64, A: 255})

	placed := 0
	for _, view := range vehicle.AllViews {
		photo := photos[view]
		if photo == nil || len(photo.Data) == 0 {
			continue
		}

		img, err := imaging.Decode(bytes.NewReader(photo.Data))
		if err != nil {
			return nil, fmt.Errorf("%s のデコードに失敗: %w", view, err)
		}

		pos := sc.calculatePosition(view)
		cell := imaging.Fit(img, pos.Width, pos.Height, imaging.Lanczos)
		// セル内で中央寄せ
		offset := image.Pt(
			pos.X+(pos.Width-cell.Bounds().Dx())/2,
			pos.Y+(pos.Height-cell.Bounds().Dy())/2,
		)
		sheet = imaging.Paste(sheet, cell, offset)
		placed++
	}

	if placed == 0 {
		return nil, ErrEmptySheet
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, sheet, imaging.JPEG, imaging.JPEGQuality(sc.quality)); err != nil {
		return nil, fmt.Errorf("JPEG エンコードに失敗: %w", err)
	}
	return buf.Bytes(), nil
}

// ContactSheet は現在の写真から一覧画像を作成する
func (w *Workflow) ContactSheet(sc *SheetComposer) ([]byte, error) {
	return sc.Compose(w.Photos())
}
