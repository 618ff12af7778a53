package camera

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
)

func grayImage(w, h int, v uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func TestEncodeStill_KeepsNativeResolution(t *testing.T) {
	src := grayImage(320, 240, 100)

	data, err := EncodeStill(src, DefaultEnhancement(), StillQuality)
	if err != nil {
		t.Fatalf("EncodeStill failed: %v", err)
	}

	decoded, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Expected decodable JPEG: %v", err)
	}
	if decoded.Bounds().Dx() != 320 || decoded.Bounds().Dy() != 240 {
		t.Errorf("Expected 320x240, got %v", decoded.Bounds())
	}
}

func TestEnhancement_Apply(t *testing.T) {
	src := grayImage(4, 4, 100)

	out := DefaultEnhancement().Apply(src)
	r, _, _, _ := out.At(1, 1).RGBA()
	if uint8(r>>8) <= 100 {
		t.Errorf("Expected brighter pixel, got %d", r>>8)
	}

	// 元画像は変更されない
	if src.RGBAAt(1, 1).R != 100 {
		t.Error("source image was modified")
	}

	zero := Enhancement{}.Apply(src)
	r, _, _, _ = zero.At(1, 1).RGBA()
	if uint8(r>>8) != 100 {
		t.Errorf("Expected unchanged pixel with zero enhancement, got %d", r>>8)
	}
}

func TestEncodePreview(t *testing.T) {
	src := grayImage(1280, 720, 50)

	data, err := EncodePreview(src, 640, 70)
	if err != nil {
		t.Fatalf("EncodePreview failed: %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Expected decodable JPEG: %v", err)
	}
	if cfg.Width != 640 || cfg.Height != 360 {
		t.Errorf("Expected 640x360, got %dx%d", cfg.Width, cfg.Height)
	}

	// 指定幅より小さい画像は拡大しない
	data, err = EncodePreview(grayImage(320, 240, 50), 640, 70)
	if err != nil {
		t.Fatalf("EncodePreview failed: %v", err)
	}
	cfg, _ = jpeg.DecodeConfig(bytes.NewReader(data))
	if cfg.Width != 320 {
		t.Errorf("Expected width 320, got %d", cfg.Width)
	}
}
