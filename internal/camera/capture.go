package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// V4L2Capturer はシェルコマンドを使ってV4L2デバイスから画像を取得する
type V4L2Capturer struct {
	devicePath string
	width      int
	height     int
	fps        int
}

// NewV4L2Capturer は新しいV4L2Capturerを作成する
func NewV4L2Capturer(devicePath string, width, height, fps int) *V4L2Capturer {
	return &V4L2Capturer{
		devicePath: devicePath,
		width:      width,
		height:     height,
		fps:        fps,
	}
}

// StartStream は連続キャプチャ用のストリームを開始する
// ctxがキャンセルされるとffmpegプロセスは終了する
func (c *V4L2Capturer) StartStream(ctx context.Context, frameChan chan<- []byte, errorChan chan<- error) {
	cmd := exec.CommandContext(ctx,
		"ffmpeg",
		"-f", "v4l2",
		"-input_format", "mjpeg",
		"-video_size", fmt.Sprintf("%dx%d", c.width, c.height),
		"-r", strconv.Itoa(c.fps),
		"-i", c.devicePath,
		"-f", "image2pipe",
		"-c:v", "copy",
		"-",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		errorChan <- fmt.Errorf("stdoutパイプの作成に失敗: %w", err)
		return
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		errorChan <- fmt.Errorf("ffmpegの起動に失敗: %w", err)
		return
	}

	defer func() {
		_ = cmd.Wait() // コンテキストキャンセル時のエラーは無視
	}()

	buffer := make([]byte, 1024*1024) // 1MBバッファ
	var frameBuffer bytes.Buffer

	for {
		n, err := stdout.Read(buffer)
		if n > 0 {
			frameBuffer.Write(buffer[:n])
			for _, frame := range splitJPEGFrames(&frameBuffer) {
				select {
				case frameChan <- frame:
				case <-ctx.Done():
					return
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				errorChan <- fmt.Errorf("フレーム読み取りエラー: %w (stderr: %s)", err, stderr.String())
			}
			return
		}
	}
}

var (
	jpegStart = []byte{0xFF, 0xD8}
	jpegEnd   = []byte{0xFF, 0xD9}
)

// splitJPEGFrames はバッファから完全なJPEGフレームを取り出す
// 不完全な末尾はバッファに残す
func splitJPEGFrames(buf *bytes.Buffer) [][]byte {
	var frames [][]byte
	data := buf.Bytes()

	for {
		startIdx := bytes.Index(data, jpegStart)
		if startIdx == -1 {
			data = nil
			break
		}

		endIdx := bytes.Index(data[startIdx+2:], jpegEnd)
		if endIdx == -1 {
			data = data[startIdx:]
			break
		}

		endIdx += startIdx + 2 + 2 // マーカーのサイズを含める
		frame := make([]byte, endIdx-startIdx)
		copy(frame, data[startIdx:endIdx])
		frames = append(frames, frame)
		data = data[endIdx:]
	}

	rest := append([]byte(nil), data...)
	buf.Reset()
	buf.Write(rest)
	return frames
}

// SetControls はカメラのコントロール（ズーム、フォーカスなど）を設定する
func (c *V4L2Capturer) SetControls(ctx context.Context, controls map[string]int) error {
	for control, value := range controls {
		cmd := exec.CommandContext(ctx, "v4l2-ctl", "--device", c.devicePath, "--set-ctrl", fmt.Sprintf("%s=%d", control, value))
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("コントロール %s の設定に失敗: %w", control, err)
		}
	}

	return nil
}

// ListControls はデバイスのコントロール一覧を取得する
func (c *V4L2Capturer) ListControls(ctx context.Context) (map[string]Control, error) {
	cmd := exec.CommandContext(ctx, "v4l2-ctl", "--device", c.devicePath, "--list-ctrls")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("コントロール一覧の取得に失敗: %w", err)
	}
	return parseControls(string(output)), nil
}

// ListResolutions はMJPEGでサポートされる解像度を取得する
func (c *V4L2Capturer) ListResolutions(ctx context.Context) ([]Resolution, error) {
	cmd := exec.CommandContext(ctx, "v4l2-ctl", "--device", c.devicePath, "--list-formats-ext")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("フォーマット一覧の取得に失敗: %w", err)
	}
	return parseResolutions(string(output)), nil
}

var (
	controlLine = regexp.MustCompile(`^\s*(\w+)\s+0x[0-9a-f]+\s+\((\w+)\)\s*:\s*(.*)$`)
	sizeLine    = regexp.MustCompile(`Size:\s+Discrete\s+(\d+)x(\d+)`)
)

// parseControls は `v4l2-ctl --list-ctrls` の出力を解析する
//
//	zoom_absolute 0x009a090d (int)    : min=100 max=500 step=1 default=100 value=100
func parseControls(output string) map[string]Control {
	controls := make(map[string]Control)
	for _, line := range strings.Split(output, "\n") {
		m := controlLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		var ctrl Control
		for _, field := range strings.Fields(m[3]) {
			key, value, ok := strings.Cut(field, "=")
			if !ok {
				continue
			}
			n, err := strconv.Atoi(value)
			if err != nil {
				continue
			}
			switch key {
			case "min":
				ctrl.Min = n
			case "max":
				ctrl.Max = n
			case "step":
				ctrl.Step = n
			case "default":
				ctrl.Default = n
			}
		}
		controls[m[1]] = ctrl
	}
	return controls
}

// parseResolutions は `--list-formats-ext` の出力から重複のない解像度一覧を得る
func parseResolutions(output string) []Resolution {
	seen := make(map[Resolution]bool)
	var resolutions []Resolution
	for _, m := range sizeLine.FindAllStringSubmatch(output, -1) {
		w, _ := strconv.Atoi(m[1])
		h, _ := strconv.Atoi(m[2])
		r := Resolution{Width: w, Height: h}
		if !seen[r] {
			seen[r] = true
			resolutions = append(resolutions, r)
		}
	}
	return resolutions
}
