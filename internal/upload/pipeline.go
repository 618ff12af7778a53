// Package upload は撮影済み画像をリモートストアへ送る
package upload

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"vehiclecam/internal/vehicle"
)

// DefaultBatchDelay はバッチ内のアップロード間の待ち時間
const DefaultBatchDelay = 400 * time.Millisecond

// encodeQuality はJPEG以外の入力を再エンコードするときの品質
const encodeQuality = 95

// 応答を得られなかった場合の汎用メッセージ
const transportFailureMessage = "could not reach the upload server"

// Request はトランスポートに渡す1枚分の送信内容
type Request struct {
	Vehicle     vehicle.ID
	ViewTag     string
	Filename    string
	ContentType string
	Body        []byte
}

// Response はサーバーの応答
type Response struct {
	Status int
	Body   []byte
}

// Transport は1枚の画像をリモートストアへ送る
// 応答が得られなかった場合のみ error を返す
type Transport interface {
	Upload(ctx context.Context, req Request) (*Response, error)
}

// Outcome は1枚分のアップロード結果
type Outcome struct {
	View    vehicle.ViewSlot `json:"view,omitempty"`
	ViewTag string           `json:"view_tag"`
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Status  int              `json:"status,omitempty"`
	Err     error            `json:"-"`
}

// BatchResult は4方向のアップロード結果
// Results には実際に試行した分だけが入る
type BatchResult struct {
	Success bool      `json:"success"`
	Message string    `json:"message"`
	Results []Outcome `json:"results"`
	Err     error     `json:"-"`
}

// Pipeline は撮影済み画像をリモートストアへ順番に送る
type Pipeline struct {
	transport  Transport
	estimator  Estimator
	batchDelay time.Duration
	log        *zap.Logger
}

// Option はPipelineの設定を変更する
type Option func(*Pipeline)

// WithEstimator は進捗推定器を差し替える
func WithEstimator(e Estimator) Option {
	return func(p *Pipeline) { p.estimator = e }
}

// WithBatchDelay はアップロード間の待ち時間を変更する。0で無効
func WithBatchDelay(d time.Duration) Option {
	return func(p *Pipeline) { p.batchDelay = d }
}

// WithLogger はロガーを設定する
func WithLogger(log *zap.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

// NewPipeline は新しいPipelineを作成する
func NewPipeline(transport Transport, opts ...Option) *Pipeline {
	p := &Pipeline{
		transport:  transport,
		estimator:  DefaultEstimator(),
		batchDelay: DefaultBatchDelay,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Encode は画像を送信用のJPEGバイト列にする
// JPEGはそのまま返し、それ以外はデコードして一度だけエンコードする
func (p *Pipeline) Encode(img *vehicle.CapturedImage) ([]byte, error) {
	if img == nil || len(img.Data) == 0 {
		return nil, ErrEmptyImage
	}
	if isJPEG(img.Data) {
		return img.Data, nil
	}

	decoded, err := imaging.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return nil, fmt.Errorf("画像のデコードに失敗: %w", err)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, decoded, imaging.JPEG, imaging.JPEGQuality(encodeQuality)); err != nil {
		return nil, fmt.Errorf("JPEG エンコードに失敗: %w", err)
	}
	return buf.Bytes(), nil
}

func isJPEG(data []byte) bool {
	return len(data) > 2 && data[0] == 0xFF && data[1] == 0xD8
}

// UploadOne は1枚を送信する。失敗も含めて必ず Outcome を返す
// onProgress は単調増加で呼ばれ、最後に100%の終端通知がちょうど1回届く
func (p *Pipeline) UploadOne(ctx context.Context, img *vehicle.CapturedImage, id vehicle.ID, viewTag string, onProgress ProgressFunc) Outcome {
	out := Outcome{ViewTag: viewTag}
	if img != nil {
		out.View = img.View
	}

	progress := newProgressGuard(onProgress)
	progress.update(0)

	payload, err := p.Encode(img)
	if err != nil {
		out.Err = err
		out.Message = err.Error()
		progress.finish(StatusError, out.Message)
		return out
	}

	filename := viewTag + ".jpg"
	stop := p.estimator.Start(ctx, progress.update)
	resp, err := p.transport.Upload(ctx, Request{
		Vehicle:     id,
		ViewTag:     viewTag,
		Filename:    filename,
		ContentType: "image/jpeg",
		Body:        payload,
	})
	stop()

	switch {
	case err != nil:
		out.Err = &TransportError{Err: err}
		out.Message = transportFailureMessage
		p.log.Warn("アップロードの送信に失敗しました",
			zap.String("vehicle", id.String()),
			zap.String("view", viewTag),
			zap.Error(err))
	case resp.Status < 200 || resp.Status >= 300:
		out.Status = resp.Status
		out.Message = serverMessage(resp)
		out.Err = &ServerError{Status: resp.Status, Message: out.Message}
		p.log.Warn("サーバーがアップロードを拒否しました",
			zap.String("vehicle", id.String()),
			zap.String("view", viewTag),
			zap.Int("status", resp.Status),
			zap.String("message", out.Message))
	default:
		out.Status = resp.Status
		out.Success = true
		out.Message = successMessage(resp, filename)
		p.log.Info("アップロードしました",
			zap.String("vehicle", id.String()),
			zap.String("view", viewTag),
			zap.Int("bytes", len(payload)))
	}

	if out.Success {
		progress.finish(StatusSuccess, out.Message)
	} else {
		progress.finish(StatusError, out.Message)
	}
	return out
}

// UploadAll は4方向をスロット順に1枚ずつ送る
// 4枚揃っていなければ通信せずに失敗し、最初の失敗で残りを中止する
func (p *Pipeline) UploadAll(ctx context.Context, photos map[vehicle.ViewSlot]*vehicle.CapturedImage, id vehicle.ID, onProgress BatchProgressFunc) BatchResult {
	if !id.Valid() {
		err := fmt.Errorf("%w: %d", vehicle.ErrInvalidID, int(id))
		return BatchResult{Message: err.Error(), Err: err}
	}

	var missing []string
	for _, view := range vehicle.AllViews {
		if photos[view] == nil {
			missing = append(missing, view.Tag())
		}
	}
	if len(missing) > 0 || len(photos) != vehicle.ViewCount {
		err := fmt.Errorf("%w: %s", ErrMissingViews, strings.Join(missing, ", "))
		return BatchResult{Message: err.Error(), Err: err}
	}

	results := make([]Outcome, 0, vehicle.ViewCount)
	for i, view := range vehicle.AllViews {
		if i > 0 && p.batchDelay > 0 {
			select {
			case <-time.After(p.batchDelay):
			case <-ctx.Done():
				return BatchResult{
					Message: fmt.Sprintf("batch canceled before %s: %v", view.Tag(), ctx.Err()),
					Results: results,
					Err:     ctx.Err(),
				}
			}
		}

		out := p.UploadOne(ctx, photos[view], id, view.Tag(), func(percent int, status Status, message string) {
			if onProgress != nil {
				onProgress(view, percent, status, message)
			}
		})
		out.View = view
		results = append(results, out)

		if !out.Success {
			return BatchResult{
				Message: fmt.Sprintf("%s failed: %s", view.Tag(), out.Message),
				Results: results,
				Err:     out.Err,
			}
		}
	}

	p.log.Info("4方向のアップロードが完了しました", zap.String("vehicle", id.String()))
	return BatchResult{
		Success: true,
		Message: fmt.Sprintf("vehicle %s: %d views uploaded", id, len(results)),
		Results: results,
	}
}

// serverBody はサーバー応答のメッセージ部分
type serverBody struct {
	Detail  json.RawMessage `json:"detail"`
	Message json.RawMessage `json:"message"`
}

// serverMessage は detail、message の順にサーバーのメッセージを取り出す
func serverMessage(resp *Response) string {
	var body serverBody
	if err := json.Unmarshal(resp.Body, &body); err == nil {
		if msg := rawText(body.Detail); msg != "" {
			return msg
		}
		if msg := rawText(body.Message); msg != "" {
			return msg
		}
	}
	return fmt.Sprintf("upload failed with status %d", resp.Status)
}

func successMessage(resp *Response, filename string) string {
	var body serverBody
	if err := json.Unmarshal(resp.Body, &body); err == nil {
		if msg := rawText(body.Message); msg != "" {
			return msg
		}
	}
	return filename + " uploaded"
}

// rawText は文字列ならその値を、それ以外のJSON値は表記そのものを返す
func rawText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return string(raw)
}
