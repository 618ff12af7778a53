package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"
)

// maxResponseBody は読み取る応答ボディの上限
const maxResponseBody = 1 << 20

// HTTPTransport は POST <base>/upload にマルチパートで送る
type HTTPTransport struct {
	endpoint string
	client   *http.Client
}

// NewHTTPTransport は新しいHTTPTransportを作成する。client が nil なら30秒タイムアウトを使う
func NewHTTPTransport(baseURL string, client *http.Client) (*HTTPTransport, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("無効なアップロード先URL: %q", baseURL)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPTransport{
		endpoint: base.JoinPath("upload").String(),
		client:   client,
	}, nil
}

// Upload は file と vehiculo の2フィールドを送る
func (t *HTTPTransport) Upload(ctx context.Context, req Request) (*Response, error) {
	body, contentType, err := multipartBody(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("リクエストの作成に失敗: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("応答の読み取りに失敗: %w", err)
	}
	return &Response{Status: resp.StatusCode, Body: data}, nil
}

// multipartBody はマルチパートの本文を組み立てる
func multipartBody(req Request) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, req.Filename))
	header.Set("Content-Type", req.ContentType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("マルチパートの作成に失敗: %w", err)
	}
	if _, err := part.Write(req.Body); err != nil {
		return nil, "", fmt.Errorf("画像の書き込みに失敗: %w", err)
	}

	if err := w.WriteField("vehiculo", req.Vehicle.String()); err != nil {
		return nil, "", fmt.Errorf("vehiculo の書き込みに失敗: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("マルチパートの終了に失敗: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
