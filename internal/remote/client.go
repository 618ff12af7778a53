// Package remote はリモート画像ストアの閲覧APIを読むクライアント
//
// 応答の形は複数あり得るため adapt.go で一つの構造に揃える。
// 形が分からない場合やストアに届かない場合もエラーにはせず、
// 空の結果と警告を返して閲覧画面を使える状態に保つ。
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"vehiclecam/internal/urlresolver"
	"vehiclecam/internal/vehicle"
)

// maxBody は読み取る応答ボディの上限
const maxBody = 4 << 20

// Folder は車両をまとめるフォルダ
type Folder struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Vehicle はフォルダ内の車両
type Vehicle struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Date   string `json:"date,omitempty"`
	Images int    `json:"images"`
}

// ImageRef は取得可能なURLに解決済みの画像
type ImageRef struct {
	ID       string           `json:"id"`
	View     vehicle.ViewSlot `json:"view,omitempty"`
	ViewName string           `json:"view_name,omitempty"`
	URL      string           `json:"url"`
	Date     string           `json:"date,omitempty"`
	Filename string           `json:"filename,omitempty"`
}

// rawImage はURL解決前の画像
type rawImage struct {
	ID       string
	View     vehicle.ViewSlot
	URL      string
	Date     string
	Filename string
}

// Result は閲覧結果。Warning が空でなければ Items は空または部分的
type Result[T any] struct {
	Items   []T    `json:"items"`
	Warning string `json:"warning,omitempty"`
}

// Client はリモートストアの読み取りクライアント
type Client struct {
	baseURL  *url.URL
	http     *http.Client
	resolver *urlresolver.Resolver
	log      *zap.Logger
}

// NewClient は新しいClientを作成する
func NewClient(baseURL string, resolver *urlresolver.Resolver, httpClient *http.Client, log *zap.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("無効なストアURL: %q", baseURL)
	}
	if resolver == nil {
		if resolver, err = urlresolver.New(baseURL); err != nil {
			return nil, err
		}
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{baseURL: base, http: httpClient, resolver: resolver, log: log}, nil
}

// Folders はフォルダ一覧を返す
func (c *Client) Folders(ctx context.Context) Result[Folder] {
	data, err := c.get(ctx, "folders")
	if err != nil {
		return degrade[Folder](c.log, "folders", err)
	}
	folders, err := adaptFolders(data)
	if err != nil {
		return degrade[Folder](c.log, "folders", err)
	}
	return Result[Folder]{Items: folders}
}

// Vehicles はフォルダ内の車両一覧を返す
func (c *Client) Vehicles(ctx context.Context, folderID string) Result[Vehicle] {
	data, err := c.get(ctx, "vehicles", folderID)
	if err != nil {
		return degrade[Vehicle](c.log, "vehicles", err)
	}
	vehicles, err := adaptVehicles(data)
	if err != nil {
		return degrade[Vehicle](c.log, "vehicles", err)
	}
	return Result[Vehicle]{Items: vehicles}
}

// Images は車両の画像一覧をビュー順で返す。URLは正規ストアのURLに解決済み
func (c *Client) Images(ctx context.Context, id vehicle.ID) Result[ImageRef] {
	data, err := c.get(ctx, "images", id.String())
	if err != nil {
		return degrade[ImageRef](c.log, "images", err)
	}
	raws, err := adaptImages(data)
	if err != nil {
		return degrade[ImageRef](c.log, "images", err)
	}

	images := make([]ImageRef, 0, len(raws))
	for _, raw := range raws {
		filename := raw.Filename
		if filename == "" && raw.View.Valid() {
			filename = raw.View.Tag() + ".jpg"
		}
		ref := ImageRef{
			ID:       raw.ID,
			View:     raw.View,
			URL:      c.resolver.Normalize(raw.URL, id.String(), filename),
			Date:     raw.Date,
			Filename: raw.Filename,
		}
		if raw.View.Valid() {
			ref.ViewName = raw.View.DisplayName()
		}
		images = append(images, ref)
	}

	// 未判定のビューは末尾へ
	sort.SliceStable(images, func(i, j int) bool {
		return viewOrder(images[i].View) < viewOrder(images[j].View)
	})
	return Result[ImageRef]{Items: images}
}

func viewOrder(v vehicle.ViewSlot) int {
	if v.Valid() {
		return int(v)
	}
	return vehicle.ViewCount + 1
}

// get はベースURLにパスを連結してGETする
func (c *Client) get(ctx context.Context, segments ...string) ([]byte, error) {
	endpoint := c.baseURL.JoinPath(segments...)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("リクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("応答の読み取りに失敗: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Status: resp.StatusCode, Path: endpoint.Path}
	}
	return data, nil
}

// StatusError はストアが2xx以外を返した
type StatusError struct {
	Status int
	Path   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s returned status %d", e.Path, e.Status)
}

// degrade は失敗を空の結果と警告に変える
func degrade[T any](log *zap.Logger, resource string, err error) Result[T] {
	log.Warn("ストアの応答を読み取れませんでした",
		zap.String("resource", resource),
		zap.Error(err))
	return Result[T]{Items: []T{}, Warning: warningFor(err)}
}

func warningFor(err error) string {
	if errors.Is(err, ErrUnexpectedShape) {
		return ErrUnexpectedShape.Error()
	}
	return "could not load from the image store: " + err.Error()
}
