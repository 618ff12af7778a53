// Package urlresolver はサーバーが返す画像の参照を、正規ストアホスト上の取得可能なURLに変換する
package urlresolver

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultParam はキャッシュ回避に使うクエリパラメータ名
const DefaultParam = "t"

// DefaultPlaceholder は解決できなかった場合に返すURL
const DefaultPlaceholder = "/static/placeholder.svg"

// Resolver は画像URLの正規化規則を保持する
// Normalize は Now 以外の状態に依存しない
type Resolver struct {
	Base        *url.URL         // 正規ストアのオリジン
	Now         func() time.Time // キャッシュ回避の時刻
	Placeholder string           // 解決できない場合のURL
	Param       string           // キャッシュ回避のパラメータ名
}

// New はベースURLからResolverを作成する
func New(base string) (*Resolver, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil || !isHTTP(u) {
		return nil, fmt.Errorf("無効なストアURL: %q", base)
	}
	return &Resolver{
		Base:        &url.URL{Scheme: u.Scheme, Host: u.Host},
		Now:         time.Now,
		Placeholder: DefaultPlaceholder,
		Param:       DefaultParam,
	}, nil
}

// Normalize は参照を正規ストアのURLに変換する
//
//  1. 正規ホストのURL: キャッシュ回避パラメータを付け替える
//  2. 別ホストの絶対URL: パスだけを取り出して正規ホストに載せ替える
//  3. 参照が無効で filename が分かる: /images/<vehicleID>/<filename> を組み立てる
//  4. 相対パス: 正規ホストを前置する
//  5. いずれにも当てはまらない: Placeholder を返す
//
// 正規化済みのURLを再度渡しても時刻以外は同じ結果になる
// Placeholder 自体はストア上のパスではないのでそのまま返す
func (r *Resolver) Normalize(raw, vehicleID, filename string) string {
	raw = strings.TrimSpace(raw)
	if raw == r.placeholder() {
		return raw
	}

	if u, ok := r.parse(raw); ok {
		switch {
		case isHTTP(u) && r.sameHost(u):
			return r.bust(u)
		case u.Host != "" && strings.Trim(u.Path, "/") != "":
			return r.bust(r.rehost(&url.URL{Path: u.Path}))
		case u.Path != "":
			return r.bust(r.rehost(u))
		}
	}

	vehicleID = strings.TrimSpace(vehicleID)
	filename = strings.TrimSpace(filename)
	if vehicleID != "" && filename != "" {
		return r.bust(r.Base.JoinPath("images", vehicleID, filename))
	}

	return r.placeholder()
}

// parse は空文字や "null" などを無効として扱う
func (r *Resolver) parse(raw string) (*url.URL, bool) {
	switch strings.ToLower(raw) {
	case "", "null", "undefined", "none":
		return nil, false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, false
	}
	if u.Scheme != "" && !isHTTP(u) {
		return nil, false
	}
	return u, true
}

func isHTTP(u *url.URL) bool {
	s := strings.ToLower(u.Scheme)
	return (s == "http" || s == "https") && u.Host != ""
}

func (r *Resolver) sameHost(u *url.URL) bool {
	return strings.EqualFold(u.Host, r.Base.Host)
}

// rehost は相対参照を正規ホスト上の絶対URLにする
func (r *Resolver) rehost(rel *url.URL) *url.URL {
	path := rel.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	out := *r.Base
	out.Path = path
	out.RawPath = ""
	out.RawQuery = rel.RawQuery
	out.Fragment = ""
	return &out
}

// bust はキャッシュ回避パラメータを設定する。既存の値は置き換える
func (r *Resolver) bust(u *url.URL) string {
	param := r.Param
	if param == "" {
		param = DefaultParam
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}

	out := *u
	q := out.Query()
	q.Set(param, strconv.FormatInt(now().UnixMilli(), 10))
	out.RawQuery = q.Encode()
	out.Fragment = ""
	return out.String()
}

func (r *Resolver) placeholder() string {
	if r.Placeholder == "" {
		return DefaultPlaceholder
	}
	return r.Placeholder
}
