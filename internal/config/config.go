// Package config はアプリケーションの設定を読み込む
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"vehiclecam/internal/camera"
	"vehiclecam/internal/upload"
)

// アップロード先の種類
const (
	TransportHTTP = "http"
	TransportS3   = "s3"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server ServerConfig `yaml:"server"`
	Camera CameraConfig `yaml:"camera"`
	Store  StoreConfig  `yaml:"store"`
	Upload UploadConfig `yaml:"upload"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // 読み込みタイムアウト
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // 書き込みタイムアウト
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // 停止待ちの上限
}

// CameraConfig はカメラ関連の設定
type CameraConfig struct {
	Mock   bool `yaml:"mock"`   // 合成フレームのモックカメラを使う
	Mobile bool `yaml:"mobile"` // モバイル端末の解像度方針を使う

	// 向きごとのデバイスパス (例: /dev/video0)
	UserDevice        string `yaml:"user_device"`
	EnvironmentDevice string `yaml:"environment_device"`

	FPS int `yaml:"fps"` // ストリームのフレームレート

	// プレビューと静止画
	PreviewWidth   int           `yaml:"preview_width"`
	PreviewFPS     int           `yaml:"preview_fps"`
	PreviewQuality int           `yaml:"preview_quality"`
	StillQuality   int           `yaml:"still_quality"`
	Brightness     float64       `yaml:"brightness"`
	Contrast       float64       `yaml:"contrast"`
	FocusTimeout   time.Duration `yaml:"focus_timeout"`
	FlashDuration  time.Duration `yaml:"flash_duration"`
}

// StoreConfig はリモート画像ストアの設定
type StoreConfig struct {
	BaseURL     string        `yaml:"base_url"`    // 正規のストアオリジン
	Placeholder string        `yaml:"placeholder"` // 画像URLを決められない場合の代替
	Timeout     time.Duration `yaml:"timeout"`     // 閲覧APIのタイムアウト
}

// UploadConfig はアップロードの設定
type UploadConfig struct {
	Transport  string        `yaml:"transport"`   // http または s3
	BatchDelay time.Duration `yaml:"batch_delay"` // 一括アップロードの間隔
	Timeout    time.Duration `yaml:"timeout"`     // 1枚あたりのタイムアウト
	S3         S3Config      `yaml:"s3"`
}

// S3Config はS3互換ストアの設定
type S3Config struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// Default はデフォルト設定を返す
func Default() *Config {
	session := camera.DefaultSessionConfig()
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    0, // ストリーミング用にタイムアウト無効化
			ShutdownTimeout: 5 * time.Second,
		},
		Camera: CameraConfig{
			UserDevice:     "/dev/video0",
			FPS:            15,
			PreviewWidth:   session.PreviewWidth,
			PreviewFPS:     session.PreviewFPS,
			PreviewQuality: session.PreviewQuality,
			StillQuality:   session.StillQuality,
			Brightness:     session.Enhancement.Brightness,
			Contrast:       session.Enhancement.Contrast,
			FocusTimeout:   session.FocusTimeout,
			FlashDuration:  session.FlashDuration,
		},
		Store: StoreConfig{
			BaseURL:     "http://localhost:8000",
			Placeholder: "/static/placeholder.svg",
			Timeout:     15 * time.Second,
		},
		Upload: UploadConfig{
			Transport:  TransportHTTP,
			BatchDelay: upload.DefaultBatchDelay,
			Timeout:    30 * time.Second,
			S3: S3Config{
				Region:       "us-east-1",
				Prefix:       "images",
				UsePathStyle: true,
			},
		},
	}
}

// Load は設定を読み込む
// デフォルト値 → YAMLファイル (pathが空でなければ) → 環境変数 の順に上書きする
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗: %w", err)
		}
	}

	applyEnv(cfg)

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// applyEnv は環境変数で設定を上書きする
func applyEnv(cfg *Config) {
	v := viper.New()

	v.SetDefault("SERVER_HOST", cfg.Server.Host)
	v.SetDefault("SERVER_PORT", cfg.Server.Port)
	v.SetDefault("SERVER_READ_TIMEOUT", cfg.Server.ReadTimeout)
	v.SetDefault("SERVER_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	v.SetDefault("SERVER_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)
	v.SetDefault("CAMERA_MOCK", cfg.Camera.Mock)
	v.SetDefault("CAMERA_MOBILE", cfg.Camera.Mobile)
	v.SetDefault("CAMERA_USER_DEVICE", cfg.Camera.UserDevice)
	v.SetDefault("CAMERA_ENVIRONMENT_DEVICE", cfg.Camera.EnvironmentDevice)
	v.SetDefault("CAMERA_FPS", cfg.Camera.FPS)
	v.SetDefault("STORE_BASE_URL", cfg.Store.BaseURL)
	v.SetDefault("STORE_PLACEHOLDER", cfg.Store.Placeholder)
	v.SetDefault("STORE_TIMEOUT", cfg.Store.Timeout)
	v.SetDefault("UPLOAD_TRANSPORT", cfg.Upload.Transport)
	v.SetDefault("UPLOAD_BATCH_DELAY", cfg.Upload.BatchDelay)
	v.SetDefault("UPLOAD_TIMEOUT", cfg.Upload.Timeout)
	v.SetDefault("S3_ENDPOINT", cfg.Upload.S3.Endpoint)
	v.SetDefault("S3_REGION", cfg.Upload.S3.Region)
	v.SetDefault("S3_BUCKET", cfg.Upload.S3.Bucket)
	v.SetDefault("S3_PREFIX", cfg.Upload.S3.Prefix)
	v.SetDefault("S3_ACCESS_KEY_ID", cfg.Upload.S3.AccessKeyID)
	v.SetDefault("S3_SECRET_ACCESS_KEY", cfg.Upload.S3.SecretAccessKey)
	v.SetDefault("S3_USE_PATH_STYLE", cfg.Upload.S3.UsePathStyle)

	v.AutomaticEnv()

	cfg.Server.Host = v.GetString("SERVER_HOST")
	cfg.Server.Port = v.GetInt("SERVER_PORT")
	cfg.Server.ReadTimeout = v.GetDuration("SERVER_READ_TIMEOUT")
	cfg.Server.WriteTimeout = v.GetDuration("SERVER_WRITE_TIMEOUT")
	cfg.Server.ShutdownTimeout = v.GetDuration("SERVER_SHUTDOWN_TIMEOUT")
	cfg.Camera.Mock = v.GetBool("CAMERA_MOCK")
	cfg.Camera.Mobile = v.GetBool("CAMERA_MOBILE")
	cfg.Camera.UserDevice = v.GetString("CAMERA_USER_DEVICE")
	cfg.Camera.EnvironmentDevice = v.GetString("CAMERA_ENVIRONMENT_DEVICE")
	cfg.Camera.FPS = v.GetInt("CAMERA_FPS")
	cfg.Store.BaseURL = v.GetString("STORE_BASE_URL")
	cfg.Store.Placeholder = v.GetString("STORE_PLACEHOLDER")
	cfg.Store.Timeout = v.GetDuration("STORE_TIMEOUT")
	cfg.Upload.Transport = v.GetString("UPLOAD_TRANSPORT")
	cfg.Upload.BatchDelay = v.GetDuration("UPLOAD_BATCH_DELAY")
	cfg.Upload.Timeout = v.GetDuration("UPLOAD_TIMEOUT")
	cfg.Upload.S3.Endpoint = v.GetString("S3_ENDPOINT")
	cfg.Upload.S3.Region = v.GetString("S3_REGION")
	cfg.Upload.S3.Bucket = v.GetString("S3_BUCKET")
	cfg.Upload.S3.Prefix = v.GetString("S3_PREFIX")
	cfg.Upload.S3.AccessKeyID = v.GetString("S3_ACCESS_KEY_ID")
	cfg.Upload.S3.SecretAccessKey = v.GetString("S3_SECRET_ACCESS_KEY")
	cfg.Upload.S3.UsePathStyle = v.GetBool("S3_USE_PATH_STYLE")
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		return errors.New("タイムアウトに負の値は指定できません")
	}

	// カメラ設定の検証
	if c.Camera.FPS <= 0 || c.Camera.PreviewFPS <= 0 {
		return fmt.Errorf("無効なフレームレート: fps=%d preview_fps=%d", c.Camera.FPS, c.Camera.PreviewFPS)
	}
	for _, q := range []int{c.Camera.PreviewQuality, c.Camera.StillQuality} {
		if q < 1 || q > 100 {
			return fmt.Errorf("無効なJPEG品質: %d", q)
		}
	}
	if !c.Camera.Mock && c.Camera.UserDevice == "" && c.Camera.EnvironmentDevice == "" {
		return errors.New("カメラデバイスが設定されていません")
	}

	// ストア設定の検証
	u, err := url.Parse(c.Store.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("無効なストアURL: %q", c.Store.BaseURL)
	}

	// アップロード設定の検証
	switch c.Upload.Transport {
	case TransportHTTP:
	case TransportS3:
		if c.Upload.S3.Bucket == "" {
			return errors.New("S3アップロードにはバケット名が必要です")
		}
	default:
		return fmt.Errorf("無効なアップロード方式: %q", c.Upload.Transport)
	}
	if c.Upload.BatchDelay < 0 {
		return fmt.Errorf("無効なバッチ間隔: %s", c.Upload.BatchDelay)
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// DeviceClass は端末種別を返す
func (c CameraConfig) DeviceClass() camera.DeviceClass {
	if c.Mobile {
		return camera.DeviceClassMobile
	}
	return camera.DeviceClassDesktop
}

// Session はカメラセッションの設定に変換する
func (c CameraConfig) Session() camera.SessionConfig {
	return camera.SessionConfig{
		PreviewWidth:   c.PreviewWidth,
		PreviewFPS:     c.PreviewFPS,
		PreviewQuality: c.PreviewQuality,
		StillQuality:   c.StillQuality,
		Enhancement:    camera.Enhancement{Brightness: c.Brightness, Contrast: c.Contrast},
		FocusTimeout:   c.FocusTimeout,
		FlashDuration:  c.FlashDuration,
	}
}

// V4L2 はUSBカメラの割り当て設定に変換する
func (c CameraConfig) V4L2() camera.V4L2Config {
	devices := make(map[camera.FacingMode]string)
	if c.UserDevice != "" {
		devices[camera.FacingUser] = c.UserDevice
	}
	if c.EnvironmentDevice != "" {
		devices[camera.FacingEnvironment] = c.EnvironmentDevice
	}
	return camera.V4L2Config{Devices: devices, FPS: c.FPS}
}

// Transport はS3接続設定に変換する
func (s S3Config) Transport() upload.S3Config {
	return upload.S3Config{
		Endpoint:        s.Endpoint,
		Region:          s.Region,
		Bucket:          s.Bucket,
		Prefix:          s.Prefix,
		AccessKeyID:     s.AccessKeyID,
		SecretAccessKey: s.SecretAccessKey,
		UsePathStyle:    s.UsePathStyle,
	}
}
