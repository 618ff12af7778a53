// Package cmd はvehiclecamのコマンドラインを定義する
package cmd

import (
	"context"
	"fmt"
	"net/http"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vehiclecam/internal/camera"
	"vehiclecam/internal/config"
	"vehiclecam/internal/logger"
	"vehiclecam/internal/upload"
)

// rootOptions は全サブコマンド共通のフラグ
type rootOptions struct {
	configPath string
	debug      bool
}

// NewRootCmd はルートコマンドを作成する
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "vehiclecam",
		Short: "Four-view vehicle photo capture station",
		Long: `vehiclecam runs a capture station that photographs a vehicle from four
fixed views (front, left side, rear, right side) and uploads the set to a
remote image store.

It also includes tools to upload photos from disk, browse the remote store
and list local camera devices.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// .env があれば読み込む (無ければ無視)
			_ = godotenv.Load()
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML config file")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(
		newServeCmd(opts),
		newUploadCmd(opts),
		newGalleryCmd(opts),
		newDevicesCmd(),
	)

	return cmd
}

// load は設定とロガーを準備する
func (o *rootOptions) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.Build(o.debug)
	if err != nil {
		return nil, nil, fmt.Errorf("ロガーの作成に失敗: %w", err)
	}
	return cfg, log, nil
}

// newPipeline は設定されたアップロード先のPipelineを作成する
func newPipeline(ctx context.Context, cfg *config.Config, log *zap.Logger) (*upload.Pipeline, error) {
	var transport upload.Transport
	switch cfg.Upload.Transport {
	case config.TransportS3:
		s3cfg := cfg.Upload.S3.Transport()
		client, err := upload.NewS3Client(ctx, s3cfg)
		if err != nil {
			return nil, err
		}
		transport = upload.NewS3Transport(client, s3cfg.Bucket, s3cfg.Prefix)
	default:
		t, err := upload.NewHTTPTransport(cfg.Store.BaseURL, &http.Client{Timeout: cfg.Upload.Timeout})
		if err != nil {
			return nil, err
		}
		transport = t
	}

	return upload.NewPipeline(transport,
		upload.WithBatchDelay(cfg.Upload.BatchDelay),
		upload.WithLogger(log.Named("upload"))), nil
}

// newProvider はカメラのProviderを作成する
func newProvider(cfg *config.Config, log *zap.Logger) camera.Provider {
	if cfg.Camera.Mock {
		log.Info("モックカメラを使用します")
		return camera.NewMockProvider()
	}
	return camera.NewV4L2Provider(cfg.Camera.V4L2(), camera.NewLinuxDiscovery(), log.Named("v4l2"))
}
