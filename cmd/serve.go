package cmd

import (
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vehiclecam/internal/camera"
	"vehiclecam/internal/remote"
	"vehiclecam/internal/server"
	"vehiclecam/internal/urlresolver"
	"vehiclecam/internal/vehicle"
	"vehiclecam/internal/workflow"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		host       string
		port       int
		mockCamera bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the capture station API",
		Long: `Starts the capture station HTTP API.

The station owns one camera, tracks the capture progress of each vehicle
and uploads complete four-view sets to the remote image store.`,
		Example: `  # Start with the configured V4L2 cameras
  vehiclecam serve

  # Start on a custom port with a synthetic camera
  vehiclecam serve --port 3000 --mock-camera`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			// コマンドラインオプションで設定を上書き
			if host != "" {
				cfg.Server.Host = host
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			if mockCamera {
				cfg.Camera.Mock = true
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := cmd.Context()

			pipeline, err := newPipeline(ctx, cfg, log)
			if err != nil {
				return err
			}

			resolver, err := urlresolver.New(cfg.Store.BaseURL)
			if err != nil {
				return err
			}
			resolver.Placeholder = cfg.Store.Placeholder
			gallery, err := remote.NewClient(cfg.Store.BaseURL, resolver,
				&http.Client{Timeout: cfg.Store.Timeout}, log.Named("remote"))
			if err != nil {
				return err
			}

			events := log.Named("workflow")
			registry := workflow.NewRegistry(func(id vehicle.ID, e workflow.Event) {
				fields := []zap.Field{zap.String("vehicle", id.String()), zap.String("event", string(e.Kind))}
				if e.View.Valid() {
					fields = append(fields, zap.String("view", e.View.Tag()))
				}
				events.Info("ワークフローイベント", fields...)
			}, events)

			session := camera.NewSession(newProvider(cfg, log), cfg.Camera.Session(), log.Named("camera"))

			srv := server.New(cfg, server.Deps{
				Session:  session,
				Registry: registry,
				Pipeline: pipeline,
				Gallery:  gallery,
			}, log.Named("server"))

			log.Info("撮影ステーションを起動します",
				zap.String("addr", cfg.ServerAddress()),
				zap.String("device_class", cfg.Camera.DeviceClass().String()),
				zap.String("upload", cfg.Upload.Transport))
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Host to listen on (default from config)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (default from config)")
	cmd.Flags().BoolVar(&mockCamera, "mock-camera", false, "Use a synthetic camera instead of V4L2 devices")

	return cmd
}
