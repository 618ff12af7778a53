package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"vehiclecam/internal/camera"
	"vehiclecam/internal/config"
	"vehiclecam/internal/remote"
	"vehiclecam/internal/upload"
	"vehiclecam/internal/workflow"
)

// Deps はハンドラが使うサービス群
type Deps struct {
	Session  *camera.Session
	Registry *workflow.Registry
	Pipeline *upload.Pipeline
	Gallery  *remote.Client
	Sheet    *workflow.SheetComposer
}

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	deps       Deps
	log        *zap.Logger
	engine     *gin.Engine
	httpServer *http.Server
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, deps Deps, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if deps.Sheet == nil {
		deps.Sheet = workflow.NewSheetComposer(1280, 960, 90)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(log))

	s := &Server{
		config: cfg,
		deps:   deps,
		log:    log,
		engine: engine,
		httpServer: &http.Server{
			Addr:         cfg.ServerAddress(),
			Handler:      engine,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}
	s.setupRoutes()
	return s
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	h := &handler{deps: s.deps, config: s.config, log: s.log}

	// ヘルスチェックエンドポイント
	s.engine.GET("/health", h.health)
	s.engine.GET("/static/placeholder.svg", servePlaceholder)

	api := s.engine.Group("/api")
	api.GET("/status", h.status)

	cam := api.Group("/camera")
	{
		cam.POST("/open", h.openCamera)
		cam.POST("/capture", h.capture)
		cam.POST("/zoom", h.zoom)
		cam.POST("/focus", h.focus)
		cam.POST("/switch", h.switchFacing)
		cam.POST("/close", h.closeCamera)
		cam.GET("/stream", h.stream)
	}

	vehicles := api.Group("/vehicles/:id")
	{
		vehicles.POST("/session", h.openWorkflow)
		vehicles.GET("/session", h.workflowStatus)
		vehicles.DELETE("/session", h.closeWorkflow)
		vehicles.POST("/review/close", h.closeReview)
		vehicles.POST("/views/:view/select", h.selectView)
		vehicles.POST("/views/:view/edit", h.startEdit)
		vehicles.POST("/views/:view/review", h.openReview)
		vehicles.DELETE("/views/:view", h.deletePhoto)
		vehicles.GET("/views/:view/image", h.photo)
		vehicles.POST("/views/:view/upload", h.uploadOne)
		vehicles.GET("/sheet", h.sheet)
		vehicles.POST("/upload", h.uploadAll)
	}

	gallery := api.Group("/gallery")
	{
		gallery.GET("/folders", h.folders)
		gallery.GET("/folders/:folder/vehicles", h.galleryVehicles)
		gallery.GET("/vehicles/:id/images", h.galleryImages)
	}
}

// requestLogger はリクエストIDを付けてアクセスログを出す
func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)

		c.Next()

		log.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// Start はサーバーを起動し、ctxがキャンセルされるまで待つ
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("サーバーの起動に失敗: %w", err)
	}

	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		s.log.Info("HTTPサーバーを起動しています", zap.String("addr", listener.Addr().String()))
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		s.log.Info("停止要求を受信しました")
	case err := <-shutdownCh:
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンし、カメラを解放する
func (s *Server) Shutdown() error {
	s.log.Info("サーバーをシャットダウンしています")

	timeout := s.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	if s.deps.Session != nil {
		if cerr := s.deps.Session.Close(); cerr != nil {
			s.log.Warn("カメラの解放に失敗しました", zap.Error(cerr))
		}
	}
	if err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	s.log.Info("サーバーが正常にシャットダウンされました")
	return nil
}
