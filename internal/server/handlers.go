package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vehiclecam/internal/camera"
	"vehiclecam/internal/config"
	"vehiclecam/internal/vehicle"
	"vehiclecam/internal/workflow"
)

// handler はAPIエンドポイントの実装
type handler struct {
	deps   Deps
	config *config.Config
	log    *zap.Logger
}

// errorResponse はエラー応答
type errorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// health はヘルスチェックエンドポイント
func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
	})
}

// status はステータス確認エンドポイント
func (h *handler) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "running",
		"server": gin.H{
			"host": h.config.Server.Host,
			"port": h.config.Server.Port,
		},
		"camera":    h.deps.Session.Snapshot(),
		"vehicles":  h.deps.Registry.IDs(),
		"timestamp": time.Now(),
	})
}

type openRequest struct {
	Facing camera.FacingMode `json:"facing"`
}

// openCamera は端末種別に応じた方針でカメラを開く
func (h *handler) openCamera(c *gin.Context) {
	var req openRequest
	if c.Request.Body != nil && c.Request.Body != http.NoBody {
		// 空のボディ (チャンク転送を含む) は指定なしとして扱う
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			h.badRequest(c, err)
			return
		}
	}
	if req.Facing != "" && req.Facing != camera.FacingUser && req.Facing != camera.FacingEnvironment {
		h.badRequest(c, errors.New("facing must be user or environment"))
		return
	}

	class := h.config.Camera.DeviceClass()
	if class == camera.DeviceClassDesktop {
		class = camera.DetectDeviceClass(c.GetHeader("User-Agent"))
	}

	if err := h.deps.Session.Open(c.Request.Context(), req.Facing, camera.PolicyFor(class)); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.deps.Session.Snapshot())
}

type captureRequest struct {
	Vehicle vehicle.ID `json:"vehicle" binding:"required"`
}

// capture は静止画を撮影して車両のアクティブビューに記録する
func (h *handler) capture(c *gin.Context) {
	var req captureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	wf, ok := h.deps.Registry.Get(req.Vehicle)
	if !ok {
		h.workflowNotFound(c, req.Vehicle)
		return
	}

	img, err := h.deps.Session.Capture(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	view, events, err := wf.CaptureActive(img)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"view":     view,
		"image_id": img.ID,
		"width":    img.Width,
		"height":   img.Height,
		"size":     img.Size(),
		"events":   nonNil(events),
		"session":  wf.Status(),
	})
}

type zoomRequest struct {
	Level float64 `json:"level"`
}

// zoom はズーム倍率を設定する
func (h *handler) zoom(c *gin.Context) {
	var req zoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	result, err := h.deps.Session.SetZoom(c.Request.Context(), req.Level)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type focusRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// focus はタップ位置で一度だけフォーカスを合わせる
func (h *handler) focus(c *gin.Context) {
	var req focusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	result, err := h.deps.Session.SetFocusPoint(c.Request.Context(), req.X, req.Y)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// switchFacing はカメラの向きを切り替える
func (h *handler) switchFacing(c *gin.Context) {
	if _, err := h.deps.Session.SwitchFacing(c.Request.Context()); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.deps.Session.Snapshot())
}

// closeCamera はカメラを解放する
func (h *handler) closeCamera(c *gin.Context) {
	if err := h.deps.Session.Close(); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.deps.Session.Snapshot())
}

// stream はプレビューをMJPEGストリームとして配信する
func (h *handler) stream(c *gin.Context) {
	if h.deps.Session.State() != camera.StateStreaming {
		h.respondError(c, camera.ErrNotStreaming)
		return
	}

	frames, unsubscribe := h.deps.Session.Subscribe()
	defer unsubscribe()

	// レスポンスヘッダーを設定
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	writer := c.Writer
	clientGone := c.Request.Context().Done()

	for {
		select {
		case <-clientGone:
			return
		case frame := <-frames:
			if _, err := writer.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
				return
			}
			if _, err := writer.Write(frame); err != nil {
				return
			}
			if _, err := writer.Write([]byte("\r\n")); err != nil {
				return
			}
			writer.Flush()
		}
	}
}

// respondError はエラーの種類に応じたステータスで応答する
func (h *handler) respondError(c *gin.Context, err error) {
	status, code, retryable := classify(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("リクエストの処理に失敗しました", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, errorResponse{
		Error:     code,
		Message:   err.Error(),
		Retryable: retryable,
		Timestamp: time.Now(),
	})
}

func (h *handler) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errorResponse{
		Error:     "invalid_request",
		Message:   err.Error(),
		Timestamp: time.Now(),
	})
}

func (h *handler) workflowNotFound(c *gin.Context, id vehicle.ID) {
	c.JSON(http.StatusNotFound, errorResponse{
		Error:     "session_not_found",
		Message:   "no capture session for vehicle " + id.String(),
		Timestamp: time.Now(),
	})
}

// classify はエラーをHTTPステータス・エラーコード・再試行可否に写像する
func classify(err error) (int, string, bool) {
	switch {
	case errors.Is(err, camera.ErrPermissionDenied):
		return http.StatusForbidden, "permission_denied", true
	case errors.Is(err, camera.ErrConstraintUnsatisfiable):
		return http.StatusUnprocessableEntity, "constraint_unsatisfiable", true
	case errors.Is(err, camera.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable, "device_unavailable", true
	case errors.Is(err, camera.ErrAlreadyStreaming):
		return http.StatusConflict, "already_streaming", false
	case errors.Is(err, camera.ErrNotStreaming):
		return http.StatusConflict, "not_streaming", false
	case errors.Is(err, camera.ErrBusy):
		return http.StatusConflict, "busy", true
	case errors.Is(err, camera.ErrClosed):
		return http.StatusConflict, "session_closed", true
	case errors.Is(err, camera.ErrDownsampled):
		return http.StatusInternalServerError, "capture_downsampled", true
	case errors.Is(err, vehicle.ErrInvalidID), errors.Is(err, vehicle.ErrInvalidView):
		return http.StatusBadRequest, "invalid_request", false
	case errors.Is(err, workflow.ErrNoPhoto), errors.Is(err, workflow.ErrEmptySheet):
		return http.StatusNotFound, "photo_not_found", false
	case errors.Is(err, workflow.ErrNoImage):
		return http.StatusUnprocessableEntity, "empty_image", false
	default:
		return http.StatusInternalServerError, "internal_error", false
	}
}

func nonNil(events []workflow.Event) []workflow.Event {
	if events == nil {
		return []workflow.Event{}
	}
	return events
}
