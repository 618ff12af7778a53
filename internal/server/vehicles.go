package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vehiclecam/internal/upload"
	"vehiclecam/internal/vehicle"
	"vehiclecam/internal/workflow"
)

// vehicleParam はパスの車両番号を解釈する
func (h *handler) vehicleParam(c *gin.Context) (vehicle.ID, bool) {
	id, err := vehicle.ParseID(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return 0, false
	}
	return id, true
}

// lookup は車両番号とワークフローを取得する
func (h *handler) lookup(c *gin.Context) (*workflow.Workflow, bool) {
	id, ok := h.vehicleParam(c)
	if !ok {
		return nil, false
	}
	wf, ok := h.deps.Registry.Get(id)
	if !ok {
		h.workflowNotFound(c, id)
		return nil, false
	}
	return wf, true
}

// lookupView はワークフローとパスのビューを取得する
func (h *handler) lookupView(c *gin.Context) (*workflow.Workflow, vehicle.ViewSlot, bool) {
	wf, ok := h.lookup(c)
	if !ok {
		return nil, vehicle.ViewUnset, false
	}
	view, err := vehicle.ParseViewSlot(c.Param("view"))
	if err != nil {
		h.respondError(c, err)
		return nil, vehicle.ViewUnset, false
	}
	return wf, view, true
}

// respondEvents は遷移の結果とワークフローの状態を返す
func (h *handler) respondEvents(c *gin.Context, wf *workflow.Workflow, events []workflow.Event, err error) {
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"events":  nonNil(events),
		"session": wf.Status(),
	})
}

// openWorkflow は車両の撮影を開始する。既にあればそのまま返す
func (h *handler) openWorkflow(c *gin.Context) {
	id, ok := h.vehicleParam(c)
	if !ok {
		return
	}
	wf, err := h.deps.Registry.Open(id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, wf.Status())
}

func (h *handler) workflowStatus(c *gin.Context) {
	wf, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, wf.Status())
}

// closeWorkflow は撮影済み写真ごとワークフローを破棄する
func (h *handler) closeWorkflow(c *gin.Context) {
	id, ok := h.vehicleParam(c)
	if !ok {
		return
	}
	if !h.deps.Registry.Close(id) {
		h.workflowNotFound(c, id)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) selectView(c *gin.Context) {
	wf, view, ok := h.lookupView(c)
	if !ok {
		return
	}
	h.respondEvents(c, wf, nil, wf.SelectView(view))
}

func (h *handler) startEdit(c *gin.Context) {
	wf, view, ok := h.lookupView(c)
	if !ok {
		return
	}
	events, err := wf.StartEdit(view)
	h.respondEvents(c, wf, events, err)
}

func (h *handler) openReview(c *gin.Context) {
	wf, view, ok := h.lookupView(c)
	if !ok {
		return
	}
	events, err := wf.OpenReview(view)
	h.respondEvents(c, wf, events, err)
}

func (h *handler) closeReview(c *gin.Context) {
	wf, ok := h.lookup(c)
	if !ok {
		return
	}
	h.respondEvents(c, wf, wf.CloseReview(), nil)
}

func (h *handler) deletePhoto(c *gin.Context) {
	wf, view, ok := h.lookupView(c)
	if !ok {
		return
	}
	events, err := wf.DeletePhoto(view)
	h.respondEvents(c, wf, events, err)
}

// photo は撮影済みの静止画を返す
func (h *handler) photo(c *gin.Context) {
	wf, view, ok := h.lookupView(c)
	if !ok {
		return
	}
	img, ok := wf.Photo(view)
	if !ok {
		h.respondError(c, workflow.ErrNoPhoto)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, img.MIMEType, img.Data)
}

// sheet は4方向の一覧画像を返す
func (h *handler) sheet(c *gin.Context) {
	wf, ok := h.lookup(c)
	if !ok {
		return
	}
	data, err := wf.ContactSheet(h.deps.Sheet)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/jpeg", data)
}

// uploadOne は1ビューだけをアップロードする
func (h *handler) uploadOne(c *gin.Context) {
	wf, view, ok := h.lookupView(c)
	if !ok {
		return
	}
	img, ok := wf.Photo(view)
	if !ok {
		h.respondError(c, workflow.ErrNoPhoto)
		return
	}

	outcome := h.deps.Pipeline.UploadOne(c.Request.Context(), img, wf.Vehicle(), view.Tag(), nil)
	outcome.View = view
	status := http.StatusOK
	if !outcome.Success {
		status = http.StatusBadGateway
	}
	c.JSON(status, outcome)
}

// progressEvent はSSEで送る進捗
type progressEvent struct {
	View    vehicle.ViewSlot `json:"view"`
	Percent int              `json:"percent"`
	Status  upload.Status    `json:"status"`
	Message string           `json:"message,omitempty"`
}

type sseMessage struct {
	name string
	data any
}

// uploadAll は4方向を順番にアップロードし、進捗をSSEで配信する
func (h *handler) uploadAll(c *gin.Context) {
	wf, ok := h.lookup(c)
	if !ok {
		return
	}
	if !wf.IsComplete() {
		missing := wf.Status().Missing
		tags := make([]string, 0, len(missing))
		for _, v := range missing {
			tags = append(tags, v.Tag())
		}
		c.JSON(http.StatusUnprocessableEntity, errorResponse{
			Error:     "missing_views",
			Message:   upload.ErrMissingViews.Error() + ": " + strings.Join(tags, ", "),
			Timestamp: time.Now(),
		})
		return
	}

	ctx := c.Request.Context()
	messages := make(chan sseMessage, 16)
	send := func(m sseMessage) {
		select {
		case messages <- m:
		case <-ctx.Done():
		}
	}

	id := wf.Vehicle()
	photos := wf.Photos()
	go func() {
		defer close(messages)
		result := h.deps.Pipeline.UploadAll(ctx, photos, id, func(view vehicle.ViewSlot, percent int, status upload.Status, message string) {
			send(sseMessage{name: "progress", data: progressEvent{View: view, Percent: percent, Status: status, Message: message}})
		})
		if result.Err != nil && !errors.Is(result.Err, upload.ErrMissingViews) {
			h.log.Warn("一括アップロードに失敗しました",
				zap.String("vehicle", id.String()),
				zap.String("message", result.Message),
				zap.Error(result.Err))
		}
		send(sseMessage{name: "result", data: result})
	}()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	for m := range messages {
		c.SSEvent(m.name, m.data)
		c.Writer.Flush()
	}
}
