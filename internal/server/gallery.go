package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// folders はストアのフォルダ一覧を返す
// ストアの失敗は空の一覧と警告として200で返す
func (h *handler) folders(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Gallery.Folders(c.Request.Context()))
}

func (h *handler) galleryVehicles(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Gallery.Vehicles(c.Request.Context(), c.Param("folder")))
}

func (h *handler) galleryImages(c *gin.Context) {
	id, ok := h.vehicleParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.deps.Gallery.Images(c.Request.Context(), id))
}
