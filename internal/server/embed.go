package server

import (
	_ "embed"
	"net/http"

	"github.com/gin-gonic/gin"
)

// 画像URLを決められない場合に表示する代替画像
//
//go:embed static/placeholder.svg
var placeholderSVG []byte

// servePlaceholder は埋め込みの代替画像を返す
func servePlaceholder(c *gin.Context) {
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, "image/svg+xml", placeholderSVG)
}
