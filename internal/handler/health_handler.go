package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Health 处理 GET /healthz，uploader 的连通性探测依赖它返回 200。
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "ok", "data": gin.H{"time": time.Now().Unix()}})
}
