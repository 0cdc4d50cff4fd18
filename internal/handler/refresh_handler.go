package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"kazakh-hub/internal/middleware"
	"kazakh-hub/internal/realtime"
	"kazakh-hub/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// RefreshHandler 把 /ws/refresh 连接交给广播中心。
type RefreshHandler struct {
	hub *realtime.Hub
}

// NewRefreshHandler 创建一个新的 RefreshHandler 实例。
func NewRefreshHandler(hub *realtime.Hub) *RefreshHandler {
	return &RefreshHandler{hub: hub}
}

// Handle 升级连接并阻塞直到连接关闭。
func (h *RefreshHandler) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Errorf("[RefreshHandler] WebSocket 升级失败: %v", err)
		return
	}
	h.hub.Serve(conn, middleware.Author(c))
}
