package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/WillKirkmanM/draw/internal/hub"
)

// Handler 负责把 HTTP 请求升级为 WebSocket 并向 Hub 注册客户端。
// 房间的创建和加入都发生在升级后的连接上，这里不做任何房间校验。
type Handler struct {
	upgrader websocket.Upgrader
	hub      *hub.Hub
}

// NewHandler 创建 Handler 实例。
// allowedOrigin 为空串时接受任意来源（客户端 id 本身就不做认证，
// 连接来源这一层也同样宽松；生产部署可通过配置收紧）。
func NewHandler(h *hub.Hub, allowedOrigin string) *Handler {
	if h == nil {
		panic("Hub cannot be nil for websocket Handler")
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if allowedOrigin == "" {
				return true
			}
			return r.Header.Get("Origin") == allowedOrigin
		},
	}
	return &Handler{
		upgrader: upgrader,
		hub:      h,
	}
}

// HandleConnection 处理 GET /ws 的升级请求。
func (h *Handler) HandleConnection(c *gin.Context) {
	logCtx := logrus.WithFields(logrus.Fields{
		"component": "ws_handler",
		"remote":    c.ClientIP(),
	})

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 失败时已经写回了 HTTP 错误响应，这里只记录。
		logCtx.WithError(err).Error("Failed to upgrade connection")
		return
	}

	client := hub.NewClient(h.hub, conn)
	if !h.hub.Register(client) {
		logCtx.Error("Hub rejected registration, closing connection")
		_ = conn.Close()
		return
	}
	client.Run()
	logCtx.Info("Connection upgraded, client pumps started")
}
