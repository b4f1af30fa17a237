package hub

import (
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// 向对端写一条消息允许的时间。
	writeWait = 10 * time.Second

	// 心跳周期：Hub 的扫描每 30 秒标记并 ping 一次所有连接。
	heartbeatPeriod = 30 * time.Second

	// 等待下一个 pong 的时间，必须大于心跳周期。
	pongWait = heartbeatPeriod * 2

	// 对端单条消息的大小上限。sync_state 可能携带整个文档
	// （pencil 点序列、image 的 data URL），所以远大于普通聊天服务。
	maxMessageSize = 1 << 20

	// 每个客户端发送队列的缓冲长度。
	sendBufferSize = 256
)

// Client 代表一个连接到中继服务器的 WebSocket 客户端。
//
// clientID 和 roomID 只在 Hub 的事件循环中读写（见 hub.go），
// 读写泵不触碰它们；泵里的日志用远端地址标识连接。
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// 向此客户端发送消息的缓冲通道，由 Hub 在注销时关闭。
	send chan []byte

	// 心跳探测请求。标记和 ping 必须发生在同一轮扫描中，
	// 这样每个连接都有完整的一个心跳周期来应答 pong；
	// 扫描在这里投递请求，写泵负责把 ping 帧落到连接上。
	ping chan struct{}

	// 客户端自报的身份和所在房间。连接生命周期内最多绑定一个房间；
	// 重复 join_room 由 Hub 先显式退出旧房间（见 handleJoinRoom）。
	clientID string
	roomID   string

	// 心跳标记：pong 处理器置 true（读泵 goroutine），
	// 心跳扫描置 false（Hub 事件循环），因此必须是原子量。
	isAlive atomic.Bool
}

// NewClient 创建一个尚未进入任何房间的 Client。
func NewClient(h *Hub, conn *websocket.Conn) *Client {
	c := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		ping: make(chan struct{}, 1),
	}
	c.isAlive.Store(true)
	return c
}

// Run 启动客户端的读写泵。
func (c *Client) Run() {
	go c.writePump()
	go c.readPump()
}

// queueSend 把一帧放入发送队列 (非阻塞)。
// 队列满说明客户端处理缓慢或已断开，丢弃这一帧并交给泵处理后续。
func (c *Client) queueSend(frame []byte) {
	select {
	case c.send <- frame:
	default:
		logrus.WithFields(logrus.Fields{
			"component": "hub",
			"remote":    c.remoteAddr(),
		}).Warn("Client send channel full, dropping frame")
	}
}

// requestPing 请求写泵发送一个 ping 帧 (非阻塞)。
func (c *Client) requestPing() {
	select {
	case c.ping <- struct{}{}:
	default:
	}
}

// terminate 强制关闭底层连接，读写泵随之退出并触发注销。
func (c *Client) terminate() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func (c *Client) remoteAddr() string {
	if c.conn == nil {
		return "?"
	}
	return c.conn.RemoteAddr().String()
}

// readPump 把 WebSocket 帧泵入 Hub 的事件通道。
// 每个连接一个 goroutine；退出时请求 Hub 注销此客户端。
func (c *Client) readPump() {
	logCtx := logrus.WithFields(logrus.Fields{
		"component": "hub",
		"remote":    c.remoteAddr(),
	})
	defer func() {
		c.hub.enqueueUnregister(c)
		_ = c.conn.Close()
		logCtx.Debug("readPump exited")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.isAlive.Store(true)
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logCtx.WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				logCtx.Debug("WebSocket connection closed")
			}
			return
		}
		if messageType != websocket.TextMessage {
			logCtx.Debugf("Ignoring non-text message type %d", messageType)
			continue
		}
		c.hub.enqueue(event{kind: eventFrame, client: c, frame: frame})
	}
}

// writePump 把发送队列中的帧写到 WebSocket 连接，
// 并响应 Hub 扫描投递的 ping 请求。
func (c *Client) writePump() {
	logCtx := logrus.WithFields(logrus.Fields{
		"component": "hub",
		"remote":    c.remoteAddr(),
	})
	defer func() {
		_ = c.conn.Close()
		logCtx.Debug("writePump exited")
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub 在注销时关闭了发送通道。
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				logCtx.WithError(err).Warn("Failed to write frame to websocket")
				return
			}
		case <-c.ping:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logCtx.WithError(err).Warn("Failed to send ping")
				return
			}
		}
	}
}
