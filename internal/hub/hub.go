package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/WillKirkmanM/draw/internal/protocol"
)

// 事件类型，对应 Hub 事件循环处理的三种输入。
const (
	eventRegister   = "register"
	eventUnregister = "unregister"
	eventFrame      = "frame"
)

// event 是 Hub 内部通道传递的事件。
type event struct {
	kind   string
	client *Client
	frame  []byte // 仅 eventFrame 使用：原始 WebSocket 帧
}

// Hub 是中继服务器的核心：维护房间成员并在房间内转发消息。
// 它不持有任何文档状态，载荷只按信封转发、从不改写。
//
// 所有注册/注销/入站帧都流经同一个事件通道，由 Run 单线程处理，
// 因此一次广播相对其他入站事件是原子的，注册表不需要额外的同步
// （Registry 自带的锁只为 /stats 这样的旁路读取服务）。
type Hub struct {
	events   chan event
	registry *Registry

	// 所有已注册的连接，含尚未进入房间的。只在事件循环中读写。
	conns map[*Client]bool

	// 房间 id 生成器，默认取 uuid v4 的前 8 个十六进制字符。
	// 不做碰撞检查：在这个 id 空间下碰撞概率视为可忽略。
	newRoomID func() string

	done     chan struct{}
	stopOnce sync.Once
}

// NewHub 创建 Hub 实例。
func NewHub(registry *Registry) *Hub {
	if registry == nil {
		panic("Registry cannot be nil for Hub")
	}
	return &Hub{
		events:    make(chan event, 512),
		registry:  registry,
		conns:     make(map[*Client]bool),
		newRoomID: defaultRoomID,
		done:      make(chan struct{}),
	}
}

func defaultRoomID() string {
	return uuid.New().String()[:8]
}

// Run 启动 Hub 的事件循环，应在单独的 goroutine 中运行。
// 循环同时驱动心跳扫描，直到 Stop 被调用。
func (h *Hub) Run() {
	log := logrus.WithField("component", "hub")
	log.Info("Hub is running")

	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev := <-h.events:
			switch ev.kind {
			case eventRegister:
				h.registerClient(ev.client)
			case eventUnregister:
				h.unregisterClient(ev.client)
			case eventFrame:
				h.handleFrame(ev.client, ev.frame)
			default:
				log.Warnf("Unknown hub event kind: %s", ev.kind)
			}
		case <-ticker.C:
			h.sweepDeadConnections()
		case <-h.done:
			log.Info("Hub is shutting down")
			return
		}
	}
}

// Stop 终止事件循环。已有连接的泵各自随连接关闭退出。
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Register 请求注册一个新连接 (非阻塞)。
// 返回 false 表示事件队列已满，调用方应关闭该连接。
func (h *Hub) Register(c *Client) bool {
	select {
	case h.events <- event{kind: eventRegister, client: c}:
		return true
	default:
		logrus.WithField("component", "hub").Warn("Hub event channel full, rejecting registration")
		return false
	}
}

// Counts 返回当前房间数和房间内连接数，供 /stats 使用。
func (h *Hub) Counts() (rooms, clients int) {
	return h.registry.Counts()
}

// enqueue 把事件放入处理队列 (非阻塞)。队列满时丢弃并记录。
// 只用于可丢弃的入站帧；注销必须走 enqueueUnregister。
func (h *Hub) enqueue(ev event) {
	select {
	case h.events <- ev:
	default:
		logrus.WithFields(logrus.Fields{
			"component":  "hub",
			"event_kind": ev.kind,
		}).Warn("Hub event channel full, dropping event")
	}
}

// enqueueUnregister 阻塞投递注销事件，直到送达或 Hub 停止。
// 注销不允许丢弃：丢一次，连接就永远留在 conns 和房间成员集合里。
func (h *Hub) enqueueUnregister(c *Client) {
	select {
	case h.events <- event{kind: eventUnregister, client: c}:
	case <-h.done:
	}
}

// --- 以下方法只在事件循环中调用 ---

// registerClient 记录一个刚升级完成、尚未进入房间的连接，并发送欢迎帧。
func (h *Hub) registerClient(c *Client) {
	if c == nil {
		logrus.WithField("component", "hub").Error("Attempted to register a nil client")
		return
	}
	h.conns[c] = true

	welcome, err := json.Marshal(protocol.Welcome{
		Type:    protocol.TypeWelcome,
		Message: "Connected to draw relay",
	})
	if err == nil {
		c.queueSend(welcome)
	}
	logrus.WithFields(logrus.Fields{
		"component": "hub",
		"remote":    c.remoteAddr(),
	}).Info("Client registered")
}

// unregisterClient 处理连接关闭：退出所在房间并关闭发送通道。
func (h *Hub) unregisterClient(c *Client) {
	if c == nil || !h.conns[c] {
		return
	}
	delete(h.conns, c)
	h.leaveRoom(c)
	close(c.send)
	logrus.WithFields(logrus.Fields{
		"component": "hub",
		"client_id": c.clientID,
	}).Info("Client unregistered")
}

// leaveRoom 把连接从所在房间移除并通知剩余成员。
// 房间因此变空时由 Registry 负责移除房间条目。
func (h *Hub) leaveRoom(c *Client) {
	if c.roomID == "" {
		return
	}
	roomID := c.roomID
	c.roomID = ""

	if !h.registry.Remove(roomID, c) {
		return
	}
	left, err := json.Marshal(protocol.UserLeft{
		Type:     protocol.TypeUserLeft,
		ClientID: c.clientID,
	})
	if err != nil {
		return
	}
	for _, member := range h.registry.Members(roomID) {
		member.queueSend(left)
	}
	logrus.WithFields(logrus.Fields{
		"component": "hub",
		"room_id":   roomID,
		"client_id": c.clientID,
	}).Info("Client left room")
}

// handleFrame 按信封分发一条入站消息。
// 格式错误的 JSON 记录后丢弃，连接保持打开；未知类型同样只记录。
func (h *Hub) handleFrame(c *Client, frame []byte) {
	env, err := protocol.ParseEnvelope(frame)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"component": "hub",
			"remote":    c.remoteAddr(),
		}).WithError(err).Warn("Dropping malformed message")
		return
	}

	switch env.Type {
	case protocol.TypeCreateRoom:
		h.handleCreateRoom(c, env)
	case protocol.TypeJoinRoom:
		h.handleJoinRoom(c, env)
	case protocol.TypeCursorUpdate,
		protocol.TypeSyncState,
		protocol.TypeBatchChanges,
		protocol.TypeShapeAdded,
		protocol.TypeShapeUpdated,
		protocol.TypeShapeDeleted:
		h.forward(c, frame)
	default:
		logrus.WithFields(logrus.Fields{
			"component":    "hub",
			"message_type": env.Type,
		}).Warn("Unknown message type, ignoring")
	}
}

// handleCreateRoom 生成一个新房间并把连接注册进去。
func (h *Hub) handleCreateRoom(c *Client, env protocol.Envelope) {
	// 连接已绑定房间时先显式退出旧房间，不允许悬挂的旧成员资格。
	h.leaveRoom(c)

	roomID := h.newRoomID()
	c.clientID = env.ClientID
	c.roomID = roomID
	h.registry.Add(roomID, c)

	reply, err := json.Marshal(protocol.RoomCreated{
		Type:   protocol.TypeRoomCreated,
		RoomID: roomID,
	})
	if err != nil {
		logrus.WithField("component", "hub").WithError(err).Error("Failed to marshal room_created")
		return
	}
	c.queueSend(reply)
	logrus.WithFields(logrus.Fields{
		"component": "hub",
		"room_id":   roomID,
		"client_id": c.clientID,
	}).Info("Room created")
}

// handleJoinRoom 把连接加入指定房间。
// 房间不存在则隐式创建。加入后广播 user_joined，并向恰好一个
// 现有成员发送 sync_request；新成员被动等待 sync_state。
func (h *Hub) handleJoinRoom(c *Client, env protocol.Envelope) {
	if env.RoomID == "" {
		logrus.WithField("component", "hub").Warn("join_room without roomId, dropping")
		return
	}
	// 重复 join_room：先退出旧房间再加入新房间，
	// 避免连接在旧房间的成员集合里泄漏。
	h.leaveRoom(c)

	c.clientID = env.ClientID
	c.roomID = env.RoomID

	// 先取现有成员快照再注册，快照天然不含新成员。
	existing := h.registry.Members(env.RoomID)
	h.registry.Add(env.RoomID, c)

	joined, err := json.Marshal(protocol.UserJoined{
		Type:     protocol.TypeUserJoined,
		ClientID: c.clientID,
	})
	if err == nil {
		for _, member := range existing {
			member.queueSend(joined)
		}
	}

	if len(existing) > 0 {
		syncReq, err := json.Marshal(protocol.SyncRequest{
			Type:        protocol.TypeSyncRequest,
			RequesterID: c.clientID,
		})
		if err == nil {
			existing[0].queueSend(syncReq)
		}
	}

	logrus.WithFields(logrus.Fields{
		"component": "hub",
		"room_id":   env.RoomID,
		"client_id": c.clientID,
		"members":   len(existing) + 1,
	}).Info("Client joined room")
}

// forward 把原始帧原样转发给发送者所在房间的其他全部成员。
// 未进入房间的连接发来的可转发消息直接丢弃。
func (h *Hub) forward(c *Client, frame []byte) {
	if c.roomID == "" {
		logrus.WithField("component", "hub").Debug("Forwardable message from roomless connection, dropping")
		return
	}
	for _, member := range h.registry.Others(c.roomID, c) {
		member.queueSend(frame)
	}
}

// sweepDeadConnections 实现心跳检测：上个周期内没有 pong 过的连接
// 被强制终止，其余连接在被标记为未存活的同一轮里收到 ping 请求，
// 因此每个连接都有完整的一个周期来应答。
// 成员清理随被终止连接的读泵退出走正常的注销路径。
func (h *Hub) sweepDeadConnections() {
	for c := range h.conns {
		if !c.isAlive.Swap(false) {
			logrus.WithFields(logrus.Fields{
				"component": "hub",
				"client_id": c.clientID,
			}).Warn("Heartbeat missed, terminating connection")
			c.terminate()
			continue
		}
		c.requestPing()
	}
}
