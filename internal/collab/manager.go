package collab

import (
	"crypto/rand"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/WillKirkmanM/draw/internal/protocol"
	"github.com/WillKirkmanM/draw/internal/shape"
)

// Options 配置协作会话。除 URL 外全部可选。
type Options struct {
	// URL 是中继服务器的 ws:// 地址。
	URL string
	// Room 非空时，连接建立后自动加入该房间（通常来自分享链接）。
	Room string
	// Document 为 nil 时使用内存文档。
	Document DocumentStore
	// Events 是向宿主 UI 的通知回调。
	Events Events

	ReconnectDelay    time.Duration
	FlushInterval     time.Duration
	CursorInterval    time.Duration
	MaxPendingChanges int
}

// Manager 把 Transport、Batcher、Reconciler 组装成一个协作会话。
// 每个会话在构造时生成随机 clientId，生命周期内不变。
//
// Manager 自身实现 sender：Batcher 和 Reconciler 通过它访问
// 连接状态和房间标识，不直接依赖 Transport。
type Manager struct {
	clientID  string
	doc       DocumentStore
	events    Events
	transport *Transport
	batcher   *Batcher
	reconcile *Reconciler

	mu       sync.RWMutex
	roomID   string
	joinRoom string

	runOnce sync.Once
	log     *logrus.Entry
}

// NewManager 创建协作会话，不发起连接。调用 Connect 开始。
func NewManager(opts Options) *Manager {
	if opts.URL == "" {
		panic("URL cannot be empty for Manager")
	}
	doc := opts.Document
	if doc == nil {
		doc = NewMemoryDocument()
	}
	m := &Manager{
		clientID: newClientID(),
		doc:      doc,
		events:   opts.Events,
		joinRoom: opts.Room,
		log:      logrus.WithField("component", "collab"),
	}
	m.reconcile = NewReconciler(m.clientID, doc, m, opts.Events)
	m.batcher = NewBatcher(m, BatcherOptions{
		FlushInterval:     opts.FlushInterval,
		CursorInterval:    opts.CursorInterval,
		MaxPendingChanges: opts.MaxPendingChanges,
	})
	m.transport = NewTransport(TransportOptions{
		URL:            opts.URL,
		ReconnectDelay: opts.ReconnectDelay,
		OnMessage:      m.handleMessage,
		OnOpen:         m.handleOpen,
		OnStatusChange: m.handleStatusChange,
	})
	m.log = m.log.WithField("client_id", m.clientID)
	return m
}

// clientIdAlphabet 与前端生成的 id 格式保持一致：user_ 前缀加 9 个 base36 字符。
const clientIdAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

func newClientID() string {
	buf := make([]byte, 9)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	for i, b := range buf {
		buf[i] = clientIdAlphabet[int(b)%len(clientIdAlphabet)]
	}
	return "user_" + string(buf)
}

// Connect 发起连接并启动批处理循环。可重复调用，只生效一次。
func (m *Manager) Connect() {
	m.runOnce.Do(func() {
		go m.batcher.Run()
		m.transport.Connect()
	})
}

// Close 终止会话：停止批处理循环并关闭连接，不再重连。
func (m *Manager) Close() error {
	m.batcher.Stop()
	return m.transport.Close()
}

// ClientID 返回会话的固定客户端标识。
func (m *Manager) ClientID() string { return m.clientID }

// Connected 报告当前与中继服务器的连接状态。
func (m *Manager) Connected() bool { return m.transport.Connected() }

// RoomID 返回当前房间 id，未入房时为空。
func (m *Manager) RoomID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.roomID
}

// Send 把任意消息编码后写入连接，满足 sender 接口。
func (m *Manager) Send(v interface{}) error {
	return m.transport.Send(v)
}

// Document 返回会话操作的文档。
func (m *Manager) Document() DocumentStore { return m.doc }

// Collaborators 返回当前协作者表的快照。
func (m *Manager) Collaborators() []Collaborator {
	return m.reconcile.Collaborators()
}

// CreateRoom 请求服务器创建新房间。房间 id 通过 OnRoomCreated 回调返回。
func (m *Manager) CreateRoom() error {
	return m.Send(protocol.CreateRoom{
		Type:     protocol.TypeCreateRoom,
		ClientID: m.clientID,
	})
}

// JoinRoom 请求加入指定房间。房间不存在时服务器会隐式创建。
func (m *Manager) JoinRoom(roomID string) error {
	if err := m.Send(protocol.JoinRoom{
		Type:     protocol.TypeJoinRoom,
		RoomID:   roomID,
		ClientID: m.clientID,
	}); err != nil {
		return err
	}
	m.setRoomID(roomID)
	return nil
}

// QueueAdd / QueueUpdate / QueueDelete 把本地变更交给批处理器。
func (m *Manager) QueueAdd(s shape.Shape) error    { return m.batcher.QueueAdd(s) }
func (m *Manager) QueueUpdate(s shape.Shape) error { return m.batcher.QueueUpdate(s) }
func (m *Manager) QueueDelete(shapeID string) error {
	return m.batcher.QueueDelete(shapeID)
}

// UpdateCursor 上报本地光标位置，按节流间隔丢弃过密的调用。
func (m *Manager) UpdateCursor(x, y float64) {
	m.batcher.SendCursor(x, y)
}

// ShareableLink 基于给定的页面地址生成带房间参数的分享链接。
func (m *Manager) ShareableLink(base string) (string, error) {
	roomID := m.RoomID()
	if roomID == "" {
		return "", ErrNoRoom
	}
	return ShareableLink(base, roomID)
}

func (m *Manager) setRoomID(roomID string) {
	m.mu.Lock()
	m.roomID = roomID
	m.mu.Unlock()
}

// handleOpen 在每次连接建立后触发。如果已有房间（重连）或配置了
// 初始房间（分享链接入口），重新发送 join_room 恢复会话。
func (m *Manager) handleOpen() {
	roomID := m.RoomID()
	if roomID == "" {
		roomID = m.joinRoom
	}
	if roomID == "" {
		return
	}
	if err := m.JoinRoom(roomID); err != nil {
		m.log.WithError(err).WithField("room_id", roomID).Warn("Failed to re-join room after connect")
	}
}

func (m *Manager) handleStatusChange(connected bool) {
	if m.events.OnConnectionChange != nil {
		m.events.OnConnectionChange(connected)
	}
}

// handleMessage 先拦截会话级消息，其余交给 Reconciler。
func (m *Manager) handleMessage(raw []byte) {
	env, err := protocol.ParseEnvelope(raw)
	if err != nil {
		m.log.WithError(err).Warn("Dropping malformed inbound message")
		return
	}
	if env.Type == protocol.TypeRoomCreated {
		var msg protocol.RoomCreated
		if err := json.Unmarshal(raw, &msg); err != nil {
			m.log.WithError(err).Warn("Malformed room_created")
			return
		}
		m.setRoomID(msg.RoomID)
		m.log.WithField("room_id", msg.RoomID).Info("Room created by relay")
		if m.events.OnRoomCreated != nil {
			m.events.OnRoomCreated(msg.RoomID)
		}
		return
	}
	m.reconcile.HandleMessage(raw)
}
