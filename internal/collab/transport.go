package collab

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// 断线后重连前的固定等待。没有退避、没有次数上限：
	// 协作是尽力而为的功能，不是可靠投递系统。
	defaultReconnectDelay = 3 * time.Second

	// 单次写操作允许的时间。
	transportWriteWait = 10 * time.Second
)

// ErrNotConnected 表示当前没有可用的连接。
var ErrNotConnected = errors.New("collab: transport not connected")

// TransportOptions 配置 Transport。
type TransportOptions struct {
	// URL 是中继服务器的 ws:// 地址。
	URL string
	// ReconnectDelay 为零时使用默认的 3 秒。
	ReconnectDelay time.Duration
	// OnMessage 在读 goroutine 中按帧回调。
	OnMessage func(raw []byte)
	// OnOpen 在每次连接成功建立后回调（包括重连）。
	OnOpen func()
	// OnStatusChange 在 connected 标志翻转时回调。
	OnStatusChange func(connected bool)
}

// Transport 持有到中继服务器的唯一一条连接，并负责断线重连。
//
// 连接关闭（无论何种原因）后固定延迟重连，无限次重试；
// 读错误本身只记录，重连完全由关闭事件驱动。
// Close 之后已排定的重连不会再触发。
type Transport struct {
	url            string
	reconnectDelay time.Duration
	dialer         *websocket.Dialer

	onMessage func([]byte)
	onOpen    func()
	onStatus  func(bool)

	// mu 保护 conn、gen、reconnectTimer 和 closed。
	mu             sync.Mutex
	conn           *websocket.Conn
	reconnectTimer *time.Timer
	closed         bool

	// 连接代数，每次成功拨号递增。被替换的旧连接的读循环
	// 据此识别自己已经过期，不再改动连接状态或排定重连。
	gen uint64

	// gorilla 的连接只允许一个并发写者。
	writeMu sync.Mutex

	connected atomic.Bool

	log *logrus.Entry
}

// NewTransport 创建 Transport，不会立即拨号。
func NewTransport(opts TransportOptions) *Transport {
	delay := opts.ReconnectDelay
	if delay <= 0 {
		delay = defaultReconnectDelay
	}
	return &Transport{
		url:            opts.URL,
		reconnectDelay: delay,
		dialer:         websocket.DefaultDialer,
		onMessage:      opts.OnMessage,
		onOpen:         opts.OnOpen,
		onStatus:       opts.OnStatusChange,
		log:            logrus.WithField("component", "transport"),
	}
}

// Connected 报告当前是否有活跃连接。
func (t *Transport) Connected() bool {
	return t.connected.Load()
}

// Connect 建立到中继服务器的连接，已有连接会先被关闭。
// 拨号失败与连接断开走同一条重连路径。
func (t *Transport) Connect() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	// 显式 Connect 取代任何已排定的重连。
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
		t.reconnectTimer = nil
	}
	if t.conn != nil {
		// 替换现有连接：先让旧连接的读循环过期，再关闭它。
		t.gen++
		t.connected.Store(false)
		_ = t.conn.Close()
		t.conn = nil
	}
	t.mu.Unlock()

	conn, _, err := t.dialer.Dial(t.url, nil)
	if err != nil {
		t.log.WithError(err).Warn("Dial failed, scheduling reconnect")
		t.scheduleReconnect()
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = conn.Close()
		return
	}
	t.conn = conn
	t.gen++
	gen := t.gen
	t.mu.Unlock()

	t.connected.Store(true)
	t.log.Info("Connected to relay server")
	if t.onStatus != nil {
		t.onStatus(true)
	}
	if t.onOpen != nil {
		t.onOpen()
	}

	go t.readLoop(conn, gen)
}

// Close 永久关闭传输：停掉已排定的重连并断开连接。
func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
		t.reconnectTimer = nil
	}
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	t.connected.Store(false)
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Send 序列化并发送一条消息。没有确认，也没有重试。
func (t *Transport) Send(v interface{}) error {
	if !t.connected.Load() {
		return ErrNotConnected
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("collab: marshal outbound message: %w", err)
	}

	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(transportWriteWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop 逐帧读取并分发，直到连接关闭。
// 服务器的 ping 由 gorilla 的默认 ping 处理器自动回 pong。
func (t *Transport) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			// 错误只记录；后续动作由下面的关闭处理统一承担。
			t.log.WithError(err).Debug("Read loop ended")
			break
		}
		if t.onMessage != nil {
			t.onMessage(frame)
		}
	}

	_ = conn.Close()

	t.mu.Lock()
	stale := t.closed || gen != t.gen
	t.mu.Unlock()
	if stale {
		// Close 已经处理过状态，或者一条更新的连接已经接管；
		// 过期的读循环到此为止，既不翻转标志也不排定重连。
		return
	}

	t.connected.Store(false)

	t.log.Info("Disconnected from relay server")
	if t.onStatus != nil {
		t.onStatus(false)
	}
	t.scheduleReconnect()
}

// scheduleReconnect 在固定延迟后重新拨号。Close 之后不再排定。
func (t *Transport) scheduleReconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
	}
	t.reconnectTimer = time.AfterFunc(t.reconnectDelay, t.Connect)
}
