package collab

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRelay 是一个最小的 WebSocket 端点，记录每条到达的帧，
// 并允许测试主动掐断当前连接来模拟网络故障。
type testRelay struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  []*websocket.Conn
	frames [][]byte
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()
	r := &testRelay{}
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := r.upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		r.mu.Lock()
		r.conns = append(r.conns, conn)
		r.mu.Unlock()
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			r.mu.Lock()
			r.frames = append(r.frames, frame)
			r.mu.Unlock()
		}
	}))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *testRelay) url() string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http")
}

// dropConnections 关闭服务器端的所有现有连接。
func (r *testRelay) dropConnections() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, conn := range r.conns {
		_ = conn.Close()
	}
	r.conns = nil
}

func (r *testRelay) lastFrame() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return nil
	}
	return r.frames[len(r.frames)-1]
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// --- 测试连接与重连 ---

func TestTransport_ConnectAndSend(t *testing.T) {
	// Arrange
	relay := newTestRelay(t)
	var opens int32
	var mu sync.Mutex
	tr := NewTransport(TransportOptions{
		URL: relay.url(),
		OnOpen: func() {
			mu.Lock()
			opens++
			mu.Unlock()
		},
	})
	defer tr.Close()

	// Act
	tr.Connect()
	waitFor(t, tr.Connected, "连接应建立")

	require.NoError(t, tr.Send(map[string]string{"type": "create_room", "clientId": "user_test00001"}))

	// Assert: 服务器收到编码后的 JSON 帧
	waitFor(t, func() bool { return relay.lastFrame() != nil }, "服务器应收到帧")
	assert.JSONEq(t, `{"type":"create_room","clientId":"user_test00001"}`, string(relay.lastFrame()))
	mu.Lock()
	assert.EqualValues(t, 1, opens)
	mu.Unlock()
}

func TestTransport_SendWhileDisconnected(t *testing.T) {
	tr := NewTransport(TransportOptions{URL: "ws://127.0.0.1:1/ws"})
	defer tr.Close()

	err := tr.Send(map[string]string{"type": "create_room"})

	require.ErrorIs(t, err, ErrNotConnected)
}

func TestTransport_ReconnectsAfterDrop(t *testing.T) {
	// Arrange: 短重连延迟
	relay := newTestRelay(t)
	var mu sync.Mutex
	var statuses []bool
	tr := NewTransport(TransportOptions{
		URL:            relay.url(),
		ReconnectDelay: 20 * time.Millisecond,
		OnStatusChange: func(connected bool) {
			mu.Lock()
			statuses = append(statuses, connected)
			mu.Unlock()
		},
	})
	defer tr.Close()

	tr.Connect()
	waitFor(t, tr.Connected, "首次连接应建立")

	// Act: 服务器端掐断连接
	relay.dropConnections()
	waitFor(t, func() bool { return !tr.Connected() }, "断开应被察觉")

	// Assert: 固定延迟后自动重连
	waitFor(t, tr.Connected, "应自动重连")
	mu.Lock()
	assert.Equal(t, []bool{true, false, true}, statuses, "状态变化应为 连接→断开→重连")
	mu.Unlock()
}

func TestTransport_RetriesWhileServerDown(t *testing.T) {
	// Arrange: 先起服务器拿到地址，再关掉
	relay := newTestRelay(t)
	url := relay.url()
	relay.srv.Close()

	tr := NewTransport(TransportOptions{
		URL:            url,
		ReconnectDelay: 10 * time.Millisecond,
	})
	defer tr.Close()

	// Act: 初次拨号失败也进入重连循环
	tr.Connect()
	time.Sleep(50 * time.Millisecond)

	// Assert: 保持断开但没有 panic，Close 仍然干净
	assert.False(t, tr.Connected())
}

func TestTransport_RepeatConnectKeepsConnectedState(t *testing.T) {
	// Arrange
	relay := newTestRelay(t)
	var mu sync.Mutex
	var statuses []bool
	tr := NewTransport(TransportOptions{
		URL:            relay.url(),
		ReconnectDelay: 20 * time.Millisecond,
		OnStatusChange: func(connected bool) {
			mu.Lock()
			statuses = append(statuses, connected)
			mu.Unlock()
		},
	})
	defer tr.Close()

	tr.Connect()
	waitFor(t, tr.Connected, "首次连接应建立")

	// Act: 连接存活时再次 Connect，旧连接被替换
	tr.Connect()
	waitFor(t, tr.Connected, "替换后的连接应建立")
	time.Sleep(100 * time.Millisecond)

	// Assert: 被替换连接的读循环退出时不得把状态翻成断开，
	// 也不得留下多余的重连定时器
	assert.True(t, tr.Connected(), "旧连接的退出不应影响新连接的状态")
	mu.Lock()
	assert.NotContains(t, statuses, false, "重复 Connect 不应产生断开通知")
	mu.Unlock()
}

func TestTransport_CloseStopsReconnect(t *testing.T) {
	// Arrange
	relay := newTestRelay(t)
	reconnects := make(chan struct{}, 16)
	tr := NewTransport(TransportOptions{
		URL:            relay.url(),
		ReconnectDelay: 20 * time.Millisecond,
		OnOpen:         func() { reconnects <- struct{}{} },
	})

	tr.Connect()
	waitFor(t, tr.Connected, "连接应建立")
	<-reconnects

	// Act: 主动关闭
	require.NoError(t, tr.Close())

	// Assert: 不再重连
	assert.False(t, tr.Connected())
	select {
	case <-reconnects:
		t.Fatal("Close 之后不应再重连")
	case <-time.After(100 * time.Millisecond):
	}
}
