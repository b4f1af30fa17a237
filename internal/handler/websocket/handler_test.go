package websocket_test // 端到端测试：真实的 WebSocket 连接对接真实的 Hub

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wshandler "github.com/WillKirkmanM/draw/internal/handler/websocket"
	"github.com/WillKirkmanM/draw/internal/hub"
	"github.com/WillKirkmanM/draw/internal/protocol"
)

// newTestServer 组装一个带真实 Hub 事件循环的中继服务器。
func newTestServer(t *testing.T) (*httptest.Server, *hub.Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := hub.NewHub(hub.NewRegistry())
	go h.Run()
	t.Cleanup(h.Stop)

	handler := wshandler.NewHandler(h, "")
	router := gin.New()
	router.GET("/ws", handler.HandleConnection)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, h
}

func dial(t *testing.T, srv *httptest.Server) *gorilla.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err, "拨号不应失败")
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readMessage 读取下一帧并解析为通用 map，带超时保护。
func readMessage(t *testing.T, conn *gorilla.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err, "读取帧不应失败")
	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(frame, &msg))
	return msg
}

func sendJSON(t *testing.T, conn *gorilla.Conn, raw string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(gorilla.TextMessage, []byte(raw)))
}

// --- 端到端流程 ---

func TestRelay_WelcomeOnConnect(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv)

	msg := readMessage(t, conn)
	assert.Equal(t, protocol.TypeWelcome, msg["type"])
}

func TestRelay_CreateJoinAndSync(t *testing.T) {
	// Arrange: A、B 两个客户端
	srv, _ := newTestServer(t)
	a := dial(t, srv)
	b := dial(t, srv)
	readMessage(t, a) // welcome
	readMessage(t, b) // welcome

	// Act 1: A 创建房间
	sendJSON(t, a, `{"type":"create_room","clientId":"user_aaaaaaaaa"}`)
	created := readMessage(t, a)
	require.Equal(t, protocol.TypeRoomCreated, created["type"])
	roomID, ok := created["roomId"].(string)
	require.True(t, ok)
	assert.Len(t, roomID, 8, "房间 id 应为 8 个十六进制字符")

	// Act 2: B 加入
	sendJSON(t, b, `{"type":"join_room","roomId":"`+roomID+`","clientId":"user_bbbbbbbbb"}`)

	// Assert: A 收到 user_joined 和指向自己的 sync_request
	joined := readMessage(t, a)
	assert.Equal(t, protocol.TypeUserJoined, joined["type"])
	assert.Equal(t, "user_bbbbbbbbb", joined["clientId"])

	syncReq := readMessage(t, a)
	assert.Equal(t, protocol.TypeSyncRequest, syncReq["type"])
	assert.Equal(t, "user_bbbbbbbbb", syncReq["requesterId"])

	// Act 3: A 回复全量状态，B 收到原样的 sync_state
	sendJSON(t, a, `{"type":"sync_state","clientId":"user_aaaaaaaaa","roomId":"`+roomID+`","shapes":[{"type":"rect","id":"r1","x":1,"y":2,"width":3,"height":4}]}`)
	state := readMessage(t, b)
	assert.Equal(t, protocol.TypeSyncState, state["type"])
	shapes, ok := state["shapes"].([]interface{})
	require.True(t, ok)
	assert.Len(t, shapes, 1)
}

func TestRelay_ForwardBetweenMembers(t *testing.T) {
	// Arrange: A、B 同房间
	srv, _ := newTestServer(t)
	a := dial(t, srv)
	b := dial(t, srv)
	readMessage(t, a)
	readMessage(t, b)

	sendJSON(t, a, `{"type":"create_room","clientId":"user_aaaaaaaaa"}`)
	roomID := readMessage(t, a)["roomId"].(string)
	sendJSON(t, b, `{"type":"join_room","roomId":"`+roomID+`","clientId":"user_bbbbbbbbb"}`)
	readMessage(t, a) // user_joined
	readMessage(t, a) // sync_request

	// Act: A 广播一条形状新增
	sendJSON(t, a, `{"type":"shape_added","clientId":"user_aaaaaaaaa","roomId":"`+roomID+`","shape":{"type":"rect","id":"r1","x":0,"y":0,"width":10,"height":10}}`)

	// Assert: B 收到，A 自己不收（下一帧留给后续断言）
	added := readMessage(t, b)
	assert.Equal(t, protocol.TypeShapeAdded, added["type"])
	assert.Equal(t, "user_aaaaaaaaa", added["clientId"])
}

func TestRelay_DisconnectBroadcastsUserLeft(t *testing.T) {
	// Arrange
	srv, h := newTestServer(t)
	a := dial(t, srv)
	b := dial(t, srv)
	readMessage(t, a)
	readMessage(t, b)

	sendJSON(t, a, `{"type":"create_room","clientId":"user_aaaaaaaaa"}`)
	roomID := readMessage(t, a)["roomId"].(string)
	sendJSON(t, b, `{"type":"join_room","roomId":"`+roomID+`","clientId":"user_bbbbbbbbb"}`)
	readMessage(t, a) // user_joined
	readMessage(t, a) // sync_request

	// Act: B 直接断开
	require.NoError(t, b.Close())

	// Assert: A 收到 user_left，房间只剩一个成员
	left := readMessage(t, a)
	assert.Equal(t, protocol.TypeUserLeft, left["type"])
	assert.Equal(t, "user_bbbbbbbbb", left["clientId"])

	deadline := time.Now().Add(2 * time.Second)
	for {
		rooms, clients := h.Counts()
		if rooms == 1 && clients == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("期望 1 房间 1 连接，实际 %d 房间 %d 连接", rooms, clients)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRelay_MalformedMessageKeepsConnection(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv)
	readMessage(t, conn)

	// Act: 非法 JSON 后紧跟正常消息
	sendJSON(t, conn, `{broken`)
	sendJSON(t, conn, `{"type":"create_room","clientId":"user_ccccccccc"}`)

	// Assert: 连接存活，正常消息照常处理
	msg := readMessage(t, conn)
	assert.Equal(t, protocol.TypeRoomCreated, msg["type"])
}
