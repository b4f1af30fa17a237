package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// 协议中所有消息类型的判别值。
// 服务器只认识信封；这里同时列出客户端专用的类型，方便两端共用常量。
const (
	TypeCreateRoom   = "create_room"
	TypeRoomCreated  = "room_created"
	TypeJoinRoom     = "join_room"
	TypeUserJoined   = "user_joined"
	TypeUserLeft     = "user_left"
	TypeSyncRequest  = "sync_request"
	TypeSyncState    = "sync_state"
	TypeCursorUpdate = "cursor_update"
	TypeBatchChanges = "batch_changes"
	TypeShapeAdded   = "shape_added"
	TypeShapeUpdated = "shape_updated"
	TypeShapeDeleted = "shape_deleted"
	TypeWelcome      = "welcome"
)

// ErrMissingType 表示消息缺少 type 判别字段。
var ErrMissingType = errors.New("protocol: message has no type field")

// Envelope 是所有消息共有的信封字段。
// 中继服务器转发消息时只解析信封，从不解析或改写载荷内容。
type Envelope struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId,omitempty"`
	RoomID   string `json:"roomId,omitempty"`
}

// ParseEnvelope 从原始 JSON 帧中解析信封字段。
// 载荷的其余部分原样保留在 raw 中，由调用方决定是否进一步解码。
func ParseEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("protocol: malformed message: %w", err)
	}
	if env.Type == "" {
		return env, ErrMissingType
	}
	return env, nil
}

// CreateRoom 请求服务器创建一个新房间 (client→server)。
type CreateRoom struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
}

// RoomCreated 通知创建者房间已生成 (server→client)。
type RoomCreated struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

// JoinRoom 请求加入指定房间 (client→server)。
// 对不存在的房间 id 也是幂等的：服务器会隐式创建房间。
type JoinRoom struct {
	Type     string `json:"type"`
	RoomID   string `json:"roomId"`
	ClientID string `json:"clientId"`
}

// UserJoined / UserLeft 通知房间内其他成员有人加入或离开 (server→room)。
type UserJoined struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
}

type UserLeft struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
}

// SyncRequest 要求某一个现有成员发送全量状态 (server→one client)。
type SyncRequest struct {
	Type        string `json:"type"`
	RequesterID string `json:"requesterId"`
}

// SyncState 携带文档的完整形状集合，双向使用。
// Shapes 保持为原始 JSON，由 shape 包解码成具体类型。
type SyncState struct {
	Type     string          `json:"type"`
	ClientID string          `json:"clientId"`
	RoomID   string          `json:"roomId"`
	Shapes   json.RawMessage `json:"shapes"`
}

// CursorUpdate 是协作者光标位置的即时更新，双向使用。
type CursorUpdate struct {
	Type     string  `json:"type"`
	ClientID string  `json:"clientId"`
	RoomID   string  `json:"roomId"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

// BatchChanges 携带一次 flush 周期内累积的全部本地变更。
type BatchChanges struct {
	Type     string         `json:"type"`
	ClientID string         `json:"clientId"`
	RoomID   string         `json:"roomId"`
	Changes  []ChangeRecord `json:"changes"`
}

// ShapeMessage 对应 shape_added / shape_updated 两种消息。
// Shape 保持为原始 JSON，交给 shape 包解码。
type ShapeMessage struct {
	Type     string          `json:"type"`
	ClientID string          `json:"clientId"`
	RoomID   string          `json:"roomId"`
	Shape    json.RawMessage `json:"shape"`
}

// ShapeDeleted 对应 shape_deleted 消息，只携带被删除形状的 id。
type ShapeDeleted struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
	RoomID   string `json:"roomId"`
	ShapeID  string `json:"shapeId"`
}

// Welcome 是连接建立后服务器发送的提示消息，仅供参考，客户端可忽略。
type Welcome struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
