package collab

import (
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/WillKirkmanM/draw/internal/protocol"
	"github.com/WillKirkmanM/draw/internal/shape"
)

// Collaborator 是一个远程协作者的最近已知状态。
// 光标位置随每条 cursor_update 覆盖，协作者离开时整条移除。
type Collaborator struct {
	ID string
	X  float64
	Y  float64
	// Color 是由 clientId 确定性导出的 HSL 颜色，供宿主 UI 渲染光标。
	Color string
}

// Events 是协作核心向宿主应用的通知回调，全部可选。
// 显式注入而不是全局单例，Reconciler 因此可以独立测试。
type Events struct {
	OnConnectionChange   func(connected bool)
	OnRoomCreated        func(roomID string)
	OnCollaboratorJoined func(c Collaborator)
	OnCollaboratorLeft   func(clientID string)
	OnCollaboratorCursor func(c Collaborator)
}

// Reconciler 把入站协议消息应用到本地文档和协作者表。
//
// 所有应用都是幂等的；回声保护（clientId 相等即跳过）是对中继
// 缺陷的防御性冗余：中继本不会把消息发回发送者。
// 冲突按到达顺序最后写入者胜出，不同接收者可能观察到不同顺序，
// 这是协议接受的弱一致性窗口。
type Reconciler struct {
	clientID string
	doc      DocumentStore
	sess     sender
	events   Events

	mu            sync.RWMutex
	collaborators map[string]Collaborator

	log *logrus.Entry
}

// NewReconciler 创建 Reconciler 实例。
func NewReconciler(clientID string, doc DocumentStore, sess sender, events Events) *Reconciler {
	if doc == nil {
		panic("DocumentStore cannot be nil for Reconciler")
	}
	if sess == nil {
		panic("sender cannot be nil for Reconciler")
	}
	return &Reconciler{
		clientID:      clientID,
		doc:           doc,
		sess:          sess,
		events:        events,
		collaborators: make(map[string]Collaborator),
		log:           logrus.WithField("component", "reconciler"),
	}
}

// Collaborators 返回当前协作者表的快照。
func (r *Reconciler) Collaborators() []Collaborator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Collaborator, 0, len(r.collaborators))
	for _, c := range r.collaborators {
		out = append(out, c)
	}
	return out
}

// HandleMessage 按类型应用一条入站消息。
// 格式错误的消息记录后丢弃；未知类型记录后忽略（向前兼容）。
func (r *Reconciler) HandleMessage(raw []byte) {
	env, err := protocol.ParseEnvelope(raw)
	if err != nil {
		r.log.WithError(err).Warn("Dropping malformed inbound message")
		return
	}

	switch env.Type {
	case protocol.TypeSyncRequest:
		r.sendCurrentState()
	case protocol.TypeSyncState:
		r.handleSyncState(raw)
	case protocol.TypeShapeAdded, protocol.TypeShapeUpdated:
		r.handleShapeMessage(env.Type, raw)
	case protocol.TypeShapeDeleted:
		r.handleShapeDeleted(raw)
	case protocol.TypeBatchChanges:
		r.handleBatchChanges(raw)
	case protocol.TypeCursorUpdate:
		r.handleCursorUpdate(raw)
	case protocol.TypeUserJoined:
		r.handleUserJoined(raw)
	case protocol.TypeUserLeft:
		r.handleUserLeft(raw)
	case protocol.TypeWelcome:
		r.log.Debug("Welcome message from relay")
	default:
		r.log.WithField("message_type", env.Type).Debug("Unknown message type, ignoring")
	}
}

// sendCurrentState 立即把本地文档的完整形状集合作为 sync_state 发出。
// 只有别人的加入会触发 sync_request，这里不需要回声保护。
func (r *Reconciler) sendCurrentState() {
	roomID := r.sess.RoomID()
	if !r.sess.Connected() || roomID == "" {
		return
	}
	raw, err := shape.MarshalList(r.doc.Shapes())
	if err != nil {
		r.log.WithError(err).Error("Failed to marshal document for sync_state")
		return
	}
	msg := protocol.SyncState{
		Type:     protocol.TypeSyncState,
		ClientID: r.clientID,
		RoomID:   roomID,
		Shapes:   raw,
	}
	if err := r.sess.Send(msg); err != nil {
		r.log.WithError(err).Warn("Failed to send sync_state")
	}
}

func (r *Reconciler) handleSyncState(raw []byte) {
	var msg protocol.SyncState
	if err := json.Unmarshal(raw, &msg); err != nil {
		r.log.WithError(err).Warn("Malformed sync_state")
		return
	}
	if msg.ClientID == r.clientID {
		return
	}
	shapes, err := shape.UnmarshalList(msg.Shapes)
	if err != nil {
		r.log.WithError(err).Warn("sync_state with undecodable shapes, dropping")
		return
	}
	r.doc.LoadShapes(shapes)
	r.log.WithField("shapes", len(shapes)).Debug("Applied full state sync")
}

func (r *Reconciler) handleShapeMessage(msgType string, raw []byte) {
	var msg protocol.ShapeMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		r.log.WithError(err).Warnf("Malformed %s", msgType)
		return
	}
	if msg.ClientID == r.clientID {
		return
	}
	s, err := shape.Unmarshal(msg.Shape)
	if err != nil {
		r.log.WithError(err).Warnf("%s with undecodable shape, dropping", msgType)
		return
	}
	if msgType == protocol.TypeShapeAdded {
		r.doc.AddShape(s)
	} else {
		r.doc.UpdateShape(s)
	}
}

func (r *Reconciler) handleShapeDeleted(raw []byte) {
	var msg protocol.ShapeDeleted
	if err := json.Unmarshal(raw, &msg); err != nil {
		r.log.WithError(err).Warn("Malformed shape_deleted")
		return
	}
	if msg.ClientID == r.clientID {
		return
	}
	r.doc.DeleteShape(msg.ShapeID)
}

// handleBatchChanges 按记录顺序应用一个远端批次。
// 单条坏记录跳过，不影响批次中的其余记录。
func (r *Reconciler) handleBatchChanges(raw []byte) {
	var msg protocol.BatchChanges
	if err := json.Unmarshal(raw, &msg); err != nil {
		r.log.WithError(err).Warn("Malformed batch_changes")
		return
	}
	if msg.ClientID == r.clientID {
		return
	}
	for _, rec := range msg.Changes {
		switch rec.Type {
		case protocol.ChangeAdd, protocol.ChangeUpdate:
			s, err := shape.Unmarshal(rec.Data)
			if err != nil {
				r.log.WithError(err).Warn("Skipping undecodable change record")
				continue
			}
			if rec.Type == protocol.ChangeAdd {
				r.doc.AddShape(s)
			} else {
				r.doc.UpdateShape(s)
			}
		case protocol.ChangeDelete:
			id, err := rec.ShapeID()
			if err != nil {
				r.log.WithError(err).Warn("Skipping undecodable delete record")
				continue
			}
			r.doc.DeleteShape(id)
		default:
			r.log.WithField("change_type", rec.Type).Warn("Unknown change record type, skipping")
		}
	}
}

func (r *Reconciler) handleCursorUpdate(raw []byte) {
	var msg protocol.CursorUpdate
	if err := json.Unmarshal(raw, &msg); err != nil {
		r.log.WithError(err).Warn("Malformed cursor_update")
		return
	}
	if msg.ClientID == r.clientID {
		return
	}

	r.mu.Lock()
	c, ok := r.collaborators[msg.ClientID]
	if ok {
		c.X = msg.X
		c.Y = msg.Y
		r.collaborators[msg.ClientID] = c
	}
	r.mu.Unlock()

	if ok && r.events.OnCollaboratorCursor != nil {
		r.events.OnCollaboratorCursor(c)
	}
}

func (r *Reconciler) handleUserJoined(raw []byte) {
	var msg protocol.UserJoined
	if err := json.Unmarshal(raw, &msg); err != nil {
		r.log.WithError(err).Warn("Malformed user_joined")
		return
	}
	c := Collaborator{
		ID:    msg.ClientID,
		Color: colorFor(msg.ClientID),
	}
	r.mu.Lock()
	r.collaborators[msg.ClientID] = c
	r.mu.Unlock()

	r.log.WithField("client_id", msg.ClientID).Info("Collaborator joined")
	if r.events.OnCollaboratorJoined != nil {
		r.events.OnCollaboratorJoined(c)
	}
}

func (r *Reconciler) handleUserLeft(raw []byte) {
	var msg protocol.UserLeft
	if err := json.Unmarshal(raw, &msg); err != nil {
		r.log.WithError(err).Warn("Malformed user_left")
		return
	}
	r.mu.Lock()
	delete(r.collaborators, msg.ClientID)
	r.mu.Unlock()

	r.log.WithField("client_id", msg.ClientID).Info("Collaborator left")
	if r.events.OnCollaboratorLeft != nil {
		r.events.OnCollaboratorLeft(msg.ClientID)
	}
}
