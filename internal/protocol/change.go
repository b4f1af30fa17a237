package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// 变更记录的类型。
const (
	ChangeAdd    = "add"
	ChangeUpdate = "update"
	ChangeDelete = "delete"
)

// ChangeRecord 表示一条待发送的本地文档变更。
// Data 对 add/update 是完整的形状对象，对 delete 是形状 id 字符串。
type ChangeRecord struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"` // 毫秒
}

// NewShapeChange 构造一条 add 或 update 变更，shapeJSON 必须是已编码的形状对象。
func NewShapeChange(changeType string, shapeJSON []byte, at time.Time) (ChangeRecord, error) {
	if changeType != ChangeAdd && changeType != ChangeUpdate {
		return ChangeRecord{}, fmt.Errorf("protocol: invalid shape change type %q", changeType)
	}
	return ChangeRecord{
		Type:      changeType,
		Data:      json.RawMessage(shapeJSON),
		Timestamp: at.UnixMilli(),
	}, nil
}

// NewDeleteChange 构造一条 delete 变更，只携带形状 id。
func NewDeleteChange(shapeID string, at time.Time) (ChangeRecord, error) {
	data, err := json.Marshal(shapeID)
	if err != nil {
		return ChangeRecord{}, fmt.Errorf("protocol: marshal shape id: %w", err)
	}
	return ChangeRecord{
		Type:      ChangeDelete,
		Data:      data,
		Timestamp: at.UnixMilli(),
	}, nil
}

// ShapeID 解码 delete 变更携带的形状 id。
func (c ChangeRecord) ShapeID() (string, error) {
	if c.Type != ChangeDelete {
		return "", fmt.Errorf("protocol: change type %q carries no shape id", c.Type)
	}
	var id string
	if err := json.Unmarshal(c.Data, &id); err != nil {
		return "", fmt.Errorf("protocol: unmarshal shape id: %w", err)
	}
	return id, nil
}
