package collab

import (
	"errors"
	"fmt"
	"net/url"
)

// ErrNoRoom 表示会话尚未加入任何房间。
var ErrNoRoom = errors.New("collab: not in a room")

// ShareableLink 在页面地址上附加 room 查询参数，生成可分享的入口链接。
func ShareableLink(base, roomID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("collab: invalid base url: %w", err)
	}
	q := u.Query()
	q.Set("room", roomID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// RoomFromLink 从分享链接中取出房间 id，没有 room 参数时返回空串。
func RoomFromLink(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Query().Get("room")
}

// colorFor 由 clientId 确定性地导出一个 HSL 颜色。
// 散列沿用前端的 (hash << 5) - hash 累积式，保证跨端同一用户同色。
func colorFor(clientID string) string {
	var hash int32
	for _, r := range clientID {
		hash = int32(r) + ((hash << 5) - hash)
	}
	hue := int(hash) % 360
	if hue < 0 {
		hue += 360
	}
	return fmt.Sprintf("hsl(%d, 80%%, 60%%)", hue)
}
