package hub

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Registry 维护 roomID 到成员连接集合的映射。
// 只存在于服务器进程内存中，没有任何持久化。
// 不变量：成员集合变空的房间会在当次操作中立即被移除，
// 空房间绝不会在清空它的断开事件之后继续存在。
type Registry struct {
	// map[roomID]map[*Client]bool
	rooms map[string]map[*Client]bool
	// 保护 rooms map 的读写锁。事件循环之外只有 /stats 读取计数。
	mu sync.RWMutex
}

// NewRegistry 创建一个空的房间注册表。
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[*Client]bool),
	}
}

// Add 把连接加入指定房间，房间不存在则创建。
// join_room 对未知的房间 id 因此是幂等的。
func (r *Registry) Add(roomID string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[*Client]bool)
		r.rooms[roomID] = members
		logrus.WithFields(logrus.Fields{
			"component": "registry",
			"room_id":   roomID,
		}).Info("Room created in registry")
	}
	members[c] = true
}

// Remove 把连接从房间中移除。房间因此变空时删除房间条目。
// 返回连接是否确实是该房间的成员。
func (r *Registry) Remove(roomID string, c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	if _, exists := members[c]; !exists {
		return false
	}
	delete(members, c)
	if len(members) == 0 {
		delete(r.rooms, roomID)
		logrus.WithFields(logrus.Fields{
			"component": "registry",
			"room_id":   roomID,
		}).Info("Room empty, removed from registry")
	}
	return true
}

// Has 报告房间是否存在（即至少有一个成员）。
func (r *Registry) Has(roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomID]
	return ok
}

// Members 返回房间成员的快照，调用方可以在不持锁的情况下遍历。
func (r *Registry) Members(roomID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]*Client, 0, len(members))
	for c := range members {
		out = append(out, c)
	}
	return out
}

// Others 返回房间内除 exclude 之外的成员快照，供广播使用。
func (r *Registry) Others(roomID string, exclude *Client) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]*Client, 0, len(members))
	for c := range members {
		if c != exclude {
			out = append(out, c)
		}
	}
	return out
}

// Counts 返回当前房间数和连接总数，供 /stats 使用。
func (r *Registry) Counts() (rooms, clients int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms = len(r.rooms)
	for _, members := range r.rooms {
		clients += len(members)
	}
	return rooms, clients
}
