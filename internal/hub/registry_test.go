package hub // 内部测试：需要直接构造 Client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient 构造一个不带底层连接的 Client，只用于注册表和事件循环测试。
func newTestClient() *Client {
	c := &Client{
		send: make(chan []byte, sendBufferSize),
		ping: make(chan struct{}, 1),
	}
	c.isAlive.Store(true)
	return c
}

// --- 测试房间生命周期 ---

func TestRegistry_AddCreatesRoom(t *testing.T) {
	// Arrange
	r := NewRegistry()
	c := newTestClient()

	// Act
	r.Add("room1", c)

	// Assert
	assert.True(t, r.Has("room1"), "加入后房间应存在")
	assert.Len(t, r.Members("room1"), 1)
}

func TestRegistry_RemoveLastMemberDeletesRoom(t *testing.T) {
	// Arrange: 两个成员
	r := NewRegistry()
	a, b := newTestClient(), newTestClient()
	r.Add("room1", a)
	r.Add("room1", b)

	// Act: 逐个移除
	require.True(t, r.Remove("room1", a))
	assert.True(t, r.Has("room1"), "还有成员时房间应保留")

	require.True(t, r.Remove("room1", b))

	// Assert: 最后一个成员离开的当次操作中房间即被删除
	assert.False(t, r.Has("room1"), "空房间不应继续存在")
	rooms, clients := r.Counts()
	assert.Equal(t, 0, rooms)
	assert.Equal(t, 0, clients)
}

func TestRegistry_RemoveNonMember(t *testing.T) {
	r := NewRegistry()
	r.Add("room1", newTestClient())

	// 不在房间里的连接
	assert.False(t, r.Remove("room1", newTestClient()), "非成员的移除应返回 false")
	// 不存在的房间
	assert.False(t, r.Remove("nope", newTestClient()))
	assert.True(t, r.Has("room1"), "误操作不应影响现有房间")
}

func TestRegistry_Others(t *testing.T) {
	// Arrange
	r := NewRegistry()
	a, b, c := newTestClient(), newTestClient(), newTestClient()
	r.Add("room1", a)
	r.Add("room1", b)
	r.Add("room1", c)

	// Act
	others := r.Others("room1", a)

	// Assert: 不含被排除的连接
	assert.Len(t, others, 2)
	assert.NotContains(t, others, a)
}

func TestRegistry_Counts(t *testing.T) {
	r := NewRegistry()
	r.Add("room1", newTestClient())
	r.Add("room1", newTestClient())
	r.Add("room2", newTestClient())

	rooms, clients := r.Counts()
	assert.Equal(t, 2, rooms)
	assert.Equal(t, 3, clients)
}
