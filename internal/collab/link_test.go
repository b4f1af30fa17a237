package collab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShareableLink(t *testing.T) {
	link, err := ShareableLink("https://draw.example.com/board?theme=dark", "a1b2c3d4")
	require.NoError(t, err)
	assert.Equal(t, "https://draw.example.com/board?room=a1b2c3d4&theme=dark", link)
}

func TestShareableLink_RoundTrip(t *testing.T) {
	link, err := ShareableLink("https://draw.example.com/", "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", RoomFromLink(link), "分享链接应能还原出房间 id")
}

func TestRoomFromLink_NoRoomParam(t *testing.T) {
	assert.Empty(t, RoomFromLink("https://draw.example.com/board"))
	assert.Empty(t, RoomFromLink("://bad"))
}
