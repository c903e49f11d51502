package relay

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRooms_CreateRoom(t *testing.T) {
	rooms := NewRooms(nil)

	room, err := rooms.CreateRoom("42", 1)
	require.NoError(t, err)
	assert.Equal(t, UserID(1), room.Host)
	assert.Equal(t, 0, room.ViewerCount())

	_, err = rooms.CreateRoom("42", 2)
	assert.ErrorIs(t, err, ErrRoomExists)

	got, ok := rooms.Get("42")
	require.True(t, ok)
	assert.Equal(t, UserID(1), got.Host, "existing host must be kept")
}

func TestRooms_AddViewerIdempotent(t *testing.T) {
	rooms := NewRooms(nil)
	_, err := rooms.CreateRoom("s", 1)
	require.NoError(t, err)

	added, err := rooms.AddViewer("s", 2)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = rooms.AddViewer("s", 2)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, 1, rooms.ViewerCount("s"))

	added, err = rooms.AddViewer("s", 1)
	require.NoError(t, err)
	assert.False(t, added, "host is not a viewer")
	assert.Equal(t, 1, rooms.ViewerCount("s"))

	_, err = rooms.AddViewer("missing", 2)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

// Random add/remove sequences must keep the count equal to the set size.
func TestRooms_ViewerCountInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	rooms := NewRooms(nil)
	_, err := rooms.CreateRoom("s", 1000)
	require.NoError(t, err)

	model := map[UserID]bool{}
	for i := 0; i < 2000; i++ {
		user := UserID(rng.Intn(25) + 1)
		if rng.Intn(2) == 0 {
			_, err := rooms.AddViewer("s", user)
			require.NoError(t, err)
			model[user] = true
		} else {
			rem, err := rooms.RemoveViewer("s", user)
			require.NoError(t, err)
			assert.Equal(t, model[user], rem.Removed)
			delete(model, user)
		}
		require.Equal(t, len(model), rooms.ViewerCount("s"), "step %d", i)
	}

	room, _ := rooms.Get("s")
	assert.Len(t, room.Viewers(), len(model))
	assert.LessOrEqual(t, room.ViewerCount(), room.PeakViewers)
}

func TestRooms_RemoveHostTearsDown(t *testing.T) {
	rooms := NewRooms(nil)
	_, err := rooms.CreateRoom("s", 1)
	require.NoError(t, err)
	_, _ = rooms.AddViewer("s", 2)
	_, _ = rooms.AddViewer("s", 3)

	rem, err := rooms.RemoveViewer("s", 1)
	require.NoError(t, err)
	assert.True(t, rem.Ended)
	assert.Equal(t, []UserID{2, 3}, rem.Viewers)

	_, ok := rooms.Get("s")
	assert.False(t, ok)
	assert.Equal(t, 0, rooms.ViewerCount("s"))
	assert.Empty(t, rooms.StreamsOf(2))
	assert.Empty(t, rooms.StreamsOf(1))
}

func TestRooms_TransferHost(t *testing.T) {
	rooms := NewRooms(nil)
	_, _ = rooms.CreateRoom("s", 1)
	_, _ = rooms.AddViewer("s", 2)
	_, _ = rooms.AddViewer("s", 3)

	prev, err := rooms.TransferHost("s", 2)
	require.NoError(t, err)
	assert.Equal(t, UserID(1), prev)

	room, _ := rooms.Get("s")
	assert.Equal(t, UserID(2), room.Host)
	assert.Equal(t, []UserID{3}, room.Viewers())
	assert.Empty(t, rooms.StreamsOf(1))
	assert.Equal(t, []StreamID{"s"}, rooms.StreamsOf(2))

	_, err = rooms.TransferHost("missing", 2)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRooms_StreamsOfAndSnapshot(t *testing.T) {
	rooms := NewRooms(nil)
	_, _ = rooms.CreateRoom("b", 1)
	_, _ = rooms.CreateRoom("a", 2)
	_, _ = rooms.AddViewer("a", 1)
	_, _ = rooms.AddViewer("b", 3)
	_, _ = rooms.AddViewer("a", 3)

	assert.Equal(t, []StreamID{"a", "b"}, rooms.StreamsOf(1))
	assert.Equal(t, []StreamID{"a", "b"}, rooms.StreamsOf(3))
	assert.Equal(t, 2, rooms.Len())

	snap := rooms.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, StreamID("a"), snap[0].StreamID)
	assert.Equal(t, UserID(2), snap[0].HostID)
	assert.Equal(t, 2, snap[0].ViewerCount)
	assert.Equal(t, StreamID("b"), snap[1].StreamID)
	assert.Equal(t, 1, snap[1].ViewerCount)

	_, ok := rooms.Delete("a")
	assert.True(t, ok)
	assert.Equal(t, []StreamID{"b"}, rooms.StreamsOf(3))
	_, ok = rooms.Delete("a")
	assert.False(t, ok)
}
