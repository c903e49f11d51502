package relay

import (
	"fmt"
	"sort"
	"time"
)

// Room is one live stream: a single host and any number of viewers.
type Room struct {
	StreamID    StreamID
	Host        UserID
	CreatedAt   time.Time
	PeakViewers int

	viewers map[UserID]struct{}
}

// ViewerCount is always the size of the viewer set
func (r *Room) ViewerCount() int {
	return len(r.viewers)
}

// HasViewer reports whether user is watching
func (r *Room) HasViewer(user UserID) bool {
	_, ok := r.viewers[user]
	return ok
}

// IsMember reports whether user is the host or a viewer
func (r *Room) IsMember(user UserID) bool {
	return user == r.Host || r.HasViewer(user)
}

// Viewers returns the viewer ids in ascending order
func (r *Room) Viewers() []UserID {
	out := make([]UserID, 0, len(r.viewers))
	for u := range r.viewers {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Members returns the host followed by the viewers
func (r *Room) Members() []UserID {
	return append([]UserID{r.Host}, r.Viewers()...)
}

// StreamInfo is a read-only view of a room
type StreamInfo struct {
	StreamID    StreamID  `json:"streamId"`
	HostID      UserID    `json:"hostId"`
	ViewerCount int       `json:"viewerCount"`
	PeakViewers int       `json:"peakViewers"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (r *Room) info() StreamInfo {
	return StreamInfo{
		StreamID:    r.StreamID,
		HostID:      r.Host,
		ViewerCount: r.ViewerCount(),
		PeakViewers: r.PeakViewers,
		CreatedAt:   r.CreatedAt,
	}
}

// Removal describes the outcome of RemoveViewer.
type Removal struct {
	// Removed is true when the user was a member.
	Removed bool
	// Ended is true when the user was the host and the room is gone.
	Ended bool
	// Viewers are the members left behind: the remaining audience, or, when
	// Ended, everyone who must be told the stream is over.
	Viewers []UserID
	// ViewerCount after the removal.
	ViewerCount int
}

// Rooms is the stream membership table. Like Registry it is owned by the
// relay loop and not safe for concurrent use.
type Rooms struct {
	rooms       map[StreamID]*Room
	memberships map[UserID]map[StreamID]struct{}
	now         func() time.Time
}

func NewRooms(now func() time.Time) *Rooms {
	if now == nil {
		now = time.Now
	}
	return &Rooms{
		rooms:       make(map[StreamID]*Room),
		memberships: make(map[UserID]map[StreamID]struct{}),
		now:         now,
	}
}

// CreateRoom opens a stream hosted by host
func (t *Rooms) CreateRoom(streamID StreamID, host UserID) (*Room, error) {
	if _, exists := t.rooms[streamID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrRoomExists, streamID)
	}
	room := &Room{
		StreamID:  streamID,
		Host:      host,
		CreatedAt: t.now(),
		viewers:   make(map[UserID]struct{}),
	}
	t.rooms[streamID] = room
	t.link(host, streamID)
	return room, nil
}

// Get returns the room for streamID
func (t *Rooms) Get(streamID StreamID) (*Room, bool) {
	room, ok := t.rooms[streamID]
	return room, ok
}

// AddViewer adds user to the audience. Adding an existing viewer (or the
// host) changes nothing and reports false.
func (t *Rooms) AddViewer(streamID StreamID, user UserID) (bool, error) {
	room, ok := t.rooms[streamID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrRoomNotFound, streamID)
	}
	if room.IsMember(user) {
		return false, nil
	}
	room.viewers[user] = struct{}{}
	if n := room.ViewerCount(); n > room.PeakViewers {
		room.PeakViewers = n
	}
	t.link(user, streamID)
	return true, nil
}

// RemoveViewer takes user out of the room. Removing the host tears the room
// down.
func (t *Rooms) RemoveViewer(streamID StreamID, user UserID) (Removal, error) {
	room, ok := t.rooms[streamID]
	if !ok {
		return Removal{}, fmt.Errorf("%w: %s", ErrRoomNotFound, streamID)
	}

	if user == room.Host {
		viewers := room.Viewers()
		t.Delete(streamID)
		return Removal{Removed: true, Ended: true, Viewers: viewers}, nil
	}

	if !room.HasViewer(user) {
		return Removal{Viewers: room.Viewers(), ViewerCount: room.ViewerCount()}, nil
	}
	delete(room.viewers, user)
	t.unlink(user, streamID)
	return Removal{Removed: true, Viewers: room.Viewers(), ViewerCount: room.ViewerCount()}, nil
}

// TransferHost makes newHost the host of streamID. The previous host leaves
// the room; if newHost was a viewer it stops being one.
func (t *Rooms) TransferHost(streamID StreamID, newHost UserID) (UserID, error) {
	room, ok := t.rooms[streamID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrRoomNotFound, streamID)
	}
	prev := room.Host
	if prev == newHost {
		return prev, nil
	}
	delete(room.viewers, newHost)
	t.unlink(prev, streamID)
	room.Host = newHost
	t.link(newHost, streamID)
	return prev, nil
}

// Delete removes the room and every membership in it
func (t *Rooms) Delete(streamID StreamID) (*Room, bool) {
	room, ok := t.rooms[streamID]
	if !ok {
		return nil, false
	}
	delete(t.rooms, streamID)
	t.unlink(room.Host, streamID)
	for u := range room.viewers {
		t.unlink(u, streamID)
	}
	return room, true
}

// ViewerCount returns the live audience size, 0 for unknown streams
func (t *Rooms) ViewerCount(streamID StreamID) int {
	room, ok := t.rooms[streamID]
	if !ok {
		return 0
	}
	return room.ViewerCount()
}

// StreamsOf returns every stream user hosts or watches, sorted
func (t *Rooms) StreamsOf(user UserID) []StreamID {
	set := t.memberships[user]
	out := make([]StreamID, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of open rooms
func (t *Rooms) Len() int {
	return len(t.rooms)
}

// Snapshot returns every room ordered by stream id
func (t *Rooms) Snapshot() []StreamInfo {
	out := make([]StreamInfo, 0, len(t.rooms))
	for _, room := range t.rooms {
		out = append(out, room.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StreamID < out[j].StreamID })
	return out
}

func (t *Rooms) link(user UserID, streamID StreamID) {
	set, ok := t.memberships[user]
	if !ok {
		set = make(map[StreamID]struct{})
		t.memberships[user] = set
	}
	set[streamID] = struct{}{}
}

func (t *Rooms) unlink(user UserID, streamID StreamID) {
	set, ok := t.memberships[user]
	if !ok {
		return
	}
	delete(set, streamID)
	if len(set) == 0 {
		delete(t.memberships, user)
	}
}
