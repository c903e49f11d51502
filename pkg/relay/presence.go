package relay

import (
	"encoding/json"
	"time"
)

// Reasons carried by stream_ended.
const (
	ReasonHostLeft         = "host_left"
	ReasonHostDisconnected = "host_disconnected"
	ReasonEnded            = "ended"
	ReasonForceEnded       = "force_ended"
	ReasonShutdown         = "shutdown"
)

// PresenceEvent is the wire form of every server generated envelope.
type PresenceEvent struct {
	Type           Type     `json:"type"`
	StreamID       StreamID `json:"streamId,omitempty"`
	UserID         UserID   `json:"userId,omitempty"`
	Username       string   `json:"username,omitempty"`
	AvatarURL      string   `json:"avatarUrl,omitempty"`
	Role           Role     `json:"role,omitempty"`
	ViewerCount    *int     `json:"viewerCount,omitempty"`
	HostID         UserID   `json:"hostId,omitempty"`
	PreviousHostID UserID   `json:"previousHostId,omitempty"`
	Reason         string   `json:"reason,omitempty"`
	Timestamp      int64    `json:"timestamp"`
}

func (e PresenceEvent) encode() ([]byte, error) {
	return json.Marshal(e)
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func userJoined(stream StreamID, user UserID, username, avatar string, count int, at time.Time) PresenceEvent {
	return PresenceEvent{
		Type:        TypeUserJoined,
		StreamID:    stream,
		UserID:      user,
		Username:    username,
		AvatarURL:   avatar,
		Role:        RoleViewer,
		ViewerCount: &count,
		Timestamp:   millis(at),
	}
}

func userLeft(stream StreamID, user UserID, username string, count int, at time.Time) PresenceEvent {
	return PresenceEvent{
		Type:        TypeUserLeft,
		StreamID:    stream,
		UserID:      user,
		Username:    username,
		ViewerCount: &count,
		Timestamp:   millis(at),
	}
}

func viewerCount(stream StreamID, count int, at time.Time) PresenceEvent {
	return PresenceEvent{
		Type:        TypeViewerCountUpdate,
		StreamID:    stream,
		ViewerCount: &count,
		Timestamp:   millis(at),
	}
}

func streamEnded(stream StreamID, host UserID, reason string, at time.Time) PresenceEvent {
	return PresenceEvent{
		Type:      TypeStreamEnded,
		StreamID:  stream,
		HostID:    host,
		Reason:    reason,
		Timestamp: millis(at),
	}
}

func hostChanged(stream StreamID, host, previous UserID, username string, count int, at time.Time) PresenceEvent {
	return PresenceEvent{
		Type:           TypeHostChanged,
		StreamID:       stream,
		HostID:         host,
		PreviousHostID: previous,
		Username:       username,
		ViewerCount:    &count,
		Timestamp:      millis(at),
	}
}

func pong(at time.Time) PresenceEvent {
	return PresenceEvent{Type: TypePong, Timestamp: millis(at)}
}
