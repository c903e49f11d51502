package relay

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Type is the envelope discriminator carried in the "type" field.
type Type string

// Client-originated types.
const (
	TypeJoin             Type = "join"
	TypeJoinStream       Type = "join_stream"
	TypeJoinStreamAsHost Type = "join_stream_as_host"
	TypeLeave            Type = "leave"
	TypeLeaveStream      Type = "leave_stream"
	TypeEndStream        Type = "end_stream"
	TypeChatMessage      Type = "chat_message"
	TypeSendChatMessage  Type = "send_chat_message"
	TypeReaction         Type = "reaction"
	TypeSendReaction     Type = "send_reaction"
	TypeOffer            Type = "offer"
	TypeAnswer           Type = "answer"
	TypeICECandidate     Type = "ice-candidate"
	TypeCallEnd          Type = "call-end"
	TypeVideoFrame       Type = "video_frame"
	TypeAudioData        Type = "audio_data"
	TypePing             Type = "ping"
)

// Server-generated types. Clients sending these are dropped.
const (
	TypePong              Type = "pong"
	TypeUserJoined        Type = "user_joined"
	TypeUserLeft          Type = "user_left"
	TypeViewerCountUpdate Type = "viewer_count_update"
	TypeStreamEnded       Type = "stream_ended"
	TypeHostChanged       Type = "host_changed"
)

// Role is the part a user plays in a room.
type Role string

const (
	RoleHost   Role = "host"
	RoleViewer Role = "viewer"
)

// Fields holds every top-level member of an envelope. Values are kept as raw
// JSON so that anything the relay does not interpret is forwarded untouched.
type Fields map[string]json.RawMessage

// Has reports whether key is present and not null
func (f Fields) Has(key string) bool {
	v, ok := f[key]
	return ok && string(v) != "null"
}

// String returns the value of key if it is a JSON string
func (f Fields) String(key string) string {
	var s string
	if v, ok := f[key]; ok {
		_ = json.Unmarshal(v, &s)
	}
	return s
}

// Clone returns a shallow copy; raw values are never mutated in place.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f)+3)
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Envelope is one decoded client message. The concrete type is one of
// *Join, *Leave, *EndStream, *Chat, *Reaction, *Signal, *Media or *Ping.
type Envelope interface {
	Type() Type
	// Sender is the identity asserted in senderId (or userId), zero if absent.
	Sender() UserID
	Fields() Fields
	// Raw is the frame exactly as received.
	Raw() []byte

	sealed()
}

type base struct {
	typ    Type
	sender UserID
	fields Fields
	raw    []byte
}

func (b *base) Type() Type     { return b.typ }
func (b *base) Sender() UserID { return b.sender }
func (b *base) Fields() Fields { return b.fields }
func (b *base) Raw() []byte    { return b.raw }
func (b *base) sealed()        {}

// Join asks to enter a stream, as host or viewer.
type Join struct {
	base
	StreamID StreamID
	Role     Role
	Username string
}

// Leave removes the sender from a stream.
type Leave struct {
	base
	StreamID StreamID
}

// EndStream is the host closing its stream explicitly.
type EndStream struct {
	base
	StreamID StreamID
}

// Chat is a chat line for everyone in a stream.
type Chat struct {
	base
	StreamID StreamID
}

// Reaction is an emoji reaction for everyone in a stream.
type Reaction struct {
	base
	StreamID StreamID
}

// Signal is a peer-to-peer call message (offer, answer, ICE candidate, hang-up).
type Signal struct {
	base
	TargetID UserID
}

// Media is a host video frame or audio chunk fanned out to viewers.
type Media struct {
	base
	StreamID StreamID
}

// Ping is an application-level keepalive.
type Ping struct {
	base
}

// decode unmarshals key into v. Absent and null keys leave v untouched.
func (f Fields) decode(key string, v any) error {
	if !f.Has(key) {
		return nil
	}
	if err := json.Unmarshal(f[key], v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedEnvelope, key, err)
	}
	return nil
}

// Decode parses a text frame into its envelope variant. Only the addressing
// fields a type uses are interpreted; everything else is opaque payload and
// may hold any JSON value.
func Decode(data []byte) (Envelope, error) {
	var fields Fields
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformedEnvelope)
	}

	var typ Type
	if err := fields.decode("type", &typ); err != nil {
		return nil, err
	}
	if typ == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	}

	b := base{typ: typ, fields: fields, raw: data}
	if err := fields.decode("senderId", &b.sender); err != nil {
		return nil, err
	}
	if b.sender == 0 {
		// a non-numeric userId is payload, not an identity
		var u UserID
		if fields.decode("userId", &u) == nil {
			b.sender = u
		}
	}

	stream := func() (StreamID, error) {
		var id StreamID
		if err := fields.decode("streamId", &id); err != nil {
			return "", err
		}
		if id == "" {
			return "", fmt.Errorf("%w: %s requires streamId", ErrMalformedEnvelope, typ)
		}
		return id, nil
	}

	switch typ {
	case TypeJoin, TypeJoinStream, TypeJoinStreamAsHost:
		id, err := stream()
		if err != nil {
			return nil, err
		}
		role := RoleViewer
		if typ == TypeJoinStreamAsHost || Role(strings.ToLower(fields.String("role"))) == RoleHost {
			role = RoleHost
		}
		return &Join{base: b, StreamID: id, Role: role, Username: fields.String("username")}, nil

	case TypeLeave, TypeLeaveStream:
		id, err := stream()
		if err != nil {
			return nil, err
		}
		return &Leave{base: b, StreamID: id}, nil

	case TypeEndStream:
		id, err := stream()
		if err != nil {
			return nil, err
		}
		return &EndStream{base: b, StreamID: id}, nil

	case TypeChatMessage, TypeSendChatMessage:
		id, err := stream()
		if err != nil {
			return nil, err
		}
		return &Chat{base: b, StreamID: id}, nil

	case TypeReaction, TypeSendReaction:
		id, err := stream()
		if err != nil {
			return nil, err
		}
		return &Reaction{base: b, StreamID: id}, nil

	case TypeOffer, TypeAnswer, TypeICECandidate, TypeCallEnd:
		var target UserID
		if err := fields.decode("targetId", &target); err != nil {
			return nil, err
		}
		if target == 0 {
			if err := fields.decode("to", &target); err != nil {
				return nil, err
			}
		}
		if target == 0 {
			return nil, fmt.Errorf("%w: %s requires targetId", ErrMalformedEnvelope, typ)
		}
		return &Signal{base: b, TargetID: target}, nil

	case TypeVideoFrame, TypeAudioData:
		id, err := stream()
		if err != nil {
			return nil, err
		}
		return &Media{base: b, StreamID: id}, nil

	case TypePing:
		return &Ping{base: b}, nil

	case TypePong, TypeUserJoined, TypeUserLeft, TypeViewerCountUpdate, TypeStreamEnded, TypeHostChanged:
		return nil, fmt.Errorf("%w: %s", ErrServerOnlyType, typ)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
}

// encodeWith returns the envelope bytes for forwarding. The original frame is
// reused unless the type has to be canonicalised or a default field is
// missing; existing fields are never overwritten.
func encodeWith(env Envelope, typ Type, defaults map[string]any) ([]byte, error) {
	fields := env.Fields()
	var missing []string
	for k := range defaults {
		if !fields.Has(k) {
			missing = append(missing, k)
		}
	}
	if typ == env.Type() && len(missing) == 0 {
		return env.Raw(), nil
	}

	out := fields.Clone()
	if typ != env.Type() {
		t, _ := json.Marshal(typ)
		out["type"] = t
	}
	for _, k := range missing {
		v, err := json.Marshal(defaults[k])
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return json.Marshal(out)
}
