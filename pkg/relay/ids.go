package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// UserID is the numeric identity of an account. On the wire it may arrive as
// a JSON number or a numeric string; zero means "not set".
type UserID int64

func (u UserID) String() string {
	return strconv.FormatInt(int64(u), 10)
}

func (u UserID) MarshalJSON() ([]byte, error) {
	return []byte(u.String()), nil
}

func (u *UserID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*u = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if strings.TrimSpace(s) == "" {
			*u = 0
			return nil
		}
		data = []byte(strings.TrimSpace(s))
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid user id %s", data)
	}
	*u = UserID(v)
	return nil
}

// ParseUserID parses a decimal user id
func ParseUserID(s string) (UserID, error) {
	var u UserID
	if err := u.UnmarshalJSON([]byte(strconv.Quote(s))); err != nil {
		return 0, err
	}
	return u, nil
}

// StreamID identifies a live stream. Clients send either numbers (42) or
// strings ("stream-42"); ids in canonical decimal form are written back as
// numbers, anything else ("042", "+5") stays a string.
type StreamID string

func (s StreamID) MarshalJSON() ([]byte, error) {
	if s.numeric() {
		return []byte(s), nil
	}
	return json.Marshal(string(s))
}

func (s *StreamID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*s = ""
	case len(data) > 0 && data[0] == '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = StreamID(strings.TrimSpace(v))
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("invalid stream id %s", data)
		}
		*s = StreamID(n.String())
	}
	return nil
}

func (s StreamID) numeric() bool {
	if s == "" {
		return false
	}
	v, err := strconv.ParseInt(string(s), 10, 64)
	return err == nil && strconv.FormatInt(v, 10) == string(s)
}
