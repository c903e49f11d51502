package relay

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// sessionDescription accepts both {"sdp": "v=0..."} and
// {"sdp": {"type": "offer", "sdp": "v=0..."}} payload shapes.
type sessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func (s *sessionDescription) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err == nil {
		s.SDP = raw
		return nil
	}
	type plain sessionDescription
	return json.Unmarshal(data, (*plain)(s))
}

// validateSignal checks that offers and answers carry a parseable SDP and
// that ICE candidates carry a candidate field. call-end has no payload.
func validateSignal(env *Signal) error {
	fields := env.Fields()
	switch env.Type() {
	case TypeOffer, TypeAnswer:
		sdpType := webrtc.SDPTypeOffer
		if env.Type() == TypeAnswer {
			sdpType = webrtc.SDPTypeAnswer
		}
		raw, ok := fields["sdp"]
		if !ok {
			// some clients nest the description under its own type name
			raw, ok = fields[string(env.Type())]
		}
		if !ok {
			return fmt.Errorf("%w: %s without sdp", ErrInvalidSignal, env.Type())
		}
		var desc sessionDescription
		if err := json.Unmarshal(raw, &desc); err != nil || desc.SDP == "" {
			return fmt.Errorf("%w: %s without sdp", ErrInvalidSignal, env.Type())
		}
		if desc.Type != "" && desc.Type != sdpType.String() {
			return fmt.Errorf("%w: %s carries a %q description", ErrInvalidSignal, env.Type(), desc.Type)
		}
		sd := webrtc.SessionDescription{Type: sdpType, SDP: desc.SDP}
		if _, err := sd.Unmarshal(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSignal, err)
		}

	case TypeICECandidate:
		raw, ok := fields["candidate"]
		if !ok {
			return fmt.Errorf("%w: ice-candidate without candidate", ErrInvalidSignal)
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return nil
		}
		var init webrtc.ICECandidateInit
		if err := json.Unmarshal(raw, &init); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSignal, err)
		}
	}
	return nil
}
