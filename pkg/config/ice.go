package config

import (
	"fmt"
	"strings"

	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"
)

func validateICEServers(servers []ICEServer) error {
	for i, server := range servers {
		if len(server.URLs) == 0 {
			return fmt.Errorf("ice_servers[%d]: at least one url is required", i)
		}
		for _, raw := range server.URLs {
			uri, err := stun.ParseURI(strings.TrimSpace(raw))
			if err != nil {
				return fmt.Errorf("ice_servers[%d]: invalid url %q: %w", i, raw, err)
			}
			if (uri.Scheme == stun.SchemeTypeTURN || uri.Scheme == stun.SchemeTypeTURNS) && server.Username == "" {
				return fmt.Errorf("ice_servers[%d]: turn url %q requires a username", i, raw)
			}
		}
	}
	return nil
}

// WebRTCICEServers converts the configured servers to pion's representation,
// which is also the shape browsers expect in RTCConfiguration.iceServers.
func (c *Config) WebRTCICEServers() []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(c.ICEServers))
	for _, server := range c.ICEServers {
		s := webrtc.ICEServer{URLs: append([]string(nil), server.URLs...)}
		if server.Username != "" {
			s.Username = server.Username
			s.Credential = server.Credential
			s.CredentialType = webrtc.ICECredentialTypePassword
		}
		out = append(out, s)
	}
	return out
}
