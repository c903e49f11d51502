package relayclient

// HostStream opens streamID with this client as host
func (c *Client) HostStream(streamID string) error {
	return c.Send(Envelope{"type": "join_stream_as_host", "streamId": streamID})
}

// JoinStream joins streamID as a viewer
func (c *Client) JoinStream(streamID, username string) error {
	env := Envelope{"type": "join_stream", "streamId": streamID}
	if username != "" {
		env["username"] = username
	}
	return c.Send(env)
}

// LeaveStream leaves streamID
func (c *Client) LeaveStream(streamID string) error {
	return c.Send(Envelope{"type": "leave_stream", "streamId": streamID})
}

// EndStream closes a stream this client hosts
func (c *Client) EndStream(streamID string) error {
	return c.Send(Envelope{"type": "end_stream", "streamId": streamID})
}

// Chat sends a chat line to streamID
func (c *Client) Chat(streamID, text string) error {
	return c.Send(Envelope{"type": "send_chat_message", "streamId": streamID, "message": text})
}

// React sends an emoji reaction to streamID
func (c *Client) React(streamID, emoji string) error {
	return c.Send(Envelope{"type": "send_reaction", "streamId": streamID, "emoji": emoji})
}

// Signal sends a call message (offer, answer, ice-candidate, call-end) to a peer
func (c *Client) Signal(msgType string, targetID int64, payload Envelope) error {
	env := Envelope{}
	for k, v := range payload {
		env[k] = v
	}
	env["type"] = msgType
	env["targetId"] = targetID
	return c.Send(env)
}

// Ping sends an application keepalive; the relay answers with pong
func (c *Client) Ping() error {
	return c.Send(Envelope{"type": "ping"})
}
