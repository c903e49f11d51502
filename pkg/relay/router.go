package relay

import "errors"

// route decodes one frame from p and forwards it. Runs on the relay loop.
func (r *Relay) route(p *peer, data []byte) {
	env, err := Decode(data)
	if err != nil {
		reason := DropMalformed
		switch {
		case errors.Is(err, ErrUnknownType):
			reason = DropUnknownType
		case errors.Is(err, ErrServerOnlyType):
			reason = DropServerOnly
		}
		r.drop(p, "", "", reason)
		r.log.Warn("Dropped frame from %s: %v", p.conn.ID(), err)
		return
	}

	if _, ok := env.(*Ping); ok {
		if data, ok := r.encodeEvent(pong(r.opts.Now())); ok {
			r.deliver(p.conn, data)
		}
		return
	}

	if !r.authenticate(p, env) {
		return
	}

	switch e := env.(type) {
	case *Join:
		r.routeJoin(p, e)
	case *Leave:
		r.routeLeave(p, e)
	case *EndStream:
		r.routeEndStream(p, e)
	case *Chat:
		r.routeRoomBroadcast(p, e, e.StreamID, TypeChatMessage)
	case *Reaction:
		r.routeRoomBroadcast(p, e, e.StreamID, TypeReaction)
	case *Signal:
		r.routeSignal(p, e)
	case *Media:
		r.routeMedia(p, e)
	}
}

// authenticate makes sure p has an identity and that env does not claim a
// different one.
func (r *Relay) authenticate(p *peer, env Envelope) bool {
	sender := env.Sender()
	if !p.bound() {
		if !r.opts.TrustClientIdentity || sender == 0 {
			r.drop(p, env.Type(), "", DropUnbound)
			r.log.Debug("Dropped %s from unbound connection %s", env.Type(), p.conn.ID())
			return false
		}
		r.bind(p, sender)
		r.log.Debug("Connection %s bound to user %s", p.conn.ID(), sender)
		return true
	}
	if sender != 0 && sender != p.user {
		r.drop(p, env.Type(), "", DropSpoofed)
		r.log.Warn("Dropped %s from user %s claiming to be %s", env.Type(), p.user, sender)
		return false
	}
	return true
}

func (r *Relay) routeJoin(p *peer, e *Join) {
	if p.username == "" {
		p.username = e.Username
	}
	if p.avatarURL == "" {
		p.avatarURL = e.Fields().String("avatarUrl")
	}

	room, exists := r.rooms.Get(e.StreamID)

	if e.Role == RoleHost {
		if !p.canHost {
			r.drop(p, e.Type(), e.StreamID, DropForbidden)
			r.log.Warn("User %s is not allowed to host stream %s", p.user, e.StreamID)
			return
		}
		if !exists {
			if _, err := r.rooms.CreateRoom(e.StreamID, p.user); err != nil {
				r.log.Error("Failed to create room %s: %v", e.StreamID, err)
				return
			}
			r.streamsOpened.Add(1)
			r.observe(Event{Kind: EventStreamStarted, UserID: p.user, StreamID: e.StreamID})
			r.log.Info("Stream %s started by user %s", e.StreamID, p.user)
			return
		}
		if room.Host == p.user {
			r.log.Debug("User %s rejoined stream %s as host", p.user, e.StreamID)
			return
		}
		if r.opts.HostPolicy != HostPolicyTransfer {
			r.drop(p, e.Type(), e.StreamID, DropHostTaken)
			r.log.Warn("User %s tried to host stream %s already hosted by %s", p.user, e.StreamID, room.Host)
			return
		}
		prev, _ := r.rooms.TransferHost(e.StreamID, p.user)
		now := r.opts.Now()
		count := room.ViewerCount()
		r.broadcastEvent(append(room.Viewers(), prev), hostChanged(e.StreamID, p.user, prev, p.username, count, now), p.user)
		r.broadcastEvent(room.Viewers(), viewerCount(e.StreamID, count, now), 0)
		r.observe(Event{Kind: EventHostChanged, UserID: p.user, StreamID: e.StreamID})
		r.log.Info("Stream %s transferred from user %s to %s", e.StreamID, prev, p.user)
		return
	}

	if !exists {
		r.drop(p, e.Type(), e.StreamID, DropNoRoom)
		r.log.Debug("User %s joined unknown stream %s", p.user, e.StreamID)
		return
	}
	added, _ := r.rooms.AddViewer(e.StreamID, p.user)
	if !added {
		return
	}

	now := r.opts.Now()
	count := room.ViewerCount()
	members := room.Members()
	r.broadcastEvent(members, userJoined(e.StreamID, p.user, p.username, p.avatarURL, count, now), p.user)
	r.broadcastEvent(members, viewerCount(e.StreamID, count, now), p.user)
	r.observe(Event{Kind: EventViewerJoined, UserID: p.user, StreamID: e.StreamID})
}

func (r *Relay) routeLeave(p *peer, e *Leave) {
	room, ok := r.rooms.Get(e.StreamID)
	if !ok {
		r.drop(p, e.Type(), e.StreamID, DropNoRoom)
		return
	}
	if room.Host == p.user {
		r.endRoom(e.StreamID, ReasonHostLeft)
		return
	}
	r.removeViewer(p, e.StreamID)
}

func (r *Relay) routeEndStream(p *peer, e *EndStream) {
	room, ok := r.rooms.Get(e.StreamID)
	if !ok {
		r.drop(p, e.Type(), e.StreamID, DropNoRoom)
		return
	}
	if room.Host != p.user {
		r.drop(p, e.Type(), e.StreamID, DropNotHost)
		r.log.Warn("User %s tried to end stream %s hosted by %s", p.user, e.StreamID, room.Host)
		return
	}
	r.endRoom(e.StreamID, ReasonEnded)
}

// routeRoomBroadcast sends chat and reactions to every member, sender
// included.
func (r *Relay) routeRoomBroadcast(p *peer, env Envelope, stream StreamID, typ Type) {
	room, ok := r.rooms.Get(stream)
	if !ok {
		r.drop(p, env.Type(), stream, DropNoRoom)
		return
	}
	if !room.IsMember(p.user) {
		r.drop(p, env.Type(), stream, DropNotMember)
		return
	}
	data, err := encodeWith(env, typ, r.stamp(p))
	if err != nil {
		r.log.Error("Failed to encode %s: %v", typ, err)
		return
	}
	r.broadcast(room.Members(), data, 0)
	r.markRouted(p, typ, stream)
}

func (r *Relay) routeSignal(p *peer, e *Signal) {
	if r.opts.ValidateSignaling {
		if err := validateSignal(e); err != nil {
			r.drop(p, e.Type(), "", DropInvalidSignal)
			r.log.Warn("Dropped %s from user %s: %v", e.Type(), p.user, err)
			return
		}
	}
	target, ok := r.registry.Lookup(e.TargetID)
	if !ok {
		r.drop(p, e.Type(), "", DropNoTarget)
		r.log.Debug("Dropped %s from %s: user %s is not connected", e.Type(), p.user, e.TargetID)
		return
	}
	data, err := encodeWith(e, e.Type(), map[string]any{"senderId": p.user})
	if err != nil {
		r.log.Error("Failed to encode %s: %v", e.Type(), err)
		return
	}
	r.deliver(target, data)
	r.markRouted(p, e.Type(), "")
}

// routeMedia fans host frames out to viewers only.
func (r *Relay) routeMedia(p *peer, e *Media) {
	room, ok := r.rooms.Get(e.StreamID)
	if !ok {
		r.drop(p, e.Type(), e.StreamID, DropNoRoom)
		return
	}
	if room.Host != p.user {
		r.drop(p, e.Type(), e.StreamID, DropNotHost)
		return
	}
	data, err := encodeWith(e, e.Type(), map[string]any{"senderId": p.user})
	if err != nil {
		r.log.Error("Failed to encode %s: %v", e.Type(), err)
		return
	}
	r.broadcast(room.Viewers(), data, p.user)
	r.markRouted(p, e.Type(), e.StreamID)
}

func (r *Relay) removeViewer(p *peer, stream StreamID) {
	rem, err := r.rooms.RemoveViewer(stream, p.user)
	if err != nil || !rem.Removed {
		return
	}
	room, ok := r.rooms.Get(stream)
	if !ok {
		return
	}
	now := r.opts.Now()
	members := room.Members()
	r.broadcastEvent(members, userLeft(stream, p.user, p.username, rem.ViewerCount, now), 0)
	r.broadcastEvent(members, viewerCount(stream, rem.ViewerCount, now), 0)
	r.observe(Event{Kind: EventViewerLeft, UserID: p.user, StreamID: stream})
}

// endRoom deletes the room and tells its viewers. The host is told only when
// the end did not come from the host itself.
func (r *Relay) endRoom(stream StreamID, reason string) {
	room, ok := r.rooms.Delete(stream)
	if !ok {
		return
	}
	recipients := room.Viewers()
	if reason == ReasonForceEnded || reason == ReasonShutdown {
		recipients = append(recipients, room.Host)
	}
	r.broadcastEvent(recipients, streamEnded(stream, room.Host, reason, r.opts.Now()), 0)
	r.observe(Event{Kind: EventStreamEnded, UserID: room.Host, StreamID: stream, Reason: reason})
	r.log.Info("Stream %s ended (%s), %d viewers notified", stream, reason, room.ViewerCount())
}

// departAll removes p's user from every room it belongs to.
func (r *Relay) departAll(p *peer, hostReason string) {
	for _, stream := range r.rooms.StreamsOf(p.user) {
		room, ok := r.rooms.Get(stream)
		if !ok {
			continue
		}
		if room.Host == p.user {
			r.endRoom(stream, hostReason)
			continue
		}
		r.removeViewer(p, stream)
	}
}

// stamp returns the identity fields added to chat and reactions when the
// client left them out.
func (r *Relay) stamp(p *peer) map[string]any {
	fields := map[string]any{
		"senderId":  p.user,
		"timestamp": millis(r.opts.Now()),
	}
	if p.username != "" {
		fields["username"] = p.username
	}
	if p.avatarURL != "" {
		fields["avatarUrl"] = p.avatarURL
	}
	return fields
}

func (r *Relay) broadcast(users []UserID, data []byte, except UserID) {
	for _, u := range users {
		if u == except {
			continue
		}
		conn, ok := r.registry.Lookup(u)
		if !ok {
			continue
		}
		r.deliver(conn, data)
	}
}

// broadcastEvent encodes a server event once and sends it to users. An event
// that cannot be encoded is logged and dropped.
func (r *Relay) broadcastEvent(users []UserID, e PresenceEvent, except UserID) {
	if data, ok := r.encodeEvent(e); ok {
		r.broadcast(users, data, except)
	}
}

func (r *Relay) encodeEvent(e PresenceEvent) ([]byte, bool) {
	data, err := e.encode()
	if err != nil {
		r.log.Error("Failed to encode %s for stream %q: %v", e.Type, string(e.StreamID), err)
		return nil, false
	}
	return data, true
}

func (r *Relay) deliver(conn Conn, data []byte) {
	if !conn.Send(data) {
		r.dropped.Add(1)
		r.observe(Event{Kind: EventDropped, Reason: DropQueueFull})
		r.log.Debug("Send queue of %s is full, dropped frame", conn.ID())
	}
}

func (r *Relay) markRouted(p *peer, typ Type, stream StreamID) {
	r.routed.Add(1)
	r.observe(Event{Kind: EventRouted, UserID: p.user, StreamID: stream, Type: typ})
}

func (r *Relay) drop(p *peer, typ Type, stream StreamID, reason string) {
	r.dropped.Add(1)
	r.observe(Event{Kind: EventDropped, UserID: p.user, StreamID: stream, Type: typ, Reason: reason})
}
