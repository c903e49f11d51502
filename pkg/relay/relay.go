package relay

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/tphan267/pulse-relay/pkg/logger"
)

// HostPolicy decides what happens when a second user asks to host a stream
// that already has a host.
type HostPolicy string

const (
	HostPolicyReject   HostPolicy = "reject"
	HostPolicyTransfer HostPolicy = "transfer"
)

// Options configure a Relay.
type Options struct {
	// TrustClientIdentity lets an unauthenticated socket take the senderId of
	// its first envelope as its identity.
	TrustClientIdentity bool
	HostPolicy          HostPolicy
	ValidateSignaling   bool
	// QueueSize bounds the command queue feeding the event loop.
	QueueSize int
	Observer  Observer
	Now       func() time.Time
}

// Stats is a point-in-time view of the relay.
type Stats struct {
	Connections   int       `json:"connections"`
	Bound         int       `json:"bound"`
	Rooms         int       `json:"rooms"`
	Viewers       int       `json:"viewers"`
	Routed        uint64    `json:"routed"`
	Dropped       uint64    `json:"dropped"`
	StreamsOpened uint64    `json:"streamsOpened"`
	StartedAt     time.Time `json:"startedAt"`
}

// ConnectionInfo describes the live connection of a bound user.
type ConnectionInfo struct {
	UserID       UserID    `json:"userId"`
	ConnectionID string    `json:"connectionId"`
	Username     string    `json:"username,omitempty"`
	ConnectedAt  time.Time `json:"connectedAt"`
}

// peer is the loop's view of one socket.
type peer struct {
	conn      Conn
	user      UserID
	username  string
	avatarURL string
	canHost   bool
}

func (p *peer) bound() bool { return p.user != 0 }

// Relay routes envelopes between connected users. Registry and room state
// are confined to the goroutine running Run; every other method hands a
// closure to that goroutine.
type Relay struct {
	opts     Options
	log      *logger.Logger
	observer Observer

	registry *Registry
	rooms    *Rooms
	peers    map[string]*peer

	cmds    chan func()
	done    chan struct{}
	running atomic.Bool

	routed        atomic.Uint64
	dropped       atomic.Uint64
	streamsOpened atomic.Uint64
	startedAt     time.Time
}

// New builds a relay. Run must be called before it processes anything.
func New(opts Options, log *logger.Logger) *Relay {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.HostPolicy == "" {
		opts.HostPolicy = HostPolicyReject
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if log == nil {
		log = logger.Discard()
	}
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	return &Relay{
		opts:      opts,
		log:       log,
		observer:  observer,
		registry:  NewRegistry(opts.Now),
		rooms:     NewRooms(opts.Now),
		peers:     make(map[string]*peer),
		cmds:      make(chan func(), opts.QueueSize),
		done:      make(chan struct{}),
		startedAt: opts.Now(),
	}
}

// Run processes commands until ctx is cancelled. On exit every open room is
// ended and every connection closed.
func (r *Relay) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return nil
	}
	r.log.Info("Relay loop started (policy=%s, trust=%v)", r.opts.HostPolicy, r.opts.TrustClientIdentity)
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			r.log.Info("Relay loop stopped")
			return nil
		case fn := <-r.cmds:
			fn()
		}
	}
}

func (r *Relay) shutdown() {
	for _, info := range r.rooms.Snapshot() {
		r.endRoom(info.StreamID, ReasonShutdown)
	}
	for id, p := range r.peers {
		_ = p.conn.Close()
		delete(r.peers, id)
	}
}

// enqueue hands fn to the loop without waiting for it to run.
func (r *Relay) enqueue(fn func()) error {
	select {
	case <-r.done:
		return ErrRelayClosed
	default:
	}
	select {
	case r.cmds <- fn:
		return nil
	case <-r.done:
		return ErrRelayClosed
	}
}

// exec runs fn on the loop and waits for it to finish.
func (r *Relay) exec(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case r.cmds <- func() { fn(); close(finished) }:
	case <-r.done:
		return ErrRelayClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-r.done:
		return ErrRelayClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect announces a new socket. A non-zero identity binds it at once; in
// trust mode a zero identity is bound by the first envelope that names a
// sender.
func (r *Relay) Connect(conn Conn, id Identity) error {
	return r.enqueue(func() {
		p := &peer{
			conn:      conn,
			username:  id.Username,
			avatarURL: id.AvatarURL,
			canHost:   id.CanHost,
		}
		r.peers[conn.ID()] = p
		if id.UserID != 0 {
			r.bind(p, id.UserID)
		}
		r.log.Debug("Connection %s opened (user=%s)", conn.ID(), id.UserID)
	})
}

// Dispatch routes one inbound frame. Calls from a single reader preserve
// their order.
func (r *Relay) Dispatch(conn Conn, data []byte) error {
	return r.enqueue(func() {
		p, ok := r.peers[conn.ID()]
		if !ok {
			return
		}
		r.route(p, data)
	})
}

// Disconnect forgets a socket and, if it was still the user's live
// connection, removes the user from every room.
func (r *Relay) Disconnect(conn Conn) error {
	return r.enqueue(func() {
		p, ok := r.peers[conn.ID()]
		if !ok {
			return
		}
		delete(r.peers, conn.ID())
		if !p.bound() {
			return
		}
		if !r.registry.Unregister(p.user, conn) {
			r.log.Debug("Connection %s of user %s was superseded, skipping cleanup", conn.ID(), p.user)
			return
		}
		r.departAll(p, ReasonHostDisconnected)
		r.observe(Event{Kind: EventDisconnected, UserID: p.user})
		r.log.Debug("User %s disconnected", p.user)
	})
}

// bind registers p under user, closing any connection it supersedes.
func (r *Relay) bind(p *peer, user UserID) {
	p.user = user
	prev := r.registry.Register(user, p.conn)
	if prev != nil {
		delete(r.peers, prev.Handle.ID())
		_ = prev.Handle.Close()
		r.log.Info("User %s reconnected, closed previous connection %s", user, prev.Handle.ID())
	}
	r.observe(Event{Kind: EventConnected, UserID: user})
}

// Streams returns the open rooms
func (r *Relay) Streams(ctx context.Context) ([]StreamInfo, error) {
	var out []StreamInfo
	err := r.exec(ctx, func() { out = r.rooms.Snapshot() })
	return out, err
}

// Stream returns a single room
func (r *Relay) Stream(ctx context.Context, id StreamID) (StreamInfo, error) {
	var (
		info  StreamInfo
		found bool
	)
	err := r.exec(ctx, func() {
		room, ok := r.rooms.Get(id)
		if ok {
			info, found = room.info(), true
		}
	})
	if err != nil {
		return StreamInfo{}, err
	}
	if !found {
		return StreamInfo{}, ErrRoomNotFound
	}
	return info, nil
}

// EndStream tears a room down from outside, e.g. an admin request
func (r *Relay) EndStream(ctx context.Context, id StreamID, reason string) error {
	if reason == "" {
		reason = ReasonForceEnded
	}
	var found bool
	err := r.exec(ctx, func() {
		_, found = r.rooms.Get(id)
		if found {
			r.endRoom(id, reason)
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrRoomNotFound
	}
	return nil
}

// Online reports whether user has a live connection
func (r *Relay) Online(ctx context.Context, user UserID) (bool, error) {
	var ok bool
	err := r.exec(ctx, func() { _, ok = r.registry.Lookup(user) })
	return ok, err
}

// Connections lists the bound users in ascending id order
func (r *Relay) Connections(ctx context.Context) ([]ConnectionInfo, error) {
	out := []ConnectionInfo{}
	err := r.exec(ctx, func() {
		for _, user := range r.registry.Users() {
			c, ok := r.registry.Get(user)
			if !ok {
				continue
			}
			info := ConnectionInfo{
				UserID:       user,
				ConnectionID: c.Handle.ID(),
				ConnectedAt:  c.ConnectedAt,
			}
			if p, ok := r.peers[c.Handle.ID()]; ok {
				info.Username = p.username
			}
			out = append(out, info)
		}
	})
	return out, err
}

// Stats returns counters and table sizes
func (r *Relay) Stats(ctx context.Context) (Stats, error) {
	s := Stats{
		Routed:        r.routed.Load(),
		Dropped:       r.dropped.Load(),
		StreamsOpened: r.streamsOpened.Load(),
		StartedAt:     r.startedAt,
	}
	err := r.exec(ctx, func() {
		s.Connections = len(r.peers)
		s.Bound = r.registry.Len()
		s.Rooms = r.rooms.Len()
		for _, info := range r.rooms.Snapshot() {
			s.Viewers += info.ViewerCount
		}
	})
	return s, err
}
