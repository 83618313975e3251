// Package broadcast is the read-side of the engine: it consumes mutation
// events from the bus, resolves which live sessions care, re-derives
// per-viewer visibility with the live ban overlay, and delivers per-viewer
// payloads over websocket connections.
package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/candorhq/riverd/model"
	Logger "github.com/candorhq/riverd/utils/log"
)

// TokenVerifier validates a presented credential and resolves the viewer it
// belongs to. Implemented by the server's JWT verifier, stubbed in tests.
type TokenVerifier interface {
	Verify(ctx context.Context, credential string) (viewerID string, err error)
}

// FeedDirectory is the slice of the membership store the registry needs to
// validate personal-scope room subscriptions.
type FeedDirectory interface {
	GetFeeds(feedIDs []int64) ([]model.Feed, error)
}

// Delivery is one server-to-client frame. RoomsMatched only ever names
// rooms the session explicitly subscribed to, so a session never learns
// about the event's presence in rooms it did not ask about.
type Delivery struct {
	Kind         string      `json:"kind"`
	Payload      interface{} `json:"payload"`
	RoomsMatched []string    `json:"roomsMatched,omitempty"`
}

// Session is one live connection: an optional authenticated viewer plus its
// room subscriptions. All mutable state is guarded by the owning registry's
// lock.
type Session struct {
	id         string
	viewerID   string
	credential string
	rooms      map[model.RoomID]bool
	send       chan *Delivery
	closed     bool
}

func (s *Session) ID() string {
	return s.id
}

// Deliveries is the receive side of the session's buffered send queue. The
// channel is closed when the session disconnects.
func (s *Session) Deliveries() <-chan *Delivery {
	return s.send
}

const sessionSendBuffer = 64

// Registry tracks live sessions, their viewer identity and their room
// subscriptions. Adding/removing a session or subscription grabs the write
// lock, everything on the delivery path grabs a read lock. A shared lock is
// enough at this fan-in, per-room locks can come later if it ever contends.
type Registry struct {
	mu sync.RWMutex

	sessions map[string]*Session
	// rooms indexes sessions by subscribed room for O(rooms) event routing.
	rooms map[model.RoomID]map[string]*Session

	verifier TokenVerifier
	feeds    FeedDirectory
}

func NewRegistry(verifier TokenVerifier, feeds FeedDirectory) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		rooms:    make(map[model.RoomID]map[string]*Session),
		verifier: verifier,
		feeds:    feeds,
	}
}

// Connect registers a new anonymous session.
func (r *Registry) Connect() *Session {
	session := &Session{
		id:    uuid.New().String(),
		rooms: make(map[model.RoomID]bool),
		send:  make(chan *Delivery, sessionSendBuffer),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.id] = session
	return session
}

// Disconnect drops the session and all its subscriptions and atomically
// stops further delivery attempts: the send channel is closed under the
// write lock, and every delivery path re-checks closed under a read lock.
func (r *Registry) Disconnect(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	for room := range session.rooms {
		r.dropFromRoomLocked(room, sessionID)
	}
	session.closed = true
	close(session.send)
	delete(r.sessions, sessionID)
}

func (r *Registry) dropFromRoomLocked(room model.RoomID, sessionID string) {
	if members, ok := r.rooms[room]; ok {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
}

// Authenticate verifies the presented credential and binds the session to
// the resolved viewer. An invalid credential downgrades the session to
// anonymous instead of erroring the connection, since anonymous access to
// public rooms remains valid.
func (r *Registry) Authenticate(ctx context.Context, sessionID string, credential string) (string, error) {
	viewerID := ""
	if credential != "" {
		id, err := r.verifier.Verify(ctx, credential)
		if err != nil {
			Logger.Log.Warnf("session %s presented an invalid credential, falling back to anonymous: %s", sessionID, err)
		} else {
			viewerID = id
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return "", ErrSessionGone
	}
	session.viewerID = viewerID
	session.credential = credential
	if viewerID == "" {
		r.dropPersonalRoomsLocked(session)
	}
	return viewerID, nil
}

// dropPersonalRoomsLocked unsubscribes the session from every room that
// required its former identity.
func (r *Registry) dropPersonalRoomsLocked(session *Session) {
	for room := range session.rooms {
		if room.Kind != model.RoomKindFeed {
			continue
		}
		feeds, err := r.feeds.GetFeeds([]int64{room.FeedID})
		if err != nil || len(feeds) == 0 {
			continue
		}
		if feeds[0].Kind != model.FeedKindPosts {
			delete(session.rooms, room)
			r.dropFromRoomLocked(room, session.id)
		}
	}
}

// SubscribeRooms adds room subscriptions. Personal-scope rooms (any feed
// room other than a Posts feed, e.g. a Directs or RiverOfNews room) may
// only be subscribed by the feed's owner.
func (r *Registry) SubscribeRooms(sessionID string, rooms []model.RoomID) error {
	// Resolve feed scope outside the lock.
	allowed := make([]model.RoomID, 0, len(rooms))
	viewerID := r.ViewerOf(sessionID)
	for _, room := range rooms {
		if room.Kind == model.RoomKindFeed {
			feeds, err := r.feeds.GetFeeds([]int64{room.FeedID})
			if err != nil {
				return err
			}
			if len(feeds) == 0 {
				return ErrUnknownRoom
			}
			if feeds[0].Kind != model.FeedKindPosts && feeds[0].UserID != viewerID {
				return ErrRoomForbidden
			}
		}
		allowed = append(allowed, room)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return ErrSessionGone
	}
	for _, room := range allowed {
		session.rooms[room] = true
		if r.rooms[room] == nil {
			r.rooms[room] = make(map[string]*Session)
		}
		r.rooms[room][sessionID] = session
	}
	return nil
}

// UnsubscribeRooms drops room subscriptions. Unknown rooms are ignored.
func (r *Registry) UnsubscribeRooms(sessionID string, rooms []model.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	for _, room := range rooms {
		delete(session.rooms, room)
		r.dropFromRoomLocked(room, sessionID)
	}
}

// ViewerOf returns the session's current viewer id, empty for anonymous.
func (r *Registry) ViewerOf(sessionID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if session, ok := r.sessions[sessionID]; ok {
		return session.viewerID
	}
	return ""
}

// Match is one session interested in an event, with the intersection of its
// subscribed rooms and the event's room set.
type Match struct {
	Session      *Session
	ViewerID     string
	RoomsMatched []model.RoomID
}

// SessionsForRooms resolves every session subscribed to at least one of the
// rooms. The result is a snapshot, safe to iterate without the lock.
func (r *Registry) SessionsForRooms(rooms []model.RoomID) []*Match {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make(map[string]*Match)
	for _, room := range rooms {
		for id, session := range r.rooms[room] {
			m, ok := matched[id]
			if !ok {
				m = &Match{Session: session, ViewerID: session.viewerID}
				matched[id] = m
			}
			m.RoomsMatched = append(m.RoomsMatched, room)
		}
	}

	result := make([]*Match, 0, len(matched))
	for _, m := range matched {
		result = append(result, m)
	}
	return result
}

// SessionsForViewer returns all live sessions bound to the viewer, with the
// per-session intersection of the given rooms. Used for actor-scoped events
// like hide/unhide, which go to the acting viewer only.
func (r *Registry) SessionsForViewer(viewerID string, rooms []model.RoomID) []*Match {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*Match
	for _, session := range r.sessions {
		if session.viewerID != viewerID {
			continue
		}
		m := &Match{Session: session, ViewerID: viewerID}
		for _, room := range rooms {
			if session.rooms[room] {
				m.RoomsMatched = append(m.RoomsMatched, room)
			}
		}
		result = append(result, m)
	}
	return result
}

// Push queues a delivery for the session without ever blocking the caller.
// A session whose buffer is full is a stalled connection, it gets dropped
// so one slow client cannot hold up delivery to others.
func (r *Registry) Push(session *Session, delivery *Delivery) {
	r.mu.RLock()
	if session.closed {
		r.mu.RUnlock()
		return
	}
	select {
	case session.send <- delivery:
		r.mu.RUnlock()
	default:
		r.mu.RUnlock()
		Logger.Log.Warnf("session %s delivery buffer full, dropping connection", session.id)
		r.Disconnect(session.id)
	}
}

// ActiveSessionCount reports the number of live sessions.
func (r *Registry) ActiveSessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// StartReauthorization re-validates every authenticated session's
// credential on the given interval, handling token revocation without
// requiring a reconnect. Runs until ctx is cancelled.
func (r *Registry) StartReauthorization(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.reauthorizeAll(ctx)
			}
		}
	}()
}

func (r *Registry) reauthorizeAll(ctx context.Context) {
	r.mu.RLock()
	type pending struct {
		id         string
		credential string
	}
	var authed []pending
	for id, session := range r.sessions {
		if session.viewerID != "" {
			authed = append(authed, pending{id: id, credential: session.credential})
		}
	}
	r.mu.RUnlock()

	for _, p := range authed {
		if _, err := r.verifier.Verify(ctx, p.credential); err != nil {
			Logger.Log.Infof("session %s credential no longer valid, downgrading to anonymous", p.id)
			// Authenticate with an empty credential downgrades and drops
			// personal rooms.
			r.Authenticate(ctx, p.id, "")
		}
	}
}
