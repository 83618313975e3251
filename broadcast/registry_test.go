package broadcast

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candorhq/riverd/model"
)

// fakeVerifier resolves credentials from a fixed table.
type fakeVerifier struct {
	tokens map[string]string
}

func (v *fakeVerifier) Verify(ctx context.Context, credential string) (string, error) {
	if viewerID, ok := v.tokens[credential]; ok {
		return viewerID, nil
	}
	return "", errors.New("unknown credential")
}

// fakeDirectory serves feed rows from memory.
type fakeDirectory struct {
	feeds map[int64]model.Feed
}

func (d *fakeDirectory) GetFeeds(feedIDs []int64) ([]model.Feed, error) {
	var result []model.Feed
	for _, id := range feedIDs {
		if feed, ok := d.feeds[id]; ok {
			result = append(result, feed)
		}
	}
	return result, nil
}

func newTestRegistry() *Registry {
	verifier := &fakeVerifier{tokens: map[string]string{
		"luna-token": "user-luna",
		"mars-token": "user-mars",
	}}
	directory := &fakeDirectory{feeds: map[int64]model.Feed{
		1: {Id: 1, UserID: "user-luna", Kind: model.FeedKindPosts},
		2: {Id: 2, UserID: "user-luna", Kind: model.FeedKindRiverOfNews},
		3: {Id: 3, UserID: "user-luna", Kind: model.FeedKindDirects},
	}}
	return NewRegistry(verifier, directory)
}

func TestConnectAndDisconnect(t *testing.T) {
	registry := newTestRegistry()

	session := registry.Connect()
	require.NotEmpty(t, session.ID())
	assert.Equal(t, 1, registry.ActiveSessionCount())

	registry.Disconnect(session.ID())
	assert.Equal(t, 0, registry.ActiveSessionCount())

	// The send channel is closed so the write pump unwinds.
	_, open := <-session.Deliveries()
	assert.False(t, open)

	// Disconnecting twice is harmless.
	registry.Disconnect(session.ID())
}

func TestAuthenticate(t *testing.T) {
	registry := newTestRegistry()
	session := registry.Connect()

	viewerID, err := registry.Authenticate(context.Background(), session.ID(), "luna-token")
	require.Nil(t, err)
	assert.Equal(t, "user-luna", viewerID)
	assert.Equal(t, "user-luna", registry.ViewerOf(session.ID()))
}

func TestAuthenticateInvalidTokenFallsBackToAnonymous(t *testing.T) {
	registry := newTestRegistry()
	session := registry.Connect()

	viewerID, err := registry.Authenticate(context.Background(), session.ID(), "bogus")
	require.Nil(t, err)
	assert.Equal(t, "", viewerID)
}

func TestAuthenticateGoneSession(t *testing.T) {
	registry := newTestRegistry()
	_, err := registry.Authenticate(context.Background(), "no-such-session", "luna-token")
	assert.Equal(t, ErrSessionGone, err)
}

func TestSubscribePublicRoom(t *testing.T) {
	registry := newTestRegistry()
	session := registry.Connect()

	// Posts feed rooms and post rooms are open to anonymous sessions.
	err := registry.SubscribeRooms(session.ID(), []model.RoomID{
		model.FeedRoom(1),
		model.PostRoom("post-1"),
	})
	require.Nil(t, err)

	matches := registry.SessionsForRooms([]model.RoomID{model.FeedRoom(1)})
	require.Len(t, matches, 1)
	assert.Equal(t, session.ID(), matches[0].Session.ID())
	assert.Equal(t, []model.RoomID{model.FeedRoom(1)}, matches[0].RoomsMatched)
}

func TestSubscribePersonalRoomRequiresOwner(t *testing.T) {
	registry := newTestRegistry()
	session := registry.Connect()

	// Anonymous sessions cannot join luna's river room.
	err := registry.SubscribeRooms(session.ID(), []model.RoomID{model.FeedRoom(2)})
	assert.Equal(t, ErrRoomForbidden, err)

	// Neither can a different authenticated viewer.
	registry.Authenticate(context.Background(), session.ID(), "mars-token")
	err = registry.SubscribeRooms(session.ID(), []model.RoomID{model.FeedRoom(2)})
	assert.Equal(t, ErrRoomForbidden, err)

	// The owner can.
	registry.Authenticate(context.Background(), session.ID(), "luna-token")
	err = registry.SubscribeRooms(session.ID(), []model.RoomID{model.FeedRoom(2)})
	assert.Nil(t, err)
}

func TestSubscribeUnknownRoom(t *testing.T) {
	registry := newTestRegistry()
	session := registry.Connect()

	err := registry.SubscribeRooms(session.ID(), []model.RoomID{model.FeedRoom(999)})
	assert.Equal(t, ErrUnknownRoom, err)
}

func TestDowngradeDropsPersonalRooms(t *testing.T) {
	registry := newTestRegistry()
	session := registry.Connect()

	registry.Authenticate(context.Background(), session.ID(), "luna-token")
	require.Nil(t, registry.SubscribeRooms(session.ID(), []model.RoomID{
		model.FeedRoom(1),
		model.FeedRoom(2),
		model.FeedRoom(3),
	}))

	// Losing identity drops the river and directs rooms but keeps the
	// public posts room.
	registry.Authenticate(context.Background(), session.ID(), "")

	assert.Len(t, registry.SessionsForRooms([]model.RoomID{model.FeedRoom(1)}), 1)
	assert.Empty(t, registry.SessionsForRooms([]model.RoomID{model.FeedRoom(2)}))
	assert.Empty(t, registry.SessionsForRooms([]model.RoomID{model.FeedRoom(3)}))
}

func TestUnsubscribeRooms(t *testing.T) {
	registry := newTestRegistry()
	session := registry.Connect()

	require.Nil(t, registry.SubscribeRooms(session.ID(), []model.RoomID{model.FeedRoom(1)}))
	registry.UnsubscribeRooms(session.ID(), []model.RoomID{model.FeedRoom(1)})
	assert.Empty(t, registry.SessionsForRooms([]model.RoomID{model.FeedRoom(1)}))

	// Unsubscribing a room that was never joined is a no-op.
	registry.UnsubscribeRooms(session.ID(), []model.RoomID{model.PostRoom("post-9")})
}

func TestSessionsForViewer(t *testing.T) {
	registry := newTestRegistry()
	first := registry.Connect()
	second := registry.Connect()
	third := registry.Connect()

	registry.Authenticate(context.Background(), first.ID(), "luna-token")
	registry.Authenticate(context.Background(), second.ID(), "luna-token")
	registry.Authenticate(context.Background(), third.ID(), "mars-token")

	require.Nil(t, registry.SubscribeRooms(first.ID(), []model.RoomID{model.FeedRoom(2)}))

	matches := registry.SessionsForViewer("user-luna", []model.RoomID{model.FeedRoom(2)})
	require.Len(t, matches, 2)
	for _, m := range matches {
		if m.Session.ID() == first.ID() {
			assert.Equal(t, []model.RoomID{model.FeedRoom(2)}, m.RoomsMatched)
		} else {
			assert.Empty(t, m.RoomsMatched)
		}
	}
}

func TestPushDropsStalledSession(t *testing.T) {
	registry := newTestRegistry()
	session := registry.Connect()

	for i := 0; i < sessionSendBuffer; i++ {
		registry.Push(session, &Delivery{Kind: "post:new"})
	}
	assert.Equal(t, 1, registry.ActiveSessionCount())

	// One past the buffer drops the connection rather than blocking.
	registry.Push(session, &Delivery{Kind: "post:new"})
	assert.Equal(t, 0, registry.ActiveSessionCount())

	// Pushing to a dropped session is a no-op.
	registry.Push(session, &Delivery{Kind: "post:new"})
}

func TestReauthorizationDowngradesRevokedSessions(t *testing.T) {
	verifier := &fakeVerifier{tokens: map[string]string{"luna-token": "user-luna"}}
	directory := &fakeDirectory{feeds: map[int64]model.Feed{
		2: {Id: 2, UserID: "user-luna", Kind: model.FeedKindRiverOfNews},
	}}
	registry := NewRegistry(verifier, directory)

	session := registry.Connect()
	registry.Authenticate(context.Background(), session.ID(), "luna-token")
	require.Nil(t, registry.SubscribeRooms(session.ID(), []model.RoomID{model.FeedRoom(2)}))

	// Revoke the token, then run one sweep.
	delete(verifier.tokens, "luna-token")
	registry.reauthorizeAll(context.Background())

	assert.Equal(t, "", registry.ViewerOf(session.ID()))
	assert.Empty(t, registry.SessionsForRooms([]model.RoomID{model.FeedRoom(2)}))
}
