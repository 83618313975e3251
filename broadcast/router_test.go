package broadcast

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/candorhq/riverd/eventbus"
	"github.com/candorhq/riverd/fanout"
	"github.com/candorhq/riverd/model"
	"github.com/candorhq/riverd/store"
	"github.com/candorhq/riverd/utils"
	"github.com/candorhq/riverd/utils/dotenv"
)

func TestMain(m *testing.M) {
	dotenv.LoadDotEnvsInTests()
	os.Exit(m.Run())
}

// captureBus records events so tests can replay them through the router
// synchronously.
type captureBus struct {
	events []*model.Event
}

func (b *captureBus) Publish(ctx context.Context, topic string, event *model.Event) error {
	b.events = append(b.events, event)
	return nil
}

func (b *captureBus) Subscribe(ctx context.Context, topic string, handler eventbus.Handler) error {
	return nil
}

func (b *captureBus) last() *model.Event {
	if len(b.events) == 0 {
		return nil
	}
	return b.events[len(b.events)-1]
}

type routerFixture struct {
	db       *gorm.DB
	engine   *fanout.Engine
	router   *Router
	registry *Registry
	verifier *fakeVerifier
	bus      *captureBus
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	db, _ := utils.CreateTempDB(t)
	membership := store.NewMembershipStore(db)
	bus := &captureBus{}
	verifier := &fakeVerifier{tokens: map[string]string{}}
	registry := NewRegistry(verifier, membership)
	return &routerFixture{
		db:       db,
		engine:   fanout.NewEngine(db, membership, bus),
		router:   NewRouter(membership, registry),
		registry: registry,
		verifier: verifier,
		bus:      bus,
	}
}

// session opens a connection for the user (anonymous when userID is empty)
// subscribed to the given rooms.
func (f *routerFixture) session(t *testing.T, userID string, rooms ...model.RoomID) *Session {
	t.Helper()
	session := f.registry.Connect()
	if userID != "" {
		token := "token-" + session.ID()
		f.verifier.tokens[token] = userID
		_, err := f.registry.Authenticate(context.Background(), session.ID(), token)
		require.Nil(t, err)
	}
	if len(rooms) > 0 {
		require.Nil(t, f.registry.SubscribeRooms(session.ID(), rooms))
	}
	return session
}

// tryReceive pops a queued delivery without blocking.
func tryReceive(s *Session) *Delivery {
	select {
	case d := <-s.Deliveries():
		return d
	default:
		return nil
	}
}

func (f *routerFixture) feedRoom(t *testing.T, userID string, kind model.FeedKind) model.RoomID {
	t.Helper()
	return model.FeedRoom(utils.TestGetFeed(t, f.db, userID, kind).Id)
}

func TestRouterDeliversToSubscriberRiver(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	luna := utils.TestCreateUserAndValidate(t, f.db, "luna")
	mars := utils.TestCreateUserAndValidate(t, f.db, "mars")
	lunaPosts := utils.TestGetFeed(t, f.db, luna.Id, model.FeedKindPosts)
	require.Nil(t, f.engine.Subscribe(ctx, mars.Id, lunaPosts.Id))

	marsRiver := f.feedRoom(t, mars.Id, model.FeedKindRiverOfNews)
	session := f.session(t, mars.Id, marsRiver)

	post, err := f.engine.CreatePost(ctx, luna.Id, "hello", []int64{lunaPosts.Id}, false)
	require.Nil(t, err)
	f.router.HandleEvent(f.bus.last())

	delivery := tryReceive(session)
	require.NotNil(t, delivery)
	assert.Equal(t, "post:new", delivery.Kind)
	assert.Equal(t, []string{marsRiver.String()}, delivery.RoomsMatched)

	payload, ok := delivery.Payload.(*EventPayload)
	require.True(t, ok)
	assert.Equal(t, post.Id, payload.Post.ID)
	assert.Equal(t, "hello", payload.Post.Body)
	assert.Nil(t, payload.Comment)

	// One event, one frame.
	assert.Nil(t, tryReceive(session))
}

func TestRouterPublicPostReachesAnonymous(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	luna := utils.TestCreateUserAndValidate(t, f.db, "luna")
	lunaPosts := f.feedRoom(t, luna.Id, model.FeedKindPosts)
	session := f.session(t, "", lunaPosts)

	_, err := f.engine.CreatePost(ctx, luna.Id, "hello",
		[]int64{lunaPosts.FeedID}, false)
	require.Nil(t, err)
	f.router.HandleEvent(f.bus.last())

	assert.NotNil(t, tryReceive(session))
}

func TestRouterWithholdsProtectedFromAnonymous(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	pallas := utils.TestCreateProtectedUserAndValidate(t, f.db, "pallas")
	mars := utils.TestCreateUserAndValidate(t, f.db, "mars")
	pallasPosts := f.feedRoom(t, pallas.Id, model.FeedKindPosts)

	anonymous := f.session(t, "", pallasPosts)
	authed := f.session(t, mars.Id, pallasPosts)

	_, err := f.engine.CreatePost(ctx, pallas.Id, "members only",
		[]int64{pallasPosts.FeedID}, false)
	require.Nil(t, err)
	f.router.HandleEvent(f.bus.last())

	assert.Nil(t, tryReceive(anonymous))
	assert.NotNil(t, tryReceive(authed))
}

func TestRouterWithholdsFromBannedViewer(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	luna := utils.TestCreateUserAndValidate(t, f.db, "luna")
	venus := utils.TestCreateUserAndValidate(t, f.db, "venus")
	require.Nil(t, f.engine.Ban(ctx, venus.Id, luna.Id))

	lunaPosts := f.feedRoom(t, luna.Id, model.FeedKindPosts)
	venusSession := f.session(t, venus.Id, lunaPosts)

	_, err := f.engine.CreatePost(ctx, luna.Id, "hello", []int64{lunaPosts.FeedID}, false)
	require.Nil(t, err)
	f.router.HandleEvent(f.bus.last())

	assert.Nil(t, tryReceive(venusSession))
}

func TestRouterWithholdsBannedActorsActivity(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	luna := utils.TestCreateUserAndValidate(t, f.db, "luna")
	mars := utils.TestCreateUserAndValidate(t, f.db, "mars")
	venus := utils.TestCreateUserAndValidate(t, f.db, "venus")

	lunaPosts := f.feedRoom(t, luna.Id, model.FeedKindPosts)
	post, err := f.engine.CreatePost(ctx, luna.Id, "hello", []int64{lunaPosts.FeedID}, false)
	require.Nil(t, err)

	// Venus banned mars after the post appeared. She still sees the post but
	// mars' new comment must never reach her stream.
	require.Nil(t, f.engine.Ban(ctx, venus.Id, mars.Id))
	venusSession := f.session(t, venus.Id, model.PostRoom(post.Id))
	lunaSession := f.session(t, luna.Id, model.PostRoom(post.Id))

	_, err = f.engine.AddComment(ctx, post.Id, mars.Id, "hi there")
	require.Nil(t, err)
	f.router.HandleEvent(f.bus.last())

	assert.Nil(t, tryReceive(venusSession))

	delivery := tryReceive(lunaSession)
	require.NotNil(t, delivery)
	assert.Equal(t, "comment:new", delivery.Kind)
	payload, ok := delivery.Payload.(*EventPayload)
	require.True(t, ok)
	require.NotNil(t, payload.Comment)
	assert.Equal(t, "hi there", payload.Comment.Body)
}

func TestRouterPerViewerCounters(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	luna := utils.TestCreateUserAndValidate(t, f.db, "luna")
	mars := utils.TestCreateUserAndValidate(t, f.db, "mars")
	venus := utils.TestCreateUserAndValidate(t, f.db, "venus")
	require.Nil(t, f.engine.Ban(ctx, venus.Id, mars.Id))

	lunaPosts := f.feedRoom(t, luna.Id, model.FeedKindPosts)
	post, err := f.engine.CreatePost(ctx, luna.Id, "hello", []int64{lunaPosts.FeedID}, false)
	require.Nil(t, err)

	marsSession := f.session(t, mars.Id, model.PostRoom(post.Id))
	venusSession := f.session(t, venus.Id, model.PostRoom(post.Id))

	require.Nil(t, f.engine.AddLike(ctx, post.Id, mars.Id))
	f.router.HandleEvent(f.bus.last())

	// The liker sees their own like counted and flagged.
	delivery := tryReceive(marsSession)
	require.NotNil(t, delivery)
	payload := delivery.Payload.(*EventPayload)
	assert.Equal(t, 1, payload.Post.LikeCount)
	assert.Equal(t, 0, payload.Post.OmittedLikes)
	assert.True(t, payload.Post.OwnLike)

	// A like by a banned actor is its own event, withheld from venus.
	assert.Nil(t, tryReceive(venusSession))

	// But on someone else's later activity venus gets the post with mars'
	// like omitted from the count.
	require.Nil(t, f.engine.AddLike(ctx, post.Id, venus.Id))
	f.router.HandleEvent(f.bus.last())

	delivery = tryReceive(venusSession)
	require.NotNil(t, delivery)
	payload = delivery.Payload.(*EventPayload)
	assert.Equal(t, 1, payload.Post.LikeCount)
	assert.Equal(t, 1, payload.Post.OmittedLikes)
	assert.True(t, payload.Post.OwnLike)
}

func TestRouterHideIsActorScoped(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	luna := utils.TestCreateUserAndValidate(t, f.db, "luna")
	mars := utils.TestCreateUserAndValidate(t, f.db, "mars")

	lunaPosts := f.feedRoom(t, luna.Id, model.FeedKindPosts)
	post, err := f.engine.CreatePost(ctx, luna.Id, "hello", []int64{lunaPosts.FeedID}, false)
	require.Nil(t, err)

	// Two sessions for mars, one for luna, all watching the post.
	marsFirst := f.session(t, mars.Id, model.PostRoom(post.Id))
	marsSecond := f.session(t, mars.Id)
	lunaSession := f.session(t, luna.Id, model.PostRoom(post.Id))

	require.Nil(t, f.engine.HidePost(ctx, post.Id, mars.Id))
	f.router.HandleEvent(f.bus.last())

	// Every session of the actor hears about it, nobody else does.
	first := tryReceive(marsFirst)
	require.NotNil(t, first)
	assert.Equal(t, "post:hide", first.Kind)
	payload := first.Payload.(*EventPayload)
	assert.True(t, payload.Post.OwnHidden)

	second := tryReceive(marsSecond)
	require.NotNil(t, second)
	assert.Empty(t, second.RoomsMatched)

	assert.Nil(t, tryReceive(lunaSession))
}

func TestRouterDestroyReachesFormerMembers(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	luna := utils.TestCreateUserAndValidate(t, f.db, "luna")
	mars := utils.TestCreateUserAndValidate(t, f.db, "mars")
	lunaPosts := utils.TestGetFeed(t, f.db, luna.Id, model.FeedKindPosts)
	require.Nil(t, f.engine.Subscribe(ctx, mars.Id, lunaPosts.Id))

	post, err := f.engine.CreatePost(ctx, luna.Id, "hello", []int64{lunaPosts.Id}, false)
	require.Nil(t, err)

	marsRiver := f.feedRoom(t, mars.Id, model.FeedKindRiverOfNews)
	session := f.session(t, mars.Id, marsRiver)

	require.Nil(t, f.engine.DestroyPost(ctx, post.Id, luna.Id))
	f.router.HandleEvent(f.bus.last())

	// Membership was just revoked, yet the destroy still reaches the rooms
	// that used to hold the post.
	delivery := tryReceive(session)
	require.NotNil(t, delivery)
	assert.Equal(t, "post:destroy", delivery.Kind)
}

func TestRouterToleratesMissingDiscussionsFeed(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	luna := utils.TestCreateUserAndValidate(t, f.db, "luna")
	mars := utils.TestCreateUserAndValidate(t, f.db, "mars")
	lunaPosts := utils.TestGetFeed(t, f.db, luna.Id, model.FeedKindPosts)
	require.Nil(t, f.engine.Subscribe(ctx, mars.Id, lunaPosts.Id))

	post, err := f.engine.CreatePost(ctx, luna.Id, "hello", []int64{lunaPosts.Id}, false)
	require.Nil(t, err)

	// An account without a MyDiscussions feed must not stall routing of
	// its likes.
	require.Nil(t, f.db.Where("user_id = ? AND kind = ?",
		mars.Id, model.FeedKindMyDiscussions).Delete(&model.Feed{}).Error)

	session := f.session(t, luna.Id, model.PostRoom(post.Id))
	require.Nil(t, f.engine.AddLike(ctx, post.Id, mars.Id))
	f.router.HandleEvent(f.bus.last())

	delivery := tryReceive(session)
	require.NotNil(t, delivery)
	assert.Equal(t, "like:new", delivery.Kind)
}
