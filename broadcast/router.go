package broadcast

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/candorhq/riverd/eventbus"
	"github.com/candorhq/riverd/model"
	"github.com/candorhq/riverd/store"
	"github.com/candorhq/riverd/utils"
	Logger "github.com/candorhq/riverd/utils/log"
	"github.com/candorhq/riverd/visibility"
)

// Router consumes mutation events and drives delivery through the
// registry. It runs in every process that owns live connections.
type Router struct {
	membership *store.MembershipStore
	registry   *Registry
}

func NewRouter(membership *store.MembershipStore, registry *Registry) *Router {
	return &Router{membership: membership, registry: registry}
}

// Start subscribes the router on the bus. Handlers run until ctx is
// cancelled.
func (r *Router) Start(ctx context.Context, bus eventbus.EventBus) error {
	return bus.Subscribe(ctx, eventbus.TopicMutations, r.HandleEvent)
}

// HandleEvent routes one mutation event: compute the room set, resolve
// interested sessions, and deliver per-viewer payloads. Any failure here is
// logged and dropped; realtime delivery is fire-and-forget and clients can
// always re-fetch from storage.
func (r *Router) HandleEvent(event *model.Event) {
	if !event.Kind.IsValid() {
		Logger.Log.Errorf("dropping event with unknown kind %q", event.Kind)
		return
	}

	env, err := r.buildEnvelope(event)
	if err != nil {
		Logger.Log.Errorf("fail to resolve %s event for post %s, error: %s", event.Kind, event.PostID, err)
		return
	}

	var matches []*Match
	if event.Kind.IsActorScoped() {
		// Hide/unhide goes to the acting viewer's own sessions only, never
		// to the room at large.
		matches = r.registry.SessionsForViewer(event.UserID, env.rooms)
	} else {
		matches = r.registry.SessionsForRooms(env.rooms)
	}
	if len(matches) == 0 {
		return
	}

	// Group sessions by distinct viewer so ban resolution and visibility
	// run once per viewer, not once per session.
	byViewer := make(map[string][]*Match)
	for _, m := range matches {
		byViewer[m.ViewerID] = append(byViewer[m.ViewerID], m)
	}

	for viewerID, viewerMatches := range byViewer {
		payload, ok := env.payloadFor(r.membership, viewerID, event.Kind.IsActorScoped())
		if !ok {
			continue
		}
		delivery := &Delivery{Kind: event.Kind.String(), Payload: payload}
		for _, m := range viewerMatches {
			d := *delivery
			d.RoomsMatched = roomStrings(m.RoomsMatched)
			r.registry.Push(m.Session, &d)
		}
	}
}

func roomStrings(rooms []model.RoomID) []string {
	out := make([]string, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, room.String())
	}
	return out
}

// envelope is the per-event shared context: everything resolved once before
// fanning out across viewers.
type envelope struct {
	event           *model.Event
	post            *model.Post
	membershipFeeds []model.Feed
	views           []visibility.FeedView
	rooms           []model.RoomID
	base            *EventPayload
	commentAuthors  []string
	likeUserIDs     map[string]bool
}

func (r *Router) buildEnvelope(event *model.Event) (*envelope, error) {
	// Destroyed posts are soft-deleted; the router still needs the row to
	// route the destroy to viewers holding a cached copy.
	post, err := r.membership.GetPost(event.PostID, true)
	if err != nil {
		return nil, err
	}

	// Rooms cover current membership plus the event's affected feeds:
	// after a destroy the row's membership is already empty and only the
	// event still knows which feeds must drop the item.
	roomFeedIDSet := utils.Int64Set(post.FeedIDs)
	for _, id := range event.AffectedFeedIDs {
		roomFeedIDSet[id] = true
	}
	feeds, err := r.membership.GetFeeds(utils.Int64SetToSlice(roomFeedIDSet))
	if err != nil {
		return nil, err
	}
	views, err := r.membership.ResolveFeedViews(feeds)
	if err != nil {
		return nil, err
	}

	rooms, err := r.eventRooms(event, feeds)
	if err != nil {
		return nil, err
	}

	comments, err := r.membership.GetComments(post.Id)
	if err != nil {
		return nil, err
	}
	likeUserIDs, err := r.membership.GetLikeUserIDs(post.Id)
	if err != nil {
		return nil, err
	}

	env := &envelope{
		event:           event,
		post:            post,
		membershipFeeds: feeds,
		views:           views,
		rooms:           rooms,
		likeUserIDs:     make(map[string]bool, len(likeUserIDs)),
	}
	for _, id := range likeUserIDs {
		env.likeUserIDs[id] = true
	}
	for _, comment := range comments {
		env.commentAuthors = append(env.commentAuthors, comment.UserID)
	}

	env.base = &EventPayload{
		Post: &PostPayload{
			ID:               post.Id,
			AuthorID:         post.UserID,
			Body:             post.Body,
			CommentsDisabled: post.CommentsDisabled,
			CreatedAt:        post.CreatedAt,
		},
	}
	if event.CommentID != "" {
		comment, err := r.membership.GetComment(event.CommentID)
		if err != nil {
			return nil, err
		}
		env.base.Comment = &CommentPayload{
			ID:        comment.Id,
			PostID:    comment.PostID,
			AuthorID:  comment.UserID,
			Body:      comment.Body,
			CreatedAt: comment.CreatedAt,
		}
	}
	return env, nil
}

// eventRooms is the room set an event touches: one room per membership
// feed, the owner's MyDiscussions room for membership feeds that record
// likes or comments, and the dedicated per-post room.
func (r *Router) eventRooms(event *model.Event, feeds []model.Feed) ([]model.RoomID, error) {
	roomSet := make(map[model.RoomID]bool)
	for _, feed := range feeds {
		roomSet[model.FeedRoom(feed.Id)] = true
		if feed.Kind == model.FeedKindLikes || feed.Kind == model.FeedKindComments {
			discussions, err := r.membership.GetUserFeed(feed.UserID, model.FeedKindMyDiscussions)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// Accounts without a MyDiscussions feed have no room to open.
				continue
			}
			if err != nil {
				return nil, err
			}
			roomSet[model.FeedRoom(discussions.Id)] = true
		}
	}
	roomSet[model.PostRoom(event.PostID)] = true

	rooms := make([]model.RoomID, 0, len(roomSet))
	for room := range roomSet {
		rooms = append(rooms, room)
	}
	return rooms, nil
}

// payloadFor specializes the event for one viewer, or reports that the
// viewer must not see it at all. Actor-scoped events skip the checks: the
// viewer is the actor and always sees their own action.
func (e *envelope) payloadFor(membership *store.MembershipStore, viewerID string, actorScoped bool) (*EventPayload, bool) {
	var pairs *model.BannedPairs
	var prefs model.UserPreferences

	if viewerID != "" {
		p, err := membership.GetBannedPairs(viewerID)
		if err != nil {
			Logger.Log.Errorf("fail to resolve bans for viewer %s, error: %s", viewerID, err)
			return nil, false
		}
		pairs = p
		viewer, err := membership.GetUser(viewerID)
		if err == nil {
			prefs = decodePreferences(viewer.Preferences)
		}
	}

	if !actorScoped {
		vctx := visibility.Context{
			AuthorID:           e.post.UserID,
			DestinationFeedIDs: e.post.DestinationFeedIDs,
			MembershipFeeds:    e.views,
			ViewerID:           viewerID,
		}
		if !vctx.CanView() {
			return nil, false
		}
		if visibility.Banned(pairs, e.post.UserID, viewerID) {
			return nil, false
		}
		// New activity by a banned user never reaches the viewer's stream,
		// even on a post the viewer may otherwise see.
		if e.event.UserID != "" && e.event.UserID != e.post.UserID &&
			visibility.Banned(pairs, e.event.UserID, viewerID) {
			return nil, false
		}
	}

	payload := e.base.clone()

	visibleLikes := 0
	for likerID := range e.likeUserIDs {
		if viewerID != "" && visibility.Banned(pairs, likerID, viewerID) {
			continue
		}
		visibleLikes++
	}
	payload.Post.LikeCount = visibleLikes
	payload.Post.OmittedLikes = len(e.likeUserIDs) - visibleLikes

	visibleComments := 0
	for _, authorID := range e.commentAuthors {
		if viewerID != "" && prefs.HideCommentsOfBannedUsers &&
			visibility.Banned(pairs, authorID, viewerID) {
			continue
		}
		visibleComments++
	}
	payload.Post.CommentCount = visibleComments
	payload.Post.OmittedComments = len(e.commentAuthors) - visibleComments

	if viewerID != "" {
		payload.Post.OwnLike = e.likeUserIDs[viewerID]
		for _, feed := range e.membershipFeeds {
			if feed.Kind == model.FeedKindHides && feed.UserID == viewerID {
				payload.Post.OwnHidden = true
				break
			}
		}
	}
	return payload, true
}
