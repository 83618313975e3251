// Package fanout is the write-side engine: for every post, comment and like
// mutation it decides which feeds must contain or bump the affected post,
// updates membership through the store's atomic set primitive, and publishes
// a mutation event once the transaction commits. All transitions are
// request-synchronous and at-most-once per mutation.
package fanout

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/candorhq/riverd/eventbus"
	"github.com/candorhq/riverd/model"
	"github.com/candorhq/riverd/store"
	"github.com/candorhq/riverd/utils"
	Logger "github.com/candorhq/riverd/utils/log"
	"github.com/candorhq/riverd/visibility"
)

type Engine struct {
	db         *gorm.DB
	membership *store.MembershipStore
	bus        eventbus.EventBus
}

func NewEngine(db *gorm.DB, membership *store.MembershipStore, bus eventbus.EventBus) *Engine {
	return &Engine{db: db, membership: membership, bus: bus}
}

// publish emits the event after a successful commit. A failed publish is
// logged and swallowed: the durable write already happened and clients can
// always re-fetch, while a failed membership write must surface to the
// caller.
func (e *Engine) publish(ctx context.Context, event *model.Event) {
	if event == nil {
		return
	}
	if err := e.bus.Publish(ctx, eventbus.TopicMutations, event); err != nil {
		Logger.Log.Errorf("fail to publish %s event for post %s, error: %s", event.Kind, event.PostID, err)
	}
}

// loadPost fetches the post row or reports not_found.
func loadPost(tx *gorm.DB, postID string) (*model.Post, error) {
	var post model.Post
	res := tx.Where("id = ?", postID).First(&post)
	if res.Error == gorm.ErrRecordNotFound {
		return nil, domainErrorf(CodeNotFound, "post %s does not exist", postID)
	}
	if res.Error != nil {
		return nil, &store.StorageError{Op: "loadPost", Err: res.Error}
	}
	return &post, nil
}

// checkViewer verifies the acting user may see the post at all, applying
// both the visibility rules and the ban overlay. Failing either is reported
// as not_found so the caller learns nothing about the post.
func (e *Engine) checkViewer(s *store.MembershipStore, post *model.Post, membershipFeeds []model.Feed, viewerID string) error {
	views, err := s.ResolveFeedViews(membershipFeeds)
	if err != nil {
		return err
	}
	vctx := visibility.Context{
		AuthorID:           post.UserID,
		DestinationFeedIDs: post.DestinationFeedIDs,
		MembershipFeeds:    views,
		ViewerID:           viewerID,
	}
	if !vctx.CanView() {
		return domainErrorf(CodeNotFound, "post %s does not exist", post.Id)
	}
	pairs, err := s.GetBannedPairs(viewerID)
	if err != nil {
		return err
	}
	if visibility.Banned(pairs, post.UserID, viewerID) {
		return domainErrorf(CodeNotFound, "post %s does not exist", post.Id)
	}
	return nil
}

// CreatePost validates the destination feeds, writes the post with its
// initial membership (destinations plus every destination subscriber's
// RiverOfNews), re-stamps each destination owner's last activity and
// publishes post:new.
func (e *Engine) CreatePost(ctx context.Context, authorID string, body string, destinationFeedIDs []int64, commentsDisabled bool) (*model.Post, error) {
	if len(destinationFeedIDs) == 0 {
		return nil, domainErrorf(CodePostingDenied, "a post needs at least one destination feed")
	}

	var (
		post  *model.Post
		event *model.Event
	)
	err := e.db.Transaction(func(tx *gorm.DB) error {
		s := e.membership.WithTx(tx)

		destinationFeedIDs = utils.Int64SetToSlice(utils.Int64Set(destinationFeedIDs))
		feeds, err := s.GetFeeds(destinationFeedIDs)
		if err != nil {
			return err
		}
		if len(feeds) != len(destinationFeedIDs) {
			return domainErrorf(CodeNotFound, "unknown destination feed")
		}

		hasDirects := false
		hasTimelines := false
		for i := range feeds {
			if err := e.checkPostable(s, &feeds[i], authorID); err != nil {
				return err
			}
			if feeds[i].Kind == model.FeedKindDirects {
				hasDirects = true
			} else {
				hasTimelines = true
			}
		}
		if hasDirects && hasTimelines {
			return domainErrorf(CodePostingDenied, "cannot mix direct and timeline destinations")
		}

		if hasDirects {
			// A direct always lands in the sender's own Directs feed too.
			own, err := s.GetUserFeed(authorID, model.FeedKindDirects)
			if err != nil {
				return err
			}
			if !utils.ContainsInt64(destinationFeedIDs, own.Id) {
				destinationFeedIDs = append(destinationFeedIDs, own.Id)
				feeds = append(feeds, *own)
			}
		}

		membership := utils.Int64Set(destinationFeedIDs)
		recipients := []string{authorID}
		for _, feed := range feeds {
			switch feed.Kind {
			case model.FeedKindPosts:
				subscriberIDs, err := s.GetSubscriberUserIDs(feed.Id)
				if err != nil {
					return err
				}
				recipients = append(recipients, subscriberIDs...)
			case model.FeedKindDirects:
				recipients = append(recipients, feed.UserID)
			}
		}
		riverIDs, err := s.GetRiverOfNewsFeedIDs(recipients)
		if err != nil {
			return err
		}
		for _, id := range riverIDs {
			membership[id] = true
		}

		post = &model.Post{
			Id:                 uuid.New().String(),
			UserID:             authorID,
			Body:               body,
			CommentsDisabled:   commentsDisabled,
			DestinationFeedIDs: destinationFeedIDs,
		}
		if err := tx.Create(post).Error; err != nil {
			return &store.StorageError{Op: "CreatePost", Err: err}
		}

		affected := utils.Int64SetToSlice(membership)
		if err := s.AddToFeeds(post.Id, affected, store.BumpAlways); err != nil {
			return err
		}
		post.FeedIDs = affected

		// Every destination feed's owner counts this as fresh activity.
		owners := make(map[string]bool, len(feeds))
		for _, feed := range feeds {
			owners[feed.UserID] = true
		}
		ownerIDs := make([]string, 0, len(owners))
		for id := range owners {
			ownerIDs = append(ownerIDs, id)
		}
		if err := s.TouchLastActivity(ownerIDs); err != nil {
			return err
		}

		event = &model.Event{
			Kind:            model.EventPostNew,
			PostID:          post.Id,
			UserID:          authorID,
			AffectedFeedIDs: affected,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, event)
	return post, nil
}

// checkPostable enforces who may post into a destination feed: your own
// Posts/Directs feed, a group Posts feed you follow (and administer, for
// restricted groups), or another user's Directs feed when that user follows
// you and no ban stands between you.
func (e *Engine) checkPostable(s *store.MembershipStore, feed *model.Feed, authorID string) error {
	switch feed.Kind {
	case model.FeedKindPosts:
		if feed.UserID == authorID {
			return nil
		}
		if !feed.User.IsGroup() {
			return domainErrorf(CodePostingDenied, "cannot post to another user's feed")
		}
		isSubscriber, err := s.IsSubscriber(authorID, feed.Id)
		if err != nil {
			return err
		}
		if !isSubscriber {
			return domainErrorf(CodeNotAFollower, "not a member of group %s", feed.User.Username)
		}
		isAdmin, err := s.IsGroupAdmin(authorID, feed.UserID)
		if err != nil {
			return err
		}
		if !visibility.CanPostTo(&feed.User, isSubscriber, isAdmin) {
			return domainErrorf(CodePostingDenied, "group %s only accepts posts from admins", feed.User.Username)
		}
		return nil

	case model.FeedKindDirects:
		if feed.UserID == authorID {
			return nil
		}
		pairs, err := s.GetBannedPairs(authorID)
		if err != nil {
			return err
		}
		if pairs.Blocks(feed.UserID) {
			return domainErrorf(CodePostingDenied, "cannot send a direct to this user")
		}
		// Directs may only go to users who follow the sender.
		authorPosts, err := s.GetUserFeed(authorID, model.FeedKindPosts)
		if err != nil {
			return err
		}
		follows, err := s.IsSubscriber(feed.UserID, authorPosts.Id)
		if err != nil {
			return err
		}
		if !follows {
			return domainErrorf(CodePostingDenied, "cannot send a direct to a user who does not follow you")
		}
		return nil
	}
	return domainErrorf(CodePostingDenied, "cannot post to a %s feed", feed.Kind)
}

// UpdatePost edits the post body. Author only. Membership is untouched.
func (e *Engine) UpdatePost(ctx context.Context, postID string, userID string, body string, commentsDisabled bool) error {
	var event *model.Event
	err := e.db.Transaction(func(tx *gorm.DB) error {
		post, err := loadPost(tx, postID)
		if err != nil {
			return err
		}
		if post.UserID != userID {
			return domainErrorf(CodePostingDenied, "only the author can edit a post")
		}
		res := tx.Model(post).Updates(map[string]interface{}{
			"body":              body,
			"comments_disabled": commentsDisabled,
		})
		if res.Error != nil {
			return &store.StorageError{Op: "UpdatePost", Err: res.Error}
		}
		event = &model.Event{
			Kind:            model.EventPostUpdate,
			PostID:          post.Id,
			UserID:          userID,
			AffectedFeedIDs: post.FeedIDs,
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.publish(ctx, event)
	return nil
}

// DestroyPost removes the post and cascades its comments and likes. The
// destroy event carries the revoked membership so cached views drop the
// item.
func (e *Engine) DestroyPost(ctx context.Context, postID string, userID string) error {
	var event *model.Event
	err := e.db.Transaction(func(tx *gorm.DB) error {
		s := e.membership.WithTx(tx)
		post, err := loadPost(tx, postID)
		if err != nil {
			return err
		}
		if post.UserID != userID {
			return domainErrorf(CodePostingDenied, "only the author can destroy a post")
		}

		revoked := []int64(post.FeedIDs)

		if err := tx.Where("comment_id IN (?)",
			tx.Model(&model.Comment{}).Select("id").Where("post_id = ?", post.Id),
		).Delete(&model.CommentLike{}).Error; err != nil {
			return &store.StorageError{Op: "DestroyPost", Err: err}
		}
		if err := tx.Where("post_id = ?", post.Id).Delete(&model.Comment{}).Error; err != nil {
			return &store.StorageError{Op: "DestroyPost", Err: err}
		}
		if err := tx.Where("post_id = ?", post.Id).Delete(&model.Like{}).Error; err != nil {
			return &store.StorageError{Op: "DestroyPost", Err: err}
		}
		if err := s.RemoveFromFeeds(post.Id, revoked); err != nil {
			return err
		}
		if err := tx.Delete(post).Error; err != nil {
			return &store.StorageError{Op: "DestroyPost", Err: err}
		}

		event = &model.Event{
			Kind:            model.EventPostDestroy,
			PostID:          post.Id,
			UserID:          userID,
			AffectedFeedIDs: revoked,
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.publish(ctx, event)
	return nil
}

// HidePost adds the post to the viewer's personal Hides feed. The viewer
// must be able to see the post. Global membership of every other feed is
// untouched and the event is delivered only to the acting viewer's own
// sessions.
func (e *Engine) HidePost(ctx context.Context, postID string, userID string) error {
	var event *model.Event
	err := e.db.Transaction(func(tx *gorm.DB) error {
		s := e.membership.WithTx(tx)
		post, err := loadPost(tx, postID)
		if err != nil {
			return err
		}
		membershipFeeds, err := s.GetFeeds(post.FeedIDs)
		if err != nil {
			return err
		}
		if err := e.checkViewer(s, post, membershipFeeds, userID); err != nil {
			return err
		}
		hides, err := s.GetUserFeed(userID, model.FeedKindHides)
		if err != nil {
			return err
		}
		if err := s.AddToFeeds(post.Id, []int64{hides.Id}, store.BumpIfNew); err != nil {
			return err
		}
		event = &model.Event{
			Kind:            model.EventPostHide,
			PostID:          post.Id,
			UserID:          userID,
			AffectedFeedIDs: []int64{hides.Id},
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.publish(ctx, event)
	return nil
}

// UnhidePost reverses HidePost. No visibility check here: a hide must stay
// removable even after access to the post is revoked.
func (e *Engine) UnhidePost(ctx context.Context, postID string, userID string) error {
	var event *model.Event
	err := e.db.Transaction(func(tx *gorm.DB) error {
		s := e.membership.WithTx(tx)
		post, err := loadPost(tx, postID)
		if err != nil {
			return err
		}
		hides, err := s.GetUserFeed(userID, model.FeedKindHides)
		if err != nil {
			return err
		}
		if err := s.RemoveFromFeeds(post.Id, []int64{hides.Id}); err != nil {
			return err
		}
		event = &model.Event{
			Kind:            model.EventPostUnhide,
			PostID:          post.Id,
			UserID:          userID,
			AffectedFeedIDs: []int64{hides.Id},
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.publish(ctx, event)
	return nil
}
