package fanout

import (
	"context"

	"gorm.io/gorm"

	"github.com/candorhq/riverd/model"
	"github.com/candorhq/riverd/store"
)

// Subscribe adds the user to a Posts feed's subscriber set and backfills the
// feed's posts into the user's RiverOfNews with the idempotent merge
// primitive, preserving each post's bump key.
func (e *Engine) Subscribe(ctx context.Context, userID string, feedID int64) error {
	return e.db.Transaction(func(tx *gorm.DB) error {
		s := e.membership.WithTx(tx)

		var feed model.Feed
		res := tx.Preload("User").Where("id = ?", feedID).First(&feed)
		if res.Error == gorm.ErrRecordNotFound {
			return domainErrorf(CodeNotFound, "feed %d does not exist", feedID)
		}
		if res.Error != nil {
			return &store.StorageError{Op: "Subscribe", Err: res.Error}
		}
		if feed.Kind != model.FeedKindPosts {
			return domainErrorf(CodePostingDenied, "only Posts feeds accept subscribers")
		}
		if feed.UserID == userID {
			return domainErrorf(CodePostingDenied, "cannot subscribe to your own feed")
		}

		pairs, err := s.GetBannedPairs(userID)
		if err != nil {
			return err
		}
		if pairs.Blocks(feed.UserID) {
			return domainErrorf(CodePostingDenied, "cannot subscribe to this feed")
		}
		// Approval flows for private accounts are handled outside this
		// engine, a plain subscribe to a private feed is rejected.
		if feed.User.IsPrivate {
			return domainErrorf(CodePostingDenied, "feed owner is private")
		}

		var count int64
		if err := tx.Model(&model.Subscription{}).Where("user_id = ? AND feed_id = ?", userID, feedID).Count(&count).Error; err != nil {
			return &store.StorageError{Op: "Subscribe", Err: err}
		}
		if count > 0 {
			return domainErrorf(CodeAlreadyExists, "already subscribed to feed %d", feedID)
		}
		if err := tx.Create(&model.Subscription{UserID: userID, FeedID: feedID}).Error; err != nil {
			return &store.StorageError{Op: "Subscribe", Err: err}
		}

		river, err := s.GetUserFeed(userID, model.FeedKindRiverOfNews)
		if err != nil {
			return err
		}
		return s.MergeFeeds(feedID, river.Id)
	})
}

// Unsubscribe drops the subscription and removes the feed's posts from the
// user's RiverOfNews, except posts the user is a direct destination of.
func (e *Engine) Unsubscribe(ctx context.Context, userID string, feedID int64) error {
	return e.db.Transaction(func(tx *gorm.DB) error {
		s := e.membership.WithTx(tx)

		res := tx.Where("user_id = ? AND feed_id = ?", userID, feedID).Delete(&model.Subscription{})
		if res.Error != nil {
			return &store.StorageError{Op: "Unsubscribe", Err: res.Error}
		}
		if res.RowsAffected == 0 {
			return domainErrorf(CodeNotAFollower, "not subscribed to feed %d", feedID)
		}

		river, err := s.GetUserFeed(userID, model.FeedKindRiverOfNews)
		if err != nil {
			return err
		}
		return s.UnmergeFeeds(feedID, river.Id)
	})
}

// Ban records userID banning targetID. The single directed row is enough:
// both fan-out and broadcast consult bans from each direction.
func (e *Engine) Ban(ctx context.Context, userID string, targetID string) error {
	if userID == targetID {
		return domainErrorf(CodeSelfBan, "cannot ban yourself")
	}
	return e.db.Transaction(func(tx *gorm.DB) error {
		var target model.User
		res := tx.Where("id = ?", targetID).First(&target)
		if res.Error == gorm.ErrRecordNotFound {
			return domainErrorf(CodeNotFound, "user %s does not exist", targetID)
		}
		if res.Error != nil {
			return &store.StorageError{Op: "Ban", Err: res.Error}
		}

		var count int64
		if err := tx.Model(&model.Ban{}).Where("user_id = ? AND banned_user_id = ?", userID, targetID).Count(&count).Error; err != nil {
			return &store.StorageError{Op: "Ban", Err: err}
		}
		if count > 0 {
			return domainErrorf(CodeAlreadyExists, "user %s is already banned", targetID)
		}
		if err := tx.Create(&model.Ban{UserID: userID, BannedUserID: targetID}).Error; err != nil {
			return &store.StorageError{Op: "Ban", Err: err}
		}
		return nil
	})
}

// Unban removes the ban edge.
func (e *Engine) Unban(ctx context.Context, userID string, targetID string) error {
	res := e.db.Where("user_id = ? AND banned_user_id = ?", userID, targetID).Delete(&model.Ban{})
	if res.Error != nil {
		return &store.StorageError{Op: "Unban", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return domainErrorf(CodeNotFound, "user %s is not banned", targetID)
	}
	return nil
}

// MergeFeeds is the administrative bulk copy of one feed's membership into
// another, e.g. when converting a user account into a group. Idempotent on
// retry.
func (e *Engine) MergeFeeds(ctx context.Context, srcFeedID, dstFeedID int64) error {
	return e.db.Transaction(func(tx *gorm.DB) error {
		return e.membership.WithTx(tx).MergeFeeds(srcFeedID, dstFeedID)
	})
}

// UnmergeFeeds reverses MergeFeeds. Idempotent on retry.
func (e *Engine) UnmergeFeeds(ctx context.Context, srcFeedID, dstFeedID int64) error {
	return e.db.Transaction(func(tx *gorm.DB) error {
		return e.membership.WithTx(tx).UnmergeFeeds(srcFeedID, dstFeedID)
	})
}
