package fanout

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/candorhq/riverd/model"
	"github.com/candorhq/riverd/store"
	"github.com/candorhq/riverd/utils"
)

// resolveBumpFeeds gathers the acting user's propagation inputs and runs the
// friend-of-friend computation. actorFeedKind is the actor's own stream that
// records the activity, Comments for comments and Likes for likes.
func (e *Engine) resolveBumpFeeds(s *store.MembershipStore, post *model.Post, membershipFeeds []model.Feed, actorID string, actorFeedKind model.FeedKind) ([]int64, error) {
	destinations := utils.Int64Set(post.DestinationFeedIDs)
	var destinationFeeds []model.Feed
	for _, feed := range membershipFeeds {
		if destinations[feed.Id] {
			destinationFeeds = append(destinationFeeds, feed)
		}
	}

	if isStrictlyDirect(destinationFeeds) {
		// Comments and likes on a direct thread bump only the already
		// present feeds, skip all reach lookups.
		return post.FeedIDs, nil
	}

	actorFeed, err := s.GetUserFeed(actorID, actorFeedKind)
	if err != nil {
		return nil, err
	}
	actorPosts, err := s.GetUserFeed(actorID, model.FeedKindPosts)
	if err != nil {
		return nil, err
	}
	subscriberIDs, err := s.GetSubscriberUserIDs(actorPosts.Id)
	if err != nil {
		return nil, err
	}
	reachRiverIDs, err := s.GetRiverOfNewsFeedIDs(append(subscriberIDs, actorID))
	if err != nil {
		return nil, err
	}
	ownerRiverIDs, err := s.GetRiverOfNewsFeedIDs(personOwnerIDs(membershipFeeds))
	if err != nil {
		return nil, err
	}

	return computeBumpFeeds(
		post.FeedIDs,
		destinationFeeds,
		[]int64{actorFeed.Id},
		reachRiverIDs,
		ownerRiverIDs,
	), nil
}

// AddComment creates the comment, fans the post out into the
// friend-of-friend feed set and re-stamps the bump key in every feed. A
// comment always bumps.
func (e *Engine) AddComment(ctx context.Context, postID string, userID string, body string) (*model.Comment, error) {
	var (
		comment *model.Comment
		event   *model.Event
	)
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
		if post.CommentsDisabled && post.UserID != userID {
			return domainErrorf(CodeCommentsDisabled, "comments are disabled on post %s", post.Id)
		}

		comment = &model.Comment{
			Id:     uuid.New().String(),
			PostID: post.Id,
			UserID: userID,
			Body:   body,
		}
		if err := tx.Create(comment).Error; err != nil {
			return &store.StorageError{Op: "AddComment", Err: err}
		}

		bumpFeedIDs, err := e.resolveBumpFeeds(s, post, membershipFeeds, userID, model.FeedKindComments)
		if err != nil {
			return err
		}
		if err := s.AddToFeeds(post.Id, bumpFeedIDs, store.BumpAlways); err != nil {
			return err
		}

		event = &model.Event{
			Kind:            model.EventCommentNew,
			PostID:          post.Id,
			CommentID:       comment.Id,
			UserID:          userID,
			AffectedFeedIDs: bumpFeedIDs,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, event)
	return comment, nil
}

// UpdateComment edits the comment body. Comment author only.
func (e *Engine) UpdateComment(ctx context.Context, commentID string, userID string, body string) error {
	var event *model.Event
	err := e.db.Transaction(func(tx *gorm.DB) error {
		comment, err := loadComment(tx, commentID)
		if err != nil {
			return err
		}
		if comment.UserID != userID {
			return domainErrorf(CodePostingDenied, "only the author can edit a comment")
		}
		if err := tx.Model(comment).Update("body", body).Error; err != nil {
			return &store.StorageError{Op: "UpdateComment", Err: err}
		}
		post, err := loadPost(tx, comment.PostID)
		if err != nil {
			return err
		}
		event = &model.Event{
			Kind:            model.EventCommentUpdate,
			PostID:          post.Id,
			CommentID:       comment.Id,
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

// DestroyComment removes a comment. Allowed for the comment author and the
// post author. Membership stays as is, historical bumps are not revoked.
func (e *Engine) DestroyComment(ctx context.Context, commentID string, userID string) error {
	var event *model.Event
	err := e.db.Transaction(func(tx *gorm.DB) error {
		comment, err := loadComment(tx, commentID)
		if err != nil {
			return err
		}
		post, err := loadPost(tx, comment.PostID)
		if err != nil {
			return err
		}
		if comment.UserID != userID && post.UserID != userID {
			return domainErrorf(CodePostingDenied, "not allowed to destroy this comment")
		}
		if err := tx.Where("comment_id = ?", comment.Id).Delete(&model.CommentLike{}).Error; err != nil {
			return &store.StorageError{Op: "DestroyComment", Err: err}
		}
		if err := tx.Delete(comment).Error; err != nil {
			return &store.StorageError{Op: "DestroyComment", Err: err}
		}
		event = &model.Event{
			Kind:            model.EventCommentDestroy,
			PostID:          post.Id,
			CommentID:       comment.Id,
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

// AddLike records the like and fans the post out like a comment does, with
// one difference: feeds the post is already present in keep their bump key.
// A like never resurfaces an already-member post.
func (e *Engine) AddLike(ctx context.Context, postID string, userID string) error {
	var event *model.Event
	err := e.db.Transaction(func(tx *gorm.DB) error {
		s := e.membership.WithTx(tx)
		post, err := loadPost(tx, postID)
		if err != nil {
			return err
		}
		if post.UserID == userID {
			return domainErrorf(CodePostingDenied, "cannot like your own post")
		}
		membershipFeeds, err := s.GetFeeds(post.FeedIDs)
		if err != nil {
			return err
		}
		if err := e.checkViewer(s, post, membershipFeeds, userID); err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&model.Like{}).Where("post_id = ? AND user_id = ?", post.Id, userID).Count(&count).Error; err != nil {
			return &store.StorageError{Op: "AddLike", Err: err}
		}
		if count > 0 {
			return domainErrorf(CodeAlreadyExists, "post %s is already liked", post.Id)
		}
		if err := tx.Create(&model.Like{PostID: post.Id, UserID: userID}).Error; err != nil {
			return &store.StorageError{Op: "AddLike", Err: err}
		}

		bumpFeedIDs, err := e.resolveBumpFeeds(s, post, membershipFeeds, userID, model.FeedKindLikes)
		if err != nil {
			return err
		}
		if err := s.AddToFeeds(post.Id, bumpFeedIDs, store.BumpIfNew); err != nil {
			return err
		}

		event = &model.Event{
			Kind:            model.EventLikeNew,
			PostID:          post.Id,
			UserID:          userID,
			AffectedFeedIDs: bumpFeedIDs,
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.publish(ctx, event)
	return nil
}

// RemoveLike deletes the like. Membership is not rolled back, a feed the
// like once pulled the post into keeps it.
func (e *Engine) RemoveLike(ctx context.Context, postID string, userID string) error {
	var event *model.Event
	err := e.db.Transaction(func(tx *gorm.DB) error {
		post, err := loadPost(tx, postID)
		if err != nil {
			return err
		}
		res := tx.Where("post_id = ? AND user_id = ?", post.Id, userID).Delete(&model.Like{})
		if res.Error != nil {
			return &store.StorageError{Op: "RemoveLike", Err: res.Error}
		}
		if res.RowsAffected == 0 {
			return domainErrorf(CodeNotFound, "post %s is not liked", post.Id)
		}
		event = &model.Event{
			Kind:            model.EventLikeRemove,
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

// AddCommentLike likes a comment. Comment likes never change the post's
// feed membership, they only produce a realtime event.
func (e *Engine) AddCommentLike(ctx context.Context, commentID string, userID string) error {
	var event *model.Event
	err := e.db.Transaction(func(tx *gorm.DB) error {
		s := e.membership.WithTx(tx)
		comment, err := loadComment(tx, commentID)
		if err != nil {
			return err
		}
		if comment.UserID == userID {
			return domainErrorf(CodePostingDenied, "cannot like your own comment")
		}
		post, err := loadPost(tx, comment.PostID)
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

		var count int64
		if err := tx.Model(&model.CommentLike{}).Where("comment_id = ? AND user_id = ?", comment.Id, userID).Count(&count).Error; err != nil {
			return &store.StorageError{Op: "AddCommentLike", Err: err}
		}
		if count > 0 {
			return domainErrorf(CodeAlreadyExists, "comment %s is already liked", comment.Id)
		}
		if err := tx.Create(&model.CommentLike{CommentID: comment.Id, UserID: userID}).Error; err != nil {
			return &store.StorageError{Op: "AddCommentLike", Err: err}
		}

		event = &model.Event{
			Kind:            model.EventCommentLikeNew,
			PostID:          post.Id,
			CommentID:       comment.Id,
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

// RemoveCommentLike deletes a comment like.
func (e *Engine) RemoveCommentLike(ctx context.Context, commentID string, userID string) error {
	var event *model.Event
	err := e.db.Transaction(func(tx *gorm.DB) error {
		comment, err := loadComment(tx, commentID)
		if err != nil {
			return err
		}
		res := tx.Where("comment_id = ? AND user_id = ?", comment.Id, userID).Delete(&model.CommentLike{})
		if res.Error != nil {
			return &store.StorageError{Op: "RemoveCommentLike", Err: res.Error}
		}
		if res.RowsAffected == 0 {
			return domainErrorf(CodeNotFound, "comment %s is not liked", comment.Id)
		}
		post, err := loadPost(tx, comment.PostID)
		if err != nil {
			return err
		}
		event = &model.Event{
			Kind:            model.EventCommentLikeRemove,
			PostID:          post.Id,
			CommentID:       comment.Id,
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

func loadComment(tx *gorm.DB, commentID string) (*model.Comment, error) {
	var comment model.Comment
	res := tx.Where("id = ?", commentID).First(&comment)
	if res.Error == gorm.ErrRecordNotFound {
		return nil, domainErrorf(CodeNotFound, "comment %s does not exist", commentID)
	}
	if res.Error != nil {
		return nil, &store.StorageError{Op: "loadComment", Err: res.Error}
	}
	return &comment, nil
}
