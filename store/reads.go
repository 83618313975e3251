package store

import (
	"github.com/candorhq/riverd/model"
)

// GetPost loads a post row. includeDeleted also returns soft-deleted rows,
// which the broadcast router needs when routing a destroy event.
func (s *MembershipStore) GetPost(postID string, includeDeleted bool) (*model.Post, error) {
	db := s.db
	if includeDeleted {
		db = db.Unscoped()
	}
	var post model.Post
	res := db.Where("id = ?", postID).First(&post)
	if res.Error != nil {
		return nil, wrapStorage("GetPost", res.Error)
	}
	return &post, nil
}

// GetComment loads a comment row, including soft-deleted ones.
func (s *MembershipStore) GetComment(commentID string) (*model.Comment, error) {
	var comment model.Comment
	res := s.db.Unscoped().Where("id = ?", commentID).First(&comment)
	if res.Error != nil {
		return nil, wrapStorage("GetComment", res.Error)
	}
	return &comment, nil
}

// GetComments returns all live comments of a post in creation order.
func (s *MembershipStore) GetComments(postID string) ([]model.Comment, error) {
	var comments []model.Comment
	res := s.db.Where("post_id = ?", postID).Order("created_at asc").Find(&comments)
	return comments, wrapStorage("GetComments", res.Error)
}

// GetLikeUserIDs returns the ids of all users who like a post.
func (s *MembershipStore) GetLikeUserIDs(postID string) ([]string, error) {
	var userIDs []string
	res := s.db.Model(&model.Like{}).Where("post_id = ?", postID).Pluck("user_id", &userIDs)
	return userIDs, wrapStorage("GetLikeUserIDs", res.Error)
}

// GetUser loads a user row.
func (s *MembershipStore) GetUser(userID string) (*model.User, error) {
	var user model.User
	res := s.db.Where("id = ?", userID).First(&user)
	if res.Error != nil {
		return nil, wrapStorage("GetUser", res.Error)
	}
	return &user, nil
}
