package model

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

/*

Post is a user-authored item fanned out into feeds.

Id: primary key
CreatedAt: time when entity is created
DeletedAt: time when entity is deleted

UserID:
User: author of the post, "belongs-to" relation
Body: post's content in plain text
CommentsDisabled: author turned off commenting for this post

DestinationFeedIDs:
		the explicit target feeds chosen at creation, at least one. Never
		changes after creation.
FeedIDs:
		current membership, destination feeds plus every feed this post has
		bumped into via comment/like fan-out. Always a superset of
		DestinationFeedIDs. Mutated only through atomic array expressions in
		the membership store so that concurrent fan-outs on the same post
		never lose updates.

*/
type Post struct {
	Id                 string `gorm:"primaryKey"`
	CreatedAt          time.Time
	DeletedAt          gorm.DeletedAt
	UserID             string `gorm:"index"`
	User               User   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Body               string
	CommentsDisabled   bool
	DestinationFeedIDs pq.Int64Array `gorm:"type:bigint[]"`
	FeedIDs            pq.Int64Array `gorm:"type:bigint[];index:,type:gin"`
}

/*

FeedEntry is the per-(feed, post) insertion key. A feed's post list is
ordered by BumpedAt, not by post creation time, which is what "bump" means.

FeedID: feed id
PostID: post id
BumpedAt: time the post was inserted into or last bumped in this feed

*/
type FeedEntry struct {
	FeedID   int64  `gorm:"primaryKey"`
	PostID   string `gorm:"primaryKey"`
	BumpedAt time.Time `gorm:"index"`
}

/*

Comment is a user's comment on a post. Creating one triggers the
friend-of-friend fan-out and always re-stamps bump timestamps.

*/
type Comment struct {
	Id        string `gorm:"primaryKey"`
	CreatedAt time.Time
	DeletedAt gorm.DeletedAt
	PostID    string `gorm:"index"`
	Post      Post   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	UserID    string
	Body      string
}

/*

Like is a "many-to-many" relation of user liking a post. The composite
primary key makes a duplicate like a storage conflict, surfaced to callers
as a domain error. A like fans out like a comment but never re-stamps a
feed the post is already present in.

*/
type Like struct {
	PostID    string `gorm:"primaryKey"`
	UserID    string `gorm:"primaryKey"`
	CreatedAt time.Time
}

/*

CommentLike is a "many-to-many" relation of user liking a comment.

*/
type CommentLike struct {
	CommentID string `gorm:"primaryKey"`
	UserID    string `gorm:"primaryKey"`
	CreatedAt time.Time
}
