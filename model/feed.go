package model

import (
	"time"
)

type FeedKind string

const (
	FeedKindPosts         FeedKind = "Posts"
	FeedKindDirects       FeedKind = "Directs"
	FeedKindLikes         FeedKind = "Likes"
	FeedKindComments      FeedKind = "Comments"
	FeedKindRiverOfNews   FeedKind = "RiverOfNews"
	FeedKindHides         FeedKind = "Hides"
	FeedKindMyDiscussions FeedKind = "MyDiscussions"
	FeedKindSaves         FeedKind = "Saves"
)

var AllFeedKinds = []FeedKind{
	FeedKindPosts,
	FeedKindDirects,
	FeedKindLikes,
	FeedKindComments,
	FeedKindRiverOfNews,
	FeedKindHides,
	FeedKindMyDiscussions,
	FeedKindSaves,
}

func (k FeedKind) IsValid() bool {
	for _, kind := range AllFeedKinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (k FeedKind) String() string {
	return string(k)
}

// IsPersonal reports whether feeds of this kind are private to their owner
// and never have external subscribers.
func (k FeedKind) IsPersonal() bool {
	return k != FeedKindPosts && k != FeedKindDirects
}

/*

Feed is a named stream of posts owned by exactly one user.

The primary key is a small auto-incremented integer on purpose: a post's
membership is stored as a compact integer array on the post row and mutated
with atomic array expressions, which only stays cheap with integer ids.

Id: primary key
CreatedAt: time when entity is created
UserID:
User: owner of this feed, "belongs-to" relation

Kind: which stream this is. Every user has exactly one feed per kind,
		enforced by the unique index on (user_id, kind).
Subscribers: users receiving this feed's posts into their own RiverOfNews,
		"many-to-many" relation. Only Posts feeds carry subscribers.

*/
type Feed struct {
	Id          int64 `gorm:"primaryKey;autoIncrement"`
	CreatedAt   time.Time
	UserID      string   `gorm:"uniqueIndex:idx_feed_owner_kind"`
	User        User     `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Kind        FeedKind `gorm:"uniqueIndex:idx_feed_owner_kind"`
	Subscribers []*User  `json:"subscribers" gorm:"many2many:subscriptions;"`
}

// NewUserFeeds returns the singleton feed set created together with a user
// account. Groups only get the externally visible streams.
func NewUserFeeds(userID string, accountType AccountType) []*Feed {
	kinds := AllFeedKinds
	if accountType == AccountTypeGroup {
		kinds = []FeedKind{FeedKindPosts, FeedKindDirects}
	}
	feeds := make([]*Feed, 0, len(kinds))
	for _, kind := range kinds {
		feeds = append(feeds, &Feed{UserID: userID, Kind: kind})
	}
	return feeds
}

/*

Subscription is a "many-to-many" relation of user's subscription to a feed.
Subscribing to a Posts feed means "receive that feed's items in my
RiverOfNews".

UserID: subscriber's user id
FeedID: feed id
CreatedAt: time when relation is created

*/
type Subscription struct {
	UserID    string `gorm:"primaryKey"`
	FeedID    int64  `gorm:"primaryKey"`
	CreatedAt time.Time
}
