// Package store wraps the relational store behind the membership contract:
// atomic, idempotent set updates of a post's feed membership plus the
// lookups fan-out and broadcast need (subscriptions, bans, feed owners).
//
// Membership lives in posts.feed_ids, a Postgres bigint array mutated only
// with single-statement array expressions. Concurrent updates on the same
// post serialize on the row lock and each re-evaluates against the latest
// row version, so disjoint adds commute and duplicate adds are no-ops.
package store

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/candorhq/riverd/model"
)

// BumpMode controls what happens to the per-feed bump timestamp when the
// post is already present in a feed.
type BumpMode int

const (
	// BumpAlways re-stamps every feed, present or not. Used for new posts
	// and comments.
	BumpAlways BumpMode = iota
	// BumpIfNew only stamps feeds the post was not yet present in. Used for
	// likes and hides, which never resurface an already-member post.
	BumpIfNew
)

type MembershipStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewMembershipStore(db *gorm.DB) *MembershipStore {
	return &MembershipStore{db: db, now: time.Now}
}

// WithTx returns a copy of the store bound to the given transaction, so
// multi-feed updates commit or roll back as one unit.
func (s *MembershipStore) WithTx(tx *gorm.DB) *MembershipStore {
	return &MembershipStore{db: tx, now: s.now}
}

// WithClock overrides the timestamp source, for tests.
func (s *MembershipStore) WithClock(now func() time.Time) *MembershipStore {
	return &MembershipStore{db: s.db, now: now}
}

// Now is the single timestamp source for bump keys.
func (s *MembershipStore) Now() time.Time {
	return s.now()
}

// AddToFeeds adds the post to every feed in feedIDs and stamps bump keys
// according to mode. Idempotent: re-applying the same set is a no-op on
// membership. Concurrent calls with disjoint sets both win.
func (s *MembershipStore) AddToFeeds(postID string, feedIDs []int64, mode BumpMode) error {
	if len(feedIDs) == 0 {
		return nil
	}

	res := s.db.Exec(
		`UPDATE posts SET feed_ids = (
			SELECT coalesce(array_agg(DISTINCT f ORDER BY f), '{}') FROM unnest(feed_ids || ?::bigint[]) AS f
		) WHERE id = ?`,
		pq.Int64Array(feedIDs), postID,
	)
	if res.Error != nil {
		return wrapStorage("AddToFeeds", res.Error)
	}
	if res.RowsAffected == 0 {
		return wrapStorage("AddToFeeds", gorm.ErrRecordNotFound)
	}

	bumpedAt := s.now()
	entries := make([]model.FeedEntry, 0, len(feedIDs))
	for _, feedID := range feedIDs {
		entries = append(entries, model.FeedEntry{FeedID: feedID, PostID: postID, BumpedAt: bumpedAt})
	}

	onConflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: "feed_id"}, {Name: "post_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"bumped_at": bumpedAt}),
	}
	if mode == BumpIfNew {
		onConflict = clause.OnConflict{
			Columns:   []clause.Column{{Name: "feed_id"}, {Name: "post_id"}},
			DoNothing: true,
		}
	}
	return wrapStorage("AddToFeeds", s.db.Clauses(onConflict).Create(&entries).Error)
}

// RemoveFromFeeds removes the post from every feed in feedIDs. Removing a
// feed the post is not in is a no-op.
func (s *MembershipStore) RemoveFromFeeds(postID string, feedIDs []int64) error {
	if len(feedIDs) == 0 {
		return nil
	}

	res := s.db.Exec(
		`UPDATE posts SET feed_ids = (
			SELECT coalesce(array_agg(f ORDER BY f), '{}') FROM unnest(feed_ids) AS f WHERE NOT (f = ANY(?::bigint[]))
		) WHERE id = ?`,
		pq.Int64Array(feedIDs), postID,
	)
	if res.Error != nil {
		return wrapStorage("RemoveFromFeeds", res.Error)
	}

	return wrapStorage("RemoveFromFeeds",
		s.db.Where("post_id = ? AND feed_id IN ?", postID, feedIDs).Delete(&model.FeedEntry{}).Error)
}

// GetMembership returns the post's current feed membership.
func (s *MembershipStore) GetMembership(postID string) ([]int64, error) {
	var post model.Post
	res := s.db.Select("id", "feed_ids").Where("id = ?", postID).First(&post)
	if res.Error != nil {
		return nil, wrapStorage("GetMembership", res.Error)
	}
	return []int64(post.FeedIDs), nil
}

// GetFeeds loads the feed rows (with owners) for the given ids.
func (s *MembershipStore) GetFeeds(feedIDs []int64) ([]model.Feed, error) {
	if len(feedIDs) == 0 {
		return nil, nil
	}
	var feeds []model.Feed
	res := s.db.Preload("User").Where("id IN ?", feedIDs).Find(&feeds)
	return feeds, wrapStorage("GetFeeds", res.Error)
}

// GetFeedOwner returns the owning user of a feed.
func (s *MembershipStore) GetFeedOwner(feedID int64) (*model.User, error) {
	var feed model.Feed
	res := s.db.Preload("User").Where("id = ?", feedID).First(&feed)
	if res.Error != nil {
		return nil, wrapStorage("GetFeedOwner", res.Error)
	}
	return &feed.User, nil
}

// GetUserFeed returns the user's singleton feed of the given kind.
func (s *MembershipStore) GetUserFeed(userID string, kind model.FeedKind) (*model.Feed, error) {
	var feed model.Feed
	res := s.db.Where("user_id = ? AND kind = ?", userID, kind).First(&feed)
	if res.Error != nil {
		return nil, wrapStorage("GetUserFeed", res.Error)
	}
	return &feed, nil
}

// TouchLastActivity re-stamps the accounts' last-activity marker. Called
// when a new post lands in one of their feeds.
func (s *MembershipStore) TouchLastActivity(userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	return wrapStorage("TouchLastActivity",
		s.db.Model(&model.User{}).Where("id IN ?", userIDs).Update("last_activity_at", s.now()).Error)
}

// GetSubscriberUserIDs returns the ids of all users subscribed to a feed.
func (s *MembershipStore) GetSubscriberUserIDs(feedID int64) ([]string, error) {
	var userIDs []string
	res := s.db.Model(&model.Subscription{}).Where("feed_id = ?", feedID).Pluck("user_id", &userIDs)
	return userIDs, wrapStorage("GetSubscriberUserIDs", res.Error)
}

// IsSubscriber reports whether the user currently subscribes to the feed.
func (s *MembershipStore) IsSubscriber(userID string, feedID int64) (bool, error) {
	var count int64
	res := s.db.Model(&model.Subscription{}).
		Where("feed_id = ? AND user_id = ?", feedID, userID).Count(&count)
	return count > 0, wrapStorage("IsSubscriber", res.Error)
}

// IsGroupAdmin reports whether the user administers the group.
func (s *MembershipStore) IsGroupAdmin(userID string, groupID string) (bool, error) {
	var count int64
	res := s.db.Model(&model.GroupAdmin{}).
		Where("group_id = ? AND user_id = ?", groupID, userID).Count(&count)
	return count > 0, wrapStorage("IsGroupAdmin", res.Error)
}

// GetRiverOfNewsFeedIDs maps user ids to their RiverOfNews feed ids. Groups
// own no RiverOfNews feed and simply yield nothing.
func (s *MembershipStore) GetRiverOfNewsFeedIDs(userIDs []string) ([]int64, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var feedIDs []int64
	res := s.db.Model(&model.Feed{}).
		Where("user_id IN ? AND kind = ?", userIDs, model.FeedKindRiverOfNews).
		Pluck("id", &feedIDs)
	return feedIDs, wrapStorage("GetRiverOfNewsFeedIDs", res.Error)
}

// GetBannedPairs resolves both directions of a user's bans in two lookups.
func (s *MembershipStore) GetBannedPairs(userID string) (*model.BannedPairs, error) {
	var bannedByMe, banningMe []string
	res := s.db.Model(&model.Ban{}).Where("user_id = ?", userID).Pluck("banned_user_id", &bannedByMe)
	if res.Error != nil {
		return nil, wrapStorage("GetBannedPairs", res.Error)
	}
	res = s.db.Model(&model.Ban{}).Where("banned_user_id = ?", userID).Pluck("user_id", &banningMe)
	if res.Error != nil {
		return nil, wrapStorage("GetBannedPairs", res.Error)
	}

	pairs := &model.BannedPairs{
		BannedByMe: make(map[string]bool, len(bannedByMe)),
		BanningMe:  make(map[string]bool, len(banningMe)),
	}
	for _, id := range bannedByMe {
		pairs.BannedByMe[id] = true
	}
	for _, id := range banningMe {
		pairs.BanningMe[id] = true
	}
	return pairs, nil
}

// MergeFeeds bulk-copies srcFeedID's membership into dstFeedID, preserving
// each post's bump key. Safe to re-run: posts already present in dst keep
// their entry.
func (s *MembershipStore) MergeFeeds(srcFeedID, dstFeedID int64) error {
	res := s.db.Exec(
		`UPDATE posts SET feed_ids = (
			SELECT coalesce(array_agg(DISTINCT f ORDER BY f), '{}') FROM unnest(feed_ids || ARRAY[?::bigint]) AS f
		) WHERE ?::bigint = ANY(feed_ids)`,
		dstFeedID, srcFeedID,
	)
	if res.Error != nil {
		return wrapStorage("MergeFeeds", res.Error)
	}

	return wrapStorage("MergeFeeds", s.db.Exec(
		`INSERT INTO feed_entries (feed_id, post_id, bumped_at)
			SELECT ?::bigint, post_id, bumped_at FROM feed_entries WHERE feed_id = ?::bigint
			ON CONFLICT (feed_id, post_id) DO NOTHING`,
		dstFeedID, srcFeedID,
	).Error)
}

// UnmergeFeeds reverses MergeFeeds: every post present in srcFeedID loses
// its dstFeedID membership, unless dst is among the post's destination
// feeds. Safe to re-run.
func (s *MembershipStore) UnmergeFeeds(srcFeedID, dstFeedID int64) error {
	res := s.db.Exec(
		`UPDATE posts SET feed_ids = (
			SELECT coalesce(array_agg(f ORDER BY f), '{}') FROM unnest(feed_ids) AS f WHERE f <> ?::bigint
		) WHERE ?::bigint = ANY(feed_ids) AND NOT (?::bigint = ANY(destination_feed_ids))`,
		dstFeedID, srcFeedID, dstFeedID,
	)
	if res.Error != nil {
		return wrapStorage("UnmergeFeeds", res.Error)
	}

	return wrapStorage("UnmergeFeeds", s.db.Exec(
		`DELETE FROM feed_entries WHERE feed_id = ?::bigint AND post_id IN (
			SELECT post_id FROM feed_entries WHERE feed_id = ?::bigint
		) AND post_id NOT IN (
			SELECT id FROM posts WHERE ?::bigint = ANY(destination_feed_ids)
		)`,
		dstFeedID, srcFeedID, dstFeedID,
	).Error)
}
