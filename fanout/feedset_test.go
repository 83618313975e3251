package fanout

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/candorhq/riverd/model"
	"github.com/candorhq/riverd/utils"
)

func personFeed(id int64, owner string, kind model.FeedKind) model.Feed {
	return model.Feed{
		Id:     id,
		UserID: owner,
		Kind:   kind,
		User:   model.User{Id: owner, Type: model.AccountTypeUser},
	}
}

func groupFeed(id int64, owner string) model.Feed {
	return model.Feed{
		Id:     id,
		UserID: owner,
		Kind:   model.FeedKindPosts,
		User:   model.User{Id: owner, Type: model.AccountTypeGroup},
	}
}

func TestIsStrictlyDirect(t *testing.T) {
	assert.True(t, isStrictlyDirect([]model.Feed{
		personFeed(1, "luna", model.FeedKindDirects),
		personFeed(2, "mars", model.FeedKindDirects),
	}))
	assert.False(t, isStrictlyDirect([]model.Feed{
		personFeed(1, "luna", model.FeedKindDirects),
		personFeed(3, "luna", model.FeedKindPosts),
	}))
	assert.False(t, isStrictlyDirect(nil))
}

func TestComputeBumpFeedsStrictlyDirect(t *testing.T) {
	// Comments on a pure direct stay confined to the existing membership, the
	// commenter's own feeds and rivers never join.
	membership := []int64{1, 2, 40, 41}
	got := computeBumpFeeds(
		membership,
		[]model.Feed{
			personFeed(1, "luna", model.FeedKindDirects),
			personFeed(2, "mars", model.FeedKindDirects),
		},
		[]int64{50},
		[]int64{60, 61},
		[]int64{70, 71},
	)
	assert.ElementsMatch(t, membership, got)
}

func TestComputeBumpFeedsGroupOnlyDestination(t *testing.T) {
	// A post living only in a group feed: the actor's own propagation feed
	// and the member-owner rivers join, but not the actor's subscriber reach.
	got := computeBumpFeeds(
		[]int64{2},
		[]model.Feed{groupFeed(2, "group-solar")},
		[]int64{50},
		[]int64{60, 61},
		nil,
	)
	assert.ElementsMatch(t, []int64{2, 50}, got)
}

func TestComputeBumpFeedsFriendOfFriend(t *testing.T) {
	// Pluto comments on Luna's timeline post: Pluto's Comments feed, the
	// rivers of Pluto's subscribers and the rivers of membership owners all
	// join the bump set.
	got := computeBumpFeeds(
		[]int64{1},
		[]model.Feed{personFeed(1, "luna", model.FeedKindPosts)},
		[]int64{50},
		[]int64{60, 61},
		[]int64{70},
	)
	assert.ElementsMatch(t, []int64{1, 50, 60, 61, 70}, got)
}

func TestComputeBumpFeedsIsIdempotent(t *testing.T) {
	membership := []int64{1, 50, 60}
	got := computeBumpFeeds(
		membership,
		[]model.Feed{personFeed(1, "luna", model.FeedKindPosts)},
		[]int64{50},
		[]int64{60},
		nil,
	)
	assert.ElementsMatch(t, membership, got)
}

func TestPersonOwnerIDs(t *testing.T) {
	ids := personOwnerIDs([]model.Feed{
		personFeed(1, "luna", model.FeedKindPosts),
		personFeed(2, "luna", model.FeedKindDirects),
		groupFeed(3, "group-solar"),
		personFeed(4, "mars", model.FeedKindPosts),
	})
	assert.ElementsMatch(t, []string{"luna", "mars"}, ids)
	assert.True(t, utils.ContainsString(ids, "luna"))
}
