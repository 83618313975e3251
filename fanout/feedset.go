package fanout

import (
	"github.com/candorhq/riverd/model"
	"github.com/candorhq/riverd/utils"
)

// isStrictlyDirect reports whether every destination feed is a Directs feed.
// Such a post lives purely in direct-message space and must never fan out
// beyond its existing membership, no matter who reacts to it.
func isStrictlyDirect(destinationFeeds []model.Feed) bool {
	if len(destinationFeeds) == 0 {
		return false
	}
	for _, feed := range destinationFeeds {
		if feed.Kind != model.FeedKindDirects {
			return false
		}
	}
	return true
}

// hasNonGroupDestination reports whether the post was posted to at least one
// feed not owned by a group. A post confined purely to group feeds does not
// bump into the streams of the actor's own subscribers.
func hasNonGroupDestination(destinationFeeds []model.Feed) bool {
	for _, feed := range destinationFeeds {
		if !feed.User.IsGroup() {
			return true
		}
	}
	return false
}

// personOwnerIDs returns the owner ids of membership feeds owned by persons.
// Their RiverOfNews feeds receive the bump.
func personOwnerIDs(membershipFeeds []model.Feed) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, feed := range membershipFeeds {
		if feed.User.IsGroup() || seen[feed.UserID] {
			continue
		}
		seen[feed.UserID] = true
		ids = append(ids, feed.UserID)
	}
	return ids
}

// computeBumpFeeds merges the friend-of-friend expansion into the post's
// current membership for a comment or like mutation.
//
// membership is the post's current feed set; destinationFeeds are the
// resolved destination rows (owners loaded). actorFeedIDs is the acting
// user's own propagation feeds (their Comments or Likes feed).
// actorReachRiverIDs are the RiverOfNews feeds of the actor and of the
// actor's subscribers, applied only when the post has a non-group
// destination. memberOwnerRiverIDs are the RiverOfNews feeds of membership
// feed owners that are persons.
//
// Strictly-direct posts short-circuit to their existing membership.
func computeBumpFeeds(
	membership []int64,
	destinationFeeds []model.Feed,
	actorFeedIDs []int64,
	actorReachRiverIDs []int64,
	memberOwnerRiverIDs []int64,
) []int64 {
	result := utils.Int64Set(membership)

	if isStrictlyDirect(destinationFeeds) {
		return utils.Int64SetToSlice(result)
	}

	for _, id := range actorFeedIDs {
		result[id] = true
	}
	for _, id := range memberOwnerRiverIDs {
		result[id] = true
	}
	if hasNonGroupDestination(destinationFeeds) {
		for _, id := range actorReachRiverIDs {
			result[id] = true
		}
	}

	return utils.Int64SetToSlice(result)
}
