// Package visibility is the pure decision logic answering "may this viewer
// see this post". It holds no state and touches no storage: callers resolve
// the post's membership feeds up front and hand them in, which lets the
// broadcast router batch one resolution across many viewers.
package visibility

import (
	"github.com/candorhq/riverd/model"
)

// FeedView is the slice of feed state the evaluator needs: identity, kind,
// owner flags and the subscriber set (only consulted for private owners).
type FeedView struct {
	ID             int64
	Kind           model.FeedKind
	OwnerID        string
	OwnerPrivate   bool
	OwnerProtected bool
	SubscriberIDs  map[string]bool
}

// Context is one visibility question: a post (author + destinations), its
// resolved membership feeds, and a viewer. An empty ViewerID means an
// anonymous viewer.
type Context struct {
	AuthorID           string
	DestinationFeedIDs []int64
	MembershipFeeds    []FeedView
	ViewerID           string
}

// CanView applies the per-feed visibility rules. The result is a logical OR
// across membership feeds: one granting feed is enough, except that direct
// membership dominates everything.
//
// The ban overlay is intentionally not applied here, see Banned.
func (c Context) CanView() bool {
	// Authors always see their own content.
	if c.ViewerID != "" && c.ViewerID == c.AuthorID {
		return true
	}

	// Owner of any destination feed always sees it.
	if c.ViewerID != "" {
		destinations := make(map[int64]bool, len(c.DestinationFeedIDs))
		for _, id := range c.DestinationFeedIDs {
			destinations[id] = true
		}
		for _, feed := range c.MembershipFeeds {
			if destinations[feed.ID] && feed.OwnerID == c.ViewerID {
				return true
			}
		}
	}

	// Direct membership dominates: a direct is never discoverable through
	// any other feed, only the owners of the Directs feeds it was sent to
	// may see it.
	directs := directFeeds(c.MembershipFeeds)
	if len(directs) > 0 {
		if c.ViewerID == "" {
			return false
		}
		for _, feed := range directs {
			if feed.OwnerID == c.ViewerID {
				return true
			}
		}
		return false
	}

	for _, feed := range c.MembershipFeeds {
		if c.feedGrants(feed) {
			return true
		}
	}
	return false
}

// feedGrants is the per-feed rule: public owners grant everyone, protected
// owners grant any authenticated viewer, private owners grant only
// themselves and their subscribers.
func (c Context) feedGrants(feed FeedView) bool {
	if feed.OwnerPrivate {
		if c.ViewerID == "" {
			return false
		}
		return feed.OwnerID == c.ViewerID || feed.SubscriberIDs[c.ViewerID]
	}
	if feed.OwnerProtected {
		return c.ViewerID != ""
	}
	return true
}

func directFeeds(feeds []FeedView) []FeedView {
	var directs []FeedView
	for _, feed := range feeds {
		if feed.Kind == model.FeedKindDirects {
			directs = append(directs, feed)
		}
	}
	return directs
}

// Banned is the overlay callers apply on top of CanView: content is
// withheld when either side has banned the other, except that authors
// always see their own content. Both fan-out and broadcast go through this
// so the two delivery paths cannot disagree.
func Banned(pairs *model.BannedPairs, authorID, viewerID string) bool {
	if viewerID == "" || viewerID == authorID {
		return false
	}
	return pairs.Blocks(authorID)
}

// CanPostTo decides whether a user may post to a group's Posts feed: the
// user must be a current subscriber, and for restricted groups also a group
// administrator.
func CanPostTo(group *model.User, isSubscriber, isAdmin bool) bool {
	if !group.IsGroup() {
		return false
	}
	if !isSubscriber {
		return false
	}
	if group.IsRestricted && !isAdmin {
		return false
	}
	return true
}
