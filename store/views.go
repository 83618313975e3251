package store

import (
	"github.com/candorhq/riverd/model"
	"github.com/candorhq/riverd/visibility"
)

// ResolveFeedViews projects feed rows into the evaluator's input shape.
// Subscriber sets are only fetched for private owners, the only case the
// evaluator consults them.
func (s *MembershipStore) ResolveFeedViews(feeds []model.Feed) ([]visibility.FeedView, error) {
	views := make([]visibility.FeedView, 0, len(feeds))
	for _, feed := range feeds {
		view := visibility.FeedView{
			ID:             feed.Id,
			Kind:           feed.Kind,
			OwnerID:        feed.UserID,
			OwnerPrivate:   feed.User.IsPrivate,
			OwnerProtected: feed.User.IsProtected,
		}
		if feed.User.IsPrivate {
			subscriberIDs, err := s.GetSubscriberUserIDs(feed.Id)
			if err != nil {
				return nil, err
			}
			view.SubscriberIDs = make(map[string]bool, len(subscriberIDs))
			for _, id := range subscriberIDs {
				view.SubscriberIDs[id] = true
			}
		}
		views = append(views, view)
	}
	return views, nil
}
