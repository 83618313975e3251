package model

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type RoomKind string

const (
	RoomKindFeed RoomKind = "feed"
	RoomKindPost RoomKind = "post"
)

// RoomID is a typed realtime delivery channel, either a feed or a single
// post. Keeping it a small comparable struct instead of a concatenated
// string rules out collisions between the two namespaces and lets it key
// maps directly.
type RoomID struct {
	Kind   RoomKind
	FeedID int64
	PostID string
}

func FeedRoom(feedID int64) RoomID {
	return RoomID{Kind: RoomKindFeed, FeedID: feedID}
}

func PostRoom(postID string) RoomID {
	return RoomID{Kind: RoomKindPost, PostID: postID}
}

// String renders the wire form used in the session protocol, e.g. "feed:42"
// or "post:<uuid>".
func (r RoomID) String() string {
	if r.Kind == RoomKindFeed {
		return fmt.Sprintf("feed:%d", r.FeedID)
	}
	return "post:" + r.PostID
}

func ParseRoomID(s string) (RoomID, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return RoomID{}, errors.Errorf("malformed room id %q", s)
	}
	switch RoomKind(parts[0]) {
	case RoomKindFeed:
		feedID, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return RoomID{}, errors.Wrapf(err, "malformed feed room id %q", s)
		}
		return FeedRoom(feedID), nil
	case RoomKindPost:
		return PostRoom(parts[1]), nil
	}
	return RoomID{}, errors.Errorf("unknown room kind in %q", s)
}
