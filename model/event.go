package model

import "encoding/json"

type EventKind string

const (
	EventPostNew           EventKind = "post:new"
	EventPostUpdate        EventKind = "post:update"
	EventPostDestroy       EventKind = "post:destroy"
	EventPostHide          EventKind = "post:hide"
	EventPostUnhide        EventKind = "post:unhide"
	EventCommentNew        EventKind = "comment:new"
	EventCommentUpdate     EventKind = "comment:update"
	EventCommentDestroy    EventKind = "comment:destroy"
	EventLikeNew           EventKind = "like:new"
	EventLikeRemove        EventKind = "like:remove"
	EventCommentLikeNew    EventKind = "comment_like:new"
	EventCommentLikeRemove EventKind = "comment_like:remove"
)

var AllEventKinds = []EventKind{
	EventPostNew,
	EventPostUpdate,
	EventPostDestroy,
	EventPostHide,
	EventPostUnhide,
	EventCommentNew,
	EventCommentUpdate,
	EventCommentDestroy,
	EventLikeNew,
	EventLikeRemove,
	EventCommentLikeNew,
	EventCommentLikeRemove,
}

func (k EventKind) IsValid() bool {
	for _, kind := range AllEventKinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (k EventKind) String() string {
	return string(k)
}

// IsActorScoped reports whether events of this kind may only ever be
// delivered to the sessions of the acting user, never to the room at large.
func (k EventKind) IsActorScoped() bool {
	return k == EventPostHide || k == EventPostUnhide
}

/*

Event is the mutation event published on the bus after a fan-out commits.
The broadcast router consumes it in every process that owns live
connections, re-derives per-recipient visibility and delivers per-viewer
payloads.

Kind: which mutation happened
PostID: the affected post
CommentID: set for comment and comment-like mutations
UserID: the acting user
AffectedFeedIDs: the post's membership at commit time. For destroy events
		this is the membership that was just revoked, so cached views know
		to drop the item.

*/
type Event struct {
	Kind            EventKind `json:"kind"`
	PostID          string    `json:"postId"`
	CommentID       string    `json:"commentId,omitempty"`
	UserID          string    `json:"userId,omitempty"`
	AffectedFeedIDs []int64   `json:"affectedFeedIds"`
}

func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

func UnmarshalEvent(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
