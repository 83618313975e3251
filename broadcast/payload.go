package broadcast

import (
	"encoding/json"
	"time"

	"github.com/jinzhu/copier"

	"github.com/candorhq/riverd/model"
)

/*

EventPayload is the body of a Delivery. The Post part is always present,
the Comment part only for comment and comment-like events.

The base payload is computed once per event, then cloned and specialized
per viewer: own-like and own-hidden flags plus the like/comment counters
recomputed from that viewer's perspective (activity of banned users is
omitted, and omitted amounts are reported so clients can render "N more").

*/
type EventPayload struct {
	Post    *PostPayload    `json:"post"`
	Comment *CommentPayload `json:"comment,omitempty"`
}

type PostPayload struct {
	ID               string    `json:"id"`
	AuthorID         string    `json:"authorId"`
	Body             string    `json:"body"`
	CommentsDisabled bool      `json:"commentsDisabled"`
	CreatedAt        time.Time `json:"createdAt"`
	CommentCount     int       `json:"commentCount"`
	LikeCount        int       `json:"likeCount"`
	OmittedComments  int       `json:"omittedComments"`
	OmittedLikes     int       `json:"omittedLikes"`
	OwnLike          bool      `json:"ownLike"`
	OwnHidden        bool      `json:"ownHidden"`
}

type CommentPayload struct {
	ID        string    `json:"id"`
	PostID    string    `json:"postId"`
	AuthorID  string    `json:"authorId"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// clone deep-copies the payload so per-viewer specialization never leaks
// into another viewer's delivery.
func (p *EventPayload) clone() *EventPayload {
	var out EventPayload
	// copier deep-copies the nested pointers.
	if err := copier.CopyWithOption(&out, p, copier.Option{DeepCopy: true}); err != nil {
		return p.copyParts()
	}
	return &out
}

// copyParts duplicates the payload field by field. Both parts are flat
// value structs, so shallow copies fully isolate viewers.
func (p *EventPayload) copyParts() *EventPayload {
	out := &EventPayload{}
	if p.Post != nil {
		post := *p.Post
		out.Post = &post
	}
	if p.Comment != nil {
		comment := *p.Comment
		out.Comment = &comment
	}
	return out
}

// decodePreferences parses the stored preference blob, tolerating absent or
// malformed data.
func decodePreferences(raw []byte) model.UserPreferences {
	var prefs model.UserPreferences
	if len(raw) == 0 {
		return prefs
	}
	_ = json.Unmarshal(raw, &prefs)
	return prefs
}
