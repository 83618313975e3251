package broadcast

import "github.com/pkg/errors"

var (
	// ErrSessionGone means the session disconnected while the operation was
	// in flight. In-flight work for it is simply discarded.
	ErrSessionGone = errors.New("session is gone")

	// ErrRoomForbidden means the session tried to subscribe a
	// personal-scope room it does not own.
	ErrRoomForbidden = errors.New("room may only be subscribed by its owner")

	// ErrUnknownRoom means the room references a feed that does not exist.
	ErrUnknownRoom = errors.New("unknown room")
)
