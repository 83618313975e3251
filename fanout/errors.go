package fanout

import "github.com/pkg/errors"

// DomainCode classifies precondition violations. Domain errors are returned
// to the triggering caller, never retried and never broadcast.
type DomainCode string

const (
	CodeAlreadyExists    DomainCode = "already_exists"
	CodeNotAFollower     DomainCode = "not_a_follower"
	CodeSelfBan          DomainCode = "self_ban"
	CodePostingDenied    DomainCode = "posting_denied"
	CodeCommentsDisabled DomainCode = "comments_disabled"
	CodeNotFound         DomainCode = "not_found"
)

type DomainError struct {
	Code DomainCode
	Msg  string
}

func (e *DomainError) Error() string {
	return string(e.Code) + ": " + e.Msg
}

func domainErrorf(code DomainCode, format string, args ...interface{}) *DomainError {
	return &DomainError{Code: code, Msg: errors.Errorf(format, args...).Error()}
}

// IsDomainError reports whether err is (or wraps) a DomainError, and if so
// returns it.
func IsDomainError(err error) (*DomainError, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
