package model

import "time"

/*

Ban is a directed edge, UserID banned BannedUserID. The data is asymmetric
but the effect is symmetric: neither side's activity is shown to the other
in shared contexts. Fan-out and broadcast each enforce this from whichever
direction's row they can see.

UserID: the banner
BannedUserID: the banned user
CreatedAt: time when relation is created

*/
type Ban struct {
	UserID       string `gorm:"primaryKey"`
	BannedUserID string `gorm:"primaryKey"`
	CreatedAt    time.Time
}

// BannedPairs holds both directions of a user's ban relations.
type BannedPairs struct {
	// BannedByMe are user ids this user has banned.
	BannedByMe map[string]bool
	// BanningMe are user ids that have banned this user.
	BanningMe map[string]bool
}

// Blocks reports whether content authored by authorID must be withheld from
// this user, in either direction.
func (p *BannedPairs) Blocks(authorID string) bool {
	if p == nil {
		return false
	}
	return p.BannedByMe[authorID] || p.BanningMe[authorID]
}
