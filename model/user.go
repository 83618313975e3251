package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type AccountType string

const (
	AccountTypeUser  AccountType = "user"
	AccountTypeGroup AccountType = "group"
)

func (t AccountType) IsValid() bool {
	switch t {
	case AccountTypeUser, AccountTypeGroup:
		return true
	}
	return false
}

func (t AccountType) String() string {
	return string(t)
}

/*

User is any account that can own feeds: a person or a group. Groups are a
tagged variant of the same row instead of a separate table, dispatch on Type
where behavior diverges (e.g. restricted group posting).

Id: primary key, use to identify a user
CreatedAt: time when entity is created
DeletedAt: time when entity is deleted

Username: unique handle shown to other users
Type: "user" or "group"
IsPrivate: content is visible to approved subscribers only
IsProtected: content is visible to any authenticated viewer. A private
		account is always protected as well, normalized in BeforeSave.
IsRestricted: only meaningful for groups, restricts posting to group admins
LastActivityAt: time of the latest post addressed to one of this account's
		feeds, re-stamped on every new post
Preferences: per-user delivery preferences, e.g. hideCommentsOfBannedUsers

SubscribedFeeds: feeds this user subscribed to, "many-to-many" relation

*/
type User struct {
	Id              string `gorm:"primaryKey"`
	CreatedAt       time.Time
	DeletedAt       gorm.DeletedAt
	Username        string      `gorm:"uniqueIndex"`
	Type            AccountType `gorm:"default:user"`
	IsPrivate       bool
	IsProtected     bool
	IsRestricted    bool
	LastActivityAt  time.Time
	Preferences     datatypes.JSON
	SubscribedFeeds []*Feed `json:"subscribed_feeds" gorm:"many2many:subscriptions;"`
}

func (u *User) BeforeSave(db *gorm.DB) error {
	// private implies protected
	if u.IsPrivate {
		u.IsProtected = true
	}
	return nil
}

func (u *User) IsGroup() bool {
	return u.Type == AccountTypeGroup
}

/*

GroupAdmin is a "many-to-many" relation marking a user as administrator of a
group. Restricted groups only accept posts from their administrators.

GroupID: the group's user id
UserID: the administrator's user id
CreatedAt: time when relation is created

*/
type GroupAdmin struct {
	GroupID   string `gorm:"primaryKey"`
	UserID    string `gorm:"primaryKey"`
	CreatedAt time.Time
}

// UserPreferences is the decoded shape of User.Preferences.
type UserPreferences struct {
	HideCommentsOfBannedUsers bool `json:"hideCommentsOfBannedUsers"`
}
