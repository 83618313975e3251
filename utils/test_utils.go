package utils

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/candorhq/riverd/model"
)

// create a person account together with its singleton feed set, do sanity
// checks and return it
func TestCreateUserAndValidate(t *testing.T, db *gorm.DB, username string) *model.User {
	t.Helper()
	return testCreateAccount(t, db, username, model.AccountTypeUser, false, false, false)
}

func TestCreatePrivateUserAndValidate(t *testing.T, db *gorm.DB, username string) *model.User {
	t.Helper()
	return testCreateAccount(t, db, username, model.AccountTypeUser, true, true, false)
}

func TestCreateProtectedUserAndValidate(t *testing.T, db *gorm.DB, username string) *model.User {
	t.Helper()
	return testCreateAccount(t, db, username, model.AccountTypeUser, false, true, false)
}

// create a group account, do sanity checks and return it
func TestCreateGroupAndValidate(t *testing.T, db *gorm.DB, username string, restricted bool) *model.User {
	t.Helper()
	return testCreateAccount(t, db, username, model.AccountTypeGroup, false, false, restricted)
}

func testCreateAccount(t *testing.T, db *gorm.DB, username string, accountType model.AccountType, private, protected, restricted bool) *model.User {
	t.Helper()

	user := &model.User{
		Id:           uuid.New().String(),
		Username:     username,
		Type:         accountType,
		IsPrivate:    private,
		IsProtected:  protected,
		IsRestricted: restricted,
	}
	require.Nil(t, db.Create(user).Error)
	require.Nil(t, db.Create(model.NewUserFeeds(user.Id, accountType)).Error)

	var count int64
	require.Nil(t, db.Model(&model.Feed{}).Where("user_id = ?", user.Id).Count(&count).Error)
	if accountType == model.AccountTypeGroup {
		require.Equal(t, int64(2), count)
	} else {
		require.Equal(t, int64(len(model.AllFeedKinds)), count)
	}

	return user
}

// TestGetFeed fetches the user's singleton feed of the given kind.
func TestGetFeed(t *testing.T, db *gorm.DB, userID string, kind model.FeedKind) *model.Feed {
	t.Helper()

	var feed model.Feed
	require.Nil(t, db.Where("user_id = ? AND kind = ?", userID, kind).First(&feed).Error)
	return &feed
}

// TestMakeGroupAdmin marks the user as an administrator of the group.
func TestMakeGroupAdmin(t *testing.T, db *gorm.DB, groupID, userID string) {
	t.Helper()
	require.Nil(t, db.Create(&model.GroupAdmin{GroupID: groupID, UserID: userID}).Error)
}
