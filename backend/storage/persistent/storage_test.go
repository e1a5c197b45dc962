package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jghoshh/tandem/backend/models"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// testBackends returns every storage backend the conformance tests should
// run against. The in-memory backend always runs; the MongoDB backend joins
// in when MONGODB_URI is configured, so the same assertions pin both
// implementations to the same conditional-update semantics.
func testBackends(t *testing.T) map[string]StorageInterface {
	t.Helper()
	backends := map[string]StorageInterface{
		"memory": NewMemoryStorage(),
	}

	godotenv.Load("../../../.env")
	if uri := os.Getenv("MONGODB_URI"); uri != "" {
		dbName := os.Getenv("TEST_DB_NAME")
		if dbName == "" {
			dbName = "tandem_test"
		}
		store, err := NewStorage(dbName, uri)
		require.NoError(t, err)
		t.Cleanup(func() { store.Disconnect() })
		backends["mongodb"] = store
	}
	return backends
}

// seedUser inserts a user with a unique email so reruns against a real
// database never trip the unique index.
func seedUser(t *testing.T, store StorageInterface) *models.User {
	t.Helper()
	user, err := store.AddUser(context.Background(), &models.User{
		Email:       primitive.NewObjectID().Hex() + "@example.com",
		DisplayName: "Test User",
		Role:        models.RolePartnerA,
	})
	require.NoError(t, err)
	return user
}

func seedHousehold(t *testing.T, store StorageInterface) (*models.Household, *models.User, *models.User) {
	t.Helper()
	a := seedUser(t, store)
	b := seedUser(t, store)
	household, err := store.AddHousehold(context.Background(), &models.Household{
		Members:   [2]primitive.ObjectID{a.ID, b.ID},
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	return household, a, b
}

func TestDuplicateUserEmailRejected(t *testing.T) {
	for name, store := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			user := seedUser(t, store)

			_, err := store.AddUser(ctx, &models.User{
				Email:       user.Email,
				DisplayName: "Impostor",
				Role:        models.RolePartnerB,
			})
			assert.ErrorIs(t, err, ErrDuplicate)
		})
	}
}

func TestAdjustUserPointsAccumulates(t *testing.T) {
	for name, store := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			user := seedUser(t, store)

			balance, err := store.AdjustUserPoints(ctx, user.ID, 7)
			require.NoError(t, err)
			assert.Equal(t, 7, balance)

			balance, err = store.AdjustUserPoints(ctx, user.ID, -10)
			require.NoError(t, err)
			assert.Equal(t, -3, balance)

			_, err = store.AdjustUserPoints(ctx, primitive.NewObjectID(), 1)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestSetUserHousehold(t *testing.T) {
	for name, store := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			household, a, _ := seedHousehold(t, store)

			require.NoError(t, store.SetUserHousehold(ctx, a.ID, household.ID))
			stored, err := store.FindUserByID(ctx, a.ID)
			require.NoError(t, err)
			assert.Equal(t, household.ID, stored.HouseholdID)
		})
	}
}

func TestFindHouseholdByMember(t *testing.T) {
	for name, store := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			household, a, b := seedHousehold(t, store)

			for _, member := range []primitive.ObjectID{a.ID, b.ID} {
				found, err := store.FindHouseholdByMember(ctx, member)
				require.NoError(t, err)
				assert.Equal(t, household.ID, found.ID)
			}

			_, err := store.FindHouseholdByMember(ctx, primitive.NewObjectID())
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestCompletionTripleIsUnique(t *testing.T) {
	for name, store := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			habitID := primitive.NewObjectID()
			userID := primitive.NewObjectID()

			completion := &models.Completion{
				HabitID:     habitID,
				UserID:      userID,
				Date:        "2026-08-31",
				CompletedAt: time.Now(),
			}
			_, err := store.AddCompletion(ctx, completion)
			require.NoError(t, err)

			_, err = store.AddCompletion(ctx, &models.Completion{
				HabitID:     habitID,
				UserID:      userID,
				Date:        "2026-08-31",
				CompletedAt: time.Now(),
			})
			assert.ErrorIs(t, err, ErrDuplicate)

			// Same habit and day for another user is fine.
			_, err = store.AddCompletion(ctx, &models.Completion{
				HabitID:     habitID,
				UserID:      primitive.NewObjectID(),
				Date:        "2026-08-31",
				CompletedAt: time.Now(),
			})
			assert.NoError(t, err)
		})
	}
}

func TestDeleteCompletionReportsCount(t *testing.T) {
	for name, store := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			habitID := primitive.NewObjectID()
			userID := primitive.NewObjectID()

			_, err := store.AddCompletion(ctx, &models.Completion{
				HabitID:     habitID,
				UserID:      userID,
				Date:        "2026-08-30",
				CompletedAt: time.Now(),
			})
			require.NoError(t, err)

			deleted, err := store.DeleteCompletion(ctx, habitID, userID, "2026-08-30")
			require.NoError(t, err)
			assert.EqualValues(t, 1, deleted.DeletedCount)

			deleted, err = store.DeleteCompletion(ctx, habitID, userID, "2026-08-30")
			require.NoError(t, err)
			assert.EqualValues(t, 0, deleted.DeletedCount)
		})
	}
}

func TestReserveRewardIsConditional(t *testing.T) {
	for name, store := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			household, a, b := seedHousehold(t, store)

			reward, err := store.AddReward(ctx, &models.Reward{
				HouseholdID: household.ID,
				Title:       "Movie night",
				PointCost:   25,
				PointType:   models.PointTypeIndividual,
				CreatedBy:   a.ID,
				CreatedAt:   time.Now(),
			})
			require.NoError(t, err)

			won, err := store.ReserveReward(ctx, reward.ID, a.ID, time.Now())
			require.NoError(t, err)
			assert.True(t, won)

			won, err = store.ReserveReward(ctx, reward.ID, b.ID, time.Now())
			require.NoError(t, err)
			assert.False(t, won)

			require.NoError(t, store.UnreserveReward(ctx, reward.ID))
			won, err = store.ReserveReward(ctx, reward.ID, b.ID, time.Now())
			require.NoError(t, err)
			assert.True(t, won)
		})
	}
}

func TestClaimRewardIsTerminal(t *testing.T) {
	for name, store := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			household, a, b := seedHousehold(t, store)

			reward, err := store.AddReward(ctx, &models.Reward{
				HouseholdID: household.ID,
				Title:       "Fancy dinner",
				PointCost:   60,
				PointType:   models.PointTypeCombined,
				CreatedBy:   a.ID,
				CreatedAt:   time.Now(),
			})
			require.NoError(t, err)

			won, err := store.ClaimReward(ctx, reward.ID, a.ID, time.Now())
			require.NoError(t, err)
			assert.True(t, won)

			won, err = store.ClaimReward(ctx, reward.ID, b.ID, time.Now())
			require.NoError(t, err)
			assert.False(t, won)

			stored, err := store.FindRewardByID(ctx, reward.ID)
			require.NoError(t, err)
			require.NotNil(t, stored.ClaimedBy)
			assert.Equal(t, a.ID, *stored.ClaimedBy)
			assert.False(t, stored.IsReserved)
		})
	}
}

func TestFindOpenRewardsSortsByCost(t *testing.T) {
	for name, store := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			household, a, _ := seedHousehold(t, store)

			for _, cost := range []int{40, 10, 25} {
				_, err := store.AddReward(ctx, &models.Reward{
					HouseholdID: household.ID,
					Title:       "Reward",
					PointCost:   cost,
					PointType:   models.PointTypeIndividual,
					CreatedBy:   a.ID,
					CreatedAt:   time.Now(),
				})
				require.NoError(t, err)
			}

			rewards, err := store.FindOpenRewards(ctx, household.ID)
			require.NoError(t, err)
			require.Len(t, rewards, 3)
			assert.Equal(t, 10, rewards[0].PointCost)
			assert.Equal(t, 25, rewards[1].PointCost)
			assert.Equal(t, 40, rewards[2].PointCost)
		})
	}
}

func TestNotificationsReadFlag(t *testing.T) {
	for name, store := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			user := seedUser(t, store)

			notification, err := store.AddNotification(ctx, &models.Notification{
				UserID:    user.ID,
				Type:      models.NotificationHabitCompleted,
				Message:   "Test message",
				CreatedAt: time.Now(),
			})
			require.NoError(t, err)

			require.NoError(t, store.MarkNotificationRead(ctx, notification.ID))
			notifications, err := store.FindNotificationsByUser(ctx, user.ID)
			require.NoError(t, err)
			require.NotEmpty(t, notifications)
			assert.True(t, notifications[0].IsRead)
		})
	}
}
