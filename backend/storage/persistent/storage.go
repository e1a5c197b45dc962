package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jghoshh/tandem/backend/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrNotFound is returned when a referenced document does not exist.
var ErrNotFound = errors.New("document not found")

// ErrDuplicate is returned when an insert violates a uniqueness constraint,
// most importantly the one-completion-per-(habit,user,date) rule.
var ErrDuplicate = errors.New("duplicate document")

// DeleteResult represents the result of a deletion operation,
// specifically the count of documents deleted.
type DeleteResult struct {
	DeletedCount int64
}

// StorageInterface defines the set of methods that any persistent storage
// backend needs to implement. All cross-document invariants (one completion
// per habit-day per user, terminal reward claims, balance adjustments) are
// enforced here with single-document conditional updates, so callers never
// need a read-modify-write round trip.
type StorageInterface interface {
	// Establishes a connection to the storage backend.
	Connect(dbName, uri string) error
	// Disconnects from the storage backend.
	Disconnect() error

	// Adds a new user to the storage backend.
	AddUser(ctx context.Context, user *models.User) (*models.User, error)
	// Finds a user by their id.
	FindUserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	// Finds a user by their email.
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	// Atomically adds delta (which may be negative) to a user's point
	// balance and returns the new balance.
	AdjustUserPoints(ctx context.Context, id primitive.ObjectID, delta int) (int, error)
	// Records which household a user belongs to.
	SetUserHousehold(ctx context.Context, id, householdID primitive.ObjectID) error

	// Adds a new household pairing exactly two users.
	AddHousehold(ctx context.Context, household *models.Household) (*models.Household, error)
	// Finds a household by its id.
	FindHouseholdByID(ctx context.Context, id primitive.ObjectID) (*models.Household, error)
	// Finds the household a user belongs to.
	FindHouseholdByMember(ctx context.Context, userID primitive.ObjectID) (*models.Household, error)

	// Adds a new habit to the storage backend.
	AddHabit(ctx context.Context, habit *models.Habit) (*models.Habit, error)
	// Finds a habit by its id.
	FindHabitByID(ctx context.Context, id primitive.ObjectID) (*models.Habit, error)
	// Finds all active habits of a household.
	FindActiveHabits(ctx context.Context, householdID primitive.ObjectID) ([]models.Habit, error)
	// Applies a partial update to a habit.
	UpdateHabit(ctx context.Context, id primitive.ObjectID, update models.HabitUpdate) error
	// Soft-deletes a habit by flipping its active flag.
	DeactivateHabit(ctx context.Context, id primitive.ObjectID) error

	// Adds a completion record; returns ErrDuplicate if the (habit, user,
	// date) triple already exists.
	AddCompletion(ctx context.Context, completion *models.Completion) (*models.Completion, error)
	// Finds a single completion record.
	FindCompletion(ctx context.Context, habitID, userID primitive.ObjectID, date string) (*models.Completion, error)
	// Deletes a single completion record, reporting how many were removed.
	DeleteCompletion(ctx context.Context, habitID, userID primitive.ObjectID, date string) (*DeleteResult, error)
	// Finds all completions recorded for a calendar day.
	FindCompletionsByDate(ctx context.Context, date string) ([]models.Completion, error)
	// Finds all completions of a habit on or after the given day key.
	FindCompletionsSince(ctx context.Context, habitID primitive.ObjectID, sinceDate string) ([]models.Completion, error)

	// Adds a new reward to the storage backend.
	AddReward(ctx context.Context, reward *models.Reward) (*models.Reward, error)
	// Finds a reward by its id.
	FindRewardByID(ctx context.Context, id primitive.ObjectID) (*models.Reward, error)
	// Finds unclaimed rewards of a household, cheapest first.
	FindOpenRewards(ctx context.Context, householdID primitive.ObjectID) ([]models.Reward, error)
	// Finds reserved, unclaimed rewards of a household.
	FindReservedRewards(ctx context.Context, householdID primitive.ObjectID) ([]models.Reward, error)
	// Finds claimed rewards of a household, most recent first.
	FindClaimedRewards(ctx context.Context, householdID primitive.ObjectID) ([]models.Reward, error)
	// Applies a partial update to a reward.
	UpdateReward(ctx context.Context, id primitive.ObjectID, update models.RewardUpdate) error
	// Deletes a reward outright.
	DeleteReward(ctx context.Context, id primitive.ObjectID) (*DeleteResult, error)
	// Marks a reward reserved iff it is currently unreserved and unclaimed.
	// Reports whether the reservation was applied.
	ReserveReward(ctx context.Context, id, userID primitive.ObjectID, at time.Time) (bool, error)
	// Clears a reward's reservation.
	UnreserveReward(ctx context.Context, id primitive.ObjectID) error
	// Marks a reward claimed iff it has not been claimed before. Claiming
	// is terminal; reports whether this call won the claim.
	ClaimReward(ctx context.Context, id, userID primitive.ObjectID, at time.Time) (bool, error)

	// Adds an in-app notification.
	AddNotification(ctx context.Context, notification *models.Notification) (*models.Notification, error)
	// Finds a user's notifications, most recent first.
	FindNotificationsByUser(ctx context.Context, userID primitive.ObjectID) ([]models.Notification, error)
	// Marks a notification as read.
	MarkNotificationRead(ctx context.Context, id primitive.ObjectID) error
}

// NewStorage creates a new StorageInterface with a MongoDB backend,
// using the provided URI to connect to the MongoDB server.
func NewStorage(dbName, uri string) (StorageInterface, error) {
	storage := NewMongoStorage()
	err := storage.Connect(dbName, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return storage, nil
}
