package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jghoshh/tandem/backend/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryStorage is an in-memory implementation of StorageInterface with the
// same conditional-update semantics as the MongoDB backend. It backs the
// unit tests of the engine, ledger and settlement packages and is handy for
// local development without a running database.
type MemoryStorage struct {
	mu sync.Mutex

	users         map[primitive.ObjectID]*models.User
	households    map[primitive.ObjectID]*models.Household
	habits        map[primitive.ObjectID]*models.Habit
	completions   map[primitive.ObjectID]*models.Completion
	rewards       map[primitive.ObjectID]*models.Reward
	notifications map[primitive.ObjectID]*models.Notification
}

// NewMemoryStorage creates an empty, ready-to-use MemoryStorage.
// Connect and Disconnect are no-ops on this backend.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		users:         make(map[primitive.ObjectID]*models.User),
		households:    make(map[primitive.ObjectID]*models.Household),
		habits:        make(map[primitive.ObjectID]*models.Habit),
		completions:   make(map[primitive.ObjectID]*models.Completion),
		rewards:       make(map[primitive.ObjectID]*models.Reward),
		notifications: make(map[primitive.ObjectID]*models.Notification),
	}
}

// Connect is a no-op on the in-memory backend.
func (m *MemoryStorage) Connect(dbName, uri string) error { return nil }

// Disconnect is a no-op on the in-memory backend.
func (m *MemoryStorage) Disconnect() error { return nil }

// AddUser adds a new user record.
func (m *MemoryStorage) AddUser(ctx context.Context, user *models.User) (*models.User, error) {
	if err := user.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if existing.Email == user.Email {
			return nil, fmt.Errorf("a user with email %q already exists: %w", user.Email, ErrDuplicate)
		}
	}
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	stored := *user
	m.users[user.ID] = &stored
	return user, nil
}

// FindUserByID finds a user record by id.
func (m *MemoryStorage) FindUserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	found := *user
	return &found, nil
}

// FindUserByEmail finds a user record by email.
func (m *MemoryStorage) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, user := range m.users {
		if user.Email == email {
			found := *user
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

// AdjustUserPoints adds delta to a user's balance under the storage lock and
// returns the new balance.
func (m *MemoryStorage) AdjustUserPoints(ctx context.Context, id primitive.ObjectID, delta int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[id]
	if !ok {
		return 0, ErrNotFound
	}
	user.Points += delta
	return user.Points, nil
}

// SetUserHousehold records which household a user belongs to.
func (m *MemoryStorage) SetUserHousehold(ctx context.Context, id, householdID primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	user.HouseholdID = householdID
	return nil
}

// AddHousehold adds a new household record.
func (m *MemoryStorage) AddHousehold(ctx context.Context, household *models.Household) (*models.Household, error) {
	if household.Members[0].IsZero() || household.Members[1].IsZero() {
		return nil, errors.New("household requires two members")
	}
	if household.Members[0] == household.Members[1] {
		return nil, errors.New("household members must be distinct")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if household.ID.IsZero() {
		household.ID = primitive.NewObjectID()
	}
	stored := *household
	m.households[household.ID] = &stored
	return household, nil
}

// FindHouseholdByID finds a household record by id.
func (m *MemoryStorage) FindHouseholdByID(ctx context.Context, id primitive.ObjectID) (*models.Household, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	household, ok := m.households[id]
	if !ok {
		return nil, ErrNotFound
	}
	found := *household
	return &found, nil
}

// FindHouseholdByMember finds the household containing the given user.
func (m *MemoryStorage) FindHouseholdByMember(ctx context.Context, userID primitive.ObjectID) (*models.Household, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, household := range m.households {
		if household.HasMember(userID) {
			found := *household
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

// AddHabit adds a new habit record.
func (m *MemoryStorage) AddHabit(ctx context.Context, habit *models.Habit) (*models.Habit, error) {
	if err := habit.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if habit.ID.IsZero() {
		habit.ID = primitive.NewObjectID()
	}
	stored := *habit
	m.habits[habit.ID] = &stored
	return habit, nil
}

// FindHabitByID finds a habit record by id.
func (m *MemoryStorage) FindHabitByID(ctx context.Context, id primitive.ObjectID) (*models.Habit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	habit, ok := m.habits[id]
	if !ok {
		return nil, ErrNotFound
	}
	found := *habit
	return &found, nil
}

// FindActiveHabits finds all active habits of a household.
func (m *MemoryStorage) FindActiveHabits(ctx context.Context, householdID primitive.ObjectID) ([]models.Habit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var habits []models.Habit
	for _, habit := range m.habits {
		if habit.HouseholdID == householdID && habit.IsActive {
			habits = append(habits, *habit)
		}
	}
	sort.Slice(habits, func(i, j int) bool {
		return habits[i].CreatedAt.Before(habits[j].CreatedAt)
	})
	return habits, nil
}

// UpdateHabit applies a partial update to a habit record.
func (m *MemoryStorage) UpdateHabit(ctx context.Context, id primitive.ObjectID, update models.HabitUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	habit, ok := m.habits[id]
	if !ok {
		return ErrNotFound
	}

	updated := *habit
	changed := false
	if update.Title != nil {
		updated.Title = *update.Title
		changed = true
	}
	if update.Description != nil {
		updated.Description = *update.Description
		changed = true
	}
	if update.Frequency != nil {
		updated.Frequency = *update.Frequency
		changed = true
	}
	if update.Weekday != nil {
		weekday := *update.Weekday
		updated.Weekday = &weekday
		changed = true
	}
	if update.Points != nil {
		updated.Points = *update.Points
		changed = true
	}
	if update.Condition != nil {
		updated.Condition = *update.Condition
		changed = true
	}
	if !changed {
		return errors.New("nothing to update")
	}
	if err := updated.Validate(); err != nil {
		return err
	}
	m.habits[id] = &updated
	return nil
}

// DeactivateHabit soft-deletes a habit record.
func (m *MemoryStorage) DeactivateHabit(ctx context.Context, id primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	habit, ok := m.habits[id]
	if !ok {
		return ErrNotFound
	}
	habit.IsActive = false
	return nil
}

// AddCompletion adds a completion record, enforcing uniqueness of the
// (habit, user, date) triple under the storage lock.
func (m *MemoryStorage) AddCompletion(ctx context.Context, completion *models.Completion) (*models.Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.completions {
		if existing.HabitID == completion.HabitID &&
			existing.UserID == completion.UserID &&
			existing.Date == completion.Date {
			return nil, ErrDuplicate
		}
	}
	if completion.ID.IsZero() {
		completion.ID = primitive.NewObjectID()
	}
	stored := *completion
	m.completions[completion.ID] = &stored
	return completion, nil
}

// FindCompletion finds the completion record for a (habit, user, date) triple.
func (m *MemoryStorage) FindCompletion(ctx context.Context, habitID, userID primitive.ObjectID, date string) (*models.Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, completion := range m.completions {
		if completion.HabitID == habitID && completion.UserID == userID && completion.Date == date {
			found := *completion
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

// DeleteCompletion removes the completion record for a (habit, user, date) triple.
func (m *MemoryStorage) DeleteCompletion(ctx context.Context, habitID, userID primitive.ObjectID, date string) (*DeleteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, completion := range m.completions {
		if completion.HabitID == habitID && completion.UserID == userID && completion.Date == date {
			delete(m.completions, id)
			return &DeleteResult{DeletedCount: 1}, nil
		}
	}
	return &DeleteResult{DeletedCount: 0}, nil
}

// FindCompletionsByDate finds all completion records for a calendar day.
func (m *MemoryStorage) FindCompletionsByDate(ctx context.Context, date string) ([]models.Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var completions []models.Completion
	for _, completion := range m.completions {
		if completion.Date == date {
			completions = append(completions, *completion)
		}
	}
	return completions, nil
}

// FindCompletionsSince finds all completions of a habit on or after the
// given day key.
func (m *MemoryStorage) FindCompletionsSince(ctx context.Context, habitID primitive.ObjectID, sinceDate string) ([]models.Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var completions []models.Completion
	for _, completion := range m.completions {
		if completion.HabitID == habitID && completion.Date >= sinceDate {
			completions = append(completions, *completion)
		}
	}
	return completions, nil
}

// AddReward adds a new reward record.
func (m *MemoryStorage) AddReward(ctx context.Context, reward *models.Reward) (*models.Reward, error) {
	if err := reward.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if reward.ID.IsZero() {
		reward.ID = primitive.NewObjectID()
	}
	stored := *reward
	m.rewards[reward.ID] = &stored
	return reward, nil
}

// FindRewardByID finds a reward record by id.
func (m *MemoryStorage) FindRewardByID(ctx context.Context, id primitive.ObjectID) (*models.Reward, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reward, ok := m.rewards[id]
	if !ok {
		return nil, ErrNotFound
	}
	found := *reward
	return &found, nil
}

// FindOpenRewards finds all unclaimed rewards of a household, cheapest first.
func (m *MemoryStorage) FindOpenRewards(ctx context.Context, householdID primitive.ObjectID) ([]models.Reward, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rewards []models.Reward
	for _, reward := range m.rewards {
		if reward.HouseholdID == householdID && !reward.Claimed() {
			rewards = append(rewards, *reward)
		}
	}
	sort.Slice(rewards, func(i, j int) bool {
		return rewards[i].PointCost < rewards[j].PointCost
	})
	return rewards, nil
}

// FindReservedRewards finds all reserved, unclaimed rewards of a household.
func (m *MemoryStorage) FindReservedRewards(ctx context.Context, householdID primitive.ObjectID) ([]models.Reward, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rewards []models.Reward
	for _, reward := range m.rewards {
		if reward.HouseholdID == householdID && reward.IsReserved && !reward.Claimed() {
			rewards = append(rewards, *reward)
		}
	}
	return rewards, nil
}

// FindClaimedRewards finds all claimed rewards of a household, most recent
// claim first.
func (m *MemoryStorage) FindClaimedRewards(ctx context.Context, householdID primitive.ObjectID) ([]models.Reward, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rewards []models.Reward
	for _, reward := range m.rewards {
		if reward.HouseholdID == householdID && reward.Claimed() {
			rewards = append(rewards, *reward)
		}
	}
	sort.Slice(rewards, func(i, j int) bool {
		return rewards[i].ClaimedAt.After(*rewards[j].ClaimedAt)
	})
	return rewards, nil
}

// UpdateReward applies a partial update to a reward record.
func (m *MemoryStorage) UpdateReward(ctx context.Context, id primitive.ObjectID, update models.RewardUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	reward, ok := m.rewards[id]
	if !ok {
		return ErrNotFound
	}

	updated := *reward
	changed := false
	if update.Title != nil {
		updated.Title = *update.Title
		changed = true
	}
	if update.Description != nil {
		updated.Description = *update.Description
		changed = true
	}
	if update.PointCost != nil {
		updated.PointCost = *update.PointCost
		changed = true
	}
	if update.PointType != nil {
		updated.PointType = *update.PointType
		changed = true
	}
	if !changed {
		return errors.New("nothing to update")
	}
	if err := updated.Validate(); err != nil {
		return err
	}
	m.rewards[id] = &updated
	return nil
}

// DeleteReward deletes a reward record.
func (m *MemoryStorage) DeleteReward(ctx context.Context, id primitive.ObjectID) (*DeleteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rewards[id]; !ok {
		return &DeleteResult{DeletedCount: 0}, nil
	}
	delete(m.rewards, id)
	return &DeleteResult{DeletedCount: 1}, nil
}

// ReserveReward marks a reward reserved iff it is currently unreserved and
// unclaimed, all under the storage lock.
func (m *MemoryStorage) ReserveReward(ctx context.Context, id, userID primitive.ObjectID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reward, ok := m.rewards[id]
	if !ok {
		return false, nil
	}
	if reward.IsReserved || reward.Claimed() {
		return false, nil
	}
	reward.IsReserved = true
	reward.ReservedBy = &userID
	reservedAt := at
	reward.ReservedAt = &reservedAt
	return true, nil
}

// UnreserveReward clears a reward's reservation fields.
func (m *MemoryStorage) UnreserveReward(ctx context.Context, id primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	reward, ok := m.rewards[id]
	if !ok {
		return ErrNotFound
	}
	reward.IsReserved = false
	reward.ReservedBy = nil
	reward.ReservedAt = nil
	return nil
}

// ClaimReward marks a reward claimed iff no one has claimed it before.
func (m *MemoryStorage) ClaimReward(ctx context.Context, id, userID primitive.ObjectID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reward, ok := m.rewards[id]
	if !ok {
		return false, nil
	}
	if reward.Claimed() {
		return false, nil
	}
	claimedAt := at
	reward.ClaimedBy = &userID
	reward.ClaimedAt = &claimedAt
	reward.IsReserved = false
	reward.ReservedBy = nil
	reward.ReservedAt = nil
	return true, nil
}

// AddNotification adds an in-app notification record.
func (m *MemoryStorage) AddNotification(ctx context.Context, notification *models.Notification) (*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if notification.ID.IsZero() {
		notification.ID = primitive.NewObjectID()
	}
	stored := *notification
	m.notifications[notification.ID] = &stored
	return notification, nil
}

// FindNotificationsByUser finds a user's notifications, most recent first.
func (m *MemoryStorage) FindNotificationsByUser(ctx context.Context, userID primitive.ObjectID) ([]models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var notifications []models.Notification
	for _, notification := range m.notifications {
		if notification.UserID == userID {
			notifications = append(notifications, *notification)
		}
	}
	sort.Slice(notifications, func(i, j int) bool {
		return notifications[i].CreatedAt.After(notifications[j].CreatedAt)
	})
	return notifications, nil
}

// MarkNotificationRead marks a notification as read.
func (m *MemoryStorage) MarkNotificationRead(ctx context.Context, id primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	notification, ok := m.notifications[id]
	if !ok {
		return ErrNotFound
	}
	notification.IsRead = true
	return nil
}
