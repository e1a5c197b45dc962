package models

import (
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Role identifies which of the two household slots a user occupies.
// A household always has exactly one user per role.
type Role string

const (
	RolePartnerA Role = "partner_a"
	RolePartnerB Role = "partner_b"
)

// ParseRole converts a raw string into a Role.
// It returns an error for anything other than the two known roles.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RolePartnerA, RolePartnerB:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Frequency describes how often a habit is scheduled.
type Frequency string

const (
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
)

// ParseFrequency converts a raw string into a Frequency.
func ParseFrequency(s string) (Frequency, error) {
	switch Frequency(s) {
	case FrequencyDaily, FrequencyWeekly:
		return Frequency(s), nil
	}
	return "", fmt.Errorf("unknown frequency %q", s)
}

// Condition describes what it takes for a habit-day to count as done:
// both partners completing it, or either one of them.
type Condition string

const (
	ConditionBoth   Condition = "both"
	ConditionEither Condition = "either"
)

// ParseCondition converts a raw string into a Condition.
func ParseCondition(s string) (Condition, error) {
	switch Condition(s) {
	case ConditionBoth, ConditionEither:
		return Condition(s), nil
	}
	return "", fmt.Errorf("unknown completion condition %q", s)
}

// PointType describes which balance(s) a reward is charged against.
// An individual reward charges the claiming user alone; a combined reward
// splits the cost across both partners in proportion to their balances.
type PointType string

const (
	PointTypeIndividual PointType = "individual"
	PointTypeCombined   PointType = "combined"
)

// ParsePointType converts a raw string into a PointType.
func ParsePointType(s string) (PointType, error) {
	switch PointType(s) {
	case PointTypeIndividual, PointTypeCombined:
		return PointType(s), nil
	}
	return "", fmt.Errorf("unknown point type %q", s)
}

// User is one half of a household. Points is the user's current balance;
// it is mutated only through the ledger's atomic adjustments.
type User struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Email       string             `bson:"email" json:"email"`
	DisplayName string             `bson:"display_name" json:"displayName"`
	Role        Role               `bson:"role" json:"role"`
	Points      int                `bson:"points" json:"points"`
	HouseholdID primitive.ObjectID `bson:"household_id,omitempty" json:"householdId"`
	CreatedAt   time.Time          `bson:"created_at" json:"createdAt"`
}

// Validate checks the fields a user document must carry before insertion.
func (u *User) Validate() error {
	if u.Email == "" {
		return errors.New("user email is required")
	}
	if u.DisplayName == "" {
		return errors.New("user display name is required")
	}
	if _, err := ParseRole(string(u.Role)); err != nil {
		return err
	}
	return nil
}

// Household pairs exactly two users. Deriving "the partner" goes through
// the household members, never through a role query, so a misconfigured
// role can't silently pick the wrong user.
type Household struct {
	ID        primitive.ObjectID    `bson:"_id,omitempty" json:"id"`
	Members   [2]primitive.ObjectID `bson:"members" json:"members"`
	CreatedAt time.Time             `bson:"created_at" json:"createdAt"`
}

// Partner returns the other member of the household. The second return
// value is false if the given user is not a member at all.
func (h *Household) Partner(userID primitive.ObjectID) (primitive.ObjectID, bool) {
	switch userID {
	case h.Members[0]:
		return h.Members[1], true
	case h.Members[1]:
		return h.Members[0], true
	}
	return primitive.NilObjectID, false
}

// HasMember reports whether the given user belongs to the household.
func (h *Household) HasMember(userID primitive.ObjectID) bool {
	return userID == h.Members[0] || userID == h.Members[1]
}

// Habit is a recurring activity the couple tracks. Habits are never
// physically removed; deactivation flips IsActive instead so completion
// history stays intact.
type Habit struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	HouseholdID primitive.ObjectID `bson:"household_id" json:"householdId"`
	Title       string             `bson:"title" json:"title"`
	Description string             `bson:"description,omitempty" json:"description,omitempty"`
	Frequency   Frequency          `bson:"frequency" json:"frequency"`
	Weekday     *int               `bson:"weekday,omitempty" json:"weekday,omitempty"`
	Points      int                `bson:"points" json:"points"`
	Condition   Condition          `bson:"completion_condition" json:"completionCondition"`
	CreatedBy   primitive.ObjectID `bson:"created_by" json:"createdBy"`
	CreatedAt   time.Time          `bson:"created_at" json:"createdAt"`
	IsActive    bool               `bson:"is_active" json:"isActive"`
}

// Validate checks the fields a habit document must carry before insertion.
func (h *Habit) Validate() error {
	if h.Title == "" {
		return errors.New("habit title is required")
	}
	if h.Points <= 0 {
		return errors.New("habit points must be positive")
	}
	if _, err := ParseFrequency(string(h.Frequency)); err != nil {
		return err
	}
	if _, err := ParseCondition(string(h.Condition)); err != nil {
		return err
	}
	if h.Frequency == FrequencyWeekly {
		if h.Weekday == nil {
			return errors.New("weekly habit requires a weekday")
		}
		if *h.Weekday < 0 || *h.Weekday > 6 {
			return fmt.Errorf("weekday %d out of range 0-6", *h.Weekday)
		}
	}
	if h.HouseholdID.IsZero() {
		return errors.New("habit household is required")
	}
	return nil
}

// ScheduledOn reports whether the habit is expected on the given day.
// Daily habits are scheduled every day; weekly habits only on their weekday.
func (h *Habit) ScheduledOn(day time.Time) bool {
	if h.Frequency == FrequencyWeekly {
		return h.Weekday != nil && *h.Weekday == int(day.Weekday())
	}
	return true
}

// HabitUpdate carries the mutable habit fields for a partial update.
// Nil fields are left untouched.
type HabitUpdate struct {
	Title       *string
	Description *string
	Frequency   *Frequency
	Weekday     *int
	Points      *int
	Condition   *Condition
}

// Completion records that one user completed one habit on one calendar day.
// Date is the local-calendar "YYYY-MM-DD" key; the (habit, user, date)
// triple is unique.
type Completion struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	HabitID     primitive.ObjectID `bson:"habit_id" json:"habitId"`
	UserID      primitive.ObjectID `bson:"user_id" json:"userId"`
	Date        string             `bson:"date" json:"date"`
	CompletedAt time.Time          `bson:"completed_at" json:"completedAt"`
}

// Reward is something the couple can redeem points for. A reward is open,
// reserved by exactly one user, or claimed; claiming is terminal.
type Reward struct {
	ID          primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	HouseholdID primitive.ObjectID  `bson:"household_id" json:"householdId"`
	Title       string              `bson:"title" json:"title"`
	Description string              `bson:"description,omitempty" json:"description,omitempty"`
	PointCost   int                 `bson:"point_cost" json:"pointCost"`
	PointType   PointType           `bson:"point_type" json:"pointType"`
	IsReserved  bool                `bson:"is_reserved" json:"isReserved"`
	ReservedBy  *primitive.ObjectID `bson:"reserved_by,omitempty" json:"reservedBy,omitempty"`
	ReservedAt  *time.Time          `bson:"reserved_at,omitempty" json:"reservedAt,omitempty"`
	ClaimedBy   *primitive.ObjectID `bson:"claimed_by,omitempty" json:"claimedBy,omitempty"`
	ClaimedAt   *time.Time          `bson:"claimed_at,omitempty" json:"claimedAt,omitempty"`
	CreatedBy   primitive.ObjectID  `bson:"created_by" json:"createdBy"`
	CreatedAt   time.Time           `bson:"created_at" json:"createdAt"`
}

// Claimed reports whether the reward has reached its terminal state.
func (r *Reward) Claimed() bool {
	return r.ClaimedBy != nil
}

// Validate checks the fields a reward document must carry before insertion.
func (r *Reward) Validate() error {
	if r.Title == "" {
		return errors.New("reward title is required")
	}
	if r.PointCost <= 0 {
		return errors.New("reward point cost must be positive")
	}
	if _, err := ParsePointType(string(r.PointType)); err != nil {
		return err
	}
	if r.HouseholdID.IsZero() {
		return errors.New("reward household is required")
	}
	return nil
}

// RewardUpdate carries the mutable reward fields for a partial update.
// Nil fields are left untouched.
type RewardUpdate struct {
	Title       *string
	Description *string
	PointCost   *int
	PointType   *PointType
}

// NotificationType classifies in-app notifications.
type NotificationType string

const (
	NotificationHabitCompleted  NotificationType = "habit_completed"
	NotificationStreakMilestone NotificationType = "streak_milestone"
	NotificationEncouragement   NotificationType = "encouragement"
)

// Notification is an in-app message produced by the notification queue
// consumers and fetched by the presentation layer on demand.
type Notification struct {
	ID        primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	UserID    primitive.ObjectID  `bson:"user_id" json:"userId"`
	Type      NotificationType    `bson:"type" json:"type"`
	Message   string              `bson:"message" json:"message"`
	HabitID   *primitive.ObjectID `bson:"habit_id,omitempty" json:"habitId,omitempty"`
	CreatedAt time.Time           `bson:"created_at" json:"createdAt"`
	IsRead    bool                `bson:"is_read" json:"isRead"`
}
