// Package engine implements the completion side of the settlement rules:
// whether a habit-day counts as done, who earns points when, and how long
// the couple's consecutive-day streaks are.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jghoshh/tandem/backend/ledger"
	"github.com/jghoshh/tandem/backend/models"
	storage "github.com/jghoshh/tandem/backend/storage/persistent"
	"github.com/jghoshh/tandem/lib/utils"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DefaultStreakWindowDays bounds how far back the streak scan walks. The
// true streak may be longer; the scan just stops looking. Deployments can
// widen the window through STREAK_WINDOW_DAYS.
const DefaultStreakWindowDays = 30

// ErrAlreadyCompleted is returned when a user records the same habit twice
// on one calendar day. The first record stands; nothing is double-counted.
var ErrAlreadyCompleted = errors.New("habit already completed today")

// ErrHabitInactive is returned when completing a deactivated habit.
var ErrHabitInactive = errors.New("habit is not active")

// ErrNotMember is returned when the acting user does not belong to the
// household owning the habit.
var ErrNotMember = errors.New("user is not a member of the habit's household")

// Engine decides when a habit-day is satisfied and hands the resulting
// point awards to the ledger.
type Engine struct {
	store      storage.StorageInterface
	ledger     *ledger.Ledger
	windowDays int
}

// New creates an Engine. A non-positive windowDays falls back to
// DefaultStreakWindowDays.
func New(store storage.StorageInterface, l *ledger.Ledger, windowDays int) *Engine {
	if windowDays <= 0 {
		windowDays = DefaultStreakWindowDays
	}
	return &Engine{store: store, ledger: l, windowDays: windowDays}
}

// WindowDays returns the configured streak scan bound.
func (e *Engine) WindowDays() int {
	return e.windowDays
}

// Result reports what a recorded completion settled.
type Result struct {
	Completion *models.Completion `json:"completion"`
	// Satisfied is true when the habit-day is now fully satisfied under
	// the habit's completion condition.
	Satisfied bool `json:"satisfied"`
	// FirstOfPair is true when this was the first half of a `both` habit:
	// recorded, but waiting on the partner before anything is awarded.
	FirstOfPair bool `json:"firstOfPair"`
	// AwardedTo lists the users whose balances were credited, in the same
	// call, with Points each.
	AwardedTo []primitive.ObjectID `json:"awardedTo,omitempty"`
	Points    int                  `json:"points"`
	// Streak is the habit's consecutive-day streak including this day.
	Streak int `json:"streak"`
}

// RecordCompletion records that userID completed habitID on the calendar
// day of now, then settles any point award the completion triggers.
//
// For an `either` habit the completing user is credited immediately. For a
// `both` habit nothing is credited until the second partner completes the
// same day; at that moment both partners are credited at once. Recording
// the same (habit, user, day) twice returns ErrAlreadyCompleted and changes
// nothing — the storage layer's unique index guarantees this even when two
// requests race.
func (e *Engine) RecordCompletion(ctx context.Context, habitID, userID primitive.ObjectID, now time.Time) (*Result, error) {
	habit, err := e.store.FindHabitByID(ctx, habitID)
	if err != nil {
		return nil, err
	}
	if !habit.IsActive {
		return nil, ErrHabitInactive
	}

	household, err := e.store.FindHouseholdByID(ctx, habit.HouseholdID)
	if err != nil {
		return nil, fmt.Errorf("resolving habit household: %w", err)
	}
	partnerID, ok := household.Partner(userID)
	if !ok {
		return nil, ErrNotMember
	}

	date := utils.DayKey(now)
	completion := &models.Completion{
		HabitID:     habitID,
		UserID:      userID,
		Date:        date,
		CompletedAt: now,
	}
	completion, err = e.store.AddCompletion(ctx, completion)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, ErrAlreadyCompleted
		}
		return nil, err
	}

	result := &Result{Completion: completion, Points: habit.Points}

	switch habit.Condition {
	case models.ConditionEither:
		// The day is satisfied by this completion alone; the completer is
		// credited on the spot. A later completion by the partner earns
		// the partner their own award the same way.
		result.Satisfied = true
		result.AwardedTo = []primitive.ObjectID{userID}
		if _, err := e.ledger.Adjust(ctx, userID, habit.Points); err != nil {
			return result, err
		}
	case models.ConditionBoth:
		_, err := e.store.FindCompletion(ctx, habitID, partnerID, date)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				return result, err
			}
			// Partner hasn't completed yet. Recorded, not yet awarded.
			result.FirstOfPair = true
		} else {
			// This is the closing half: both partners are credited now,
			// exactly once for the pair.
			result.Satisfied = true
			result.AwardedTo = []primitive.ObjectID{userID, partnerID}
			if _, err := e.ledger.Adjust(ctx, userID, habit.Points); err != nil {
				return result, err
			}
			if _, err := e.ledger.Adjust(ctx, partnerID, habit.Points); err != nil {
				return result, err
			}
		}
	}

	streak, err := e.streak(ctx, habit, household, now)
	if err != nil {
		return result, err
	}
	result.Streak = streak
	return result, nil
}

// Reversal reports what undoing a completion changed, and which awards the
// caller must now compensate for. The engine does not touch balances on
// reversal; the caller decides whether to apply the refund deductions.
type Reversal struct {
	// Removed is false when there was no completion to delete (no-op).
	Removed bool `json:"removed"`
	// WasSatisfied / StillSatisfied describe the habit-day before and
	// after the removal.
	WasSatisfied   bool `json:"wasSatisfied"`
	StillSatisfied bool `json:"stillSatisfied"`
	// Refund lists the users who had been credited for an award this
	// reversal invalidates; each owes Points back.
	Refund []primitive.ObjectID `json:"refund,omitempty"`
	Points int                  `json:"points"`
}

// RevertCompletion deletes the completion of userID for habitID on the
// calendar day of now, if one exists, and reports which point awards the
// deletion invalidated.
//
// An `either` completion always carried its own award, so removing it
// always puts the completer in Refund. A `both` habit-day only ever paid
// out when fully satisfied, so removal lists both partners when (and only
// when) the day had been satisfied.
func (e *Engine) RevertCompletion(ctx context.Context, habitID, userID primitive.ObjectID, now time.Time) (*Reversal, error) {
	habit, err := e.store.FindHabitByID(ctx, habitID)
	if err != nil {
		return nil, err
	}
	household, err := e.store.FindHouseholdByID(ctx, habit.HouseholdID)
	if err != nil {
		return nil, fmt.Errorf("resolving habit household: %w", err)
	}
	partnerID, ok := household.Partner(userID)
	if !ok {
		return nil, ErrNotMember
	}

	date := utils.DayKey(now)

	completed := make(map[primitive.ObjectID]bool)
	for _, memberID := range []primitive.ObjectID{userID, partnerID} {
		if _, err := e.store.FindCompletion(ctx, habitID, memberID, date); err == nil {
			completed[memberID] = true
		} else if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}

	reversal := &Reversal{Points: habit.Points}
	reversal.WasSatisfied = DaySatisfied(habit, household, completed)

	deleted, err := e.store.DeleteCompletion(ctx, habitID, userID, date)
	if err != nil {
		return nil, err
	}
	if deleted.DeletedCount == 0 {
		return reversal, nil
	}
	reversal.Removed = true

	delete(completed, userID)
	reversal.StillSatisfied = DaySatisfied(habit, household, completed)

	switch habit.Condition {
	case models.ConditionEither:
		// The completer was credited when they completed; that award is
		// the one being undone. The partner's own award, if any, stands.
		reversal.Refund = []primitive.ObjectID{userID}
	case models.ConditionBoth:
		if reversal.WasSatisfied && !reversal.StillSatisfied {
			reversal.Refund = []primitive.ObjectID{userID, partnerID}
		}
	}
	return reversal, nil
}

// DaySatisfied reports whether a habit-day is satisfied by the given set of
// completing users: any member for an `either` habit, both members for a
// `both` habit.
func DaySatisfied(habit *models.Habit, household *models.Household, completed map[primitive.ObjectID]bool) bool {
	switch habit.Condition {
	case models.ConditionBoth:
		return completed[household.Members[0]] && completed[household.Members[1]]
	case models.ConditionEither:
		return completed[household.Members[0]] || completed[household.Members[1]]
	}
	return false
}

// Streak returns the habit's consecutive satisfied-day count ending on the
// calendar day of asOf. The scan walks backward one day at a time and stops
// at the first unsatisfied day, so a gap yesterday zeroes everything before
// it; the count is bounded by the configured window.
func (e *Engine) Streak(ctx context.Context, habitID primitive.ObjectID, asOf time.Time) (int, error) {
	habit, err := e.store.FindHabitByID(ctx, habitID)
	if err != nil {
		return 0, err
	}
	household, err := e.store.FindHouseholdByID(ctx, habit.HouseholdID)
	if err != nil {
		return 0, fmt.Errorf("resolving habit household: %w", err)
	}
	return e.streak(ctx, habit, household, asOf)
}

func (e *Engine) streak(ctx context.Context, habit *models.Habit, household *models.Household, asOf time.Time) (int, error) {
	since := utils.DaysAgoKey(asOf, e.windowDays-1)
	completions, err := e.store.FindCompletionsSince(ctx, habit.ID, since)
	if err != nil {
		return 0, err
	}

	byDate := bucketByDate(completions)

	streak := 0
	for i := 0; i < e.windowDays; i++ {
		date := utils.DaysAgoKey(asOf, i)
		if !DaySatisfied(habit, household, byDate[date]) {
			break
		}
		streak++
	}
	return streak, nil
}

// bucketByDate groups completions into per-day sets of completing users.
func bucketByDate(completions []models.Completion) map[string]map[primitive.ObjectID]bool {
	byDate := make(map[string]map[primitive.ObjectID]bool)
	for _, completion := range completions {
		if byDate[completion.Date] == nil {
			byDate[completion.Date] = make(map[primitive.ObjectID]bool)
		}
		byDate[completion.Date][completion.UserID] = true
	}
	return byDate
}
