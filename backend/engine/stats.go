package engine

import (
	"context"
	"time"

	"github.com/jghoshh/tandem/backend/models"
	"github.com/jghoshh/tandem/lib/utils"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// HabitStatus is the per-habit snapshot of one calendar day: who has
// completed it, whether the day is fully satisfied, and the running streak.
type HabitStatus struct {
	Habit       models.Habit         `json:"habit"`
	CompletedBy []primitive.ObjectID `json:"completedBy"`
	Satisfied   bool                 `json:"satisfied"`
	Streak      int                  `json:"streak"`
}

// TodayStatuses builds the day snapshot the home screen renders: every
// active habit scheduled for today (daily habits every day, weekly habits
// on their weekday), with each habit's completion state and streak.
func (e *Engine) TodayStatuses(ctx context.Context, householdID primitive.ObjectID, now time.Time) ([]HabitStatus, error) {
	household, err := e.store.FindHouseholdByID(ctx, householdID)
	if err != nil {
		return nil, err
	}
	habits, err := e.store.FindActiveHabits(ctx, householdID)
	if err != nil {
		return nil, err
	}

	date := utils.DayKey(now)
	completions, err := e.store.FindCompletionsByDate(ctx, date)
	if err != nil {
		return nil, err
	}
	byHabit := make(map[primitive.ObjectID]map[primitive.ObjectID]bool)
	for _, completion := range completions {
		if byHabit[completion.HabitID] == nil {
			byHabit[completion.HabitID] = make(map[primitive.ObjectID]bool)
		}
		byHabit[completion.HabitID][completion.UserID] = true
	}

	var statuses []HabitStatus
	for i := range habits {
		habit := habits[i]
		if !habit.ScheduledOn(now) {
			continue
		}

		completed := byHabit[habit.ID]
		status := HabitStatus{
			Habit:     habit,
			Satisfied: DaySatisfied(&habit, household, completed),
		}
		for _, memberID := range household.Members {
			if completed[memberID] {
				status.CompletedBy = append(status.CompletedBy, memberID)
			}
		}

		streak, err := e.streak(ctx, &habit, household, now)
		if err != nil {
			return nil, err
		}
		status.Streak = streak
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// Statistics summarizes a household's recent performance. Rates are the
// fraction of scheduled habit-days that were fully satisfied; CurrentStreak
// and LongestStreak are the best streaks across all active habits, both
// bounded by the scan window.
type Statistics struct {
	WeeklyCompletionRate  float64 `json:"weeklyCompletionRate"`
	MonthlyCompletionRate float64 `json:"monthlyCompletionRate"`
	CurrentStreak         int     `json:"currentStreak"`
	LongestStreak         int     `json:"longestStreak"`
}

// Stats computes a household's completion rates over the last 7 and 30
// days and its best current and longest streaks within the scan window.
func (e *Engine) Stats(ctx context.Context, householdID primitive.ObjectID, now time.Time) (*Statistics, error) {
	household, err := e.store.FindHouseholdByID(ctx, householdID)
	if err != nil {
		return nil, err
	}
	habits, err := e.store.FindActiveHabits(ctx, householdID)
	if err != nil {
		return nil, err
	}

	const weekDays, monthDays = 7, 30
	scanDays := e.windowDays
	if scanDays < monthDays {
		scanDays = monthDays
	}

	stats := &Statistics{}
	var weekScheduled, weekSatisfied, monthScheduled, monthSatisfied int

	for i := range habits {
		habit := habits[i]
		since := utils.DaysAgoKey(now, scanDays-1)
		completions, err := e.store.FindCompletionsSince(ctx, habit.ID, since)
		if err != nil {
			return nil, err
		}
		byDate := bucketByDate(completions)

		run := 0
		for d := 0; d < scanDays; d++ {
			day := now.AddDate(0, 0, -d)
			satisfied := DaySatisfied(&habit, household, byDate[utils.DayKey(day)])

			if habit.ScheduledOn(day) {
				if d < weekDays {
					weekScheduled++
					if satisfied {
						weekSatisfied++
					}
				}
				if d < monthDays {
					monthScheduled++
					if satisfied {
						monthSatisfied++
					}
				}
			}

			// Streaks count literal consecutive days, matching the
			// per-habit streak scan.
			if satisfied {
				run++
				if run > stats.LongestStreak {
					stats.LongestStreak = run
				}
				if run == d+1 && run > stats.CurrentStreak {
					stats.CurrentStreak = run
				}
			} else {
				run = 0
			}
		}
	}

	if weekScheduled > 0 {
		stats.WeeklyCompletionRate = float64(weekSatisfied) / float64(weekScheduled)
	}
	if monthScheduled > 0 {
		stats.MonthlyCompletionRate = float64(monthSatisfied) / float64(monthScheduled)
	}
	return stats, nil
}
