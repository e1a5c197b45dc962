package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func validHabit() Habit {
	return Habit{
		HouseholdID: primitive.NewObjectID(),
		Title:       "Evening walk",
		Frequency:   FrequencyDaily,
		Points:      5,
		Condition:   ConditionEither,
		IsActive:    true,
	}
}

func TestParseEnums(t *testing.T) {
	_, err := ParseRole("partner_a")
	assert.NoError(t, err)
	_, err = ParseRole("roommate")
	assert.Error(t, err)

	_, err = ParseFrequency("weekly")
	assert.NoError(t, err)
	_, err = ParseFrequency("hourly")
	assert.Error(t, err)

	_, err = ParseCondition("both")
	assert.NoError(t, err)
	_, err = ParseCondition("anyone")
	assert.Error(t, err)

	_, err = ParsePointType("combined")
	assert.NoError(t, err)
	_, err = ParsePointType("shared")
	assert.Error(t, err)
}

func TestHabitValidate(t *testing.T) {
	habit := validHabit()
	assert.NoError(t, habit.Validate())

	habit = validHabit()
	habit.Title = ""
	assert.Error(t, habit.Validate())

	habit = validHabit()
	habit.Points = 0
	assert.Error(t, habit.Validate())

	habit = validHabit()
	habit.Frequency = FrequencyWeekly
	assert.Error(t, habit.Validate(), "weekly habit without a weekday")

	weekday := 2
	habit.Weekday = &weekday
	assert.NoError(t, habit.Validate())

	badWeekday := 7
	habit.Weekday = &badWeekday
	assert.Error(t, habit.Validate())
}

func TestHabitScheduledOn(t *testing.T) {
	habit := validHabit()
	// 2026-08-31 is a Monday.
	monday := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	assert.True(t, habit.ScheduledOn(monday))

	weekday := int(time.Monday)
	habit.Frequency = FrequencyWeekly
	habit.Weekday = &weekday
	assert.True(t, habit.ScheduledOn(monday))
	assert.False(t, habit.ScheduledOn(monday.AddDate(0, 0, 1)))
}

func TestHouseholdPartner(t *testing.T) {
	a, b := primitive.NewObjectID(), primitive.NewObjectID()
	household := Household{Members: [2]primitive.ObjectID{a, b}}

	partner, ok := household.Partner(a)
	require.True(t, ok)
	assert.Equal(t, b, partner)

	partner, ok = household.Partner(b)
	require.True(t, ok)
	assert.Equal(t, a, partner)

	_, ok = household.Partner(primitive.NewObjectID())
	assert.False(t, ok)
}

func TestRewardValidateAndClaimed(t *testing.T) {
	reward := Reward{
		HouseholdID: primitive.NewObjectID(),
		Title:       "Movie night",
		PointCost:   25,
		PointType:   PointTypeIndividual,
	}
	assert.NoError(t, reward.Validate())
	assert.False(t, reward.Claimed())

	claimer := primitive.NewObjectID()
	reward.ClaimedBy = &claimer
	assert.True(t, reward.Claimed())

	reward.PointCost = -1
	assert.Error(t, reward.Validate())
}
