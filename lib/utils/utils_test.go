package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDayKey(t *testing.T) {
	instant := time.Date(2026, 3, 7, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, "2026-03-07", DayKey(instant))
}

func TestDaysAgoKeyCrossesMonthBoundary(t *testing.T) {
	instant := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-03-02", DaysAgoKey(instant, 0))
	assert.Equal(t, "2026-02-28", DaysAgoKey(instant, 2))
}

func TestDayKeysOrderLexicographically(t *testing.T) {
	// The completion scans compare day keys as plain strings.
	earlier := DayKey(time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC))
	later := DayKey(time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC))
	assert.Less(t, earlier, later)
}

func TestParseDayKeyRoundTrip(t *testing.T) {
	parsed, err := ParseDayKey("2026-03-07")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-07", DayKey(parsed))

	_, err = ParseDayKey("03/07/2026")
	assert.Error(t, err)
}

// TestValidateEmail tests the ValidateEmail function with valid and invalid emails.
func TestValidateEmail(t *testing.T) {
	assert.True(t, ValidateEmail("test@example.com"))
	assert.False(t, ValidateEmail("test@example"))
	assert.False(t, ValidateEmail("test@.com"))
	assert.False(t, ValidateEmail("test@."))
}
