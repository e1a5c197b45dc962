package utils

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DayKeyLayout is the calendar-day key format used across the habit
// completion records ("YYYY-MM-DD", local calendar day).
const DayKeyLayout = "2006-01-02"

// DayKey returns the calendar-day key for the given instant, in the
// instant's own location.
func DayKey(t time.Time) string {
	return t.Format(DayKeyLayout)
}

// DaysAgoKey returns the calendar-day key for n days before the given
// instant. n must be non-negative.
func DaysAgoKey(t time.Time, n int) string {
	return DayKey(t.AddDate(0, 0, -n))
}

// ParseDayKey parses a "YYYY-MM-DD" day key back into a time at midnight UTC.
func ParseDayKey(key string) (time.Time, error) {
	return time.Parse(DayKeyLayout, key)
}

// ValidateEmail takes an email string as input and returns a boolean indicating whether the input is a valid email address.
func ValidateEmail(email string) bool {
	const emailPattern = `^(?i)[a-z0-9._%+\-]+@(?:[a-z0-9\-]+\.)+[a-z]{2,}$`
	matched, err := regexp.MatchString(emailPattern, email)
	return err == nil && matched
}

func PrintError(message string) {
	message = "ERROR: " + message
	bannerChar := "="
	bannerLength := len(message) + 4
	bannerLine := strings.Repeat(bannerChar, bannerLength)

	fmt.Println(bannerLine)
	fmt.Printf("%s %s %s\n", bannerChar, message, bannerChar)
	fmt.Println(bannerLine)
	fmt.Println()
}
