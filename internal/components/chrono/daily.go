package chrono

import (
	"fmt"
	"strconv"
	"strings"
)

// DailyTime is a wall clock time of day.
type DailyTime struct {
	Hour   int
	Minute int
}

func (d DailyTime) String() string {
	return fmt.Sprintf("%02d:%02d", d.Hour, d.Minute)
}

// CronSpec returns the 5 field cron spec that fires every day at d.
func (d DailyTime) CronSpec() string {
	return fmt.Sprintf("%d %d * * *", d.Minute, d.Hour)
}

// ParseDailyTime parses a time of day in "HH:MM" format.
func ParseDailyTime(value string) (DailyTime, error) {
	invalid := fmt.Errorf("invalid time format: '%s', expected 'HH:MM'", value)

	hourStr, minuteStr, found := strings.Cut(strings.TrimSpace(value), ":")
	if !found {
		return DailyTime{}, invalid
	}
	hour, err := strconv.Atoi(hourStr)
	if err != nil {
		return DailyTime{}, invalid
	}
	minute, err := strconv.Atoi(minuteStr)
	if err != nil {
		return DailyTime{}, invalid
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return DailyTime{}, invalid
	}
	return DailyTime{Hour: hour, Minute: minute}, nil
}
