package chrono

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseDailyTime(t *testing.T) {
	table := []struct {
		input    string
		expected DailyTime
		spec     string
		invalid  bool
	}{
		{input: "08:00", expected: DailyTime{Hour: 8}, spec: "0 8 * * *"},
		{input: "22:45", expected: DailyTime{Hour: 22, Minute: 45}, spec: "45 22 * * *"},
		{input: " 7:05 ", expected: DailyTime{Hour: 7, Minute: 5}, spec: "5 7 * * *"},
		{input: "24:00", invalid: true},
		{input: "12:60", invalid: true},
		{input: "1200", invalid: true},
		{input: "ab:cd", invalid: true},
		{input: "", invalid: true},
	}

	for _, row := range table {
		result, err := ParseDailyTime(row.input)
		if row.invalid {
			require.Error(t, err, row.input)
			continue
		}
		require.NoError(t, err, row.input)
		require.Equal(t, row.expected, result)
		require.Equal(t, row.spec, result.CronSpec())
	}
}

func TestStandardTime(t *testing.T) {
	clock, err := NewStandardTime("Europe/Berlin")
	require.NoError(t, err)
	require.Equal(t, "Europe/Berlin", clock.Now().Location().String())

	_, err = NewStandardTime("Not/AZone")
	require.Error(t, err)
}

func TestManualTime(t *testing.T) {
	start := time.Date(2024, time.March, 1, 8, 0, 0, 0, time.UTC)
	clock := NewManualTime(start)
	require.Equal(t, start, clock.Now())

	clock.Advance(time.Hour)
	require.Equal(t, start.Add(time.Hour), clock.Now())
}
