package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEstimateOffset(t *testing.T) {
	cases := []struct {
		name string
		wake time.Time
		want float64
	}{
		{"half hour before anchor", time.Date(2024, 3, 10, 8, 30, 0, 0, time.UTC), -0.5},
		{"at anchor", time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC), 0},
		{"moscow morning", time.Date(2024, 3, 10, 6, 0, 0, 0, time.UTC), 3},
		{"india half offset", time.Date(2024, 3, 10, 3, 30, 0, 0, time.UTC), 5.5},
		{"late wake far east", time.Date(2024, 3, 10, 20, 0, 0, 0, time.UTC), 11},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, EstimateOffset(tc.wake, 9))
		})
	}
}

func TestEstimateOffsetNormalisation(t *testing.T) {
	// Hour-of-day differences below -12 wrap up, above +14 wrap down.
	// 9 - 22 = -13 -> +11 with an anchor of 22.
	wake := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	require.Equal(t, 11.0, EstimateOffset(wake, 22))

	// 15 - 0 = +15 -> -9 with an anchor of 0.
	wake = time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)
	require.Equal(t, -9.0, EstimateOffset(wake, 0))
}

func TestEstimateOffsetRoundsToHalfHours(t *testing.T) {
	// 09:20 UTC -> raw +0.333 rounds to +0.5.
	wake := time.Date(2024, 3, 10, 9, 20, 0, 0, time.UTC)
	require.Equal(t, 0.5, EstimateOffset(wake, 9))

	// 09:10 UTC -> raw +0.167 rounds to 0.
	wake = time.Date(2024, 3, 10, 9, 10, 0, 0, time.UTC)
	require.Equal(t, 0.0, EstimateOffset(wake, 9))
}

func TestComputeDailyTimezonesLongestGapWins(t *testing.T) {
	wakeNap := time.Date(2024, 3, 10, 16, 0, 0, 0, time.UTC)
	wakeNight := time.Date(2024, 3, 10, 7, 0, 0, 0, time.UTC)

	periods := []SleepPeriod{
		{IdentityID: "id-1", Date: "2024-03-10", OnlineAt: wakeNap, GapHours: 4.2, EstimatedTZOffset: 7},
		{IdentityID: "id-1", Date: "2024-03-10", OnlineAt: wakeNight, GapHours: 6.0, EstimatedTZOffset: -2},
	}

	daily := ComputeDailyTimezones(periods)

	require.Len(t, daily, 1)
	require.Equal(t, "2024-03-10", daily[0].Date)
	require.Equal(t, -2.0, daily[0].OffsetHours)
	require.Equal(t, wakeNight, daily[0].WakeupUTC)
}

func TestComputeDailyTimezonesSortedByDate(t *testing.T) {
	periods := []SleepPeriod{
		{IdentityID: "id-1", Date: "2024-03-12", GapHours: 8, EstimatedTZOffset: 1},
		{IdentityID: "id-1", Date: "2024-03-10", GapHours: 8, EstimatedTZOffset: 2},
		{IdentityID: "id-1", Date: "2024-03-11", GapHours: 8, EstimatedTZOffset: 3},
	}

	daily := ComputeDailyTimezones(periods)

	require.Len(t, daily, 3)
	require.Equal(t, []string{"2024-03-10", "2024-03-11", "2024-03-12"},
		[]string{daily[0].Date, daily[1].Date, daily[2].Date})

	require.Empty(t, ComputeDailyTimezones(nil))
}
