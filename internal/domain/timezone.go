package domain

import (
	"math"
	"sort"
	"time"
)

// DailyTimezone is the one estimated UTC offset per identity per calendar day.
type DailyTimezone struct {
	IdentityID  string
	Date        string // YYYY-MM-DD
	OffsetHours float64
	WakeupUTC   time.Time
}

// EstimateOffset infers a UTC offset from a wake-up instant, assuming the
// true local wake time is the given canonical hour. The raw difference is
// normalised into the valid UTC offset range [-12, +14] and rounded to the
// nearest half hour, the granularity real offsets come in.
func EstimateOffset(wakeupUTC time.Time, assumedWakeupHour int) float64 {
	wake := wakeupUTC.UTC()
	wakeHour := float64(wake.Hour()) + float64(wake.Minute())/60.0

	offset := wakeHour - float64(assumedWakeupHour)
	if offset < -12 {
		offset += 24
	} else if offset > 14 {
		offset -= 24
	}
	return math.Round(offset*2) / 2
}

// ComputeDailyTimezones picks one offset per date from the identity's sleep
// periods. When several periods share a wake date, the longest gap wins:
// the main night sleep is a more reliable signal than a nap.
func ComputeDailyTimezones(periods []SleepPeriod) []DailyTimezone {
	byDate := make(map[string]SleepPeriod)
	for _, sp := range periods {
		best, ok := byDate[sp.Date]
		if !ok || sp.GapHours > best.GapHours {
			byDate[sp.Date] = sp
		}
	}

	dates := make([]string, 0, len(byDate))
	for date := range byDate {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	daily := make([]DailyTimezone, 0, len(dates))
	for _, date := range dates {
		sp := byDate[date]
		daily = append(daily, DailyTimezone{
			IdentityID:  sp.IdentityID,
			Date:        date,
			OffsetHours: sp.EstimatedTZOffset,
			WakeupUTC:   sp.OnlineAt,
		})
	}
	return daily
}
