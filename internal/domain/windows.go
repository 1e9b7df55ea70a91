package domain

import "time"

// ActivityPeriod is a closed interval during which an identity, or one of
// its sources, was continuously online. Periods are derived on demand from
// events and never persisted as authoritative state.
type ActivityPeriod struct {
	IdentityID string
	Source     Source
	Start      time.Time
	End        time.Time
	// Ongoing marks a trailing online with no closing offline yet. The
	// engine reports the window open; consumers clamp End to now for
	// display.
	Ongoing bool
}

// BuildActivityPeriods pairs online->offline boundaries in an ordered
// status sequence into closed intervals tagged with the given source.
// The input may contain consecutive same-status entries (the raw merged
// union does); a window opens on the first transition into online and
// closes on the next offline, so duplicates inside an open window are
// ignored. Output is ascending by start and non-overlapping.
func BuildActivityPeriods(events []StatusEvent, source Source) []ActivityPeriod {
	ordered := MergeSources(events)

	periods := make([]ActivityPeriod, 0, len(ordered)/2)
	var openedAt *time.Time

	for _, e := range ordered {
		switch e.Status {
		case StatusOnline:
			if openedAt == nil {
				t := e.Timestamp
				openedAt = &t
			}
		case StatusOffline:
			if openedAt != nil {
				periods = append(periods, ActivityPeriod{
					IdentityID: e.IdentityID,
					Source:     source,
					Start:      *openedAt,
					End:        e.Timestamp,
				})
				openedAt = nil
			}
		}
	}

	if openedAt != nil && len(ordered) > 0 {
		last := ordered[len(ordered)-1]
		periods = append(periods, ActivityPeriod{
			IdentityID: last.IdentityID,
			Source:     source,
			Start:      *openedAt,
			Ongoing:    true,
		})
	}

	return periods
}
