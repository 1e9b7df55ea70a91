package domain

import (
	"math"
	"time"
)

// DetectorOptions carries the tunable thresholds of the sleep detector and
// timezone estimator.
type DetectorOptions struct {
	// NoiseThreshold is the minimum duration for an online blip to count as
	// real activity; shorter blips are treated as reconnect noise.
	NoiseThreshold time.Duration
	// SleepThreshold is the minimum offline gap to qualify as sleep.
	SleepThreshold time.Duration
	// MergeGap is the maximum wake time between two qualifying gaps for
	// them to be combined into one sleep period.
	MergeGap time.Duration
	// AssumedWakeupHour is the canonical local hour anchoring timezone
	// offset estimation.
	AssumedWakeupHour int
}

// DefaultDetectorOptions returns the production defaults.
func DefaultDetectorOptions() DetectorOptions {
	return DetectorOptions{
		NoiseThreshold:    10 * time.Second,
		SleepThreshold:    4 * time.Hour,
		MergeGap:          45 * time.Minute,
		AssumedWakeupHour: 9,
	}
}

// SleepPeriod is an inferred rest interval, indexed by the day the person
// woke up.
type SleepPeriod struct {
	IdentityID        string
	Date              string // YYYY-MM-DD, UTC calendar date of OnlineAt
	OfflineAt         time.Time
	OnlineAt          time.Time
	GapHours          float64
	EstimatedTZOffset float64
}

// DetectSleepPeriods re-derives the complete set of sleep periods for one
// identity from its full event history. The caller replaces all previously
// stored periods with the result; there is no incremental patching, which
// keeps derived records consistent after out-of-order or backfilled events.
func DetectSleepPeriods(events []StatusEvent, opts DetectorOptions) []SleepPeriod {
	if len(events) < 2 {
		return nil
	}

	cleaned := Dedup(filterNoise(CombinedTransitions(events), opts.NoiseThreshold))

	tentative := collectOfflineGaps(cleaned, opts.SleepThreshold)
	if len(tentative) == 0 {
		return nil
	}

	merged := mergeAdjacentGaps(tentative, opts.MergeGap)

	periods := make([]SleepPeriod, 0, len(merged))
	for _, g := range merged {
		wake := g.end
		periods = append(periods, SleepPeriod{
			IdentityID:        g.identityID,
			Date:              wake.UTC().Format("2006-01-02"),
			OfflineAt:         g.start,
			OnlineAt:          wake,
			GapHours:          round2(g.end.Sub(g.start).Hours()),
			EstimatedTZOffset: EstimateOffset(wake, opts.AssumedWakeupHour),
		})
	}
	return periods
}

type offlineGap struct {
	identityID string
	start      time.Time
	end        time.Time
}

// filterNoise removes online blips shorter than the threshold by skipping
// both the online edge and the offline edge that follows it, so the
// surrounding offline stretches collapse into one gap. Without this a long
// sleep gap fragments into short pieces on every reconnect blip.
func filterNoise(events []StatusEvent, threshold time.Duration) []StatusEvent {
	filtered := make([]StatusEvent, 0, len(events))
	for i := 0; i < len(events); i++ {
		cur := events[i]
		if cur.Status == StatusOnline && i+1 < len(events) {
			next := events[i+1]
			if next.Status == StatusOffline && next.Timestamp.Sub(cur.Timestamp) < threshold {
				i++
				continue
			}
		}
		filtered = append(filtered, cur)
	}
	return filtered
}

// collectOfflineGaps pairs each offline edge with the next online edge and
// keeps gaps at least threshold long. A leading online with no recorded
// prior offline contributes nothing: open-ended gaps whose start predates
// retained history are discarded, not guessed.
func collectOfflineGaps(events []StatusEvent, threshold time.Duration) []offlineGap {
	var gaps []offlineGap
	var offlineAt *StatusEvent

	for i := range events {
		e := events[i]
		switch e.Status {
		case StatusOffline:
			offlineAt = &events[i]
		case StatusOnline:
			if offlineAt != nil {
				if e.Timestamp.Sub(offlineAt.Timestamp) >= threshold {
					gaps = append(gaps, offlineGap{
						identityID: e.IdentityID,
						start:      offlineAt.Timestamp,
						end:        e.Timestamp,
					})
				}
				offlineAt = nil
			}
		}
	}
	return gaps
}

// mergeAdjacentGaps combines qualifying gaps separated by a wake interval
// within the merge window, absorbing short night-time wake-ups. Gaps arrive
// sorted, so one forward pass that keeps extending the current gap is
// enough to reach a stable result.
func mergeAdjacentGaps(gaps []offlineGap, mergeGap time.Duration) []offlineGap {
	merged := make([]offlineGap, 0, len(gaps))
	current := gaps[0]

	for _, next := range gaps[1:] {
		if next.start.Sub(current.end) <= mergeGap {
			current.end = next.end
			continue
		}
		merged = append(merged, current)
		current = next
	}
	return append(merged, current)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
