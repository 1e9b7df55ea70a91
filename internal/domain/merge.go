package domain

import "sort"

// MergeSources combines per-source event sequences into one timeline sorted
// by timestamp. The sort is stable so ties keep insertion order, and events
// are not deduplicated across sources: two channels may both report online
// without collapsing into one entry.
func MergeSources(events []StatusEvent) []StatusEvent {
	merged := make([]StatusEvent, len(events))
	copy(merged, events)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	return merged
}

// CombinedTransitions reduces the multi-source timeline to the edge stream
// of the any-source-online union: walking the merged sequence while tracking
// each source's last state, it emits one event whenever the OR over sources
// flips. The result is strictly alternating and is the sole input to sleep
// detection and merged activity windows.
func CombinedTransitions(events []StatusEvent) []StatusEvent {
	merged := MergeSources(events)

	perSource := make(map[Source]Status)
	combined := StatusOffline
	out := make([]StatusEvent, 0, len(merged))

	for _, e := range merged {
		perSource[e.Source] = e.Status

		next := StatusOffline
		for _, s := range perSource {
			if s == StatusOnline {
				next = StatusOnline
				break
			}
		}

		if next != combined {
			combined = next
			out = append(out, StatusEvent{
				IdentityID: e.IdentityID,
				Source:     SourceMerged,
				Status:     combined,
				RawStatus:  e.RawStatus,
				Timestamp:  e.Timestamp,
			})
		}
	}

	return out
}

// Dedup collapses consecutive events with the same status, keeping the
// first. Noise filtering can leave two offline edges back to back, so the
// detector runs its input through this before pairing gaps.
func Dedup(events []StatusEvent) []StatusEvent {
	if len(events) == 0 {
		return nil
	}
	out := append(make([]StatusEvent, 0, len(events)), events[0])
	for _, e := range events[1:] {
		if e.Status != out[len(out)-1].Status {
			out = append(out, e)
		}
	}
	return out
}
