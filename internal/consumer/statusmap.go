package consumer

import (
	"strings"

	"github.com/BloodRedTape/UtcTracker/internal/domain"
)

// Listeners forward the source-native presence state verbatim; each source
// has its own vocabulary, collapsed here to the binary online/offline model.
var nativeStatuses = map[domain.Source]map[string]domain.Status{
	domain.SourceTelegram: {
		"online":             domain.StatusOnline,
		"offline":            domain.StatusOffline,
		"userstatusonline":   domain.StatusOnline,
		"userstatusoffline":  domain.StatusOffline,
		"userstatusrecently": domain.StatusOffline,
	},
	domain.SourceDiscord: {
		"online":    domain.StatusOnline,
		"idle":      domain.StatusOffline,
		"dnd":       domain.StatusOffline,
		"offline":   domain.StatusOffline,
		"invisible": domain.StatusOffline,
	},
}

// MapNativeStatus translates a source-native presence state to the binary
// domain status. The second return value reports whether the native state
// is known for that source.
func MapNativeStatus(source domain.Source, native string) (domain.Status, bool) {
	table, ok := nativeStatuses[source]
	if !ok {
		return "", false
	}
	status, ok := table[strings.ToLower(strings.TrimSpace(native))]
	return status, ok
}
