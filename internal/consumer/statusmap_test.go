package consumer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BloodRedTape/UtcTracker/internal/domain"
)

func TestMapNativeStatus(t *testing.T) {
	cases := []struct {
		source domain.Source
		native string
		want   domain.Status
		ok     bool
	}{
		{domain.SourceTelegram, "online", domain.StatusOnline, true},
		{domain.SourceTelegram, "UserStatusOnline", domain.StatusOnline, true},
		{domain.SourceTelegram, "UserStatusOffline", domain.StatusOffline, true},
		{domain.SourceTelegram, "UserStatusRecently", domain.StatusOffline, true},
		{domain.SourceDiscord, "online", domain.StatusOnline, true},
		{domain.SourceDiscord, "idle", domain.StatusOffline, true},
		{domain.SourceDiscord, "dnd", domain.StatusOffline, true},
		{domain.SourceDiscord, "invisible", domain.StatusOffline, true},
		{domain.SourceDiscord, "streaming", "", false},
		{domain.SourceTelegram, "", "", false},
		{domain.Source("matrix"), "online", "", false},
	}

	for _, tc := range cases {
		got, ok := MapNativeStatus(tc.source, tc.native)
		require.Equal(t, tc.ok, ok, "source=%s native=%q", tc.source, tc.native)
		if tc.ok {
			require.Equal(t, tc.want, got, "source=%s native=%q", tc.source, tc.native)
		}
	}
}
