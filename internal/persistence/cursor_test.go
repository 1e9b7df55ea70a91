package persistence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BloodRedTape/UtcTracker/internal/domain"
)

func TestCursorRoundTrip(t *testing.T) {
	cursor := &domain.Cursor{
		Timestamp: time.Date(2024, 3, 10, 7, 30, 0, 123456000, time.UTC),
		ID:        42,
	}

	token := EncodeCursor(cursor)
	require.NotEmpty(t, token)

	decoded, err := DecodeCursor(token)
	require.NoError(t, err)
	require.True(t, decoded.Timestamp.Equal(cursor.Timestamp))
	require.Equal(t, cursor.ID, decoded.ID)
}

func TestCursorEmpty(t *testing.T) {
	require.Equal(t, "", EncodeCursor(nil))

	decoded, err := DecodeCursor("")
	require.NoError(t, err)
	require.Nil(t, decoded)

	decoded, err = DecodeCursor("   ")
	require.NoError(t, err)
	require.Nil(t, decoded)
}

func TestCursorRejectsGarbage(t *testing.T) {
	_, err := DecodeCursor("not-base64!!")
	require.Error(t, err)

	_, err = DecodeCursor("bm8tcGlwZS1oZXJl") // "no-pipe-here"
	require.Error(t, err)
}
