package fake

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTrack_Deterministic(t *testing.T) {
	c := New()

	a, err := c.Track(context.Background(), "MSKU1234567")
	require.NoError(t, err)
	b, err := c.Track(context.Background(), "MSKU1234567")
	require.NoError(t, err)
	require.Equal(t, a.StatusRaw, b.StatusRaw)
}

func TestTrack_SomeDelivered(t *testing.T) {
	c := New()
	numbers := []string{"A1", "B2", "C3", "D4", "E5", "F6", "G7", "H8", "I9", "J10"}

	delivered := 0
	for _, n := range numbers {
		res, err := c.Track(context.Background(), n)
		require.NoError(t, err)
		switch res.StatusRaw {
		case "Delivered":
			delivered++
			require.NotNil(t, res.DischargeDate)
		case "Sailing":
			require.Nil(t, res.DischargeDate)
		default:
			t.Fatalf("unexpected status %q", res.StatusRaw)
		}
		require.NotNil(t, res.LoadingDate)
		require.NotEmpty(t, res.Events)
	}
	require.Greater(t, delivered, 0)
}
