package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNowIsCurrentUTC(t *testing.T) {
	t.Parallel()

	before := time.Now()
	got := New().Now()
	after := time.Now()

	require.Equal(t, time.UTC, got.Location())
	require.False(t, got.Before(before.Truncate(time.Second)))
	require.False(t, got.After(after.Add(time.Second)))
}

func TestStageDurationsAreNonNegative(t *testing.T) {
	t.Parallel()

	clk := New()
	started := clk.Now()
	finished := clk.Now()
	require.GreaterOrEqual(t, finished.Sub(started), time.Duration(0))
}
