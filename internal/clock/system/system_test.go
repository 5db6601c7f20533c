package system_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/event-dispatch/internal/clock/system"
	"github.com/JakeFAU/event-dispatch/internal/event"
	"github.com/JakeFAU/event-dispatch/internal/sink"
)

var (
	_ event.Clock = (*system.Clock)(nil)
	_ sink.Clock  = (*system.Clock)(nil)
)

func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := system.New()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	require.Equal(t, time.UTC, got.Location())
	require.True(t, got.After(before) && got.Before(after), "got %v", got)
}

func TestClockNowMonotonic(t *testing.T) {
	t.Parallel()

	clk := system.New()
	first := clk.Now()
	second := clk.Now()
	require.False(t, second.Before(first))
}
