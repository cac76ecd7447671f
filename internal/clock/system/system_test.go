package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	require.NotNil(t, clk)

	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	assert.Equal(t, time.UTC, got.Location())
	assert.True(t, got.After(before) && got.Before(after), "expected %v between %v and %v", got, before, after)
}

func TestClockToday(t *testing.T) {
	t.Parallel()

	clk := New()
	today := clk.Today()
	_, err := time.Parse("2006-01-02", today)
	require.NoError(t, err)
	assert.Equal(t, time.Now().UTC().Format("2006-01-02"), today)
}
