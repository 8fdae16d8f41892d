package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManual_AdvanceMovesNow(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	c := NewManual(start)

	c.Advance(90 * time.Second)

	assert.Equal(t, start.Add(90*time.Second), c.Now())
}

func TestManual_TickerFiresAfterPeriod(t *testing.T) {
	c := NewManual(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	tk := c.NewTicker(time.Second)
	defer tk.Stop()

	c.Advance(500 * time.Millisecond)
	select {
	case <-tk.C():
		t.Fatal("ticker fired before its period elapsed")
	default:
	}

	c.Advance(500 * time.Millisecond)
	select {
	case got := <-tk.C():
		assert.Equal(t, c.Now(), got)
	default:
		t.Fatal("ticker did not fire after its period elapsed")
	}
}

func TestManual_StoppedTickerDoesNotFire(t *testing.T) {
	c := NewManual(time.Now())
	tk := c.NewTicker(time.Second)
	tk.Stop()

	c.Advance(5 * time.Second)

	select {
	case <-tk.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestManual_NonPositivePeriodPanics(t *testing.T) {
	c := NewManual(time.Now())
	require.Panics(t, func() { c.NewTicker(0) })
}
