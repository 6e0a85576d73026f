package xtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDurationMarshalJSON(t *testing.T) {
	dur := Duration{0}
	marshalled, err := dur.MarshalJSON()
	require.NoError(t, err)
	require.Equal(t, []byte("0"), marshalled)

	dur = Duration{10 * time.Second}
	marshalled, err = dur.MarshalJSON()
	require.NoError(t, err)
	require.Equal(t, []byte("10"), marshalled)
}

func TestDurationUnmarshalJSON(t *testing.T) {
	var dur Duration
	err := dur.UnmarshalJSON([]byte("0"))
	require.NoError(t, err)
	require.Equal(t, time.Duration(0), dur.Duration)

	err = dur.UnmarshalJSON([]byte("2.5"))
	require.NoError(t, err)
	require.Equal(t, 2500*time.Millisecond, dur.Duration)

	err = dur.UnmarshalJSON([]byte(`"1s500ms"`))
	require.NoError(t, err)
	require.Equal(t, 1500*time.Millisecond, dur.Duration)
}

func TestDurationAddSub(t *testing.T) {
	a := FromSeconds(10)
	b := FromSeconds(4)
	require.Equal(t, FromSeconds(14), a.Add(b))
	require.Equal(t, FromSeconds(6), a.Sub(b))
}

func TestDurationGreaterSmaller(t *testing.T) {
	a := FromSeconds(1)
	b := FromSeconds(2)
	require.True(t, b.Greater(a))
	require.False(t, a.Greater(b))
	require.True(t, a.Smaller(b))
	require.False(t, b.Smaller(a))
}

func TestDurationClamp(t *testing.T) {
	lo := FromSeconds(0)
	hi := FromSeconds(10)

	require.Equal(t, lo, FromSeconds(-5).Clamp(lo, hi))
	require.Equal(t, hi, FromSeconds(50).Clamp(lo, hi))
	require.Equal(t, FromSeconds(5), FromSeconds(5).Clamp(lo, hi))
}

func TestDurationAbs(t *testing.T) {
	require.Equal(t, FromSeconds(3), FromSeconds(-3).Abs())
	require.Equal(t, FromSeconds(3), FromSeconds(3).Abs())
}

func TestFakeClock(t *testing.T) {
	clock := NewFakeClock()
	require.Equal(t, Duration{0}, clock.Now())

	clock.Advance(FromSeconds(5))
	require.Equal(t, FromSeconds(5), clock.Now())

	clock.Set(FromSeconds(100))
	require.Equal(t, FromSeconds(100), clock.Now())
}
