package clockmesh

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClockAdvance(t *testing.T) {
	var c Clock
	for want := uint64(1); want <= 100; want++ {
		require.Equal(t, want, c.Advance())
	}
}

func TestClockAdvanceTo(t *testing.T) {
	cases := []struct {
		name     string
		start    uint64
		received uint64
		want     uint64
	}{
		{"received ahead", 0, 10, 11},
		{"received behind", 10, 2, 11},
		{"received equal", 5, 5, 6},
		{"both zero", 0, 0, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Clock{now: tc.start}
			require.Equal(t, tc.want, c.AdvanceTo(tc.received))
			require.Equal(t, tc.want, c.Now())
		})
	}
}

func TestClockStrictlyMonotonic(t *testing.T) {
	var c Clock
	rng := rand.New(rand.NewSource(42))
	prev := c.Now()
	for i := 0; i < 1000; i++ {
		var next uint64
		if rng.Intn(2) == 0 {
			next = c.Advance()
		} else {
			received := uint64(rng.Intn(2000))
			next = c.AdvanceTo(received)
			require.Greater(t, next, received)
		}
		require.Greater(t, next, prev)
		prev = next
	}
}
