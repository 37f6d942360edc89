package sensors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatorStaysWithinBounds(t *testing.T) {
	sim := NewSimulator(42, -5.813, -35.205)
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		snap, err := sim.Read(ctx)
		require.NoError(t, err)

		assert.GreaterOrEqual(t, snap.Speed, 0.0)
		assert.LessOrEqual(t, snap.Speed, 140.0)
		assert.GreaterOrEqual(t, snap.Throttle, 0.0)
		assert.LessOrEqual(t, snap.Throttle, 100.0)
		assert.GreaterOrEqual(t, snap.RPM, 700.0)
		assert.LessOrEqual(t, snap.RPM, 6500.0)
		require.NotNil(t, snap.Latitude)
		require.NotNil(t, snap.Longitude)
	}
}

func TestSimulatorDriftsNorth(t *testing.T) {
	sim := NewSimulator(1, -5.813, -35.205)
	ctx := context.Background()

	first, err := sim.Read(ctx)
	require.NoError(t, err)
	var last *Snapshot
	for i := 0; i < 50; i++ {
		last, err = sim.Read(ctx)
		require.NoError(t, err)
	}

	assert.Greater(t, *last.Latitude, *first.Latitude)
	assert.Equal(t, *first.Longitude, *last.Longitude)
}

func TestSimulatorDeterministicPerSeed(t *testing.T) {
	a := NewSimulator(7, 0, 0)
	b := NewSimulator(7, 0, 0)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		sa, err := a.Read(ctx)
		require.NoError(t, err)
		sb, err := b.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, sa.Speed, sb.Speed)
		assert.Equal(t, *sa.Latitude, *sb.Latitude)
	}
}
