package controller

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatedDefaults(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulated(RoleReceiver, 4, []int{1, 2, 3, 4})

	require.NoError(t, sim.Start(ctx))
	assert.Equal(t, 1, sim.Starts())
	assert.Equal(t, HealthOK, sim.HealthCheck(ctx))

	reply, err := sim.Receive(ctx, CommandStatus)
	require.NoError(t, err)
	assert.Equal(t, "0000", reply)

	reply, err = sim.Receive(ctx, CommandHealth)
	require.NoError(t, err)
	assert.Equal(t, "OK", reply)

	require.NoError(t, sim.Send(ctx, CommandRestart))
	assert.Equal(t, []string{CommandRestart}, sim.Commands())
	assert.Equal(t, []string{CommandStatus, CommandHealth}, sim.Queries())
	assert.Equal(t, []int{1, 2, 3, 4}, sim.Positions())
	assert.Equal(t, RoleReceiver, sim.Role())

	require.NoError(t, sim.Close())
	assert.True(t, sim.Closed())
	require.NoError(t, sim.Start(ctx))
	assert.False(t, sim.Closed())
}

func TestSimulatedOptions(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	sim := NewSimulated(RoleSender, 2, nil,
		WithStartError(boom),
		WithHealth(HealthDisconnected),
		WithResponder(func(query string) (string, error) {
			return "", boom
		}),
	)

	assert.ErrorIs(t, sim.Start(ctx), boom)
	assert.Equal(t, HealthDisconnected, sim.HealthCheck(ctx))
	_, err := sim.Receive(ctx, CommandStatus)
	assert.ErrorIs(t, err, boom)
}

func TestSimulatedFactory(t *testing.T) {
	factory := SimulatedFactory(WithHealth(HealthError))
	h := factory(RoleSender, 3, []int{5, 6, 7})

	sim, ok := h.(*Simulated)
	require.True(t, ok)
	assert.Equal(t, HealthError, sim.HealthCheck(context.Background()))
	assert.Equal(t, []int{5, 6, 7}, sim.Positions())
}
