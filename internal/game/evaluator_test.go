package game

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/toninas/internal/controller"
	"github.com/lox/toninas/internal/randutil"
)

func TestParseState(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		connQty int
		want    []int
		wantErr bool
	}{
		{"all open", "0000", 4, []int{0, 0, 0, 0}, false},
		{"mixed", "0110", 4, []int{0, 1, 1, 0}, false},
		{"all connected", "11111111", 8, []int{1, 1, 1, 1, 1, 1, 1, 1}, false},
		{"trailing newline", "01\r\n", 2, []int{0, 1}, false},
		{"too short", "011", 4, nil, true},
		{"too long", "01101", 4, nil, true},
		{"not binary", "0120", 4, nil, true},
		{"letters", "abcd", 4, nil, true},
		{"empty", "", 4, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseState(tt.reply, tt.connQty)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedState)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluatorReadsReceiver(t *testing.T) {
	ctx := context.Background()
	receiver := controller.NewSimulated(controller.RoleReceiver, 4, nil, statusResponder("1010"))
	eval := NewEvaluator(receiver, 4, false, randutil.New(1), testLogger())

	got := eval.Evaluate(ctx, []int{0, 0, 0, 0})
	assert.Equal(t, []int{1, 0, 1, 0}, got)
	assert.Equal(t, []string{controller.CommandStatus}, receiver.Queries())
	assert.Zero(t, receiver.Starts())
}

func TestEvaluatorErrorReplyKeepsState(t *testing.T) {
	ctx := context.Background()
	receiver := controller.NewSimulated(controller.RoleReceiver, 4, nil, statusResponder(controller.ErrorReply))
	eval := NewEvaluator(receiver, 4, false, randutil.New(1), testLogger())

	prev := []int{1, 1, 0, 1}
	assert.Equal(t, prev, eval.Evaluate(ctx, prev))
	assert.Zero(t, receiver.Starts())
}

func TestEvaluatorRecovers(t *testing.T) {
	ctx := context.Background()

	t.Run("wrong length", func(t *testing.T) {
		receiver := controller.NewSimulated(controller.RoleReceiver, 8, nil, statusResponder("0101"))
		eval := NewEvaluator(receiver, 8, false, randutil.New(1), testLogger())

		got := eval.Evaluate(ctx, []int{1, 1, 1, 1, 1, 1, 1, 0})
		assert.Equal(t, make([]int, 8), got)
		assert.Equal(t, 1, receiver.Starts())
	})

	t.Run("communication error", func(t *testing.T) {
		receiver := controller.NewSimulated(controller.RoleReceiver, 2, nil,
			controller.WithResponder(func(string) (string, error) {
				return "", controller.ErrNotConnected
			}),
			controller.WithStartError(errors.New("still unplugged")),
		)
		eval := NewEvaluator(receiver, 2, false, randutil.New(1), testLogger())

		for i := 0; i < 3; i++ {
			assert.Equal(t, []int{0, 0}, eval.Evaluate(ctx, []int{1, 1}))
		}
		assert.Equal(t, 3, receiver.Starts())
	})
}

func TestEvaluatorSimulationCadence(t *testing.T) {
	ctx := context.Background()
	receiver := controller.NewSimulated(controller.RoleReceiver, 8, nil)
	eval := NewEvaluator(receiver, 8, true, randutil.New(7), testLogger())

	state := make([]int, 8)
	for call := 1; call <= 20; call++ {
		next := eval.Evaluate(ctx, state)
		require.Len(t, next, 8)
		if call%2 == 1 {
			assert.Same(t, &state[0], &next[0], "call %d should keep the state", call)
		} else {
			assert.NotSame(t, &state[0], &next[0], "call %d should replace the state", call)
			for _, v := range next {
				assert.Contains(t, []int{0, 1}, v)
			}
		}
		state = next
	}

	assert.Empty(t, receiver.Queries(), "simulation never queries the receiver")
}
