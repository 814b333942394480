package game

import (
	"context"
	"errors"
	"fmt"
	rand "math/rand/v2"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/lox/toninas/internal/controller"
	"github.com/lox/toninas/internal/randutil"
)

// ErrMalformedState is returned by ParseState for replies that are not a
// string of 0s and 1s, one per connection.
var ErrMalformedState = errors.New("malformed connection state")

// Evaluator turns receiver replies into connection state. It recovers from
// every failure locally so the game loop never stops on a bad reply.
type Evaluator struct {
	receiver controller.Handle
	connQty  int
	simulate bool
	rng      *rand.Rand
	logger   *log.Logger

	calls int
}

// NewEvaluator creates an evaluator that polls receiver, or generates random
// state when simulate is set.
func NewEvaluator(receiver controller.Handle, connQty int, simulate bool, rng *rand.Rand, logger *log.Logger) *Evaluator {
	return &Evaluator{
		receiver: receiver,
		connQty:  connQty,
		simulate: simulate,
		rng:      rng,
		logger:   logger,
	}
}

// Evaluate returns the connection state for this tick given the previous
// one.
func (e *Evaluator) Evaluate(ctx context.Context, prev []int) []int {
	if e.simulate {
		return e.simulated(prev)
	}

	reply, err := e.receiver.Receive(ctx, controller.CommandStatus)
	if err == nil && reply == controller.ErrorReply {
		e.logger.Warn("Receiver reported an error, keeping previous state")
		return prev
	}

	var state []int
	if err == nil {
		state, err = ParseState(reply, e.connQty)
	}
	if err != nil {
		return e.recoverReceiver(ctx, err)
	}
	return state
}

// simulated changes the state on every second call only.
func (e *Evaluator) simulated(prev []int) []int {
	e.calls++
	if e.calls > 1 {
		e.calls = 0
		return randutil.Bits(e.rng, e.connQty)
	}
	return prev
}

func (e *Evaluator) recoverReceiver(ctx context.Context, cause error) []int {
	e.logger.Warn("Could not read receiver state, restarting receiver", "error", cause)
	if err := e.receiver.Start(ctx); err != nil {
		e.logger.Warn("Receiver restart failed", "error", err)
	}
	return make([]int, e.connQty)
}

// ParseState parses a status reply such as "01101001".
func ParseState(reply string, connQty int) ([]int, error) {
	reply = strings.TrimSpace(reply)
	if len(reply) != connQty {
		return nil, fmt.Errorf("%w: got %d values, want %d", ErrMalformedState, len(reply), connQty)
	}

	state := make([]int, connQty)
	for i, ch := range []byte(reply) {
		switch ch {
		case '0':
		case '1':
			state[i] = 1
		default:
			return nil, fmt.Errorf("%w: unexpected %q at %d", ErrMalformedState, ch, i)
		}
	}
	return state, nil
}
