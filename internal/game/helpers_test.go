package game

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/lox/toninas/internal/controller"
)

func testLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}

// recorder is a Publisher that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(ctx context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) Count(signal Signal) int {
	n := 0
	for _, ev := range r.Events() {
		if ev.Signal == signal {
			n++
		}
	}
	return n
}

func (r *recorder) Statuses() [][]int {
	var out [][]int
	for _, ev := range r.Events() {
		if ev.Signal == SignalStatus {
			out = append(out, ev.Value.([]int))
		}
	}
	return out
}

// rig records the simulated handles a session builds.
type rig struct {
	mu      sync.Mutex
	built   []*controller.Simulated
	options []controller.SimulatedOption
}

func (r *rig) factory() controller.Factory {
	return func(role controller.Role, connQty int, positions []int) controller.Handle {
		r.mu.Lock()
		defer r.mu.Unlock()
		h := controller.NewSimulated(role, connQty, positions, r.options...)
		r.built = append(r.built, h)
		return h
	}
}

// latest returns the most recently built handle for role.
func (r *rig) latest(role controller.Role) *controller.Simulated {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.built) - 1; i >= 0; i-- {
		if r.built[i].Role() == role {
			return r.built[i]
		}
	}
	return nil
}

// statusResponder answers status queries with reply.
func statusResponder(reply string) controller.SimulatedOption {
	return controller.WithResponder(func(query string) (string, error) {
		if query == controller.CommandStatus {
			return reply, nil
		}
		return "OK", nil
	})
}

// driveClock advances a mock clock to each pending timer until done closes,
// so a session loop runs through virtual time as fast as it can tick.
func driveClock(t *testing.T, clock *quartz.Mock, done <-chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			t.Fatal("session did not finish in virtual time")
			return
		default:
		}

		if d, ok := clock.Peek(); ok {
			clock.Advance(d).MustWait(ctx)
			continue
		}
		time.Sleep(10 * time.Microsecond)
	}
}

func waitForCondition(t *testing.T, condition func() bool, timeout time.Duration, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func ones(n int) string {
	return strings.Repeat("1", n)
}
