package game

import (
	"context"
	"errors"
	"fmt"
	rand "math/rand/v2"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"golang.org/x/sync/errgroup"

	"github.com/lox/toninas/internal/controller"
	"github.com/lox/toninas/internal/randutil"
	"github.com/lox/toninas/internal/sessionid"
	"github.com/lox/toninas/internal/slots"
)

var (
	ErrNotStarted     = errors.New("session not started")
	ErrSessionRunning = errors.New("session already running")
)

// State is where a session is in its lifecycle.
type State string

const (
	StateCreated  State = "created"
	StateStarting State = "starting"
	StateStarted  State = "started"
	StateRunning  State = "running"
	StateEnded    State = "ended"
)

// Outcome is how a game ended.
type Outcome string

const (
	OutcomeNone     Outcome = ""
	OutcomeWon      Outcome = "won"
	OutcomeTimedOut Outcome = "timed_out"
	OutcomeStopped  Outcome = "stopped"
)

// Session runs games on one sender/receiver pair. Start assigns positions
// and brings up the controllers, Run plays one game in the background, and
// Stop ends it early. A session can be started again once a game ends.
type Session struct {
	id      string
	cfg     Config
	clock   quartz.Clock
	rng     *rand.Rand
	factory controller.Factory
	logger  *log.Logger

	// startMu serializes Start so two callers cannot interleave handle
	// generations.
	startMu sync.Mutex

	mu             sync.Mutex
	state          State
	outcome        Outcome
	senderPos      []int
	receiverPos    []int
	sender         controller.Handle
	receiver       controller.Handle
	senderHealth   controller.Health
	receiverHealth controller.Health
	connState      []int
	restarts       int
	stop           chan struct{}
	stopOnce       *sync.Once
	done           chan struct{}
}

// Option configures a Session.
type Option func(*Session)

// WithClock sets the clock used for the deadline, cadences and poll sleep.
func WithClock(clock quartz.Clock) Option {
	return func(s *Session) {
		s.clock = clock
	}
}

// WithRand sets the random source for positions and simulated state.
func WithRand(rng *rand.Rand) Option {
	return func(s *Session) {
		s.rng = rng
	}
}

// WithLogger sets the parent logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithControllers sets how controller handles are built. The default is
// controller.SimulatedFactory.
func WithControllers(factory controller.Factory) Option {
	return func(s *Session) {
		s.factory = factory
	}
}

// WithID overrides the generated session id.
func WithID(id string) Option {
	return func(s *Session) {
		s.id = id
	}
}

// NewSession validates cfg and creates a session in the created state.
func NewSession(cfg Config, opts ...Option) (*Session, error) {
	s := &Session{
		clock:          quartz.NewReal(),
		factory:        controller.SimulatedFactory(),
		logger:         log.Default(),
		state:          StateCreated,
		senderHealth:   controller.HealthUnknown,
		receiverHealth: controller.HealthUnknown,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id == "" {
		s.id = sessionid.Generate()
	}
	if s.rng == nil {
		s.rng = randutil.New(randutil.Seed(nil))
	}
	s.logger = s.logger.WithPrefix("session").With("session", s.id)

	normalized, err := cfg.normalize(s.logger)
	if err != nil {
		return nil, err
	}
	s.cfg = normalized
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Config returns the normalized configuration.
func (s *Session) Config() Config {
	cfg := s.cfg
	cfg.SenderBlacklist = append([]int{}, s.cfg.SenderBlacklist...)
	cfg.ReceiverBlacklist = append([]int{}, s.cfg.ReceiverBlacklist...)
	return cfg
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Outcome returns how the last game ended, or OutcomeNone.
func (s *Session) Outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Positions returns copies of the sender and receiver slot assignments.
func (s *Session) Positions() (sender, receiver []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.senderPos...), append([]int(nil), s.receiverPos...)
}

// ConnState returns a copy of the latest connection state.
func (s *Session) ConnState() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.connState...)
}

// Start assigns fresh positions, replaces the controller handles and brings
// them up. Controller failures are logged rather than returned: the game
// loop restarts the receiver whenever it cannot be read.
func (s *Session) Start(ctx context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	// Run refuses a starting session, so no loop can pick up the handles
	// replaced below.
	s.mu.Lock()
	if s.state == StateRunning {
		s.mu.Unlock()
		return ErrSessionRunning
	}
	prev := s.state
	s.state = StateStarting
	oldSender, oldReceiver := s.sender, s.receiver
	s.mu.Unlock()

	senderPos, receiverPos, err := s.allocate()
	if err != nil {
		s.mu.Lock()
		s.state = prev
		s.mu.Unlock()
		return err
	}

	s.closeHandles(oldSender, oldReceiver)

	sender := s.factory(controller.RoleSender, s.cfg.ConnQty, senderPos)
	receiver := s.factory(controller.RoleReceiver, s.cfg.ConnQty, receiverPos)
	for _, h := range []controller.Handle{sender, receiver} {
		if err := h.Start(ctx); err != nil {
			s.logger.Warn("Controller failed to start", "error", err)
		}
	}
	senderHealth, receiverHealth := healthCheck(ctx, sender, receiver)

	s.mu.Lock()
	s.senderPos = senderPos
	s.receiverPos = receiverPos
	s.sender = sender
	s.receiver = receiver
	s.senderHealth = senderHealth
	s.receiverHealth = receiverHealth
	s.connState = make([]int, s.cfg.ConnQty)
	s.outcome = OutcomeNone
	s.state = StateStarted
	s.mu.Unlock()

	s.logger.Info("Session started",
		"sender", senderPos,
		"receiver", receiverPos,
		"senderHealth", senderHealth,
		"receiverHealth", receiverHealth,
		"test", s.cfg.Test)
	return nil
}

func (s *Session) allocate() (sender, receiver []int, err error) {
	sender, err = slots.Allocate(s.rng, s.cfg.ConnQty, s.cfg.SlotQty, s.cfg.SenderBlacklist)
	if err != nil {
		return nil, nil, fmt.Errorf("sender positions: %w", err)
	}
	receiver, err = slots.Allocate(s.rng, s.cfg.ConnQty, s.cfg.SlotQty, s.cfg.ReceiverBlacklist)
	if err != nil {
		return nil, nil, fmt.Errorf("receiver positions: %w", err)
	}
	return sender, receiver, nil
}

// Run plays one game in a new goroutine and returns immediately. The game
// ends on a win, on timeout, on Stop or when ctx is cancelled.
func (s *Session) Run(ctx context.Context, pub Publisher) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateRunning:
		return ErrSessionRunning
	case StateStarted:
	default:
		return ErrNotStarted
	}

	s.state = StateRunning
	s.stop = make(chan struct{})
	s.stopOnce = &sync.Once{}
	s.done = make(chan struct{})

	go s.loop(ctx, pub, s.stop, s.done)
	return nil
}

// Stop asks a running game to end. The loop notices within one tick; no
// event is published. Calling Stop when no game runs does nothing.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop == nil {
		return
	}
	stop := s.stop
	s.stopOnce.Do(func() {
		close(stop)
	})
}

// Done is closed when the current game ends. It is nil before Run.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Wait blocks until the current game ends and returns its outcome.
func (s *Session) Wait(ctx context.Context) (Outcome, error) {
	done := s.Done()
	if done == nil {
		return OutcomeNone, ErrNotStarted
	}
	select {
	case <-done:
		return s.Outcome(), nil
	case <-ctx.Done():
		return OutcomeNone, ctx.Err()
	}
}

// Restart sends the reset command to both controllers. Positions and
// configuration are untouched.
func (s *Session) Restart(ctx context.Context) error {
	s.mu.Lock()
	sender, receiver := s.sender, s.receiver
	if sender == nil || receiver == nil {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.restarts++
	s.mu.Unlock()

	for _, h := range []controller.Handle{sender, receiver} {
		if err := h.Send(ctx, controller.CommandRestart); err != nil {
			s.logger.Warn("Failed to send restart", "error", err)
		}
	}
	s.logger.Debug("Controllers restarted")
	return nil
}

// Close stops any running game and releases the controllers.
func (s *Session) Close() error {
	s.Stop()
	if done := s.Done(); done != nil {
		<-done
	}

	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	sender, receiver := s.sender, s.receiver
	s.sender, s.receiver = nil, nil
	s.state = StateCreated
	s.mu.Unlock()

	s.closeHandles(sender, receiver)
	return nil
}

func (s *Session) closeHandles(handles ...controller.Handle) {
	for _, h := range handles {
		if h == nil {
			continue
		}
		if err := h.Close(); err != nil {
			s.logger.Warn("Failed to close controller", "error", err)
		}
	}
}

func (s *Session) loop(ctx context.Context, pub Publisher, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	outcome := s.play(ctx, pub, stop)

	s.mu.Lock()
	s.state = StateEnded
	s.outcome = outcome
	s.mu.Unlock()

	s.logger.Info("Game ended", "outcome", outcome)
}

// play is the game loop. It owns the connection state and timers; other
// goroutines only see copies.
func (s *Session) play(ctx context.Context, pub Publisher, stop <-chan struct{}) Outcome {
	s.mu.Lock()
	sender, receiver := s.sender, s.receiver
	state := append([]int(nil), s.connState...)
	s.mu.Unlock()

	eval := NewEvaluator(receiver, s.cfg.ConnQty, s.cfg.Test, s.rng, s.logger)

	start := s.clock.Now()
	var elapsed, lastHealthCheck, lastProgress time.Duration

	for {
		if stopped(ctx, stop) {
			return OutcomeStopped
		}

		if elapsed >= s.cfg.Timeout {
			s.publish(ctx, pub, TimeoutEvent())
			_ = s.Restart(ctx)
			return OutcomeTimedOut
		}

		if elapsed-lastHealthCheck > HealthCheckInterval {
			senderHealth, receiverHealth := healthCheck(ctx, sender, receiver)
			lastHealthCheck = elapsed

			s.mu.Lock()
			s.senderHealth, s.receiverHealth = senderHealth, receiverHealth
			s.mu.Unlock()

			s.publish(ctx, pub, HealthCheckEvent(senderHealth, receiverHealth))
		}

		if elapsed-lastProgress > ProgressLogInterval {
			lastProgress = elapsed
			s.logger.Info("Playing game", "elapsed", elapsed.Round(time.Millisecond))
		}

		if !s.sleep(ctx, stop, s.cfg.PollInterval) {
			return OutcomeStopped
		}

		state = eval.Evaluate(ctx, state)

		s.mu.Lock()
		s.connState = append(s.connState[:0], state...)
		s.mu.Unlock()

		s.publish(ctx, pub, StatusEvent(state))

		elapsed = s.clock.Since(start)

		if allConnected(state) {
			s.publish(ctx, pub, WinEvent())
			_ = s.Restart(ctx)
			return OutcomeWon
		}
	}
}

func (s *Session) sleep(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	timer := s.clock.NewTimer(d, "session", "poll")
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-stop:
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *Session) publish(ctx context.Context, pub Publisher, ev Event) {
	if err := pub.Publish(ctx, ev); err != nil {
		s.logger.Debug("Failed to publish event", "signal", ev.Signal, "error", err)
	}
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// healthCheck probes both controllers concurrently.
func healthCheck(ctx context.Context, sender, receiver controller.Handle) (controller.Health, controller.Health) {
	var senderHealth, receiverHealth controller.Health

	var g errgroup.Group
	g.Go(func() error {
		senderHealth = sender.HealthCheck(ctx)
		return nil
	})
	g.Go(func() error {
		receiverHealth = receiver.HealthCheck(ctx)
		return nil
	})
	_ = g.Wait()

	return senderHealth, receiverHealth
}

func allConnected(state []int) bool {
	if len(state) == 0 {
		return false
	}
	for _, v := range state {
		if v == 0 {
			return false
		}
	}
	return true
}
