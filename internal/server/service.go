package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/lox/toninas/internal/controller"
	"github.com/lox/toninas/internal/game"
)

var (
	ErrNoGame        = errors.New("no game in progress")
	ErrNoControllers = errors.New("no controllers configured for hardware mode")
)

// Overrides adjusts the base game configuration for one game. Nil fields
// keep the base value.
type Overrides struct {
	ConnQty           *int     `json:"conn_qty,omitempty"`
	SlotQty           *int     `json:"slot_qty,omitempty"`
	Timeout           *float64 `json:"timeout,omitempty"`
	Test              *bool    `json:"test,omitempty"`
	SenderBlacklist   []int    `json:"sender_blacklist,omitempty"`
	ReceiverBlacklist []int    `json:"receiver_blacklist,omitempty"`
}

// Apply returns base with the overrides applied.
func (o Overrides) Apply(base game.Config) game.Config {
	cfg := base
	if o.ConnQty != nil {
		cfg.ConnQty = *o.ConnQty
	}
	if o.SlotQty != nil {
		cfg.SlotQty = *o.SlotQty
	}
	if o.Timeout != nil {
		cfg.Timeout = time.Duration(*o.Timeout * float64(time.Second))
	}
	if o.Test != nil {
		cfg.Test = *o.Test
	}
	if o.SenderBlacklist != nil {
		cfg.SenderBlacklist = append([]int(nil), o.SenderBlacklist...)
	}
	if o.ReceiverBlacklist != nil {
		cfg.ReceiverBlacklist = append([]int(nil), o.ReceiverBlacklist...)
	}
	return cfg
}

// GameService owns the current game session. Only one game runs at a time;
// starting a new one replaces the old.
type GameService struct {
	base        game.Config
	devices     controller.Factory
	sessionOpts []game.Option
	publisher   game.Publisher
	logger      *log.Logger

	// ctx bounds every game loop; request contexts end too early.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	session *game.Session
}

// ServiceOption configures a GameService.
type ServiceOption func(*GameService)

// WithDevices sets the factory used when a game is not in test mode.
func WithDevices(factory controller.Factory) ServiceOption {
	return func(s *GameService) {
		s.devices = factory
	}
}

// WithSessionOptions passes options to every session the service creates.
func WithSessionOptions(opts ...game.Option) ServiceOption {
	return func(s *GameService) {
		s.sessionOpts = append(s.sessionOpts, opts...)
	}
}

// NewGameService creates a service that publishes every game's events to
// publisher.
func NewGameService(base game.Config, publisher game.Publisher, logger *log.Logger, opts ...ServiceOption) *GameService {
	ctx, cancel := context.WithCancel(context.Background())
	s := &GameService{
		base:      base,
		publisher: publisher,
		logger:    logger.WithPrefix("games"),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartGame ends any current game, then starts and runs a new one. The
// config event goes out before the first status.
func (s *GameService) StartGame(ctx context.Context, o Overrides) (game.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil {
		_ = s.session.Close()
		s.session = nil
	}

	cfg := o.Apply(s.base)
	factory := controller.SimulatedFactory()
	if !cfg.Test {
		if s.devices == nil {
			return game.Snapshot{}, ErrNoControllers
		}
		factory = s.devices
	}

	opts := append([]game.Option{
		game.WithLogger(s.logger),
		game.WithControllers(factory),
	}, s.sessionOpts...)

	session, err := game.NewSession(cfg, opts...)
	if err != nil {
		return game.Snapshot{}, err
	}
	if err := session.Start(ctx); err != nil {
		_ = session.Close()
		return game.Snapshot{}, fmt.Errorf("start game: %w", err)
	}

	snap := session.Snapshot()
	if err := s.publisher.Publish(ctx, game.ConfigEvent(snap)); err != nil {
		s.logger.Debug("Failed to publish config", "error", err)
	}

	if err := session.Run(s.ctx, s.publisher); err != nil {
		_ = session.Close()
		return game.Snapshot{}, fmt.Errorf("run game: %w", err)
	}
	s.session = session

	s.logger.Info("Game started", "session", snap.ID, "test", snap.Test, "timeout", snap.Timeout)
	return snap, nil
}

// StopGame stops the current game and waits for its loop to exit.
func (s *GameService) StopGame(ctx context.Context) (game.Snapshot, error) {
	s.mu.Lock()
	session := s.session
	s.mu.Unlock()

	if session == nil {
		return game.Snapshot{}, ErrNoGame
	}

	session.Stop()
	if _, err := session.Wait(ctx); err != nil {
		return game.Snapshot{}, err
	}
	return session.Snapshot(), nil
}

// RestartControllers sends the reset command to the current game's
// controllers without touching its positions.
func (s *GameService) RestartControllers(ctx context.Context) (game.Snapshot, error) {
	s.mu.Lock()
	session := s.session
	s.mu.Unlock()

	if session == nil {
		return game.Snapshot{}, ErrNoGame
	}
	if err := session.Restart(ctx); err != nil {
		return game.Snapshot{}, err
	}
	return session.Snapshot(), nil
}

// Current returns a snapshot of the latest game, finished or not.
func (s *GameService) Current() (game.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return game.Snapshot{}, false
	}
	return s.session.Snapshot(), true
}

// Close stops the current game and releases its controllers.
func (s *GameService) Close() error {
	s.cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil
	}
	err := s.session.Close()
	s.session = nil
	return err
}
