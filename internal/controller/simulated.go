package controller

import (
	"context"
	"strings"
	"sync"
)

// Responder produces the reply to a query sent to a Simulated handle.
type Responder func(query string) (string, error)

// Simulated is an in-memory controller. It backs test mode, where no
// hardware is attached, and stands in for hardware in tests.
type Simulated struct {
	role      Role
	connQty   int
	positions []int

	mu        sync.Mutex
	responder Responder
	startErr  error
	health    Health
	starts    int
	closed    bool
	commands  []string
	queries   []string
}

// SimulatedOption configures a Simulated handle.
type SimulatedOption func(*Simulated)

// WithResponder scripts the replies to queries.
func WithResponder(r Responder) SimulatedOption {
	return func(s *Simulated) {
		s.responder = r
	}
}

// WithStartError makes every Start fail with err.
func WithStartError(err error) SimulatedOption {
	return func(s *Simulated) {
		s.startErr = err
	}
}

// WithHealth fixes the reported health.
func WithHealth(h Health) SimulatedOption {
	return func(s *Simulated) {
		s.health = h
	}
}

// NewSimulated creates a simulated controller. Without a responder it
// answers health probes with OK and status queries with every connection
// open.
func NewSimulated(role Role, connQty int, positions []int, opts ...SimulatedOption) *Simulated {
	s := &Simulated{
		role:      role,
		connQty:   connQty,
		positions: append([]int(nil), positions...),
		health:    HealthOK,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SimulatedFactory builds a Simulated handle for each side.
func SimulatedFactory(opts ...SimulatedOption) Factory {
	return func(role Role, connQty int, positions []int) Handle {
		return NewSimulated(role, connQty, positions, opts...)
	}
}

func (s *Simulated) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	s.closed = false
	return s.startErr
}

func (s *Simulated) HealthCheck(ctx context.Context) Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.health
}

func (s *Simulated) Send(ctx context.Context, command string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, command)
	return nil
}

func (s *Simulated) Receive(ctx context.Context, query string) (string, error) {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	responder := s.responder
	s.mu.Unlock()

	if responder != nil {
		return responder(query)
	}
	if query == CommandHealth {
		return healthReply, nil
	}
	return strings.Repeat("0", s.connQty), nil
}

func (s *Simulated) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Role returns the side this handle was built for.
func (s *Simulated) Role() Role {
	return s.role
}

// Positions returns the slots the handle was configured with.
func (s *Simulated) Positions() []int {
	return append([]int(nil), s.positions...)
}

// Starts returns how many times Start was called.
func (s *Simulated) Starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

// Commands returns the commands passed to Send, in order.
func (s *Simulated) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Queries returns the queries passed to Receive, in order.
func (s *Simulated) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

// Closed reports whether Close was called since the last Start.
func (s *Simulated) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
