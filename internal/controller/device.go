package controller

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultTimeout bounds a dial or a single request/reply exchange.
const DefaultTimeout = 2 * time.Second

// deadliner is implemented by net.Conn and *os.File.
type deadliner interface {
	SetDeadline(t time.Time) error
}

// Device talks to a controller over a newline-terminated text protocol.
type Device struct {
	role      Role
	dial      Dialer
	connQty   int
	positions []int
	timeout   time.Duration
	logger    *log.Logger

	mu      sync.Mutex
	started bool
	conn    io.ReadWriteCloser
	reader  *bufio.Reader
	hc      Health
}

// DeviceOption configures a Device.
type DeviceOption func(*Device)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) DeviceOption {
	return func(dev *Device) {
		dev.timeout = d
	}
}

// NewDevice creates a device handle. Nothing is dialled until Start.
func NewDevice(role Role, dial Dialer, connQty int, positions []int, logger *log.Logger, opts ...DeviceOption) *Device {
	d := &Device{
		role:      role,
		dial:      dial,
		connQty:   connQty,
		positions: append([]int(nil), positions...),
		timeout:   DefaultTimeout,
		logger:    logger.WithPrefix("controller").With("role", role),
		hc:        HealthUnknown,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start dials the controller, replacing any existing connection, and sends
// the slot assignment. After the first Start, Send and Receive redial on
// their own when the link has dropped.
func (d *Device) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.started = true
	d.closeLocked()
	if err := d.connectLocked(ctx); err != nil {
		return err
	}

	d.logger.Info("Controller started", "positions", d.positions)
	return nil
}

func (d *Device) connectLocked(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	conn, err := d.dial(dialCtx)
	if err != nil {
		return fmt.Errorf("%s: dial: %w", d.role, err)
	}
	d.conn = conn
	d.reader = bufio.NewReader(conn)

	if err := d.writeLocked(ctx, SetupCommand(d.connQty, d.positions)); err != nil {
		d.closeLocked()
		return fmt.Errorf("%s: setup: %w", d.role, err)
	}
	return nil
}

// ensureLocked redials a dropped link. Handles that were never started or
// have been closed stay down.
func (d *Device) ensureLocked(ctx context.Context) error {
	if d.conn != nil {
		return nil
	}
	if !d.started {
		return fmt.Errorf("%s: %w", d.role, ErrNotConnected)
	}
	d.logger.Debug("Reconnecting controller")
	return d.connectLocked(ctx)
}

// HealthCheck sends the health probe and caches the outcome.
func (d *Device) HealthCheck(ctx context.Context) Health {
	reply, err := d.Receive(ctx, CommandHealth)

	var hc Health
	switch {
	case err != nil:
		hc = HealthDisconnected
	case reply == healthReply:
		hc = HealthOK
	default:
		hc = HealthError
	}

	d.mu.Lock()
	if hc != d.hc {
		d.logger.Debug("Health changed", "from", d.hc, "to", hc)
	}
	d.hc = hc
	d.mu.Unlock()

	return hc
}

// Health returns the result of the last health check.
func (d *Device) Health() Health {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hc
}

// Send writes command without reading a reply.
func (d *Device) Send(ctx context.Context, command string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureLocked(ctx); err != nil {
		return err
	}
	if err := d.writeLocked(ctx, command); err != nil {
		d.closeLocked()
		return fmt.Errorf("%s: send: %w", d.role, err)
	}
	return nil
}

// Receive writes query and reads one reply line. An I/O error or a reply
// slower than the timeout drops the connection; the next call redials.
func (d *Device) Receive(ctx context.Context, query string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureLocked(ctx); err != nil {
		return "", err
	}

	var line string
	err := d.exchangeLocked(ctx, func(conn io.Writer, r *bufio.Reader) error {
		if _, err := io.WriteString(conn, query); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		var err error
		if line, err = r.ReadString('\n'); err != nil {
			return fmt.Errorf("receive: %w", err)
		}
		return nil
	})
	if err != nil {
		d.closeLocked()
		return "", fmt.Errorf("%s: %w", d.role, err)
	}
	return strings.TrimSpace(line), nil
}

// Close releases the connection. A closed device does not redial until the
// next Start.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = false
	return d.closeLocked()
}

func (d *Device) writeLocked(ctx context.Context, s string) error {
	return d.exchangeLocked(ctx, func(conn io.Writer, _ *bufio.Reader) error {
		_, err := io.WriteString(conn, s)
		return err
	})
}

// exchangeLocked runs fn against the connection, bounded by the device
// timeout and ctx. Transports that refuse deadlines run fn in a goroutine
// and are closed when it overruns, which unblocks the pending read.
func (d *Device) exchangeLocked(ctx context.Context, fn func(conn io.Writer, r *bufio.Reader) error) error {
	conn, reader := d.conn, d.reader

	deadline := time.Now().Add(d.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if dl, ok := conn.(deadliner); ok {
		err := dl.SetDeadline(deadline)
		if err == nil {
			return fn(conn, reader)
		}
		d.logger.Debug("Transport refused deadline, using a watchdog", "error", err)
	}

	errc := make(chan error, 1)
	go func() {
		errc <- fn(conn, reader)
	}()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case err := <-errc:
		return err
	case <-timer.C:
		d.closeLocked()
		return fmt.Errorf("no reply within %s: %w", d.timeout, os.ErrDeadlineExceeded)
	case <-ctx.Done():
		d.closeLocked()
		return ctx.Err()
	}
}

func (d *Device) closeLocked() error {
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	d.reader = nil
	return err
}
