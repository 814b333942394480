package game

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/lox/toninas/internal/slots"
)

const (
	DefaultConnQty      = 8
	DefaultSlotQty      = 32
	DefaultTimeout      = 10 * time.Second
	DefaultPollInterval = time.Millisecond

	// HealthCheckInterval is how long the loop waits between health checks.
	HealthCheckInterval = 500 * time.Millisecond
	// ProgressLogInterval is how often a running game logs its elapsed time.
	ProgressLogInterval = 2 * time.Second
)

// ErrInvalidConfig is returned by NewSession for configurations that cannot
// be repaired.
var ErrInvalidConfig = errors.New("invalid game configuration")

// Config describes one game. Zero values select the defaults.
type Config struct {
	ConnQty           int
	SlotQty           int
	SenderBlacklist   []int
	ReceiverBlacklist []int
	Test              bool
	Timeout           time.Duration
	PollInterval      time.Duration
}

// DefaultConfig returns the configuration of a standard board.
func DefaultConfig() Config {
	return Config{
		ConnQty:      DefaultConnQty,
		SlotQty:      DefaultSlotQty,
		Timeout:      DefaultTimeout,
		PollInterval: DefaultPollInterval,
	}
}

// normalize applies defaults and repairs blacklists. Anomalies are logged
// and downgraded; only negative quantities and durations are rejected.
func (c Config) normalize(logger *log.Logger) (Config, error) {
	if c.ConnQty < 0 {
		return c, fmt.Errorf("%w: conn_qty %d is negative", ErrInvalidConfig, c.ConnQty)
	}
	if c.SlotQty < 0 {
		return c, fmt.Errorf("%w: slot_qty %d is negative", ErrInvalidConfig, c.SlotQty)
	}
	if c.Timeout < 0 {
		return c, fmt.Errorf("%w: timeout %s is negative", ErrInvalidConfig, c.Timeout)
	}
	if c.PollInterval < 0 {
		return c, fmt.Errorf("%w: poll interval %s is negative", ErrInvalidConfig, c.PollInterval)
	}

	if c.ConnQty == 0 {
		c.ConnQty = DefaultConnQty
	}
	if c.SlotQty == 0 {
		c.SlotQty = DefaultSlotQty
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.SlotQty < c.ConnQty {
		logger.Warn("Slot quantity raised to connection quantity", "slot_qty", c.SlotQty, "conn_qty", c.ConnQty)
		c.SlotQty = c.ConnQty
	}

	c.SenderBlacklist = c.repairBlacklist(logger, "sender", c.SenderBlacklist)
	c.ReceiverBlacklist = c.repairBlacklist(logger, "receiver", c.ReceiverBlacklist)
	return c, nil
}

func (c Config) repairBlacklist(logger *log.Logger, side string, blacklist []int) []int {
	clean, rejected := slots.Sanitize(blacklist, c.SlotQty)
	if len(rejected) > 0 {
		logger.Warn("Dropped blacklist entries", "side", side, "entries", rejected, "slot_qty", c.SlotQty)
	}
	if !slots.Fits(c.ConnQty, c.SlotQty, clean) {
		logger.Warn("Connections and blacklist overflow the board, ignoring blacklist",
			"side", side, "blacklist", len(clean), "conn_qty", c.ConnQty, "slot_qty", c.SlotQty)
		return []int{}
	}
	return clean
}
