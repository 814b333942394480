// Package config loads the toninas HCL configuration file.
package config

import (
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/lox/toninas/internal/controller"
	"github.com/lox/toninas/internal/game"
)

const (
	DefaultAddress  = "localhost"
	DefaultPort     = 8080
	DefaultLogLevel = "info"
	DefaultBaud     = 9600
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the decoded configuration file with defaults applied.
type Config struct {
	Server      ServerSettings
	Game        GameSettings
	Controllers map[controller.Role]controller.Target
}

// ServerSettings contains server-level configuration
type ServerSettings struct {
	Address  string `hcl:"address,optional"`
	Port     int    `hcl:"port,optional"`
	LogLevel string `hcl:"log_level,optional"`
}

// GameSettings is the base game configuration. Blacklists have already been
// coerced to integers.
type GameSettings struct {
	ConnQty           int
	SlotQty           int
	Timeout           time.Duration
	Test              bool
	SenderBlacklist   []int
	ReceiverBlacklist []int
}

// file mirrors the HCL layout. Blacklists stay raw expressions so loose
// values can be coerced instead of failing the decode.
type file struct {
	Server      *ServerSettings   `hcl:"server,block"`
	Game        *gameBlock        `hcl:"game,block"`
	Controllers []controllerBlock `hcl:"controller,block"`
}

type gameBlock struct {
	ConnQty           int            `hcl:"conn_qty,optional"`
	SlotQty           int            `hcl:"slot_qty,optional"`
	Timeout           float64        `hcl:"timeout,optional"`
	Test              bool           `hcl:"test,optional"`
	SenderBlacklist   hcl.Expression `hcl:"sender_blacklist,optional"`
	ReceiverBlacklist hcl.Expression `hcl:"receiver_blacklist,optional"`
}

type controllerBlock struct {
	Role   string `hcl:"role,label"`
	Device string `hcl:"device"`
	Baud   int    `hcl:"baud,optional"`
}

// DefaultConfig returns the configuration used when no file exists: a
// standard board in test mode, so the server runs without hardware.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerSettings{
			Address:  DefaultAddress,
			Port:     DefaultPort,
			LogLevel: DefaultLogLevel,
		},
		Game: GameSettings{
			ConnQty: game.DefaultConnQty,
			SlotQty: game.DefaultSlotQty,
			Timeout: game.DefaultTimeout,
			Test:    true,
		},
		Controllers: map[controller.Role]controller.Target{},
	}
}

// Load reads filename. A missing file yields DefaultConfig.
func Load(filename string, logger *log.Logger) (*Config, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		logger.Debug("Config file not found, using defaults", "file", filename)
		return DefaultConfig(), nil
	}

	parser := hclparse.NewParser()
	f, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}
	return decode(f.Body, logger)
}

// Parse decodes HCL source held in memory. filename is only used in
// diagnostics.
func Parse(src []byte, filename string, logger *log.Logger) (*Config, error) {
	parser := hclparse.NewParser()
	f, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL: %s", diags.Error())
	}
	return decode(f.Body, logger)
}

func decode(body hcl.Body, logger *log.Logger) (*Config, error) {
	var raw file
	if diags := gohcl.DecodeBody(body, nil, &raw); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	cfg := DefaultConfig()
	cfg.Game.Test = false

	if raw.Server != nil {
		cfg.Server = *raw.Server
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = DefaultAddress
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = DefaultLogLevel
	}

	if raw.Game != nil {
		g := raw.Game
		cfg.Game.ConnQty = g.ConnQty
		cfg.Game.SlotQty = g.SlotQty
		cfg.Game.Test = g.Test
		if g.Timeout != 0 {
			cfg.Game.Timeout = time.Duration(g.Timeout * float64(time.Second))
		}

		var err error
		if cfg.Game.SenderBlacklist, err = Blacklist(g.SenderBlacklist, logger.With("side", "sender")); err != nil {
			return nil, err
		}
		if cfg.Game.ReceiverBlacklist, err = Blacklist(g.ReceiverBlacklist, logger.With("side", "receiver")); err != nil {
			return nil, err
		}
	}
	if cfg.Game.ConnQty == 0 {
		cfg.Game.ConnQty = game.DefaultConnQty
	}
	if cfg.Game.SlotQty == 0 {
		cfg.Game.SlotQty = game.DefaultSlotQty
	}

	for _, block := range raw.Controllers {
		role := controller.Role(block.Role)
		if _, dup := cfg.Controllers[role]; dup {
			return nil, fmt.Errorf("%w: controller %q declared twice", ErrInvalidConfig, block.Role)
		}
		if block.Baud == 0 {
			block.Baud = DefaultBaud
		}
		cfg.Controllers[role] = controller.Target{Device: block.Device, Baud: block.Baud}
	}

	return cfg, nil
}

// Blacklist coerces an HCL expression into slot indices. Lists, tuples and
// sets are accepted; numeric strings are converted. Entries that are not
// whole numbers are dropped, and a value that is not a collection is ignored,
// each with a warning. A missing attribute yields nil.
func Blacklist(expr hcl.Expression, logger *log.Logger) ([]int, error) {
	if expr == nil {
		return nil, nil
	}
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, fmt.Errorf("blacklist: %s", diags.Error())
	}
	if val.IsNull() || !val.IsWhollyKnown() {
		return nil, nil
	}

	ty := val.Type()
	if !ty.IsListType() && !ty.IsTupleType() && !ty.IsSetType() {
		logger.Warn("Blacklist is not a list, ignoring it", "type", ty.FriendlyName())
		return nil, nil
	}

	out := []int{}
	for it := val.ElementIterator(); it.Next(); {
		_, elem := it.Element()
		n, err := slotIndex(elem)
		if err != nil {
			logger.Warn("Dropped blacklist entry", "entry", describe(elem), "error", err)
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func slotIndex(v cty.Value) (int, error) {
	if v.IsNull() {
		return 0, errors.New("null entry")
	}
	num, err := convert.Convert(v, cty.Number)
	if err != nil {
		return 0, err
	}
	var n int
	if err := gocty.FromCtyValue(num, &n); err != nil {
		return 0, err
	}
	return n, nil
}

func describe(v cty.Value) string {
	switch {
	case v.IsNull():
		return "null"
	case v.Type() == cty.String:
		return strconv.Quote(v.AsString())
	case v.Type() == cty.Number:
		f, _ := v.AsBigFloat().Float64()
		if f == math.Trunc(f) {
			return strconv.FormatInt(int64(f), 10)
		}
		return strconv.FormatFloat(f, 'f', -1, 64)
	default:
		return v.Type().FriendlyName()
	}
}

// Validate checks values that cannot be repaired at game time.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: invalid port %d", ErrInvalidConfig, c.Server.Port)
	}
	if _, err := log.ParseLevel(c.Server.LogLevel); err != nil {
		return fmt.Errorf("%w: invalid log level %q", ErrInvalidConfig, c.Server.LogLevel)
	}

	if c.Game.ConnQty < 0 {
		return fmt.Errorf("%w: conn_qty must not be negative", ErrInvalidConfig)
	}
	if c.Game.SlotQty < 0 {
		return fmt.Errorf("%w: slot_qty must not be negative", ErrInvalidConfig)
	}
	if c.Game.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative", ErrInvalidConfig)
	}

	for role, target := range c.Controllers {
		if role != controller.RoleSender && role != controller.RoleReceiver {
			return fmt.Errorf("%w: unknown controller role %q", ErrInvalidConfig, role)
		}
		if strings.TrimSpace(target.Device) == "" {
			return fmt.Errorf("%w: controller %s has no device", ErrInvalidConfig, role)
		}
	}

	if !c.Game.Test {
		for _, role := range []controller.Role{controller.RoleSender, controller.RoleReceiver} {
			if _, ok := c.Controllers[role]; !ok {
				return fmt.Errorf("%w: controller %s is required unless test mode is on", ErrInvalidConfig, role)
			}
		}
	}
	return nil
}

// ListenAddress returns the host:port the server binds.
func (c *Config) ListenAddress() string {
	return net.JoinHostPort(c.Server.Address, strconv.Itoa(c.Server.Port))
}

// GameConfig converts the game settings into a session configuration.
func (c *Config) GameConfig() game.Config {
	return game.Config{
		ConnQty:           c.Game.ConnQty,
		SlotQty:           c.Game.SlotQty,
		SenderBlacklist:   append([]int(nil), c.Game.SenderBlacklist...),
		ReceiverBlacklist: append([]int(nil), c.Game.ReceiverBlacklist...),
		Test:              c.Game.Test,
		Timeout:           c.Game.Timeout,
	}
}

// Targets returns a copy of the controller targets keyed by role.
func (c *Config) Targets() map[controller.Role]controller.Target {
	out := make(map[controller.Role]controller.Target, len(c.Controllers))
	for role, target := range c.Controllers {
		out[role] = target
	}
	return out
}
