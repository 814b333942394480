package config

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/toninas/internal/controller"
	"github.com/lox/toninas/internal/game"
)

func testLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}

const fullConfig = `
server {
  address   = "0.0.0.0"
  port      = 9090
  log_level = "debug"
}

game {
  conn_qty           = 6
  slot_qty           = 24
  timeout            = 12.5
  sender_blacklist   = [0, 1, "2"]
  receiver_blacklist = []
}

controller "sender" {
  device = "/dev/ttyACM0"
}

controller "receiver" {
  device = "tcp://10.0.0.5:4001"
  baud   = 115200
}
`

func TestParseFullConfig(t *testing.T) {
	cfg, err := Parse([]byte(fullConfig), "toninas.hcl", testLogger())
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "0.0.0.0:9090", cfg.ListenAddress())
	assert.Equal(t, "debug", cfg.Server.LogLevel)

	assert.Equal(t, 6, cfg.Game.ConnQty)
	assert.Equal(t, 24, cfg.Game.SlotQty)
	assert.Equal(t, 12500*time.Millisecond, cfg.Game.Timeout)
	assert.False(t, cfg.Game.Test)
	assert.Equal(t, []int{0, 1, 2}, cfg.Game.SenderBlacklist)
	assert.Empty(t, cfg.Game.ReceiverBlacklist)

	assert.Equal(t, map[controller.Role]controller.Target{
		controller.RoleSender:   {Device: "/dev/ttyACM0", Baud: DefaultBaud},
		controller.RoleReceiver: {Device: "tcp://10.0.0.5:4001", Baud: 115200},
	}, cfg.Targets())

	assert.Equal(t, game.Config{
		ConnQty:         6,
		SlotQty:         24,
		SenderBlacklist: []int{0, 1, 2},
		Timeout:         12500 * time.Millisecond,
	}, cfg.GameConfig())
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`game { test = true }`), "min.hcl", testLogger())
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultAddress, cfg.Server.Address)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, DefaultLogLevel, cfg.Server.LogLevel)
	assert.Equal(t, game.DefaultConnQty, cfg.Game.ConnQty)
	assert.Equal(t, game.DefaultSlotQty, cfg.Game.SlotQty)
	assert.Equal(t, game.DefaultTimeout, cfg.Game.Timeout)
	assert.Nil(t, cfg.Game.SenderBlacklist)
	assert.Empty(t, cfg.Targets())
}

func TestLoad(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.hcl"), testLogger())
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
		assert.True(t, cfg.Game.Test)
		require.NoError(t, cfg.Validate())
	})

	t.Run("file on disk", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "toninas.hcl")
		require.NoError(t, os.WriteFile(path, []byte(fullConfig), 0o600))

		cfg, err := Load(path, testLogger())
		require.NoError(t, err)
		assert.Equal(t, 9090, cfg.Server.Port)
	})

	t.Run("syntax error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "broken.hcl")
		require.NoError(t, os.WriteFile(path, []byte(`game {`), 0o600))

		_, err := Load(path, testLogger())
		assert.ErrorContains(t, err, "failed to parse HCL file")
	})
}

func TestParseRejectsDuplicateController(t *testing.T) {
	src := `
controller "sender" { device = "/dev/a" }
controller "sender" { device = "/dev/b" }
`
	_, err := Parse([]byte(src), "dup.hcl", testLogger())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestParseRejectsUnknownAttribute(t *testing.T) {
	_, err := Parse([]byte(`game { players = 3 }`), "bad.hcl", testLogger())
	assert.ErrorContains(t, err, "failed to decode HCL")
}

func TestBlacklist(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []int
	}{
		{"numbers", `[3, 4]`, []int{3, 4}},
		{"numeric strings", `["3", "10"]`, []int{3, 10}},
		{"mixed junk dropped", `[1, "x", 2.5, true, null, 7]`, []int{1, 7}},
		{"negative kept for the session to reject", `[-1, 2]`, []int{-1, 2}},
		{"empty", `[]`, []int{}},
		{"not a list", `"0,1"`, nil},
		{"number alone", `5`, nil},
		{"object", `{ a = 1 }`, nil},
		{"null", `null`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, diags := hclsyntax.ParseExpression([]byte(tt.src), "test.hcl", hcl.InitialPos)
			require.False(t, diags.HasErrors(), diags.Error())

			got, err := Blacklist(expr, testLogger())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("nil expression", func(t *testing.T) {
		got, err := Blacklist(nil, testLogger())
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("unresolvable reference", func(t *testing.T) {
		expr, diags := hclsyntax.ParseExpression([]byte(`var.slots`), "test.hcl", hcl.InitialPos)
		require.False(t, diags.HasErrors())

		_, err := Blacklist(expr, testLogger())
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }},
		{"log level", func(c *Config) { c.Server.LogLevel = "loud" }},
		{"negative conn_qty", func(c *Config) { c.Game.ConnQty = -1 }},
		{"negative slot_qty", func(c *Config) { c.Game.SlotQty = -1 }},
		{"negative timeout", func(c *Config) { c.Game.Timeout = -time.Second }},
		{"unknown role", func(c *Config) {
			c.Controllers["observer"] = controller.Target{Device: "/dev/null"}
		}},
		{"empty device", func(c *Config) {
			c.Controllers[controller.RoleSender] = controller.Target{Device: "  "}
		}},
		{"hardware mode without controllers", func(c *Config) { c.Game.Test = false }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	require.NoError(t, DefaultConfig().Validate())
}

func TestGameConfigCopiesBlacklists(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Game.SenderBlacklist = []int{1, 2}

	gc := cfg.GameConfig()
	gc.SenderBlacklist[0] = 30
	assert.Equal(t, []int{1, 2}, cfg.Game.SenderBlacklist)
}
