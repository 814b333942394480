// Package controller defines the capability the game needs from the
// hardware on each side of the board, along with a line-protocol device
// implementation and an in-memory simulation.
package controller

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Role identifies which side of the board a controller drives.
type Role string

const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
)

// String returns the string representation of the role
func (r Role) String() string {
	return string(r)
}

// Command strings understood by the controller firmware.
const (
	CommandRestart = "$restart:1;"
	CommandStatus  = "$status:1;"
	CommandHealth  = "$hc:1;"
)

// ErrorReply is the sentinel reply a controller sends when it could not
// answer a query.
const ErrorReply = "Err"

// healthReply is the reply to CommandHealth from a healthy controller.
const healthReply = "OK"

// Health is the cached result of the last health check.
type Health string

const (
	HealthUnknown      Health = "unknown"
	HealthOK           Health = "ok"
	HealthError        Health = "error"
	HealthDisconnected Health = "disconnected"
)

// ErrNotConnected is returned by I/O on a handle whose transport is down.
var ErrNotConnected = errors.New("controller not connected")

// Handle is a controller as seen by a game session.
type Handle interface {
	// Start brings the controller up, reconnecting if it was already up.
	Start(ctx context.Context) error
	// HealthCheck probes the controller and caches the result.
	HealthCheck(ctx context.Context) Health
	// Send writes a command without waiting for a reply.
	Send(ctx context.Context, command string) error
	// Receive writes a query and returns the controller's reply.
	Receive(ctx context.Context, query string) (string, error)
	// Close releases the underlying connection.
	Close() error
}

// Factory builds the handle for one side of a session.
type Factory func(role Role, connQty int, positions []int) Handle

// SetupCommand tells a controller which slots its connections were assigned.
func SetupCommand(connQty int, positions []int) string {
	parts := make([]string, len(positions))
	for i, p := range positions {
		parts[i] = strconv.Itoa(p)
	}
	return fmt.Sprintf("$setup:%d:%s;", connQty, strings.Join(parts, ","))
}
