package controller

import (
	"fmt"

	"github.com/charmbracelet/log"
)

// Target locates the hardware for one side.
type Target struct {
	Device string
	Baud   int
}

// DeviceFactory builds Device handles for the configured targets. The
// targets are checked up front so a typo fails at startup rather than on
// the first game.
func DeviceFactory(targets map[Role]Target, logger *log.Logger, opts ...DeviceOption) (Factory, error) {
	dialers := make(map[Role]Dialer, len(targets))
	for _, role := range []Role{RoleSender, RoleReceiver} {
		target, ok := targets[role]
		if !ok {
			return nil, fmt.Errorf("no controller configured for %s", role)
		}
		dial, err := OpenDialer(target.Device, target.Baud)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", role, err)
		}
		dialers[role] = dial
	}

	return func(role Role, connQty int, positions []int) Handle {
		return NewDevice(role, dialers[role], connQty, positions, logger, opts...)
	}, nil
}
