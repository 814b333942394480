package controller

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
)

// Dialer opens the byte stream to a controller.
type Dialer func(ctx context.Context) (io.ReadWriteCloser, error)

const tcpScheme = "tcp://"

// OpenDialer returns a Dialer for target. Targets of the form tcp://host:port
// reach a serial-to-network bridge; anything else is a serial device path
// opened at baud.
func OpenDialer(target string, baud int) (Dialer, error) {
	switch {
	case target == "":
		return nil, fmt.Errorf("controller target is empty")
	case strings.HasPrefix(target, tcpScheme):
		addr := strings.TrimPrefix(target, tcpScheme)
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return nil, fmt.Errorf("invalid controller address %q: %w", target, err)
		}
		return func(ctx context.Context) (io.ReadWriteCloser, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		}, nil
	default:
		return func(ctx context.Context) (io.ReadWriteCloser, error) {
			return openSerial(target, baud)
		}, nil
	}
}
