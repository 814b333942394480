package controller

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/term"
)

// openSerial opens a tty, switches it to raw mode and applies the baud rate.
// The descriptor is only touched through SyscallConn so the file stays in
// non-blocking mode and keeps supporting deadlines.
func openSerial(path string, baud int) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|syscall.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	rc, err := f.SyscallConn()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	var cfgErr error
	if err := rc.Control(func(fd uintptr) {
		cfgErr = configureTTY(int(fd), baud)
	}); err != nil {
		cfgErr = err
	}
	if cfgErr != nil {
		_ = f.Close()
		return nil, fmt.Errorf("configure %s: %w", path, cfgErr)
	}

	return f, nil
}

func configureTTY(fd, baud int) error {
	if !term.IsTerminal(fd) {
		return nil
	}
	if _, err := term.MakeRaw(fd); err != nil {
		return fmt.Errorf("raw mode: %w", err)
	}
	if err := setBaud(fd, baud); err != nil {
		return fmt.Errorf("baud: %w", err)
	}
	return nil
}
