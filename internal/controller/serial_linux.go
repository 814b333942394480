//go:build linux

package controller

import (
	"fmt"

	"golang.org/x/sys/unix"
)

var baudRates = map[int]uint32{
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
}

func setBaud(fd, baud int) error {
	if baud == 0 {
		return nil
	}
	rate, ok := baudRates[baud]
	if !ok {
		return fmt.Errorf("unsupported baud rate %d", baud)
	}

	tio, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}
	tio.Cflag &^= unix.CBAUD
	tio.Cflag |= rate
	tio.Ispeed = rate
	tio.Ospeed = rate
	return unix.IoctlSetTermios(fd, unix.TCSETS, tio)
}
