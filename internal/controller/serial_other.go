//go:build !linux

package controller

// setBaud leaves the rate at the driver default outside linux.
func setBaud(fd, baud int) error {
	return nil
}
