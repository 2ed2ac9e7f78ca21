//go:build !linux && !darwin && !freebsd

package pty

// Spawn is not available off POSIX hosts: there is no portable process
// group or window-size ioctl to build sessions on.
func Spawn(opts Options) (Process, error) {
	return nil, ErrUnsupported
}
