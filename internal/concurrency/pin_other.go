//go:build !linux
// +build !linux

// hioload-mem/internal/concurrency/pin_other.go
// Author: momentics <momentics@gmail.com>

package concurrency

import "github.com/momentics/hioload-mem/api"

// PinCurrentThread is only implemented on Linux.
func PinCurrentThread(cpu int) (restore func(), err error) {
	return nil, api.ErrNotSupported
}
