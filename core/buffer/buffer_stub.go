//go:build !linux
// +build !linux

// File: core/buffer/buffer_stub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package buffer

import "github.com/momentics/hioload-mem/api"

// ReadFd needs readv(2); it is only available on Linux.
func (b *Buffer) ReadFd(fd int) (int, error) {
	return 0, api.ErrNotSupported
}

func (b *Buffer) WriteFd(fd int) (int, error) {
	return 0, api.ErrNotSupported
}
