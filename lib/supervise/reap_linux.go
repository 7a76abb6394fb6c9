// Copyright 2026 The Netns Tools Authors
// SPDX-License-Identifier: Apache-2.0

package supervise

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/zackw/openvpn-netns-tools/lib/errdefs"
)

// waitidSiginfo mirrors the fields of siginfo_t that waitid fills in
// on 64-bit Linux: three int32 header words, four bytes of alignment
// padding, then si_pid, si_uid, and si_status at the head of the
// union. x/sys/unix exposes the union as opaque bytes, so the layout
// is spelled out here.
type waitidSiginfo struct {
	Signo  int32
	Errno  int32
	Code   int32
	_      int32
	Pid    int32
	Uid    uint32
	Status int32
	_      [100]byte
}

// PollNextChild is the non-destructive reap query: it names one child
// that has exited without consuming its exit status (WNOWAIT), so the
// component holding that child's handle can still collect it. ok is
// false when no child is currently reapable; having no children at all
// is not an error.
func PollNextChild() (pid int, ok bool, err error) {
	var info waitidSiginfo
	_, _, errno := unix.Syscall6(unix.SYS_WAITID,
		unix.P_ALL, 0,
		uintptr(unsafe.Pointer(&info)),
		unix.WEXITED|unix.WNOHANG|unix.WNOWAIT,
		0, 0)
	if errno != 0 {
		if errno == unix.ECHILD {
			return 0, false, nil
		}
		return 0, false, errdefs.Sys("waitid", errno)
	}
	// With WNOHANG and nothing reapable, waitid succeeds with si_pid
	// left zero.
	if info.Pid == 0 {
		return 0, false, nil
	}
	return int(info.Pid), true, nil
}
