// Copyright 2026 The Netns Tools Authors
// SPDX-License-Identifier: Apache-2.0

package supervise

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/zackw/openvpn-netns-tools/lib/errdefs"
)

// pipeSource reads signal identities, one byte per occurrence, from
// the read end of a pipe in non-blocking mode. It is the common half
// of the self-pipe technique: the relay goroutine (or a test) owns the
// write end.
type pipeSource struct {
	rd *os.File
	wr *os.File
}

func newPipeSource() (*pipeSource, error) {
	rd, wr, err := os.Pipe()
	if err != nil {
		return nil, errdefs.Sys("pipe", err)
	}
	if err := unix.SetNonblock(int(rd.Fd()), true); err != nil {
		rd.Close()
		wr.Close()
		return nil, errdefs.Sys("set signal pipe non-blocking", err)
	}
	return &pipeSource{rd: rd, wr: wr}, nil
}

func (s *pipeSource) FD() int { return int(s.rd.Fd()) }

func (s *pipeSource) Next() (unix.Signal, bool, error) {
	var buf [1]byte
	n, err := unix.Read(s.FD(), buf[:])
	switch {
	case err == unix.EAGAIN:
		return 0, false, nil
	case err != nil:
		return 0, false, errdefs.Sys("read signal pipe", err)
	case n == 0:
		return 0, false, nil
	default:
		return unix.Signal(buf[0]), true, nil
	}
}

func (s *pipeSource) Close() error {
	werr := s.wr.Close()
	rerr := s.rd.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// emit writes one signal occurrence into the pipe. Signal numbers are
// known a priori to be small, so the low 8 bits suffice.
func (s *pipeSource) emit(sig unix.Signal) error {
	if sig <= 0 || sig > 0xff {
		return errors.New("signal number out of range for self-pipe encoding")
	}
	_, err := s.wr.Write([]byte{byte(sig)})
	return err
}

// relaySource is a pipeSource fed by a background goroutine that waits
// for signal deliveries and forwards each one as one byte. Subscribing
// through the runtime is what makes delivery reliable: it is the only
// path that observes a process-directed signal no matter which thread
// the kernel picks.
type relaySource struct {
	*pipeSource
	ch chan os.Signal
}

// newRelaySource subscribes to sigs and starts the relay goroutine.
// There is no way to tell the goroutine to exit — it spends its life
// blocked waiting for signals — so Close simply unsubscribes and lets
// it drain.
func newRelaySource(sigs []unix.Signal) (*relaySource, error) {
	ps, err := newPipeSource()
	if err != nil {
		return nil, err
	}

	notify := make([]os.Signal, len(sigs))
	for i, sig := range sigs {
		notify[i] = syscall.Signal(sig)
	}

	// Buffer deep enough that a burst of signals does not force the
	// runtime to drop any while the relay is mid-write.
	ch := make(chan os.Signal, 128)
	signal.Notify(ch, notify...)

	go func() {
		for received := range ch {
			sig, ok := received.(syscall.Signal)
			if !ok {
				continue
			}
			if err := ps.emit(unix.Signal(sig)); err != nil {
				return // pipe gone: supervisor is shutting down
			}
		}
	}()

	return &relaySource{pipeSource: ps, ch: ch}, nil
}

func (s *relaySource) Close() error {
	signal.Stop(s.ch)
	return s.pipeSource.Close()
}
