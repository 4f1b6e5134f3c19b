// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024-present the sonde authors.

//go:build linux

package packets

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"

	"github.com/probelab/sonde/packet"
)

// sourceLinux captures frames from an AF_PACKET socket bound to one
// interface. Reads are bounded by SO_RCVTIMEO so Close and deadline changes
// take effect within one timeout tick.
type sourceLinux struct {
	fd int

	mu       sync.Mutex
	deadline time.Time
	closed   bool
}

var _ Source = &sourceLinux{}

func htons(x uint16) uint16 {
	return x<<8 | x>>8
}

// NewSource opens an AF_PACKET capture socket on the named interface with
// the classic BPF program for filterType attached.
func NewSource(ifaceName string, filterType FilterType) (Source, error) {
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, fmt.Errorf("failed to find interface %q: %w", ifaceName, err)
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, &SystemError{Op: "socket(AF_PACKET)", Err: err}
	}

	// attach a drop-all program first so no unfiltered packets queue up
	// between socket creation and the real filter
	if err := attachFilter(fd, dropAllFilter); err != nil {
		unix.Close(fd)
		return nil, err
	}

	sa := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  iface.Index,
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, &SystemError{Op: "bind", Err: err}
	}

	// drain anything captured before the bind, then swap in the real filter
	drain(fd)
	filter, err := getClassicBPFFilter(filterType)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	if filter != nil {
		if err := attachFilter(fd, filter); err != nil {
			unix.Close(fd)
			return nil, err
		}
	}

	return &sourceLinux{fd: fd}, nil
}

func attachFilter(fd int, filter []bpf.RawInstruction) error {
	insns := make([]unix.SockFilter, len(filter))
	for i, ins := range filter {
		insns[i] = unix.SockFilter{
			Code: ins.Op,
			Jt:   ins.Jt,
			Jf:   ins.Jf,
			K:    ins.K,
		}
	}
	prog := unix.SockFprog{
		Len:    uint16(len(insns)),
		Filter: &insns[0],
	}
	if err := unix.SetsockoptSockFprog(fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, &prog); err != nil {
		return &SystemError{Op: "setsockopt(SO_ATTACH_FILTER)", Err: err}
	}
	return nil
}

func drain(fd int) {
	var buf [packet.BufferSize]byte
	for {
		_, _, err := unix.Recvfrom(fd, buf[:], unix.MSG_DONTWAIT)
		if err != nil {
			return
		}
	}
}

// Read fills buf with the next captured frame.
func (s *sourceLinux) Read(buf []byte) (int, error) {
	s.mu.Lock()
	deadline := s.deadline
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0, os.ErrClosed
	}

	timeout := getReadTimeout(deadline)
	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(s.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return 0, &SystemError{Op: "setsockopt(SO_RCVTIMEO)", Err: err}
	}

	n, _, err := unix.Recvfrom(s.fd, buf, 0)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
		return 0, os.ErrDeadlineExceeded
	}
	if err != nil {
		return 0, &SystemError{Op: "recvfrom", Err: err}
	}
	return n, nil
}

// SetReadDeadline bounds subsequent Read calls.
func (s *sourceLinux) SetReadDeadline(deadline time.Time) error {
	s.mu.Lock()
	s.deadline = deadline
	s.mu.Unlock()
	return nil
}

// LinkType reports that AF_PACKET delivers Ethernet frames.
func (s *sourceLinux) LinkType() packet.LinkLayer {
	return packet.LinkEthernet
}

// Close closes the capture socket.
func (s *sourceLinux) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return unix.Close(s.fd)
}
