// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024-present the sonde authors.

//go:build linux

package packets

import (
	"errors"
	"net/netip"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// sinkLinux transmits raw IP datagrams through an AF_INET/AF_INET6 raw
// socket with the header-include option set, so the caller supplies the
// complete IP header.
type sinkLinux struct {
	sock    *os.File
	rawConn syscall.RawConn
}

var _ Sink = &sinkLinux{}

// NewSink opens a raw sink for the address family of addr.
func NewSink(addr netip.Addr) (Sink, error) {
	var domain, protocol, hdrincl int
	switch {
	case addr.Unmap().Is4():
		domain = unix.AF_INET
		protocol = unix.IPPROTO_IP
		hdrincl = unix.IP_HDRINCL
	case addr.Is6():
		domain = unix.AF_INET6
		protocol = unix.IPPROTO_IPV6
		hdrincl = unix.IPV6_HDRINCL
	default:
		return nil, &SystemError{Op: "socket", Err: errors.New("address is neither IPv4 nor IPv6")}
	}

	fd, err := unix.Socket(domain, unix.SOCK_RAW|unix.SOCK_NONBLOCK, unix.IPPROTO_RAW)
	if err != nil {
		return nil, &SystemError{Op: "socket", Err: err}
	}

	if err := unix.SetsockoptInt(fd, protocol, hdrincl, 1); err != nil {
		unix.Close(fd)
		return nil, &SystemError{Op: "setsockopt(HDRINCL)", Err: err}
	}

	sock := os.NewFile(uintptr(fd), "")
	rawConn, err := sock.SyscallConn()
	if err != nil {
		sock.Close()
		return nil, &SystemError{Op: "rawconn", Err: err}
	}

	return &sinkLinux{
		sock:    sock,
		rawConn: rawConn,
	}, nil
}

// WriteTo writes the given packet (buffer starts at the IP header) to addr.
func (p *sinkLinux) WriteTo(buf []byte, addr netip.AddrPort) error {
	sa, err := getSockAddr(addr.Addr())
	if err != nil {
		return err
	}

	writeErr := p.rawConn.Write(func(fd uintptr) bool {
		err = unix.Sendto(int(fd), buf, 0, sa)
		if err == nil {
			return true
		}

		return !(err == syscall.EAGAIN || err == syscall.EWOULDBLOCK)
	})

	if err := errors.Join(writeErr, err); err != nil {
		return &SystemError{Op: "sendto", Err: err}
	}
	return nil
}

// Close closes the socket
func (p *sinkLinux) Close() error {
	return p.sock.Close()
}
