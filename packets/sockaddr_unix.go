// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024-present the sonde authors.

//go:build linux || darwin

package packets

import (
	"errors"
	"net/netip"

	"golang.org/x/sys/unix"
)

func getSockAddr(addr netip.Addr) (unix.Sockaddr, error) {
	switch {
	case addr.Unmap().Is4():
		var sa4 unix.SockaddrInet4
		b := addr.Unmap().As4()
		copy(sa4.Addr[:], b[:])
		return &sa4, nil
	case addr.Is6():
		var sa6 unix.SockaddrInet6
		b := addr.As16()
		copy(sa6.Addr[:], b[:])
		return &sa6, nil
	default:
		return nil, errors.New("invalid IP address")
	}
}
