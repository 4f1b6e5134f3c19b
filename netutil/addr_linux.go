// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024-present the sonde authors.

//go:build linux

package netutil

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/vishvananda/netlink"
)

// SourceAddrs returns the preferred IPv4 and IPv6 source addresses of the
// named interface, queried through netlink. A family without a usable
// address yields an invalid netip.Addr for that slot. On netlink failure it
// falls back to the net package interface listing.
func SourceAddrs(ifaceName string) (v4, v6 netip.Addr, err error) {
	link, err := netlink.LinkByName(ifaceName)
	if err != nil {
		return sourceAddrsFallback(ifaceName)
	}

	addrs4, err4 := netlink.AddrList(link, netlink.FAMILY_V4)
	addrs6, err6 := netlink.AddrList(link, netlink.FAMILY_V6)
	if err4 != nil && err6 != nil {
		return sourceAddrsFallback(ifaceName)
	}

	for _, a := range addrs4 {
		if addr, ok := netip.AddrFromSlice(a.IP.To4()); ok {
			v4 = addr
			break
		}
	}
	for _, a := range addrs6 {
		addr, ok := netip.AddrFromSlice(a.IP.To16())
		if !ok || addr.Is4In6() || addr.IsLinkLocalUnicast() {
			continue
		}
		v6 = addr
		break
	}
	return v4, v6, nil
}

// sourceAddrsFallback lists addresses through the net package when netlink
// is unavailable.
func sourceAddrsFallback(ifaceName string) (v4, v6 netip.Addr, err error) {
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return v4, v6, fmt.Errorf("failed to find interface %q: %w", ifaceName, err)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return v4, v6, fmt.Errorf("failed to list addresses of %q: %w", ifaceName, err)
	}

	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			if !v4.IsValid() {
				v4, _ = netip.AddrFromSlice(ip4)
			}
			continue
		}
		addr, ok := netip.AddrFromSlice(ipNet.IP.To16())
		if !ok || addr.IsLinkLocalUnicast() {
			continue
		}
		if !v6.IsValid() {
			v6 = addr
		}
	}
	return v4, v6, nil
}
