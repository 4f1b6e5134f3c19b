// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024-present the sonde authors.

// Package checksum implements the one's-complement checksum arithmetic used
// by IPv4, ICMP, ICMPv6 and UDP. Sums are accumulated over big-endian 16-bit
// words, so a finished checksum can be written to the wire with
// binary.BigEndian.PutUint16 as-is.
package checksum

import (
	"encoding/binary"
	"net/netip"
)

// Add accumulates the bytes of b into the partial sum. An odd trailing byte
// is padded with a zero on the right, per RFC 1071.
func Add(partial uint32, b []byte) uint32 {
	for len(b) >= 2 {
		partial += uint32(binary.BigEndian.Uint16(b))
		b = b[2:]
	}
	if len(b) == 1 {
		partial += uint32(b[0]) << 8
	}
	return partial
}

// Finish folds the carries of the partial sum and returns its one's
// complement. The result is never substituted: a sum that folds to 0xFFFF is
// returned as 0x0000 complemented, exactly as computed.
func Finish(partial uint32) uint16 {
	for partial > 0xFFFF {
		partial = (partial & 0xFFFF) + (partial >> 16)
	}
	return ^uint16(partial)
}

// IPv4Header computes the header checksum over an IPv4 header whose checksum
// field is zeroed.
func IPv4Header(header []byte) uint16 {
	return Finish(Add(0, header))
}

// PseudoV4 returns the partial sum of the IPv4 pseudo header:
// source address, destination address, protocol and L4 length.
func PseudoV4(src, dst netip.Addr, protocol uint8, l4Length uint16) uint32 {
	var sum uint32
	s, d := src.As4(), dst.As4()
	sum = Add(sum, s[:])
	sum = Add(sum, d[:])
	sum += uint32(protocol)
	sum += uint32(l4Length)
	return sum
}

// PseudoV6 returns the partial sum of the IPv6 pseudo header per RFC 8200.
func PseudoV6(src, dst netip.Addr, nextHeader uint8, l4Length uint16) uint32 {
	var sum uint32
	s, d := src.As16(), dst.As16()
	sum = Add(sum, s[:])
	sum = Add(sum, d[:])
	sum += uint32(l4Length)
	sum += uint32(nextHeader)
	return sum
}

// Tweak returns the 16-bit compensator word to write at the start of the
// payload so that re-summing the packet yields exactly target instead of
// original. Both checksums and the returned word are big-endian wire values.
func Tweak(original, target uint16) uint16 {
	originalLE := uint32(^original) & 0xFFFF
	targetLE := uint32(^target) & 0xFFFF
	if targetLE < originalLE {
		targetLE += 0xFFFF
	}
	return uint16(targetLE - originalLE)
}
