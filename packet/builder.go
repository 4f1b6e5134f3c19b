// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024-present the sonde authors.

package packet

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/probelab/sonde/checksum"
)

// Loopback link-type words, as written in pcap loopback framing.
const (
	loopbackTypeIPv4 = 2
	loopbackTypeIPv6 = 30
)

// EtherType values for the Ethernet header.
const (
	etherTypeIPv4 = 0x0800
	etherTypeIPv6 = 0x86DD
)

// ICMP/ICMPv6 message types used by the builder.
const (
	icmpEchoRequest   = 8
	icmpv6EchoRequest = 128
)

// InitLoopback writes the 4-byte loopback link header.
func InitLoopback(b *Buffer, isV4 bool) {
	word := uint32(loopbackTypeIPv6)
	if isV4 {
		word = loopbackTypeIPv4
	}
	// the DLT_NULL link-type word is in host byte order
	binary.NativeEndian.PutUint32(b.L2(), word)
}

// InitEthernet writes an Ethernet II header with the given MAC addresses.
func InitEthernet(b *Buffer, isV4 bool, srcAddr, dstAddr [6]byte) {
	l2 := b.L2()
	copy(l2[0:6], dstAddr[:])
	copy(l2[6:12], srcAddr[:])
	etherType := uint16(etherTypeIPv6)
	if isV4 {
		etherType = etherTypeIPv4
	}
	binary.BigEndian.PutUint16(l2[12:14], etherType)
}

// InitIPv4 fills the IPv4 header. The IP ID field carries the TTL so that
// the TTL can be recovered from the quoted header even when the quoted L4
// bytes are truncated.
func InitIPv4(b *Buffer, protocol L4Protocol, src, dst netip.Addr, ttl uint8) {
	h := b.L3Header()
	h[0] = 0x45 // version 4, header length 5 words
	h[1] = 0    // ToS
	binary.BigEndian.PutUint16(h[2:4], uint16(b.L3Size()))
	binary.BigEndian.PutUint16(h[4:6], uint16(ttl)) // IP ID
	binary.BigEndian.PutUint16(h[6:8], 0)           // flags, fragment offset
	h[8] = ttl
	h[9] = protocol.IPNumber()
	binary.BigEndian.PutUint16(h[10:12], 0)
	s, d := src.As4(), dst.As4()
	copy(h[12:16], s[:])
	copy(h[16:20], d[:])
	binary.BigEndian.PutUint16(h[10:12], checksum.IPv4Header(h))
}

// InitIPv6 fills the IPv6 header. The TTL cannot ride in the flow label
// (load balancers hash it), so receivers reconstruct it from the payload
// length instead; see PayloadSizeForTTL.
func InitIPv6(b *Buffer, protocol L4Protocol, src, dst netip.Addr, ttl uint8) {
	h := b.L3Header()
	binary.BigEndian.PutUint32(h[0:4], 0x60000000) // version 6, TC 0, flow label 0
	binary.BigEndian.PutUint16(h[4:6], uint16(b.L4Size()))
	h[6] = protocol.IPNumber()
	h[7] = ttl
	s, d := src.As16(), dst.As16()
	copy(h[8:24], s[:])
	copy(h[24:40], d[:])
}

// PayloadSizeForTTL returns the payload size that encodes ttl into the IPv6
// payload length field, keeping room for the checksum tweak word.
func PayloadSizeForTTL(ttl uint8) int {
	return int(ttl) + PayloadTweakBytes - 1
}

// TTLFromPayloadLength recovers the TTL encoded by PayloadSizeForTTL from a
// quoted IPv6 payload length.
func TTLFromPayloadLength(payloadLength uint16) uint8 {
	base := uint16(l4HeaderSize + PayloadTweakBytes - 1)
	if payloadLength <= base {
		return 0
	}
	ttl := payloadLength - base
	if ttl > 255 {
		return 0
	}
	return uint8(ttl)
}

func assertPayloadSize(b *Buffer, minSize int) error {
	if b.PayloadSize() < minSize {
		return &InvalidArgumentError{
			Message: fmt.Sprintf("the payload must be at least %d bytes long to allow for a custom checksum", minSize),
		}
	}
	return nil
}

// TransportChecksum computes the L4 checksum of the buffer as currently laid
// out: pseudo header (for IPv4/UDP and all of IPv6), transport header and
// payload.
func TransportChecksum(b *Buffer) uint16 {
	var partial uint32
	h := b.L3Header()
	l4Len := uint16(b.L4Size())

	switch b.L3Protocol() {
	case L3IPv4:
		if b.L4Protocol() != L4ICMP {
			src, _ := netip.AddrFromSlice(h[12:16])
			dst, _ := netip.AddrFromSlice(h[16:20])
			partial = checksum.PseudoV4(src, dst, b.L4Protocol().IPNumber(), l4Len)
		}
	case L3IPv6:
		src, _ := netip.AddrFromSlice(h[8:24])
		dst, _ := netip.AddrFromSlice(h[24:40])
		partial = checksum.PseudoV6(src, dst, b.L4Protocol().IPNumber(), l4Len)
	}

	partial = checksum.Add(partial, b.L4())
	return checksum.Finish(partial)
}

// forceChecksum zeroes the L4 checksum field and the tweak word, computes
// the natural checksum and writes the compensator so the on-wire checksum
// equals target.
func forceChecksum(b *Buffer, checksumFieldOffset int, target uint16) {
	l4 := b.L4()
	binary.BigEndian.PutUint16(l4[checksumFieldOffset:checksumFieldOffset+2], 0)
	payload := b.Payload()
	binary.BigEndian.PutUint16(payload[0:2], 0)

	original := TransportChecksum(b)
	binary.BigEndian.PutUint16(payload[0:2], checksum.Tweak(original, target))
	binary.BigEndian.PutUint16(l4[checksumFieldOffset:checksumFieldOffset+2], target)
}

// InitICMP fills an ICMPv4 Echo Request whose checksum is forced to
// targetChecksum. The ICMP id carries the target checksum as a redundant
// identity channel and seq carries the caller value, typically the TTL.
func InitICMP(b *Buffer, targetChecksum, targetSeq uint16) error {
	if err := assertPayloadSize(b, PayloadTweakBytes); err != nil {
		return err
	}

	l4 := b.L4()
	l4[0] = icmpEchoRequest
	l4[1] = 0
	binary.BigEndian.PutUint16(l4[4:6], targetChecksum)
	binary.BigEndian.PutUint16(l4[6:8], targetSeq)

	forceChecksum(b, 2, targetChecksum)
	return nil
}

// InitICMPv6 fills an ICMPv6 Echo Request whose checksum is forced to
// targetChecksum. Unlike ICMPv4 the checksum covers the IPv6 pseudo header,
// so the IPv6 header must be initialized first.
func InitICMPv6(b *Buffer, targetChecksum, targetSeq uint16) error {
	if err := assertPayloadSize(b, PayloadTweakBytes); err != nil {
		return err
	}

	l4 := b.L4()
	l4[0] = icmpv6EchoRequest
	l4[1] = 0
	binary.BigEndian.PutUint16(l4[4:6], targetChecksum)
	binary.BigEndian.PutUint16(l4[6:8], targetSeq)

	forceChecksum(b, 2, targetChecksum)
	return nil
}

// SetUDPPorts writes the UDP source and destination ports.
func SetUDPPorts(b *Buffer, srcPort, dstPort uint16) {
	l4 := b.L4()
	binary.BigEndian.PutUint16(l4[0:2], srcPort)
	binary.BigEndian.PutUint16(l4[2:4], dstPort)
}

// SetUDPLength writes the UDP length field from the buffer layout.
func SetUDPLength(b *Buffer) {
	binary.BigEndian.PutUint16(b.L4()[4:6], uint16(b.L4Size()))
}

// SetUDPChecksum forces the UDP checksum to targetChecksum. A target of zero
// is refused: on the wire it would mean "no checksum" for UDP over IPv4 and
// the identity encoding would be lost.
func SetUDPChecksum(b *Buffer, targetChecksum uint16) error {
	if err := assertPayloadSize(b, PayloadTweakBytes); err != nil {
		return err
	}
	if targetChecksum == 0 {
		return &InvalidArgumentError{Message: "UDP checksum target of zero means no checksum on the wire"}
	}

	forceChecksum(b, 6, targetChecksum)
	return nil
}
