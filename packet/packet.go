// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024-present the sonde authors.

// Package packet provides a typed view over a contiguous wire buffer and the
// builders that assemble probe packets in it. Builders encode the probe
// identity into header fields that survive ICMP quoting: the L4 checksum is
// forced to a chosen value by writing a compensating word at the start of
// the payload.
package packet

import (
	"fmt"
)

// L3Protocol selects the active network layer of a buffer.
type L3Protocol uint8

const (
	// L3IPv4 is the IPv4 network layer
	L3IPv4 L3Protocol = iota
	// L3IPv6 is the IPv6 network layer
	L3IPv6
)

// L4Protocol selects the transport layer of a probe.
type L4Protocol uint8

const (
	// L4ICMP is ICMP for IPv4
	L4ICMP L4Protocol = iota
	// L4ICMPv6 is ICMPv6
	L4ICMPv6
	// L4UDP is UDP over either IP version
	L4UDP
)

// IPNumber returns the IANA protocol number.
func (p L4Protocol) IPNumber() uint8 {
	switch p {
	case L4ICMP:
		return 1
	case L4ICMPv6:
		return 58
	default:
		return 17
	}
}

func (p L4Protocol) String() string {
	switch p {
	case L4ICMP:
		return "icmp"
	case L4ICMPv6:
		return "icmp6"
	default:
		return "udp"
	}
}

// ParseL4Protocol converts a protocol name from the probe CSV format.
func ParseL4Protocol(s string) (L4Protocol, error) {
	switch s {
	case "icmp":
		return L4ICMP, nil
	case "icmp6":
		return L4ICMPv6, nil
	case "udp":
		return L4UDP, nil
	default:
		return 0, &InvalidArgumentError{Message: fmt.Sprintf("unknown L4 protocol %q", s)}
	}
}

// LinkLayer selects the L2 framing of a buffer.
type LinkLayer uint8

const (
	// LinkNone means the buffer starts at the IP header (raw L3 sockets)
	LinkNone LinkLayer = iota
	// LinkLoopback is the 4-byte BSD loopback header
	LinkLoopback
	// LinkEthernet is a 14-byte Ethernet II header
	LinkEthernet
)

func (l LinkLayer) headerSize() int {
	switch l {
	case LinkLoopback:
		return 4
	case LinkEthernet:
		return 14
	default:
		return 0
	}
}

const (
	// PayloadTweakBytes is the minimum payload size: two bytes are reserved
	// for the word that forces the L4 checksum to the target value.
	PayloadTweakBytes = 2

	// BufferSize is the capacity every packet buffer must have to hold any
	// IP datagram.
	BufferSize = 65535

	ipv4HeaderSize = 20
	ipv6HeaderSize = 40
	l4HeaderSize   = 8 // ICMP, ICMPv6 and UDP all have 8-byte headers
)

// InvalidArgumentError reports a request the builder cannot honor, such as a
// payload below the tweak minimum or a malformed CSV field.
type InvalidArgumentError struct {
	Message string
}

func (e *InvalidArgumentError) Error() string {
	return e.Message
}

// CapacityError reports that a packet does not fit the buffer bounds.
type CapacityError struct {
	Message string
}

func (e *CapacityError) Error() string {
	return e.Message
}

// Buffer is a typed cursor over a contiguous packet buffer. Offsets are
// monotonically increasing and the L4 end never exceeds the capacity.
// A Buffer is borrowed mutably by the builders and must not be shared
// across goroutines.
type Buffer struct {
	buf  []byte
	link LinkLayer
	l3p  L3Protocol
	l4p  L4Protocol

	l2, l3, l4, end int
}

// NewBuffer lays out a packet of the given shape in buf and returns the
// typed view. The region covered by the layout is zeroed.
func NewBuffer(buf []byte, link LinkLayer, l3p L3Protocol, l4p L4Protocol, payloadSize int) (*Buffer, error) {
	l3HeaderSize := ipv4HeaderSize
	if l3p == L3IPv6 {
		l3HeaderSize = ipv6HeaderSize
	}

	l2 := 0
	l3 := l2 + link.headerSize()
	l4 := l3 + l3HeaderSize
	end := l4 + l4HeaderSize + payloadSize

	if payloadSize < 0 {
		return nil, &InvalidArgumentError{Message: "negative payload size"}
	}
	if end > len(buf) {
		return nil, &CapacityError{
			Message: fmt.Sprintf("packet of %d bytes exceeds buffer capacity %d", end, len(buf)),
		}
	}

	clear(buf[:end])
	return &Buffer{
		buf:  buf,
		link: link,
		l3p:  l3p,
		l4p:  l4p,
		l2:   l2,
		l3:   l3,
		l4:   l4,
		end:  end,
	}, nil
}

// L3Protocol returns the active network layer protocol.
func (b *Buffer) L3Protocol() L3Protocol { return b.l3p }

// L4Protocol returns the active transport protocol.
func (b *Buffer) L4Protocol() L4Protocol { return b.l4p }

// Link returns the L2 framing of the buffer.
func (b *Buffer) Link() LinkLayer { return b.link }

// L2 returns the link layer slice. Empty for LinkNone.
func (b *Buffer) L2() []byte { return b.buf[b.l2:b.l3] }

// L3 returns the network header plus everything after it.
func (b *Buffer) L3() []byte { return b.buf[b.l3:b.end] }

// L3Header returns only the network header bytes.
func (b *Buffer) L3Header() []byte { return b.buf[b.l3:b.l4] }

// L4 returns the transport header plus payload.
func (b *Buffer) L4() []byte { return b.buf[b.l4:b.end] }

// Payload returns the payload slice.
func (b *Buffer) Payload() []byte { return b.buf[b.l4+l4HeaderSize : b.end] }

// L3Size is the size of the packet from the network header on.
func (b *Buffer) L3Size() int { return b.end - b.l3 }

// L4Size is the size of the transport header plus payload.
func (b *Buffer) L4Size() int { return b.end - b.l4 }

// PayloadSize is the number of payload bytes.
func (b *Buffer) PayloadSize() int { return b.end - b.l4 - l4HeaderSize }

// Bytes returns the full frame, starting at the link layer.
func (b *Buffer) Bytes() []byte { return b.buf[b.l2:b.end] }
