// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024-present the sonde authors.

// Package packets provides the raw-socket primitives of the probing engine:
// a Sink that transmits fully built IP datagrams and a Source that captures
// inbound frames with a classic BPF filter attached.
package packets

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/probelab/sonde/packet"
)

// Sink transmits packets whose buffer starts at the IP header.
type Sink interface {
	// WriteTo sends buf to addr. The port of addr is ignored by raw sockets.
	WriteTo(buf []byte, addr netip.AddrPort) error
	Close() error
}

// Source captures inbound frames.
type Source interface {
	// Read fills buf with the next captured frame and returns its length.
	// When the deadline passes before a frame arrives it returns
	// os.ErrDeadlineExceeded.
	Read(buf []byte) (int, error)
	// SetReadDeadline bounds the next Read. A zero deadline means a default
	// timeout, never an indefinite block.
	SetReadDeadline(deadline time.Time) error
	// LinkType reports the L2 framing of captured frames.
	LinkType() packet.LinkLayer
	Close() error
}

// FilterType selects which classic BPF program a Source attaches.
type FilterType int

const (
	// FilterTypeNone captures all packets
	FilterTypeNone FilterType = iota
	// FilterTypeICMP captures ICMPv4 and ICMPv6 packets
	FilterTypeICMP
	// FilterTypeUDP captures ICMPv4, ICMPv6 and UDP packets
	FilterTypeUDP
)

// SystemError reports an operating system failure, wrapping the underlying
// errno.
type SystemError struct {
	Op  string
	Err error
}

func (e *SystemError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SystemError) Unwrap() error {
	return e.Err
}
