// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024-present the sonde authors.

package packet

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// Probe is one logical probe request: a destination, a flow (ports) and a
// TTL. Probes are consumed immediately by the sender and never retained.
type Probe struct {
	// DstAddr is the destination, IPv4 or IPv6. IPv4 destinations are held
	// in the v4-mapped form so all addresses are uniform 128-bit values.
	DstAddr netip.Addr
	// SrcPort is the probe source port. For ICMP probes it is the flow ID
	// encoded into the checksum and id fields.
	SrcPort uint16
	// DstPort is the probe destination port, unused for ICMP probes.
	DstPort uint16
	// TTL is the probe time-to-live, 1-255.
	TTL uint8
	// Protocol is the probe transport protocol.
	Protocol L4Protocol
}

// IsV4 reports whether the probe targets an IPv4 destination.
func (p Probe) IsV4() bool {
	return p.DstAddr.Is4() || p.DstAddr.Is4In6()
}

// UnmappedDstAddr returns the destination with any v4-mapped prefix removed.
func (p Probe) UnmappedDstAddr() netip.Addr {
	return p.DstAddr.Unmap()
}

// L3Protocol returns the network layer matching the destination family.
func (p Probe) L3Protocol() L3Protocol {
	if p.IsV4() {
		return L3IPv4
	}
	return L3IPv6
}

// FlowChecksum is the 16-bit value the builder forces into the probe's L4
// checksum field. ICMP probes encode the source port (the flow ID); UDP
// probes vary the flow through real ports and use the checksum to carry the
// TTL instead.
func (p Probe) FlowChecksum() uint16 {
	if p.Protocol == L4UDP {
		return uint16(p.TTL)
	}
	return p.SrcPort
}

func (p Probe) String() string {
	return fmt.Sprintf("%s:%d:%d@%d/%s", p.UnmappedDstAddr(), p.SrcPort, p.DstPort, p.TTL, p.Protocol)
}

// ParseProbe decodes one probe from its CSV form:
// dst_addr,src_port,dst_port,ttl,protocol.
func ParseProbe(line string) (Probe, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) != 5 {
		return Probe{}, &InvalidArgumentError{
			Message: fmt.Sprintf("expected 5 CSV fields, got %d", len(fields)),
		}
	}

	addr, err := netip.ParseAddr(fields[0])
	if err != nil {
		return Probe{}, &InvalidArgumentError{Message: fmt.Sprintf("invalid destination address %q", fields[0])}
	}
	if addr.Is4() {
		// normalize to the v4-mapped form
		addr = netip.AddrFrom16(addr.As16())
	}

	srcPort, err := strconv.ParseUint(fields[1], 10, 16)
	if err != nil {
		return Probe{}, &InvalidArgumentError{Message: fmt.Sprintf("invalid source port %q", fields[1])}
	}
	dstPort, err := strconv.ParseUint(fields[2], 10, 16)
	if err != nil {
		return Probe{}, &InvalidArgumentError{Message: fmt.Sprintf("invalid destination port %q", fields[2])}
	}

	ttl, err := strconv.ParseUint(fields[3], 10, 8)
	if err != nil || ttl == 0 {
		return Probe{}, &InvalidArgumentError{Message: fmt.Sprintf("invalid TTL %q", fields[3])}
	}

	protocol, err := ParseL4Protocol(fields[4])
	if err != nil {
		return Probe{}, err
	}

	return Probe{
		DstAddr:  addr,
		SrcPort:  uint16(srcPort),
		DstPort:  uint16(dstPort),
		TTL:      uint8(ttl),
		Protocol: protocol,
	}, nil
}
