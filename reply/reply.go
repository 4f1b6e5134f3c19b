// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024-present the sonde authors.

// Package reply decodes captured frames back into probe identities. A Reply
// pairs the outer ICMP message with the probe recovered from the quoted
// inner headers.
package reply

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// Reply is one decoded probe response. Numeric fields are in host byte
// order. Replies are serialized to CSV immediately and not retained.
type Reply struct {
	// ReplySrcAddr is the address the reply came from, a router on the path
	// or the probe destination itself.
	ReplySrcAddr netip.Addr
	// ReplyDstAddr is the address the reply was sent to, the probing host.
	ReplyDstAddr netip.Addr
	// ReplySize is the size of the reply IP datagram in bytes.
	ReplySize uint16
	// ReplyTTL is the TTL of the reply as received.
	ReplyTTL uint8
	// ReplyProtocol is the IANA number of the reply transport.
	ReplyProtocol uint8
	// ICMPType and ICMPCode describe the outer ICMP message. Zero for
	// non-ICMP replies.
	ICMPType uint8
	ICMPCode uint8
	// MPLSLabels are the label values extracted from the ICMP extension
	// stack, outermost first.
	MPLSLabels []uint32

	// ProbeDstAddr is the original probe destination, recovered from the
	// quoted inner header.
	ProbeDstAddr netip.Addr
	// ProbeSize is the inner datagram total length.
	ProbeSize uint16
	// ProbeTTLL3 is the probe TTL recovered from the network layer, the
	// IPv4 ID field or the IPv6 payload length.
	ProbeTTLL3 uint8
	// ProbeProtocol is the IANA number of the probe transport.
	ProbeProtocol uint8
	// ProbeSrcPort and ProbeDstPort identify the flow. For ICMP probes the
	// source port is the flow ID recovered from the checksum.
	ProbeSrcPort uint16
	ProbeDstPort uint16
	// ProbeTTLL4 is the probe TTL recovered from the transport layer, the
	// ICMP sequence number or the UDP checksum.
	ProbeTTLL4 uint8

	// RTT is the round-trip estimate in milliseconds, 0 when unavailable.
	RTT float64
}

// FromDestination reports whether the reply originates at the probe
// destination rather than an intermediate router.
func (r *Reply) FromDestination() bool {
	return r.ReplySrcAddr.Unmap() == r.ProbeDstAddr.Unmap()
}

// ToCSV renders the reply as one output line: the fields in declaration
// order, MPLS labels joined by ':', then the round tag and a literal 1.
func (r *Reply) ToCSV(round string) string {
	labels := make([]string, len(r.MPLSLabels))
	for i, l := range r.MPLSLabels {
		labels[i] = strconv.FormatUint(uint64(l), 10)
	}

	fields := []string{
		r.ReplySrcAddr.Unmap().String(),
		r.ReplyDstAddr.Unmap().String(),
		strconv.FormatUint(uint64(r.ReplySize), 10),
		strconv.FormatUint(uint64(r.ReplyTTL), 10),
		strconv.FormatUint(uint64(r.ReplyProtocol), 10),
		strconv.FormatUint(uint64(r.ICMPType), 10),
		strconv.FormatUint(uint64(r.ICMPCode), 10),
		strings.Join(labels, ":"),
		r.ProbeDstAddr.Unmap().String(),
		strconv.FormatUint(uint64(r.ProbeSize), 10),
		strconv.FormatUint(uint64(r.ProbeTTLL3), 10),
		strconv.FormatUint(uint64(r.ProbeProtocol), 10),
		strconv.FormatUint(uint64(r.ProbeSrcPort), 10),
		strconv.FormatUint(uint64(r.ProbeDstPort), 10),
		strconv.FormatUint(uint64(r.ProbeTTLL4), 10),
		strconv.FormatFloat(r.RTT, 'f', 1, 64),
		round,
		"1",
	}
	return strings.Join(fields, ",")
}

func (r *Reply) String() string {
	return fmt.Sprintf("%s -> %s type=%d code=%d probe=%s@%d",
		r.ReplySrcAddr.Unmap(), r.ReplyDstAddr.Unmap(), r.ICMPType, r.ICMPCode,
		r.ProbeDstAddr.Unmap(), r.ProbeTTLL3)
}
