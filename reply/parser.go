// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024-present the sonde authors.

package reply

import (
	"encoding/binary"
	"errors"
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/probelab/sonde/packet"
)

// ErrNotProbeReply marks a frame that decoded fine but does not answer one
// of our probes. It is not a failure, the sniffer just skips the frame.
var ErrNotProbeReply = errors.New("not a probe reply")

// ICMP message types the parser recognizes.
const (
	icmpEchoReply         = 0
	icmpDestUnreachable   = 3
	icmpTimeExceeded      = 11
	icmpv6DestUnreachable = 1
	icmpv6TimeExceeded    = 3
	icmpv6EchoReply       = 129
)

const (
	protoICMP   = 1
	protoICMPv6 = 58
	protoUDP    = 17
)

// Parser converts captured frames into Reply records. RTT estimates are
// relative to the start reference, typically the sniffer start time; when
// the estimate would be nonsensical it is reported as 0.
type Parser struct {
	start time.Time
}

// NewParser returns a parser using start as the RTT reference.
func NewParser(start time.Time) *Parser {
	return &Parser{start: start}
}

// Parse decodes one captured frame. link selects the L2 framing in front of
// the IP header. It returns ErrNotProbeReply for frames that are valid but
// unrelated to probing.
func (p *Parser) Parse(frame []byte, link packet.LinkLayer, captured time.Time) (*Reply, error) {
	ip, err := stripLinkHeader(frame, link)
	if err != nil {
		return nil, err
	}
	if len(ip) == 0 {
		return nil, ErrNotProbeReply
	}

	var r *Reply
	switch ip[0] >> 4 {
	case 4:
		r, err = p.parseV4(ip)
	case 6:
		r, err = p.parseV6(ip)
	default:
		return nil, ErrNotProbeReply
	}
	if err != nil {
		return nil, err
	}

	r.RTT = p.rtt(captured)
	return r, nil
}

// stripLinkHeader removes the L2 framing. For Ethernet it returns nil bytes
// on non-IP frames.
func stripLinkHeader(frame []byte, link packet.LinkLayer) ([]byte, error) {
	switch link {
	case packet.LinkNone:
		return frame, nil
	case packet.LinkLoopback:
		if len(frame) < 4 {
			return nil, ErrNotProbeReply
		}
		return frame[4:], nil
	case packet.LinkEthernet:
		var eth layers.Ethernet
		if err := (&eth).DecodeFromBytes(frame, gopacket.NilDecodeFeedback); err != nil {
			return nil, ErrNotProbeReply
		}
		if eth.EthernetType != layers.EthernetTypeIPv4 && eth.EthernetType != layers.EthernetTypeIPv6 {
			return nil, nil
		}
		return eth.Payload, nil
	default:
		return nil, ErrNotProbeReply
	}
}

func (p *Parser) parseV4(buf []byte) (*Reply, error) {
	var ip4 layers.IPv4
	if err := (&ip4).DecodeFromBytes(buf, gopacket.NilDecodeFeedback); err != nil {
		return nil, ErrNotProbeReply
	}
	if ip4.Protocol != layers.IPProtocolICMPv4 {
		return nil, ErrNotProbeReply
	}

	var icmp layers.ICMPv4
	if err := (&icmp).DecodeFromBytes(ip4.Payload, gopacket.NilDecodeFeedback); err != nil {
		return nil, ErrNotProbeReply
	}

	src, _ := netip.AddrFromSlice(ip4.SrcIP.To4())
	dst, _ := netip.AddrFromSlice(ip4.DstIP.To4())
	r := &Reply{
		ReplySrcAddr:  src,
		ReplyDstAddr:  dst,
		ReplySize:     ip4.Length,
		ReplyTTL:      ip4.TTL,
		ReplyProtocol: protoICMP,
		ICMPType:      icmp.TypeCode.Type(),
		ICMPCode:      icmp.TypeCode.Code(),
	}

	switch icmp.TypeCode.Type() {
	case icmpTimeExceeded, icmpDestUnreachable:
		if err := parseInnerV4(r, icmp.Payload); err != nil {
			return nil, err
		}
		// the RFC 4884 length field rides in the low byte of the id area
		r.MPLSLabels = mplsLabels(icmp.Payload, uint8(icmp.Id&0xff), 4)
		return r, nil
	case icmpEchoReply:
		r.ProbeDstAddr = src
		r.ProbeSize = r.ReplySize
		r.ProbeProtocol = protoICMP
		r.ProbeSrcPort = icmp.Id
		r.ProbeTTLL3 = uint8(icmp.Seq)
		r.ProbeTTLL4 = uint8(icmp.Seq)
		return r, nil
	default:
		return nil, ErrNotProbeReply
	}
}

func (p *Parser) parseV6(buf []byte) (*Reply, error) {
	var ip6 layers.IPv6
	if err := (&ip6).DecodeFromBytes(buf, gopacket.NilDecodeFeedback); err != nil {
		return nil, ErrNotProbeReply
	}
	if ip6.NextHeader != layers.IPProtocolICMPv6 {
		return nil, ErrNotProbeReply
	}

	var icmp layers.ICMPv6
	if err := (&icmp).DecodeFromBytes(ip6.Payload, gopacket.NilDecodeFeedback); err != nil {
		return nil, ErrNotProbeReply
	}

	src, _ := netip.AddrFromSlice(ip6.SrcIP.To16())
	dst, _ := netip.AddrFromSlice(ip6.DstIP.To16())
	r := &Reply{
		ReplySrcAddr:  src,
		ReplyDstAddr:  dst,
		ReplySize:     40 + ip6.Length,
		ReplyTTL:      ip6.HopLimit,
		ReplyProtocol: protoICMPv6,
		ICMPType:      icmp.TypeCode.Type(),
		ICMPCode:      icmp.TypeCode.Code(),
	}

	// the ICMPv6 header is 4 bytes, error messages carry a 4-byte field
	// before the quoted datagram whose first byte is the RFC 4884 length
	body := icmp.Payload
	switch icmp.TypeCode.Type() {
	case icmpv6TimeExceeded, icmpv6DestUnreachable:
		if len(body) < 4 {
			return nil, ErrNotProbeReply
		}
		datagram := body[4:]
		if err := parseInnerV6(r, datagram); err != nil {
			return nil, err
		}
		r.MPLSLabels = mplsLabels(datagram, body[0], 8)
		return r, nil
	case icmpv6EchoReply:
		if len(body) < 4 {
			return nil, ErrNotProbeReply
		}
		r.ProbeDstAddr = src
		r.ProbeSize = r.ReplySize
		r.ProbeProtocol = protoICMPv6
		r.ProbeSrcPort = binary.BigEndian.Uint16(body[0:2])
		seq := binary.BigEndian.Uint16(body[2:4])
		r.ProbeTTLL3 = uint8(seq)
		r.ProbeTTLL4 = uint8(seq)
		return r, nil
	default:
		return nil, ErrNotProbeReply
	}
}

// parseInnerV4 recovers the probe identity from a quoted IPv4 datagram: the
// full IP header plus at least 8 bytes of the transport header.
func parseInnerV4(r *Reply, quote []byte) error {
	if len(quote) < 20 || quote[0]>>4 != 4 {
		return ErrNotProbeReply
	}
	ihl := int(quote[0]&0x0f) * 4
	if ihl < 20 || len(quote) < ihl+8 {
		return ErrNotProbeReply
	}

	dst, _ := netip.AddrFromSlice(quote[16:20])
	r.ProbeDstAddr = dst
	r.ProbeSize = binary.BigEndian.Uint16(quote[2:4])
	r.ProbeTTLL3 = uint8(binary.BigEndian.Uint16(quote[4:6]))
	r.ProbeProtocol = quote[9]

	return parseInnerL4(r, quote[ihl:ihl+8])
}

// parseInnerV6 recovers the probe identity from a quoted IPv6 datagram.
func parseInnerV6(r *Reply, quote []byte) error {
	if len(quote) < 48 || quote[0]>>4 != 6 {
		return ErrNotProbeReply
	}

	plen := binary.BigEndian.Uint16(quote[4:6])
	dst, _ := netip.AddrFromSlice(quote[24:40])
	r.ProbeDstAddr = dst
	r.ProbeSize = 40 + plen
	r.ProbeTTLL3 = packet.TTLFromPayloadLength(plen)
	r.ProbeProtocol = quote[6]

	return parseInnerL4(r, quote[40:48])
}

// parseInnerL4 decodes the first 8 quoted transport bytes and validates the
// recovered identity against the encoded flow ID where a redundant channel
// exists. Inconsistent quotes are rejected.
func parseInnerL4(r *Reply, l4 []byte) error {
	switch r.ProbeProtocol {
	case protoUDP:
		r.ProbeSrcPort = binary.BigEndian.Uint16(l4[0:2])
		r.ProbeDstPort = binary.BigEndian.Uint16(l4[2:4])
		ttl := binary.BigEndian.Uint16(l4[6:8])
		if ttl == 0 || ttl > 255 {
			return ErrNotProbeReply
		}
		r.ProbeTTLL4 = uint8(ttl)
		return nil
	case protoICMP, protoICMPv6:
		checksumField := binary.BigEndian.Uint16(l4[2:4])
		id := binary.BigEndian.Uint16(l4[4:6])
		if checksumField != id {
			// our probes mirror the flow ID into the id field
			return ErrNotProbeReply
		}
		r.ProbeSrcPort = checksumField
		r.ProbeTTLL4 = uint8(binary.BigEndian.Uint16(l4[6:8]))
		return nil
	default:
		return ErrNotProbeReply
	}
}

func (p *Parser) rtt(captured time.Time) float64 {
	if p.start.IsZero() || captured.Before(p.start) {
		return 0
	}
	return float64(captured.Sub(p.start).Microseconds()) / 1000.0
}
