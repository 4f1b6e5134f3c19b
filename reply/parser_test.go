// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024-present the sonde authors.

package reply

import (
	"encoding/binary"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probelab/sonde/packet"
)

// buildProbe returns the L3 bytes of a probe built for the given parameters.
func buildProbe(t *testing.T, p packet.Probe, srcAddr netip.Addr, payloadSize int) []byte {
	buf := make([]byte, packet.BufferSize)
	b, err := packet.NewBuffer(buf, packet.LinkNone, p.L3Protocol(), p.Protocol, payloadSize)
	require.NoError(t, err)

	switch p.L3Protocol() {
	case packet.L3IPv4:
		packet.InitIPv4(b, p.Protocol, srcAddr, p.UnmappedDstAddr(), p.TTL)
	case packet.L3IPv6:
		packet.InitIPv6(b, p.Protocol, srcAddr, p.UnmappedDstAddr(), p.TTL)
	}

	switch p.Protocol {
	case packet.L4ICMP:
		require.NoError(t, packet.InitICMP(b, p.FlowChecksum(), uint16(p.TTL)))
	case packet.L4ICMPv6:
		require.NoError(t, packet.InitICMPv6(b, p.FlowChecksum(), uint16(p.TTL)))
	case packet.L4UDP:
		packet.SetUDPPorts(b, p.SrcPort, p.DstPort)
		packet.SetUDPLength(b)
		require.NoError(t, packet.SetUDPChecksum(b, p.FlowChecksum()))
	}

	out := make([]byte, b.L3Size())
	copy(out, b.L3())
	return out
}

func wrapTimeExceededV4(t *testing.T, routerAddr, probeSrc string, quote []byte, lengthField uint8) []byte {
	ip4 := &layers.IPv4{
		Version:  4,
		TTL:      62,
		SrcIP:    net.ParseIP(routerAddr),
		DstIP:    net.ParseIP(probeSrc),
		Protocol: layers.IPProtocolICMPv4,
	}
	icmp := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeTimeExceeded, layers.ICMPv4CodeTTLExceeded),
		Id:       uint16(lengthField),
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ip4, icmp, gopacket.Payload(quote)))
	return buf.Bytes()
}

func wrapTimeExceededV6(t *testing.T, routerAddr, probeSrc string, quote []byte) []byte {
	ip6 := &layers.IPv6{
		Version:    6,
		HopLimit:   62,
		SrcIP:      net.ParseIP(routerAddr),
		DstIP:      net.ParseIP(probeSrc),
		NextHeader: layers.IPProtocolICMPv6,
	}
	icmp := &layers.ICMPv6{
		TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeTimeExceeded, layers.ICMPv6CodeHopLimitExceeded),
	}
	require.NoError(t, icmp.SetNetworkLayerForChecksum(ip6))
	body := append(make([]byte, 4), quote...)
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ip6, icmp, gopacket.Payload(body)))
	return buf.Bytes()
}

func TestParseTimeExceededV4RoundTrip(t *testing.T) {
	probe, err := packet.ParseProbe("1.2.3.4,4660,0,5,icmp")
	require.NoError(t, err)
	require.Equal(t, uint16(0x1234), probe.FlowChecksum())

	quote := buildProbe(t, probe, netip.MustParseAddr("10.0.0.1"), 16)
	frame := wrapTimeExceededV4(t, "9.9.9.9", "10.0.0.1", quote, 0)

	start := time.Now()
	p := NewParser(start)
	r, err := p.Parse(frame, packet.LinkNone, start.Add(12*time.Millisecond))
	require.NoError(t, err)

	assert.Equal(t, netip.MustParseAddr("9.9.9.9"), r.ReplySrcAddr)
	assert.Equal(t, netip.MustParseAddr("10.0.0.1"), r.ReplyDstAddr)
	assert.Equal(t, uint8(11), r.ICMPType)
	assert.Equal(t, uint8(0), r.ICMPCode)
	assert.Equal(t, netip.MustParseAddr("1.2.3.4"), r.ProbeDstAddr)
	assert.Equal(t, uint16(44), r.ProbeSize)
	assert.Equal(t, uint8(5), r.ProbeTTLL3)
	assert.Equal(t, uint8(5), r.ProbeTTLL4)
	assert.Equal(t, uint16(0x1234), r.ProbeSrcPort, "flow ID recovered from the quoted checksum")
	assert.Equal(t, uint8(protoICMP), r.ProbeProtocol)
	assert.InDelta(t, 12.0, r.RTT, 0.01)
	assert.False(t, r.FromDestination())
}

func TestParseTimeExceededV6UDPRoundTrip(t *testing.T) {
	probe, err := packet.ParseProbe("2001:db8::1,24000,33434,7,udp")
	require.NoError(t, err)

	quote := buildProbe(t, probe, netip.MustParseAddr("2001:db8::f"), packet.PayloadSizeForTTL(probe.TTL))
	frame := wrapTimeExceededV6(t, "2001:db8::a", "2001:db8::f", quote)

	p := NewParser(time.Now())
	r, err := p.Parse(frame, packet.LinkNone, time.Now())
	require.NoError(t, err)

	assert.Equal(t, netip.MustParseAddr("2001:db8::a"), r.ReplySrcAddr)
	assert.Equal(t, uint8(3), r.ICMPType)
	assert.Equal(t, netip.MustParseAddr("2001:db8::1"), r.ProbeDstAddr)
	assert.Equal(t, uint16(24000), r.ProbeSrcPort)
	assert.Equal(t, uint16(33434), r.ProbeDstPort)
	assert.Equal(t, uint8(7), r.ProbeTTLL3, "TTL reconstructed from the quoted payload length")
	assert.Equal(t, uint8(7), r.ProbeTTLL4, "TTL recovered from the quoted UDP checksum")
	assert.Equal(t, uint8(protoUDP), r.ProbeProtocol)
}

func TestParseEchoReplyV4(t *testing.T) {
	ip4 := &layers.IPv4{
		Version:  4,
		TTL:      60,
		SrcIP:    net.ParseIP("1.2.3.4"),
		DstIP:    net.ParseIP("10.0.0.1"),
		Protocol: layers.IPProtocolICMPv4,
	}
	icmp := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoReply, 0),
		Id:       0x1234,
		Seq:      5,
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ip4, icmp, gopacket.Payload(make([]byte, 16))))

	p := NewParser(time.Now())
	r, err := p.Parse(buf.Bytes(), packet.LinkNone, time.Now())
	require.NoError(t, err)

	assert.Equal(t, netip.MustParseAddr("1.2.3.4"), r.ReplySrcAddr)
	assert.Equal(t, netip.MustParseAddr("1.2.3.4"), r.ProbeDstAddr)
	assert.Equal(t, uint16(0x1234), r.ProbeSrcPort)
	assert.Equal(t, uint8(5), r.ProbeTTLL4)
	assert.True(t, r.FromDestination())
}

func TestParseEthernetFraming(t *testing.T) {
	probe, err := packet.ParseProbe("1.2.3.4,4660,0,5,icmp")
	require.NoError(t, err)
	quote := buildProbe(t, probe, netip.MustParseAddr("10.0.0.1"), 16)
	ip := wrapTimeExceededV4(t, "9.9.9.9", "10.0.0.1", quote, 0)

	src, _ := net.ParseMAC("00:00:5e:00:53:01")
	dst, _ := net.ParseMAC("00:00:5e:00:53:02")
	eth := &layers.Ethernet{SrcMAC: src, DstMAC: dst, EthernetType: layers.EthernetTypeIPv4}
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, eth, gopacket.Payload(ip)))

	p := NewParser(time.Now())
	r, err := p.Parse(buf.Bytes(), packet.LinkEthernet, time.Now())
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("1.2.3.4"), r.ProbeDstAddr)
}

func TestParseInconsistentQuoteDropped(t *testing.T) {
	probe, err := packet.ParseProbe("1.2.3.4,4660,0,5,icmp")
	require.NoError(t, err)
	quote := buildProbe(t, probe, netip.MustParseAddr("10.0.0.1"), 16)

	// corrupt the quoted ICMP id so it disagrees with the quoted checksum
	binary.BigEndian.PutUint16(quote[24:26], 0xdead)
	frame := wrapTimeExceededV4(t, "9.9.9.9", "10.0.0.1", quote, 0)

	p := NewParser(time.Now())
	_, err = p.Parse(frame, packet.LinkNone, time.Now())
	assert.ErrorIs(t, err, ErrNotProbeReply)
}

func TestParseStrayTrafficDropped(t *testing.T) {
	// a plain UDP packet is not a probe reply
	ip4 := &layers.IPv4{
		Version:  4,
		TTL:      64,
		SrcIP:    net.ParseIP("10.0.0.2"),
		DstIP:    net.ParseIP("10.0.0.1"),
		Protocol: layers.IPProtocolUDP,
	}
	udp := &layers.UDP{SrcPort: 53, DstPort: 4242}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip4))
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ip4, udp, gopacket.Payload("hi")))

	p := NewParser(time.Now())
	_, err := p.Parse(buf.Bytes(), packet.LinkNone, time.Now())
	assert.ErrorIs(t, err, ErrNotProbeReply)
}

func TestParseMPLSExtension(t *testing.T) {
	probe, err := packet.ParseProbe("1.2.3.4,4660,0,5,icmp")
	require.NoError(t, err)
	quote := buildProbe(t, probe, netip.MustParseAddr("10.0.0.1"), 16)

	// pad the quoted datagram to 128 bytes, then append an RFC 4884
	// extension carrying an MPLS stack of two entries
	padded := make([]byte, 128)
	copy(padded, quote)

	ext := make([]byte, 4+4+8)
	ext[0] = 0x20 // version 2
	binary.BigEndian.PutUint16(ext[4:6], 12)
	ext[6] = classMPLS
	ext[7] = ctypeMPLSIncoming
	binary.BigEndian.PutUint32(ext[8:12], 100<<12|64)        // label 100
	binary.BigEndian.PutUint32(ext[12:16], 200<<12|0x100|63) // label 200, bottom of stack

	datagram := append(padded, ext...)
	frame := wrapTimeExceededV4(t, "9.9.9.9", "10.0.0.1", datagram, 32)

	p := NewParser(time.Now())
	r, err := p.Parse(frame, packet.LinkNone, time.Now())
	require.NoError(t, err)
	assert.Equal(t, []uint32{100, 200}, r.MPLSLabels)
}

func TestMPLSLegacyOffset(t *testing.T) {
	// a zero length field falls back to the 128-byte offset
	datagram := make([]byte, 128, 128+12)
	ext := []byte{0x20, 0, 0, 0, 0, 8, classMPLS, ctypeMPLSIncoming, 0, 0, 0, 0}
	binary.BigEndian.PutUint32(ext[8:12], 42<<12|0x100|255)
	datagram = append(datagram, ext...)

	assert.Equal(t, []uint32{42}, mplsLabels(datagram, 0, 4))
	assert.Nil(t, mplsLabels(datagram[:100], 0, 4))
}

func TestReplyToCSV(t *testing.T) {
	r := &Reply{
		ReplySrcAddr:  netip.MustParseAddr("9.9.9.9"),
		ReplyDstAddr:  netip.MustParseAddr("10.0.0.1"),
		ReplySize:     72,
		ReplyTTL:      62,
		ReplyProtocol: 1,
		ICMPType:      11,
		ICMPCode:      0,
		MPLSLabels:    []uint32{100, 200},
		ProbeDstAddr:  netip.MustParseAddr("1.2.3.4"),
		ProbeSize:     44,
		ProbeTTLL3:    5,
		ProbeProtocol: 1,
		ProbeSrcPort:  0x1234,
		ProbeDstPort:  0,
		ProbeTTLL4:    5,
		RTT:           12.3,
	}
	want := "9.9.9.9,10.0.0.1,72,62,1,11,0,100:200,1.2.3.4,44,5,1,4660,0,5,12.3,round-1,1"
	assert.Equal(t, want, r.ToCSV("round-1"))
}
