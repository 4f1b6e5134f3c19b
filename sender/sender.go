// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024-present the sonde authors.

// Package sender materializes probe packets and transmits them on raw
// sockets. One Sender instance is owned by the driver and is not safe for
// concurrent use.
package sender

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/probelab/sonde/log"
	"github.com/probelab/sonde/netutil"
	"github.com/probelab/sonde/packet"
	"github.com/probelab/sonde/packets"
)

// Sender builds and transmits probes. It keeps one raw sink per address
// family, opened only for families the interface has an address for.
type Sender struct {
	srcV4, srcV6   netip.Addr
	sinkV4, sinkV6 packets.Sink

	// scratch wire buffer, reused across sends
	buf []byte
}

// New opens one raw sink per address family the named interface has a
// source address for. At least one address family must be usable. The sinks
// are not bound to the interface; each packet carries the interface's
// address as its source.
func New(ifaceName string) (*Sender, error) {
	v4, v6, err := netutil.SourceAddrs(ifaceName)
	if err != nil {
		return nil, err
	}
	if !v4.IsValid() && !v6.IsValid() {
		return nil, fmt.Errorf("interface %q has no usable source address", ifaceName)
	}

	s := &Sender{
		srcV4: v4,
		srcV6: v6,
		buf:   make([]byte, packet.BufferSize),
	}

	if v4.IsValid() {
		s.sinkV4, err = packets.NewSink(v4)
		if err != nil {
			return nil, err
		}
		log.Debugf("sending IPv4 probes from %s", v4)
	}
	if v6.IsValid() {
		s.sinkV6, err = packets.NewSink(v6)
		if err != nil {
			s.Close()
			return nil, err
		}
		log.Debugf("sending IPv6 probes from %s", v6)
	}
	return s, nil
}

// Send builds the wire packet for p and transmits it. The L4 checksum is
// forced to the probe's flow value; IPv6 probes additionally encode the TTL
// into the payload length.
func (s *Sender) Send(p packet.Probe) error {
	if p.IsV4() {
		return s.sendV4(p)
	}
	return s.sendV6(p)
}

func (s *Sender) sendV4(p packet.Probe) error {
	if s.sinkV4 == nil {
		return &packets.SystemError{Op: "send", Err: errors.New("no IPv4 source address")}
	}

	b, err := packet.NewBuffer(s.buf, packet.LinkNone, packet.L3IPv4, p.Protocol, packet.PayloadTweakBytes)
	if err != nil {
		return err
	}

	dst := p.UnmappedDstAddr()
	packet.InitIPv4(b, p.Protocol, s.srcV4, dst, p.TTL)
	if err := s.fillL4(b, p); err != nil {
		return err
	}

	return s.sinkV4.WriteTo(b.L3(), netip.AddrPortFrom(dst, 0))
}

func (s *Sender) sendV6(p packet.Probe) error {
	if s.sinkV6 == nil {
		return &packets.SystemError{Op: "send", Err: errors.New("no IPv6 source address")}
	}

	b, err := packet.NewBuffer(s.buf, packet.LinkNone, packet.L3IPv6, p.Protocol, packet.PayloadSizeForTTL(p.TTL))
	if err != nil {
		return err
	}

	dst := p.UnmappedDstAddr()
	packet.InitIPv6(b, p.Protocol, s.srcV6, dst, p.TTL)
	if err := s.fillL4(b, p); err != nil {
		return err
	}

	return s.sinkV6.WriteTo(b.L3(), netip.AddrPortFrom(dst, 0))
}

func (s *Sender) fillL4(b *packet.Buffer, p packet.Probe) error {
	switch p.Protocol {
	case packet.L4ICMP:
		return packet.InitICMP(b, p.FlowChecksum(), uint16(p.TTL))
	case packet.L4ICMPv6:
		return packet.InitICMPv6(b, p.FlowChecksum(), uint16(p.TTL))
	case packet.L4UDP:
		packet.SetUDPPorts(b, p.SrcPort, p.DstPort)
		packet.SetUDPLength(b)
		return packet.SetUDPChecksum(b, p.FlowChecksum())
	default:
		return &packet.InvalidArgumentError{Message: fmt.Sprintf("unknown protocol %d", p.Protocol)}
	}
}

// Close releases the raw sockets.
func (s *Sender) Close() error {
	var errs []error
	if s.sinkV4 != nil {
		errs = append(errs, s.sinkV4.Close())
	}
	if s.sinkV6 != nil {
		errs = append(errs, s.sinkV6.Close())
	}
	return errors.Join(errs...)
}
