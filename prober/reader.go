// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024-present the sonde authors.

package prober

import (
	"errors"
	"fmt"
	"io"
	"net/netip"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/probelab/sonde/log"
	"github.com/probelab/sonde/packet"
	"github.com/probelab/sonde/reply"
	"github.com/probelab/sonde/sniffer"
)

// ReadPCAP replays a previously captured PCAP stream through the reply
// parser and writes one CSV line per recovered reply to csvOut. The RTT
// reference is the timestamp of the first frame in the capture. Returns the
// same counters a live sniffer run would produce.
func ReadPCAP(in io.Reader, csvOut io.Writer, round string) (*sniffer.Statistics, error) {
	r, err := pcapgo.NewReader(in)
	if err != nil {
		return nil, fmt.Errorf("failed to read PCAP header: %w", err)
	}

	link, err := captureLinkLayer(r.LinkType())
	if err != nil {
		return nil, err
	}

	stats := &sniffer.Statistics{
		ICMPMessagesAll:  make(map[netip.Addr]struct{}),
		ICMPMessagesPath: make(map[netip.Addr]struct{}),
	}

	var parser *reply.Parser
	for {
		frame, ci, err := r.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("failed to read PCAP frame: %w", err)
		}
		stats.ReceivedCount++

		if parser == nil {
			parser = reply.NewParser(ci.Timestamp)
		}

		rep, err := parser.Parse(frame, link, ci.Timestamp)
		if err != nil {
			continue
		}

		stats.ICMPMessagesAll[rep.ReplySrcAddr] = struct{}{}
		if rep.FromDestination() {
			stats.ICMPMessagesPath[rep.ReplySrcAddr] = struct{}{}
		}

		if _, err := io.WriteString(csvOut, rep.ToCSV(round)+"\n"); err != nil {
			return stats, fmt.Errorf("failed to write reply CSV line: %w", err)
		}
	}

	log.Infof("pcap replay done: %s", stats)
	return stats, nil
}

// captureLinkLayer maps the PCAP link type to the framing the parser strips.
func captureLinkLayer(lt layers.LinkType) (packet.LinkLayer, error) {
	switch lt {
	case layers.LinkTypeEthernet:
		return packet.LinkEthernet, nil
	case layers.LinkTypeNull, layers.LinkTypeLoop:
		return packet.LinkLoopback, nil
	case layers.LinkTypeRaw, layers.LinkTypeIPv4, layers.LinkTypeIPv6:
		return packet.LinkNone, nil
	default:
		return packet.LinkNone, fmt.Errorf("unsupported PCAP link type %s", lt)
	}
}
