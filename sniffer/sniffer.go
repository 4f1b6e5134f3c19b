// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024-present the sonde authors.

// Package sniffer captures probe replies in the background, converts them to
// CSV records and optionally mirrors raw frames into a PCAP file.
package sniffer

import (
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/probelab/sonde/log"
	"github.com/probelab/sonde/packet"
	"github.com/probelab/sonde/packets"
	"github.com/probelab/sonde/reply"
)

// State is the sniffer lifecycle state.
type State int32

const (
	// Idle means the sniffer has not been started yet
	Idle State = iota
	// Running means the capture loop is active
	Running
	// Stopping means Stop was called and the loop is draining
	Stopping
	// Stopped means the capture loop has exited
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// readDeadlineInterval bounds how long the capture loop can miss a stop
// signal.
const readDeadlineInterval = time.Second

// Statistics is a snapshot of the sniffer counters.
type Statistics struct {
	// ReceivedCount is the number of captured frames, including frames that
	// were not probe replies.
	ReceivedCount uint64
	// ICMPMessagesAll is the set of reply source addresses.
	ICMPMessagesAll map[netip.Addr]struct{}
	// ICMPMessagesPath is the subset of ICMPMessagesAll where the reply came
	// from the probe destination itself.
	ICMPMessagesPath map[netip.Addr]struct{}
}

func (s Statistics) String() string {
	return fmt.Sprintf("received_count=%d icmp_messages_all=%d icmp_messages_path=%d",
		s.ReceivedCount, len(s.ICMPMessagesAll), len(s.ICMPMessagesPath))
}

// Sniffer drains a packet source on a background goroutine. Lifecycle:
// Idle -> Running -> Stopping -> Stopped, driven by Start and Stop.
type Sniffer struct {
	source packets.Source
	csv    io.Writer
	pcap   *pcapgo.Writer
	round  string

	state atomic.Int32
	done  chan struct{}

	received atomic.Uint64
	mu       sync.Mutex
	allIPs   map[netip.Addr]struct{}
	pathIPs  map[netip.Addr]struct{}
}

// New creates a sniffer reading from source and writing reply CSV lines to
// csv. When pcapOut is non-nil every captured frame is also appended there
// as a standard PCAP stream. round tags every CSV line.
func New(source packets.Source, csv io.Writer, pcapOut io.Writer, round string) (*Sniffer, error) {
	s := &Sniffer{
		source:  source,
		csv:     csv,
		round:   round,
		done:    make(chan struct{}),
		allIPs:  make(map[netip.Addr]struct{}),
		pathIPs: make(map[netip.Addr]struct{}),
	}

	if pcapOut != nil {
		w := pcapgo.NewWriter(pcapOut)
		if err := w.WriteFileHeader(packet.BufferSize, pcapLinkType(source.LinkType())); err != nil {
			return nil, fmt.Errorf("failed to write PCAP header: %w", err)
		}
		s.pcap = w
	}
	return s, nil
}

func pcapLinkType(link packet.LinkLayer) layers.LinkType {
	switch link {
	case packet.LinkEthernet:
		return layers.LinkTypeEthernet
	case packet.LinkLoopback:
		return layers.LinkTypeNull
	default:
		return layers.LinkTypeRaw
	}
}

// State returns the current lifecycle state.
func (s *Sniffer) State() State {
	return State(s.state.Load())
}

// Start transitions Idle -> Running and spawns the capture goroutine.
func (s *Sniffer) Start() error {
	if !s.state.CompareAndSwap(int32(Idle), int32(Running)) {
		return fmt.Errorf("sniffer cannot start from state %s", s.State())
	}

	parser := reply.NewParser(time.Now())
	go s.loop(parser)
	return nil
}

// Stop transitions Running -> Stopping, waits for the capture loop to exit
// within one read deadline tick and closes the source.
func (s *Sniffer) Stop() error {
	if !s.state.CompareAndSwap(int32(Running), int32(Stopping)) {
		return fmt.Errorf("sniffer cannot stop from state %s", s.State())
	}
	<-s.done
	err := s.source.Close()
	s.state.Store(int32(Stopped))
	return err
}

// Statistics returns a snapshot of the counters. Safe in any state.
func (s *Sniffer) Statistics() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Statistics{
		ReceivedCount:    s.received.Load(),
		ICMPMessagesAll:  make(map[netip.Addr]struct{}, len(s.allIPs)),
		ICMPMessagesPath: make(map[netip.Addr]struct{}, len(s.pathIPs)),
	}
	for ip := range s.allIPs {
		stats.ICMPMessagesAll[ip] = struct{}{}
	}
	for ip := range s.pathIPs {
		stats.ICMPMessagesPath[ip] = struct{}{}
	}
	return stats
}

func (s *Sniffer) loop(parser *reply.Parser) {
	defer close(s.done)

	buf := make([]byte, packet.BufferSize)
	for s.State() == Running {
		if err := s.source.SetReadDeadline(time.Now().Add(readDeadlineInterval)); err != nil {
			log.Errorf("sniffer failed to arm read deadline: %v", err)
			return
		}

		n, err := s.source.Read(buf)
		if errors.Is(err, os.ErrDeadlineExceeded) {
			continue
		}
		if err != nil {
			if s.State() == Running {
				log.Debugf("sniffer read failed: %v", err)
			}
			continue
		}

		s.handle(parser, buf[:n], time.Now())
	}
}

// handle processes one captured frame. Parse failures are not errors, the
// frame is counted and skipped.
func (s *Sniffer) handle(parser *reply.Parser, frame []byte, captured time.Time) {
	s.received.Add(1)

	if s.pcap != nil {
		ci := gopacket.CaptureInfo{
			Timestamp:     captured,
			CaptureLength: len(frame),
			Length:        len(frame),
		}
		if err := s.pcap.WritePacket(ci, frame); err != nil {
			log.Errorf("failed to append frame to PCAP output: %v", err)
		}
	}

	r, err := parser.Parse(frame, s.source.LinkType(), captured)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.allIPs[r.ReplySrcAddr] = struct{}{}
	if r.FromDestination() {
		s.pathIPs[r.ReplySrcAddr] = struct{}{}
	}
	s.mu.Unlock()

	if _, err := io.WriteString(s.csv, r.ToCSV(s.round)+"\n"); err != nil {
		log.Errorf("failed to write reply CSV line: %v", err)
	}
}
