// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024-present the sonde authors.

// Package prober composes the probing pipeline: read probes, filter by TTL
// and prefix membership, build and send packets at a target rate while a
// background sniffer collects the replies.
package prober

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/probelab/sonde/log"
	"github.com/probelab/sonde/lpm"
	"github.com/probelab/sonde/packet"
	"github.com/probelab/sonde/packets"
	"github.com/probelab/sonde/ratelimit"
	"github.com/probelab/sonde/sender"
	"github.com/probelab/sonde/sniffer"
)

const (
	// BatchSize is the number of sends between rate limiter waits.
	BatchSize = 128

	statsLogInterval = 5 * time.Second
)

// Config carries the per-run options of the driver.
type Config struct {
	// Interface is the name of the interface to send and capture on.
	Interface string
	// Protocol selects the BPF capture filter. Probes carry their own
	// transport, this only widens the capture to UDP when needed.
	Protocol packet.L4Protocol
	// ProbingRate is the target send rate in packets per second.
	ProbingRate int
	// RateMethod selects how the limiter burns inter-batch delays.
	RateMethod ratelimit.Method
	// NPackets is the number of copies sent per probe, at least 1.
	NPackets int
	// SnifferWaitTime is how long to keep capturing after the last send.
	SnifferWaitTime time.Duration
	// MaxProbes caps the number of sent packets, 0 means unlimited.
	MaxProbes uint64
	// FilterMinTTL and FilterMaxTTL bound the probe TTL, 0 means unbounded.
	FilterMinTTL uint8
	FilterMaxTTL uint8
	// PrefixExclFile and PrefixInclFile are optional CIDR list paths. A
	// probe is dropped when its destination matches the exclusion list, or
	// when an inclusion list is set and the destination does not match it.
	PrefixExclFile string
	PrefixInclFile string
	// Round tags every output CSV line.
	Round string
}

// Result aggregates the statistics of one run.
type Result struct {
	Prober      Snapshot
	Sniffer     sniffer.Statistics
	RateLimiter ratelimit.Statistics
}

// packetSender is the slice of the sender the driver loop needs.
type packetSender interface {
	Send(packet.Probe) error
}

// Probe runs the full pipeline until the probe source is exhausted, the
// MaxProbes cap is hit or ctx is cancelled. Replies are written to csvOut
// as they arrive; pcapOut optionally receives the raw captured frames.
func Probe(ctx context.Context, cfg Config, probes ProbeSource, csvOut, pcapOut io.Writer) (*Result, error) {
	deny, err := loadPrefixes(cfg.PrefixExclFile)
	if err != nil {
		return nil, err
	}
	allow, err := loadPrefixes(cfg.PrefixInclFile)
	if err != nil {
		return nil, err
	}

	filter := packets.FilterTypeICMP
	if cfg.Protocol == packet.L4UDP {
		filter = packets.FilterTypeUDP
	}
	source, err := packets.NewSource(cfg.Interface, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture on %q: %w", cfg.Interface, err)
	}

	snif, err := sniffer.New(source, csvOut, pcapOut, cfg.Round)
	if err != nil {
		source.Close()
		return nil, err
	}
	if err := snif.Start(); err != nil {
		source.Close()
		return nil, err
	}

	snd, err := sender.New(cfg.Interface)
	if err != nil {
		snif.Stop()
		return nil, err
	}
	defer snd.Close()

	limiter, err := ratelimit.New(cfg.ProbingRate, BatchSize, cfg.RateMethod)
	if err != nil {
		snif.Stop()
		return nil, err
	}

	stats := &Statistics{}
	logCtx, cancelLog := context.WithCancel(ctx)
	defer cancelLog()
	go logStats(logCtx, stats, snif)

	runLoop(ctx, cfg, probes, snd, limiter, deny, allow, stats)

	// let late replies trickle in before tearing the capture down
	if cfg.SnifferWaitTime > 0 {
		select {
		case <-time.After(cfg.SnifferWaitTime):
		case <-ctx.Done():
		}
	}
	cancelLog()

	if err := snif.Stop(); err != nil {
		log.Warnf("sniffer shutdown failed: %v", err)
	}

	result := &Result{
		Prober:      stats.Snapshot(),
		Sniffer:     snif.Statistics(),
		RateLimiter: limiter.Statistics(),
	}
	log.Infof("probing done: %s", result.Prober)
	log.Infof("sniffer: %s", result.Sniffer)
	log.Infof("rate: target=%d pps achieved=%.0f pps", result.RateLimiter.TargetRate, result.RateLimiter.AchievedRate)
	return result, nil
}

// runLoop drives the filter/send cycle. It is separated from Probe so the
// accounting can be exercised without raw sockets.
func runLoop(ctx context.Context, cfg Config, probes ProbeSource, snd packetSender, limiter *ratelimit.Limiter, deny, allow *lpm.Trie, stats *Statistics) {
	nPackets := cfg.NPackets
	if nPackets < 1 {
		nPackets = 1
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		p, ok := probes.Next()
		if !ok {
			return
		}
		stats.read.Add(1)

		if cfg.FilterMinTTL > 0 && p.TTL < cfg.FilterMinTTL {
			stats.filteredLoTTL.Add(1)
			continue
		}
		if cfg.FilterMaxTTL > 0 && p.TTL > cfg.FilterMaxTTL {
			stats.filteredHiTTL.Add(1)
			continue
		}
		if deny != nil && deny.Lookup(p.DstAddr) {
			stats.filteredPrefixExcl.Add(1)
			continue
		}
		if allow != nil && !allow.Lookup(p.DstAddr) {
			stats.filteredPrefixNotIncl.Add(1)
			continue
		}

		for i := 0; i < nPackets; i++ {
			if err := snd.Send(p); err != nil {
				stats.failed.Add(1)
				log.Errorf("failed to send probe %s: %v", p, err)
			} else {
				stats.sent.Add(1)
			}
			if (stats.sent.Load()+stats.failed.Load())%BatchSize == 0 {
				limiter.Wait()
			}
		}

		if cfg.MaxProbes > 0 && stats.sent.Load() >= cfg.MaxProbes {
			log.Infof("max probes reached (%d), stopping", cfg.MaxProbes)
			return
		}
	}
}

// loadPrefixes builds an LPM trie from an optional CIDR file.
func loadPrefixes(path string) (*lpm.Trie, error) {
	if path == "" {
		return nil, nil
	}
	trie := lpm.New()
	if err := trie.InsertFile(path); err != nil {
		return nil, err
	}
	log.Infof("loaded %d prefixes from %s", trie.Size(), path)
	return trie, nil
}

// logStats periodically reports both counter groups until ctx is cancelled.
func logStats(ctx context.Context, stats *Statistics, snif *sniffer.Sniffer) {
	ticker := time.NewTicker(statsLogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Infof("prober: %s", stats.Snapshot())
			log.Infof("sniffer: %s", snif.Statistics())
		}
	}
}
