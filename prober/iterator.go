// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024-present the sonde authors.

package prober

import (
	"bufio"
	"io"
	"strings"

	"github.com/probelab/sonde/log"
	"github.com/probelab/sonde/packet"
)

// ProbeSource yields the probes the driver should emit.
type ProbeSource interface {
	// Next returns the next probe, or false when the source is exhausted.
	Next() (packet.Probe, bool)
}

// CSVProbeReader reads one probe per line in the input CSV format.
// Malformed lines are skipped with a warning and do not fail the run.
type CSVProbeReader struct {
	scanner *bufio.Scanner
	lineno  int
}

var _ ProbeSource = &CSVProbeReader{}

// NewCSVProbeReader wraps r, typically a file or stdin.
func NewCSVProbeReader(r io.Reader) *CSVProbeReader {
	return &CSVProbeReader{scanner: bufio.NewScanner(r)}
}

// Next scans forward to the next parseable probe line.
func (c *CSVProbeReader) Next() (packet.Probe, bool) {
	for c.scanner.Scan() {
		c.lineno++
		line := strings.TrimSpace(c.scanner.Text())
		if line == "" {
			continue
		}
		probe, err := packet.ParseProbe(line)
		if err != nil {
			log.Warnf("skipping malformed probe at line %d: %v", c.lineno, err)
			continue
		}
		return probe, true
	}
	if err := c.scanner.Err(); err != nil {
		log.Errorf("probe input read failed: %v", err)
	}
	return packet.Probe{}, false
}

// probeSlice adapts a fixed list of probes to ProbeSource.
type probeSlice struct {
	probes []packet.Probe
}

// NewStaticSource yields the given probes in order.
func NewStaticSource(probes []packet.Probe) ProbeSource {
	return &probeSlice{probes: probes}
}

func (p *probeSlice) Next() (packet.Probe, bool) {
	if len(p.probes) == 0 {
		return packet.Probe{}, false
	}
	probe := p.probes[0]
	p.probes = p.probes[1:]
	return probe, true
}
