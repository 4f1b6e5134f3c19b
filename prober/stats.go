// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024-present the sonde authors.

package prober

import (
	"fmt"
	"sync/atomic"
)

// Statistics counts the fate of every probe read from the input. Counters
// are written by the driver goroutine only and read concurrently by the
// stats logger, so relaxed atomics are enough.
type Statistics struct {
	read                  atomic.Uint64
	filteredLoTTL         atomic.Uint64
	filteredHiTTL         atomic.Uint64
	filteredPrefixExcl    atomic.Uint64
	filteredPrefixNotIncl atomic.Uint64
	sent                  atomic.Uint64
	failed                atomic.Uint64
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Read                  uint64
	FilteredLoTTL         uint64
	FilteredHiTTL         uint64
	FilteredPrefixExcl    uint64
	FilteredPrefixNotIncl uint64
	Sent                  uint64
	Failed                uint64
}

// Snapshot returns a consistent-enough copy for logging.
func (s *Statistics) Snapshot() Snapshot {
	return Snapshot{
		Read:                  s.read.Load(),
		FilteredLoTTL:         s.filteredLoTTL.Load(),
		FilteredHiTTL:         s.filteredHiTTL.Load(),
		FilteredPrefixExcl:    s.filteredPrefixExcl.Load(),
		FilteredPrefixNotIncl: s.filteredPrefixNotIncl.Load(),
		Sent:                  s.sent.Load(),
		Failed:                s.failed.Load(),
	}
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"read=%d filtered_lo_ttl=%d filtered_hi_ttl=%d filtered_prefix_excl=%d filtered_prefix_not_incl=%d sent=%d failed=%d",
		s.Read, s.FilteredLoTTL, s.FilteredHiTTL, s.FilteredPrefixExcl, s.FilteredPrefixNotIncl, s.Sent, s.Failed)
}
