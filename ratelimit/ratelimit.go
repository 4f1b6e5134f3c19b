// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024-present the sonde authors.

// Package ratelimit paces probe batches towards a target packets-per-second
// rate and reports the rate actually achieved. If the host cannot sustain
// the target, the limiter never throttles and the achieved-rate statistic
// surfaces the shortfall.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/probelab/sonde/log"
)

// Method selects how Wait burns the inter-batch delay.
type Method int

const (
	// MethodSleep yields to the scheduler, trading precision for CPU.
	MethodSleep Method = iota
	// MethodBusy spins until the batch deadline. Precise at high rates where
	// the per-batch period is below the sleep granularity, at the cost of a
	// fully loaded core.
	MethodBusy
)

func (m Method) String() string {
	if m == MethodBusy {
		return "busy"
	}
	return "sleep"
}

// ParseMethod parses a rate limiting method name.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "sleep":
		return MethodSleep, nil
	case "busy":
		return MethodBusy, nil
	default:
		return MethodSleep, fmt.Errorf("unknown rate limiting method %q, expected sleep or busy", s)
	}
}

// Limiter paces batches of sends. Wait is called once per batch and blocks
// just enough to keep the average period at or above batchSize/targetRate.
type Limiter struct {
	targetRate int
	batchSize  int
	method     Method
	limiter    *rate.Limiter

	start     time.Time
	waitCalls uint64
}

// Statistics is a snapshot of the limiter's pacing counters.
type Statistics struct {
	// TargetRate is the configured rate in packets per second.
	TargetRate int
	// AchievedRate is the average rate over the run so far, in packets per
	// second.
	AchievedRate float64
	// WaitCalls is the number of times Wait was invoked.
	WaitCalls uint64
}

// New creates a limiter targeting targetRate packets per second, released in
// batches of batchSize packets. With MethodSleep it warns when the per-batch
// period is below the sleep granularity the host can resolve.
func New(targetRate, batchSize int, method Method) (*Limiter, error) {
	if targetRate <= 0 {
		return nil, fmt.Errorf("target rate must be positive, got %d", targetRate)
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	if method == MethodSleep {
		period := time.Duration(float64(batchSize) / float64(targetRate) * float64(time.Second))
		if granularity := sleepGranularity(); period < granularity {
			log.Warnf("batch period %s is below the sleep granularity %s, the achieved rate will fall short of %d pps, consider the busy method",
				period, granularity, targetRate)
		}
	}

	return &Limiter{
		targetRate: targetRate,
		batchSize:  batchSize,
		method:     method,
		limiter:    rate.NewLimiter(rate.Limit(targetRate), batchSize),
		start:      time.Now(),
	}, nil
}

// Wait blocks until the next batch of batchSize packets may be sent.
func (l *Limiter) Wait() {
	l.waitCalls++
	if l.method == MethodBusy {
		r := l.limiter.ReserveN(time.Now(), l.batchSize)
		deadline := time.Now().Add(r.Delay())
		for time.Now().Before(deadline) {
		}
		return
	}
	// the reservation never exceeds the burst, so this cannot fail
	_ = l.limiter.WaitN(context.Background(), l.batchSize)
}

// Statistics returns a snapshot of the pacing counters.
func (l *Limiter) Statistics() Statistics {
	elapsed := time.Since(l.start).Seconds()
	achieved := 0.0
	if elapsed > 0 {
		achieved = float64(l.waitCalls) * float64(l.batchSize) / elapsed
	}
	return Statistics{
		TargetRate:   l.targetRate,
		AchievedRate: achieved,
		WaitCalls:    l.waitCalls,
	}
}

// sleepGranularity measures the shortest sleep the host scheduler resolves.
func sleepGranularity() time.Duration {
	const samples = 5
	best := time.Duration(1<<63 - 1)
	for i := 0; i < samples; i++ {
		begin := time.Now()
		time.Sleep(time.Microsecond)
		if d := time.Since(begin); d < best {
			best = d
		}
	}
	return best
}
