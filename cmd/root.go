// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024-present the sonde authors.

// Package cmd wires the probing engine to its command line interface.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/probelab/sonde/log"
	"github.com/probelab/sonde/output"
	"github.com/probelab/sonde/packet"
	"github.com/probelab/sonde/prober"
	"github.com/probelab/sonde/ratelimit"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "sonde",
	Short: "High-rate traceroute-style prober",
	Long: `sonde reads probe specifications from CSV, emits crafted ICMP/UDP
packets at a target rate and captures the replies they elicit into CSV
and optionally PCAP output.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(configFile)
		if err != nil {
			return err
		}
		applyFlags(cmd, &cfg)
		return runProbe(cmd, cfg)
	},
}

// Execute runs the CLI. Fatal setup errors exit non-zero, per-probe send
// failures only surface in the statistics.
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// flag values, overlaid onto the config only when explicitly set
var flagCfg Config

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&configFile, "config", "c", "", "YAML configuration file")
	f.StringVarP(&flagCfg.Interface, "interface", "i", "", "Interface to send and capture on")
	f.StringVarP(&flagCfg.Protocol, "protocol", "P", "icmp", "Probe protocol (icmp, icmp6, udp)")
	f.IntVarP(&flagCfg.ProbingRate, "probing-rate", "r", 100000, "Target send rate in packets per second")
	f.StringVar(&flagCfg.RateLimitingMethod, "rate-limiting-method", "sleep", "Rate limiting method (sleep, busy)")
	f.IntVarP(&flagCfg.NPackets, "n-packets", "N", 1, "Packet copies per probe")
	f.UintVarP(&flagCfg.SnifferWaitTime, "sniffer-wait-time", "W", 5, "Seconds to keep capturing after the last send")
	f.Uint64Var(&flagCfg.MaxProbes, "max-probes", 0, "Cap on sent packets, 0 means unlimited")
	f.Uint8Var(&flagCfg.FilterMinTTL, "filter-min-ttl", 0, "Drop probes with a lower TTL")
	f.Uint8Var(&flagCfg.FilterMaxTTL, "filter-max-ttl", 0, "Drop probes with a higher TTL")
	f.StringVar(&flagCfg.PrefixExclFile, "filter-from-prefix-file-excl", "", "Prefixes to exclude, one CIDR per line")
	f.StringVar(&flagCfg.PrefixInclFile, "filter-from-prefix-file-incl", "", "Prefixes to probe exclusively, one CIDR per line")
	f.StringVar(&flagCfg.InputFile, "input-file", "", "Probe CSV input, stdin if unset")
	f.StringVarP(&flagCfg.OutputFileCSV, "output-file-csv", "o", "", "Reply CSV output, stdout if unset, .zst compresses")
	f.StringVar(&flagCfg.OutputFilePCAP, "output-file-pcap", "", "Raw capture PCAP output")
	f.StringVar(&flagCfg.MetaRound, "meta-round", "", "Round tag attached to every CSV line, random if unset")
	f.StringVarP(&flagCfg.LogLevel, "log-level", "l", "info", "Log level (error, warn, info, debug, trace)")
}

// applyFlags overlays flags the user actually set onto cfg, so a config
// file value survives unless overridden on the command line.
func applyFlags(cmd *cobra.Command, cfg *Config) {
	set := cmd.Flags().Changed
	if set("interface") {
		cfg.Interface = flagCfg.Interface
	}
	if set("protocol") {
		cfg.Protocol = flagCfg.Protocol
	}
	if set("probing-rate") {
		cfg.ProbingRate = flagCfg.ProbingRate
	}
	if set("rate-limiting-method") {
		cfg.RateLimitingMethod = flagCfg.RateLimitingMethod
	}
	if set("n-packets") {
		cfg.NPackets = flagCfg.NPackets
	}
	if set("sniffer-wait-time") {
		cfg.SnifferWaitTime = flagCfg.SnifferWaitTime
	}
	if set("max-probes") {
		cfg.MaxProbes = flagCfg.MaxProbes
	}
	if set("filter-min-ttl") {
		cfg.FilterMinTTL = flagCfg.FilterMinTTL
	}
	if set("filter-max-ttl") {
		cfg.FilterMaxTTL = flagCfg.FilterMaxTTL
	}
	if set("filter-from-prefix-file-excl") {
		cfg.PrefixExclFile = flagCfg.PrefixExclFile
	}
	if set("filter-from-prefix-file-incl") {
		cfg.PrefixInclFile = flagCfg.PrefixInclFile
	}
	if set("input-file") {
		cfg.InputFile = flagCfg.InputFile
	}
	if set("output-file-csv") {
		cfg.OutputFileCSV = flagCfg.OutputFileCSV
	}
	if set("output-file-pcap") {
		cfg.OutputFilePCAP = flagCfg.OutputFilePCAP
	}
	if set("meta-round") {
		cfg.MetaRound = flagCfg.MetaRound
	}
	if set("log-level") {
		cfg.LogLevel = flagCfg.LogLevel
	}
}

func runProbe(cmd *cobra.Command, cfg Config) error {
	level, err := log.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log.SetLogLevel(level)

	if cfg.Interface == "" {
		return errors.New("an interface is required, set --interface")
	}
	protocol, err := packet.ParseL4Protocol(cfg.Protocol)
	if err != nil {
		return err
	}
	method, err := ratelimit.ParseMethod(cfg.RateLimitingMethod)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	if cfg.MetaRound == "" {
		cfg.MetaRound = runID
	}
	log.Infof("run %s: interface=%s protocol=%s rate=%d pps round=%s",
		runID, cfg.Interface, protocol, cfg.ProbingRate, cfg.MetaRound)

	input := io.Reader(os.Stdin)
	if cfg.InputFile != "" {
		f, err := os.Open(cfg.InputFile)
		if err != nil {
			return fmt.Errorf("failed to open probe input: %w", err)
		}
		defer f.Close()
		input = f
	}

	csvOut, err := output.NewCSVWriter(cfg.OutputFileCSV)
	if err != nil {
		return err
	}

	var pcapOut io.Writer
	var pcapFile *os.File
	if cfg.OutputFilePCAP != "" {
		pcapFile, err = os.Create(cfg.OutputFilePCAP)
		if err != nil {
			csvOut.Close()
			return fmt.Errorf("failed to create PCAP output: %w", err)
		}
		pcapOut = pcapFile
	}

	proberCfg := prober.Config{
		Interface:       cfg.Interface,
		Protocol:        protocol,
		ProbingRate:     cfg.ProbingRate,
		RateMethod:      method,
		NPackets:        cfg.NPackets,
		SnifferWaitTime: time.Duration(cfg.SnifferWaitTime) * time.Second,
		MaxProbes:       cfg.MaxProbes,
		FilterMinTTL:    cfg.FilterMinTTL,
		FilterMaxTTL:    cfg.FilterMaxTTL,
		PrefixExclFile:  cfg.PrefixExclFile,
		PrefixInclFile:  cfg.PrefixInclFile,
		Round:           cfg.MetaRound,
	}

	probes := prober.NewCSVProbeReader(input)
	_, probeErr := prober.Probe(cmd.Context(), proberCfg, probes, csvOut, pcapOut)

	errs := []error{probeErr, csvOut.Close()}
	if pcapFile != nil {
		errs = append(errs, pcapFile.Close())
	}
	return errors.Join(errs...)
}
