// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024-present the sonde authors.

package cmd

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the full run configuration. Values resolve in three layers:
// built-in defaults, then an optional YAML file, then command line flags.
type Config struct {
	Interface          string `yaml:"interface" env:"SONDE_INTERFACE"`
	Protocol           string `yaml:"protocol" env:"SONDE_PROTOCOL"`
	ProbingRate        int    `yaml:"probing_rate" env:"SONDE_PROBING_RATE"`
	RateLimitingMethod string `yaml:"rate_limiting_method" env:"SONDE_RATE_LIMITING_METHOD"`
	NPackets           int    `yaml:"n_packets" env:"SONDE_N_PACKETS"`
	SnifferWaitTime    uint   `yaml:"sniffer_wait_time" env:"SONDE_SNIFFER_WAIT_TIME"`
	MaxProbes          uint64 `yaml:"max_probes" env:"SONDE_MAX_PROBES"`
	FilterMinTTL       uint8  `yaml:"filter_min_ttl" env:"SONDE_FILTER_MIN_TTL"`
	FilterMaxTTL       uint8  `yaml:"filter_max_ttl" env:"SONDE_FILTER_MAX_TTL"`
	PrefixExclFile     string `yaml:"prefix_excl_file" env:"SONDE_PREFIX_EXCL_FILE"`
	PrefixInclFile     string `yaml:"prefix_incl_file" env:"SONDE_PREFIX_INCL_FILE"`
	InputFile          string `yaml:"input_file" env:"SONDE_INPUT_FILE"`
	OutputFileCSV      string `yaml:"output_file_csv" env:"SONDE_OUTPUT_FILE_CSV"`
	OutputFilePCAP     string `yaml:"output_file_pcap" env:"SONDE_OUTPUT_FILE_PCAP"`
	MetaRound          string `yaml:"meta_round" env:"SONDE_META_ROUND"`
	LogLevel           string `yaml:"log_level" env:"SONDE_LOG_LEVEL"`
}

func defaultConfig() Config {
	return Config{
		Protocol:           "icmp",
		ProbingRate:        100000,
		RateLimitingMethod: "sleep",
		NPackets:           1,
		SnifferWaitTime:    5,
		LogLevel:           "info",
	}
}

// loadConfig resolves the configuration layers. path may be empty, in which
// case only defaults and environment variables apply.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return cfg, fmt.Errorf("failed to read environment: %w", err)
		}
		return cfg, nil
	}
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return cfg, nil
}
