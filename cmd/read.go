// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024-present the sonde authors.

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/probelab/sonde/log"
	"github.com/probelab/sonde/output"
	"github.com/probelab/sonde/prober"
)

var readArgs struct {
	outputFileCSV string
	metaRound     string
	logLevel      string
}

var readCmd = &cobra.Command{
	Use:   "read [pcap file]",
	Short: "Replay a capture file through the reply parser",
	Long: `read decodes a previously recorded PCAP file and emits the same
reply CSV a live run would have produced, using the first frame's
timestamp as the RTT reference.`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := log.ParseLogLevel(readArgs.logLevel)
		if err != nil {
			return err
		}
		log.SetLogLevel(level)

		in, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open capture file: %w", err)
		}
		defer in.Close()

		csvOut, err := output.NewCSVWriter(readArgs.outputFileCSV)
		if err != nil {
			return err
		}

		_, readErr := prober.ReadPCAP(in, csvOut, readArgs.metaRound)
		return errors.Join(readErr, csvOut.Close())
	},
}

func init() {
	f := readCmd.Flags()
	f.StringVarP(&readArgs.outputFileCSV, "output-file-csv", "o", "", "Reply CSV output, stdout if unset, .zst compresses")
	f.StringVar(&readArgs.metaRound, "meta-round", "", "Round tag attached to every CSV line")
	f.StringVarP(&readArgs.logLevel, "log-level", "l", "info", "Log level (error, warn, info, debug, trace)")
	rootCmd.AddCommand(readCmd)
}
