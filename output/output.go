// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024-present the sonde authors.

// Package output provides the CSV output sink. Paths ending in .zst are
// transparently zstd-compressed; close flushes the frame, data written to a
// writer that is never closed is lost.
package output

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// CSVWriter is a buffered, optionally compressed line sink.
type CSVWriter struct {
	file *os.File
	zstd *zstd.Encoder
	buf  *bufio.Writer
}

var _ io.WriteCloser = &CSVWriter{}

// NewCSVWriter opens path for writing. An empty path or "-" writes to
// stdout. A .zst suffix enables zstd compression.
func NewCSVWriter(path string) (*CSVWriter, error) {
	w := &CSVWriter{}

	var sink io.Writer
	if path == "" || path == "-" {
		sink = os.Stdout
	} else {
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file: %w", err)
		}
		w.file = f
		sink = f
	}

	if strings.HasSuffix(path, ".zst") {
		enc, err := zstd.NewWriter(sink)
		if err != nil {
			if w.file != nil {
				w.file.Close()
			}
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		w.zstd = enc
		sink = enc
	}

	w.buf = bufio.NewWriter(sink)
	return w, nil
}

func (w *CSVWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

// Close flushes the buffer, finishes the zstd frame and closes the file.
func (w *CSVWriter) Close() error {
	var errs []error
	errs = append(errs, w.buf.Flush())
	if w.zstd != nil {
		errs = append(errs, w.zstd.Close())
	}
	if w.file != nil {
		errs = append(errs, w.file.Close())
	}
	return errors.Join(errs...)
}
