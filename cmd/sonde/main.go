// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024-present the sonde authors.

// Package main provides the sonde probing binary.
package main

import "github.com/probelab/sonde/cmd"

func main() {
	cmd.Execute()
}
