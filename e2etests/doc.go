// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024-present the sonde authors.

// Package e2etests exercises the sonde binary end to end. The tests build
// the CLI once, then drive it through its offline surfaces (version, help,
// pcap replay) so they run unprivileged and without network access.
package e2etests
