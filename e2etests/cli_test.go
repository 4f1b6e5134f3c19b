// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024-present the sonde authors.

//go:build e2etest

package e2etests

import (
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probelab/sonde/packet"
)

var (
	cliBinaryPath string
	cliBinaryOnce sync.Once
)

// getCLIBinaryPath builds the sonde binary once per test run.
func getCLIBinaryPath(t *testing.T) string {
	cliBinaryOnce.Do(func() {
		dir, err := os.MkdirTemp("", "sonde-e2e")
		require.NoError(t, err)
		cliBinaryPath = filepath.Join(dir, "sonde")
		buildCmd := exec.Command("go", "build", "-o", cliBinaryPath, "./cmd/sonde")
		buildCmd.Dir = ".."
		out, err := buildCmd.CombinedOutput()
		require.NoError(t, err, "go build failed: %s", out)
	})
	require.NotEmpty(t, cliBinaryPath)
	return cliBinaryPath
}

func TestVersionCommand(t *testing.T) {
	out, err := exec.Command(getCLIBinaryPath(t), "version").CombinedOutput()
	require.NoError(t, err)
	assert.Contains(t, string(out), "Version:")
	assert.Contains(t, string(out), "Go Version:")
}

func TestHelpListsAllOptions(t *testing.T) {
	out, err := exec.Command(getCLIBinaryPath(t), "--help").CombinedOutput()
	require.NoError(t, err)
	for _, flag := range []string{
		"--interface", "--protocol", "--probing-rate", "--rate-limiting-method",
		"--n-packets", "--sniffer-wait-time", "--max-probes",
		"--filter-min-ttl", "--filter-max-ttl",
		"--filter-from-prefix-file-excl", "--filter-from-prefix-file-incl",
		"--input-file", "--output-file-csv", "--output-file-pcap", "--meta-round",
	} {
		assert.Contains(t, string(out), flag)
	}
}

func TestMissingInterfaceFails(t *testing.T) {
	cmd := exec.Command(getCLIBinaryPath(t), "--input-file", os.DevNull)
	out, err := cmd.CombinedOutput()
	require.Error(t, err, "a run without an interface must exit non-zero: %s", out)
}

func TestReadReplaysCapture(t *testing.T) {
	pcapPath := filepath.Join(t.TempDir(), "capture.pcap")
	writeCapture(t, pcapPath)
	csvPath := filepath.Join(t.TempDir(), "replies.csv")

	out, err := exec.Command(getCLIBinaryPath(t), "read", pcapPath,
		"--output-file-csv", csvPath, "--meta-round", "e2e-1").CombinedOutput()
	require.NoError(t, err, "read failed: %s", out)

	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)
	assert.True(t, strings.HasPrefix(lines[0], "9.9.9.9,"))
	assert.True(t, strings.HasSuffix(lines[0], ",e2e-1,1"))
}

// writeCapture stores a single synthesized ICMP Time Exceeded reply.
func writeCapture(t *testing.T, path string) {
	probe, err := packet.ParseProbe("1.2.3.4,4660,0,5,icmp")
	require.NoError(t, err)

	buf := make([]byte, packet.BufferSize)
	b, err := packet.NewBuffer(buf, packet.LinkNone, packet.L3IPv4, packet.L4ICMP, 16)
	require.NoError(t, err)
	packet.InitIPv4(b, packet.L4ICMP, probe.UnmappedDstAddr(), probe.UnmappedDstAddr(), probe.TTL)
	require.NoError(t, packet.InitICMP(b, probe.FlowChecksum(), uint16(probe.TTL)))
	quote := make([]byte, b.L3Size())
	copy(quote, b.L3())

	ip4 := &layers.IPv4{
		Version:  4,
		TTL:      62,
		SrcIP:    net.ParseIP("9.9.9.9"),
		DstIP:    net.ParseIP("10.0.0.1"),
		Protocol: layers.IPProtocolICMPv4,
	}
	icmp := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeTimeExceeded, layers.ICMPv4CodeTTLExceeded),
	}
	serialized := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(serialized, opts, ip4, icmp, gopacket.Payload(quote)))

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(packet.BufferSize, layers.LinkTypeRaw))
	ci := gopacket.CaptureInfo{
		Timestamp:     time.Now(),
		CaptureLength: len(serialized.Bytes()),
		Length:        len(serialized.Bytes()),
	}
	require.NoError(t, w.WritePacket(ci, serialized.Bytes()))
}
