// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024-present the sonde authors.

// Package lpm implements a longest-prefix-match store over IPv4 and IPv6
// prefixes. IPv4 prefixes are held in the v4-mapped IPv6 space so a single
// 128-bit trie serves both families. The trie is built once at startup and
// is read-only afterwards, so lookups need no locking.
package lpm

import (
	"bufio"
	"fmt"
	"net/netip"
	"os"
	"strings"

	"github.com/probelab/sonde/log"
)

const v4MappedBits = 96

type node struct {
	children [2]*node
	terminal bool
}

// Trie is a binary radix trie over 128-bit addresses storing presence only.
// Lookup returns true iff any inserted prefix covers the address.
type Trie struct {
	root *node
	size int
}

// New returns an empty trie.
func New() *Trie {
	return &Trie{root: &node{}}
}

// Size returns the number of inserted prefixes.
func (t *Trie) Size() int {
	return t.size
}

// Insert adds a prefix to the trie. IPv4 prefixes are converted to their
// v4-mapped form with the prefix length extended by 96 bits.
func (t *Trie) Insert(prefix netip.Prefix) {
	addr := prefix.Addr()
	bits := prefix.Bits()
	if addr.Is4() {
		addr = netip.AddrFrom16(addr.As16())
		bits += v4MappedBits
	}

	raw := addr.As16()
	n := t.root
	for i := 0; i < bits; i++ {
		bit := (raw[i/8] >> (7 - i%8)) & 1
		if n.children[bit] == nil {
			n.children[bit] = &node{}
		}
		n = n.children[bit]
	}
	if !n.terminal {
		n.terminal = true
		t.size++
	}
}

// Lookup reports whether any inserted prefix covers addr. The walk stops at
// the first terminal node on the path.
func (t *Trie) Lookup(addr netip.Addr) bool {
	if addr.Is4() {
		addr = netip.AddrFrom16(addr.As16())
	}

	raw := addr.As16()
	n := t.root
	for i := 0; i < 128; i++ {
		if n.terminal {
			return true
		}
		bit := (raw[i/8] >> (7 - i%8)) & 1
		if n.children[bit] == nil {
			return false
		}
		n = n.children[bit]
	}
	return n.terminal
}

// InsertFile bulk-loads one CIDR prefix per line from path. Malformed lines
// are skipped with a warning. Empty lines and #-comments are ignored.
func (t *Trie) InsertFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open prefix file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		prefix, err := netip.ParsePrefix(line)
		if err != nil {
			log.Warnf("skipping malformed prefix at %s:%d: %q", path, lineno, line)
			continue
		}
		t.Insert(prefix)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read prefix file: %w", err)
	}
	return nil
}
