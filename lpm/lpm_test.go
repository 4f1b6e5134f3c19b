// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024-present the sonde authors.

package lpm

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupV4(t *testing.T) {
	trie := New()
	trie.Insert(netip.MustParsePrefix("10.0.0.0/8"))
	trie.Insert(netip.MustParsePrefix("192.168.1.0/24"))

	assert.True(t, trie.Lookup(netip.MustParseAddr("10.1.2.3")))
	assert.True(t, trie.Lookup(netip.MustParseAddr("192.168.1.255")))
	assert.False(t, trie.Lookup(netip.MustParseAddr("192.168.2.1")))
	assert.False(t, trie.Lookup(netip.MustParseAddr("11.0.0.1")))
}

func TestLookupV4Mapped(t *testing.T) {
	// v4 prefixes must match v4-mapped query addresses.
	trie := New()
	trie.Insert(netip.MustParsePrefix("10.0.0.0/8"))
	assert.True(t, trie.Lookup(netip.MustParseAddr("::ffff:10.1.2.3")))
}

func TestLookupV6(t *testing.T) {
	trie := New()
	trie.Insert(netip.MustParsePrefix("2001:db8::/32"))

	assert.True(t, trie.Lookup(netip.MustParseAddr("2001:db8::1")))
	assert.True(t, trie.Lookup(netip.MustParseAddr("2001:db8:ffff::1")))
	assert.False(t, trie.Lookup(netip.MustParseAddr("2001:db9::1")))
}

func TestShorterPrefixWins(t *testing.T) {
	// A covering prefix answers even when a longer sibling does not match.
	trie := New()
	trie.Insert(netip.MustParsePrefix("10.0.0.0/8"))
	trie.Insert(netip.MustParsePrefix("10.1.0.0/16"))

	assert.True(t, trie.Lookup(netip.MustParseAddr("10.2.0.1")))
}

func TestHostPrefix(t *testing.T) {
	trie := New()
	trie.Insert(netip.MustParsePrefix("8.8.8.8/32"))

	assert.True(t, trie.Lookup(netip.MustParseAddr("8.8.8.8")))
	assert.False(t, trie.Lookup(netip.MustParseAddr("8.8.8.9")))
}

func TestDefaultRoute(t *testing.T) {
	trie := New()
	trie.Insert(netip.MustParsePrefix("::/0"))

	assert.True(t, trie.Lookup(netip.MustParseAddr("2001:db8::1")))
	assert.True(t, trie.Lookup(netip.MustParseAddr("1.2.3.4")))
}

func TestEmptyTrie(t *testing.T) {
	trie := New()
	assert.False(t, trie.Lookup(netip.MustParseAddr("1.2.3.4")))
	assert.Equal(t, 0, trie.Size())
}

func TestSizeDeduplicates(t *testing.T) {
	trie := New()
	trie.Insert(netip.MustParsePrefix("10.0.0.0/8"))
	trie.Insert(netip.MustParsePrefix("10.0.0.0/8"))
	assert.Equal(t, 1, trie.Size())
}

func TestInsertFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefixes.txt")
	content := "10.0.0.0/8\n\n# comment\n2001:db8::/32\nnot-a-prefix\n192.168.0.0/16\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	trie := New()
	require.NoError(t, trie.InsertFile(path))

	assert.Equal(t, 3, trie.Size())
	assert.True(t, trie.Lookup(netip.MustParseAddr("10.1.1.1")))
	assert.True(t, trie.Lookup(netip.MustParseAddr("2001:db8::1")))
	assert.True(t, trie.Lookup(netip.MustParseAddr("192.168.1.1")))
}

func TestInsertFileMissing(t *testing.T) {
	trie := New()
	assert.Error(t, trie.InsertFile(filepath.Join(t.TempDir(), "nope.txt")))
}
