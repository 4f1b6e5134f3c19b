// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024-present the sonde authors.

package reply

import (
	"encoding/binary"
)

// RFC 4884 extension structure constants.
const (
	extVersion        = 2
	classMPLS         = 1
	ctypeMPLSIncoming = 1

	// legacyExtensionOffset is where pre-RFC-4884 routers place the
	// extension structure: after 128 bytes of quoted datagram.
	legacyExtensionOffset = 128
)

// mplsLabels extracts the MPLS label stack (RFC 4950) from the quoted
// datagram region of an ICMP error message. lengthField is the RFC 4884
// length of the quoted datagram, in units of unit bytes; a zero length falls
// back to the legacy 128-byte offset. Returns nil when no valid extension
// structure is present.
func mplsLabels(datagram []byte, lengthField uint8, unit int) []uint32 {
	offset := int(lengthField) * unit
	if offset == 0 {
		offset = legacyExtensionOffset
	}
	if offset+4 > len(datagram) {
		return nil
	}

	ext := datagram[offset:]
	if ext[0]>>4 != extVersion {
		return nil
	}

	var labels []uint32
	objects := ext[4:]
	for len(objects) >= 4 {
		objLen := int(binary.BigEndian.Uint16(objects[0:2]))
		class := objects[2]
		ctype := objects[3]
		if objLen < 4 || objLen > len(objects) {
			break
		}
		if class == classMPLS && ctype == ctypeMPLSIncoming {
			stack := objects[4:objLen]
			for len(stack) >= 4 {
				entry := binary.BigEndian.Uint32(stack[0:4])
				labels = append(labels, entry>>12)
				if entry&0x00000100 != 0 {
					// bottom of stack
					break
				}
				stack = stack[4:]
			}
		}
		objects = objects[objLen:]
	}
	return labels
}
