// Copyright (C) 2025, Indra Network Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package formatting provides the hex encodings internal/ids uses to
// render PeerIdentity/InterfaceId/ArtifactId/EventId for logs and
// diagnostics.
package formatting

import (
	"encoding/hex"
	"fmt"
)

// Encoding specifies the format of the string representation.
type Encoding uint8

const (
	// HexC is hex with a "0x" prefix.
	HexC Encoding = iota
	// HexNC is hex without a prefix.
	HexNC
)

// Encode encodes bytes to a string in the given encoding.
func Encode(encoding Encoding, bytes []byte) (string, error) {
	switch encoding {
	case HexC:
		return "0x" + hex.EncodeToString(bytes), nil
	case HexNC:
		return hex.EncodeToString(bytes), nil
	default:
		return "", fmt.Errorf("formatting: unknown encoding %d", encoding)
	}
}

// Decode decodes a string in the given encoding to bytes.
func Decode(encoding Encoding, str string) ([]byte, error) {
	switch encoding {
	case HexC:
		if len(str) < 2 || str[:2] != "0x" {
			return nil, fmt.Errorf("formatting: hex string must start with 0x")
		}
		return hex.DecodeString(str[2:])
	case HexNC:
		return hex.DecodeString(str)
	default:
		return nil, fmt.Errorf("formatting: unknown encoding %d", encoding)
	}
}
