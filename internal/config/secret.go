package config

import (
	"encoding/hex"
	"fmt"
)

// sealingKeyBytes is the required length of the vault sealing key (AES-256).
const sealingKeyBytes = 32

// decodeHexKey decodes a hex-encoded sealing key and checks its length.
func decodeHexKey(raw string) ([]byte, error) {
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding hex key: %w", err)
	}

	if len(key) != sealingKeyBytes {
		return nil, fmt.Errorf("key must be %d bytes, got %d", sealingKeyBytes, len(key))
	}

	return key, nil
}
