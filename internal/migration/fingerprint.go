package migration

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

func digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// IdempotencyKey fingerprints a submission as
// hash(hash(mapping)) + "_" + hash(content).
func IdempotencyKey(mapping []Mapping, content []byte) (string, error) {
	encoded, err := json.Marshal(mapping)
	if err != nil {
		return "", fmt.Errorf("encode mapping: %w", err)
	}
	return digest([]byte(digest(encoded))) + "_" + digest(content), nil
}

func ContentHash(content []byte) string {
	return digest(content)
}

func encodeMapping(mapping []Mapping) (json.RawMessage, error) {
	encoded, err := json.Marshal(mapping)
	if err != nil {
		return nil, fmt.Errorf("encode mapping: %w", err)
	}
	return encoded, nil
}
