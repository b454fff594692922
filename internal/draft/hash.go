package draft

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Hash returns the hex sha256 of the payload's canonical JSON encoding.
// Struct fields encode in declaration order, map keys sorted and cvData is
// already canonical, so equal content always hashes equally.
func Hash(p Payload) (string, error) {
	canonical, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
