package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// MerkleRoot computes the binary Merkle root over the attested leaf set:
// the 32-byte state_sig preimages sorted ascending byte-lex, followed by
// config_hash as the last leaf. A level with an odd node count duplicates
// its last node. Internal node = SHA-256(left || right).
func MerkleRoot(stateSigs []string, configHash string) (string, error) {
	sorted := make([]string, len(stateSigs))
	copy(sorted, stateSigs)
	sort.Strings(sorted)

	leaves := make([][]byte, 0, len(sorted)+1)
	for _, sig := range sorted {
		b, err := hex.DecodeString(sig)
		if err != nil {
			return "", fmt.Errorf("merkle: bad state_sig %q: %w", sig, err)
		}
		leaves = append(leaves, b)
	}
	if configHash != "" {
		b, err := hex.DecodeString(configHash)
		if err != nil {
			return "", fmt.Errorf("merkle: bad config_hash %q: %w", configHash, err)
		}
		leaves = append(leaves, b)
	}
	return merkle(leaves), nil
}

func merkle(leaves [][]byte) string {
	if len(leaves) == 0 {
		return SHA256Hex(nil)
	}
	layer := leaves
	for len(layer) > 1 {
		next := make([][]byte, 0, (len(layer)+1)/2)
		for i := 0; i < len(layer); i += 2 {
			left := layer[i]
			right := left
			if i+1 < len(layer) {
				right = layer[i+1]
			}
			h := sha256.New()
			h.Write(left)
			h.Write(right)
			next = append(next, h.Sum(nil))
		}
		layer = next
	}
	return hex.EncodeToString(layer[0])
}
