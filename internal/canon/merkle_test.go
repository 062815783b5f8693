package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func hexLeaf(b byte) string {
	buf := make([]byte, 32)
	for i := range buf {
		buf[i] = b
	}
	return hex.EncodeToString(buf)
}

func TestMerkleRoot_Empty(t *testing.T) {
	got := merkle(nil)
	want := SHA256Hex(nil)
	if got != want {
		t.Errorf("empty root = %s, want %s", got, want)
	}
}

func TestMerkleRoot_SingleLeaf(t *testing.T) {
	// A single leaf is the root itself.
	cfg := hexLeaf(0xaa)
	got, err := MerkleRoot(nil, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if got != cfg {
		t.Errorf("single-leaf root = %s, want %s", got, cfg)
	}
}

func TestMerkleRoot_TwoLeaves(t *testing.T) {
	sig := hexLeaf(0x01)
	cfg := hexLeaf(0x02)
	got, err := MerkleRoot([]string{sig}, cfg)
	if err != nil {
		t.Fatal(err)
	}

	a, _ := hex.DecodeString(sig)
	b, _ := hex.DecodeString(cfg)
	h := sha256.New()
	h.Write(a)
	h.Write(b)
	want := hex.EncodeToString(h.Sum(nil))
	if got != want {
		t.Errorf("root = %s, want %s", got, want)
	}
}

func TestMerkleRoot_SortsSigsButNotConfig(t *testing.T) {
	// Sigs are sorted ascending; config_hash stays last even when it would
	// sort first.
	sigs := []string{hexLeaf(0x03), hexLeaf(0x01)}
	cfg := hexLeaf(0x00)

	got, err := MerkleRoot(sigs, cfg)
	if err != nil {
		t.Fatal(err)
	}

	l1, _ := hex.DecodeString(hexLeaf(0x01))
	l3, _ := hex.DecodeString(hexLeaf(0x03))
	lc, _ := hex.DecodeString(cfg)

	h := sha256.New()
	h.Write(l1)
	h.Write(l3)
	left := h.Sum(nil)

	// Odd count at the leaf level: config leaf is duplicated.
	h = sha256.New()
	h.Write(lc)
	h.Write(lc)
	right := h.Sum(nil)

	h = sha256.New()
	h.Write(left)
	h.Write(right)
	want := hex.EncodeToString(h.Sum(nil))
	if got != want {
		t.Errorf("root = %s, want %s", got, want)
	}
}

func TestMerkleRoot_OrderIndependentForSigs(t *testing.T) {
	cfg := hexLeaf(0xff)
	a, err := MerkleRoot([]string{hexLeaf(0x01), hexLeaf(0x02)}, cfg)
	if err != nil {
		t.Fatal(err)
	}
	b, err := MerkleRoot([]string{hexLeaf(0x02), hexLeaf(0x01)}, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("root depends on state_sig input order")
	}
}

func TestMerkleRoot_RejectsBadHex(t *testing.T) {
	if _, err := MerkleRoot([]string{"zz"}, hexLeaf(0x01)); err == nil {
		t.Error("expected error for invalid hex leaf")
	}
}
