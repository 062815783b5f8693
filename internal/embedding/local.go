package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// Compile-time interface check
var _ Embedder = (*Local)(nil)

// Local is a deterministic, offline embedder: vectors are derived from a
// SHA-256 expansion of the text. It carries no semantics beyond "identical
// text, identical vector" and exists for offline CLI runs and tests.
type Local struct {
	model string
	dim   int
}

// NewLocal creates a local embedder producing unit vectors of the given
// dimension.
func NewLocal(model string, dim int) *Local {
	return &Local{model: model, dim: dim}
}

// Embed derives a unit vector from the content.
func (l *Local) Embed(_ context.Context, content string) ([]float32, error) {
	v := make([]float32, l.dim)
	var counter uint32
	seed := sha256.Sum256([]byte(l.model + "\x00" + content))
	block := seed[:]
	var norm float64
	for i := 0; i < l.dim; i++ {
		off := (i % 8) * 4
		if i > 0 && i%8 == 0 {
			counter++
			var ctr [4]byte
			binary.LittleEndian.PutUint32(ctr[:], counter)
			next := sha256.Sum256(append(seed[:], ctr[:]...))
			block = next[:]
		}
		bits := binary.LittleEndian.Uint32(block[off : off+4])
		// Map to about [-1, 1].
		x := float64(int32(bits)) / float64(math.MaxInt32)
		v[i] = float32(x)
		norm += x * x
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		v[0] = 1
		return v, nil
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v, nil
}

// EmbedBatch derives vectors for each content string.
func (l *Local) EmbedBatch(ctx context.Context, contents []string) ([][]float32, error) {
	out := make([][]float32, len(contents))
	for i, c := range contents {
		v, err := l.Embed(ctx, c)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// ModelName returns the configured model identity.
func (l *Local) ModelName() string {
	return l.model
}
