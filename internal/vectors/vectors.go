// Package vectors adapts externally produced embedding vectors into the
// shared space: fixed dimension, unit L2 rows, little-endian float32 block
// encoding, and the embedding model fingerprint recorded in receipts.
package vectors

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/Maverick0351a/latticedb/internal/canon"
)

// ErrDimMismatch is returned when a vector's dimension disagrees with the
// configured embedding dimension.
var ErrDimMismatch = errors.New("embedding dimension mismatch")

// NormTolerance bounds the allowed deviation from unit norm for stored rows.
const NormTolerance = 1e-6

// normFloor guards against division by zero when normalizing.
const normFloor = 1e-12

// Fingerprint derives the attested model_sha256 from the model identity.
func Fingerprint(model, revision string) string {
	return canon.SHA256String(model + "@" + revision)
}

// Block is a row-major block of unit vectors. Values are held as float64 but
// are exactly representable in float32, so the bytes written to disk and the
// numbers fed to the solver agree.
type Block struct {
	Dim  int
	Rows [][]float64
}

// NewBlock normalizes raw vectors into a Block. Every row must have
// dimension dim; rows are scaled to unit L2 and rounded to float32.
func NewBlock(raw [][]float32, dim int) (*Block, error) {
	rows := make([][]float64, len(raw))
	for i, v := range raw {
		row, err := Normalize(v, dim)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		rows[i] = row
	}
	return &Block{Dim: dim, Rows: rows}, nil
}

// Normalize scales v to unit L2 in float64 and rounds each component to
// float32. Returns ErrDimMismatch when len(v) != dim.
func Normalize(v []float32, dim int) ([]float64, error) {
	if len(v) != dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimMismatch, len(v), dim)
	}
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm < normFloor {
		norm = normFloor
	}
	out := make([]float64, dim)
	for i, x := range v {
		out[i] = float64(float32(float64(x) / norm))
	}
	return out, nil
}

// NormalizeUnit re-normalizes a float64 vector (already in the space) and
// rounds to float32 representable values. Used for centroids.
func NormalizeUnit(v []float64) []float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	norm := math.Sqrt(sum)
	if norm < normFloor {
		norm = normFloor
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(float32(x / norm))
	}
	return out
}

// Centroid returns the unit-normalized mean of the block's rows.
func (b *Block) Centroid() []float64 {
	mean := make([]float64, b.Dim)
	if len(b.Rows) == 0 {
		return mean
	}
	for _, row := range b.Rows {
		for j, x := range row {
			mean[j] += x
		}
	}
	n := float64(len(b.Rows))
	for j := range mean {
		mean[j] /= n
	}
	return NormalizeUnit(mean)
}

// Float32 returns the block as a flat row-major float32 slice.
func (b *Block) Float32() []float32 {
	flat := make([]float32, 0, len(b.Rows)*b.Dim)
	for _, row := range b.Rows {
		for _, x := range row {
			flat = append(flat, float32(x))
		}
	}
	return flat
}

// Dot computes the inner product of two float64 vectors. On unit vectors
// this is the cosine similarity.
func Dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Pack encodes float32 values as little-endian bytes.
func Pack(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// Unpack decodes little-endian bytes into float32 values.
func Unpack(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// UnpackRows decodes a flat little-endian float32 buffer into float64 rows
// of the given dimension. The byte length must be a multiple of dim*4.
func UnpackRows(b []byte, dim int) ([][]float64, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dim %d", ErrDimMismatch, dim)
	}
	stride := dim * 4
	if len(b)%stride != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrDimMismatch, len(b), stride)
	}
	n := len(b) / stride
	rows := make([][]float64, n)
	for i := 0; i < n; i++ {
		row := make([]float64, dim)
		off := i * stride
		for j := 0; j < dim; j++ {
			row[j] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b[off+j*4:])))
		}
		rows[i] = row
	}
	return rows, nil
}

// DotBytes computes the inner product of a packed little-endian float32 row
// against a float64 query without materializing the row.
func DotBytes(row []byte, q []float64) float64 {
	var sum float64
	for j := range q {
		sum += float64(math.Float32frombits(binary.LittleEndian.Uint32(row[j*4:]))) * q[j]
	}
	return sum
}

// CheckUnit reports whether every row of the block is unit length within
// NormTolerance.
func (b *Block) CheckUnit() error {
	for i, row := range b.Rows {
		var sum float64
		for _, x := range row {
			sum += x * x
		}
		norm := math.Sqrt(sum)
		if norm < 1-NormTolerance || norm > 1+NormTolerance {
			return fmt.Errorf("row %d norm %v outside unit tolerance", i, norm)
		}
	}
	return nil
}
