package encoder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/timmy/motionmatch/internal/errs"
)

// HashEncoder derives a deterministic unit vector from the content fingerprint.
// Identical content always maps to the identical vector. It stands in for a
// real model in local runs and tests.
type HashEncoder struct {
	dimensions int
}

// NewHashEncoder creates a HashEncoder producing vectors of the given size.
func NewHashEncoder(dimensions int) *HashEncoder {
	return &HashEncoder{dimensions: dimensions}
}

// Encode expands the fingerprint into a normalized vector.
func (e *HashEncoder) Encode(ctx context.Context, in Input) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if in.Fingerprint == "" {
		return nil, errs.New(errs.KindEncodingFailed, "hash encoder needs a fingerprint")
	}

	vec := make([]float32, e.dimensions)
	var norm float64
	block := sha256.Sum256([]byte(in.Fingerprint))
	for i := range vec {
		if i > 0 && i%8 == 0 {
			block = sha256.Sum256(block[:])
		}
		off := (i % 8) * 4
		u := binary.BigEndian.Uint32(block[off : off+4])
		f := float64(u)/float64(math.MaxUint32)*2 - 1
		vec[i] = float32(f)
		norm += f * f
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec, nil
}

// Dimensions returns the vector size.
func (e *HashEncoder) Dimensions() int {
	return e.dimensions
}

// Model returns the encoder name.
func (e *HashEncoder) Model() string {
	return "hash-sha256"
}
