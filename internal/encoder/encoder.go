// Package encoder adapts external feature extractors to a fixed-dimension
// vector contract and bounds how many extractions run at once.
package encoder

import "context"

// Input identifies a video to encode.
type Input struct {
	Path        string
	Fingerprint string
}

// Encoder turns a video into a feature vector.
type Encoder interface {
	Encode(ctx context.Context, in Input) ([]float32, error)
	Dimensions() int
	Model() string
}
