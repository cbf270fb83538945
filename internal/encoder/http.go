package encoder

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/motionmatch/internal/errs"
)

// HTTPConfig configures the remote feature-extraction client.
type HTTPConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	NumFrames  int
	Dimensions int
}

// HTTPEncoder calls a feature-extraction service over HTTP.
type HTTPEncoder struct {
	client     *resty.Client
	model      string
	numFrames  int
	dimensions int
}

// NewHTTPEncoder creates a new HTTP encoder client.
func NewHTTPEncoder(cfg *HTTPConfig) *HTTPEncoder {
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}

	return &HTTPEncoder{
		client:     client,
		model:      cfg.Model,
		numFrames:  cfg.NumFrames,
		dimensions: cfg.Dimensions,
	}
}

type encodeRequest struct {
	Path      string `json:"path"`
	Model     string `json:"model,omitempty"`
	NumFrames int    `json:"num_frames,omitempty"`
}

type encodeResponse struct {
	Embedding []float32 `json:"embedding"`
	Detail    string    `json:"detail,omitempty"`
}

// Encode posts the video path and returns the embedding.
func (e *HTTPEncoder) Encode(ctx context.Context, in Input) ([]float32, error) {
	var resp encodeResponse
	httpResp, err := e.client.R().
		SetContext(ctx).
		SetBody(encodeRequest{Path: in.Path, Model: e.model, NumFrames: e.numFrames}).
		SetResult(&resp).
		SetError(&resp).
		Post("/encode")
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errs.Wrap(errs.KindEncodingFailed, "failed to call encoder service", err)
	}

	switch code := httpResp.StatusCode(); {
	case code == http.StatusOK:
	case code == http.StatusUnsupportedMediaType || code == http.StatusUnprocessableEntity:
		return nil, errs.Newf(errs.KindUnsupportedFormat, "encoder rejected video: %s", detailOr(resp.Detail, code)).
			WithDetail("path", in.Path)
	case code == http.StatusGatewayTimeout || code == http.StatusRequestTimeout:
		return nil, errs.Newf(errs.KindTimeout, "encoder timed out: %s", detailOr(resp.Detail, code))
	default:
		return nil, errs.Newf(errs.KindEncodingFailed, "encoder service error: %s", detailOr(resp.Detail, code))
	}

	if len(resp.Embedding) == 0 {
		return nil, errs.New(errs.KindEncodingFailed, "no embedding returned")
	}
	return resp.Embedding, nil
}

func detailOr(detail string, code int) string {
	if detail != "" {
		return detail
	}
	return fmt.Sprintf("status %d", code)
}

// Dimensions returns the configured vector size.
func (e *HTTPEncoder) Dimensions() int {
	return e.dimensions
}

// Model returns the model name being used.
func (e *HTTPEncoder) Model() string {
	return e.model
}
