package encoder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/motionmatch/internal/errs"
)

func TestHTTPEncoder(t *testing.T) {
	var gotAuth string
	var gotReq encodeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		switch gotReq.Path {
		case "/ok.mp4":
			_, _ = w.Write([]byte(`{"embedding":[0.5,0.25,0.125]}`))
		case "/bad.mp4":
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"detail":"cannot decode"}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	enc := NewHTTPEncoder(&HTTPConfig{BaseURL: srv.URL + "/", APIKey: "k", Model: "vjepa2", NumFrames: 16, Dimensions: 3})

	vec, err := enc.Encode(context.Background(), Input{Path: "/ok.mp4"})
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25, 0.125}, vec)
	assert.Equal(t, "Bearer k", gotAuth)
	assert.Equal(t, "vjepa2", gotReq.Model)
	assert.Equal(t, 16, gotReq.NumFrames)

	_, err = enc.Encode(context.Background(), Input{Path: "/bad.mp4"})
	assert.Equal(t, errs.KindUnsupportedFormat, errs.KindOf(err))

	_, err = enc.Encode(context.Background(), Input{Path: "/boom.mp4"})
	assert.Equal(t, errs.KindEncodingFailed, errs.KindOf(err))
}
