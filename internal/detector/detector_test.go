package detector

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking-occupancy-service/internal/capture"
	"parking-occupancy-service/internal/config"
	"parking-occupancy-service/internal/domain/occupancy"
)

func TestHTTPDetectorDetect(t *testing.T) {
	var gotConf, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotConf = r.URL.Query().Get("conf")
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"detections":[{"x1":90,"y1":90,"x2":150,"y2":150,"label":"car","confidence":0.9}]}`)
	}))
	defer srv.Close()

	d := NewHTTPDetector(config.DetectorConfig{URL: srv.URL + "/predict", Timeout: time.Second})
	detections, err := d.Detect(context.Background(), capture.Frame{Data: []byte("jpeg"), ContentType: "image/jpeg"}, 0.25)
	require.NoError(t, err)

	assert.Equal(t, "0.25", gotConf)
	assert.Equal(t, "image/jpeg", gotType)
	assert.Equal(t, "jpeg", string(gotBody))
	require.Len(t, detections, 1)
	assert.Equal(t, occupancy.Detection{
		Rect:       occupancy.Rect{X1: 90, Y1: 90, X2: 150, Y2: 150},
		Label:      "car",
		Confidence: 0.9,
	}, detections[0])
}

func TestHTTPDetectorFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		frame   capture.Frame
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "model crashed", http.StatusInternalServerError)
			},
			frame: capture.Frame{Data: []byte("jpeg")},
		},
		{
			name:    "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) { _, _ = io.WriteString(w, "{not json") },
			frame:   capture.Frame{Data: []byte("jpeg")},
		},
		{
			name:    "empty frame",
			handler: func(w http.ResponseWriter, r *http.Request) { _, _ = io.WriteString(w, `{"detections":[]}`) },
			frame:   capture.Frame{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			d := NewHTTPDetector(config.DetectorConfig{URL: srv.URL, Timeout: time.Second})
			_, err := d.Detect(context.Background(), tt.frame, 0.25)
			assert.ErrorIs(t, err, occupancy.ErrDetector)
		})
	}
}
