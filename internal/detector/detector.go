// Package detector calls the external vision model.
package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"parking-occupancy-service/internal/capture"
	"parking-occupancy-service/internal/config"
	"parking-occupancy-service/internal/domain/occupancy"
)

// Detector returns the objects found in one frame at or above minConfidence.
type Detector interface {
	Detect(ctx context.Context, frame capture.Frame, minConfidence float64) ([]occupancy.Detection, error)
}

// Box is the wire format shared by the model server and the detection push endpoint.
type Box struct {
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

func (b Box) Detection() occupancy.Detection {
	return occupancy.Detection{
		Rect:       occupancy.Rect{X1: b.X1, Y1: b.Y1, X2: b.X2, Y2: b.Y2},
		Label:      b.Label,
		Confidence: b.Confidence,
	}
}

type Response struct {
	Detections []Box `json:"detections"`
}

func (r Response) ToDetections() []occupancy.Detection {
	out := make([]occupancy.Detection, 0, len(r.Detections))
	for _, b := range r.Detections {
		out = append(out, b.Detection())
	}
	return out
}

// HTTPDetector posts the raw frame to a model server.
type HTTPDetector struct {
	endpoint string
	client   *http.Client
}

func NewHTTPDetector(cfg config.DetectorConfig) *HTTPDetector {
	return &HTTPDetector{
		endpoint: cfg.URL,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

func (d *HTTPDetector) Detect(ctx context.Context, frame capture.Frame, minConfidence float64) ([]occupancy.Detection, error) {
	if len(frame.Data) == 0 {
		return nil, fmt.Errorf("%w: empty frame", occupancy.ErrDetector)
	}

	u, err := url.Parse(d.endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid endpoint: %v", occupancy.ErrDetector, err)
	}
	q := u.Query()
	q.Set("conf", strconv.FormatFloat(minConfidence, 'f', -1, 64))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(frame.Data))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", occupancy.ErrDetector, err)
	}
	contentType := frame.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", occupancy.ErrDetector, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", occupancy.ErrDetector, resp.StatusCode, bytes.TrimSpace(body))
	}

	var payload Response
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", occupancy.ErrDetector, err)
	}
	return payload.ToDetections(), nil
}
