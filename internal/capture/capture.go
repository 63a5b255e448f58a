// Package capture pulls frames from the camera.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"parking-occupancy-service/internal/config"
)

var ErrCamera = errors.New("camera snapshot failed")

const maxSnapshotBytes = 16 << 20

type Frame struct {
	Seq         uint64
	Data        []byte
	ContentType string
	CapturedAt  time.Time
}

// FrameSource yields frames at the camera's own cadence. Next blocks until a
// frame is available or ctx is done.
type FrameSource interface {
	Next(ctx context.Context) (Frame, error)
}

// HTTPSnapshotSource polls the camera's ISAPI snapshot endpoint.
type HTTPSnapshotSource struct {
	url      string
	username string
	password string
	interval time.Duration
	client   *http.Client

	seq  uint64
	last time.Time
}

func NewHTTPSnapshotSource(cfg config.CameraConfig) *HTTPSnapshotSource {
	return &HTTPSnapshotSource{
		url:      SnapshotURL(cfg),
		username: cfg.Username,
		password: cfg.Password,
		interval: cfg.CaptureInterval,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

func SnapshotURL(cfg config.CameraConfig) string {
	return strings.TrimRight(cfg.HTTPHost, "/") + "/" + strings.TrimLeft(cfg.SnapshotPath, "/")
}

func (s *HTTPSnapshotSource) URL() string {
	return s.url
}

func (s *HTTPSnapshotSource) Next(ctx context.Context) (Frame, error) {
	if !s.last.IsZero() && s.interval > 0 {
		wait := s.interval - time.Since(s.last)
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return Frame{}, ctx.Err()
			case <-timer.C:
			}
		}
	}
	s.last = time.Now()

	data, contentType, err := s.fetch(ctx)
	if err != nil {
		return Frame{}, err
	}
	s.seq++
	return Frame{
		Seq:         s.seq,
		Data:        data,
		ContentType: contentType,
		CapturedAt:  s.last.UTC(),
	}, nil
}

func (s *HTTPSnapshotSource) fetch(ctx context.Context) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: build request: %v", ErrCamera, err)
	}
	if s.username != "" {
		req.SetBasicAuth(s.username, s.password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrCamera, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: unexpected status %d", ErrCamera, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return nil, "", fmt.Errorf("%w: read body: %v", ErrCamera, err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty snapshot", ErrCamera)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}
