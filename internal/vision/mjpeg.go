package vision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"doorkeeper/internal/faults"
	"doorkeeper/internal/logging"
)

const maxFrameBytes = 8 << 20

// MJPEGSource reads frames from a multipart/x-mixed-replace camera stream.
// The connection is opened on the first Read.
type MJPEGSource struct {
	url          string
	frameTimeout time.Duration
	client       *http.Client
	logger       *slog.Logger

	mu     sync.Mutex
	resp   *http.Response
	parts  *multipart.Reader
	cancel context.CancelFunc
	seq    uint64
}

// NewMJPEGSource returns a source for the camera at url.
func NewMJPEGSource(url string, frameTimeout time.Duration, logger *slog.Logger) *MJPEGSource {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &MJPEGSource{
		url:          url,
		frameTimeout: frameTimeout,
		client:       &http.Client{},
		logger:       logging.NewComponentLogger(logger, "camera"),
	}
}

// Read returns the next frame. It returns io.EOF when the camera ends the
// stream.
func (s *MJPEGSource) Read(ctx context.Context) (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.parts == nil {
		if err := s.open(ctx); err != nil {
			return Frame{}, err
		}
	}

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	parts := s.parts
	go func() {
		data, err := nextJPEGPart(parts)
		done <- result{data, err}
	}()

	var timeout <-chan time.Time
	if s.frameTimeout > 0 {
		timer := time.NewTimer(s.frameTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		s.closeLocked()
		<-done
		return Frame{}, ctx.Err()
	case <-timeout:
		s.closeLocked()
		<-done
		return Frame{}, faults.Wrap(faults.ErrTransientIO, "camera", "read",
			fmt.Sprintf("no frame within %s", s.frameTimeout), nil)
	}
	if res.err != nil {
		if errors.Is(res.err, io.EOF) {
			s.closeLocked()
			return Frame{}, io.EOF
		}
		return Frame{}, faults.Wrap(faults.ErrTransientIO, "camera", "read", "read part", res.err)
	}

	frame, err := DecodeFrame(res.data)
	if err != nil {
		return Frame{}, faults.Wrap(faults.ErrTransientIO, "camera", "decode", "", err)
	}
	s.seq++
	frame.Seq = s.seq
	return frame, nil
}

func (s *MJPEGSource) open(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, s.url, nil)
	if err != nil {
		cancel()
		return faults.Wrap(faults.ErrValidation, "camera", "open", s.url, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		cancel()
		return faults.Wrap(faults.ErrTransientIO, "camera", "open", s.url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return faults.Wrap(faults.ErrTransientIO, "camera", "open", fmt.Sprintf("status %d", resp.StatusCode), nil)
	}
	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		resp.Body.Close()
		cancel()
		return faults.Wrap(faults.ErrValidation, "camera", "open",
			fmt.Sprintf("unexpected content type %q", resp.Header.Get("Content-Type")), err)
	}
	s.resp = resp
	s.cancel = cancel
	s.parts = multipart.NewReader(resp.Body, strings.TrimPrefix(params["boundary"], "--"))
	s.logger.Info("camera stream opened",
		logging.String(logging.FieldEventType, "camera_opened"),
		logging.String("url", s.url),
	)
	return nil
}

func nextJPEGPart(parts *multipart.Reader) ([]byte, error) {
	for {
		part, err := parts.NextPart()
		if err != nil {
			return nil, err
		}
		if ct := part.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/jpeg") {
			_ = part.Close()
			continue
		}
		data, err := io.ReadAll(io.LimitReader(part, maxFrameBytes))
		_ = part.Close()
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			continue
		}
		return data, nil
	}
}

// Close releases the camera connection.
func (s *MJPEGSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *MJPEGSource) closeLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.resp != nil {
		_ = s.resp.Body.Close()
		s.resp = nil
	}
	s.parts = nil
}
