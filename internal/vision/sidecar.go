package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"doorkeeper/internal/embedding"
	"doorkeeper/internal/faults"
)

const sidecarJPEGQuality = 90

// Sidecar calls an HTTP inference service for landmarks and embeddings.
//
//	POST /landmarks  (image/jpeg) -> {"faces": [{"landmarks": [{"x":..,"y":..}, ...]}]}
//	POST /embed      (image/jpeg) -> {"embedding": [...]}, 422 when no face is found
type Sidecar struct {
	baseURL string
	client  *http.Client
}

// NewSidecar returns a client for the service at baseURL.
func NewSidecar(baseURL string, timeout time.Duration) *Sidecar {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Sidecar{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type landmarksResponse struct {
	Faces []struct {
		Landmarks []NormalizedPoint `json:"landmarks"`
	} `json:"faces"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

type sidecarError struct {
	Error string `json:"error"`
}

// Process implements LandmarkExtractor.
func (s *Sidecar) Process(ctx context.Context, frame Frame) ([]Face, error) {
	var resp landmarksResponse
	if err := s.post(ctx, "/landmarks", frame, &resp); err != nil {
		return nil, err
	}
	faces := make([]Face, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		if len(f.Landmarks) == 0 {
			continue
		}
		faces = append(faces, Face{Landmarks: f.Landmarks})
	}
	return faces, nil
}

// Embed implements Embedder.
func (s *Sidecar) Embed(ctx context.Context, frame Frame) (embedding.Vector, error) {
	var resp embedResponse
	if err := s.post(ctx, "/embed", frame, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, ErrNoFace
	}
	return embedding.Vector(resp.Embedding), nil
}

// Ping checks that the service answers.
func (s *Sidecar) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return faults.Wrap(faults.ErrTransientIO, "vision", "ping", s.baseURL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return faults.Wrap(faults.ErrTransientIO, "vision", "ping", fmt.Sprintf("status %d", resp.StatusCode), nil)
	}
	return nil
}

func (s *Sidecar) post(ctx context.Context, path string, frame Frame, out any) error {
	body, err := frame.EncodeJPEG(sidecarJPEGQuality)
	if err != nil {
		return faults.Wrap(faults.ErrValidation, "vision", path, "encode frame", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sidecar request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return faults.Wrap(faults.ErrTransientIO, "vision", path, "sidecar request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		_, _ = io.Copy(io.Discard, resp.Body)
		return ErrNoFace
	case resp.StatusCode == http.StatusBadRequest:
		return faults.Wrap(faults.ErrValidation, "vision", path, readSidecarError(resp.Body), nil)
	case resp.StatusCode != http.StatusOK:
		return faults.Wrap(faults.ErrTransientIO, "vision", path,
			fmt.Sprintf("sidecar returned %d: %s", resp.StatusCode, readSidecarError(resp.Body)), nil)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return faults.Wrap(faults.ErrTransientIO, "vision", path, "decode sidecar response", err)
	}
	return nil
}

func readSidecarError(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 2048))
	var payload sidecarError
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(data))
}
