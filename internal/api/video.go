package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"doorkeeper/internal/framehub"
	"doorkeeper/internal/logging"
)

const (
	streamBoundary    = "frame"
	socketWriteBudget = 5 * time.Second
)

func (s *Server) handleVideoStart(w http.ResponseWriter, r *http.Request) {
	s.videoControl(w, r, s.opts.Video.Start)
}

func (s *Server) handleVideoStop(w http.ResponseWriter, r *http.Request) {
	s.videoControl(w, r, s.opts.Video.Stop)
}

func (s *Server) handleVideoToggle(w http.ResponseWriter, r *http.Request) {
	s.videoControl(w, r, s.opts.Video.Toggle)
}

func (s *Server) videoControl(w http.ResponseWriter, r *http.Request, op func(context.Context) (string, error)) {
	msg, err := op(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, VideoResponse{VideoStatus: msg})
}

func (s *Server) handleVideoStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, FromRuntimeStatus(s.opts.Video.Status()))
}

// handleVideoStream serves annotated frames as multipart/x-mixed-replace. The
// response ends when capture stops.
func (s *Server) handleVideoStream(w http.ResponseWriter, r *http.Request) {
	hub := s.opts.Hub
	if hub == nil || !hub.Active() {
		s.writeError(w, http.StatusConflict, "Video not running")
		return
	}
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+streamBoundary)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	err := s.pump(r.Context(), hub, func(frame []byte) error {
		if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", streamBoundary, len(frame)); err != nil {
			return err
		}
		if _, err := w.Write(frame); err != nil {
			return err
		}
		if _, err := w.Write([]byte("\r\n")); err != nil {
			return err
		}
		return rc.Flush()
	})
	s.logStreamEnd(r, "mjpeg", err)
}

// handleVideoSocket sends each annotated frame as a binary websocket message
// and closes normally when capture stops.
func (s *Server) handleVideoSocket(w http.ResponseWriter, r *http.Request) {
	hub := s.opts.Hub
	if hub == nil || !hub.Active() {
		s.writeError(w, http.StatusConflict, "Video not running")
		return
	}
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})
	_ = rc.SetReadDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	ctx := conn.CloseRead(r.Context())

	err = s.pump(ctx, hub, func(frame []byte) error {
		writeCtx, cancel := context.WithTimeout(ctx, socketWriteBudget)
		defer cancel()
		return conn.Write(writeCtx, websocket.MessageBinary, frame)
	})
	switch {
	case errors.Is(err, framehub.ErrStopped):
		_ = conn.Close(websocket.StatusNormalClosure, "video stopped")
	case err != nil && ctx.Err() == nil:
		_ = conn.Close(websocket.StatusInternalError, "write failed")
	default:
		_ = conn.CloseNow()
	}
	s.logStreamEnd(r, "websocket", err)
}

// pump hands every new hub frame to send, paced to the configured rate,
// until the hub stops, ctx ends, or send fails.
func (s *Server) pump(ctx context.Context, hub *framehub.Hub, send func([]byte) error) error {
	interval := time.Second / time.Duration(s.opts.StreamFPS)
	var seq uint64
	for {
		frame, next, err := hub.Next(ctx, seq)
		if err != nil {
			return err
		}
		seq = next
		if err := send(frame); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (s *Server) logStreamEnd(r *http.Request, kind string, err error) {
	s.logger.Debug("frame stream ended",
		logging.String(logging.FieldRequestID, RequestID(r.Context())),
		logging.String("stream", kind),
		logging.String("reason", streamEndReason(err)),
	)
}

func streamEndReason(err error) string {
	switch {
	case err == nil:
		return "closed"
	case errors.Is(err, framehub.ErrStopped):
		return "video stopped"
	case errors.Is(err, context.Canceled):
		return "client gone"
	default:
		return err.Error()
	}
}
