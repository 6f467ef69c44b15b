package runtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"doorkeeper/internal/logging"
	"doorkeeper/internal/vision"
)

func (o *Orchestrator) run(ctx context.Context, logger *slog.Logger, src vision.FrameSource, done chan struct{}) {
	defer func() {
		if err := src.Close(); err != nil {
			logger.Debug("frame source close failed", logging.Error(err))
		}
		o.deps.Hub.Clear()
		o.deps.Liveness.Reset()
		o.deps.Recognizer.Reset()
		o.deps.Metrics.SetCaptureRunning(false)

		o.mu.Lock()
		o.cancel = nil
		o.done = nil
		o.mu.Unlock()
		close(done)

		logger.Info("capture session stopped",
			logging.String(logging.FieldEventType, "capture_stopped"),
			logging.Int64("frames_processed", int64(o.frames.Load())),
		)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var frame vision.Frame
		err := o.Offload(ctx, func() error {
			var readErr error
			frame, readErr = src.Read(ctx)
			return readErr
		})
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return
		case errors.Is(err, io.EOF):
			logger.Info("frame source exhausted",
				logging.String(logging.FieldEventType, "capture_source_eof"),
			)
			return
		default:
			o.recordError(logger, "read", err)
			if !sleepCtx(ctx, acquireBackoff) {
				return
			}
			continue
		}

		started := time.Now()
		if err := o.processFrame(ctx, logger, frame); err != nil {
			if ctx.Err() != nil {
				return
			}
			o.recordError(logger, "process", err)
			continue
		}
		o.frames.Add(1)
		o.deps.Metrics.ObserveFrame(time.Since(started))
	}
}

// processFrame evaluates the primary face in frame, publishes the annotated
// frame, and fires alerts and door cycles.
func (o *Orchestrator) processFrame(ctx context.Context, logger *slog.Logger, frame vision.Frame) error {
	var faces []vision.Face
	err := o.Offload(ctx, func() error {
		var extractErr error
		faces, extractErr = o.deps.Extractor.Process(ctx, frame)
		return extractErr
	})
	if err != nil && !errors.Is(err, vision.ErrNoFace) {
		return err
	}

	canvas := vision.ToRGBA(frame.Image)
	width, height := frame.Size()
	if face, ok := vision.PrimaryFace(faces, width, height); ok {
		candidates := o.deps.Cache.Snapshot().Candidates()
		o.evaluateFace(ctx, logger, frame, canvas, face, width, height, candidates)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	} else {
		o.deps.Recognizer.Reset()
		o.deps.Liveness.Reset()
	}

	out := frame
	out.Image = canvas
	data, err := out.EncodeJPEG(o.deps.JPEGQuality)
	if err != nil {
		return err
	}
	o.deps.Hub.Publish(data)
	return nil
}
