package runtime

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"time"

	"doorkeeper/internal/facecache"
	"doorkeeper/internal/logging"
	"doorkeeper/internal/notifications"
	"doorkeeper/internal/vision"
)

func (o *Orchestrator) evaluateFace(
	ctx context.Context,
	logger *slog.Logger,
	frame vision.Frame,
	canvas *image.RGBA,
	face vision.Face,
	width, height int,
	candidates []facecache.Candidate,
) {
	box := face.Box(width, height, vision.BoxPadding)
	if box.Empty() {
		return
	}

	var match vision.Match
	err := o.Offload(ctx, func() error {
		var matchErr error
		match, matchErr = o.deps.Recognizer.Match(ctx, frame.Crop(box), candidates)
		return matchErr
	})
	switch {
	case err == nil:
	case errors.Is(err, vision.ErrNoFace):
		match = vision.Match{Label: vision.UnknownLabel}
	case ctx.Err() != nil:
		return
	default:
		o.recordError(logger, "recognize", err)
		match = vision.Match{Label: vision.UnknownLabel}
	}
	verified := match.Known && o.deps.Recognizer.Verified()

	landmarks := face.Pixels(width, height)
	live, blinks := false, 0
	if verified {
		result, err := o.deps.Liveness.Update(landmarks)
		if err != nil {
			o.recordError(logger, "liveness", err)
		} else {
			live, blinks = result.Live, result.Blinks
			if result.Blinked {
				o.deps.Metrics.IncrementBlinks()
				logger.Debug("blink detected",
					logging.Int64(logging.FieldIdentityID, match.ID),
					logging.Int("blinks", result.Blinks),
					logging.Float64("ear", result.EAR),
				)
			}
		}
	} else {
		o.deps.Liveness.Reset()
	}

	o.deps.Overlay.Draw(canvas, vision.Annotation{
		Box:       box,
		Verified:  verified,
		Live:      live,
		Name:      match.Label,
		Blinks:    blinks,
		Landmarks: landmarks,
	})

	if msg, ok := o.deps.Policy.Evaluate(notifications.Sighting{
		Recognized: verified,
		Live:       live,
		Label:      match.Label,
		Access:     match.Access,
	}); ok {
		logger.Info("dispatching alert",
			logging.String(logging.FieldEventType, "alert_dispatched"),
			logging.String("title", msg.Title),
		)
		o.deps.Notifier.Dispatch(msg)
	}

	if verified && live && match.Access.OpensDoor() && !o.deps.Guard.Busy() {
		if o.deps.Guard.Trigger() {
			logger.Info("door cycle triggered",
				logging.String(logging.FieldEventType, "door_triggered"),
				logging.Int64(logging.FieldIdentityID, match.ID),
				logging.String("access", string(match.Access)),
			)
		}
	}
}

func (o *Orchestrator) recordError(logger *slog.Logger, stage string, err error) {
	o.frameErrors.Add(1)
	o.deps.Metrics.IncrementFrameError(stage)
	o.mu.Lock()
	o.lastErr = err.Error()
	o.mu.Unlock()
	logging.WarnWithContext(logger, "frame stage failed", "frame_stage_failed",
		logging.String("stage", stage),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "the next frame is processed normally"),
	)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
