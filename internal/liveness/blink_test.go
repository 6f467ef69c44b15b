package liveness_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"doorkeeper/internal/liveness"
	"doorkeeper/internal/testsupport"
)

// face builds landmarks where both eyes have the given aspect ratio.
func face(ear float64) liveness.Landmarks {
	lm := make(liveness.Landmarks, 478)
	place := func(idx [6]int, originX float64) {
		lm[idx[0]] = liveness.Point{X: originX, Y: 100}
		lm[idx[3]] = liveness.Point{X: originX + 40, Y: 100}
		h := ear * 40 / 2
		lm[idx[1]] = liveness.Point{X: originX + 12, Y: 100 - h}
		lm[idx[5]] = liveness.Point{X: originX + 12, Y: 100 + h}
		lm[idx[2]] = liveness.Point{X: originX + 28, Y: 100 - h}
		lm[idx[4]] = liveness.Point{X: originX + 28, Y: 100 + h}
	}
	place(liveness.RightEye, 100)
	place(liveness.LeftEye, 200)
	return lm
}

const (
	open   = 0.35
	closed = 0.05
)

func feed(t *testing.T, d *liveness.Detector, ears ...float64) liveness.Result {
	t.Helper()
	var res liveness.Result
	for _, ear := range ears {
		var err error
		res, err = d.Update(face(ear))
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	return res
}

func TestEyeAspectRatio(t *testing.T) {
	got, err := liveness.EyeAspectRatio(face(0.3), liveness.RightEye)
	if err != nil {
		t.Fatalf("EyeAspectRatio: %v", err)
	}
	if math.Abs(got-0.3) > 1e-9 {
		t.Fatalf("ear = %v, want 0.3", got)
	}
}

func TestBlinkCountingAndVerification(t *testing.T) {
	clock := testsupport.NewClock()
	d := liveness.New(liveness.DefaultThresholds(), liveness.WithClock(clock.Now))

	res := feed(t, d, open, closed, closed, open)
	if res.Blinks != 1 || !res.Blinked || res.Live {
		t.Fatalf("after one blink: %+v", res)
	}

	clock.Advance(time.Second)
	res = feed(t, d, closed, closed, open)
	if res.Blinks != 2 || !res.Live {
		t.Fatalf("after two blinks: %+v", res)
	}
	if !d.Live() {
		t.Fatal("detector should report live")
	}
}

func TestShortClosureIsNotABlink(t *testing.T) {
	d := liveness.New(liveness.DefaultThresholds(), liveness.WithClock(testsupport.NewClock().Now))
	res := feed(t, d, open, closed, open, open)
	if res.Blinks != 0 {
		t.Fatalf("single closed frame must not count, got %+v", res)
	}
}

func TestInactivityResets(t *testing.T) {
	clock := testsupport.NewClock()
	d := liveness.New(liveness.DefaultThresholds(), liveness.WithClock(clock.Now))
	feed(t, d, open, closed, closed, open)
	if d.Blinks() != 1 {
		t.Fatalf("expected one blink, got %d", d.Blinks())
	}

	clock.Advance(10 * time.Second)
	feed(t, d, open)
	if d.Blinks() != 1 {
		t.Fatal("exactly the window must not reset")
	}

	clock.Advance(time.Second)
	res := feed(t, d, open)
	if res.Blinks != 0 || res.Live {
		t.Fatalf("expected reset after inactivity, got %+v", res)
	}
}

func TestInactivityWindowConfigurable(t *testing.T) {
	clock := testsupport.NewClock()
	d := liveness.New(liveness.DefaultThresholds(), liveness.WithClock(clock.Now), liveness.WithInactivityWindow(2*time.Second))
	feed(t, d, open, closed, closed, open)
	clock.Advance(3 * time.Second)
	if res := feed(t, d, open); res.Blinks != 0 {
		t.Fatalf("expected reset with short window, got %+v", res)
	}
}

func TestThresholdChangeKeepsCounters(t *testing.T) {
	d := liveness.New(liveness.DefaultThresholds(), liveness.WithClock(testsupport.NewClock().Now))
	feed(t, d, open, closed, closed, open)

	d.SetThresholds(liveness.Thresholds{EARThreshold: 0.2, ConsecFrames: 1, BlinksToVerify: 1})
	if d.Blinks() != 1 {
		t.Fatalf("counters must survive reconfiguration, got %d", d.Blinks())
	}
	res := feed(t, d, open)
	if !res.Live {
		t.Fatalf("lowered blinks_to_verify should verify on next frame, got %+v", res)
	}
}

func TestResetClearsState(t *testing.T) {
	d := liveness.New(liveness.DefaultThresholds(), liveness.WithClock(testsupport.NewClock().Now))
	feed(t, d, open, closed, closed, open, closed, closed, open)
	d.Reset()
	st := d.State()
	if st.TotalBlinks != 0 || st.ClosedFrames != 0 || st.Live || st.PrevLeftEAR != 0 || st.PrevRightEAR != 0 {
		t.Fatalf("state not cleared: %+v", st)
	}
}

func TestDegenerateLandmarksLeaveStateAlone(t *testing.T) {
	d := liveness.New(liveness.DefaultThresholds(), liveness.WithClock(testsupport.NewClock().Now))
	feed(t, d, open, closed)
	before := d.State()

	if _, err := d.Update(make(liveness.Landmarks, 10)); !errors.Is(err, liveness.ErrDegenerateEye) {
		t.Fatalf("expected degenerate error for short landmarks, got %v", err)
	}
	if _, err := d.Update(make(liveness.Landmarks, 478)); !errors.Is(err, liveness.ErrDegenerateEye) {
		t.Fatalf("expected degenerate error for collapsed eye, got %v", err)
	}
	if d.State() != before {
		t.Fatalf("state changed on bad frame: %+v vs %+v", d.State(), before)
	}
}
