package runtime_test

import (
	"context"
	"errors"
	"image"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"doorkeeper/internal/actuator"
	"doorkeeper/internal/configbus"
	"doorkeeper/internal/embedding"
	"doorkeeper/internal/facecache"
	"doorkeeper/internal/identity"
	"doorkeeper/internal/liveness"
	"doorkeeper/internal/notifications"
	"doorkeeper/internal/runtime"
	"doorkeeper/internal/testsupport"
	"doorkeeper/internal/vision"
)

const (
	frameWidth  = 320
	frameHeight = 240
	openEye     = 0.35
	closedEye   = 0.05
)

// scriptedSource yields one blank frame per scripted step, then io.EOF.
type scriptedSource struct {
	mu     sync.Mutex
	steps  int
	read   int
	onRead func()
	closed bool
}

func (s *scriptedSource) Read(context.Context) (vision.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.read >= s.steps {
		return vision.Frame{}, io.EOF
	}
	s.read++
	if s.onRead != nil {
		s.onRead()
	}
	return vision.Frame{
		Image: image.NewRGBA(image.Rect(0, 0, frameWidth, frameHeight)),
		Seq:   uint64(s.read),
	}, nil
}

func (s *scriptedSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// blockingSource never yields a frame until its context is cancelled.
type blockingSource struct{}

func (blockingSource) Read(ctx context.Context) (vision.Frame, error) {
	<-ctx.Done()
	return vision.Frame{}, ctx.Err()
}

func (blockingSource) Close() error { return nil }

// eyeScript returns one face per frame whose eyes follow the scripted
// aspect ratios.
type eyeScript struct {
	mu   sync.Mutex
	ears []float64
	next int
}

func (e *eyeScript) Process(context.Context, vision.Frame) ([]vision.Face, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.next >= len(e.ears) {
		return nil, nil
	}
	ear := e.ears[e.next]
	e.next++
	return []vision.Face{mesh(ear)}, nil
}

// mesh places both eyes at the given aspect ratio on the test frame. Points
// sit on pixel centres so that scaling back to pixels is exact.
func mesh(ear float64) vision.Face {
	return scaledMesh(ear, 1)
}

// scaledMesh shrinks the mesh towards the frame origin, giving a smaller
// bounding box.
func scaledMesh(ear, scale float64) vision.Face {
	points := make([]vision.NormalizedPoint, 478)
	at := func(x, y float64) vision.NormalizedPoint {
		return vision.NormalizedPoint{X: scale * (x + 0.5) / frameWidth, Y: scale * (y + 0.5) / frameHeight}
	}
	place := func(idx [6]int, originX float64) {
		h := ear * 40 / 2
		points[idx[0]] = at(originX, 100)
		points[idx[3]] = at(originX+40, 100)
		points[idx[1]] = at(originX+12, 100-h)
		points[idx[5]] = at(originX+12, 100+h)
		points[idx[2]] = at(originX+28, 100-h)
		points[idx[4]] = at(originX+28, 100+h)
	}
	place(liveness.RightEye, 100)
	place(liveness.LeftEye, 200)
	return vision.Face{Landmarks: points}
}

// crowdScript returns a fixed list of faces per frame.
type crowdScript struct {
	mu     sync.Mutex
	frames [][]vision.Face
	next   int
}

func (c *crowdScript) Process(context.Context, vision.Frame) ([]vision.Face, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.next >= len(c.frames) {
		return nil, nil
	}
	faces := c.frames[c.next]
	c.next++
	return faces, nil
}

type fixedEmbedder struct{ vec embedding.Vector }

func (f fixedEmbedder) Embed(context.Context, vision.Frame) (embedding.Vector, error) {
	return f.vec, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notifications.Message
}

func (r *recordingNotifier) Dispatch(msg notifications.Message) {
	r.mu.Lock()
	r.sent = append(r.sent, msg)
	r.mu.Unlock()
}

func (r *recordingNotifier) messages() []notifications.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notifications.Message(nil), r.sent...)
}

type fixture struct {
	orch     *runtime.Orchestrator
	driver   *actuator.Mock
	guard    *actuator.Guard
	notifier *recordingNotifier
}

func newFixture(t *testing.T, sources runtime.SourceFactory, extractor vision.LandmarkExtractor, probe embedding.Vector, policy *notifications.Policy) fixture {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.Enroll(t, store, "Ada", identity.AccessAdmin, testsupport.Axis(4, 0))
	cache := facecache.New(store, nil)
	if err := cache.Build(context.Background()); err != nil {
		t.Fatalf("cache.Build: %v", err)
	}

	driver := actuator.NewMock(nil)
	guard := actuator.NewGuard(driver, nil, actuator.WithSleep(func(time.Duration) {}))
	notifier := &recordingNotifier{}
	orch, err := runtime.New(runtime.Deps{
		Sources:    sources,
		Extractor:  extractor,
		Recognizer: vision.NewRecognizer(fixedEmbedder{vec: probe}, nil),
		Cache:      cache,
		Policy:     policy,
		Notifier:   notifier,
		Guard:      guard,
		Workers:    2,
	})
	if err != nil {
		t.Fatalf("runtime.New: %v", err)
	}
	return fixture{orch: orch, driver: driver, guard: guard, notifier: notifier}
}

func sourceOf(src vision.FrameSource) runtime.SourceFactory {
	return func(context.Context) (vision.FrameSource, error) { return src, nil }
}

func waitStopped(t *testing.T, orch *runtime.Orchestrator) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for orch.Running() {
		if time.Now().After(deadline) {
			t.Fatal("capture task did not finish")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTwoBlinksOpenDoorForAdmin(t *testing.T) {
	ears := []float64{openEye, closedEye, closedEye, openEye, closedEye, closedEye, openEye}
	src := &scriptedSource{steps: len(ears)}
	f := newFixture(t, sourceOf(src), &eyeScript{ears: ears}, testsupport.Axis(4, 0), nil)

	msg, err := f.orch.Start(context.Background())
	if err != nil || msg != runtime.MsgStarted {
		t.Fatalf("Start = %q, %v", msg, err)
	}
	waitStopped(t, f.orch)
	f.guard.Wait()

	cmds := f.driver.Commands()
	if len(cmds) != 2 || cmds[0] != actuator.CommandOpen || cmds[1] != actuator.CommandClose {
		t.Fatalf("door commands = %v, want [OPEN CLOSE]", cmds)
	}
	sent := f.notifier.messages()
	if len(sent) != 1 {
		t.Fatalf("expected one arrival alert, got %d", len(sent))
	}
	if !strings.Contains(sent[0].Body, "Ada is entering") {
		t.Fatalf("unexpected alert body %q", sent[0].Body)
	}

	st := f.orch.Status()
	if st.Running || st.FramesProcessed != uint64(len(ears)) || st.CachedIdentities != 1 {
		t.Fatalf("unexpected status %+v", st)
	}
	if !src.closed {
		t.Fatal("frame source should be closed when the task ends")
	}
	if f.orch.Hub().Active() {
		t.Fatal("hub should be cleared when the task ends")
	}
}

func TestFacesInOneFrameDoNotCombineIntoBlink(t *testing.T) {
	// Two closed-eye faces then an open-eye one, every frame. None of them
	// ever blinks.
	crowd := []vision.Face{mesh(closedEye), mesh(closedEye), mesh(openEye)}
	frames := [][]vision.Face{crowd, crowd, crowd, crowd, crowd, crowd}
	src := &scriptedSource{steps: len(frames)}
	f := newFixture(t, sourceOf(src), &crowdScript{frames: frames}, testsupport.Axis(4, 0), nil)

	if _, err := f.orch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitStopped(t, f.orch)
	f.guard.Wait()

	if cmds := f.driver.Commands(); len(cmds) != 0 {
		t.Fatalf("door opened without a real blink: %v", cmds)
	}
	if sent := f.notifier.messages(); len(sent) != 0 {
		t.Fatalf("no arrival should be announced before liveness, got %+v", sent)
	}
}

func TestLargestFaceDrivesLiveness(t *testing.T) {
	ears := []float64{openEye, closedEye, closedEye, openEye, closedEye, closedEye, openEye}
	frames := make([][]vision.Face, len(ears))
	for i, ear := range ears {
		// A smaller bystander listed first keeps its eyes shut.
		frames[i] = []vision.Face{scaledMesh(closedEye, 0.5), mesh(ear)}
	}
	src := &scriptedSource{steps: len(frames)}
	f := newFixture(t, sourceOf(src), &crowdScript{frames: frames}, testsupport.Axis(4, 0), nil)

	if _, err := f.orch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitStopped(t, f.orch)
	f.guard.Wait()

	cmds := f.driver.Commands()
	if len(cmds) != 2 || cmds[0] != actuator.CommandOpen || cmds[1] != actuator.CommandClose {
		t.Fatalf("door commands = %v, want [OPEN CLOSE]", cmds)
	}
}

func TestUnknownVisitorAlertsWithoutOpening(t *testing.T) {
	clock := testsupport.NewClock()
	policy := notifications.NewPolicy(notifications.WithPolicyClock(clock.Now))
	policy.SetWindows(time.Minute, time.Second)

	ears := []float64{openEye, openEye, openEye}
	src := &scriptedSource{steps: len(ears), onRead: func() { clock.Advance(time.Second) }}
	f := newFixture(t, sourceOf(src), &eyeScript{ears: ears}, testsupport.Axis(4, 1), policy)

	if _, err := f.orch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitStopped(t, f.orch)
	f.guard.Wait()

	if cmds := f.driver.Commands(); len(cmds) != 0 {
		t.Fatalf("door must stay shut for an unknown face, got %v", cmds)
	}
	sent := f.notifier.messages()
	if len(sent) != 1 || sent[0].Title != "Doorkeeper - Unknown Visitor" {
		t.Fatalf("expected one unknown visitor alert, got %+v", sent)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	f := newFixture(t, sourceOf(blockingSource{}), &eyeScript{}, testsupport.Axis(4, 0), nil)
	ctx := context.Background()

	if msg, _ := f.orch.Stop(ctx); msg != runtime.MsgNotRunning {
		t.Fatalf("Stop before Start = %q", msg)
	}
	if msg, err := f.orch.Start(ctx); err != nil || msg != runtime.MsgStarted {
		t.Fatalf("Start = %q, %v", msg, err)
	}
	if msg, _ := f.orch.Start(ctx); msg != runtime.MsgAlreadyRunning {
		t.Fatalf("second Start = %q", msg)
	}
	st := f.orch.Status()
	if !st.Running || st.SessionID == "" {
		t.Fatalf("unexpected running status %+v", st)
	}
	if !f.orch.Hub().Active() {
		t.Fatal("hub should be open while capturing")
	}

	if msg, err := f.orch.Stop(ctx); err != nil || msg != runtime.MsgStopped {
		t.Fatalf("Stop = %q, %v", msg, err)
	}
	if f.orch.Running() {
		t.Fatal("Stop must wait for the task to finish")
	}
	if msg, err := f.orch.Toggle(ctx); err != nil || msg != runtime.MsgStarted {
		t.Fatalf("Toggle from stopped = %q, %v", msg, err)
	}
	if msg, err := f.orch.Toggle(ctx); err != nil || msg != runtime.MsgStopped {
		t.Fatalf("Toggle from running = %q, %v", msg, err)
	}
}

func TestStatusAnswersWhileSourceOpens(t *testing.T) {
	opening := make(chan struct{})
	release := make(chan struct{})
	slow := func(context.Context) (vision.FrameSource, error) {
		close(opening)
		<-release
		return blockingSource{}, nil
	}
	f := newFixture(t, slow, &eyeScript{}, testsupport.Axis(4, 0), nil)
	ctx := context.Background()

	started := make(chan string, 1)
	go func() {
		msg, _ := f.orch.Start(ctx)
		started <- msg
	}()
	<-opening

	answered := make(chan bool, 1)
	go func() { answered <- f.orch.Status().Running }()
	select {
	case running := <-answered:
		if running {
			t.Fatal("no session should be reported before the source opens")
		}
	case <-time.After(time.Second):
		t.Fatal("Status blocked behind a slow source open")
	}

	close(release)
	if msg := <-started; msg != runtime.MsgStarted {
		t.Fatalf("Start = %q", msg)
	}
	if msg, _ := f.orch.Start(ctx); msg != runtime.MsgAlreadyRunning {
		t.Fatalf("second Start = %q", msg)
	}
	if _, err := f.orch.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestStartReportsSourceFailure(t *testing.T) {
	failing := func(context.Context) (vision.FrameSource, error) {
		return nil, errors.New("camera unreachable")
	}
	f := newFixture(t, failing, &eyeScript{}, testsupport.Axis(4, 0), nil)
	if _, err := f.orch.Start(context.Background()); err == nil {
		t.Fatal("expected an error when the source cannot be opened")
	}
	if f.orch.Running() {
		t.Fatal("a failed Start must not leave a session running")
	}
}

func TestOffloadFinishesStartedWork(t *testing.T) {
	f := newFixture(t, sourceOf(blockingSource{}), &eyeScript{}, testsupport.Axis(4, 0), nil)
	ctx, cancel := context.WithCancel(context.Background())

	release := make(chan struct{})
	finished := false
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
		close(release)
	}()
	err := f.orch.Offload(ctx, func() error {
		<-release
		finished = true
		return nil
	})
	if err != nil || !finished {
		t.Fatalf("Offload = %v, finished=%v", err, finished)
	}

	if err := f.orch.Offload(ctx, func() error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("Offload on a cancelled context = %v", err)
	}
}

func TestApplyTimingAndBlink(t *testing.T) {
	clock := testsupport.NewClock()
	policy := notifications.NewPolicy(notifications.WithPolicyClock(clock.Now))
	f := newFixture(t, sourceOf(blockingSource{}), &eyeScript{}, testsupport.Axis(4, 0), policy)

	f.orch.ApplyTiming(configbus.Document{
		"notification_cooldown_seconds": 1.0,
		"unknown_alert_seconds":         0.5,
		"liveness_inactivity_seconds":   3.0,
		"door_dwell_seconds":            0.0,
		"door_cooldown_seconds":         0.0,
	})
	f.orch.ApplyBlink(configbus.Document{
		"ear_threshold":       0.3,
		"blink_consec_frames": 1,
		"blinks_to_verify":    1,
	})

	arrival := notifications.Sighting{Recognized: true, Live: true, Label: "Ada", Access: identity.AccessAdmin}
	if _, ok := policy.Evaluate(arrival); !ok {
		t.Fatal("first arrival should alert")
	}
	clock.Advance(time.Second)
	if _, ok := policy.Evaluate(arrival); !ok {
		t.Fatal("cooldown of one second should have elapsed")
	}

	// An undecodable section is ignored.
	f.orch.ApplyBlink(configbus.Document{"ear_threshold": "high"})
}
