package core

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"chessarm/internal/board"
	"chessarm/internal/hardware/comm"
	"chessarm/internal/kinematics"
	"chessarm/internal/servo"
	"chessarm/internal/teleop"
	"chessarm/internal/vision"
	"chessarm/pkg/types"
)

type fakeTransport struct {
	status     comm.ConnectionStatus
	connectErr error
	sendErr    error
	connects   int
	frames     []string
}

func (f *fakeTransport) Name() string { return "fake" }
func (f *fakeTransport) Connect(context.Context) error {
	f.connects++
	if f.connectErr != nil {
		f.status = comm.StatusError
		return f.connectErr
	}
	f.status = comm.StatusConnected
	return nil
}
func (f *fakeTransport) Disconnect(context.Context) error {
	f.status = comm.StatusDisconnected
	return nil
}
func (f *fakeTransport) GetStatus() comm.ConnectionStatus { return f.status }
func (f *fakeTransport) GetLastError() error              { return f.connectErr }
func (f *fakeTransport) IsConnected() bool                { return f.status == comm.StatusConnected }
func (f *fakeTransport) AddEventHandler(comm.EventHandler) {}
func (f *fakeTransport) Send(_ context.Context, frame servo.CommandFrame) error {
	if f.sendErr != nil {
		f.status = comm.StatusError
		return f.sendErr
	}
	f.frames = append(f.frames, frame.String())
	return nil
}

type fakeInput struct {
	axes teleop.Axes
	err  error
}

func (f *fakeInput) Poll() (teleop.Axes, error) { return f.axes, f.err }

// released triggers and centered sticks
var idle = teleop.Axes{LeftTrigger: -1, RightTrigger: -1}

func armServos() servo.Config {
	return servo.Config{
		Order: []kinematics.JointName{kinematics.Base, kinematics.Shoulder, kinematics.Elbow},
		Limits: map[kinematics.JointName]servo.Limit{
			kinematics.Base:     {Min: 0, Max: 180, Zero: 90, Direction: 1, Home: 90},
			kinematics.Shoulder: {Min: 15, Max: 165, Zero: 180, Direction: -1, Home: 90},
			kinematics.Elbow:    {Min: 0, Max: 180, Zero: 0, Direction: 1, Home: 90},
		},
	}
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newArm(t *testing.T, in AxisSource, tr comm.Transport, mode types.FrameMode) (*ArmController, *clock) {
	t.Helper()
	servos := armServos()
	solver, err := kinematics.NewSolver(kinematics.Links{Upper: 161.3, Fore: 112.4}, servos.Mapping())
	if err != nil {
		t.Fatal(err)
	}
	arm, err := NewArmController(ArmOptions{
		Solver:            solver,
		Servos:            servos,
		Teleop:            teleop.DefaultConfig(),
		FrameMode:         mode,
		ReconnectInterval: time.Second,
		Input:             in,
		Transport:         tr,
	})
	if err != nil {
		t.Fatal(err)
	}
	c := &clock{t: time.Unix(1000, 0)}
	arm.now = c.now
	return arm, c
}

func TestArmSendsAbsoluteFrames(t *testing.T) {
	in := &fakeInput{axes: idle}
	tr := &fakeTransport{}
	arm, _ := newArm(t, in, tr, types.FrameAbsolute)
	ctx := context.Background()
	if err := arm.Start(ctx); err != nil {
		t.Fatal(err)
	}

	_ = arm.Process(ctx)
	in.axes = teleop.Axes{LeftTrigger: 1, RightTrigger: -1, LeftStick: 0.5}
	_ = arm.Process(ctx)

	want := []string{"90.00,90.00,90.00", "93.00,91.50,90.00"}
	if len(tr.frames) != 2 || tr.frames[0] != want[0] || tr.frames[1] != want[1] {
		t.Errorf("frames = %v, want %v", tr.frames, want)
	}
}

func TestArmDeltaModeSkipsIdleTicks(t *testing.T) {
	in := &fakeInput{axes: idle}
	tr := &fakeTransport{}
	arm, _ := newArm(t, in, tr, types.FrameDelta)
	ctx := context.Background()
	_ = arm.Start(ctx)

	_ = arm.Process(ctx)
	in.axes = teleop.Axes{LeftTrigger: -1, RightTrigger: 1, RightStick: -1}
	_ = arm.Process(ctx)

	if len(tr.frames) != 1 || tr.frames[0] != "-3.00,0.00,-3.00" {
		t.Errorf("frames = %v", tr.frames)
	}
}

func TestArmWithoutInputHoldsPosition(t *testing.T) {
	tr := &fakeTransport{}
	arm, _ := newArm(t, nil, tr, types.FrameAbsolute)
	ctx := context.Background()
	_ = arm.Start(ctx)
	for i := 0; i < 3; i++ {
		_ = arm.Process(ctx)
	}
	for _, f := range tr.frames {
		if f != "90.00,90.00,90.00" {
			t.Fatalf("frame = %q", f)
		}
	}

	in := &fakeInput{err: errors.New("unplugged")}
	arm2, _ := newArm(t, in, tr, types.FrameAbsolute)
	if err := arm2.Process(ctx); err != nil {
		t.Errorf("Process with failing input = %v", err)
	}
	if arm2.Joints()[kinematics.Base] != 90 {
		t.Errorf("joints moved: %v", arm2.Joints())
	}
}

func TestArmReconnectsOnInterval(t *testing.T) {
	tr := &fakeTransport{connectErr: errors.New("no device")}
	arm, clk := newArm(t, &fakeInput{axes: idle}, tr, types.FrameAbsolute)
	ctx := context.Background()
	if err := arm.Start(ctx); err != nil {
		t.Fatalf("Start must not fail on a missing link: %v", err)
	}

	_ = arm.Process(ctx)
	clk.t = clk.t.Add(500 * time.Millisecond)
	_ = arm.Process(ctx)
	if tr.connects != 1 {
		t.Errorf("connects = %d before the interval elapsed", tr.connects)
	}

	tr.connectErr = nil
	clk.t = clk.t.Add(600 * time.Millisecond)
	_ = arm.Process(ctx)
	if tr.connects != 2 || len(tr.frames) != 1 {
		t.Errorf("connects = %d, frames = %v", tr.connects, tr.frames)
	}
	if arm.framesDropped.Load() != 2 || arm.framesSent.Load() != 1 {
		t.Errorf("dropped = %d, sent = %d", arm.framesDropped.Load(), arm.framesSent.Load())
	}

	tr.sendErr = errors.New("write failed")
	_ = arm.Process(ctx)
	if arm.framesDropped.Load() != 3 {
		t.Errorf("dropped = %d after a failed write", arm.framesDropped.Load())
	}
	if !arm.linkFailed {
		t.Error("link failure not recorded")
	}
}

func TestArmMoveTo(t *testing.T) {
	tr := &fakeTransport{}
	arm, _ := newArm(t, nil, tr, types.FrameAbsolute)
	ctx := context.Background()
	_ = arm.Start(ctx)

	target := kinematics.Pose{Position: r3.Vector{X: 0, Y: 150, Z: 50}}
	far := kinematics.Pose{Position: r3.Vector{X: 500}}
	if err := arm.MoveTo(far); !errors.Is(err, kinematics.ErrOutOfReach) {
		t.Fatalf("MoveTo(far) = %v", err)
	}
	if err := arm.MoveTo(kinematics.Pose{Position: r3.Vector{X: 150, Z: 50}}); err != nil {
		t.Fatal(err)
	}
	if err := arm.MoveTo(target); err != nil {
		t.Fatal(err)
	}
	if arm.movesReplaced.Load() != 1 {
		t.Errorf("replaced = %d", arm.movesReplaced.Load())
	}

	_ = arm.Process(ctx)
	got := arm.Pose().Position
	if got.Sub(target.Position).Norm() > 1e-3 {
		t.Errorf("pose = %v, want %v", got, target.Position)
	}
	if arm.Joints()[kinematics.Base] != 180 {
		t.Errorf("base = %v, want 180", arm.Joints()[kinematics.Base])
	}

	home := arm.Home()
	if home[kinematics.Base] != 90 || home[kinematics.Shoulder] != 90 || home[kinematics.Elbow] != 90 {
		t.Errorf("home target = %v", home)
	}
	if j := arm.Joints(); j[kinematics.Base] != 180 {
		t.Errorf("Home applied before the next tick: %v", j)
	}
	_ = arm.Process(ctx)
	if j := arm.Joints(); j[kinematics.Base] != 90 || j[kinematics.Shoulder] != 90 {
		t.Errorf("after Home = %v", j)
	}
	if st := arm.Status(); st["moves_applied"] != "2" || st["link"] != "connected" {
		t.Errorf("status = %v", st)
	}
}

type fakeSource struct {
	frames []vision.Frame
	err    error
}

func (f *fakeSource) Latest() (vision.Frame, bool) {
	if len(f.frames) == 0 {
		return vision.Frame{}, false
	}
	fr := f.frames[0]
	f.frames = f.frames[1:]
	return fr, true
}

func (f *fakeSource) Err() error { return f.err }

type memorySink struct {
	mu   sync.Mutex
	recs []types.SnapshotRecord
	err  error
}

func (m *memorySink) Name() string { return "memory" }
func (m *memorySink) Publish(_ context.Context, rec types.SnapshotRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.recs = append(m.recs, rec)
	return nil
}

func markerAt(id int, x, y float64) board.Observation {
	return board.Observation{ID: id, Corners: [4]r2.Point{
		{X: x - 5, Y: y - 5}, {X: x + 5, Y: y - 5}, {X: x + 5, Y: y + 5}, {X: x - 5, Y: y + 5},
	}}
}

func newBoard(t *testing.T, src FrameSource, sinks ...SnapshotSink) *BoardModule {
	t.Helper()
	g, err := board.NewGrid([]r2.Point{{X: 0, Y: 0}, {X: 700, Y: 0}, {X: 700, Y: 700}, {X: 0, Y: 700}})
	if err != nil {
		t.Fatal(err)
	}
	return NewBoardModule(board.NewFuser(g, board.DefaultCatalog()), src, "session-1", sinks...)
}

func TestBoardModulePublishesChanges(t *testing.T) {
	src := &fakeSource{frames: []vision.Frame{
		{Seq: 1, Markers: []board.Observation{markerAt(8, 0, 0), markerAt(8, 700, 0)}},
		{Seq: 2, Markers: []board.Observation{markerAt(8, 2, 1), markerAt(8, 698, 3)}},
		{Seq: 3, Markers: []board.Observation{markerAt(8, 0, 0), markerAt(42, 300, 300)}},
	}}
	sink := &memorySink{}
	b := newBoard(t, src, sink)
	ctx := context.Background()
	_ = b.Start(ctx)

	for i := 0; i < 4; i++ {
		if err := b.Process(ctx); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}

	if len(sink.recs) != 2 {
		t.Fatalf("records = %+v", sink.recs)
	}
	if sink.recs[0].Placement != "r6r/8/8/8/8/8/8/8" || sink.recs[0].Seq != 1 || sink.recs[0].Session != "session-1" {
		t.Errorf("first = %+v", sink.recs[0])
	}
	if sink.recs[1].Placement != "r7/8/8/8/8/8/8/8" || len(sink.recs[1].Unknown) != 1 {
		t.Errorf("second = %+v", sink.recs[1])
	}
	if p, ok := b.Placement(); !ok || p != "r7/8/8/8/8/8/8/8" {
		t.Errorf("Placement = %q, %v", p, ok)
	}
	if st := b.Status(); st["frames"] != "3" || st["changes"] != "2" {
		t.Errorf("status = %v", st)
	}
}

func TestBoardModuleSinkFailure(t *testing.T) {
	src := &fakeSource{frames: []vision.Frame{{Seq: 1}}, err: io.EOF}
	sink := &memorySink{err: errors.New("redis down")}
	b := newBoard(t, src, sink)
	ctx := context.Background()

	if err := b.Process(ctx); err == nil {
		t.Error("sink failure not reported")
	}
	if err := b.Process(ctx); err != nil {
		t.Errorf("ended source: %v", err)
	}
	if p, ok := b.Placement(); !ok || p != "8/8/8/8/8/8/8/8" {
		t.Errorf("Placement = %q, %v", p, ok)
	}
}

type countingModule struct {
	name      string
	mu        sync.Mutex
	started   bool
	stopped   bool
	processed int
	startErr  error
}

func (m *countingModule) Name() string { return m.name }
func (m *countingModule) Start(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
	return m.startErr
}
func (m *countingModule) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	return nil
}
func (m *countingModule) Process(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed++
	return errors.New("tick error is not fatal")
}
func (m *countingModule) Status() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]interface{}{"processed": m.processed}
}

func TestEventLoopRunsUntilCancelled(t *testing.T) {
	el := NewEventLoop("test", time.Millisecond)
	el.SetStatusInterval(5 * time.Millisecond)
	m := &countingModule{name: "counter"}
	if err := el.RegisterModule(m); err != nil {
		t.Fatal(err)
	}
	if err := el.RegisterModule(&countingModule{name: "counter"}); err == nil {
		t.Error("duplicate module accepted")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := el.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started || !m.stopped || m.processed == 0 {
		t.Errorf("module = started %v stopped %v processed %d", m.started, m.stopped, m.processed)
	}
}

func TestEventLoopStartFailure(t *testing.T) {
	el := NewEventLoop("test", time.Millisecond)
	first := &countingModule{name: "first"}
	_ = el.RegisterModule(first)
	_ = el.RegisterModule(&countingModule{name: "broken", startErr: errors.New("no calibration")})

	if err := el.Run(context.Background()); err == nil {
		t.Fatal("Run ignored a start failure")
	}
	if !first.stopped {
		t.Error("started module not stopped after a start failure")
	}
}
