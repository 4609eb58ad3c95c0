package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"chessarm/internal/hardware/comm"
	"chessarm/internal/kinematics"
	"chessarm/internal/logging"
	"chessarm/internal/servo"
	"chessarm/internal/teleop"
	"chessarm/pkg/types"
)

// ArmOptions wires an ArmController. Input and Transport may be nil: the arm
// then holds its pose or computes frames without sending them.
type ArmOptions struct {
	Solver            *kinematics.Solver
	Servos            servo.Config
	Teleop            teleop.Config
	FrameMode         types.FrameMode
	ReconnectInterval time.Duration
	Input             AxisSource
	Transport         comm.Transport
}

// ArmController owns the servo state. Each tick it applies a pending target
// move and the gamepad deltas, then sends one command frame.
type ArmController struct {
	mu         sync.Mutex
	solver     *kinematics.Solver
	state      *servo.State
	integrator *teleop.Integrator
	input      AxisSource
	transport  comm.Transport
	mode       types.FrameMode
	reconnect  time.Duration
	now        func() time.Time

	movesMu sync.Mutex
	moves   chan kinematics.JointState

	// touched only from the loop goroutine
	lastConnect time.Time
	linkFailed  bool
	inputFailed bool

	framesSent    atomic.Uint64
	framesDropped atomic.Uint64
	movesApplied  atomic.Uint64
	movesReplaced atomic.Uint64

	logger *logging.Logger
}

func NewArmController(opts ArmOptions) (*ArmController, error) {
	if opts.Solver == nil {
		return nil, fmt.Errorf("arm controller needs a solver")
	}
	state, err := servo.New(opts.Servos)
	if err != nil {
		return nil, fmt.Errorf("failed to create servo state: %w", err)
	}
	integrator, err := teleop.NewIntegrator(opts.Teleop)
	if err != nil {
		return nil, fmt.Errorf("failed to create teleop integrator: %w", err)
	}
	mode := opts.FrameMode
	if mode == "" {
		mode = types.FrameAbsolute
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = 2 * time.Second
	}
	return &ArmController{
		solver:     opts.Solver,
		state:      state,
		integrator: integrator,
		input:      opts.Input,
		transport:  opts.Transport,
		mode:       mode,
		reconnect:  opts.ReconnectInterval,
		now:        time.Now,
		moves:      make(chan kinematics.JointState, 1),
		logger:     logging.GetLogger("arm"),
	}, nil
}

func (a *ArmController) Name() string { return "arm" }

// Start opens the transport. Failure is not fatal: the link is retried from
// Process.
func (a *ArmController) Start(ctx context.Context) error {
	if a.input == nil {
		a.logger.Warn("No input device, teleop disabled")
	}
	if a.transport == nil {
		a.logger.Warn("No transport configured, frames are not sent")
		return nil
	}
	a.lastConnect = a.now()
	if err := a.transport.Connect(ctx); err != nil {
		a.linkDown(err)
	}
	return nil
}

func (a *ArmController) Stop() error {
	if a.transport == nil {
		return nil
	}
	return a.transport.Disconnect(context.Background())
}

// Process runs one control tick. Link and input failures are logged once
// and never returned.
func (a *ArmController) Process(ctx context.Context) error {
	a.mu.Lock()
	before := a.state.Joints()

	select {
	case target := <-a.moves:
		a.state.ApplyTarget(target)
		a.movesApplied.Add(1)
	default:
	}

	if a.input != nil {
		axes, err := a.input.Poll()
		switch {
		case err != nil:
			if !a.inputFailed {
				a.inputFailed = true
				a.logger.Warn("Input device unavailable, holding position", "error", err)
			}
		default:
			if a.inputFailed {
				a.inputFailed = false
				a.logger.Info("Input device recovered")
			}
			a.state.ApplyDelta(a.integrator.Deltas(axes))
		}
	}

	var frame servo.CommandFrame
	changed := false
	after := a.state.Joints()
	diff := make(kinematics.JointState, len(after))
	for j, v := range after {
		if d := v - before[j]; d != 0 {
			diff[j] = d
			changed = true
		}
	}
	if a.mode == types.FrameDelta {
		frame = a.state.DeltaFrame(diff)
	} else {
		frame = a.state.Frame()
	}
	a.mu.Unlock()

	if a.mode == types.FrameDelta && !changed {
		return nil
	}
	a.send(ctx, frame)
	return nil
}

func (a *ArmController) send(ctx context.Context, frame servo.CommandFrame) {
	if a.transport == nil {
		return
	}
	if !a.transport.IsConnected() {
		if a.now().Sub(a.lastConnect) >= a.reconnect {
			a.lastConnect = a.now()
			if err := a.transport.Connect(ctx); err != nil {
				a.linkDown(err)
			}
		}
		if !a.transport.IsConnected() {
			a.framesDropped.Add(1)
			return
		}
	}
	if err := a.transport.Send(ctx, frame); err != nil {
		a.lastConnect = a.now()
		a.linkDown(err)
		a.framesDropped.Add(1)
		return
	}
	if a.linkFailed {
		a.linkFailed = false
		a.logger.Info("Transport recovered", "transport", a.transport.Name())
	}
	a.framesSent.Add(1)
}

func (a *ArmController) linkDown(err error) {
	if a.linkFailed {
		return
	}
	a.linkFailed = true
	a.logger.Warn("Transport unavailable, skipping frames", "transport", a.transport.Name(), "retry_every", a.reconnect, "error", err)
}

// MoveTo solves pose and queues the joint target for the next tick. A newer
// move replaces one that has not been applied yet. Unreachable poses return
// kinematics.ErrOutOfReach and leave the arm untouched.
func (a *ArmController) MoveTo(pose kinematics.Pose) error {
	target, err := a.solver.Inverse(pose)
	if err != nil {
		return err
	}
	a.enqueue(target)
	return nil
}

func (a *ArmController) enqueue(target kinematics.JointState) {
	a.movesMu.Lock()
	defer a.movesMu.Unlock()
	select {
	case <-a.moves:
		a.movesReplaced.Add(1)
	default:
	}
	a.moves <- target
}

// Home replaces any pending move with the configured home pose and returns
// that target. Like MoveTo it takes effect on the next tick, so delta frames
// stay in step.
func (a *ArmController) Home() kinematics.JointState {
	a.mu.Lock()
	home := make(kinematics.JointState)
	for _, j := range a.state.Order() {
		if l, ok := a.state.Limit(j); ok {
			home[j] = l.Home
		}
	}
	a.mu.Unlock()
	a.enqueue(home.Clone())
	return home
}

// Joints returns a copy of the current wire angles.
func (a *ArmController) Joints() kinematics.JointState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.Joints()
}

// Pose returns the end-effector pose implied by the current joints.
func (a *ArmController) Pose() kinematics.Pose {
	return a.solver.ForwardPose(a.Joints())
}

func (a *ArmController) Status() map[string]interface{} {
	a.mu.Lock()
	frame := a.state.Frame()
	joints := a.state.Joints()
	a.mu.Unlock()

	pos := a.solver.Forward(joints)
	link := "none"
	if a.transport != nil {
		link = a.transport.GetStatus().String()
	}
	return map[string]interface{}{
		"frame":          frame.String(),
		"position_mm":    fmt.Sprintf("%.1f,%.1f,%.1f", pos.X, pos.Y, pos.Z),
		"link":           link,
		"frames_sent":    humanize.Comma(int64(a.framesSent.Load())),
		"frames_dropped": humanize.Comma(int64(a.framesDropped.Load())),
		"moves_applied":  humanize.Comma(int64(a.movesApplied.Load())),
		"moves_replaced": humanize.Comma(int64(a.movesReplaced.Load())),
	}
}
