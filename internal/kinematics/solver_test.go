package kinematics

import (
	"errors"
	"math"
	"testing"

	"github.com/golang/geo/r3"
)

func testMapping() Mapping {
	return Mapping{
		Base:     {Zero: 90, Direction: 1},
		Shoulder: {Zero: 180, Direction: -1},
		Elbow:    {Zero: 0, Direction: 1},
		Wrist:    {Zero: 90, Direction: 1},
		Effector: {Zero: 90, Direction: -1},
	}
}

func mustSolver(t *testing.T, links Links) *Solver {
	t.Helper()
	s, err := NewSolver(links, testMapping())
	if err != nil {
		t.Fatalf("NewSolver: %v", err)
	}
	return s
}

func TestConventionSymmetry(t *testing.T) {
	for _, c := range testMapping() {
		for _, a := range []float64{-135, -12.5, 0, 33.3, 90, 179} {
			if got := c.FromWire(c.ToWire(a)); math.Abs(got-a) > 1e-12 {
				t.Fatalf("convention %+v: round trip of %v gave %v", c, a, got)
			}
		}
	}
}

func TestRoundTripTwoLink(t *testing.T) {
	s := mustSolver(t, Links{Upper: 161.3, Fore: 112.4})
	cases := []JointState{
		{Base: 90, Shoulder: 120, Elbow: 90},
		{Base: 45, Shoulder: 100, Elbow: 60},
		{Base: 150, Shoulder: 140, Elbow: 135},
		{Base: 10, Shoulder: 95, Elbow: 170},
	}
	for _, js := range cases {
		target := s.Forward(js)
		solved, err := s.Inverse(Pose{Position: target})
		if err != nil {
			t.Fatalf("Inverse(%v) for %v: %v", target, js, err)
		}
		if got := s.Forward(solved); got.Distance(target) > 1e-3 {
			t.Fatalf("round trip mismatch for %v: want %v got %v", js, target, got)
		}
	}
}

func TestRoundTripWithWrist(t *testing.T) {
	s := mustSolver(t, Links{Upper: 120, Fore: 110, Hand: 60, ShoulderHeight: 40})
	cases := []JointState{
		{Base: 80, Shoulder: 110, Elbow: 80, Wrist: 40},
		{Base: 130, Shoulder: 130, Elbow: 100, Wrist: 70, Effector: 45},
	}
	for _, js := range cases {
		want := s.ForwardPose(js)
		solved, err := s.Inverse(want)
		if err != nil {
			t.Fatalf("Inverse for %v: %v", js, err)
		}
		got := s.ForwardPose(solved)
		if got.Position.Distance(want.Position) > 1e-3 {
			t.Fatalf("position mismatch for %v: want %v got %v", js, want.Position, got.Position)
		}
		if math.Abs(*got.Pitch-*want.Pitch) > 1e-6 {
			t.Fatalf("pitch mismatch for %v: want %v got %v", js, *want.Pitch, *got.Pitch)
		}
		if want.Rotation != nil && math.Abs(solved[Effector]-js[Effector]) > 1e-9 {
			t.Fatalf("effector mismatch: want %v got %v", js[Effector], solved[Effector])
		}
	}
}

func TestReachabilityBoundary(t *testing.T) {
	s := mustSolver(t, Links{Upper: 161.3, Fore: 112.4})

	js, err := s.Inverse(Pose{Position: r3.Vector{X: 161.3 + 112.4}})
	if err != nil {
		t.Fatalf("target on the outer boundary must be reachable: %v", err)
	}
	if got := s.Forward(js); got.Distance(r3.Vector{X: 273.7}) > 1e-3 {
		t.Fatalf("boundary solution lands at %v", got)
	}

	_, err = s.Inverse(Pose{Position: r3.Vector{X: 161.3 + 112.4 + 0.001}})
	if !errors.Is(err, ErrOutOfReach) {
		t.Fatalf("expected ErrOutOfReach, got %v", err)
	}

	inner := r3.Vector{Y: 161.3 - 112.4}
	js, err = s.Inverse(Pose{Position: inner})
	if err != nil {
		t.Fatalf("target on the inner boundary must be reachable: %v", err)
	}
	if got := s.Forward(js); got.Distance(inner) > 1e-3 {
		t.Fatalf("inner boundary solution lands at %v", got)
	}

	_, err = s.Inverse(Pose{Position: r3.Vector{Y: 161.3 - 112.4 - 0.5}})
	if !errors.Is(err, ErrOutOfReach) {
		t.Fatalf("expected ErrOutOfReach inside the inner radius, got %v", err)
	}
}

func TestFoldedSingularity(t *testing.T) {
	s := mustSolver(t, Links{Upper: 100, Fore: 100})
	js, err := s.Inverse(Pose{Position: r3.Vector{}})
	if err != nil {
		t.Fatalf("folded target: %v", err)
	}
	for j, v := range js {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("joint %s is not finite: %v", j, v)
		}
	}
	m := testMapping()
	if got := m[Shoulder].FromWire(js[Shoulder]); math.Abs(got-90) > 1e-9 {
		t.Fatalf("shoulder should point straight up, got %v", got)
	}
	if got := s.Forward(js); got.Norm() > 1e-6 {
		t.Fatalf("folded arm should end at the shoulder, got %v", got)
	}
}

func TestInverseBaseYaw(t *testing.T) {
	s := mustSolver(t, Links{Upper: 161.3, Fore: 112.4})
	js, err := s.Inverse(Pose{Position: r3.Vector{X: 0, Y: 150, Z: 50}})
	if err != nil {
		t.Fatalf("Inverse: %v", err)
	}
	// yaw 90 maps to wire 180 with the 90+angle convention
	if math.Abs(js[Base]-180) > 1e-9 {
		t.Fatalf("base wire angle: want 180 got %v", js[Base])
	}
	if _, ok := js[Wrist]; ok {
		t.Fatalf("two-link arm must not produce a wrist angle")
	}
}

func TestNewSolverRejectsBadLinks(t *testing.T) {
	if _, err := NewSolver(Links{Upper: 0, Fore: 10}, nil); err == nil {
		t.Fatal("expected error for zero upper link")
	}
	if _, err := NewSolver(Links{Upper: 10, Fore: 10, Hand: -1}, nil); err == nil {
		t.Fatal("expected error for negative hand link")
	}
}
