// Package servo owns the authoritative joint state of the arm, keeps every
// joint inside its hardware range and serializes the state into command
// frames for the transport.
//
// State is not safe for concurrent use; callers serialize access.
package servo

import (
	"fmt"
	"math"

	"chessarm/internal/kinematics"
)

// Limit is the static range and wire convention of one joint.
type Limit struct {
	Min       float64 `yaml:"min"`
	Max       float64 `yaml:"max"`
	Zero      float64 `yaml:"zero"`      // wire angle of the physical zero
	Direction float64 `yaml:"direction"` // +1 or -1
	Home      float64 `yaml:"home"`      // wire angle at power-up
}

// Clamp pins v into [Min, Max].
func (l Limit) Clamp(v float64) float64 {
	return math.Max(l.Min, math.Min(l.Max, v))
}

// Convention returns the joint's physical/wire mapping.
func (l Limit) Convention() kinematics.Convention {
	dir := l.Direction
	if dir == 0 {
		dir = 1
	}
	return kinematics.Convention{Zero: l.Zero, Direction: dir}
}

// Config is the joint order of the command frame plus per-joint limits.
type Config struct {
	Order  []kinematics.JointName         `yaml:"order"`
	Limits map[kinematics.JointName]Limit `yaml:"limits"`
}

// Mapping returns the wire conventions of the configured joints.
func (c Config) Mapping() kinematics.Mapping {
	m := make(kinematics.Mapping, len(c.Limits))
	for j, l := range c.Limits {
		m[j] = l.Convention()
	}
	return m
}

// Validate checks that every ordered joint has a usable range.
func (c Config) Validate() error {
	if len(c.Order) == 0 {
		return fmt.Errorf("joint order must not be empty")
	}
	seen := make(map[kinematics.JointName]bool, len(c.Order))
	for _, j := range c.Order {
		if seen[j] {
			return fmt.Errorf("joint %s listed twice", j)
		}
		seen[j] = true
		l, ok := c.Limits[j]
		if !ok {
			return fmt.Errorf("joint %s has no limits", j)
		}
		if l.Min >= l.Max {
			return fmt.Errorf("joint %s must have min < max (%.2f >= %.2f)", j, l.Min, l.Max)
		}
	}
	return nil
}

// State is the current joint configuration of one arm.
type State struct {
	order  []kinematics.JointName
	limits map[kinematics.JointName]Limit
	joints kinematics.JointState
}

// New returns a state parked at each joint's home angle.
func New(cfg Config) (*State, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &State{
		order:  append([]kinematics.JointName(nil), cfg.Order...),
		limits: make(map[kinematics.JointName]Limit, len(cfg.Order)),
		joints: make(kinematics.JointState, len(cfg.Order)),
	}
	for _, j := range s.order {
		l := cfg.Limits[j]
		s.limits[j] = l
		s.joints[j] = l.Clamp(l.Home)
	}
	return s, nil
}

// ApplyDelta adds each delta to its joint and clamps the result. Joints the
// arm does not have and non-finite deltas are ignored.
func (s *State) ApplyDelta(deltas kinematics.JointState) {
	for j, d := range deltas {
		l, ok := s.limits[j]
		if !ok || !finite(d) {
			continue
		}
		s.joints[j] = l.Clamp(s.joints[j] + d)
	}
}

// ApplyTarget replaces the joints present in target, clamped. Absent joints
// keep their value.
func (s *State) ApplyTarget(target kinematics.JointState) {
	for j, v := range target {
		l, ok := s.limits[j]
		if !ok || !finite(v) {
			continue
		}
		s.joints[j] = l.Clamp(v)
	}
}

// Home moves every joint to its home angle.
func (s *State) Home() {
	for j, l := range s.limits {
		s.joints[j] = l.Clamp(l.Home)
	}
}

// Joints returns a copy of the current state.
func (s *State) Joints() kinematics.JointState { return s.joints.Clone() }

// Value returns the current angle of j.
func (s *State) Value(j kinematics.JointName) float64 { return s.joints[j] }

// Order returns the frame field order.
func (s *State) Order() []kinematics.JointName {
	return append([]kinematics.JointName(nil), s.order...)
}

// Limit returns the configured limit of j.
func (s *State) Limit(j kinematics.JointName) (Limit, bool) {
	l, ok := s.limits[j]
	return l, ok
}

// Frame serializes the current state in frame order.
func (s *State) Frame() CommandFrame {
	values := make([]float64, len(s.order))
	for i, j := range s.order {
		values[i] = s.joints[j]
	}
	return NewFrame(values)
}

// DeltaFrame serializes deltas in frame order; missing joints are zero.
func (s *State) DeltaFrame(deltas kinematics.JointState) CommandFrame {
	values := make([]float64, len(s.order))
	for i, j := range s.order {
		if d, ok := deltas[j]; ok && finite(d) {
			values[i] = d
		}
	}
	return NewFrame(values)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
