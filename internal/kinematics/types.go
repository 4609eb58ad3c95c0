// Package kinematics converts between joint space and Cartesian space for a
// serial arm made of a base yaw joint and a planar 2-link or 3-link chain.
//
// Angles cross the package boundary in degrees using each joint's servo-wire
// convention; radians are only used inside the solver math.
package kinematics

import (
	"errors"

	"github.com/golang/geo/r3"
)

// JointName identifies a joint of the arm.
type JointName string

const (
	Base     JointName = "base"
	Shoulder JointName = "shoulder"
	Elbow    JointName = "elbow"
	Wrist    JointName = "wrist"
	Effector JointName = "effector"
)

// AllJoints returns every joint the solver knows, base first.
func AllJoints() []JointName {
	return []JointName{Base, Shoulder, Elbow, Wrist, Effector}
}

// ErrOutOfReach is returned when a target lies outside the annulus the
// 2-link sub-chain can reach.
var ErrOutOfReach = errors.New("target out of reach")

// JointState holds joint angles in degrees, servo-wire convention.
type JointState map[JointName]float64

// Clone returns an independent copy of the state.
func (s JointState) Clone() JointState {
	out := make(JointState, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Pose is a Cartesian target in the arm base frame (mm) with optional
// end-effector pitch and rotation in degrees.
type Pose struct {
	Position r3.Vector
	Pitch    *float64
	Rotation *float64
}

// Angle is a helper for building optional Pose fields.
func Angle(deg float64) *float64 { return &deg }

// Links describes the arm geometry in millimeters.
type Links struct {
	Upper          float64 `yaml:"upper"`           // L1, shoulder to elbow
	Fore           float64 `yaml:"fore"`            // L2, elbow to wrist
	Hand           float64 `yaml:"hand"`            // L3, wrist to tool point; 0 without a wrist stage
	ShoulderHeight float64 `yaml:"shoulder_height"` // shoulder pivot above the base plane
}

// HasWrist reports whether the chain includes the wrist link.
func (l Links) HasWrist() bool { return l.Hand > 0 }

// Convention maps a physical joint angle to the angle sent on the wire:
// wire = Zero + Direction*physical. Direction is +1 or -1.
type Convention struct {
	Zero      float64 `yaml:"zero"`
	Direction float64 `yaml:"direction"`
}

func (c Convention) dir() float64 {
	if c.Direction < 0 {
		return -1
	}
	return 1
}

// ToWire converts a physical angle to the wire convention.
func (c Convention) ToWire(physical float64) float64 {
	return c.Zero + c.dir()*physical
}

// FromWire converts a wire angle back to the physical angle.
func (c Convention) FromWire(wire float64) float64 {
	return (wire - c.Zero) * c.dir()
}

// Mapping holds the wire convention of each joint. Joints without an entry
// use the identity convention.
type Mapping map[JointName]Convention

func (m Mapping) of(j JointName) Convention {
	if c, ok := m[j]; ok {
		return c
	}
	return Convention{Direction: 1}
}
