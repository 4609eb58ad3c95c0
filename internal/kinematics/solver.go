package kinematics

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

const (
	reachTolerance = 1e-9 // mm
	singularRadius = 1e-9 // mm
)

// Solver is a stateless forward/inverse kinematics solver for one arm.
type Solver struct {
	links   Links
	mapping Mapping
}

// NewSolver validates the geometry and returns a solver for it.
func NewSolver(links Links, mapping Mapping) (*Solver, error) {
	if links.Upper <= 0 || links.Fore <= 0 {
		return nil, fmt.Errorf("link lengths must be positive: upper=%.3f fore=%.3f", links.Upper, links.Fore)
	}
	if links.Hand < 0 {
		return nil, fmt.Errorf("hand link length must not be negative: %.3f", links.Hand)
	}
	if mapping == nil {
		mapping = Mapping{}
	}
	return &Solver{links: links, mapping: mapping}, nil
}

// Links returns the solver geometry.
func (s *Solver) Links() Links { return s.links }

// Reach returns the inner and outer radius of the 2-link annulus.
func (s *Solver) Reach() (inner, outer float64) {
	return math.Abs(s.links.Upper - s.links.Fore), s.links.Upper + s.links.Fore
}

// Forward returns the end-effector position for the given wire angles.
func (s *Solver) Forward(js JointState) r3.Vector {
	return s.ForwardPose(js).Position
}

// ForwardPose is Forward plus the absolute end-effector pitch and rotation
// implied by the joint angles.
func (s *Solver) ForwardPose(js JointState) Pose {
	yaw := s.physical(Base, js)
	shoulder := s.physical(Shoulder, js)
	elbow := s.physical(Elbow, js)

	// forearm absolute angle in the vertical plane
	fore := shoulder - (180 - elbow)

	h := s.links.Upper*cosd(shoulder) + s.links.Fore*cosd(fore)
	v := s.links.Upper*sind(shoulder) + s.links.Fore*sind(fore)

	pitch := fore
	if s.links.HasWrist() {
		pitch = fore + s.physical(Wrist, js)
		h += s.links.Hand * cosd(pitch)
		v += s.links.Hand * sind(pitch)
	}

	pose := Pose{
		Position: r3.Vector{X: h * cosd(yaw), Y: h * sind(yaw), Z: v + s.links.ShoulderHeight},
		Pitch:    Angle(pitch),
	}
	if _, ok := js[Effector]; ok {
		pose.Rotation = Angle(s.physical(Effector, js))
	}
	return pose
}

// Inverse solves the joint angles reaching the pose. The elbow-up solution
// is returned. Without a pitch the wrist stage holds the tool level.
func (s *Solver) Inverse(p Pose) (JointState, error) {
	L1, L2 := s.links.Upper, s.links.Fore

	yaw := math.Atan2(p.Position.Y, p.Position.X)
	h := math.Hypot(p.Position.X, p.Position.Y)
	v := p.Position.Z - s.links.ShoulderHeight

	pitch := 0.0
	if p.Pitch != nil {
		pitch = *p.Pitch
	}
	if s.links.HasWrist() {
		h -= s.links.Hand * cosd(pitch)
		v -= s.links.Hand * sind(pitch)
	}

	d := math.Hypot(h, v)
	inner, outer := s.Reach()
	if d > outer+reachTolerance || d < inner-reachTolerance {
		return nil, fmt.Errorf("%w: distance %.3f mm outside [%.3f, %.3f]", ErrOutOfReach, d, inner, outer)
	}

	elbow := degrees(math.Acos(clampUnit((L1*L1 + L2*L2 - d*d) / (2 * L1 * L2))))

	var shoulder float64
	if d < singularRadius {
		// folded onto the shoulder axis: upper link up, forearm straight down
		shoulder = 90
	} else {
		shoulder = degrees(math.Atan2(v, h) + math.Acos(clampUnit((d*d+L1*L1-L2*L2)/(2*d*L1))))
	}

	js := JointState{
		Base:     s.mapping.of(Base).ToWire(degrees(yaw)),
		Shoulder: s.mapping.of(Shoulder).ToWire(shoulder),
		Elbow:    s.mapping.of(Elbow).ToWire(elbow),
	}
	if s.links.HasWrist() {
		wrist := pitch - (shoulder - (180 - elbow))
		js[Wrist] = s.mapping.of(Wrist).ToWire(wrist)
	}
	if p.Rotation != nil {
		js[Effector] = s.mapping.of(Effector).ToWire(*p.Rotation)
	}
	return js, nil
}

func (s *Solver) physical(j JointName, js JointState) float64 {
	return s.mapping.of(j).FromWire(js[j])
}

func clampUnit(x float64) float64 {
	return math.Max(-1, math.Min(1, x))
}

func degrees(rad float64) float64 { return rad * 180 / math.Pi }

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func cosd(deg float64) float64 { return math.Cos(radians(deg)) }

func sind(deg float64) float64 { return math.Sin(radians(deg)) }
