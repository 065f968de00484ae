// Package physics provides the scene collaborators the staircase
// environment drives: a body that can be pushed, a fixed-timestep advance
// and a "touching a climbable support" predicate. Two worlds are
// available, a deterministic kinematic point mass and a box2d side view.
package physics

import (
	"errors"
	"fmt"
	"math"
)

// Vec3 uses X lateral, Y vertical and Z along the staircase
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

func (v Vec3) Scale(f float64) Vec3 {
	return Vec3{v.X * f, v.Y * f, v.Z * f}
}

func (v Vec3) Len() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

func (v Vec3) Finite() bool {
	for _, c := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

func (v Vec3) Slice() []float64 {
	return []float64{v.X, v.Y, v.Z}
}

// Box is an axis aligned box
type Box struct {
	Min Vec3 `json:"min"`
	Max Vec3 `json:"max"`
}

// Top is the height of the upper face
func (b Box) Top() float64 {
	return b.Max.Y
}

// ContainsFootprint reports whether (x, z) lies over the box
func (b Box) ContainsFootprint(x, z float64) bool {
	return x >= b.Min.X && x <= b.Max.X && z >= b.Min.Z && z <= b.Max.Z
}

// TopCenter is the middle of the upper face
func (b Box) TopCenter() Vec3 {
	return Vec3{(b.Min.X + b.Max.X) / 2, b.Max.Y, (b.Min.Z + b.Max.Z) / 2}
}

// Scene is the static geometry a world is built from. Supports are
// ordered bottom to top. Ground only exists over the footprint of Arena,
// outside of it the body falls.
type Scene struct {
	Supports []Box `json:"supports"`
	Arena    Box   `json:"arena"`
	Start    Vec3  `json:"start"`
}

func (s Scene) Validate() error {
	if len(s.Supports) == 0 {
		return errors.New("scene has no supports")
	}
	if s.Arena.Max.X <= s.Arena.Min.X || s.Arena.Max.Z <= s.Arena.Min.Z {
		return errors.New("scene arena is empty")
	}
	if !s.Arena.ContainsFootprint(s.Start.X, s.Start.Z) {
		return fmt.Errorf("start %+v is outside the arena", s.Start)
	}
	for i, b := range s.Supports {
		if b.Max.X <= b.Min.X || b.Max.Y <= b.Min.Y || b.Max.Z <= b.Min.Z {
			return fmt.Errorf("support %d is degenerate", i)
		}
	}
	return nil
}

// StaircaseConfig describes a straight staircase ascending along +Z
type StaircaseConfig struct {
	Steps int `json:"steps"`
	// Rise is the height added by each step
	Rise float64 `json:"rise"`
	// Run is the depth of each step along Z
	Run   float64 `json:"run"`
	Width float64 `json:"width"`
	// Approach is the flat ground between the start pose and the first step
	Approach float64 `json:"approach"`
	// Margin extends the arena past the staircase on every side
	Margin float64 `json:"margin"`
}

func DefaultStaircaseConfig() StaircaseConfig {
	return StaircaseConfig{
		Steps:    10,
		Rise:     0.35,
		Run:      0.6,
		Width:    2.0,
		Approach: 1.0,
		Margin:   1.0,
	}
}

func (c StaircaseConfig) Validate() error {
	if c.Steps <= 0 {
		return fmt.Errorf("staircase needs at least one step, got %d", c.Steps)
	}
	if c.Rise <= 0 || c.Run <= 0 || c.Width <= 0 {
		return errors.New("staircase rise, run and width must be positive")
	}
	if c.Approach < 0 || c.Margin < 0 {
		return errors.New("staircase approach and margin must be non-negative")
	}
	return nil
}

// Staircase builds the scene: support i spans Z in
// [Approach + i*Run, Approach + (i+1)*Run] with top (i+1)*Rise. Each step
// is a solid block down to the ground so that its front face is a wall.
func Staircase(c StaircaseConfig) Scene {
	halfWidth := c.Width / 2
	supports := make([]Box, c.Steps)
	for i := range supports {
		z0 := c.Approach + float64(i)*c.Run
		supports[i] = Box{
			Min: Vec3{-halfWidth, 0, z0},
			Max: Vec3{halfWidth, float64(i+1) * c.Rise, z0 + c.Run},
		}
	}
	length := c.Approach + float64(c.Steps)*c.Run
	return Scene{
		Supports: supports,
		Arena: Box{
			Min: Vec3{-halfWidth - c.Margin, 0, -c.Margin},
			Max: Vec3{halfWidth + c.Margin, float64(c.Steps+1) * c.Rise, length + c.Margin},
		},
		Start: Vec3{0, 0, 0},
	}
}

// World is the body and fixed-timestep simulation the environment drives.
// Positions are those of the body's feet.
type World interface {
	Position() Vec3
	Velocity() Vec3
	// ApplyForce adds a force acting during the next Advance only
	ApplyForce(Vec3)
	ApplyImpulse(Vec3)
	// TouchingSupport reports contact with any climbable support, top or side
	TouchingSupport() bool
	// Grounded reports that the body rests on the ground or a support top
	Grounded() bool
	// Advance moves the simulation forward by one TimeStep
	Advance()
	// Place teleports the body and zeroes its velocity
	Place(Vec3)
	TimeStep() float64
	Scene() Scene
}

// BodyConfig holds the parameters shared by every world
type BodyConfig struct {
	Mass    float64 `json:"mass"`
	Gravity float64 `json:"gravity"`
	// Damping is the linear horizontal drag per second
	Damping float64 `json:"damping"`
	// TimeStep is the fixed tick in seconds
	TimeStep float64 `json:"time_step"`
	// StepUp is the highest ledge the body walks onto without jumping
	StepUp float64 `json:"step_up"`
	// ContactMargin is the distance at which a support side counts as touched
	ContactMargin float64 `json:"contact_margin"`
}

func DefaultBodyConfig() BodyConfig {
	return BodyConfig{
		Mass:          1.0,
		Gravity:       -9.81,
		Damping:       4.0,
		TimeStep:      1.0 / 60.0,
		StepUp:        0.2,
		ContactMargin: 0.05,
	}
}

func (c BodyConfig) Validate() error {
	if c.Mass <= 0 {
		return fmt.Errorf("mass must be positive, got %f", c.Mass)
	}
	if c.TimeStep <= 0 {
		return fmt.Errorf("time step must be positive, got %f", c.TimeStep)
	}
	if c.Damping < 0 || c.StepUp < 0 || c.ContactMargin < 0 {
		return errors.New("damping, step up and contact margin must be non-negative")
	}
	return nil
}
