package physics

import "math"

// KinematicWorld integrates a point mass with semi-implicit Euler and
// resolves contacts against the scene's boxes directly. It uses no
// randomness, so identical action sequences give identical trajectories.
type KinematicWorld struct {
	config BodyConfig
	scene  Scene

	pos   Vec3
	vel   Vec3
	force Vec3

	grounded   bool
	standingOn int
	touching   bool
}

var _ World = &KinematicWorld{}

func NewKinematicWorld(scene Scene, config BodyConfig) *KinematicWorld {
	w := &KinematicWorld{
		config:     config,
		scene:      scene,
		standingOn: -1,
	}
	w.Place(scene.Start)
	return w
}

func (w *KinematicWorld) Position() Vec3 { return w.pos }

func (w *KinematicWorld) Velocity() Vec3 { return w.vel }

func (w *KinematicWorld) ApplyForce(f Vec3) {
	w.force = w.force.Add(f)
}

func (w *KinematicWorld) ApplyImpulse(j Vec3) {
	w.vel = w.vel.Add(j.Scale(1 / w.config.Mass))
}

func (w *KinematicWorld) TouchingSupport() bool { return w.touching }

func (w *KinematicWorld) Grounded() bool { return w.grounded }

func (w *KinematicWorld) TimeStep() float64 { return w.config.TimeStep }

func (w *KinematicWorld) Scene() Scene { return w.scene }

func (w *KinematicWorld) Place(p Vec3) {
	w.pos = p
	w.vel = Vec3{}
	w.force = Vec3{}
	w.resolve(p, p.Y)
}

func (w *KinematicWorld) Advance() {
	dt := w.config.TimeStep
	acc := w.force.Scale(1 / w.config.Mass)
	acc.Y += w.config.Gravity
	w.vel = w.vel.Add(acc.Scale(dt))
	drag := math.Max(0, 1-w.config.Damping*dt)
	w.vel.X *= drag
	w.vel.Z *= drag
	w.force = Vec3{}

	old := w.pos
	next := old.Add(w.vel.Scale(dt))

	// ledges higher than StepUp above the feet block horizontal motion
	for _, b := range w.scene.Supports {
		if b.ContainsFootprint(next.X, next.Z) && next.Y < b.Top() && b.Top() > old.Y+w.config.StepUp {
			next.X, next.Z = old.X, old.Z
			w.vel.X, w.vel.Z = 0, 0
			break
		}
	}

	w.pos = next
	w.resolve(next, math.Max(old.Y, next.Y))
}

// resolve lands the body on the highest reachable surface under it and
// refreshes the contact predicates. reach is the height stepping is
// measured from.
func (w *KinematicWorld) resolve(p Vec3, reach float64) {
	floor := math.Inf(-1)
	standing := -1
	if w.scene.Arena.ContainsFootprint(p.X, p.Z) {
		floor = w.scene.Arena.Min.Y
	}
	for i, b := range w.scene.Supports {
		if b.ContainsFootprint(p.X, p.Z) && b.Top() <= reach+w.config.StepUp && b.Top() >= floor {
			floor = b.Top()
			standing = i
		}
	}

	w.grounded = false
	w.standingOn = -1
	if p.Y <= floor {
		w.pos.Y = floor
		if w.vel.Y < 0 {
			w.vel.Y = 0
		}
		w.grounded = true
		w.standingOn = standing
	}

	w.touching = w.standingOn >= 0 || w.nearSupportSide(w.pos)
}

func (w *KinematicWorld) nearSupportSide(p Vec3) bool {
	m := w.config.ContactMargin
	for _, b := range w.scene.Supports {
		if p.X >= b.Min.X-m && p.X <= b.Max.X+m &&
			p.Z >= b.Min.Z-m && p.Z <= b.Max.Z+m &&
			p.Y >= b.Min.Y-m && p.Y < b.Top() {
			return true
		}
	}
	return false
}

// StandingOn returns the support index under the body, -1 when on the
// ground or in the air
func (w *KinematicWorld) StandingOn() int { return w.standingOn }
