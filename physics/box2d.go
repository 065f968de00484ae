package physics

import (
	"math"

	"github.com/ByteArena/box2d"
)

const (
	box2dVelocityIterations = 8
	box2dPositionIterations = 3

	// agent body half extents in the side view
	agentHalfDepth  = 0.15
	agentHalfHeight = 0.3
)

// fixtureTag is stored as fixture user data, ground uses index -1
type fixtureTag struct {
	support int
}

// contactCounter tracks how many fixtures the agent currently touches
type contactCounter struct {
	agent    *box2d.B2Body
	supports map[int]int
	ground   int
}

func (c *contactCounter) other(contact box2d.B2ContactInterface) (fixtureTag, bool) {
	a, b := contact.GetFixtureA(), contact.GetFixtureB()
	var other *box2d.B2Fixture
	switch {
	case a.GetBody() == c.agent:
		other = b
	case b.GetBody() == c.agent:
		other = a
	default:
		return fixtureTag{}, false
	}
	tag, ok := other.GetUserData().(fixtureTag)
	return tag, ok
}

func (c *contactCounter) BeginContact(contact box2d.B2ContactInterface) {
	tag, ok := c.other(contact)
	if !ok {
		return
	}
	if tag.support < 0 {
		c.ground++
		return
	}
	c.supports[tag.support]++
}

func (c *contactCounter) EndContact(contact box2d.B2ContactInterface) {
	tag, ok := c.other(contact)
	if !ok {
		return
	}
	if tag.support < 0 {
		if c.ground > 0 {
			c.ground--
		}
		return
	}
	if c.supports[tag.support] > 0 {
		c.supports[tag.support]--
	}
	if c.supports[tag.support] == 0 {
		delete(c.supports, tag.support)
	}
}

func (c *contactCounter) PreSolve(contact box2d.B2ContactInterface, oldManifold box2d.B2Manifold) {
}

func (c *contactCounter) PostSolve(contact box2d.B2ContactInterface, impulse *box2d.B2ContactImpulse) {
}

// Box2DWorld simulates the staircase in a side view: box2d's x axis is
// the stair direction Z and its y axis is the height Y. Lateral motion
// along X has no obstacles and is integrated separately with the same
// damping, so leaving the arena sideways is still observable.
type Box2DWorld struct {
	config BodyConfig
	scene  Scene

	world    box2d.B2World
	agent    *box2d.B2Body
	contacts *contactCounter

	lateral    float64
	lateralVel float64
	force      Vec3
}

var _ World = &Box2DWorld{}

func NewBox2DWorld(scene Scene, config BodyConfig) *Box2DWorld {
	w := &Box2DWorld{
		config: config,
		scene:  scene,
		world:  box2d.MakeB2World(box2d.MakeB2Vec2(0, config.Gravity)),
	}

	arena := scene.Arena
	groundDepth := (arena.Max.Z - arena.Min.Z) / 2
	w.addStatic(
		box2d.MakeB2Vec2(arena.Min.Z+groundDepth, arena.Min.Y-0.5),
		groundDepth, 0.5, fixtureTag{support: -1},
	)
	for i, b := range scene.Supports {
		halfDepth := (b.Max.Z - b.Min.Z) / 2
		halfHeight := (b.Max.Y - b.Min.Y) / 2
		w.addStatic(
			box2d.MakeB2Vec2(b.Min.Z+halfDepth, b.Min.Y+halfHeight),
			halfDepth, halfHeight, fixtureTag{support: i},
		)
	}

	agentDef := box2d.MakeB2BodyDef()
	agentDef.Type = box2d.B2BodyType.B2_dynamicBody
	agentDef.FixedRotation = true
	agentDef.Position = box2d.MakeB2Vec2(scene.Start.Z, scene.Start.Y+agentHalfHeight)
	w.agent = w.world.CreateBody(&agentDef)

	shape := box2d.NewB2PolygonShape()
	shape.SetAsBox(agentHalfDepth, agentHalfHeight)
	fix := box2d.MakeB2FixtureDef()
	fix.Shape = shape
	fix.Density = config.Mass / (4 * agentHalfDepth * agentHalfHeight)
	fix.Friction = 0.6
	fix.Restitution = 0
	w.agent.CreateFixtureFromDef(&fix)
	w.agent.SetLinearDamping(config.Damping)

	w.contacts = &contactCounter{agent: w.agent, supports: make(map[int]int)}
	w.world.SetContactListener(w.contacts)

	w.Place(scene.Start)
	return w
}

func (w *Box2DWorld) addStatic(center box2d.B2Vec2, halfW, halfH float64, tag fixtureTag) {
	def := box2d.MakeB2BodyDef()
	def.Type = box2d.B2BodyType.B2_staticBody
	def.Position = center
	body := w.world.CreateBody(&def)

	shape := box2d.NewB2PolygonShape()
	shape.SetAsBox(halfW, halfH)
	fix := box2d.MakeB2FixtureDef()
	fix.Shape = shape
	fix.Friction = 0.6
	fix.UserData = tag
	body.CreateFixtureFromDef(&fix)
}

func (w *Box2DWorld) Position() Vec3 {
	p := w.agent.GetPosition()
	return Vec3{X: w.lateral, Y: p.Y - agentHalfHeight, Z: p.X}
}

func (w *Box2DWorld) Velocity() Vec3 {
	v := w.agent.GetLinearVelocity()
	return Vec3{X: w.lateralVel, Y: v.Y, Z: v.X}
}

func (w *Box2DWorld) ApplyForce(f Vec3) {
	w.force = w.force.Add(f)
}

func (w *Box2DWorld) ApplyImpulse(j Vec3) {
	w.agent.ApplyLinearImpulse(box2d.MakeB2Vec2(j.Z, j.Y), w.agent.GetWorldCenter(), true)
	w.lateralVel += j.X / w.config.Mass
}

func (w *Box2DWorld) TouchingSupport() bool {
	return len(w.contacts.supports) > 0 && w.overArena()
}

// Grounded needs a contact and a body that is not moving up or down
func (w *Box2DWorld) Grounded() bool {
	if !w.overArena() {
		return false
	}
	touching := w.contacts.ground > 0 || len(w.contacts.supports) > 0
	return touching && math.Abs(w.agent.GetLinearVelocity().Y) < 0.5
}

func (w *Box2DWorld) TimeStep() float64 { return w.config.TimeStep }

func (w *Box2DWorld) Scene() Scene { return w.scene }

func (w *Box2DWorld) Advance() {
	dt := w.config.TimeStep
	w.agent.ApplyForceToCenter(box2d.MakeB2Vec2(w.force.Z, w.force.Y), true)

	w.lateralVel += w.force.X / w.config.Mass * dt
	w.lateralVel *= math.Max(0, 1-w.config.Damping*dt)
	w.lateral += w.lateralVel * dt
	w.force = Vec3{}

	w.world.Step(dt, box2dVelocityIterations, box2dPositionIterations)
}

func (w *Box2DWorld) Place(p Vec3) {
	w.agent.SetTransform(box2d.MakeB2Vec2(p.Z, p.Y+agentHalfHeight), 0)
	w.agent.SetLinearVelocity(box2d.MakeB2Vec2(0, 0))
	w.agent.SetAwake(true)
	w.lateral = p.X
	w.lateralVel = 0
	w.force = Vec3{}
}

// the side view has no lateral geometry, contacts only count inside the arena width
func (w *Box2DWorld) overArena() bool {
	return w.lateral >= w.scene.Arena.Min.X && w.lateral <= w.scene.Arena.Max.X
}
