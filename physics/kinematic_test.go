package physics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lowStairs() Scene {
	c := DefaultStaircaseConfig()
	c.Rise = 0.15
	return Staircase(c)
}

func TestStaircaseGeometry(t *testing.T) {
	c := DefaultStaircaseConfig()
	s := Staircase(c)
	require.NoError(t, s.Validate())
	require.Len(t, s.Supports, c.Steps)
	for i, b := range s.Supports {
		assert.InDelta(t, float64(i+1)*c.Rise, b.Top(), 1e-12)
		assert.InDelta(t, c.Approach+float64(i)*c.Run, b.Min.Z, 1e-12)
	}
	assert.False(t, s.Supports[0].ContainsFootprint(s.Start.X, s.Start.Z))
}

func TestKinematicRestsOnGround(t *testing.T) {
	w := NewKinematicWorld(Staircase(DefaultStaircaseConfig()), DefaultBodyConfig())
	for i := 0; i < 30; i++ {
		w.Advance()
	}
	assert.Equal(t, 0.0, w.Position().Y)
	assert.Equal(t, Vec3{}, w.Velocity())
	assert.True(t, w.Grounded())
	assert.False(t, w.TouchingSupport())
	assert.Equal(t, -1, w.StandingOn())
}

func TestKinematicWalksOntoLowStep(t *testing.T) {
	scene := lowStairs()
	w := NewKinematicWorld(scene, DefaultBodyConfig())
	for i := 0; i < 600 && w.StandingOn() < 0; i++ {
		w.ApplyForce(Vec3{Z: 20})
		w.Advance()
	}
	require.Equal(t, 0, w.StandingOn())
	assert.Equal(t, scene.Supports[0].Top(), w.Position().Y)
	assert.True(t, w.Grounded())
	assert.True(t, w.TouchingSupport())
}

func TestKinematicTallStepBlocksWalking(t *testing.T) {
	scene := Staircase(DefaultStaircaseConfig())
	w := NewKinematicWorld(scene, DefaultBodyConfig())
	for i := 0; i < 600; i++ {
		w.ApplyForce(Vec3{Z: 20})
		w.Advance()
	}
	assert.Less(t, w.Position().Z, scene.Supports[0].Min.Z)
	assert.Equal(t, -1, w.StandingOn())
	assert.True(t, w.TouchingSupport())

	// grabbing the face lifts the body onto the step
	for i := 0; i < 600 && w.StandingOn() < 0; i++ {
		w.ApplyForce(Vec3{Y: 15, Z: 3})
		w.Advance()
	}
	assert.Equal(t, 0, w.StandingOn())
}

func TestKinematicJumpLeavesGround(t *testing.T) {
	w := NewKinematicWorld(Staircase(DefaultStaircaseConfig()), DefaultBodyConfig())
	w.ApplyImpulse(Vec3{Y: 4})
	w.Advance()
	assert.Greater(t, w.Position().Y, 0.0)
	assert.False(t, w.Grounded())

	for i := 0; i < 120; i++ {
		w.Advance()
	}
	assert.True(t, w.Grounded())
	assert.Equal(t, 0.0, w.Position().Y)
}

func TestKinematicFallsOutsideArena(t *testing.T) {
	scene := Staircase(DefaultStaircaseConfig())
	w := NewKinematicWorld(scene, DefaultBodyConfig())
	w.Place(Vec3{X: scene.Arena.Max.X + 0.5})
	for i := 0; i < 30; i++ {
		w.Advance()
	}
	assert.Less(t, w.Position().Y, 0.0)
	assert.False(t, w.Grounded())
}

func TestKinematicIsDeterministic(t *testing.T) {
	run := func() Vec3 {
		w := NewKinematicWorld(Staircase(DefaultStaircaseConfig()), DefaultBodyConfig())
		for i := 0; i < 200; i++ {
			switch i % 3 {
			case 0:
				w.ApplyForce(Vec3{Z: 20})
			case 1:
				w.ApplyForce(Vec3{X: 5})
			default:
				if w.Grounded() {
					w.ApplyImpulse(Vec3{Y: 4})
				}
			}
			w.Advance()
		}
		return w.Position()
	}
	assert.Equal(t, run(), run())
}

func TestPlaceZeroesVelocity(t *testing.T) {
	w := NewKinematicWorld(Staircase(DefaultStaircaseConfig()), DefaultBodyConfig())
	w.ApplyImpulse(Vec3{Y: 3, Z: 1})
	w.Advance()
	w.Place(Vec3{})
	assert.Equal(t, Vec3{}, w.Velocity())
	assert.Equal(t, Vec3{}, w.Position())
	assert.True(t, w.Grounded())
}
