// Package stairs is the staircase climbing environment. It owns the
// episode state machine on top of a physics world: support detection,
// reward shaping, the safety buffer, termination and curriculum levels.
package stairs

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"github.com/zeu5/stair-rl/core"
	"github.com/zeu5/stair-rl/physics"
	"github.com/zeu5/stair-rl/util"
)

// ObservationSize is the length of every observation:
// position(3), velocity(3), distance to goal, horizontal goal direction(2),
// current support index, distance to next support, on-support flag and
// the remaining safety buffer as a fraction of its budget.
const ObservationSize = 13

// SupportAt returns the index of the support the feet at p stand on, or
// -1. The highest matching support wins where footprints touch.
func SupportAt(supports []physics.Box, p physics.Vec3, tolerance float64) int {
	for i := len(supports) - 1; i >= 0; i-- {
		b := supports[i]
		if b.ContainsFootprint(p.X, p.Z) && math.Abs(p.Y-b.Top()) <= tolerance {
			return i
		}
	}
	return -1
}

// Env implements core.CurriculumEnvironment
type Env struct {
	config Config
	world  physics.World
	scene  physics.Scene
	logger logrus.FieldLogger

	level int

	step         int
	safetyBuffer int
	offTicks     int
	highest      int
	lastSupport  int
	support      int
	done         bool
	outcome      core.Outcome
	lastObs      core.Observation

	invalidLogged bool
}

var _ core.CurriculumEnvironment = &Env{}

// NewEnv validates the config and builds the configured physics engine
func NewEnv(config Config, logger logrus.FieldLogger) (*Env, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	world, err := NewWorld(config)
	if err != nil {
		return nil, err
	}
	return NewEnvWithWorld(config, world, logger), nil
}

// NewEnvWithWorld runs the environment on an existing world. The config is
// expected to be valid.
func NewEnvWithWorld(config Config, world physics.World, logger logrus.FieldLogger) *Env {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	e := &Env{
		config: config,
		world:  world,
		scene:  world.Scene(),
		logger: logger.WithField("env", "stairs"),
	}
	e.Reset()
	return e
}

func (e *Env) ObservationSize() int {
	return ObservationSize
}

func (e *Env) Config() Config {
	return e.config
}

// Reset places the agent at the scene's start pose
func (e *Env) Reset() core.Observation {
	e.world.Place(e.scene.Start)
	e.step = 0
	e.safetyBuffer = e.config.SafetyBuffer
	e.offTicks = 0
	e.highest = -1
	e.lastSupport = -1
	e.done = false
	e.outcome = core.OutcomeRunning

	pos := e.world.Position()
	e.support = SupportAt(e.scene.Supports, pos, e.config.SupportTolerance)
	if e.support >= 0 {
		e.highest = e.support
		e.lastSupport = e.support
	}
	obs := e.observe(pos, e.world.Velocity())
	if !e.validObservation(obs) {
		e.logInvalid("reset produced an invalid observation")
		obs = make(core.Observation, ObservationSize)
	}
	e.lastObs = obs
	return obs.Copy()
}

func (e *Env) IsTerminal() bool {
	return e.done
}

// Step applies the action for one physics tick. Stepping a finished
// episode returns its final observation again with zero reward.
func (e *Env) Step(a core.Action) core.StepResult {
	if e.done {
		return core.StepResult{
			Observation: e.lastObs.Copy(),
			Reward:      0,
			Done:        true,
			Info:        e.info(),
		}
	}

	e.applyAction(a)
	e.world.Advance()
	e.step++

	pos, vel := e.world.Position(), e.world.Velocity()
	if !pos.Finite() || !vel.Finite() {
		return e.invalid("physics produced a non-finite body state")
	}

	e.support = SupportAt(e.scene.Supports, pos, e.config.SupportTolerance)
	if e.support >= 0 {
		e.safetyBuffer = e.config.SafetyBuffer
		e.offTicks = 0
	} else {
		e.safetyBuffer--
		e.offTicks++
	}

	reward := e.reward(pos)
	if e.support >= 0 {
		if e.support > e.highest {
			e.highest = e.support
		}
		e.lastSupport = e.support
	}

	obs := e.observe(pos, vel)
	if !e.validObservation(obs) || !util.IsFinite(reward) {
		return e.invalid("step produced a non-finite observation or reward")
	}
	e.lastObs = obs
	return core.StepResult{
		Observation: obs.Copy(),
		Reward:      reward,
		Done:        e.done,
		Info:        e.info(),
	}
}

func (e *Env) applyAction(a core.Action) {
	f := e.config.MoveForce
	switch a {
	case core.ActionForward:
		e.world.ApplyForce(physics.Vec3{Z: f})
	case core.ActionBackward:
		e.world.ApplyForce(physics.Vec3{Z: -f})
	case core.ActionLeft:
		e.world.ApplyForce(physics.Vec3{X: -f})
	case core.ActionRight:
		e.world.ApplyForce(physics.Vec3{X: f})
	case core.ActionJump:
		if e.world.Grounded() || e.world.TouchingSupport() {
			e.world.ApplyImpulse(physics.Vec3{Y: e.config.JumpImpulse})
		}
	case core.ActionGrab:
		if e.world.TouchingSupport() {
			e.world.ApplyForce(physics.Vec3{Y: e.config.GrabLift, Z: e.config.GrabPull})
		}
	}
}

// reward evaluates termination in priority order, goal first, then
// falling or leaving the arena, then the safety buffer and the step
// budget. A terminal transition pays only its clamped terminal reward.
func (e *Env) reward(pos physics.Vec3) float64 {
	rc := e.config.Reward
	goal := e.currentLevel().GoalSupport

	switch {
	case e.support >= goal:
		return e.terminate(core.OutcomeGoal, rc.GoalReward)
	case pos.Y < e.config.FallHeight:
		return e.terminate(core.OutcomeFell, rc.FailurePenalty)
	case !e.scene.Arena.ContainsFootprint(pos.X, pos.Z):
		return e.terminate(core.OutcomeOutOfBounds, rc.FailurePenalty)
	case e.safetyBuffer <= 0:
		return e.terminate(core.OutcomeBufferExhausted, rc.BufferExhaustedPenalty)
	case e.step >= e.currentLevel().StepBudget:
		return e.terminate(core.OutcomeStepBudget, rc.TimeoutReward)
	}

	if e.support > e.highest {
		return rc.ProgressReward(e.support)
	}
	r := -rc.TickCost
	if e.support < 0 {
		return r - rc.OffSupportPenalty(e.offTicks)
	}
	if e.lastSupport >= 0 && e.support < e.lastSupport {
		r -= rc.RegressionPenalty * float64(e.lastSupport-e.support)
	}
	return r
}

func (e *Env) terminate(outcome core.Outcome, r float64) float64 {
	e.done = true
	e.outcome = outcome
	return e.config.Reward.Terminal(r)
}

func (e *Env) invalid(reason string) core.StepResult {
	e.logInvalid(reason)
	e.done = true
	e.outcome = core.OutcomeInvalid
	e.lastObs = make(core.Observation, ObservationSize)
	return core.StepResult{
		Observation: e.lastObs.Copy(),
		Reward:      0,
		Done:        true,
		Info:        e.info(),
	}
}

func (e *Env) logInvalid(reason string) {
	if e.invalidLogged {
		return
	}
	e.invalidLogged = true
	e.logger.WithFields(logrus.Fields{
		"step":  e.step,
		"level": e.level,
	}).Error(reason + ", returning a zero observation")
}

func (e *Env) validObservation(obs core.Observation) bool {
	return len(obs) == ObservationSize && util.AllFinite(obs)
}

func (e *Env) observe(pos, vel physics.Vec3) core.Observation {
	goal := e.scene.Supports[e.currentLevel().GoalSupport].TopCenter()
	toGoal := goal.Sub(pos)

	dirX, dirZ := 0.0, 0.0
	if h := math.Hypot(toGoal.X, toGoal.Z); h > 0 {
		dirX, dirZ = toGoal.X/h, toGoal.Z/h
	}

	distNext := 0.0
	if next := e.nextSupport(); next >= 0 {
		distNext = e.scene.Supports[next].TopCenter().Sub(pos).Len()
	}

	onSupport := 0.0
	if e.support >= 0 {
		onSupport = 1
	}

	obs := make(core.Observation, 0, ObservationSize)
	obs = append(obs, pos.Slice()...)
	obs = append(obs, vel.Slice()...)
	obs = append(obs,
		toGoal.Len(),
		dirX, dirZ,
		float64(e.support),
		distNext,
		onSupport,
		float64(e.safetyBuffer)/float64(e.config.SafetyBuffer),
	)
	return obs
}

// nextSupport is the support above the highest one reached, capped at the goal
func (e *Env) nextSupport() int {
	next := e.highest + 1
	if goal := e.currentLevel().GoalSupport; next > goal {
		next = goal
	}
	if next >= len(e.scene.Supports) {
		return -1
	}
	return next
}

func (e *Env) info() core.StepInfo {
	return core.StepInfo{
		Outcome:         e.outcome,
		SupportIndex:    e.support,
		HighestSupport:  e.highest,
		SafetyBuffer:    e.safetyBuffer,
		OffSupportTicks: e.offTicks,
		Step:            e.step,
		Level:           e.level,
	}
}

func (e *Env) currentLevel() Level {
	return e.config.Levels[e.level]
}

func (e *Env) Level() int {
	return e.level
}

func (e *Env) NumLevels() int {
	return len(e.config.Levels)
}

// AdvanceLevel moves to the next level if there is one
func (e *Env) AdvanceLevel() bool {
	if e.level+1 >= len(e.config.Levels) {
		return false
	}
	e.level++
	return true
}

func (e *Env) SetLevel(level int) error {
	if level < 0 || level >= len(e.config.Levels) {
		return fmt.Errorf("level %d outside [0, %d)", level, len(e.config.Levels))
	}
	e.level = level
	return nil
}
