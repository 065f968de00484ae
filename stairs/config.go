package stairs

import (
	"errors"
	"fmt"
	"math"

	"github.com/zeu5/stair-rl/physics"
	"github.com/zeu5/stair-rl/util"
)

// RewardConfigVersion identifies the shaping scheme implemented by Env.
// Bump it whenever the meaning of a RewardConfig field changes.
const RewardConfigVersion = 3

// DefaultSupportTolerance is how far the feet may be from a support's top
// surface and still count as standing on it. Too tight and physics jitter
// produces false negatives, too loose and mid-air states are classified
// as grounded.
const DefaultSupportTolerance = 0.05

// RewardConfig holds every shaping constant. Terminal rewards replace the
// shaped reward of their transition, everything else is summed.
type RewardConfig struct {
	Version int `json:"version"`

	// GoalReward is paid for reaching the level's goal support
	GoalReward float64 `json:"goal_reward"`
	// FailurePenalty is paid for falling or leaving the arena
	FailurePenalty float64 `json:"failure_penalty"`
	// BufferExhaustedPenalty is paid when the safety buffer runs out
	BufferExhaustedPenalty float64 `json:"buffer_exhausted_penalty"`
	// TimeoutReward is paid when the step budget runs out
	TimeoutReward float64 `json:"timeout_reward"`
	// TerminalClamp bounds the magnitude of every terminal reward
	TerminalClamp float64 `json:"terminal_clamp"`

	// Progress(i) = ProgressBase * ProgressDecay^i for a new highest support i
	ProgressBase  float64 `json:"progress_base"`
	ProgressDecay float64 `json:"progress_decay"`

	// RegressionPenalty is charged per support index dropped below the
	// last occupied support
	RegressionPenalty float64 `json:"regression_penalty"`

	// Off-support penalty for the n-th consecutive tick off every support:
	// min(OffSupportBase + OffSupportGrowth*(n-1), OffSupportMax)
	OffSupportBase   float64 `json:"off_support_base"`
	OffSupportGrowth float64 `json:"off_support_growth"`
	OffSupportMax    float64 `json:"off_support_max"`

	// TickCost is subtracted from every non-terminal transition
	TickCost float64 `json:"tick_cost"`
}

func DefaultRewardConfig() RewardConfig {
	return RewardConfig{
		Version:                RewardConfigVersion,
		GoalReward:             100,
		FailurePenalty:         -50,
		BufferExhaustedPenalty: -30,
		TimeoutReward:          0,
		TerminalClamp:          100,
		ProgressBase:           10,
		ProgressDecay:          0.8,
		RegressionPenalty:      2,
		OffSupportBase:         0.05,
		OffSupportGrowth:       0.01,
		OffSupportMax:          0.5,
		TickCost:               0.01,
	}
}

// Progress is the reward for first reaching support i in an episode
func (c RewardConfig) Progress(i int) float64 {
	if i < 0 {
		return 0
	}
	return c.ProgressBase * math.Pow(c.ProgressDecay, float64(i))
}

// ProgressReward is the reward of the transition that first lands on
// support i, the tick cost included
func (c RewardConfig) ProgressReward(i int) float64 {
	return c.Progress(i) - c.TickCost
}

// OffSupportPenalty is the magnitude charged on the n-th consecutive tick
// off every support, n starting at 1
func (c RewardConfig) OffSupportPenalty(n int) float64 {
	if n <= 0 {
		return 0
	}
	return math.Min(c.OffSupportBase+c.OffSupportGrowth*float64(n-1), c.OffSupportMax)
}

// Terminal clamps a terminal reward to the configured range
func (c RewardConfig) Terminal(r float64) float64 {
	return util.Clamp(r, -c.TerminalClamp, c.TerminalClamp)
}

// Hash identifies the exact constants, recorded with saved models
func (c RewardConfig) Hash() string {
	return util.JsonHash(c)
}

// Validate checks the constants against the goal furthest up the
// staircase. Progress towards any goal must always outweigh the largest
// off-support penalty, otherwise staying on the ground can beat climbing.
func (c RewardConfig) Validate(maxGoal int) error {
	if c.Version != RewardConfigVersion {
		return fmt.Errorf("reward config version %d, expected %d", c.Version, RewardConfigVersion)
	}
	for name, v := range map[string]float64{
		"terminal_clamp":     c.TerminalClamp,
		"progress_base":      c.ProgressBase,
		"progress_decay":     c.ProgressDecay,
		"tick_cost":          c.TickCost,
		"off_support_base":   c.OffSupportBase,
		"off_support_max":    c.OffSupportMax,
		"regression_penalty": c.RegressionPenalty,
	} {
		if !util.IsFinite(v) || v <= 0 {
			return fmt.Errorf("%s must be positive and finite", name)
		}
	}
	if c.ProgressDecay > 1 {
		return fmt.Errorf("progress decay must be in (0, 1], got %f", c.ProgressDecay)
	}
	if c.OffSupportGrowth < 0 || c.OffSupportMax < c.OffSupportBase {
		return errors.New("off-support penalty must not shrink over time")
	}
	if c.GoalReward <= 0 || c.GoalReward > c.TerminalClamp {
		return fmt.Errorf("goal reward must be in (0, %f]", c.TerminalClamp)
	}
	if c.FailurePenalty >= 0 || c.BufferExhaustedPenalty >= 0 {
		return errors.New("failure and buffer exhaustion must be penalties")
	}
	if math.Abs(c.TimeoutReward) > c.TerminalClamp {
		return fmt.Errorf("timeout reward must be within %f", c.TerminalClamp)
	}
	if maxGoal > 0 {
		if least := c.ProgressReward(maxGoal - 1); least <= c.OffSupportMax {
			return fmt.Errorf("progress reward %f for support %d does not exceed the off-support penalty cap %f",
				least, maxGoal-1, c.OffSupportMax)
		}
	}
	return nil
}

// Level narrows the goal and step budget of an episode
type Level struct {
	GoalSupport int `json:"goal_support"`
	StepBudget  int `json:"step_budget"`
}

const (
	EngineKinematic = "kinematic"
	EngineBox2D     = "box2d"
)

type Config struct {
	Engine    string                  `json:"engine"`
	Staircase physics.StaircaseConfig `json:"staircase"`
	Body      physics.BodyConfig      `json:"body"`
	Reward    RewardConfig            `json:"reward"`
	Levels    []Level                 `json:"levels"`
	// SafetyBuffer is the number of consecutive off-support ticks allowed
	SafetyBuffer     int     `json:"safety_buffer"`
	SupportTolerance float64 `json:"support_tolerance"`
	// FallHeight is the height below which the agent has fallen
	FallHeight  float64 `json:"fall_height"`
	MoveForce   float64 `json:"move_force"`
	JumpImpulse float64 `json:"jump_impulse"`
	GrabLift    float64 `json:"grab_lift"`
	GrabPull    float64 `json:"grab_pull"`
}

func DefaultConfig() Config {
	staircase := physics.DefaultStaircaseConfig()
	return Config{
		Engine:    EngineKinematic,
		Staircase: staircase,
		Body:      physics.DefaultBodyConfig(),
		Reward:    DefaultRewardConfig(),
		Levels: []Level{
			{GoalSupport: 2, StepBudget: 600},
			{GoalSupport: 4, StepBudget: 900},
			{GoalSupport: 6, StepBudget: 1200},
			{GoalSupport: staircase.Steps - 1, StepBudget: 1800},
		},
		SafetyBuffer:     240,
		SupportTolerance: DefaultSupportTolerance,
		FallHeight:       -1.0,
		MoveForce:        20,
		JumpImpulse:      4,
		GrabLift:         15,
		GrabPull:         3,
	}
}

func (c Config) MaxGoal() int {
	goal := 0
	for _, l := range c.Levels {
		if l.GoalSupport > goal {
			goal = l.GoalSupport
		}
	}
	return goal
}

func (c Config) Validate() error {
	if c.Engine != EngineKinematic && c.Engine != EngineBox2D {
		return fmt.Errorf("unknown physics engine %q", c.Engine)
	}
	if err := c.Staircase.Validate(); err != nil {
		return err
	}
	if err := c.Body.Validate(); err != nil {
		return err
	}
	if len(c.Levels) == 0 {
		return errors.New("at least one level is required")
	}
	for i, l := range c.Levels {
		if l.GoalSupport < 0 || l.GoalSupport >= c.Staircase.Steps {
			return fmt.Errorf("level %d: goal support %d outside [0, %d)", i, l.GoalSupport, c.Staircase.Steps)
		}
		if l.StepBudget <= 0 {
			return fmt.Errorf("level %d: step budget must be positive", i)
		}
	}
	if err := c.Reward.Validate(c.MaxGoal()); err != nil {
		return err
	}
	if c.SafetyBuffer <= 0 {
		return fmt.Errorf("safety buffer must be positive, got %d", c.SafetyBuffer)
	}
	if c.SupportTolerance <= 0 {
		return fmt.Errorf("support tolerance must be positive, got %f", c.SupportTolerance)
	}
	if c.MoveForce <= 0 || c.JumpImpulse <= 0 || c.GrabLift <= 0 || c.GrabPull < 0 {
		return errors.New("action forces must be positive")
	}
	return nil
}

// NewWorld builds the configured physics engine over the staircase scene
func NewWorld(c Config) (physics.World, error) {
	scene := physics.Staircase(c.Staircase)
	if err := scene.Validate(); err != nil {
		return nil, err
	}
	switch c.Engine {
	case EngineBox2D:
		return physics.NewBox2DWorld(scene, c.Body), nil
	case EngineKinematic:
		return physics.NewKinematicWorld(scene, c.Body), nil
	}
	return nil, fmt.Errorf("unknown physics engine %q", c.Engine)
}
