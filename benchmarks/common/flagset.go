package common

import (
	"fmt"
	"os"
	"path"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/zeu5/stair-rl/core"
	"github.com/zeu5/stair-rl/stairs"
	"github.com/zeu5/stair-rl/store"
	"github.com/zeu5/stair-rl/util"
)

const (
	StoreFile   = "file"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Environment variables read from the process or a .env file. Flags set
// on the command line take precedence.
const (
	EnvRedisAddr     = "REDIS_ADDR"
	EnvRedisPassword = "REDIS_PASSWORD"
	EnvSavePath      = "STAIR_RL_SAVE_PATH"
)

type Flags struct {
	SavePath string
	RunFlags
	EnvFlags
	StoreFlags
	ControlAddr string
	Seed        uint64
	Debug       bool
}

type RunFlags struct {
	NumRuns               int
	Episodes              int
	EvalEpisodes          int
	SaveEvery             int
	Resume                bool
	YieldEverySteps       int
	YieldInterval         time.Duration
	MaxEpisodeSteps       int
	MaxConsecutiveInvalid int
	StatsWindow           int
	RecordTransitions     bool
	Curriculum            bool
	CurriculumWindow      int
	CurriculumThreshold   float64
}

type EnvFlags struct {
	Engine       string
	Steps        int
	SafetyBuffer int
}

type StoreFlags struct {
	Backend       string
	ModelID       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

func DefaultFlags() *Flags {
	trainer := core.DefaultTrainerConfig()
	env := stairs.DefaultConfig()
	redis := store.DefaultRedisConfig()
	return &Flags{
		SavePath: "results",
		RunFlags: RunFlags{
			NumRuns:               1,
			Episodes:              trainer.Episodes,
			EvalEpisodes:          20,
			SaveEvery:             trainer.SaveEvery,
			YieldEverySteps:       trainer.YieldEverySteps,
			YieldInterval:         trainer.YieldInterval,
			MaxEpisodeSteps:       trainer.MaxEpisodeSteps,
			MaxConsecutiveInvalid: trainer.MaxConsecutiveInvalid,
			StatsWindow:           trainer.StatsWindow,
			RecordTransitions:     false,
			Curriculum:            trainer.Curriculum.Enabled,
			CurriculumWindow:      trainer.Curriculum.Window,
			CurriculumThreshold:   trainer.Curriculum.Threshold,
		},
		EnvFlags: EnvFlags{
			Engine:       env.Engine,
			Steps:        env.Staircase.Steps,
			SafetyBuffer: env.SafetyBuffer,
		},
		StoreFlags: StoreFlags{
			Backend:   StoreFile,
			RedisAddr: redis.Addr,
		},
	}
}

// AddFlags binds every field to a flag of fs
func (f *Flags) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.SavePath, "save-path", f.SavePath, "Path to save results and models")
	fs.StringVar(&f.ControlAddr, "control-addr", f.ControlAddr, "Address of the HTTP control server, empty disables it")
	fs.Uint64Var(&f.Seed, "seed", f.Seed, "Seed of the agent random sources, 0 seeds from the clock")
	fs.BoolVar(&f.Debug, "debug", f.Debug, "Enable debug logging")

	fs.IntVar(&f.NumRuns, "num-runs", f.NumRuns, "Number of runs")
	fs.IntVar(&f.Episodes, "episodes", f.Episodes, "Number of episodes")
	fs.IntVar(&f.EvalEpisodes, "eval-episodes", f.EvalEpisodes, "Number of greedy evaluation episodes")
	fs.IntVar(&f.SaveEvery, "save-every", f.SaveEvery, "Save the model every N episodes, 0 saves only at the end")
	fs.BoolVar(&f.Resume, "resume", f.Resume, "Load the model before training")
	fs.IntVar(&f.YieldEverySteps, "yield-every", f.YieldEverySteps, "Yield to the host every N steps")
	fs.DurationVar(&f.YieldInterval, "yield-interval", f.YieldInterval, "Yield to the host at least this often")
	fs.IntVar(&f.MaxEpisodeSteps, "max-episode-steps", f.MaxEpisodeSteps, "Hard cap on episode length")
	fs.IntVar(&f.MaxConsecutiveInvalid, "max-consecutive-invalid", f.MaxConsecutiveInvalid, "Halt after this many invalid episodes in a row")
	fs.IntVar(&f.StatsWindow, "stats-window", f.StatsWindow, "Rolling window of the training stats")
	fs.BoolVar(&f.RecordTransitions, "record-transitions", f.RecordTransitions, "Record every transition in the trajectory log")
	fs.BoolVar(&f.Curriculum, "curriculum", f.Curriculum, "Advance levels on the rolling success rate")
	fs.IntVar(&f.CurriculumWindow, "curriculum-window", f.CurriculumWindow, "Episodes in the curriculum success window")
	fs.Float64Var(&f.CurriculumThreshold, "curriculum-threshold", f.CurriculumThreshold, "Success rate needed to advance a level")

	fs.StringVar(&f.Engine, "engine", f.Engine, "Physics engine (kinematic or box2d)")
	fs.IntVar(&f.Steps, "steps", f.Steps, "Number of stair steps")
	fs.IntVar(&f.SafetyBuffer, "safety-buffer", f.SafetyBuffer, "Consecutive off-support ticks allowed")

	fs.StringVar(&f.Backend, "store", f.Backend, "Model store backend (file, redis or memory)")
	fs.StringVar(&f.ModelID, "model-id", f.ModelID, "Model id, generated when empty")
	fs.StringVar(&f.RedisAddr, "redis-addr", f.RedisAddr, "Redis address of the redis store")
	fs.StringVar(&f.RedisPassword, "redis-password", f.RedisPassword, "Redis password of the redis store")
	fs.IntVar(&f.RedisDB, "redis-db", f.RedisDB, "Redis database of the redis store")
}

// LoadEnv reads the first .env file found in files and applies the
// environment to every flag that was not set explicitly
func (f *Flags) LoadEnv(fs *pflag.FlagSet, files ...string) {
	for _, file := range files {
		if err := godotenv.Load(file); err == nil {
			break
		}
	}
	apply := func(flag, env string, target *string) {
		if fs != nil && fs.Changed(flag) {
			return
		}
		if v, ok := os.LookupEnv(env); ok && v != "" {
			*target = v
		}
	}
	apply("redis-addr", EnvRedisAddr, &f.RedisAddr)
	apply("redis-password", EnvRedisPassword, &f.RedisPassword)
	apply("save-path", EnvSavePath, &f.SavePath)
}

func (f *Flags) Validate() error {
	if f.NumRuns <= 0 {
		return fmt.Errorf("num-runs must be positive, got %d", f.NumRuns)
	}
	switch f.Backend {
	case StoreFile, StoreRedis, StoreMemory:
	default:
		return fmt.Errorf("unknown store backend %q", f.Backend)
	}
	if _, err := f.EnvConfig(); err != nil {
		return err
	}
	return f.TrainerConfig("", "").Validate()
}

// Record writes the flags as config.json under the save path
func (f *Flags) Record() error {
	return util.SaveJson(path.Join(f.SavePath, "config.json"), f)
}

func (f *Flags) TrainerConfig(runID, modelID string) core.TrainerConfig {
	c := core.DefaultTrainerConfig()
	c.Episodes = f.Episodes
	c.RunID = runID
	c.ModelID = modelID
	c.SaveEvery = f.SaveEvery
	c.Resume = f.Resume
	c.YieldEverySteps = f.YieldEverySteps
	c.YieldInterval = f.YieldInterval
	c.MaxEpisodeSteps = f.MaxEpisodeSteps
	c.MaxConsecutiveInvalid = f.MaxConsecutiveInvalid
	c.StatsWindow = f.StatsWindow
	c.RecordTransitions = f.RecordTransitions
	c.Curriculum = core.CurriculumConfig{
		Enabled:   f.Curriculum,
		Window:    f.CurriculumWindow,
		Threshold: f.CurriculumThreshold,
	}
	return c
}

// EnvConfig derives the environment config. Levels that point past a
// shortened staircase are dropped, the last level always targets the top step.
func (f *Flags) EnvConfig() (stairs.Config, error) {
	c := stairs.DefaultConfig()
	c.Engine = f.Engine
	c.Staircase.Steps = f.Steps
	c.SafetyBuffer = f.SafetyBuffer

	top := f.Steps - 1
	levels := make([]stairs.Level, 0, len(c.Levels))
	for _, l := range c.Levels {
		if l.GoalSupport < top {
			levels = append(levels, l)
		}
	}
	budget := c.Levels[len(c.Levels)-1].StepBudget
	c.Levels = append(levels, stairs.Level{GoalSupport: top, StepBudget: budget})

	return c, c.Validate()
}

// NewStore opens the configured model store. The returned close function
// is never nil.
func (f *Flags) NewStore(logger logrus.FieldLogger) (core.ModelStore, func(), error) {
	switch f.Backend {
	case StoreMemory:
		return store.NewMemoryStore(), func() {}, nil
	case StoreRedis:
		config := store.DefaultRedisConfig()
		config.Addr = f.RedisAddr
		config.Password = f.RedisPassword
		config.DB = f.RedisDB
		s := store.NewRedisStore(config)
		closeFn := func() {
			if err := s.Close(); err != nil {
				logger.WithError(err).Warn("failed to close redis store")
			}
		}
		return s, closeFn, nil
	case StoreFile:
		return store.NewFileStore(path.Join(f.SavePath, "models")), func() {}, nil
	}
	return nil, func() {}, fmt.Errorf("unknown store backend %q", f.Backend)
}
