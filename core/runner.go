package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	ErrTooManyInvalidEpisodes = errors.New("too many consecutive invalid episodes")
)

// FinalSaveTimeout bounds the checkpoint written when Run returns. That
// save ignores the cancellation of the run context.
const FinalSaveTimeout = 5 * time.Second

type TrainerConfig struct {
	Episodes int
	RunID    string
	ModelID  string
	// SaveEvery triggers a checkpoint every N completed episodes, 0 disables periodic saves
	SaveEvery int
	// Resume loads ModelID from the store before the first episode
	Resume bool
	// Yield cadence, whichever comes first
	YieldEverySteps int
	YieldInterval   time.Duration
	// MaxEpisodeSteps caps an episode in case the environment never terminates, 0 means no cap
	MaxEpisodeSteps int
	// MaxConsecutiveInvalid halts the run after that many invalid episodes in a row, 0 disables
	MaxConsecutiveInvalid int
	StatsWindow           int
	RecordTransitions     bool
	Curriculum            CurriculumConfig
}

func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		Episodes:              1000,
		RunID:                 "run",
		ModelID:               "model",
		SaveEvery:             50,
		YieldEverySteps:       32,
		YieldInterval:         16 * time.Millisecond,
		MaxEpisodeSteps:       10000,
		MaxConsecutiveInvalid: 20,
		StatsWindow:           100,
		RecordTransitions:     true,
		Curriculum:            DefaultCurriculumConfig(),
	}
}

func (c TrainerConfig) Validate() error {
	if c.Episodes < 0 {
		return fmt.Errorf("episodes must be >= 0, got %d", c.Episodes)
	}
	if c.SaveEvery < 0 {
		return fmt.Errorf("save interval must be >= 0, got %d", c.SaveEvery)
	}
	if c.YieldEverySteps < 0 || c.YieldInterval < 0 {
		return errors.New("yield cadence must be non-negative")
	}
	if c.Curriculum.Enabled && (c.Curriculum.Threshold <= 0 || c.Curriculum.Threshold > 1) {
		return fmt.Errorf("curriculum threshold must be in (0, 1], got %f", c.Curriculum.Threshold)
	}
	return nil
}

type TrainerOption func(*Trainer)

func WithStore(store ModelStore) TrainerOption {
	return func(t *Trainer) { t.store = store }
}

func WithRecorder(recorder TrajectoryRecorder) TrainerOption {
	return func(t *Trainer) { t.recorder = recorder }
}

func WithYielder(yielder Yielder) TrainerOption {
	return func(t *Trainer) { t.yielder = yielder }
}

func WithLogger(logger logrus.FieldLogger) TrainerOption {
	return func(t *Trainer) { t.logger = logger }
}

func WithClock(now func() time.Time) TrainerOption {
	return func(t *Trainer) { t.now = now }
}

func WithAnalyzer(name string, a Analyzer) TrainerOption {
	return func(t *Trainer) { t.analyzers[name] = a }
}

// WithProgress registers a callback invoked after every aggregated episode
func WithProgress(fn func(EpisodeSummary, TrainingStats)) TrainerOption {
	return func(t *Trainer) { t.progress = fn }
}

// WithMetadata attaches attributes to every saved checkpoint
func WithMetadata(attrs map[string]string) TrainerOption {
	return func(t *Trainer) {
		for k, v := range attrs {
			t.attributes[k] = v
		}
	}
}

// Trainer runs episodes of one agent against one environment.
// Episode lifecycle: Reset -> Stepping* -> Terminal -> stats aggregation,
// then the next Reset or stop. Everything runs on the calling goroutine;
// the only cross-goroutine entry points are Stop and Stats.
type Trainer struct {
	config     TrainerConfig
	env        Environment
	agent      Agent
	store      ModelStore
	recorder   TrajectoryRecorder
	yielder    Yielder
	analyzers  map[string]Analyzer
	logger     logrus.FieldLogger
	now        func() time.Time
	progress   func(EpisodeSummary, TrainingStats)
	attributes map[string]string

	stats      TrainingStats
	curriculum *curriculumTracker
	schedule   *yieldSchedule

	stopped  atomic.Bool
	mu       sync.Mutex
	snapshot TrainingStats
}

func NewTrainer(env Environment, agent Agent, config TrainerConfig, opts ...TrainerOption) *Trainer {
	t := &Trainer{
		config:     config,
		env:        env,
		agent:      agent,
		yielder:    GoschedYielder{},
		analyzers:  make(map[string]Analyzer),
		logger:     logrus.StandardLogger(),
		now:        time.Now,
		attributes: make(map[string]string),
		stats:      NewTrainingStats(config.StatsWindow),
		curriculum: newCurriculumTracker(config.Curriculum),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.schedule = newYieldSchedule(config.YieldEverySteps, config.YieldInterval, t.now)
	if cEnv, ok := env.(CurriculumEnvironment); ok {
		t.stats.Level = cEnv.Level()
	}
	t.snapshot = t.stats.Copy()
	return t
}

// Stop requests the run to end at the next step or episode boundary.
// A step that is already executing completes first.
func (t *Trainer) Stop() {
	t.stopped.Store(true)
}

func (t *Trainer) Stopped() bool {
	return t.stopped.Load()
}

// Stats returns a copy of the stats as of the last aggregated episode
func (t *Trainer) Stats() TrainingStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot.Copy()
}

func (t *Trainer) publish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snapshot = t.stats.Copy()
}

// Run trains for the configured number of episodes. The returned stats
// are valid even when an error is returned. Only non-finite agent
// parameters and repeated invalid episodes end the run with an error.
func (t *Trainer) Run(ctx context.Context) (TrainingStats, error) {
	if err := t.config.Validate(); err != nil {
		return t.stats.Copy(), err
	}
	logger := t.logger.WithFields(logrus.Fields{"agent": t.agent.Name(), "run_id": t.config.RunID})
	if t.config.Resume {
		t.restore(ctx, logger)
	}

	consecutiveInvalid := 0
	var runErr error
EpisodeLoop:
	for episode := 0; episode < t.config.Episodes; episode++ {
		if t.stopped.Load() || ctx.Err() != nil {
			break
		}

		summary, err := t.runEpisode(ctx, episode, true)
		if err != nil {
			if errors.Is(err, ErrNonFiniteParameters) {
				logger.WithField("episode", episode).WithError(err).Error("halting training, agent parameters are not finite")
				runErr = err
				break EpisodeLoop
			}
			// per-episode failures never abort the run
			logger.WithField("episode", episode).WithError(err).Warn("episode failed")
			continue
		}
		if summary.Stopped {
			break
		}

		t.aggregate(summary, logger)

		if summary.Outcome == OutcomeInvalid {
			consecutiveInvalid++
			if t.config.MaxConsecutiveInvalid > 0 && consecutiveInvalid >= t.config.MaxConsecutiveInvalid {
				runErr = ErrTooManyInvalidEpisodes
				logger.WithField("episode", episode).Error(runErr.Error())
				break EpisodeLoop
			}
		} else {
			consecutiveInvalid = 0
		}

		if t.config.SaveEvery > 0 && t.stats.Episodes%t.config.SaveEvery == 0 {
			t.save(ctx, logger)
		}

		if err := t.yield(ctx); err != nil {
			break
		}
	}

	if !errors.Is(runErr, ErrNonFiniteParameters) {
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), FinalSaveTimeout)
		t.save(saveCtx, logger)
		cancel()
	}
	t.publish()
	return t.stats.Copy(), runErr
}

// Evaluate runs greedy episodes without learning or saving
func (t *Trainer) Evaluate(ctx context.Context, episodes int) (TrainingStats, error) {
	stats := NewTrainingStats(t.config.StatsWindow)
	for episode := 0; episode < episodes; episode++ {
		if t.stopped.Load() || ctx.Err() != nil {
			break
		}
		summary, err := t.runEpisode(ctx, episode, false)
		if err != nil {
			return stats, err
		}
		if summary.Stopped {
			break
		}
		stats.Add(summary)
	}
	if cEnv, ok := t.env.(CurriculumEnvironment); ok {
		stats.Level = cEnv.Level()
	}
	return stats, nil
}

// RunEpisode runs a single training episode and returns its summary
// without aggregating it.
func (t *Trainer) RunEpisode(ctx context.Context, episode int) (EpisodeSummary, error) {
	return t.runEpisode(ctx, episode, true)
}

func (t *Trainer) runEpisode(ctx context.Context, episode int, learn bool) (EpisodeSummary, error) {
	start := t.now()
	summary := EpisodeSummary{
		RunID:          t.config.RunID,
		Episode:        episode,
		HighestSupport: -1,
		Outcome:        OutcomeRunning,
	}
	if cEnv, ok := t.env.(CurriculumEnvironment); ok {
		summary.Level = cEnv.Level()
	}

	state := t.env.Reset()
	trace := NewTrace()

	for {
		if t.stopped.Load() || ctx.Err() != nil {
			summary.Stopped = true
			break
		}

		decision := t.agent.Act(state, learn)
		result := t.env.Step(decision.Action)

		transition := Transition{
			State:     state,
			Action:    decision.Action,
			Reward:    result.Reward,
			NextState: result.Observation,
			Done:      result.Done,
			LogProb:   decision.LogProb,
			Value:     decision.Value,
			Info:      result.Info,
		}
		trace.AddStep(transition)
		summary.TotalReward += result.Reward
		if result.Info.HighestSupport > summary.HighestSupport {
			summary.HighestSupport = result.Info.HighestSupport
		}

		if learn {
			if _, err := t.agent.Observe(transition); err != nil {
				summary.Steps = trace.Len()
				return summary, err
			}
		}

		state = result.Observation
		if result.Done {
			summary.Outcome = result.Info.Outcome
			break
		}
		if t.config.MaxEpisodeSteps > 0 && trace.Len() >= t.config.MaxEpisodeSteps {
			summary.Outcome = OutcomeStepBudget
			break
		}

		if t.schedule.Tick() {
			if err := t.yield(ctx); err != nil {
				summary.Stopped = true
				break
			}
		}
	}
	summary.Steps = trace.Len()

	if learn && summary.Stopped {
		t.agent.Discard()
	} else if learn {
		result, err := t.agent.EndEpisode()
		summary.Train = result
		if err != nil {
			return summary, err
		}
	}
	if t.config.RecordTransitions {
		summary.Transitions = trace.Steps()
	}
	summary.Duration = t.now().Sub(start)
	return summary, nil
}

func (t *Trainer) yield(ctx context.Context) error {
	defer t.schedule.Yielded()
	return t.yielder.Yield(ctx)
}

func (t *Trainer) aggregate(summary EpisodeSummary, logger logrus.FieldLogger) {
	t.stats.Add(summary)

	if t.recorder != nil {
		if err := t.recorder.Record(summary); err != nil {
			logger.WithField("episode", summary.Episode).WithError(err).Warn("failed to record trajectory")
		}
	}
	for _, a := range t.analyzers {
		a.Analyze(summary)
	}

	if cEnv, ok := t.env.(CurriculumEnvironment); ok {
		if t.curriculum.Record(summary.Outcome.Success()) && cEnv.AdvanceLevel() {
			logger.WithFields(logrus.Fields{
				"episode": summary.Episode,
				"level":   cEnv.Level(),
			}).Info("advanced curriculum level")
			t.curriculum.Clear()
		}
		t.stats.Level = cEnv.Level()
	}

	t.publish()
	if t.progress != nil {
		t.progress(summary, t.stats.Copy())
	}
}

func (t *Trainer) save(ctx context.Context, logger logrus.FieldLogger) {
	if t.store == nil {
		return
	}
	attrs := make(map[string]string, len(t.attributes))
	for k, v := range t.attributes {
		attrs[k] = v
	}
	meta := ModelMetadata{
		Agent:      t.agent.Name(),
		Episode:    t.stats.Episodes,
		Level:      t.stats.Level,
		SavedAt:    t.now(),
		Stats:      t.stats.Copy(),
		Attributes: attrs,
	}
	if err := t.store.Save(ctx, t.config.ModelID, t.agent.Parameters(), meta); err != nil {
		logger.WithField("model_id", t.config.ModelID).WithError(err).Warn("failed to save model, continuing in memory")
		return
	}
	logger.WithFields(logrus.Fields{"model_id": t.config.ModelID, "episode": meta.Episode}).Debug("saved model")
}

func (t *Trainer) restore(ctx context.Context, logger logrus.FieldLogger) {
	if t.store == nil {
		return
	}
	params, meta, err := t.store.Load(ctx, t.config.ModelID)
	if err != nil {
		logger.WithField("model_id", t.config.ModelID).WithError(err).Warn("failed to load model, starting fresh")
		return
	}
	if err := t.agent.LoadParameters(params); err != nil {
		logger.WithField("model_id", t.config.ModelID).WithError(err).Warn("saved parameters rejected, starting fresh")
		return
	}
	if cEnv, ok := t.env.(CurriculumEnvironment); ok {
		if err := cEnv.SetLevel(meta.Level); err != nil {
			logger.WithError(err).Warn("saved curriculum level rejected")
		}
		t.stats.Level = cEnv.Level()
	}
	logger.WithFields(logrus.Fields{"model_id": t.config.ModelID, "episode": meta.Episode}).Info("resumed model")
}
