package store

import (
	"bufio"
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeu5/stair-rl/core"
)

func testParams() map[string][]float64 {
	return map[string][]float64{
		"q/layer0.weights": {0.1, -0.2, 0.3},
		"q/layer0.bias":    {0},
	}
}

func testMetadata() core.ModelMetadata {
	stats := core.NewTrainingStats(10)
	stats.Add(core.EpisodeSummary{TotalReward: 3, HighestSupport: 1, Outcome: core.OutcomeGoal, Steps: 20})
	return core.ModelMetadata{
		Agent:      "dqn",
		Episode:    1,
		Level:      2,
		SavedAt:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Stats:      stats,
		Attributes: map[string]string{"reward_hash": "abc"},
	}
}

func testStores(t *testing.T) map[string]core.ModelStore {
	return map[string]core.ModelStore{
		"file":   NewFileStore(filepath.Join(t.TempDir(), "models")),
		"memory": NewMemoryStore(),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		require.NoError(t, s.Save(ctx, "model-1", testParams(), testMetadata()), name)
		params, meta, err := s.Load(ctx, "model-1")
		require.NoError(t, err, name)
		assert.Equal(t, testParams(), params, name)
		assert.Equal(t, "dqn", meta.Agent, name)
		assert.Equal(t, 2, meta.Level, name)
		assert.Equal(t, 1, meta.Stats.Successes, name)
		assert.True(t, meta.SavedAt.Equal(testMetadata().SavedAt), name)
		assert.Equal(t, "abc", meta.Attributes["reward_hash"], name)
	}
}

func TestStoreMissingModel(t *testing.T) {
	for name, s := range testStores(t) {
		_, _, err := s.Load(context.Background(), "absent")
		assert.ErrorIs(t, err, core.ErrModelNotFound, name)
	}
}

func TestStoreRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		assert.ErrorIs(t, s.Save(ctx, "../escape", testParams(), testMetadata()), ErrInvalidID, name)
		assert.ErrorIs(t, s.Save(ctx, "", testParams(), testMetadata()), ErrInvalidID, name)

		bad := testParams()
		bad["q/layer0.bias"] = []float64{math.Inf(-1)}
		assert.Error(t, s.Save(ctx, "bad", bad, testMetadata()), name)
		_, _, err := s.Load(ctx, "bad")
		assert.ErrorIs(t, err, core.ErrModelNotFound, name)
	}
}

func TestMemoryStoreCopiesParameters(t *testing.T) {
	s := NewMemoryStore()
	params := testParams()
	require.NoError(t, s.Save(context.Background(), "m", params, testMetadata()))
	params["q/layer0.bias"][0] = 42

	loaded, _, err := s.Load(context.Background(), "m")
	require.NoError(t, err)
	assert.Equal(t, 0.0, loaded["q/layer0.bias"][0])
	loaded["q/layer0.bias"][0] = 7

	again, _, err := s.Load(context.Background(), "m")
	require.NoError(t, err)
	assert.Equal(t, 0.0, again["q/layer0.bias"][0])
	assert.Equal(t, 1, s.Saves())
}

func TestFileStoreOverwrites(t *testing.T) {
	s := NewFileStore(t.TempDir())
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "m", testParams(), testMetadata()))
	meta := testMetadata()
	meta.Episode = 50
	require.NoError(t, s.Save(ctx, "m", testParams(), meta))

	_, loaded, err := s.Load(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, 50, loaded.Episode)
}

func TestJSONLRecorderAppendsOneLinePerEpisode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trajectories", "run.jsonl")
	r := NewJSONLRecorder(path, false)
	for i := 0; i < 3; i++ {
		require.NoError(t, r.Record(core.EpisodeSummary{
			Episode:     i,
			Outcome:     core.OutcomeFell,
			Transitions: []core.Transition{{Reward: 1}},
		}))
	}

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	scanner := bufio.NewScanner(f)
	lines := 0
	for scanner.Scan() {
		var summary core.EpisodeSummary
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &summary))
		assert.Equal(t, lines, summary.Episode)
		assert.Empty(t, summary.Transitions)
		lines++
	}
	assert.Equal(t, 3, lines)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	config := DefaultRedisConfig()
	config.Addr = addr
	config.Prefix = "stair-rl-test:" + time.Now().Format("150405.000000") + ":"
	config.TTL = time.Minute
	s := NewRedisStore(config)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Save(ctx, "m", testParams(), testMetadata()))
	params, meta, err := s.Load(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, testParams(), params)
	assert.Equal(t, "dqn", meta.Agent)

	_, _, err = s.Load(ctx, "absent")
	assert.ErrorIs(t, err, core.ErrModelNotFound)
}

func TestRedisKeyUsesPrefix(t *testing.T) {
	s := NewRedisStore(DefaultRedisConfig())
	defer s.Close()
	assert.Equal(t, "stair-rl:model:abc", s.key("abc"))
}
