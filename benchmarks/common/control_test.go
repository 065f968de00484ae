package common

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeu5/stair-rl/core"
)

type fakeTrainer struct {
	stopped atomic.Bool
	stats   core.TrainingStats
}

func (f *fakeTrainer) Stats() core.TrainingStats { return f.stats }
func (f *fakeTrainer) Stop()                     { f.stopped.Store(true) }

func TestControlServerStats(t *testing.T) {
	logger, _ := test.NewNullLogger()
	stats := core.NewTrainingStats(4)
	stats.Add(core.EpisodeSummary{TotalReward: 3, Outcome: core.OutcomeGoal, HighestSupport: 2})
	target := &fakeTrainer{stats: stats}
	server := NewControlServer("127.0.0.1:0", target, nil, logger)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := struct {
		Stats       core.TrainingStats `json:"stats"`
		SuccessRate float64            `json:"rolling_success_rate"`
	}{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Stats.Episodes)
	assert.Equal(t, 2, body.Stats.HighestSupport)
	assert.Equal(t, 1.0, body.SuccessRate)
}

func TestControlServerStopRunsOnEventLoop(t *testing.T) {
	logger, _ := test.NewNullLogger()
	target := &fakeTrainer{}
	loop := core.NewEventLoop(4)
	server := NewControlServer("127.0.0.1:0", target, loop, logger)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/stop", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	// queued until the trainer yields
	assert.False(t, target.stopped.Load())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go loop.Run(ctx)
	require.NoError(t, loop.Yield(ctx))
	assert.True(t, target.stopped.Load())
}

func TestControlServerStopWithClosedLoop(t *testing.T) {
	logger, _ := test.NewNullLogger()
	target := &fakeTrainer{}
	loop := core.NewEventLoop(4)
	loop.Close()
	server := NewControlServer("127.0.0.1:0", target, loop, logger)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/stop", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, target.stopped.Load())
}
