package stage_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SCUT-HCC/TradeSwarm/internal/backend"
	"github.com/SCUT-HCC/TradeSwarm/internal/model"
	"github.com/SCUT-HCC/TradeSwarm/internal/pool"
	"github.com/SCUT-HCC/TradeSwarm/internal/stage"
	"github.com/SCUT-HCC/TradeSwarm/internal/store"
)

// fakeDispatcher answers every dispatch with a fixed output, failing for ids
// listed in fail.
type fakeDispatcher struct {
	mu      sync.Mutex
	fail    map[string]bool
	prompts map[string]string
}

func (f *fakeDispatcher) Dispatch(_ context.Context, id, input string) model.ExecutionResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.prompts == nil {
		f.prompts = make(map[string]string)
	}
	f.prompts[id] = input
	if f.fail[id] {
		return model.Failed(id, time.Millisecond, "backend unavailable")
	}
	return model.ExecutionResult{ItemID: id, Output: "out:" + id, Elapsed: time.Millisecond, Success: true}
}

func TestBuildPromptOrdersInputsAndUnwrapsAgentResults(t *testing.T) {
	inputs := map[string]*model.OutputRecord{
		model.OutputNewsAnalysis:   {Payload: json.RawMessage(`{"worker":"w","output":"headline"}`)},
		model.OutputMarketAnalysis: {Payload: json.RawMessage(`{"trend":"up"}`)},
	}
	prompt, used := stage.BuildPrompt("Task.", inputs)

	assert.Equal(t, []string{model.OutputMarketAnalysis, model.OutputNewsAnalysis}, used)
	assert.True(t, strings.HasPrefix(prompt, "Task."))
	market := strings.Index(prompt, "## market_analysis")
	news := strings.Index(prompt, "## news_analysis")
	assert.True(t, market >= 0 && news > market, "sections out of order: %q", prompt)
	assert.Contains(t, prompt, `{"trend":"up"}`)
	assert.Contains(t, prompt, "headline")
	assert.NotContains(t, prompt, `"worker"`)
}

func TestDispatchAnalyzeFailsOnFailedDispatch(t *testing.T) {
	d := &fakeDispatcher{fail: map[string]bool{"w1": true}}
	fn := stage.DispatchAnalyze(d, "w1", "task")

	_, err := fn(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend unavailable")
}

func TestTradingStagesTopology(t *testing.T) {
	specs, err := stage.TradingStages(&fakeDispatcher{}, []string{"a", "b"}, "AAPL", time.Second)
	require.NoError(t, err)
	require.Len(t, specs, 6)

	byName := make(map[string]stage.Spec)
	for _, s := range specs {
		byName[s.Name] = s
	}
	for _, name := range []string{stage.StageMarket, stage.StageSocial, stage.StageNews, stage.StageFundamentals} {
		assert.Empty(t, byName[name].Inputs, "%s should not wait", name)
	}
	assert.ElementsMatch(t, stage.AnalystOutputs, byName[stage.StageResearch].Inputs)
	assert.Equal(t, []string{model.OutputResearchReport}, byName[stage.StageTrading].Inputs)

	_, err = stage.TradingStages(&fakeDispatcher{}, nil, "AAPL", time.Second)
	assert.Error(t, err)
}

func TestWorkflowRunsTradingStages(t *testing.T) {
	s := newStore(t)
	d := &fakeDispatcher{}
	specs, err := stage.TradingStages(d, []string{"w0", "w1", "w2", "w3", "w4", "w5"}, "TSLA", 5*time.Second)
	require.NoError(t, err)

	wf := stage.NewWorkflow(s, specs, discardLogger())
	report, err := wf.Run(context.Background(), "")
	require.NoError(t, err)
	require.NotEmpty(t, report.SessionID)
	require.Len(t, report.Stages, 6)
	for _, sr := range report.Stages {
		assert.Equal(t, stage.StatePublished, sr.State, "stage %s", sr.Name)
	}
	assert.Empty(t, report.Failed())

	// Trading (w5) saw the research output (w4) in its prompt.
	assert.Contains(t, d.prompts["w5"], "out:w4")
	// Research saw all four analysts.
	for _, w := range []string{"w0", "w1", "w2", "w3"} {
		assert.Contains(t, d.prompts["w4"], "out:"+w)
	}

	ctx := context.Background()
	require.NoError(t, s.Flush(ctx))
	sess, err := s.Session(ctx, report.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, sess.Status)

	rec, err := s.Get(ctx, report.SessionID, model.OutputTradingDecision, 0)
	require.NoError(t, err)
	require.NotNil(t, rec)
	var ar stage.AgentResult
	require.NoError(t, rec.Decode(&ar))
	assert.Equal(t, "w5", ar.Worker)
	assert.Equal(t, "out:w5", ar.Output)
}

func TestWorkflowStageFailureDoesNotStopSiblings(t *testing.T) {
	s := newStore(t)
	d := &fakeDispatcher{fail: map[string]bool{"w2": true}}
	specs, err := stage.TradingStages(d, []string{"w0", "w1", "w2", "w3", "w4", "w5"}, "TSLA", 200*time.Millisecond)
	require.NoError(t, err)

	report, err := stage.NewWorkflow(s, specs, discardLogger()).Run(context.Background(), "run-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend unavailable")
	assert.Equal(t, "run-1", report.SessionID)
	assert.Equal(t, []string{stage.StageNews}, report.Failed())

	// Research proceeds with three of four analyses after its wait ends.
	for _, sr := range report.Stages {
		if sr.Name != stage.StageNews {
			assert.Equal(t, stage.StatePublished, sr.State, "stage %s", sr.Name)
		}
	}
	assert.NotContains(t, d.prompts["w4"], "out:w2")
}

func TestWorkflowOverPoolAndAgents(t *testing.T) {
	s := newStore(t)
	p, err := pool.New(pool.Options{MaxConcurrent: 2, Rate: 100, Capacity: 20}, discardLogger())
	require.NoError(t, err)

	ids := p.RegisterN("analyst", 3, func(int) pool.Worker {
		return backend.NewAgent(backend.AgentConfig{ActPrompt: "{input}"}, &backend.Echo{}, discardLogger())
	})

	specs, err := stage.TradingStages(p, ids, "NVDA", 5*time.Second)
	require.NoError(t, err)

	report, err := stage.NewWorkflow(s, specs, discardLogger()).Run(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, report.Failed())
	assert.LessOrEqual(t, p.Stats().Peak, 2)

	rec, err := s.Get(context.Background(), report.SessionID, model.OutputTradingDecision, time.Second)
	require.NoError(t, err)
	require.NotNil(t, rec)
	var ar stage.AgentResult
	require.NoError(t, rec.Decode(&ar))
	assert.Contains(t, ar.Output, "NVDA")
}

func TestWorkflowCreateSessionFailure(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Close())

	_, err := stage.NewWorkflow(s, nil, discardLogger()).Run(context.Background(), "")
	assert.True(t, errors.Is(err, store.ErrClosed), "error = %v", err)
}

func TestWorkflowRejectsReusedSessionID(t *testing.T) {
	s := newStore(t)
	workers := []string{"w0", "w1", "w2", "w3", "w4", "w5"}

	first, err := stage.TradingStages(&fakeDispatcher{}, workers, "TSLA", 5*time.Second)
	require.NoError(t, err)
	report, err := stage.NewWorkflow(s, first, discardLogger()).Run(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, "run-1", report.SessionID)

	// A second run on the same id must not read the first run's outputs.
	d := &fakeDispatcher{}
	second, err := stage.TradingStages(d, workers, "AMZN", 5*time.Second)
	require.NoError(t, err)
	report, err = stage.NewWorkflow(s, second, discardLogger()).Run(context.Background(), "run-1")
	require.ErrorIs(t, err, store.ErrSessionExists)
	assert.Nil(t, report)
	assert.Empty(t, d.prompts, "no stage should run against a taken session")
}
