package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/araliadata/openrag/aralia"
	"github.com/araliadata/openrag/config"
	"github.com/araliadata/openrag/llm"
	"github.com/araliadata/openrag/pipeline"

	_ "github.com/araliadata/openrag/llm/providers"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// The planned chart carries a single city filter, so the decision payload
// answers exactly that one field.
const runFilterResponse = `{"queries": [{
	"id": "ds-1",
	"filter": [{"columnID": "c-city", "operator": "eq", "value": ["Taipei City"]}]
}]}`

// happyGateway scripts all four model calls of a clean run.
func happyGateway() *mockLLM {
	return &mockLLM{
		perCall: llm.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		structured: func(call int, _ []llm.Message) (string, error) {
			if call == 1 {
				return `{"datasetKeys": ["ds-1"], "datasetNames": ["Traffic Accidents"]}`, nil
			}
			return runFilterResponse, nil
		},
		invoke: func(call int, _ []llm.Message) (string, error) {
			if call == 1 {
				return planningResponse, nil
			}
			return "Taipei City tops the list.", nil
		},
	}
}

func happyData() *mockData {
	return &mockData{
		search: func(context.Context, string, int) ([]*aralia.Dataset, error) {
			return galaxyHits(), nil
		},
		metadata: func(context.Context, string, string) (map[string]*aralia.Column, error) {
			return metaColumns(), nil
		},
		filterOpts: cityDomain,
		explore: func(context.Context, *aralia.ChartSpec) ([]aralia.Row, error) {
			return []aralia.Row{{X: [][]any{{"2023-01"}}, Values: []any{float64(120)}}}, nil
		},
	}
}

func newTestPipeline(t *testing.T, gateway *mockLLM, data *mockData) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.New(config.DefaultConfig(),
		pipeline.WithLLM(gateway),
		pipeline.WithDataClient(data),
		pipeline.WithLogger(discardLogger()))
	require.NoError(t, err)
	return p
}

func TestPipelineRun(t *testing.T) {
	gateway := happyGateway()
	p := newTestPipeline(t, gateway, happyData())

	res, err := p.Run(context.Background(), pipeline.Request{Question: "which city has the most accidents"})
	require.NoError(t, err)

	assert.Equal(t, "Taipei City tops the list.", res.FinalResponse)
	assert.Empty(t, res.Errors)

	require.Len(t, res.SearchResults, 1)
	assert.JSONEq(t, `[{"Occurred":"2023-01","Casualties":120}]`, res.SearchResults[0].JSONData)

	meta := res.Meta
	require.NotNil(t, meta)
	assert.Equal(t,
		[]string{"search", "planning", "filter_decision", "execution", "interpretation"},
		meta.CompletedStages)
	assert.Empty(t, meta.CurrentStage)
	assert.Empty(t, meta.StageErrors)
	assert.Len(t, meta.StageDurations, 5)

	assert.Equal(t, 3, meta.TotalDatasetsFound)
	assert.Equal(t, 1, meta.SelectedDatasetCount)

	// One model call each for search, planning, filter, interpretation;
	// execution spends nothing.
	assert.Equal(t, 15, meta.StageTokens["search"].TotalTokens)
	assert.Equal(t, 15, meta.StageTokens["planning"].TotalTokens)
	assert.Equal(t, 15, meta.StageTokens["filter_decision"].TotalTokens)
	assert.Zero(t, meta.StageTokens["execution"].TotalTokens)
	assert.Equal(t, 15, meta.StageTokens["interpretation"].TotalTokens)
	assert.Equal(t, 60, meta.TotalTokens.TotalTokens)
}

func TestPipelineStopsOnStageFailure(t *testing.T) {
	gateway := happyGateway()
	gateway.invoke = func(int, []llm.Message) (string, error) {
		return "no plan here", nil // never parses, every attempt fails
	}
	data := happyData()
	p := newTestPipeline(t, gateway, data)

	res, err := p.Run(context.Background(), pipeline.Request{Question: "q"})
	require.ErrorIs(t, err, pipeline.ErrPlanning)
	assert.Contains(t, err.Error(), "planning stage")

	require.NotNil(t, res, "partial result survives the failure")
	assert.Equal(t, []string{"search"}, res.Meta.CompletedStages)
	assert.Equal(t, "planning", res.Meta.CurrentStage, "record shows where the run died")
	assert.NotEmpty(t, res.Meta.StageErrors["planning"])
	assert.Zero(t, data.explorationCalls(), "later stages never ran")

	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "planning:")

	// Five failed attempts still cost tokens and stay attributed.
	assert.Equal(t, 75, res.Meta.StageTokens["planning"].TotalTokens)
	assert.Equal(t, 15, res.Meta.StageTokens["search"].TotalTokens)
}

func TestPipelineKeepsResultsOnInterpretationFailure(t *testing.T) {
	gateway := happyGateway()
	base := gateway.invoke
	gateway.invoke = func(call int, messages []llm.Message) (string, error) {
		if call >= 2 {
			return "", errors.New("model offline")
		}
		return base(call, messages)
	}
	p := newTestPipeline(t, gateway, happyData())

	res, err := p.Run(context.Background(), pipeline.Request{Question: "q"})
	require.Error(t, err)

	assert.Equal(t,
		[]string{"search", "planning", "filter_decision", "execution"},
		res.Meta.CompletedStages)
	require.Len(t, res.SearchResults, 1, "executed charts survive the interpretation failure")
	assert.NotEmpty(t, res.SearchResults[0].JSONData)
	assert.Empty(t, res.FinalResponse)
}

func TestPipelineRequiresQuestion(t *testing.T) {
	gateway := &mockLLM{}
	p := newTestPipeline(t, gateway, &mockData{})

	_, err := p.Run(context.Background(), pipeline.Request{Question: "   "})
	require.Error(t, err)
	assert.Zero(t, gateway.structuredCalls())
}

func TestPipelineHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newTestPipeline(t, &mockLLM{}, &mockData{})
	res, err := p.Run(ctx, pipeline.Request{Question: "q"})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Empty(t, res.Meta.CompletedStages)
}

func TestNewBuildsClientsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Model.APIKey = "sk-test"
	cfg.Model.Name = "gpt-4o"
	cfg.Planet.ClientID = "id"
	cfg.Planet.ClientSecret = "secret"

	_, err := pipeline.New(cfg, pipeline.WithLogger(discardLogger()))
	require.NoError(t, err)
}

func TestNewRejectsIncompleteModelConfig(t *testing.T) {
	_, err := pipeline.New(config.DefaultConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm gateway")
}
