package pipeline_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/araliadata/openrag/aralia"
	"github.com/araliadata/openrag/llm"
	"github.com/araliadata/openrag/pipeline"
)

// selectedState is a state as the search stage leaves it: one skeleton
// spec and the raw dataset entry.
func selectedState() *pipeline.State {
	st := pipeline.NewState("accidents per month")
	st.Datasets["ds-1"] = &aralia.Dataset{ID: "ds-1", Name: "Traffic Accidents", SourceURL: "https://a.example.com"}
	st.ChartSpecs = []*aralia.ChartSpec{
		{ID: "ds-1", Name: "Traffic Accidents", SourceURL: "https://a.example.com"},
	}
	return st
}

const planningResponse = "Working through the datasets first:\n" +
	"```json\n{\"charts\": []}\n```\n" +
	"After refining the design, the final plan:\n" +
	"```json\n" +
	`{"charts": [{
		"id": "ds-1",
		"name": "Traffic Accidents",
		"x": [{"columnID": "c-date", "format": "year_month"}],
		"y": [
			{"columnID": "c-count", "calculation": "sum"},
			{"columnID": "c-city", "calculation": "avg"}
		],
		"filter": [{"columnID": "c-city"}]
	}]}` +
	"\n```\n"

func TestPlanningBuildsCharts(t *testing.T) {
	st := selectedState()
	st.Data = &mockData{
		metadata: func(_ context.Context, datasetID, sourceURL string) (map[string]*aralia.Column, error) {
			assert.Equal(t, "ds-1", datasetID)
			assert.Equal(t, "https://a.example.com", sourceURL)
			return metaColumns(), nil
		},
	}
	st.LLM = &mockLLM{
		invoke: func(_ int, messages []llm.Message) (string, error) {
			require.Len(t, messages, 1)
			assert.Contains(t, messages[0].Content, "accidents per month")
			assert.Contains(t, messages[0].Content, "c-date", "column catalog rides into the prompt")
			return planningResponse, nil
		},
	}

	delta, err := pipeline.PlanningStage{}.Run(context.Background(), st)
	require.NoError(t, err)

	require.Len(t, delta.ChartSpecs, 1)
	chart := delta.ChartSpecs[0]
	assert.Equal(t, "Traffic Accidents", chart.Name)

	require.Len(t, chart.X, 1)
	assert.Equal(t, "Occurred", chart.X[0].DisplayName, "display name resolved from the catalog")
	assert.Equal(t, aralia.TypeDate, chart.X[0].Type)
	assert.Equal(t, "year_month", chart.X[0].Format)

	// avg over a nominal column is illegal and silently dropped; sum over
	// the integer column survives.
	require.Len(t, chart.Y, 1)
	assert.Equal(t, "c-count", chart.Y[0].ColumnID)
	assert.Equal(t, aralia.CalcSum, chart.Y[0].Calculation)

	require.Len(t, chart.Filter, 1)
	assert.Equal(t, aralia.TypeNominal, chart.Filter[0].Type)

	// The delta carries the enriched dataset; the shared state entry is
	// untouched until the orchestrator applies it.
	require.NotNil(t, delta.Datasets["ds-1"].Columns)
	assert.Nil(t, st.Datasets["ds-1"].Columns)
}

func TestPlanningParsesLastJSONBlock(t *testing.T) {
	// The first fenced block proposes nothing; only the last one counts.
	st := selectedState()
	st.Data = &mockData{
		metadata: func(context.Context, string, string) (map[string]*aralia.Column, error) {
			return metaColumns(), nil
		},
	}
	st.LLM = &mockLLM{
		invoke: func(int, []llm.Message) (string, error) {
			return planningResponse, nil
		},
	}

	delta, err := pipeline.PlanningStage{}.Run(context.Background(), st)
	require.NoError(t, err)
	require.Len(t, delta.ChartSpecs, 1, "empty draft block ignored in favor of the final one")
}

func TestPlanningNoMetadata(t *testing.T) {
	gateway := &mockLLM{}
	st := selectedState()
	st.Data = &mockData{
		metadata: func(context.Context, string, string) (map[string]*aralia.Column, error) {
			return nil, nil
		},
	}
	st.LLM = gateway

	_, err := pipeline.PlanningStage{}.Run(context.Background(), st)
	require.ErrorIs(t, err, pipeline.ErrNoMetadata)
	assert.Zero(t, gateway.invokeCalls(), "no planning call without metadata")
}

func TestPlanningToleratesPartialMetadataFailure(t *testing.T) {
	st := selectedState()
	st.ChartSpecs = append(st.ChartSpecs, &aralia.ChartSpec{ID: "ds-2", Name: "Broken", SourceURL: "https://b.example.com"})
	st.Data = &mockData{
		metadata: func(_ context.Context, datasetID, _ string) (map[string]*aralia.Column, error) {
			if datasetID == "ds-2" {
				return nil, errors.New("planet unreachable")
			}
			return metaColumns(), nil
		},
	}
	st.LLM = &mockLLM{
		invoke: func(_ int, messages []llm.Message) (string, error) {
			assert.NotContains(t, messages[0].Content, "ds-2", "metadata-less dataset stays out of the prompt")
			return planningResponse, nil
		},
	}

	delta, err := pipeline.PlanningStage{}.Run(context.Background(), st)
	require.NoError(t, err)
	assert.Len(t, delta.Datasets, 1)
}

func TestPlanningRetriesOnBadDrafts(t *testing.T) {
	gateway := &mockLLM{
		invoke: func(call int, _ []llm.Message) (string, error) {
			switch call {
			case 1:
				return "no fenced block here", nil
			case 2:
				// References a column the dataset does not have.
				return "```json\n" + `{"charts": [{"id": "ds-1", "x": [{"columnID": "c-missing"}]}]}` + "\n```", nil
			default:
				return planningResponse, nil
			}
		},
	}
	st := selectedState()
	st.Data = &mockData{
		metadata: func(context.Context, string, string) (map[string]*aralia.Column, error) {
			return metaColumns(), nil
		},
	}
	st.LLM = gateway

	_, err := pipeline.PlanningStage{}.Run(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, 3, gateway.invokeCalls())
}

func TestPlanningUnknownDatasetRetries(t *testing.T) {
	gateway := &mockLLM{
		invoke: func(call int, _ []llm.Message) (string, error) {
			if call == 1 {
				return "```json\n" + `{"charts": [{"id": "ds-404", "x": [{"columnID": "c-date"}]}]}` + "\n```", nil
			}
			return planningResponse, nil
		},
	}
	st := selectedState()
	st.Data = &mockData{
		metadata: func(context.Context, string, string) (map[string]*aralia.Column, error) {
			return metaColumns(), nil
		},
	}
	st.LLM = gateway

	_, err := pipeline.PlanningStage{}.Run(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, 2, gateway.invokeCalls())
}

func TestPlanningInvalidFormatPassesThrough(t *testing.T) {
	st := selectedState()
	st.Data = &mockData{
		metadata: func(context.Context, string, string) (map[string]*aralia.Column, error) {
			return metaColumns(), nil
		},
	}
	st.LLM = &mockLLM{
		invoke: func(int, []llm.Message) (string, error) {
			return "```json\n" + `{"charts": [{"id": "ds-1", "x": [{"columnID": "c-date", "format": "galactic_year"}]}]}` + "\n```", nil
		},
	}

	delta, err := pipeline.PlanningStage{}.Run(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, "galactic_year", delta.ChartSpecs[0].X[0].Format, "unknown formats are logged, not rejected")
}

func TestPlanningExhaustion(t *testing.T) {
	gateway := &mockLLM{
		invoke: func(int, []llm.Message) (string, error) {
			return "", errors.New("model offline")
		},
	}
	st := selectedState()
	st.Data = &mockData{
		metadata: func(context.Context, string, string) (map[string]*aralia.Column, error) {
			return metaColumns(), nil
		},
	}
	st.LLM = gateway

	_, err := pipeline.PlanningStage{}.Run(context.Background(), st)
	require.ErrorIs(t, err, pipeline.ErrPlanning)
	assert.Equal(t, 5, gateway.invokeCalls())
}
