package pipeline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/araliadata/openrag/aralia"
	"github.com/araliadata/openrag/pipeline"
)

func TestApplyMergesDatasetsByKey(t *testing.T) {
	st := pipeline.NewState("q")
	st.Datasets["ds-1"] = &aralia.Dataset{ID: "ds-1", Name: "old"}

	st.Apply(&pipeline.Delta{Datasets: map[string]*aralia.Dataset{
		"ds-1": {ID: "ds-1", Name: "new"},
		"ds-2": {ID: "ds-2"},
	}})

	require.Len(t, st.Datasets, 2)
	assert.Equal(t, "new", st.Datasets["ds-1"].Name, "existing entries replaced")
}

func TestApplyReplacesChartSpecsWhenNonNil(t *testing.T) {
	st := pipeline.NewState("q")
	st.ChartSpecs = []*aralia.ChartSpec{{ID: "a"}}

	st.Apply(&pipeline.Delta{})
	require.Len(t, st.ChartSpecs, 1, "nil delta field keeps the working set")

	st.Apply(&pipeline.Delta{ChartSpecs: []*aralia.ChartSpec{}})
	assert.Empty(t, st.ChartSpecs, "non-nil empty delta replaces wholesale")
}

func TestApplyAppendsListsAndReplacesScalars(t *testing.T) {
	st := pipeline.NewState("q")

	st.Apply(&pipeline.Delta{
		SearchResults: []*aralia.ChartSpec{{ID: "a"}},
		Errors:        []string{"first"},
		FinalResponse: "draft",
	})
	st.Apply(&pipeline.Delta{
		SearchResults: []*aralia.ChartSpec{{ID: "b"}},
		Errors:        []string{"second"},
	})

	require.Len(t, st.SearchResults, 2, "search results accumulate")
	assert.Equal(t, []string{"first", "second"}, st.Errors)
	assert.Equal(t, "draft", st.FinalResponse, "empty delta response keeps the old value")

	st.Apply(&pipeline.Delta{FinalResponse: "final"})
	assert.Equal(t, "final", st.FinalResponse)
}

func TestApplyRecordsSearchCounters(t *testing.T) {
	st := pipeline.NewState("q")

	st.Apply(&pipeline.Delta{TotalDatasetsFound: 7, SelectedDatasetCount: 2})
	assert.Equal(t, 7, st.Meta.TotalDatasetsFound)
	assert.Equal(t, 2, st.Meta.SelectedDatasetCount)

	st.Apply(&pipeline.Delta{})
	assert.Equal(t, 7, st.Meta.TotalDatasetsFound, "zero delta leaves counters alone")
}

func TestApplyNilDelta(t *testing.T) {
	st := pipeline.NewState("q")
	st.Apply(nil)
	assert.Empty(t, st.Errors)
}
