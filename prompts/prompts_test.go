package prompts_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/araliadata/openrag/aralia"
	"github.com/araliadata/openrag/prompts"
)

func sampleDatasets() map[string]*aralia.Dataset {
	return map[string]*aralia.Dataset{
		"ds-1": {
			ID:        "ds-1",
			Name:      "Traffic Accidents",
			SourceURL: "https://planet.example.com",
			Columns: map[string]*aralia.Column{
				"c1": {ColumnID: "c1", DisplayName: "City", Type: aralia.TypeNominal},
			},
		},
	}
}

func TestDefaultSetComplete(t *testing.T) {
	set := prompts.Default()

	require.NotNil(t, set.DatasetExtract)
	require.NotNil(t, set.ChartPlanning)
	require.NotNil(t, set.QueryGeneration)
	require.NotNil(t, set.Interpretation)
}

func TestDatasetExtract(t *testing.T) {
	prompt := prompts.DatasetExtract("which city has most accidents", sampleDatasets())

	assert.Contains(t, prompt, "which city has most accidents")
	assert.Contains(t, prompt, "ds-1")
	assert.Contains(t, prompt, "Traffic Accidents")
	assert.Contains(t, prompt, "datasetKeys")
}

func TestChartPlanning(t *testing.T) {
	prompt := prompts.ChartPlanning("accidents per year", sampleDatasets())

	assert.Contains(t, prompt, "accidents per year")
	assert.Contains(t, prompt, "```json")
	assert.Contains(t, prompt, `"charts"`)
	// Format catalogs and the admin level catalog ride along.
	assert.Contains(t, prompt, "year_month")
	assert.Contains(t, prompt, "admin_level_10")
	assert.Contains(t, prompt, "distinct_count")
	assert.Contains(t, prompt, "Taiwan")
}

func TestQueryGeneration(t *testing.T) {
	charts := []*aralia.ChartSpec{{
		ID:        "ds-1",
		Name:      "Traffic Accidents",
		SourceURL: "https://planet.example.com",
		Filter: []*aralia.FilterField{{
			AxisField: aralia.AxisField{ColumnID: "c1", DisplayName: "City", Type: aralia.TypeNominal},
			Values:    []string{"Taipei City", "Keelung City"},
		}},
	}}

	prompt := prompts.QueryGeneration("accidents in Taipei", charts)

	assert.Contains(t, prompt, "accidents in Taipei")
	assert.Contains(t, prompt, "Taipei City", "value domain rides into the prompt")
	assert.Contains(t, prompt, `"queries"`)
	assert.Contains(t, prompt, `"in"`)
}

func TestInterpretation(t *testing.T) {
	charts := []*aralia.ChartSpec{{ID: "ds-1", Name: "Accidents", JSONData: `[{"city":"A"}]`}}

	messages := prompts.Interpretation("which city", charts, "")
	require.Len(t, messages, 2)

	assert.Equal(t, "system", messages[0].Role)
	assert.Contains(t, messages[0].Content, "Senior Data Analyst")

	assert.Equal(t, "user", messages[1].Role)
	assert.Contains(t, messages[1].Content, "***which city***")
	assert.Contains(t, messages[1].Content, "json_data")
	assert.Contains(t, messages[1].Content, "under 300 words")
	assert.Contains(t, messages[1].Content, "MUST EXACTLY MATCH")
}

func TestInterpretationOverride(t *testing.T) {
	messages := prompts.Interpretation("which city", nil, "List three bullet points only.")
	require.Len(t, messages, 2)

	user := messages[1].Content
	assert.Contains(t, user, "List three bullet points only.")
	assert.False(t, strings.Contains(user, "under 300 words"), "override replaces the canned instructions")
	assert.Contains(t, user, "***which city***", "framing survives the override")
	assert.Contains(t, user, "json_data")
}
