package prompts

import (
	"fmt"
	"strings"

	"github.com/araliadata/openrag/aralia"
)

// ChartPlanning renders the chart proposal prompt. The model reasons
// through the framework in prose and must finish with one fenced json block
// holding the chart list; the pipeline parses the last such block.
func ChartPlanning(question string, datasets map[string]*aralia.Dataset) string {
	return fmt.Sprintf(`# Data Visualization Expert

You are a senior data analyst expert, skilled in data exploration and correlation analysis,
and proficient in designing effective data visualizations.

## Objective
Based on the user's question, analyze each provided dataset and propose **one specific chart**
for each relevant dataset that most effectively answers the question.

## Input Information
- **Question**: %s
- **Datasets**: %s
- **Admin Levels**: %s

## Analysis Framework

### Phase 1: Question Analysis
- Understand the user's intent and break down the question
- Identify key metrics and dimensions needed
- Distinguish between:
  - **Primary Axis Dimension**: Main dimension for chart axis (e.g., time series)
  - **Grouping Dimension**: Categorical fields for comparison (e.g., regions, categories)

### Phase 2: Dataset Selection
- Retain only the best datasets that can answer the question
- Remove datasets that don't contribute meaningful insights

### Phase 3: Visualization Design
For each selected dataset:
- **Metrics**: Quantitative fields for measurement (y-axis)
- **Primary Axis**: Main dimension for x-axis
- **Grouping**: Categorical breakdown for comparison

### Phase 4: Technical Specification
- **Date/DateTime fields**: format must be one of: %s
- **Spatial fields**: format must be an admin_level (%s); choose the most
  general level consistent with the question, guided by the admin level
  catalog above
- **Numeric fields**: calculation must be one of: %s
- **Nominal fields**: use count or distinct_count
- Every columnID must come from the dataset's column catalog

## Output Format
End your response with exactly one fenced json block shaped like:

`+"```json"+`
{
    "charts": [
        {
            "id": "dataset_id",
            "name": "dataset_name",
            "x": [
                {
                    "columnID": "column_id",
                    "name": "display_name",
                    "type": "data_type",
                    "format": "format_specification"
                }
            ],
            "y": [
                {
                    "columnID": "column_id",
                    "name": "display_name",
                    "type": "data_type",
                    "calculation": "calculation_method"
                }
            ],
            "filter": [
                {
                    "columnID": "column_id",
                    "name": "display_name",
                    "type": "data_type",
                    "format": "format_specification"
                }
            ]
        }
    ]
}
`+"```",
		question,
		asJSON(datasets),
		asJSON(AdminLevels()),
		strings.Join(aralia.DateFormats, ", "),
		strings.Join(aralia.SpaceFormats, ", "),
		joinCalculations(aralia.Calculations),
	)
}

func joinCalculations(calcs []aralia.Calculation) string {
	names := make([]string, len(calcs))
	for i, c := range calcs {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}

// AdminLevels maps each supported region to the meaning of its
// administrative levels, so the model can pick a spatial granularity that
// matches the question.
func AdminLevels() map[string]map[string]string {
	return map[string]map[string]string{
		"Taiwan": {
			"admin_level_2":  "國家",
			"admin_level_4":  "直轄市/縣市/六都",
			"admin_level_7":  "直轄市的區",
			"admin_level_8":  "縣轄市/鄉鎮",
			"admin_level_9":  "村/里",
			"admin_level_10": "鄰",
		},
		"Japan": {
			"admin_level_2":  "Country",
			"admin_level_4":  "Prefecture (To/Dō/Fu/Ken)",
			"admin_level_5":  "Subprefecture (Hokkaido only)",
			"admin_level_6":  "County (Gun - limited function) / City subprefecture (Tokyo)",
			"admin_level_7":  "City / Town / Village",
			"admin_level_8":  "Ward (Ku - in designated cities)",
			"admin_level_9":  "District / Town block (Chō/Machi/Chōme)",
			"admin_level_10": "Area (Ōaza/Aza) / Block number (Banchi)",
		},
		"Malaysia": {
			"admin_level_2": "Country",
			"admin_level_4": "State (Negeri) / Federal Territory (Wilayah Persekutuan)",
			"admin_level_5": "Division (Bahagian - Sabah & Sarawak only)",
			"admin_level_6": "District (Daerah)",
			"admin_level_7": "Subdistrict (Daerah Kecil / Mukim)",
			"admin_level_8": "Mukim / Town (Bandar) / Village (Kampung)",
		},
		"Singapore": {
			"admin_level_2": "Country",
			"admin_level_6": "District (CDC - Community Development Council)",
		},
	}
}
