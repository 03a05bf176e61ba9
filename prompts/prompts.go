// Package prompts carries the prompt templates the pipeline stages render.
// The orchestrator receives a Set at construction so tests can swap the
// production texts for fixtures without string-matching against them.
package prompts

import (
	"encoding/json"
	"fmt"

	"github.com/araliadata/openrag/aralia"
	"github.com/araliadata/openrag/llm"
)

// Set bundles one builder per LLM call the pipeline makes.
type Set struct {
	// DatasetExtract renders the dataset selection prompt from the
	// question and the candidate datasets keyed by ID.
	DatasetExtract func(question string, datasets map[string]*aralia.Dataset) string

	// ChartPlanning renders the chart proposal prompt from the question
	// and the metadata-enriched datasets.
	ChartPlanning func(question string, datasets map[string]*aralia.Dataset) string

	// QueryGeneration renders the filter decision prompt from the
	// question and the planned chart specs.
	QueryGeneration func(question string, charts []*aralia.ChartSpec) string

	// Interpretation renders the final analysis conversation. override,
	// when non-empty, replaces the canned analysis instructions while
	// keeping the question and data framing.
	Interpretation func(question string, charts []*aralia.ChartSpec, override string) []llm.Message
}

// Default returns the production prompt set.
func Default() *Set {
	return &Set{
		DatasetExtract:  DatasetExtract,
		ChartPlanning:   ChartPlanning,
		QueryGeneration: QueryGeneration,
		Interpretation:  Interpretation,
	}
}

// asJSON renders v for embedding in a prompt. Prompt payloads are domain
// structs that always marshal; a failure still yields something readable.
func asJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
