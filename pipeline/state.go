package pipeline

import (
	"context"
	"log/slog"

	"github.com/araliadata/openrag/aralia"
	"github.com/araliadata/openrag/llm"
	"github.com/araliadata/openrag/prompts"
)

// LLM is the slice of the llm gateway the stages call.
type LLM interface {
	Invoke(ctx context.Context, messages []llm.Message) (*llm.Response, error)
	InvokeStructured(ctx context.Context, messages []llm.Message, out any) (*llm.Response, error)
	Usage() llm.TokenUsage
}

// DataClient is the slice of the planet client the stages call.
type DataClient interface {
	SearchDatasets(ctx context.Context, keyword string, pageSize int) ([]*aralia.Dataset, error)
	DatasetMetadata(ctx context.Context, datasetID, sourceURL string) (map[string]*aralia.Column, error)
	FilterOptions(ctx context.Context, datasetID, sourceURL string, fields []*aralia.FilterField) error
	Exploration(ctx context.Context, chart *aralia.ChartSpec) ([]aralia.Row, error)
}

var (
	_ LLM        = (*llm.Client)(nil)
	_ DataClient = (*aralia.Client)(nil)
)

// State threads through the stages of one run. Stages read it freely but
// contribute changes through a Delta; the orchestrator applies each delta
// before the next stage starts.
type State struct {
	// Question is the natural-language question being answered.
	Question string

	// Datasets holds every dataset the run has seen, keyed by ID.
	Datasets map[string]*aralia.Dataset

	// ChartSpecs is the working set each stage hands to the next.
	ChartSpecs []*aralia.ChartSpec

	// SearchResults accumulates executed charts across the run.
	SearchResults []*aralia.ChartSpec

	// FinalResponse is the interpretation narrative.
	FinalResponse string

	// Errors collects tolerated failure notes and stage failures.
	Errors []string

	// Meta is the orchestrator-owned execution record.
	Meta *Metadata

	// Collaborators, bound by the orchestrator per run.
	LLM       LLM
	Data      DataClient
	Templates *prompts.Set
	Logger    *slog.Logger

	// InterpretationPrompt replaces the canned analysis instructions in
	// the interpretation stage when non-empty.
	InterpretationPrompt string

	// CSVDir, when set, receives one CSV artifact per executed chart.
	CSVDir string
}

// NewState creates a run state for a question with default collaborators.
func NewState(question string) *State {
	return &State{
		Question:  question,
		Datasets:  make(map[string]*aralia.Dataset),
		Meta:      NewMetadata(),
		Templates: prompts.Default(),
		Logger:    slog.Default(),
	}
}

// Delta is one stage's contribution to the state. Each field documents its
// own merge rule; the zero Delta is a no-op.
type Delta struct {
	// Datasets entries are merged by ID: new keys added, existing
	// replaced.
	Datasets map[string]*aralia.Dataset

	// ChartSpecs replaces the working set when non-nil.
	ChartSpecs []*aralia.ChartSpec

	// SearchResults is appended.
	SearchResults []*aralia.ChartSpec

	// FinalResponse replaces the current value when non-empty.
	FinalResponse string

	// Errors is appended.
	Errors []string

	// Search counters, recorded on Meta together once the search has
	// found anything.
	TotalDatasetsFound   int
	SelectedDatasetCount int
}

// Apply merges a stage delta into the state.
func (s *State) Apply(d *Delta) {
	if d == nil {
		return
	}

	if len(d.Datasets) > 0 {
		if s.Datasets == nil {
			s.Datasets = make(map[string]*aralia.Dataset, len(d.Datasets))
		}
		for id, ds := range d.Datasets {
			s.Datasets[id] = ds
		}
	}

	if d.ChartSpecs != nil {
		s.ChartSpecs = d.ChartSpecs
	}
	s.SearchResults = append(s.SearchResults, d.SearchResults...)
	s.Errors = append(s.Errors, d.Errors...)

	if d.FinalResponse != "" {
		s.FinalResponse = d.FinalResponse
	}

	if d.TotalDatasetsFound > 0 && s.Meta != nil {
		s.Meta.TotalDatasetsFound = d.TotalDatasetsFound
		s.Meta.SelectedDatasetCount = d.SelectedDatasetCount
	}
}
