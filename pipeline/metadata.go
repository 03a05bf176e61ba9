package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/araliadata/openrag/llm"
)

// Metadata is the execution record of one run: which stages completed, how
// long each took, and the token spend attributed to each. The orchestrator
// owns it; stages only contribute the dataset counters through their delta.
type Metadata struct {
	RunID                string                    `json:"run_id"`
	StartedAt            time.Time                 `json:"started_at"`
	CurrentStage         string                    `json:"current_stage,omitempty"`
	CompletedStages      []string                  `json:"completed_stages"`
	StageDurations       map[string]time.Duration  `json:"stage_durations"`
	StageTokens          map[string]llm.TokenUsage `json:"stage_tokens"`
	TotalTokens          llm.TokenUsage            `json:"total_tokens"`
	TotalDatasetsFound   int                       `json:"total_datasets_found"`
	SelectedDatasetCount int                       `json:"selected_dataset_count"`
	StageErrors          map[string]string         `json:"stage_errors,omitempty"`
}

// NewMetadata creates the record for a fresh run.
func NewMetadata() *Metadata {
	return &Metadata{
		RunID:          uuid.NewString(),
		StartedAt:      time.Now(),
		StageDurations: make(map[string]time.Duration),
		StageTokens:    make(map[string]llm.TokenUsage),
		StageErrors:    make(map[string]string),
	}
}

// Elapsed is the wall time since the run started.
func (m *Metadata) Elapsed() time.Duration {
	return time.Since(m.StartedAt)
}

func (m *Metadata) beginStage(name string) {
	m.CurrentStage = name
}

func (m *Metadata) completeStage(name string, d time.Duration, tokens llm.TokenUsage) {
	m.record(name, d, tokens)
	m.CompletedStages = append(m.CompletedStages, name)
	m.CurrentStage = ""
}

// failStage records the stage's spend but leaves CurrentStage set, so the
// record shows where the run died.
func (m *Metadata) failStage(name string, d time.Duration, tokens llm.TokenUsage, err error) {
	m.record(name, d, tokens)
	m.StageErrors[name] = err.Error()
}

func (m *Metadata) record(name string, d time.Duration, tokens llm.TokenUsage) {
	m.StageDurations[name] = d
	m.StageTokens[name] = tokens
	m.TotalTokens = m.TotalTokens.Add(tokens)
}
