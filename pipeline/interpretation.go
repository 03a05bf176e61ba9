package pipeline

import (
	"context"
	"fmt"
)

// InterpretationStage turns the executed charts into the final narrative
// answer. One model call, no retry loop; its failure fails the run.
type InterpretationStage struct{}

func (InterpretationStage) Name() string { return "interpretation" }

func (s InterpretationStage) Run(ctx context.Context, st *State) (*Delta, error) {
	charts := st.SearchResults
	if len(charts) == 0 {
		charts = st.ChartSpecs
	}

	messages := st.Templates.Interpretation(st.Question, charts, st.InterpretationPrompt)
	resp, err := st.LLM.Invoke(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("interpret results: %w", err)
	}

	st.Logger.Info("interpretation complete", "chars", len(resp.Content))
	return &Delta{FinalResponse: resp.Content}, nil
}
