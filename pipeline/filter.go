package pipeline

import (
	"context"
	"fmt"

	"github.com/araliadata/openrag/aralia"
	"github.com/araliadata/openrag/llm"
)

// FilterDecisionStage fetches each filter field's value domain, asks the
// model to pick operators and values, and finalizes the specs for the wire.
type FilterDecisionStage struct{}

func (FilterDecisionStage) Name() string { return "filter_decision" }

// queryList is the decision payload the model returns: the chart
// configurations echoed back with operator and value filled in. Everything
// except those two fields is ignored on the way back in.
type queryList struct {
	Queries []*queryDecision `json:"queries"`
}

type queryDecision struct {
	ID     string            `json:"id"`
	Filter []*filterDecision `json:"filter"`
}

type filterDecision struct {
	ColumnID string   `json:"columnID"`
	Operator string   `json:"operator"`
	Value    []string `json:"value"`
}

func (s FilterDecisionStage) Run(ctx context.Context, st *State) (*Delta, error) {
	working := cloneSpecs(st.ChartSpecs)

	filterFields := 0
	for _, chart := range working {
		if len(chart.Filter) == 0 {
			continue
		}
		// Per-field failures leave empty Values; only cancellation
		// surfaces here.
		if err := st.Data.FilterOptions(ctx, chart.ID, chart.SourceURL, chart.Filter); err != nil {
			return nil, err
		}
		filterFields += len(chart.Filter)
	}

	if filterFields == 0 {
		st.Logger.Debug("no filter fields to decide")
	} else {
		st.Logger.Info("filter value domains fetched", "fields", filterFields)

		decided, err := attempt(ctx, maxStageAttempts, func() ([]*aralia.ChartSpec, error) {
			specs, err := s.decideOnce(ctx, st, working)
			if err != nil {
				st.Logger.Warn("filter decision attempt failed", "error", err)
			}
			return specs, err
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFilterDecision, err)
		}
		working = decided
	}

	for _, chart := range working {
		finalizeSpec(chart)
	}
	return &Delta{ChartSpecs: working}, nil
}

// decideOnce sends the working set and merges the response into a fresh
// copy, so a failed attempt leaves no partial merge behind.
func (s FilterDecisionStage) decideOnce(ctx context.Context, st *State, working []*aralia.ChartSpec) ([]*aralia.ChartSpec, error) {
	prompt := st.Templates.QueryGeneration(st.Question, working)

	var out queryList
	resp, err := st.LLM.InvokeStructured(ctx, []llm.Message{{Role: "user", Content: prompt}}, &out)
	if err != nil {
		return nil, err
	}

	byChart := make(map[string]*queryDecision, len(out.Queries))
	for _, q := range out.Queries {
		if q != nil {
			byChart[q.ID] = q
		}
	}

	decided := cloneSpecs(working)
	for _, chart := range decided {
		if len(chart.Filter) == 0 {
			continue
		}
		q, ok := byChart[chart.ID]
		if !ok {
			return nil, fmt.Errorf("response %s carries no query for chart %q", resp.RequestID, chart.ID)
		}
		if err := mergeDecision(chart, q); err != nil {
			return nil, fmt.Errorf("response %s: %w", resp.RequestID, err)
		}
	}
	return decided, nil
}

// mergeDecision copies operator and value onto the chart's filter fields,
// matched by columnID. The filter entries themselves never change: same
// fields, same order, same count.
func mergeDecision(chart *aralia.ChartSpec, q *queryDecision) error {
	if len(q.Filter) != len(chart.Filter) {
		return fmt.Errorf("chart %q: %d filter decisions for %d fields", chart.ID, len(q.Filter), len(chart.Filter))
	}

	byColumn := make(map[string]*filterDecision, len(q.Filter))
	for _, fd := range q.Filter {
		if fd != nil {
			byColumn[fd.ColumnID] = fd
		}
	}

	for _, field := range chart.Filter {
		fd, ok := byColumn[field.ColumnID]
		if !ok {
			return fmt.Errorf("chart %q: no decision for filter column %q", chart.ID, field.ColumnID)
		}

		op := aralia.Operator(fd.Operator)
		if field.Type.UsesInOperator() {
			op = aralia.OpIn
		} else if !aralia.ValidOperator(field.Type, op) {
			return fmt.Errorf("chart %q: operator %q is not valid for %s column %q",
				chart.ID, fd.Operator, field.Type, field.ColumnID)
		}
		field.Operator = op
		field.Value = append([]string(nil), fd.Value...)
	}
	return nil
}

// finalizeSpec strips prompt-only baggage before execution: formats on
// types that take none, and the fetched value domains.
func finalizeSpec(chart *aralia.ChartSpec) {
	for _, field := range chart.X {
		if !field.Type.IsFormatted() {
			field.Format = ""
		}
	}
	for _, field := range chart.Filter {
		if !field.Type.IsFormatted() {
			field.Format = ""
		}
		field.Values = nil
	}
}

func cloneSpecs(specs []*aralia.ChartSpec) []*aralia.ChartSpec {
	out := make([]*aralia.ChartSpec, len(specs))
	for i, spec := range specs {
		out[i] = spec.Clone()
	}
	return out
}
