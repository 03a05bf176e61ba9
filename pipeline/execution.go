package pipeline

import (
	"context"
	"fmt"

	"github.com/araliadata/openrag/aralia"
	"github.com/araliadata/openrag/explore"
)

// jsonDataRowLimit caps how many table rows reach the interpretation
// prompt through a chart's json_data.
const jsonDataRowLimit = 400

// ExecutionStage runs every planned chart against its planet. Chart
// failures are isolated: the chart keeps an empty json_data, an error note
// is recorded, and the run continues.
type ExecutionStage struct{}

func (ExecutionStage) Name() string { return "execution" }

func (s ExecutionStage) Run(ctx context.Context, st *State) (*Delta, error) {
	executed := make([]*aralia.ChartSpec, 0, len(st.ChartSpecs))
	var notes []string

	for _, spec := range st.ChartSpecs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chart := spec.Clone()
		if err := s.runChart(ctx, st, chart); err != nil {
			st.Logger.Warn("chart execution failed", "chart", chart.ID, "name", chart.Name, "error", err)
			notes = append(notes, fmt.Sprintf("chart %q: %v", chart.Name, err))
		}
		executed = append(executed, chart)
	}

	st.Logger.Info("charts executed", "charts", len(executed), "failed", len(notes))
	return &Delta{SearchResults: executed, Errors: notes}, nil
}

func (s ExecutionStage) runChart(ctx context.Context, st *State, chart *aralia.ChartSpec) error {
	rows, err := st.Data.Exploration(ctx, chart)
	if err != nil {
		return err
	}
	table, err := explore.BuildTable(rows, axisLabels(chart.X), axisLabels(chart.Y))
	if err != nil {
		return err
	}
	data, err := table.RecordsJSON(jsonDataRowLimit)
	if err != nil {
		return err
	}
	chart.JSONData = data

	// CSV artifacts are best-effort; a write failure never taints the
	// chart result.
	if st.CSVDir != "" {
		path, err := table.SaveCSV(st.CSVDir, chart.Name)
		if err != nil {
			st.Logger.Warn("csv artifact not written", "chart", chart.Name, "error", err)
		} else {
			st.Logger.Debug("csv artifact written", "chart", chart.Name, "path", path)
		}
	}
	return nil
}

func axisLabels(fields []*aralia.AxisField) []string {
	labels := make([]string, len(fields))
	for i, field := range fields {
		labels[i] = field.DisplayName
	}
	return labels
}
