package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/araliadata/openrag/aralia"
	"github.com/araliadata/openrag/llm"
)

// PlanningStage enriches the selected datasets with their column catalogs
// and turns the model's chart proposals into executable specs.
type PlanningStage struct{}

func (PlanningStage) Name() string { return "planning" }

// chartDraft is a proposed chart as the model writes it. Only the column
// references and the requested format and calculation survive into the
// built spec; display names and types are resolved from the catalog.
type chartDraft struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	X      []*fieldDraft `json:"x"`
	Y      []*fieldDraft `json:"y"`
	Filter []*fieldDraft `json:"filter"`
}

type fieldDraft struct {
	ColumnID    string `json:"columnID"`
	Format      string `json:"format"`
	Calculation string `json:"calculation"`
}

func (s PlanningStage) Run(ctx context.Context, st *State) (*Delta, error) {
	enriched := make(map[string]*aralia.Dataset, len(st.ChartSpecs))
	for _, chart := range st.ChartSpecs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		columns, err := st.Data.DatasetMetadata(ctx, chart.ID, chart.SourceURL)
		if err != nil {
			st.Logger.Warn("dataset metadata unavailable", "dataset", chart.ID, "error", err)
			continue
		}
		if len(columns) == 0 {
			st.Logger.Warn("dataset has no usable columns", "dataset", chart.ID)
			continue
		}

		ds := aralia.Dataset{ID: chart.ID, Name: chart.Name, Description: chart.Description, SourceURL: chart.SourceURL}
		if base, ok := st.Datasets[chart.ID]; ok {
			ds = *base
		}
		ds.Columns = columns
		enriched[ds.ID] = &ds
	}
	if len(enriched) == 0 {
		return nil, fmt.Errorf("%w: none of the %d selected datasets has column metadata", ErrNoMetadata, len(st.ChartSpecs))
	}
	st.Logger.Info("dataset metadata fetched", "enriched", len(enriched), "selected", len(st.ChartSpecs))

	charts, err := attempt(ctx, maxStageAttempts, func() ([]*aralia.ChartSpec, error) {
		specs, err := s.planOnce(ctx, st, enriched)
		if err != nil {
			st.Logger.Warn("chart planning attempt failed", "error", err)
		}
		return specs, err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPlanning, err)
	}
	st.Logger.Info("charts planned", "charts", len(charts))

	return &Delta{Datasets: enriched, ChartSpecs: charts}, nil
}

// planOnce runs one planning conversation. The model reasons in prose and
// finishes with a fenced json block; only the last block is parsed.
func (s PlanningStage) planOnce(ctx context.Context, st *State, enriched map[string]*aralia.Dataset) ([]*aralia.ChartSpec, error) {
	prompt := st.Templates.ChartPlanning(st.Question, enriched)
	resp, err := st.LLM.Invoke(ctx, []llm.Message{{Role: "user", Content: prompt}})
	if err != nil {
		return nil, err
	}

	raw := llm.ExtractLastJSONBlock(resp.Content)
	if raw == "" {
		return nil, fmt.Errorf("response %s carries no json block", resp.RequestID)
	}

	var out struct {
		Charts []*chartDraft `json:"charts"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode response %s: %w", resp.RequestID, err)
	}
	if len(out.Charts) == 0 {
		return nil, fmt.Errorf("response %s proposes no charts", resp.RequestID)
	}

	return buildChartSpecs(st, out.Charts, enriched)
}

// buildChartSpecs resolves drafts against the column catalogs. A draft
// referencing an unknown dataset or column fails the whole attempt; an
// illegal y calculation only drops that field.
func buildChartSpecs(st *State, drafts []*chartDraft, enriched map[string]*aralia.Dataset) ([]*aralia.ChartSpec, error) {
	specs := make([]*aralia.ChartSpec, 0, len(drafts))
	for _, draft := range drafts {
		if draft == nil {
			return nil, errors.New("null chart entry")
		}
		ds, ok := enriched[draft.ID]
		if !ok {
			return nil, fmt.Errorf("chart %q references a dataset without metadata", draft.ID)
		}

		spec := &aralia.ChartSpec{
			ID:          ds.ID,
			Name:        ds.Name,
			Description: ds.Description,
			SourceURL:   ds.SourceURL,
		}
		for _, fd := range draft.X {
			field, err := resolveField(st, ds, fd)
			if err != nil {
				return nil, fmt.Errorf("chart %q x: %w", draft.ID, err)
			}
			spec.X = append(spec.X, field)
		}
		for _, fd := range draft.Filter {
			field, err := resolveField(st, ds, fd)
			if err != nil {
				return nil, fmt.Errorf("chart %q filter: %w", draft.ID, err)
			}
			spec.Filter = append(spec.Filter, &aralia.FilterField{AxisField: *field})
		}
		for _, fd := range draft.Y {
			field, err := resolveField(st, ds, fd)
			if err != nil {
				return nil, fmt.Errorf("chart %q y: %w", draft.ID, err)
			}
			calc := aralia.Calculation(fd.Calculation)
			if !aralia.ValidCalculation(field.Type, calc) {
				st.Logger.Debug("dropping y field with illegal calculation",
					"chart", draft.ID, "column", fd.ColumnID, "type", field.Type, "calculation", fd.Calculation)
				continue
			}
			field.Calculation = calc
			spec.Y = append(spec.Y, field)
		}

		specs = append(specs, spec)
	}
	return specs, nil
}

// resolveField looks the drafted column up in the dataset catalog. The
// drafted format is kept even when it is not in the catalogs; unknown
// formats are logged and passed through.
func resolveField(st *State, ds *aralia.Dataset, fd *fieldDraft) (*aralia.AxisField, error) {
	if fd == nil {
		return nil, errors.New("null field entry")
	}
	col, ok := ds.Columns[fd.ColumnID]
	if !ok {
		return nil, fmt.Errorf("column %q is not in dataset %q", fd.ColumnID, ds.ID)
	}

	if fd.Format != "" && !aralia.ValidFormat(col.Type, fd.Format) {
		st.Logger.Warn("unrecognized field format kept as drafted",
			"dataset", ds.ID, "column", col.ColumnID, "type", col.Type, "format", fd.Format)
	}
	return &aralia.AxisField{
		ColumnID:    col.ColumnID,
		DisplayName: col.DisplayName,
		Type:        col.Type,
		Format:      fd.Format,
	}, nil
}
