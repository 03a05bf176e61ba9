package pipeline

import (
	"context"
	"fmt"

	"github.com/araliadata/openrag/aralia"
	"github.com/araliadata/openrag/llm"
)

// datasetSearchPageSize caps how many galaxy hits one question considers.
const datasetSearchPageSize = 50

// SearchStage queries the galaxy catalog with the question and asks the
// model to keep the datasets that can answer it.
type SearchStage struct{}

func (SearchStage) Name() string { return "search" }

// DatasetExtractOutput is the dataset selection the model returns.
type DatasetExtractOutput struct {
	DatasetKeys  []string `json:"datasetKeys"`
	DatasetNames []string `json:"datasetNames"`
}

func (s SearchStage) Run(ctx context.Context, st *State) (*Delta, error) {
	hits, err := st.Data.SearchDatasets(ctx, st.Question, datasetSearchPageSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoDataset, err)
	}
	if len(hits) == 0 {
		return nil, fmt.Errorf("%w: galaxy search found nothing for %q", ErrNoDataset, st.Question)
	}

	candidates := make(map[string]*aralia.Dataset, len(hits))
	for _, d := range hits {
		candidates[d.ID] = d
	}
	st.Logger.Info("dataset search complete", "hits", len(hits))

	selected, err := attempt(ctx, maxStageAttempts, func() ([]*aralia.Dataset, error) {
		sel, err := s.selectDatasets(ctx, st, candidates)
		if err != nil {
			st.Logger.Warn("dataset selection attempt failed", "error", err)
		}
		return sel, err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoDataset, err)
	}
	st.Logger.Info("datasets selected", "selected", len(selected), "candidates", len(hits))

	specs := make([]*aralia.ChartSpec, 0, len(selected))
	for _, d := range selected {
		specs = append(specs, &aralia.ChartSpec{
			ID:          d.ID,
			Name:        d.Name,
			Description: d.Description,
			SourceURL:   d.SourceURL,
		})
	}

	return &Delta{
		Datasets:             candidates,
		ChartSpecs:           specs,
		TotalDatasetsFound:   len(hits),
		SelectedDatasetCount: len(selected),
	}, nil
}

// selectDatasets asks the model which candidates answer the question.
// Unknown and duplicate keys in the response are dropped; an empty
// selection is a valid outcome.
func (SearchStage) selectDatasets(ctx context.Context, st *State, candidates map[string]*aralia.Dataset) ([]*aralia.Dataset, error) {
	prompt := st.Templates.DatasetExtract(st.Question, candidates)

	var out DatasetExtractOutput
	if _, err := st.LLM.InvokeStructured(ctx, []llm.Message{{Role: "user", Content: prompt}}, &out); err != nil {
		return nil, err
	}

	selected := make([]*aralia.Dataset, 0, len(out.DatasetKeys))
	seen := make(map[string]bool, len(out.DatasetKeys))
	for _, key := range out.DatasetKeys {
		d, ok := candidates[key]
		if !ok {
			st.Logger.Debug("selection named an unknown dataset", "key", key)
			continue
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		selected = append(selected, d)
	}
	return selected, nil
}
