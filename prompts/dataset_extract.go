package prompts

import (
	"fmt"

	"github.com/araliadata/openrag/aralia"
)

// DatasetExtract renders the dataset selection prompt. The response must be
// a JSON object carrying the keys of the retained datasets.
func DatasetExtract(question string, datasets map[string]*aralia.Dataset) string {
	return fmt.Sprintf(`You are an expert data analyst tasked with filtering datasets based on relevance to a user's question.

**Task**: For the following question, identify and retain only the most directly relevant datasets.
Remove any datasets that are indirect, redundant, or tangentially related.

**Question**: %s

**Available Datasets**: %s

**Instructions**:
1. Analyze the core intent and key entities in the question
2. Evaluate each dataset's relevance to answering the question
3. Prioritize datasets that directly contain the required information
4. Remove datasets that are only tangentially related
5. Aim for quality over quantity - better to have fewer highly relevant datasets

Respond with a JSON object of the form:

{"datasetKeys": ["<dataset id>", ...], "datasetNames": ["<dataset name>", ...]}

where datasetKeys holds the IDs of the retained datasets and datasetNames
their names, in the same order. Return only the JSON object.`, question, asJSON(datasets))
}
