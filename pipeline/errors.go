package pipeline

import "errors"

// Fatal stage outcomes. Run wraps them around the underlying cause, so
// errors.Is tells which stage gave up.
var (
	// ErrNoDataset means the galaxy search or the dataset selection left
	// nothing to work with.
	ErrNoDataset = errors.New("no dataset can answer the question")

	// ErrNoMetadata means none of the selected datasets yielded a column
	// catalog.
	ErrNoMetadata = errors.New("no data retrievable from the selected datasets")

	// ErrPlanning means chart planning never produced a valid chart list.
	ErrPlanning = errors.New("unable to generate accurate chart queries")

	// ErrFilterDecision means filter refinement never produced valid
	// operator and value choices.
	ErrFilterDecision = errors.New("unable to select accurate filter values")
)
