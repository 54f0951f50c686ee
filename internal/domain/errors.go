package domain

import (
	"fmt"
)

// The pipeline error taxonomy. All three abort the current run: the run row
// records the diagnostic and no partial results are persisted.

// InputError reports an empty or malformed transaction set.
type InputError struct {
	Stage  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%s: invalid input: %s", e.Stage, e.Reason)
}

// DegenerateDistributionError reports a population that cannot support
// quartile binning or a model fit: too few distinct values, duplicate
// quantile edges, or a non-converging likelihood.
type DegenerateDistributionError struct {
	Stage    string
	Metric   string
	Distinct int
	Reason   string
}

func (e *DegenerateDistributionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: degenerate distribution for %s: %s", e.Stage, e.Metric, e.Reason)
	}
	return fmt.Sprintf("%s: degenerate distribution for %s: %d distinct values", e.Stage, e.Metric, e.Distinct)
}

// SequencingError reports an estimator operation invoked out of order,
// e.g. prediction before a successful model fit.
type SequencingError struct {
	Op       string
	Requires string
}

func (e *SequencingError) Error() string {
	return fmt.Sprintf("%s requires %s first", e.Op, e.Requires)
}
