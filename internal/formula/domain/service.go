package domain

import "context"

// RecalcFailure records one formula the recalculation could not score.
type RecalcFailure struct {
	FormulaCode string
	Err         error
}

// RecalcSummary is the structured outcome of one recalculation run.
type RecalcSummary struct {
	Evaluated   int
	Updated     int
	Damped      int
	BelowSample int
	Failures    []RecalcFailure
}

type Service interface {
	// RecalculateAll rescores every active formula from the trailing
	// monthly window. Formulas below the minimum sample size keep their
	// prior rating. One formula failing does not stop the run.
	RecalculateAll(ctx context.Context) (RecalcSummary, error)

	// ListActive returns the active formula catalog.
	ListActive(ctx context.Context) ([]FormulaRecord, error)
}
