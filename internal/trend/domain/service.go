package domain

import "context"

// TrendFailure records one pair the recomputation could not upsert.
type TrendFailure struct {
	FormulaCode string
	Platform    string
	Err         error
}

// RunSummary is the structured outcome of one trend recomputation run.
type RunSummary struct {
	Observed        int
	Upserted        int
	UnknownFormulas int
	Failures        []TrendFailure
}

type Service interface {
	// RecomputeAll rebuilds trend records for every (formula, platform)
	// pair observed in the trailing monthly window. Each run computes
	// fresh aggregates from source records, so overlapping runs never
	// double-count. One pair failing does not stop the run.
	RecomputeAll(ctx context.Context) (RunSummary, error)

	// List returns all trend records ordered by formula and platform.
	List(ctx context.Context) ([]TrendRecord, error)

	// ListByFormula returns the trend records for one formula.
	ListByFormula(ctx context.Context, formulaCode string) ([]TrendRecord, error)
}
