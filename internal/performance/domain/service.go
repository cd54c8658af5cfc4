package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidUser        = errors.New("invalid_user")
	ErrInvalidFormulaCode = errors.New("invalid_formula_code")
	ErrInvalidPlatform    = errors.New("invalid_platform")
	ErrInvalidRating      = errors.New("invalid_rating")
)

// RecordRequest is the feedback ingest payload. A zero RecordedAt means now.
type RecordRequest struct {
	UserID       string
	FormulaCode  string
	Platform     string
	Rating       *float64
	WasUsed      bool
	WasFavorited bool
	RecordedAt   time.Time
}

type Service interface {
	// Record appends one feedback event.
	Record(ctx context.Context, req RecordRequest) (*PerformanceRecord, error)

	// AggregateByFormula reduces records for one formula across all
	// platforms since the window start. Zero records yield a zero
	// aggregate, not an error.
	AggregateByFormula(ctx context.Context, formulaCode string, since time.Time) (Aggregate, error)

	// AggregateAllByFormula reduces every formula observed since the
	// window start, one aggregate per formula.
	AggregateAllByFormula(ctx context.Context, since time.Time) ([]Aggregate, error)

	// AggregateAllByFormulaPlatform reduces per (formula, platform) pair.
	AggregateAllByFormulaPlatform(ctx context.Context, since time.Time) ([]Aggregate, error)

	// AggregateByUserFormula reduces per (user, formula) pair for every
	// user with records in the window.
	AggregateByUserFormula(ctx context.Context, since time.Time) ([]UserAggregate, error)
}
