package domain

import "context"

// Service resolves plan definitions for quota enforcement.
type Service interface {
	// Resolve returns the active plan for id. It returns ErrUnknownPlan
	// when no such plan exists and ErrInactivePlan when the plan has been
	// retired from the catalog.
	Resolve(ctx context.Context, id string) (*Plan, error)
	List(ctx context.Context) ([]Plan, error)
}
