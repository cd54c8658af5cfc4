package domain

import "context"

// ProfileFailure records one user whose profile rebuild failed.
type ProfileFailure struct {
	UserID string
	Err    error
}

// RebuildSummary is the structured outcome of one profile rebuild run.
type RebuildSummary struct {
	Users    int
	Upserted int
	Failures []ProfileFailure
}

type Service interface {
	// RebuildAll recomputes every creator's profile from the trailing
	// monthly feedback window. One user failing does not stop the run.
	RebuildAll(ctx context.Context) (RebuildSummary, error)

	// Get returns a creator's profile, or nil when none exists yet.
	Get(ctx context.Context, userID string) (*CreatorProfile, error)
}
