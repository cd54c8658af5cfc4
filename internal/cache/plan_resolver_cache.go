package cache

import (
	"time"

	plandomain "github.com/hookforge/hookforge/internal/plan/domain"
)

// Plan rows are resolved on every period open and roll. The catalog
// changes rarely, so a short TTL bounds staleness after operator edits.
const defaultPlanTTL = 45 * time.Second

// PlanResolverCache stores resolved active plans for the quota hot path.
type PlanResolverCache struct {
	plans Cache[string, *plandomain.Plan]
	ttl   time.Duration
}

// NewPlanResolverCache returns an in-memory cache tuned for plan resolution.
func NewPlanResolverCache() *PlanResolverCache {
	return &PlanResolverCache{
		plans: NewTTLCache[string, *plandomain.Plan](),
		ttl:   defaultPlanTTL,
	}
}

func (c *PlanResolverCache) Get(planID string) (*plandomain.Plan, bool) {
	return c.plans.Get(planID)
}

func (c *PlanResolverCache) Set(planID string, plan *plandomain.Plan) {
	if plan == nil {
		return
	}
	copied := *plan
	c.plans.Set(planID, &copied, c.ttl)
}

func (c *PlanResolverCache) Invalidate(planID string) {
	c.plans.Delete(planID)
}
