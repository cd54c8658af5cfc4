// Command scheduler runs the background jobs without the HTTP surface:
// period sweeps, effectiveness recalculation, trend recomputation, and
// profile rebuilds. Multiple replicas coordinate through the redis run
// lock when one is configured.
package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/hookforge/hookforge/internal/clock"
	"github.com/hookforge/hookforge/internal/config"
	"github.com/hookforge/hookforge/internal/formula"
	"github.com/hookforge/hookforge/internal/logger"
	"github.com/hookforge/hookforge/internal/performance"
	"github.com/hookforge/hookforge/internal/plan"
	"github.com/hookforge/hookforge/internal/profile"
	"github.com/hookforge/hookforge/internal/quota"
	"github.com/hookforge/hookforge/internal/ratelimit"
	"github.com/hookforge/hookforge/internal/scheduler"
	"github.com/hookforge/hookforge/internal/trend"
	"github.com/hookforge/hookforge/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		plan.Module,
		quota.Module,
		performance.Module,
		formula.Module,
		trend.Module,
		profile.Module,

		ratelimit.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
