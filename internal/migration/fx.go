package migration

import (
	"github.com/hookforge/hookforge/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB) error {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}

		if err := RunMigrations(sqlDB); err != nil {
			return err
		}

		if err := seed.EnsureDefaultPlans(conn); err != nil {
			return err
		}
		return seed.EnsureDefaultFormulas(conn)
	}),
)
