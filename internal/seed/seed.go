package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	formuladomain "github.com/hookforge/hookforge/internal/formula/domain"
	formularepository "github.com/hookforge/hookforge/internal/formula/repository"
	plandomain "github.com/hookforge/hookforge/internal/plan/domain"
	planrepository "github.com/hookforge/hookforge/internal/plan/repository"
	"gorm.io/gorm"
)

func int64ptr(v int64) *int64 { return &v }

// EnsureDefaultPlans seeds the built-in subscription plans. Existing rows
// are left alone so operator edits survive restarts.
func EnsureDefaultPlans(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	ctx := context.Background()
	repo := planrepository.Provide()
	now := time.Now().UTC()

	plans := []plandomain.Plan{
		{
			ID:             "free",
			DisplayName:    "Free",
			PrimaryLimit:   int64ptr(5),
			SecondaryLimit: int64ptr(1),
			ResetCadence:   plandomain.ResetCadenceWeekly,
			Active:         true,
			CreatedAt:      now,
			UpdatedAt:      now,
		},
		{
			ID:                 "creator",
			DisplayName:        "Creator",
			PrimaryLimit:       int64ptr(100),
			SecondaryLimit:     int64ptr(20),
			ResetCadence:       plandomain.ResetCadenceMonthly,
			OverageMaxFraction: 0.5,
			OverageUnitCents:   4,
			Active:             true,
			CreatedAt:          now,
			UpdatedAt:          now,
		},
		{
			ID:           "studio",
			DisplayName:  "Studio",
			ResetCadence: plandomain.ResetCadenceMonthly,
			Active:       true,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range plans {
			existing, err := repo.FindByID(ctx, tx, plans[i].ID)
			if err != nil {
				return err
			}
			if existing != nil {
				continue
			}
			if err := repo.Upsert(ctx, tx, &plans[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// EnsureDefaultFormulas seeds the built-in hook formula catalog. Ratings
// start at the neutral midpoint and move only through recalculation.
func EnsureDefaultFormulas(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	repo := formularepository.Provide()
	now := time.Now().UTC()

	formulas := []struct {
		Code        string
		DisplayName string
	}{
		{"curiosity_gap", "Curiosity Gap"},
		{"bold_claim", "Bold Claim"},
		{"question_hook", "Question Hook"},
		{"social_proof", "Social Proof"},
		{"pattern_interrupt", "Pattern Interrupt"},
		{"mistake_reveal", "Mistake Reveal"},
		{"before_after", "Before / After"},
		{"contrarian_take", "Contrarian Take"},
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, f := range formulas {
			existing, err := repo.FindByCode(ctx, tx, f.Code)
			if err != nil {
				return err
			}
			if existing != nil {
				continue
			}
			record := formuladomain.FormulaRecord{
				ID:                  node.Generate(),
				Code:                f.Code,
				DisplayName:         f.DisplayName,
				EffectivenessRating: 50,
				IsActive:            true,
				CreatedAt:           now,
				UpdatedAt:           now,
			}
			if err := repo.Upsert(ctx, tx, &record); err != nil {
				return err
			}
		}
		return nil
	})
}
