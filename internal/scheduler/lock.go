package scheduler

import (
	"context"

	"go.uber.org/zap"
)

// acquireRunLock takes the distributed advisory lock for one scheduler tick.
// With no locker configured (single-instance deployments, tests) the run
// proceeds unguarded.
func (s *Scheduler) acquireRunLock(ctx context.Context) (release func(), acquired bool, err error) {
	if s.locker == nil {
		return func() {}, true, nil
	}

	token, ok, err := s.locker.TryLock(ctx, s.cfg.RunLockKey, s.cfg.RunLockTTL)
	if err != nil {
		return func() {}, false, err
	}
	if !ok {
		return func() {}, false, nil
	}

	return func() {
		if releaseErr := s.locker.Release(context.WithoutCancel(ctx), s.cfg.RunLockKey, token); releaseErr != nil {
			s.log.Warn("run lock release failed",
				zap.String("key", s.cfg.RunLockKey),
				zap.Error(releaseErr),
			)
		}
	}, true, nil
}
