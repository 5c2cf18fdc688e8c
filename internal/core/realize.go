package core

import (
	"context"
	"errors"
	"runtime"

	"golang.org/x/sync/errgroup"

	"blendcore/pkg/domain"
)

const opRealize = "realize"

// RealizeAll realizes every unrealized unit of store with at most workers
// concurrent fetches. It stops at the first failure.
func RealizeAll(ctx context.Context, store *domain.Store, workers int) error {
	_, err := realizeAll(ctx, store, workers)
	return err
}

func realizeAll(ctx context.Context, store *domain.Store, workers int) (int, error) {
	if store == nil {
		return 0, errors.New("store cannot be nil")
	}
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	pending := 0
	for _, u := range store.Filtered(func(_ domain.Key, u *domain.Unit) bool { return !u.Realized() }) {
		pending++
		g.Go(func() error { return u.Realize(gctx) })
	}
	return pending, g.Wait()
}

// Realize realizes every unit of store using the service's worker bound.
func (s *Service) Realize(ctx context.Context, store *domain.Store) error {
	return s.instrument(ctx, opRealize, func(ctx context.Context) error {
		n, err := realizeAll(ctx, store, s.workers)
		if err != nil {
			s.logger.Error().Err(err).Msg("realize failed")
			return err
		}
		s.metrics.CountItems(ctx, opRealize, OutcomeRealized, n)
		s.logger.Debug().Int("units", n).Msg("units realized")
		return nil
	})
}
