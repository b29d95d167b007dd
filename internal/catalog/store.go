// Package catalog maintains the versioned, immutable product snapshot that
// collection resolution runs against. The store owns a single
// atomically-swapped snapshot; readers never block writers and resolution
// never sees a half-updated catalog.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rowanvale/shopshelf/internal/core"
	"github.com/rowanvale/shopshelf/internal/repository"
)

const (
	defaultResyncInterval = time.Minute
	reloadTimeout         = 5 * time.Second
)

// ProductLister supplies the full catalog; satisfied by
// repository.PostgresRepository.
type ProductLister interface {
	ListProducts(ctx context.Context) ([]repository.Product, error)
}

// ChangeSubscriber delivers product change notifications; satisfied by
// repository.PostgresRepository.
type ChangeSubscriber interface {
	SubscribeCatalogInvalidation(ctx context.Context) (<-chan struct{}, error)
}

// Store holds the current catalog snapshot and its monotonically increasing
// version. Every successful reload bumps the version, which participates in
// the resolution cache key downstream.
type Store struct {
	lister   ProductLister
	snapshot atomic.Pointer[core.Snapshot]
	version  atomic.Int64
	log      *slog.Logger
	onReload func(version int64, size int)
}

// Option configures optional Store parameters.
type Option func(*Store)

// WithLogger sets the logger used by the background watcher.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// WithOnReload registers a callback invoked after every successful reload
// (e.g. to update the catalog version gauge).
func WithOnReload(fn func(version int64, size int)) Option {
	return func(s *Store) { s.onReload = fn }
}

// New builds a store and performs the initial catalog load.
func New(ctx context.Context, lister ProductLister, opts ...Option) (*Store, error) {
	if lister == nil {
		return nil, errors.New("product lister is nil")
	}

	s := &Store{
		lister: lister,
		log:    slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}

	if err := s.Reload(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

// Snapshot returns the current immutable catalog view. The returned snapshot
// stays valid (and unchanged) for as long as the caller holds it, even
// across concurrent reloads.
func (s *Store) Snapshot() *core.Snapshot {
	return s.snapshot.Load()
}

// Version returns the current catalog version.
func (s *Store) Version() int64 {
	return s.version.Load()
}

// Reload rebuilds the snapshot from the repository and bumps the catalog
// version.
func (s *Store) Reload(ctx context.Context) error {
	rows, err := s.lister.ListProducts(ctx)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	products := make([]core.Product, 0, len(rows))
	for _, row := range rows {
		products = append(products, toCore(row))
	}

	version := s.version.Add(1)
	s.snapshot.Store(core.NewSnapshot(version, products))

	if s.onReload != nil {
		s.onReload(version, len(products))
	}

	return nil
}

// Watch reloads the snapshot whenever the subscriber signals a catalog
// change, with a periodic resync as a safety net against missed
// notifications. It blocks until ctx is cancelled, so run it on its own
// goroutine.
func (s *Store) Watch(ctx context.Context, subscriber ChangeSubscriber, resyncInterval time.Duration) error {
	if subscriber == nil {
		return errors.New("change subscriber is nil")
	}
	if resyncInterval <= 0 {
		resyncInterval = defaultResyncInterval
	}

	changes, err := subscriber.SubscribeCatalogInvalidation(ctx)
	if err != nil {
		return fmt.Errorf("subscribe catalog changes: %w", err)
	}

	resyncTicker := time.NewTicker(resyncInterval)
	defer resyncTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-resyncTicker.C:
			if changes == nil {
				if next, err := subscriber.SubscribeCatalogInvalidation(ctx); err == nil {
					changes = next
				}
			}
			s.reload(ctx)
		case _, ok := <-changes:
			if !ok {
				next, err := subscriber.SubscribeCatalogInvalidation(ctx)
				if err != nil {
					changes = nil
					continue
				}
				changes = next
				continue
			}
			s.reload(ctx)
		}
	}
}

func (s *Store) reload(ctx context.Context) {
	reloadCtx, cancel := context.WithTimeout(ctx, reloadTimeout)
	defer cancel()
	if err := s.Reload(reloadCtx); err != nil && ctx.Err() == nil {
		s.log.Error("catalog reload failed", "error", err)
	}
}

func toCore(p repository.Product) core.Product {
	return core.Product{
		ID:            p.ID,
		Name:          p.Name,
		Brand:         p.Brand,
		Category:      p.Category,
		Tags:          p.Tags,
		Price:         p.Price,
		OriginalPrice: p.OriginalPrice,
		Stock:         p.Stock,
		SalesCount:    p.SalesCount,
		CreatedAt:     p.CreatedAt,
	}
}
