package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rowanvale/shopshelf/internal/core"
	"github.com/rowanvale/shopshelf/internal/repository"
)

const (
	collectionResyncInterval = time.Minute
	collectionReloadTimeout  = 5 * time.Second

	defaultPageSize = 24
	maxPageSize     = 100
)

var (
	ErrCollectionNotFound  = errors.New("collection not found")
	ErrProductNotFound     = errors.New("product not found")
	ErrMembershipNotFound  = errors.New("product is not a member of collection")
	ErrCollectionAutomatic = errors.New("membership of an automatic collection cannot be edited")
	ErrInvalidRules        = errors.New("invalid rules")
	ErrInvalidSortKey      = errors.New("invalid sort key")
	ErrInvalidCollection   = errors.New("invalid collection")
	ErrInvalidProduct      = errors.New("invalid product")
)

// Repository is the persistence surface the service needs; satisfied by
// repository.PostgresRepository.
type Repository interface {
	CreateProduct(ctx context.Context, p repository.Product) (repository.Product, error)
	UpdateProduct(ctx context.Context, p repository.Product) (repository.Product, error)
	GetProduct(ctx context.Context, id string) (repository.Product, error)
	ListProducts(ctx context.Context) ([]repository.Product, error)
	DeleteProduct(ctx context.Context, id string) error

	CreateCollection(ctx context.Context, c repository.Collection) (repository.Collection, error)
	UpdateCollection(ctx context.Context, c repository.Collection) (repository.Collection, error)
	GetCollection(ctx context.Context, id string) (repository.Collection, error)
	ListCollections(ctx context.Context) ([]repository.Collection, error)
	DeleteCollection(ctx context.Context, id string) error

	ListCollectionMembers(ctx context.Context, collectionID string) ([]string, error)
	AddCollectionMember(ctx context.Context, collectionID, productID string) error
	RemoveCollectionMember(ctx context.Context, collectionID, productID string) error
}

// CatalogSource supplies the versioned product snapshot; satisfied by
// catalog.Store.
type CatalogSource interface {
	Snapshot() *core.Snapshot
	Version() int64
}

type collectionInvalidationSubscriber interface {
	SubscribeCollectionInvalidation(ctx context.Context) (<-chan struct{}, error)
}

// cachedCollection pairs a stored collection with its decoded rule set and,
// for manual collections, its ordered member ids.
type cachedCollection struct {
	stored  repository.Collection
	core    core.Collection
	members []string
}

// pageKey identifies one memoized resolution result. The catalog version is
// part of the key, so a catalog reload implicitly invalidates every entry.
type pageKey struct {
	collectionID   string
	catalogVersion int64
	sort           core.SortKey
	page           int
	pageSize       int
}

// Metrics receives resolution observability callbacks. All methods must be
// safe for concurrent use.
type Metrics interface {
	ResolutionServed(collectionType string, cacheHit bool)
}

type noopMetrics struct{}

func (noopMetrics) ResolutionServed(string, bool) {}

// Service resolves collection pages against the current catalog snapshot and
// owns the collection cache and the resolution memo.
type Service struct {
	repo    Repository
	catalog CatalogSource
	metrics Metrics

	defaultPageSize int
	maxPageSize     int

	mu          sync.RWMutex
	collections map[string]cachedCollection
	memo        map[pageKey]core.Page
	memoVersion int64

	now func() time.Time
}

// ServiceOption configures optional Service parameters.
type ServiceOption func(*Service)

// WithMetrics wires resolution metrics callbacks.
func WithMetrics(m Metrics) ServiceOption {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithPageSizeLimits overrides the default and maximum page sizes.
func WithPageSizeLimits(def, max int) ServiceOption {
	return func(s *Service) {
		if def > 0 {
			s.defaultPageSize = def
		}
		if max > 0 {
			s.maxPageSize = max
		}
	}
}

// WithClock overrides the active-window clock. Tests only.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(ctx context.Context, repo Repository, catalog CatalogSource, opts ...ServiceOption) (*Service, error) {
	if repo == nil {
		return nil, errors.New("repository is nil")
	}
	if catalog == nil {
		return nil, errors.New("catalog source is nil")
	}

	svc := &Service{
		repo:            repo,
		catalog:         catalog,
		metrics:         noopMetrics{},
		defaultPageSize: defaultPageSize,
		maxPageSize:     maxPageSize,
		collections:     make(map[string]cachedCollection),
		memo:            make(map[pageKey]core.Page),
		now:             time.Now,
	}
	for _, o := range opts {
		o(svc)
	}

	if err := svc.LoadCollections(ctx); err != nil {
		return nil, err
	}
	if subscriber, ok := repo.(collectionInvalidationSubscriber); ok {
		if err := svc.startCollectionInvalidationListener(ctx, subscriber); err != nil {
			return nil, err
		}
	}

	return svc, nil
}

// LoadCollections replaces the collection cache from the repository and
// drops every memoized page.
func (s *Service) LoadCollections(ctx context.Context) error {
	stored, err := s.repo.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("load collections: %w", err)
	}

	next := make(map[string]cachedCollection, len(stored))
	for _, c := range stored {
		entry, err := s.buildCacheEntry(ctx, c)
		if err != nil {
			return err
		}
		next[c.ID] = entry
	}

	s.mu.Lock()
	s.collections = next
	s.memo = make(map[pageKey]core.Page)
	s.mu.Unlock()

	return nil
}

// ResolvePage resolves, orders and paginates one collection page. An empty
// sortKey falls back to the collection's default sort. Results are memoized
// per catalog version; any collection or membership mutation drops the memo.
func (s *Service) ResolvePage(ctx context.Context, collectionID, sortKey string, page, pageSize int) (core.Page, error) {
	resolved, _, err := s.resolve(ctx, collectionID, sortKey, page, pageSize)
	return resolved, err
}

// ResolveProducts resolves a page and hydrates the product records in page
// order from the same snapshot the resolution ran against.
func (s *Service) ResolveProducts(ctx context.Context, collectionID, sortKey string, page, pageSize int) (core.Page, []core.Product, error) {
	resolved, snap, err := s.resolve(ctx, collectionID, sortKey, page, pageSize)
	if err != nil {
		return core.Page{}, nil, err
	}

	products := make([]core.Product, 0, len(resolved.ProductIDs))
	for _, id := range resolved.ProductIDs {
		if p, ok := snap.Lookup(id); ok {
			products = append(products, p)
		}
	}

	return resolved, products, nil
}

// resolve returns the page together with the snapshot it was computed
// against. A concurrent catalog reload swaps the snapshot pointer, so
// callers that hydrate products must use the returned snapshot instead of
// reading s.catalog again.
func (s *Service) resolve(ctx context.Context, collectionID, sortKey string, page, pageSize int) (core.Page, *core.Snapshot, error) {
	entry, err := s.getCollection(ctx, collectionID)
	if err != nil {
		return core.Page{}, nil, err
	}
	if !entry.core.Visible {
		return core.Page{}, nil, ErrCollectionNotFound
	}

	sk := entry.core.DefaultSort
	if sortKey != "" {
		sk = core.SortKey(sortKey)
		if !core.ValidSortKey(sk) {
			return core.Page{}, nil, fmt.Errorf("%w: %q", ErrInvalidSortKey, sortKey)
		}
	}

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = s.defaultPageSize
	}
	if pageSize > s.maxPageSize {
		pageSize = s.maxPageSize
	}

	snap := s.catalog.Snapshot()
	key := pageKey{
		collectionID:   collectionID,
		catalogVersion: snap.Version,
		sort:           sk,
		page:           page,
		pageSize:       pageSize,
	}

	if cached, ok := s.getMemoizedPage(key); ok {
		s.metrics.ResolutionServed(string(entry.core.Type), true)
		return cached, snap, nil
	}

	ids := core.Resolve(entry.core, snap, s.now())
	ordered := core.Order(ids, snap, sk)
	result := core.Paginate(ordered, page, pageSize)

	s.setMemoizedPage(key, result)
	s.metrics.ResolutionServed(string(entry.core.Type), false)

	return result, snap, nil
}

func (s *Service) CreateCollection(ctx context.Context, c repository.Collection) (repository.Collection, error) {
	if err := validateCollection(&c); err != nil {
		return repository.Collection{}, err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	created, err := s.repo.CreateCollection(ctx, c)
	if err != nil {
		return repository.Collection{}, fmt.Errorf("create collection: %w", err)
	}

	s.refreshCollection(ctx, created.ID)
	return created, nil
}

func (s *Service) UpdateCollection(ctx context.Context, c repository.Collection) (repository.Collection, error) {
	if strings.TrimSpace(c.ID) == "" {
		return repository.Collection{}, fmt.Errorf("%w: id is required", ErrInvalidCollection)
	}
	if err := validateCollection(&c); err != nil {
		return repository.Collection{}, err
	}

	updated, err := s.repo.UpdateCollection(ctx, c)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.dropCollection(c.ID)
			return repository.Collection{}, ErrCollectionNotFound
		}
		return repository.Collection{}, fmt.Errorf("update collection: %w", err)
	}

	s.refreshCollection(ctx, updated.ID)
	return updated, nil
}

func (s *Service) GetCollection(ctx context.Context, id string) (repository.Collection, error) {
	entry, err := s.getCollection(ctx, id)
	if err != nil {
		return repository.Collection{}, err
	}
	return entry.stored, nil
}

// GetCollectionMembers returns the stored member order of a manual
// collection, including ids that no longer resolve to a live product.
func (s *Service) GetCollectionMembers(ctx context.Context, id string) ([]string, error) {
	entry, err := s.getCollection(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.core.Type != core.CollectionManual {
		return nil, ErrCollectionAutomatic
	}
	return append([]string(nil), entry.members...), nil
}

func (s *Service) ListCollections(_ context.Context) ([]repository.Collection, error) {
	s.mu.RLock()
	collections := make([]repository.Collection, 0, len(s.collections))
	for _, entry := range s.collections {
		collections = append(collections, entry.stored)
	}
	s.mu.RUnlock()

	sort.Slice(collections, func(i, j int) bool {
		return collections[i].Title < collections[j].Title ||
			(collections[i].Title == collections[j].Title && collections[i].ID < collections[j].ID)
	})

	return collections, nil
}

func (s *Service) DeleteCollection(ctx context.Context, id string) error {
	if err := s.repo.DeleteCollection(ctx, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.dropCollection(id)
			return ErrCollectionNotFound
		}
		return fmt.Errorf("delete collection: %w", err)
	}

	s.dropCollection(id)
	return nil
}

// AddCollectionMember appends a product to a manual collection's member
// list. Adding an existing member is a no-op.
func (s *Service) AddCollectionMember(ctx context.Context, collectionID, productID string) error {
	entry, err := s.getCollection(ctx, collectionID)
	if err != nil {
		return err
	}
	if entry.core.Type != core.CollectionManual {
		return ErrCollectionAutomatic
	}

	if _, err := s.repo.GetProduct(ctx, productID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrProductNotFound
		}
		return fmt.Errorf("get product: %w", err)
	}

	if err := s.repo.AddCollectionMember(ctx, collectionID, productID); err != nil {
		return fmt.Errorf("add collection member: %w", err)
	}

	s.refreshCollection(ctx, collectionID)
	return nil
}

// RemoveCollectionMember removes a product from a manual collection's member
// list. Positions of the remaining members are preserved.
func (s *Service) RemoveCollectionMember(ctx context.Context, collectionID, productID string) error {
	entry, err := s.getCollection(ctx, collectionID)
	if err != nil {
		return err
	}
	if entry.core.Type != core.CollectionManual {
		return ErrCollectionAutomatic
	}

	if err := s.repo.RemoveCollectionMember(ctx, collectionID, productID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrMembershipNotFound
		}
		return fmt.Errorf("remove collection member: %w", err)
	}

	s.refreshCollection(ctx, collectionID)
	return nil
}

func (s *Service) CreateProduct(ctx context.Context, p repository.Product) (repository.Product, error) {
	if err := validateProduct(p); err != nil {
		return repository.Product{}, err
	}

	created, err := s.repo.CreateProduct(ctx, p)
	if err != nil {
		return repository.Product{}, fmt.Errorf("create product: %w", err)
	}
	return created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, p repository.Product) (repository.Product, error) {
	if err := validateProduct(p); err != nil {
		return repository.Product{}, err
	}

	updated, err := s.repo.UpdateProduct(ctx, p)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.Product{}, ErrProductNotFound
		}
		return repository.Product{}, fmt.Errorf("update product: %w", err)
	}
	return updated, nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (repository.Product, error) {
	if strings.TrimSpace(id) == "" {
		return repository.Product{}, fmt.Errorf("%w: id is required", ErrInvalidProduct)
	}

	p, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.Product{}, ErrProductNotFound
		}
		return repository.Product{}, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]repository.Product, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrProductNotFound
		}
		return fmt.Errorf("delete product: %w", err)
	}
	return nil
}

func (s *Service) getCollection(ctx context.Context, id string) (cachedCollection, error) {
	if strings.TrimSpace(id) == "" {
		return cachedCollection{}, fmt.Errorf("%w: id is required", ErrInvalidCollection)
	}

	s.mu.RLock()
	entry, ok := s.collections[id]
	s.mu.RUnlock()
	if ok {
		return entry, nil
	}

	stored, err := s.repo.GetCollection(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return cachedCollection{}, ErrCollectionNotFound
		}
		return cachedCollection{}, fmt.Errorf("get collection: %w", err)
	}

	entry, err = s.buildCacheEntry(ctx, stored)
	if err != nil {
		return cachedCollection{}, err
	}

	s.mu.Lock()
	s.collections[id] = entry
	s.mu.Unlock()

	return entry, nil
}

func (s *Service) buildCacheEntry(ctx context.Context, stored repository.Collection) (cachedCollection, error) {
	coreCollection, err := storedCollectionToCore(stored)
	if err != nil {
		return cachedCollection{}, fmt.Errorf("collection %s: %w", stored.ID, err)
	}

	var members []string
	if coreCollection.Type == core.CollectionManual {
		members, err = s.repo.ListCollectionMembers(ctx, stored.ID)
		if err != nil {
			return cachedCollection{}, fmt.Errorf("list members of %s: %w", stored.ID, err)
		}
		coreCollection.MemberIDs = members
	}

	return cachedCollection{stored: stored, core: coreCollection, members: members}, nil
}

// refreshCollection re-reads one collection after a mutation. On any failure
// the stale entry is dropped so the next read goes to the repository.
func (s *Service) refreshCollection(ctx context.Context, id string) {
	stored, err := s.repo.GetCollection(ctx, id)
	if err != nil {
		s.dropCollection(id)
		return
	}

	entry, err := s.buildCacheEntry(ctx, stored)
	if err != nil {
		s.dropCollection(id)
		return
	}

	s.mu.Lock()
	s.collections[id] = entry
	s.invalidateMemoLocked(id)
	s.mu.Unlock()
}

func (s *Service) dropCollection(id string) {
	s.mu.Lock()
	delete(s.collections, id)
	s.invalidateMemoLocked(id)
	s.mu.Unlock()
}

func (s *Service) invalidateMemoLocked(collectionID string) {
	for key := range s.memo {
		if key.collectionID == collectionID {
			delete(s.memo, key)
		}
	}
}

func (s *Service) getMemoizedPage(key pageKey) (core.Page, bool) {
	s.mu.RLock()
	page, ok := s.memo[key]
	s.mu.RUnlock()
	return page, ok
}

func (s *Service) setMemoizedPage(key pageKey, page core.Page) {
	s.mu.Lock()
	if s.memoVersion != key.catalogVersion {
		// Entries for older catalog versions can never be read again.
		s.memo = make(map[pageKey]core.Page)
		s.memoVersion = key.catalogVersion
	}
	s.memo[key] = page
	s.mu.Unlock()
}

func (s *Service) startCollectionInvalidationListener(ctx context.Context, subscriber collectionInvalidationSubscriber) error {
	invalidations, err := subscriber.SubscribeCollectionInvalidation(ctx)
	if err != nil {
		return fmt.Errorf("subscribe collection invalidation: %w", err)
	}

	go func() {
		resyncTicker := time.NewTicker(collectionResyncInterval)
		defer resyncTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-resyncTicker.C:
				if invalidations == nil {
					next, err := subscriber.SubscribeCollectionInvalidation(ctx)
					if err == nil {
						invalidations = next
					}
				}
				s.reloadCollections(ctx)
			case _, ok := <-invalidations:
				if !ok {
					next, err := subscriber.SubscribeCollectionInvalidation(ctx)
					if err != nil {
						invalidations = nil
						continue
					}
					invalidations = next
					continue
				}
				s.reloadCollections(ctx)
			}
		}
	}()

	return nil
}

func (s *Service) reloadCollections(ctx context.Context) {
	reloadCtx, cancel := context.WithTimeout(ctx, collectionReloadTimeout)
	defer cancel()
	_ = s.LoadCollections(reloadCtx)
}

func validateCollection(c *repository.Collection) error {
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidCollection)
	}

	switch core.CollectionType(c.Type) {
	case core.CollectionManual, core.CollectionAutomatic:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidCollection, c.Type)
	}

	if c.MatchPolicy == "" {
		c.MatchPolicy = string(core.MatchAll)
	}
	switch core.MatchPolicy(c.MatchPolicy) {
	case core.MatchAll, core.MatchAny:
	default:
		return fmt.Errorf("%w: unknown match policy %q", ErrInvalidCollection, c.MatchPolicy)
	}

	if c.DefaultSort == "" {
		c.DefaultSort = string(core.SortCreatedDesc)
	}
	sk := core.SortKey(c.DefaultSort)
	if !core.ValidSortKey(sk) {
		return fmt.Errorf("%w: %q", ErrInvalidSortKey, c.DefaultSort)
	}
	if sk == core.SortManual && core.CollectionType(c.Type) != core.CollectionManual {
		return fmt.Errorf("%w: manual sort requires a manual collection", ErrInvalidSortKey)
	}

	if c.StartsAt != nil && c.EndsAt != nil && c.EndsAt.Before(*c.StartsAt) {
		return fmt.Errorf("%w: ends_at precedes starts_at", ErrInvalidCollection)
	}

	if _, err := parseRulesJSON(c.Rules); err != nil {
		return err
	}

	return nil
}

func validateProduct(p repository.Product) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidProduct)
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProduct)
	}
	if p.Price.IsNegative() {
		return fmt.Errorf("%w: price is negative", ErrInvalidProduct)
	}
	if p.OriginalPrice != nil && p.OriginalPrice.LessThan(p.Price) {
		return fmt.Errorf("%w: original price below price", ErrInvalidProduct)
	}
	if p.Stock < 0 {
		return fmt.Errorf("%w: stock is negative", ErrInvalidProduct)
	}
	return nil
}

func storedCollectionToCore(stored repository.Collection) (core.Collection, error) {
	rules, err := parseRulesJSON(stored.Rules)
	if err != nil {
		return core.Collection{}, err
	}

	return core.Collection{
		ID:    stored.ID,
		Title: stored.Title,
		Type:  core.CollectionType(stored.Type),
		Rules: core.RuleSet{
			Policy: core.MatchPolicy(stored.MatchPolicy),
			Rules:  rules,
		},
		DefaultSort: core.SortKey(stored.DefaultSort),
		Visible:     stored.Visible,
		StartsAt:    stored.StartsAt,
		EndsAt:      stored.EndsAt,
	}, nil
}

// parseRulesJSON decodes and validates a stored rule payload. Rule values
// stay strings; operand parsing happens at evaluation time, where a
// malformed value makes the predicate false rather than failing the write.
func parseRulesJSON(payload json.RawMessage) ([]core.Rule, error) {
	rules := make([]core.Rule, 0)
	if len(payload) == 0 {
		return rules, nil
	}

	if err := json.Unmarshal(payload, &rules); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}

	for i, rule := range rules {
		switch rule.Field {
		case core.FieldTag, core.FieldPrice, core.FieldName, core.FieldBrand, core.FieldCategory, core.FieldStock:
		default:
			return nil, fmt.Errorf("%w: rule %d has unknown field %q", ErrInvalidRules, i, rule.Field)
		}
		switch rule.Operator {
		case core.OperatorEquals, core.OperatorNotEquals, core.OperatorGreaterThan, core.OperatorLessThan, core.OperatorContains:
		default:
			return nil, fmt.Errorf("%w: rule %d has unknown operator %q", ErrInvalidRules, i, rule.Operator)
		}
	}

	return rules, nil
}
