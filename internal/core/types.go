// Package core implements the collection resolution engine: rule evaluation
// over product attributes, membership resolution for manual and automatic
// collections, and deterministic sorting and pagination.
//
// Everything in this package is a pure computation over an immutable catalog
// snapshot; no function here performs I/O or holds state.
package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Field names recognised by the attribute accessor. A rule referencing any
// other field never matches.
type Field string

const (
	FieldTag      Field = "tag"
	FieldPrice    Field = "price"
	FieldName     Field = "name"
	FieldBrand    Field = "brand"
	FieldCategory Field = "category"
	FieldStock    Field = "stock"
)

type Operator string

const (
	OperatorEquals      Operator = "equals"
	OperatorNotEquals   Operator = "not_equals"
	OperatorGreaterThan Operator = "greater_than"
	OperatorLessThan    Operator = "less_than"
	OperatorContains    Operator = "contains"
)

// MatchPolicy combines per-rule results into a membership decision.
type MatchPolicy string

const (
	MatchAll MatchPolicy = "all"
	MatchAny MatchPolicy = "any"
)

type CollectionType string

const (
	CollectionManual    CollectionType = "manual"
	CollectionAutomatic CollectionType = "automatic"
)

// SortKey selects one of the defined comparators. SortManual is only
// meaningful for manual collections; for automatic ones it falls back to the
// identifier order.
type SortKey string

const (
	SortManual      SortKey = "manual"
	SortBestSelling SortKey = "best-selling"
	SortTitleAsc    SortKey = "title-asc"
	SortTitleDesc   SortKey = "title-desc"
	SortPriceAsc    SortKey = "price-asc"
	SortPriceDesc   SortKey = "price-desc"
	SortCreatedAsc  SortKey = "created-asc"
	SortCreatedDesc SortKey = "created-desc"
)

// ValidSortKey reports whether key is one of the defined comparators.
func ValidSortKey(key SortKey) bool {
	switch key {
	case SortManual, SortBestSelling, SortTitleAsc, SortTitleDesc,
		SortPriceAsc, SortPriceDesc, SortCreatedAsc, SortCreatedDesc:
		return true
	}
	return false
}

// Rule is a single predicate over one product field. The comparison value is
// stored as text and parsed per the field's type at evaluation time; values
// that fail to parse make the predicate false, never an error.
type Rule struct {
	Field    Field    `json:"field"`
	Operator Operator `json:"operator"`
	Value    string   `json:"value"`
}

// RuleSet is the membership definition of an automatic collection.
type RuleSet struct {
	Policy MatchPolicy `json:"policy"`
	Rules  []Rule      `json:"rules"`
}

// Product is an immutable-per-version catalog record. The engine only reads
// it; the catalog store owns it.
type Product struct {
	ID            string
	Name          string
	Brand         string
	Category      string
	Tags          []string
	Price         decimal.Decimal
	OriginalPrice *decimal.Decimal
	Stock         int
	SalesCount    int
	CreatedAt     time.Time
}

// Collection is a membership definition: either an explicit ordered id list
// (manual) or a rule set evaluated against the catalog (automatic).
type Collection struct {
	ID          string
	Title       string
	Type        CollectionType
	MemberIDs   []string // manual only; order is the default display order
	Rules       RuleSet  // automatic only
	DefaultSort SortKey
	Visible     bool
	StartsAt    *time.Time
	EndsAt      *time.Time
}

// ActiveAt reports whether now falls inside the collection's active window.
// A nil bound is open-ended.
func (c Collection) ActiveAt(now time.Time) bool {
	if c.StartsAt != nil && now.Before(*c.StartsAt) {
		return false
	}
	if c.EndsAt != nil && now.After(*c.EndsAt) {
		return false
	}
	return true
}

// Snapshot is a point-in-time immutable view of the catalog used for one
// resolution pass. Version increases monotonically with catalog mutations.
type Snapshot struct {
	Version  int64
	Products []Product

	byID map[string]int
}

// NewSnapshot builds a snapshot with an id index over products.
func NewSnapshot(version int64, products []Product) *Snapshot {
	byID := make(map[string]int, len(products))
	for i, p := range products {
		byID[p.ID] = i
	}
	return &Snapshot{Version: version, Products: products, byID: byID}
}

// Lookup returns the product with the given id, if present.
func (s *Snapshot) Lookup(id string) (Product, bool) {
	i, ok := s.byID[id]
	if !ok {
		return Product{}, false
	}
	return s.Products[i], true
}

// Page is the result of resolving, ordering, and slicing one collection.
type Page struct {
	ProductIDs []string `json:"products"`
	Page       int      `json:"page"`
	TotalPages int      `json:"pages"`
	Total      int      `json:"total"`
	PageSize   int      `json:"-"`
}
