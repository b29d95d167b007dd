// Package shopshelf provides client interfaces and domain types for the
// shopshelf collection resolution service.
//
// Use the http sub-package to create a transport client:
//
//	import shopshelfhttp "github.com/rowanvale/shopshelf/clients/go/http"
package shopshelf

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// CollectionManager covers CRUD operations on collections and their manual
// member lists.
type CollectionManager interface {
	CreateCollection(ctx context.Context, c Collection) (Collection, error)
	GetCollection(ctx context.Context, id string) (Collection, error)
	ListCollections(ctx context.Context) ([]Collection, error)
	UpdateCollection(ctx context.Context, c Collection) (Collection, error)
	DeleteCollection(ctx context.Context, id string) error

	ListCollectionMembers(ctx context.Context, collectionID string) ([]string, error)
	AddCollectionMember(ctx context.Context, collectionID, productID string) error
	RemoveCollectionMember(ctx context.Context, collectionID, productID string) error
}

// ProductManager covers CRUD operations on catalog products.
type ProductManager interface {
	CreateProduct(ctx context.Context, p Product) (Product, error)
	GetProduct(ctx context.Context, id string) (Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
	UpdateProduct(ctx context.Context, p Product) (Product, error)
	DeleteProduct(ctx context.Context, id string) error
}

// Resolver serves storefront collection pages.
type Resolver interface {
	ResolveCollection(ctx context.Context, collectionID string, opts ResolveOptions) (CollectionPage, error)
}

// Collection is a storefront collection definition: either an explicit
// ordered member list (manual) or a rule set evaluated against the catalog
// (automatic).
type Collection struct {
	ID          string     `json:"id,omitempty"`
	Title       string     `json:"title"`
	Type        string     `json:"type"` // "manual" | "automatic"
	MatchPolicy string     `json:"match_policy,omitempty"`
	Rules       []Rule     `json:"rules,omitempty"`
	DefaultSort string     `json:"default_sort,omitempty"`
	Visible     bool       `json:"visible"`
	StartsAt    *time.Time `json:"starts_at,omitempty"`
	EndsAt      *time.Time `json:"ends_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Rule is one predicate of an automatic collection. Value is always the
// string form; the server parses it against the field's type at evaluation
// time.
type Rule struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

// Product is a catalog product.
type Product struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Brand         string           `json:"brand,omitempty"`
	Category      string           `json:"category,omitempty"`
	Tags          []string         `json:"tags,omitempty"`
	Price         decimal.Decimal  `json:"price"`
	OriginalPrice *decimal.Decimal `json:"original_price,omitempty"`
	Stock         int              `json:"stock"`
	SalesCount    int              `json:"sales_count"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// ResolveOptions selects the sort order and page of a resolved collection.
// Zero values fall back to the collection default sort and the server's
// paging defaults.
type ResolveOptions struct {
	Sort     string
	Page     int
	PageSize int
}

// CollectionPage is one resolved, ordered, paginated collection page.
type CollectionPage struct {
	ProductIDs []string `json:"products"`
	Page       int      `json:"page"`
	TotalPages int      `json:"pages"`
	Total      int      `json:"total"`
}
