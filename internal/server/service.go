package server

import (
	"context"

	"github.com/rowanvale/shopshelf/internal/core"
	"github.com/rowanvale/shopshelf/internal/repository"
	"github.com/rowanvale/shopshelf/internal/service"
)

type Service interface {
	ResolvePage(ctx context.Context, collectionID, sortKey string, page, pageSize int) (core.Page, error)

	CreateCollection(ctx context.Context, c repository.Collection) (repository.Collection, error)
	UpdateCollection(ctx context.Context, c repository.Collection) (repository.Collection, error)
	GetCollection(ctx context.Context, id string) (repository.Collection, error)
	GetCollectionMembers(ctx context.Context, id string) ([]string, error)
	ListCollections(ctx context.Context) ([]repository.Collection, error)
	DeleteCollection(ctx context.Context, id string) error

	AddCollectionMember(ctx context.Context, collectionID, productID string) error
	RemoveCollectionMember(ctx context.Context, collectionID, productID string) error

	CreateProduct(ctx context.Context, p repository.Product) (repository.Product, error)
	UpdateProduct(ctx context.Context, p repository.Product) (repository.Product, error)
	GetProduct(ctx context.Context, id string) (repository.Product, error)
	ListProducts(ctx context.Context) ([]repository.Product, error)
	DeleteProduct(ctx context.Context, id string) error
}

var _ Service = (*service.Service)(nil)
