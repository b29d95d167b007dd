package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rowanvale/shopshelf/internal/core"
	"github.com/rowanvale/shopshelf/internal/repository"
	"github.com/rowanvale/shopshelf/internal/service"
)

// stubService records the last call and returns canned values per method.
type stubService struct {
	resolvePage     core.Page
	resolveErr      error
	gotCollectionID string
	gotSort         string
	gotPage         int
	gotPageSize     int

	collection    repository.Collection
	collectionErr error
	collections   []repository.Collection
	members       []string
	memberErr     error

	product    repository.Product
	productErr error
	products   []repository.Product
	deleteErr  error
}

func (s *stubService) ResolvePage(_ context.Context, collectionID, sortKey string, page, pageSize int) (core.Page, error) {
	s.gotCollectionID = collectionID
	s.gotSort = sortKey
	s.gotPage = page
	s.gotPageSize = pageSize
	return s.resolvePage, s.resolveErr
}

func (s *stubService) CreateCollection(_ context.Context, c repository.Collection) (repository.Collection, error) {
	if s.collectionErr != nil {
		return repository.Collection{}, s.collectionErr
	}
	return c, nil
}

func (s *stubService) UpdateCollection(_ context.Context, c repository.Collection) (repository.Collection, error) {
	if s.collectionErr != nil {
		return repository.Collection{}, s.collectionErr
	}
	return c, nil
}

func (s *stubService) GetCollection(_ context.Context, id string) (repository.Collection, error) {
	s.gotCollectionID = id
	return s.collection, s.collectionErr
}

func (s *stubService) GetCollectionMembers(_ context.Context, id string) ([]string, error) {
	s.gotCollectionID = id
	return s.members, s.memberErr
}

func (s *stubService) ListCollections(_ context.Context) ([]repository.Collection, error) {
	return s.collections, s.collectionErr
}

func (s *stubService) DeleteCollection(_ context.Context, id string) error {
	s.gotCollectionID = id
	return s.collectionErr
}

func (s *stubService) AddCollectionMember(_ context.Context, collectionID, productID string) error {
	s.gotCollectionID = collectionID
	return s.memberErr
}

func (s *stubService) RemoveCollectionMember(_ context.Context, collectionID, productID string) error {
	s.gotCollectionID = collectionID
	return s.memberErr
}

func (s *stubService) CreateProduct(_ context.Context, p repository.Product) (repository.Product, error) {
	if s.productErr != nil {
		return repository.Product{}, s.productErr
	}
	return p, nil
}

func (s *stubService) UpdateProduct(_ context.Context, p repository.Product) (repository.Product, error) {
	if s.productErr != nil {
		return repository.Product{}, s.productErr
	}
	return p, nil
}

func (s *stubService) GetProduct(_ context.Context, id string) (repository.Product, error) {
	return s.product, s.productErr
}

func (s *stubService) ListProducts(_ context.Context) ([]repository.Product, error) {
	return s.products, s.productErr
}

func (s *stubService) DeleteProduct(_ context.Context, id string) error {
	return s.deleteErr
}

func doRequest(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestResolveCollectionRoute(t *testing.T) {
	stub := &stubService{
		resolvePage: core.Page{
			ProductIDs: []string{"p2", "p1"},
			Page:       1,
			TotalPages: 1,
			Total:      2,
		},
	}
	handler := NewHTTPHandler(stub)

	rec := doRequest(t, handler, http.MethodGet, "/v1/collections/c1/products?sort=price-asc&page=2&pageSize=12", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	if stub.gotCollectionID != "c1" || stub.gotSort != "price-asc" || stub.gotPage != 2 || stub.gotPageSize != 12 {
		t.Fatalf("service called with (%q, %q, %d, %d)", stub.gotCollectionID, stub.gotSort, stub.gotPage, stub.gotPageSize)
	}

	var response struct {
		Products []string `json:"products"`
		Page     int      `json:"page"`
		Pages    int      `json:"pages"`
		Total    int      `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(response.Products) != 2 || response.Total != 2 || response.Pages != 1 {
		t.Fatalf("response = %+v", response)
	}
}

func TestResolveCollectionOmittedParamsDefaultToZero(t *testing.T) {
	stub := &stubService{}
	handler := NewHTTPHandler(stub)

	rec := doRequest(t, handler, http.MethodGet, "/v1/collections/c1/products", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if stub.gotPage != 0 || stub.gotPageSize != 0 || stub.gotSort != "" {
		t.Fatalf("service called with (%q, %d, %d), want zero values", stub.gotSort, stub.gotPage, stub.gotPageSize)
	}
}

func TestResolveCollectionBadParams(t *testing.T) {
	handler := NewHTTPHandler(&stubService{})

	for _, target := range []string{
		"/v1/collections/c1/products?page=zero",
		"/v1/collections/c1/products?page=-1",
		"/v1/collections/c1/products?pageSize=huge",
		"/v1/collections/c1/products?pageSize=0",
	} {
		rec := doRequest(t, handler, http.MethodGet, target, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("GET %s status = %d, want 400", target, rec.Code)
		}
	}
}

func TestServiceErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"not found", service.ErrCollectionNotFound, http.StatusNotFound},
		{"invalid sort", service.ErrInvalidSortKey, http.StatusBadRequest},
		{"invalid rules", service.ErrInvalidRules, http.StatusBadRequest},
		{"canceled", context.Canceled, http.StatusRequestTimeout},
		{"internal", context.DeadlineExceeded, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHTTPHandler(&stubService{resolveErr: tt.err})
			rec := doRequest(t, handler, http.MethodGet, "/v1/collections/c1/products", "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestAddMemberRoute(t *testing.T) {
	stub := &stubService{}
	handler := NewHTTPHandler(stub)

	rec := doRequest(t, handler, http.MethodPost, "/v1/collections/c1/products", `{"product_id":"p9"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if stub.gotCollectionID != "c1" {
		t.Fatalf("collection id = %q, want c1", stub.gotCollectionID)
	}
}

func TestAddMemberMissingProductID(t *testing.T) {
	handler := NewHTTPHandler(&stubService{})

	rec := doRequest(t, handler, http.MethodPost, "/v1/collections/c1/products", `{"product_id":" "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAddMemberAutomaticConflict(t *testing.T) {
	handler := NewHTTPHandler(&stubService{memberErr: service.ErrCollectionAutomatic})

	rec := doRequest(t, handler, http.MethodPost, "/v1/collections/c1/products", `{"product_id":"p9"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestRemoveMemberRoute(t *testing.T) {
	stub := &stubService{}
	handler := NewHTTPHandler(stub)

	rec := doRequest(t, handler, http.MethodDelete, "/v1/collections/c1/products/p2", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	handler = NewHTTPHandler(&stubService{memberErr: service.ErrMembershipNotFound})
	rec = doRequest(t, handler, http.MethodDelete, "/v1/collections/c1/products/p2", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d for absent membership, want 404", rec.Code)
	}
}

func TestCreateCollectionRoute(t *testing.T) {
	handler := NewHTTPHandler(&stubService{})

	body := `{"title":"Sale","type":"automatic","match_policy":"all","rules":[{"field":"tag","operator":"equals","value":"sale"}]}`
	rec := doRequest(t, handler, http.MethodPost, "/v1/collections", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateCollectionInvalidBody(t *testing.T) {
	handler := NewHTTPHandler(&stubService{})

	rec := doRequest(t, handler, http.MethodPost, "/v1/collections", `{"title":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestUpdateCollectionIDMismatch(t *testing.T) {
	handler := NewHTTPHandler(&stubService{})

	rec := doRequest(t, handler, http.MethodPut, "/v1/collections/c1", `{"id":"c2","title":"Sale","type":"manual"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestBodySizeLimit(t *testing.T) {
	handler := NewHTTPHandlerWithOptions(&stubService{}, nil, WithMaxJSONBodySize(64))

	body := `{"title":"` + strings.Repeat("x", 256) + `"}`
	rec := doRequest(t, handler, http.MethodPost, "/v1/collections", body)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestProductRoutes(t *testing.T) {
	stub := &stubService{
		product: repository.Product{ID: "p1", Name: "Boots"},
	}
	handler := NewHTTPHandler(stub)

	rec := doRequest(t, handler, http.MethodPost, "/v1/products", `{"id":"p1","name":"Boots","price":"10.00"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, handler, http.MethodGet, "/v1/products/p1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodDelete, "/v1/products/p1", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", rec.Code)
	}

	handler = NewHTTPHandler(&stubService{productErr: service.ErrProductNotFound})
	rec = doRequest(t, handler, http.MethodGet, "/v1/products/ghost", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing product status = %d, want 404", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	handler := NewHTTPHandler(&stubService{})

	rec := doRequest(t, handler, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestMembersRoute(t *testing.T) {
	stub := &stubService{members: []string{"p2", "p1"}}
	handler := NewHTTPHandler(stub)

	rec := doRequest(t, handler, http.MethodGet, "/v1/collections/c1/members", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var response struct {
		Members []string `json:"members"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(response.Members) != 2 || response.Members[0] != "p2" {
		t.Fatalf("members = %v, want [p2 p1]", response.Members)
	}
}
