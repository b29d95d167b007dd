// Package server exposes the storefront and admin JSON API over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rowanvale/shopshelf/internal/repository"
	"github.com/rowanvale/shopshelf/internal/service"
)

const defaultMaxJSONBodyBytes = 1 << 20

var errJSONBodyTooLarge = errors.New("json request body too large")

type HTTPServer struct {
	service          Service
	maxJSONBodyBytes int64
}

// HTTPOption configures optional HTTP handler parameters.
type HTTPOption func(*HTTPServer)

// WithMaxJSONBodySize overrides the request body size limit in bytes.
func WithMaxJSONBodySize(limit int64) HTTPOption {
	return func(s *HTTPServer) {
		if limit > 0 {
			s.maxJSONBodyBytes = limit
		}
	}
}

func NewHTTPHandler(svc Service) http.Handler {
	return NewHTTPHandlerWithOptions(svc, nil)
}

// NewHTTPHandlerWithOptions builds the API handler. metricsHandler, when
// non-nil, is mounted at GET /metrics.
func NewHTTPHandlerWithOptions(svc Service, metricsHandler http.Handler, opts ...HTTPOption) http.Handler {
	if svc == nil {
		panic("service is nil")
	}

	server := &HTTPServer{
		service:          svc,
		maxJSONBodyBytes: defaultMaxJSONBodyBytes,
	}
	for _, o := range opts {
		o(server)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/collections", server.handleCreateCollection)
	mux.HandleFunc("GET /v1/collections", server.handleListCollections)
	mux.HandleFunc("GET /v1/collections/{id}", server.handleGetCollection)
	mux.HandleFunc("PUT /v1/collections/{id}", server.handleUpdateCollection)
	mux.HandleFunc("DELETE /v1/collections/{id}", server.handleDeleteCollection)
	mux.HandleFunc("GET /v1/collections/{id}/products", server.handleResolveCollection)
	mux.HandleFunc("POST /v1/collections/{id}/products", server.handleAddMember)
	mux.HandleFunc("DELETE /v1/collections/{id}/products/{productID}", server.handleRemoveMember)
	mux.HandleFunc("GET /v1/collections/{id}/members", server.handleListMembers)
	mux.HandleFunc("POST /v1/products", server.handleCreateProduct)
	mux.HandleFunc("GET /v1/products", server.handleListProducts)
	mux.HandleFunc("GET /v1/products/{id}", server.handleGetProduct)
	mux.HandleFunc("PUT /v1/products/{id}", server.handleUpdateProduct)
	mux.HandleFunc("DELETE /v1/products/{id}", server.handleDeleteProduct)
	mux.HandleFunc("GET /healthz", server.handleHealthz)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	return mux
}

// handleResolveCollection serves the storefront page for one collection.
// sort, page and pageSize come from the query string; sort falls back to the
// collection default, paging to the service defaults.
func (s *HTTPServer) handleResolveCollection(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "collection id is required")
		return
	}

	query := r.URL.Query()
	page, err := parsePositiveIntParam(query.Get("page"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid page")
		return
	}
	pageSize, err := parsePositiveIntParam(query.Get("pageSize"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid pageSize")
		return
	}

	result, err := s.service.ResolvePage(r.Context(), id, query.Get("sort"), page, pageSize)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	var collection repository.Collection
	if err := s.decodeJSONBody(w, r, &collection); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	created, err := s.service.CreateCollection(r.Context(), collection)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (s *HTTPServer) handleListCollections(w http.ResponseWriter, r *http.Request) {
	collections, err := s.service.ListCollections(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, collections)
}

func (s *HTTPServer) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "collection id is required")
		return
	}

	collection, err := s.service.GetCollection(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, collection)
}

func (s *HTTPServer) handleUpdateCollection(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "collection id is required")
		return
	}

	var collection repository.Collection
	if err := s.decodeJSONBody(w, r, &collection); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	if strings.TrimSpace(collection.ID) != "" && collection.ID != id {
		writeJSONError(w, http.StatusBadRequest, "path id and body id must match")
		return
	}
	collection.ID = id

	updated, err := s.service.UpdateCollection(r.Context(), collection)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (s *HTTPServer) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "collection id is required")
		return
	}

	if err := s.service.DeleteCollection(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleListMembers(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "collection id is required")
		return
	}

	members, err := s.service.GetCollectionMembers(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string][]string{"members": members})
}

func (s *HTTPServer) handleAddMember(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "collection id is required")
		return
	}

	var request struct {
		ProductID string `json:"product_id"`
	}
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}
	if strings.TrimSpace(request.ProductID) == "" {
		writeJSONError(w, http.StatusBadRequest, "product_id is required")
		return
	}

	if err := s.service.AddCollectionMember(r.Context(), id, request.ProductID); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	productID := strings.TrimSpace(r.PathValue("productID"))
	if id == "" || productID == "" {
		writeJSONError(w, http.StatusBadRequest, "collection id and product id are required")
		return
	}

	if err := s.service.RemoveCollectionMember(r.Context(), id, productID); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var product repository.Product
	if err := s.decodeJSONBody(w, r, &product); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	created, err := s.service.CreateProduct(r.Context(), product)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (s *HTTPServer) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.service.ListProducts(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, products)
}

func (s *HTTPServer) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "product id is required")
		return
	}

	product, err := s.service.GetProduct(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, product)
}

func (s *HTTPServer) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "product id is required")
		return
	}

	var product repository.Product
	if err := s.decodeJSONBody(w, r, &product); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	if strings.TrimSpace(product.ID) != "" && product.ID != id {
		writeJSONError(w, http.StatusBadRequest, "path id and body id must match")
		return
	}
	product.ID = id

	updated, err := s.service.UpdateProduct(r.Context(), product)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (s *HTTPServer) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "product id is required")
		return
	}

	if err := s.service.DeleteProduct(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parsePositiveIntParam parses an optional positive integer query parameter.
// Empty means unset and is reported as zero.
func parsePositiveIntParam(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 1 {
		return 0, errors.New("invalid positive integer")
	}

	return parsed, nil
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidRules),
		errors.Is(err, service.ErrInvalidSortKey),
		errors.Is(err, service.ErrInvalidCollection),
		errors.Is(err, service.ErrInvalidProduct):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrCollectionNotFound),
		errors.Is(err, service.ErrProductNotFound),
		errors.Is(err, service.ErrMembershipNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrCollectionAutomatic):
		writeJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.Canceled):
		writeJSONError(w, http.StatusRequestTimeout, "request canceled")
	default:
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSONDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errJSONBodyTooLarge) {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *HTTPServer) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return io.EOF
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxJSONBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return normalizeJSONDecodeError(err)
	}

	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("request body must contain a single JSON object")
		}
		return normalizeJSONDecodeError(err)
	}

	return nil
}

func normalizeJSONDecodeError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return errJSONBodyTooLarge
	}
	return err
}
