// Package http provides an HTTP client for the shopshelf collection
// resolution service.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	shopshelf "github.com/rowanvale/shopshelf/clients/go"
)

// Config holds configuration for the HTTP client.
type Config struct {
	// BaseURL is the base URL of the shopshelf server, e.g. "http://localhost:8080".
	BaseURL string
	// APIKey is the bearer token in "id.secret" format.
	APIKey string
	// HTTPClient is optional; defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Client implements shopshelf.CollectionManager, shopshelf.ProductManager,
// and shopshelf.Resolver over HTTP.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewHTTPClient returns a new HTTP client for the shopshelf service.
func NewHTTPClient(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{cfg: cfg, httpClient: hc}
}

// APIError is returned when the server responds with an HTTP error status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("shopshelf: HTTP %d: %s", e.StatusCode, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("shopshelf: marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("shopshelf: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("shopshelf: http: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}
	return resp, nil
}

// decodeAPIError extracts the server's {"error": "..."} payload, falling
// back to the raw body when it is not JSON.
func decodeAPIError(resp *http.Response) *APIError {
	raw, _ := io.ReadAll(resp.Body)
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: payload.Error}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
}

func decodeInto[T any](resp *http.Response) (T, error) {
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("shopshelf: decode response: %w", err)
	}
	return out, nil
}

func (c *Client) discard(resp *http.Response) error {
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// -- CollectionManager --------------------------------------------------------

func (c *Client) CreateCollection(ctx context.Context, collection shopshelf.Collection) (shopshelf.Collection, error) {
	resp, err := c.do(ctx, http.MethodPost, "/v1/collections", collection)
	if err != nil {
		return shopshelf.Collection{}, err
	}
	return decodeInto[shopshelf.Collection](resp)
}

func (c *Client) GetCollection(ctx context.Context, id string) (shopshelf.Collection, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/collections/"+url.PathEscape(id), nil)
	if err != nil {
		return shopshelf.Collection{}, err
	}
	return decodeInto[shopshelf.Collection](resp)
}

func (c *Client) ListCollections(ctx context.Context) ([]shopshelf.Collection, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/collections", nil)
	if err != nil {
		return nil, err
	}
	return decodeInto[[]shopshelf.Collection](resp)
}

func (c *Client) UpdateCollection(ctx context.Context, collection shopshelf.Collection) (shopshelf.Collection, error) {
	resp, err := c.do(ctx, http.MethodPut, "/v1/collections/"+url.PathEscape(collection.ID), collection)
	if err != nil {
		return shopshelf.Collection{}, err
	}
	return decodeInto[shopshelf.Collection](resp)
}

func (c *Client) DeleteCollection(ctx context.Context, id string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/v1/collections/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	return c.discard(resp)
}

func (c *Client) ListCollectionMembers(ctx context.Context, collectionID string) ([]string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/collections/"+url.PathEscape(collectionID)+"/members", nil)
	if err != nil {
		return nil, err
	}
	out, err := decodeInto[struct {
		Members []string `json:"members"`
	}](resp)
	if err != nil {
		return nil, err
	}
	return out.Members, nil
}

func (c *Client) AddCollectionMember(ctx context.Context, collectionID, productID string) error {
	body := map[string]string{"product_id": productID}
	resp, err := c.do(ctx, http.MethodPost, "/v1/collections/"+url.PathEscape(collectionID)+"/products", body)
	if err != nil {
		return err
	}
	return c.discard(resp)
}

func (c *Client) RemoveCollectionMember(ctx context.Context, collectionID, productID string) error {
	path := "/v1/collections/" + url.PathEscape(collectionID) + "/products/" + url.PathEscape(productID)
	resp, err := c.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	return c.discard(resp)
}

// -- ProductManager -----------------------------------------------------------

func (c *Client) CreateProduct(ctx context.Context, product shopshelf.Product) (shopshelf.Product, error) {
	resp, err := c.do(ctx, http.MethodPost, "/v1/products", product)
	if err != nil {
		return shopshelf.Product{}, err
	}
	return decodeInto[shopshelf.Product](resp)
}

func (c *Client) GetProduct(ctx context.Context, id string) (shopshelf.Product, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/products/"+url.PathEscape(id), nil)
	if err != nil {
		return shopshelf.Product{}, err
	}
	return decodeInto[shopshelf.Product](resp)
}

func (c *Client) ListProducts(ctx context.Context) ([]shopshelf.Product, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/products", nil)
	if err != nil {
		return nil, err
	}
	return decodeInto[[]shopshelf.Product](resp)
}

func (c *Client) UpdateProduct(ctx context.Context, product shopshelf.Product) (shopshelf.Product, error) {
	resp, err := c.do(ctx, http.MethodPut, "/v1/products/"+url.PathEscape(product.ID), product)
	if err != nil {
		return shopshelf.Product{}, err
	}
	return decodeInto[shopshelf.Product](resp)
}

func (c *Client) DeleteProduct(ctx context.Context, id string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/v1/products/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	return c.discard(resp)
}

// -- Resolver -----------------------------------------------------------------

// ResolveCollection fetches one resolved, ordered storefront page.
func (c *Client) ResolveCollection(ctx context.Context, collectionID string, opts shopshelf.ResolveOptions) (shopshelf.CollectionPage, error) {
	query := url.Values{}
	if opts.Sort != "" {
		query.Set("sort", opts.Sort)
	}
	if opts.Page > 0 {
		query.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.PageSize > 0 {
		query.Set("pageSize", strconv.Itoa(opts.PageSize))
	}

	path := "/v1/collections/" + url.PathEscape(collectionID) + "/products"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return shopshelf.CollectionPage{}, err
	}
	return decodeInto[shopshelf.CollectionPage](resp)
}

var (
	_ shopshelf.CollectionManager = (*Client)(nil)
	_ shopshelf.ProductManager    = (*Client)(nil)
	_ shopshelf.Resolver          = (*Client)(nil)
)
