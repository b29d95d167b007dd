// Package repository provides PostgreSQL-backed persistence for the product
// catalog, collection definitions, manual membership lists, API keys, and
// admin sessions. Catalog and collection mutations emit LISTEN/NOTIFY
// signals so the resolution layer can invalidate its caches without polling.
package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

const (
	catalogNotifyChannel    = "catalog_events"
	collectionNotifyChannel = "collection_events"
)

// Product is the repository-level representation of a products row.
type Product struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Brand         string           `json:"brand,omitempty"`
	Category      string           `json:"category,omitempty"`
	Tags          []string         `json:"tags"`
	Price         decimal.Decimal  `json:"price"`
	OriginalPrice *decimal.Decimal `json:"original_price,omitempty"`
	Stock         int              `json:"stock"`
	SalesCount    int              `json:"sales_count"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Collection is the repository-level representation of a collections row.
// Rules holds the raw rule list JSON; the service layer parses it into the
// engine's types.
type Collection struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Type        string          `json:"type"`
	MatchPolicy string          `json:"match_policy"`
	Rules       json.RawMessage `json:"rules"`
	DefaultSort string          `json:"default_sort"`
	Visible     bool            `json:"visible"`
	StartsAt    *time.Time      `json:"starts_at,omitempty"`
	EndsAt      *time.Time      `json:"ends_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// APIKeyMeta contains non-sensitive metadata for an API key.
type APIKeyMeta struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// AdminUser represents an administrator account.
type AdminUser struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// AdminSession represents an authenticated admin portal session.
type AdminSession struct {
	IDHash      string    `json:"-"`
	AdminUserID string    `json:"admin_user_id"`
	CSRFToken   string    `json:"csrf_token"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// PostgresRepository implements catalog and collection persistence backed by
// a pgxpool connection pool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const productColumns = `id, name, brand, category, tags, price, original_price, stock, sales_count, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Brand,
		&p.Category,
		&p.Tags,
		&p.Price,
		&p.OriginalPrice,
		&p.Stock,
		&p.SalesCount,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, err
}

// CreateProduct inserts a product row and notifies catalog listeners in the
// same transaction.
func (r *PostgresRepository) CreateProduct(ctx context.Context, p Product) (Product, error) {
	if strings.TrimSpace(p.ID) == "" {
		p.ID = uuid.NewString()
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Product{}, fmt.Errorf("begin create product tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := scanProduct(tx.QueryRow(ctx, `
		INSERT INTO products (id, name, brand, category, tags, price, original_price, stock, sales_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+productColumns,
		p.ID, p.Name, p.Brand, p.Category, tagsOrEmpty(p.Tags), p.Price, p.OriginalPrice, p.Stock, p.SalesCount,
	))
	if err != nil {
		return Product{}, fmt.Errorf("create product: %w", err)
	}

	if err := notify(ctx, tx, catalogNotifyChannel, "created", created.ID); err != nil {
		return Product{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Product{}, fmt.Errorf("commit create product tx: %w", err)
	}

	return created, nil
}

// UpdateProduct updates a product row by id and notifies catalog listeners.
// Returns pgx.ErrNoRows (wrapped) if the product does not exist.
func (r *PostgresRepository) UpdateProduct(ctx context.Context, p Product) (Product, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Product{}, fmt.Errorf("begin update product tx: %w", err)
	}
	defer tx.Rollback(ctx)

	updated, err := scanProduct(tx.QueryRow(ctx, `
		UPDATE products
		SET name = $2,
		    brand = $3,
		    category = $4,
		    tags = $5,
		    price = $6,
		    original_price = $7,
		    stock = $8,
		    sales_count = $9,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING `+productColumns,
		p.ID, p.Name, p.Brand, p.Category, tagsOrEmpty(p.Tags), p.Price, p.OriginalPrice, p.Stock, p.SalesCount,
	))
	if err != nil {
		return Product{}, fmt.Errorf("update product: %w", err)
	}

	if err := notify(ctx, tx, catalogNotifyChannel, "updated", updated.ID); err != nil {
		return Product{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Product{}, fmt.Errorf("commit update product tx: %w", err)
	}

	return updated, nil
}

// GetProduct retrieves a single product by id.
func (r *PostgresRepository) GetProduct(ctx context.Context, id string) (Product, error) {
	p, err := scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		return Product{}, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// ListProducts returns the full catalog ordered by id; the catalog store
// turns this into an immutable snapshot.
func (r *PostgresRepository) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := make([]Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list products rows: %w", err)
	}

	return products, nil
}

// DeleteProduct removes a product and its manual memberships, then notifies
// catalog listeners. Returns pgx.ErrNoRows (wrapped) if absent.
func (r *PostgresRepository) DeleteProduct(ctx context.Context, id string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete product tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete product: %w", pgx.ErrNoRows)
	}

	if err := notify(ctx, tx, catalogNotifyChannel, "deleted", id); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete product tx: %w", err)
	}

	return nil
}

const collectionColumns = `id, title, collection_type, match_policy, rules, default_sort, visible, starts_at, ends_at, created_at, updated_at`

func scanCollection(row pgx.Row) (Collection, error) {
	var c Collection
	err := row.Scan(
		&c.ID,
		&c.Title,
		&c.Type,
		&c.MatchPolicy,
		&c.Rules,
		&c.DefaultSort,
		&c.Visible,
		&c.StartsAt,
		&c.EndsAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	return c, err
}

// CreateCollection inserts a collection row.
func (r *PostgresRepository) CreateCollection(ctx context.Context, c Collection) (Collection, error) {
	if strings.TrimSpace(c.ID) == "" {
		c.ID = uuid.NewString()
	}

	created, err := scanCollection(r.pool.QueryRow(ctx, `
		INSERT INTO collections (id, title, collection_type, match_policy, rules, default_sort, visible, starts_at, ends_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+collectionColumns,
		c.ID, c.Title, c.Type, c.MatchPolicy, ensureJSON(c.Rules, "[]"), c.DefaultSort, c.Visible, c.StartsAt, c.EndsAt,
	))
	if err != nil {
		return Collection{}, fmt.Errorf("create collection: %w", err)
	}

	return created, nil
}

// UpdateCollection updates a collection's definition and notifies collection
// listeners so other instances drop their cached pages. Returns
// pgx.ErrNoRows (wrapped) if the collection does not exist.
func (r *PostgresRepository) UpdateCollection(ctx context.Context, c Collection) (Collection, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Collection{}, fmt.Errorf("begin update collection tx: %w", err)
	}
	defer tx.Rollback(ctx)

	updated, err := scanCollection(tx.QueryRow(ctx, `
		UPDATE collections
		SET title = $2,
		    collection_type = $3,
		    match_policy = $4,
		    rules = $5,
		    default_sort = $6,
		    visible = $7,
		    starts_at = $8,
		    ends_at = $9,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING `+collectionColumns,
		c.ID, c.Title, c.Type, c.MatchPolicy, ensureJSON(c.Rules, "[]"), c.DefaultSort, c.Visible, c.StartsAt, c.EndsAt,
	))
	if err != nil {
		return Collection{}, fmt.Errorf("update collection: %w", err)
	}

	if err := notify(ctx, tx, collectionNotifyChannel, "updated", updated.ID); err != nil {
		return Collection{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Collection{}, fmt.Errorf("commit update collection tx: %w", err)
	}

	return updated, nil
}

// GetCollection retrieves a collection by id.
func (r *PostgresRepository) GetCollection(ctx context.Context, id string) (Collection, error) {
	c, err := scanCollection(r.pool.QueryRow(ctx, `SELECT `+collectionColumns+` FROM collections WHERE id = $1`, id))
	if err != nil {
		return Collection{}, fmt.Errorf("get collection: %w", err)
	}
	return c, nil
}

// ListCollections returns all collections ordered by title.
func (r *PostgresRepository) ListCollections(ctx context.Context) ([]Collection, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+collectionColumns+` FROM collections ORDER BY title, id`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	collections := make([]Collection, 0)
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		collections = append(collections, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list collections rows: %w", err)
	}

	return collections, nil
}

// DeleteCollection removes a collection and its membership list.
func (r *PostgresRepository) DeleteCollection(ctx context.Context, id string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete collection tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM collections WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete collection: %w", pgx.ErrNoRows)
	}

	if err := notify(ctx, tx, collectionNotifyChannel, "deleted", id); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete collection tx: %w", err)
	}

	return nil
}

// ListCollectionMembers returns the stored manual membership in display
// order.
func (r *PostgresRepository) ListCollectionMembers(ctx context.Context, collectionID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT product_id
		FROM collection_products
		WHERE collection_id = $1
		ORDER BY position
	`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("list collection members: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan collection member: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list collection members rows: %w", err)
	}

	return ids, nil
}

// AddCollectionMember appends a product to the end of a manual membership
// list. Adding an id that is already a member is a no-op; the list never
// holds duplicates.
func (r *PostgresRepository) AddCollectionMember(ctx context.Context, collectionID, productID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin add member tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO collection_products (collection_id, product_id, position)
		SELECT $1, $2, COALESCE(MAX(position), 0) + 1
		FROM collection_products
		WHERE collection_id = $1
		ON CONFLICT (collection_id, product_id) DO NOTHING
	`, collectionID, productID)
	if err != nil {
		return fmt.Errorf("add collection member: %w", err)
	}

	if err := notify(ctx, tx, collectionNotifyChannel, "membership", collectionID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit add member tx: %w", err)
	}

	return nil
}

// RemoveCollectionMember deletes one membership entry. Returns pgx.ErrNoRows
// (wrapped) if the product was not a member.
func (r *PostgresRepository) RemoveCollectionMember(ctx context.Context, collectionID, productID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin remove member tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		DELETE FROM collection_products
		WHERE collection_id = $1 AND product_id = $2
	`, collectionID, productID)
	if err != nil {
		return fmt.Errorf("remove collection member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("remove collection member: %w", pgx.ErrNoRows)
	}

	if err := notify(ctx, tx, collectionNotifyChannel, "membership", collectionID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit remove member tx: %w", err)
	}

	return nil
}

// ValidateAPIKey returns the stored hash for a non-revoked key ID. Callers
// perform the hash comparison outside this package.
func (r *PostgresRepository) ValidateAPIKey(ctx context.Context, id string) (string, error) {
	var keyHash string
	if err := r.pool.QueryRow(ctx, `
		SELECT key_hash
		FROM api_keys
		WHERE id = $1
		  AND revoked_at IS NULL
	`, id).Scan(&keyHash); err != nil {
		return "", fmt.Errorf("validate api key: %w", err)
	}

	return keyHash, nil
}

// CreateAPIKey generates a new API key, storing a bcrypt hash of the secret.
// The raw secret is returned exactly once and cannot be retrieved later.
func (r *PostgresRepository) CreateAPIKey(ctx context.Context, name string) (string, string, error) {
	keyID, err := generateRandomHex(16)
	if err != nil {
		return "", "", fmt.Errorf("generate key id: %w", err)
	}

	secret, err := generateRandomHex(32)
	if err != nil {
		return "", "", fmt.Errorf("generate secret: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("hash api key: %w", err)
	}

	if strings.TrimSpace(name) == "" {
		name = "api-key-" + keyID[:8]
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO api_keys (id, name, key_hash)
		VALUES ($1, $2, $3)
	`, keyID, name, string(hash))
	if err != nil {
		return "", "", fmt.Errorf("create api key: %w", err)
	}

	return keyID, secret, nil
}

// ListAPIKeys returns metadata for all non-revoked API keys.
func (r *PostgresRepository) ListAPIKeys(ctx context.Context) ([]APIKeyMeta, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, created_at
		FROM api_keys
		WHERE revoked_at IS NULL
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	keys := make([]APIKeyMeta, 0)
	for rows.Next() {
		var k APIKeyMeta
		if err := rows.Scan(&k.ID, &k.Name, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list api keys rows: %w", err)
	}

	return keys, nil
}

// RevokeAPIKey soft-deletes an API key.
func (r *PostgresRepository) RevokeAPIKey(ctx context.Context, keyID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE api_keys SET revoked_at = NOW()
		WHERE id = $1 AND revoked_at IS NULL
	`, keyID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("revoke api key: %w", pgx.ErrNoRows)
	}
	return nil
}

// CreateAdminUser inserts a new admin user.
func (r *PostgresRepository) CreateAdminUser(ctx context.Context, username, passwordHash string) (AdminUser, error) {
	var u AdminUser
	err := r.pool.QueryRow(ctx, `
		INSERT INTO admin_users (id, username, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id, username, created_at
	`, uuid.NewString(), username, passwordHash).Scan(&u.ID, &u.Username, &u.CreatedAt)
	if err != nil {
		return AdminUser{}, fmt.Errorf("create admin user: %w", err)
	}
	return u, nil
}

// GetAdminUserByUsername retrieves an admin user by username.
func (r *PostgresRepository) GetAdminUserByUsername(ctx context.Context, username string) (AdminUser, error) {
	var u AdminUser
	err := r.pool.QueryRow(ctx, `
		SELECT id, username, password_hash, created_at
		FROM admin_users
		WHERE username = $1
	`, username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return AdminUser{}, fmt.Errorf("get admin user: %w", err)
	}
	return u, nil
}

// GetAdminUserByID retrieves an admin user by ID.
func (r *PostgresRepository) GetAdminUserByID(ctx context.Context, id string) (AdminUser, error) {
	var u AdminUser
	err := r.pool.QueryRow(ctx, `
		SELECT id, username, password_hash, created_at
		FROM admin_users
		WHERE id = $1
	`, id).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return AdminUser{}, fmt.Errorf("get admin user: %w", err)
	}
	return u, nil
}

// HasAdminUsers reports whether any admin user exists, driving the one-time
// setup flow.
func (r *PostgresRepository) HasAdminUsers(ctx context.Context) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM admin_users)`).Scan(&exists); err != nil {
		return false, fmt.Errorf("check admin users: %w", err)
	}
	return exists, nil
}

// CreateAdminSession stores a new session.
func (r *PostgresRepository) CreateAdminSession(ctx context.Context, session AdminSession) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO admin_sessions (id_hash, admin_user_id, csrf_token, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, session.IDHash, session.AdminUserID, session.CSRFToken, session.CreatedAt, session.ExpiresAt)
	if err != nil {
		return fmt.Errorf("create admin session: %w", err)
	}
	return nil
}

// GetAdminSession retrieves a non-expired session by its token hash.
func (r *PostgresRepository) GetAdminSession(ctx context.Context, idHash string) (AdminSession, error) {
	var s AdminSession
	err := r.pool.QueryRow(ctx, `
		SELECT id_hash, admin_user_id, csrf_token, created_at, expires_at
		FROM admin_sessions
		WHERE id_hash = $1 AND expires_at > NOW()
	`, idHash).Scan(&s.IDHash, &s.AdminUserID, &s.CSRFToken, &s.CreatedAt, &s.ExpiresAt)
	if err != nil {
		return AdminSession{}, fmt.Errorf("get admin session: %w", err)
	}
	return s, nil
}

// DeleteAdminSession removes a session.
func (r *PostgresRepository) DeleteAdminSession(ctx context.Context, idHash string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM admin_sessions WHERE id_hash = $1`, idHash); err != nil {
		return fmt.Errorf("delete admin session: %w", err)
	}
	return nil
}

// DeleteExpiredAdminSessions removes all sessions past their expiry.
func (r *PostgresRepository) DeleteExpiredAdminSessions(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM admin_sessions WHERE expires_at < NOW()`); err != nil {
		return fmt.Errorf("delete expired admin sessions: %w", err)
	}
	return nil
}

// SubscribeCatalogInvalidation signals whenever a product row changes.
func (r *PostgresRepository) SubscribeCatalogInvalidation(ctx context.Context) (<-chan struct{}, error) {
	return r.subscribe(ctx, catalogNotifyChannel)
}

// SubscribeCollectionInvalidation signals whenever a collection definition
// or membership list changes.
func (r *PostgresRepository) SubscribeCollectionInvalidation(ctx context.Context) (<-chan struct{}, error) {
	return r.subscribe(ctx, collectionNotifyChannel)
}

// subscribe returns a channel that receives a signal for every NOTIFY on the
// given Postgres channel. The returned channel is closed when the context is
// cancelled; transient connection loss is retried with a short backoff.
func (r *PostgresRepository) subscribe(ctx context.Context, channel string) (<-chan struct{}, error) {
	signals := make(chan struct{}, 1)

	go func() {
		defer close(signals)

		for {
			err := r.listen(ctx, channel, signals)
			if err == nil || ctx.Err() != nil {
				return
			}

			retryTimer := time.NewTimer(time.Second)
			select {
			case <-ctx.Done():
				retryTimer.Stop()
				return
			case <-retryTimer.C:
			}
		}
	}()

	return signals, nil
}

func (r *PostgresRepository) listen(ctx context.Context, channel string, signals chan<- struct{}) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, fmt.Sprintf("LISTEN %s", pgx.Identifier{channel}.Sanitize())); err != nil {
		return fmt.Errorf("listen on %q: %w", channel, err)
	}

	for {
		if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}

		select {
		case signals <- struct{}{}:
		default:
		}
	}
}

func notify(ctx context.Context, tx pgx.Tx, channel, eventType, id string) error {
	payload, err := json.Marshal(struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}{Type: eventType, ID: id})
	if err != nil {
		return fmt.Errorf("marshal notify payload: %w", err)
	}

	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, channel, string(payload)); err != nil {
		return fmt.Errorf("notify %s: %w", channel, err)
	}

	return nil
}

func ensureJSON(input json.RawMessage, fallback string) json.RawMessage {
	if len(input) == 0 {
		return json.RawMessage(fallback)
	}
	return input
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func generateRandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
